package badge

import (
	"testing"

	"github.com/lotas/tabharvest/internal/types"
)

func TestLoadingFine(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{0, "○"},
		{20, "◔"},
		{50, "◑"},
		{70, "◕"},
		{100, "●"},
		{150, "●"},
		{-5, "○"},
	}
	for _, tt := range tests {
		b := Loading(types.LoadingTick{Fine: true, Percent: tt.pct})
		if b.Text != tt.want || b.Color != ColorLoading {
			t.Errorf("Loading(%v%%) = %+v, want %s", tt.pct, b, tt.want)
		}
	}
}

func TestLoadingCoarseCycles(t *testing.T) {
	want := []string{"◷", "◶", "◵", "◴", "◷"}
	for phase, w := range want {
		if got := Loading(types.LoadingTick{Phase: phase}).Text; got != w {
			t.Errorf("phase %d = %s, want %s", phase, got, w)
		}
	}
}

func TestSaving(t *testing.T) {
	if _, ok := Saving(0); ok {
		t.Error("nothing saved should not render")
	}
	b, ok := Saving(3)
	if !ok || b.Text != "3" || b.Color != ColorSaving {
		t.Errorf("Saving(3) = %+v %v", b, ok)
	}
}

func TestFinishedColors(t *testing.T) {
	tests := []struct {
		saved     int
		hadErrors bool
		want      string
	}{
		{4, false, ColorFinished},
		{4, true, ColorFailed},
		{0, true, ColorFailed},
		{0, false, ColorEmpty},
	}
	for _, tt := range tests {
		if got := Finished(tt.saved, tt.hadErrors).Color; got != tt.want {
			t.Errorf("Finished(%d, %v) color = %s, want %s", tt.saved, tt.hadErrors, got, tt.want)
		}
	}
}
