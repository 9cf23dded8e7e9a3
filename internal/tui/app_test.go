package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lotas/tabharvest/internal/run"
	"github.com/lotas/tabharvest/internal/types"
)

// capture records what a Progress sends and applies it to a model.
type capture struct {
	model Model
}

func (c *capture) Send(msg tea.Msg) {
	next, _ := c.model.Update(msg)
	c.model = next.(Model)
}

func TestProgressDrivesModel(t *testing.T) {
	c := &capture{model: NewModel(8765, nil)}
	p := NewProgress(c)

	p.SetLoading(3, types.LoadingTick{Phase: 1})
	if got := c.model.windows[3]; got == nil || got.phase != phaseLoading {
		t.Fatalf("row = %+v", got)
	}
	if v := c.model.View(); !strings.Contains(v, "Window 3") || !strings.Contains(v, "loading tabs") {
		t.Errorf("view = %q", v)
	}

	p.SetLoading(3, types.LoadingTick{Fine: true, Percent: 50})
	if v := c.model.View(); !strings.Contains(v, "settling") {
		t.Errorf("view = %q", v)
	}

	p.SetSaving(3, 2)
	if r := c.model.windows[3]; r.phase != phaseSaving || r.saved != 2 {
		t.Errorf("row = %+v", r)
	}

	p.SetFinished(3, 2, true)
	if v := c.model.View(); !strings.Contains(v, "2 saved, with errors") {
		t.Errorf("view = %q", v)
	}

	p.Report(run.Report{Window: 3, Outcome: run.OutcomeCompleted, Body: "2 saved\n1 failed", Finished: time.Now()})
	if v := c.model.View(); !strings.Contains(v, "2 saved · 1 failed") {
		t.Errorf("view = %q", v)
	}
}

func TestClearFinished(t *testing.T) {
	c := &capture{model: NewModel(1, nil)}
	p := NewProgress(c)
	p.SetFinished(1, 0, false)
	p.SetSaving(2, 1)

	c.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if _, ok := c.model.windows[1]; ok {
		t.Error("finished window not cleared")
	}
	if _, ok := c.model.windows[2]; !ok {
		t.Error("running window cleared")
	}
}

func TestReportsCapped(t *testing.T) {
	c := &capture{model: NewModel(1, nil)}
	p := NewProgress(c)
	for i := 0; i < maxReports+3; i++ {
		p.Report(run.Report{Window: types.WindowID(i)})
	}
	if len(c.model.reports) != maxReports {
		t.Errorf("kept %d reports", len(c.model.reports))
	}
	if c.model.reports[0].Window != types.WindowID(maxReports+2) {
		t.Errorf("newest first: got window %d", c.model.reports[0].Window)
	}
}

func TestStatusTick(t *testing.T) {
	online := true
	m := NewModel(1, func() bool { return online })
	next, cmd := m.Update(statusTickMsg(time.Now()))
	if cmd == nil {
		t.Error("status tick should reschedule")
	}
	if v := next.(Model).View(); !strings.Contains(v, "extension connected") {
		t.Errorf("view = %q", v)
	}
}
