package run

import (
	"context"

	"github.com/lotas/tabharvest/internal/types"
)

// Fanout forwards progress to several indicators.
type Fanout []types.Progress

func (f Fanout) SetLoading(window types.WindowID, tick types.LoadingTick) {
	for _, p := range f {
		p.SetLoading(window, tick)
	}
}

func (f Fanout) SetSaving(window types.WindowID, saved int) {
	for _, p := range f {
		p.SetSaving(window, saved)
	}
}

func (f Fanout) SetFinished(window types.WindowID, saved int, hadErrors bool) {
	for _, p := range f {
		p.SetFinished(window, saved, hadErrors)
	}
}

type nopProgress struct{}

func (nopProgress) SetLoading(types.WindowID, types.LoadingTick) {}
func (nopProgress) SetSaving(types.WindowID, int)                {}
func (nopProgress) SetFinished(types.WindowID, int, bool)        {}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string, string) error { return nil }
