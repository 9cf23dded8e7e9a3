package collect

import (
	"context"
	"errors"
	"time"

	"github.com/lotas/tabharvest/internal/applog"
	"github.com/lotas/tabharvest/internal/types"
)

// ErrCancelled unwinds a run whose cancellation was requested.
var ErrCancelled = errors.New("run cancelled")

const (
	DefaultRoundInterval = 1000 * time.Millisecond
	DefaultSettleDelay   = 5000 * time.Millisecond
	defaultTick          = 250 * time.Millisecond
)

// TabSource is the part of a tab provider the poller needs.
type TabSource interface {
	GetTab(ctx context.Context, id types.TabID) (types.Tab, error)
	ReloadTab(ctx context.Context, id types.TabID, url string) (types.Tab, error)
}

// Poller brings tabs to the complete state.
type Poller struct {
	Tabs            TabSource
	IgnoreDiscarded bool

	// Zero durations fall back to the defaults.
	RoundInterval time.Duration
	SettleDelay   time.Duration
	Tick          time.Duration

	// OnTick is called while the poller sleeps.
	OnTick func(types.LoadingTick)
}

type pending struct {
	pos int
	tab types.Tab
}

// Wait polls until every tab is complete and returns them in input order.
// Discarded tabs are reloaded, or dropped when IgnoreDiscarded is set; tabs
// that fail to reload or refresh are dropped too. dropped counts both.
// A cancelled ctx ends the wait with ErrCancelled.
func (p *Poller) Wait(ctx context.Context, tabs []types.Tab) (ready []types.Tab, dropped int, err error) {
	done := make([]*types.Tab, len(tabs))
	waiting := make([]pending, len(tabs))
	for i, t := range tabs {
		waiting[i] = pending{pos: i, tab: t}
	}

	// Provider calls already started finish even if the run is cancelled.
	callCtx := context.WithoutCancel(ctx)

	sleepMore := false
	for round := 0; len(waiting) > 0; round++ {
		if round > 0 {
			if err := p.sleep(ctx, p.interval(), false); err != nil {
				return nil, dropped, err
			}
		}

		var next []pending
		for _, w := range waiting {
			if ctx.Err() != nil {
				return nil, dropped, ErrCancelled
			}
			tab := w.tab
			if tab.Discarded {
				if p.IgnoreDiscarded {
					applog.Debug("wait.discarded.skip", "tab", tab.ID)
					dropped++
					continue
				}
				reloaded, err := p.Tabs.ReloadTab(callCtx, tab.ID, tab.URL)
				if err != nil {
					applog.Error("wait.reload", err, "tab", tab.ID)
					dropped++
					continue
				}
				tab = reloaded
				sleepMore = true
			}
			if tab.Status == types.TabComplete {
				done[w.pos] = &tab
				continue
			}
			sleepMore = true
			fresh, err := p.Tabs.GetTab(callCtx, tab.ID)
			if err != nil {
				applog.Error("wait.get_tab", err, "tab", tab.ID)
				dropped++
				continue
			}
			next = append(next, pending{pos: w.pos, tab: fresh})
		}
		waiting = next
	}

	if sleepMore {
		if err := p.sleep(ctx, p.settle(), true); err != nil {
			return nil, dropped, err
		}
	}

	for _, t := range done {
		if t != nil {
			ready = append(ready, *t)
		}
	}
	return ready, dropped, nil
}

// sleep waits d, ticking progress and returning ErrCancelled as soon as ctx
// is done.
func (p *Poller) sleep(ctx context.Context, d time.Duration, fine bool) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(p.tick())
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ErrCancelled
		case <-timer.C:
			p.emit(fine, 100)
			return nil
		case <-ticker.C:
			pct := float64(time.Since(start)) / float64(d) * 100
			if pct > 100 {
				pct = 100
			}
			p.emit(fine, pct)
		}
	}
}

func (p *Poller) emit(fine bool, pct float64) {
	if p.OnTick == nil {
		return
	}
	if fine {
		p.OnTick(types.LoadingTick{Fine: true, Percent: pct})
		return
	}
	p.OnTick(types.LoadingTick{})
}

func (p *Poller) interval() time.Duration {
	if p.RoundInterval > 0 {
		return p.RoundInterval
	}
	return DefaultRoundInterval
}

func (p *Poller) settle() time.Duration {
	if p.SettleDelay > 0 {
		return p.SettleDelay
	}
	return DefaultSettleDelay
}

func (p *Poller) tick() time.Duration {
	if p.Tick > 0 {
		return p.Tick
	}
	return defaultTick
}
