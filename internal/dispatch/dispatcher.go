package dispatch

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lotas/tabharvest/internal/applog"
	"github.com/lotas/tabharvest/internal/collect"
	"github.com/lotas/tabharvest/internal/session"
	"github.com/lotas/tabharvest/internal/types"
)

// TabResult is the filtered output of one tab.
type TabResult struct {
	Tab       types.TabID
	Resources []types.Resource
}

// PathMaker renders the download path of a resource.
type PathMaker interface {
	Path(ctx context.Context, res types.Resource, index int, rules []string, baseDir string) (string, error)
}

// Plan is the per-run part of the options the dispatcher needs.
type Plan struct {
	Rules     []string
	BaseDir   string
	Conflict  types.ConflictPolicy
	Incognito bool
}

// Dispatcher turns tab results into downloads.
type Dispatcher struct {
	Paths   PathMaker
	Tracker *Tracker

	// Settled receives downloads that finished before the tracker saw
	// their id.
	Settled func(window types.WindowID, tab types.TabID, ev types.DownloadEvent)
}

// Dispatch walks results in order, assigning a run-wide index starting at 1
// to every resource whose path renders. Paths are rendered one at a time;
// downloads are issued without waiting for each other and Dispatch returns
// once every issue call has settled. It reports how many downloads were
// created. A cancelled session stops the walk with collect.ErrCancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, s *session.Session, results []TabResult, plan Plan) (int, error) {
	// Cancellation is observed between resources only; calls in flight
	// run to completion.
	issueCtx := context.WithoutCancel(ctx)

	var (
		g       errgroup.Group
		created atomic.Int64
	)

	var stopErr error
	index := 1
walk:
	for _, r := range results {
		if s.Cancelled() {
			stopErr = collect.ErrCancelled
			break
		}
		for _, res := range r.Resources {
			if s.Cancelled() {
				stopErr = collect.ErrCancelled
				break walk
			}
			path, err := d.Paths.Path(issueCtx, res, index, plan.Rules, plan.BaseDir)
			if err != nil {
				applog.Warn("dispatch.path", "url", res.Src, "err", err)
				s.Update(func(c *session.Counters) { c.PathsFailed++ })
				continue
			}
			req := types.DownloadRequest{
				URL:       res.Src,
				Filename:  path,
				Conflict:  plan.Conflict,
				Incognito: plan.Incognito,
			}
			tab := r.Tab
			g.Go(func() error {
				_, early, err := d.Tracker.Start(issueCtx, req, tab, s.Window)
				if err != nil {
					applog.Error("dispatch.start", err, "window", s.Window, "tab", tab)
					s.Update(func(c *session.Counters) { c.ImagesFailed++ })
					return nil
				}
				created.Add(1)
				if early != nil && d.Settled != nil {
					d.Settled(s.Window, tab, *early)
				}
				return nil
			})
			index++
		}
	}

	g.Wait()
	return int(created.Load()), stopErr
}
