// Package run drives a window's harvest from tab discovery to the final
// report.
package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lotas/tabharvest/internal/applog"
	"github.com/lotas/tabharvest/internal/badge"
	"github.com/lotas/tabharvest/internal/collect"
	"github.com/lotas/tabharvest/internal/config"
	"github.com/lotas/tabharvest/internal/dispatch"
	"github.com/lotas/tabharvest/internal/session"
	"github.com/lotas/tabharvest/internal/types"
)

var (
	// ErrBlocked rejects a start while the window already has a run.
	ErrBlocked = errors.New("window already has a run in progress")
	// ErrCancelled is returned by stages that observed a cancel request.
	ErrCancelled = collect.ErrCancelled
)

// OptionsSource provides the current configuration.
type OptionsSource interface {
	Options() config.Options
}

// Timing overrides the poller delays. Zero values keep the defaults.
type Timing struct {
	RoundInterval time.Duration
	SettleDelay   time.Duration
	Tick          time.Duration
}

// Deps wires the orchestrator to its collaborators. Progress, Notifier and
// OnFinish are optional.
type Deps struct {
	Tabs      types.TabProvider
	Downloads types.Downloader
	Paths     dispatch.PathMaker
	Options   OptionsSource
	Progress  types.Progress
	Notifier  types.Notifier
	Registry  *session.Registry
	Timing    Timing
	OnFinish  func(Report)
}

// Orchestrator runs harvests, one per window at a time.
type Orchestrator struct {
	tabs     types.TabProvider
	tracker  *dispatch.Tracker
	disp     *dispatch.Dispatcher
	opts     OptionsSource
	progress types.Progress
	notifier types.Notifier
	reg      *session.Registry
	timing   Timing
	onFinish func(Report)

	events chan types.DownloadEvent
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	subMu      sync.Mutex
	subscribed bool
}

// New creates an orchestrator and starts its event routing loop.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		tabs:     d.Tabs,
		tracker:  dispatch.NewTracker(d.Downloads),
		opts:     d.Options,
		progress: d.Progress,
		notifier: d.Notifier,
		reg:      d.Registry,
		timing:   d.Timing,
		onFinish: d.OnFinish,
		events:   make(chan types.DownloadEvent, 64),
		done:     make(chan struct{}),
	}
	if o.progress == nil {
		o.progress = nopProgress{}
	}
	if o.notifier == nil {
		o.notifier = nopNotifier{}
	}
	if o.reg == nil {
		o.reg = session.NewRegistry()
	}
	o.disp = &dispatch.Dispatcher{
		Paths:   d.Paths,
		Tracker: o.tracker,
		Settled: o.settle,
	}

	o.wg.Add(1)
	go o.route()
	return o
}

// Close stops the routing loop and waits for background work.
func (o *Orchestrator) Close() {
	o.once.Do(func() {
		close(o.done)
	})
	o.wg.Wait()
	o.subMu.Lock()
	if o.subscribed {
		o.tracker.Unsubscribe()
		o.subscribed = false
	}
	o.subMu.Unlock()
}

// IsSessionLive reports whether window has a run in progress.
func (o *Orchestrator) IsSessionLive(window types.WindowID) bool {
	return o.reg.IsBlocking(window) || o.reg.Exists(window)
}

// Toggle cancels a live run or starts a new one.
func (o *Orchestrator) Toggle(ctx context.Context, window types.WindowID) error {
	if o.IsSessionLive(window) {
		o.Cancel(ctx, window)
		return nil
	}
	return o.Start(ctx, window)
}

// Start runs a harvest for window. It returns once every download has been
// issued; completion is reported later through OnFinish. ErrBlocked means
// the window already has a run. Cancelling ctx before Start returns
// cancels the run.
func (o *Orchestrator) Start(ctx context.Context, window types.WindowID) error {
	if !o.reg.TryBlock(window) {
		applog.Info("run.blocked", "window", window)
		return ErrBlocked
	}

	opts := o.opts.Options()
	tabs, err := o.tabs.QueryTabs(ctx, window)
	if err != nil {
		o.reg.Unblock(window)
		return fmt.Errorf("query tabs of window %d: %w", window, err)
	}
	active, _ := collect.ActiveTab(tabs)

	s, only, err := o.reg.Create(window, active.ID, opts.Scope)
	if err != nil {
		o.reg.Unblock(window)
		return fmt.Errorf("create session: %w", err)
	}
	if only {
		o.listen()
	}
	applog.Info("run.start", "window", window, "tab", active.ID, "scope", opts.Scope, "tabs", len(tabs))

	// The caller giving up cancels the run like a second click would.
	stop := context.AfterFunc(ctx, func() { o.Cancel(context.WithoutCancel(ctx), window) })
	defer stop()
	o.loadingTick(s, types.LoadingTick{})

	err = o.run(s, tabs, opts)
	o.reg.Unblock(window)

	switch {
	case errors.Is(err, ErrCancelled) || s.Cancelled():
		applog.Info("run.cancelled", "window", window)
		o.tracker.CancelWindow(context.WithoutCancel(ctx), window)
		o.finish(s)
	case err != nil:
		applog.Error("run.failed", err, "window", window)
		o.tracker.CancelWindow(context.WithoutCancel(ctx), window)
		o.finish(s)
		return err
	default:
		o.downloadFinished(window)
	}
	return nil
}

// Cancel requests cancellation of window's run. Outside the collecting and
// dispatching phase the pending downloads are cancelled and the run
// finishes right away; otherwise the running Start observes the request.
// Repeated calls have no further effect.
func (o *Orchestrator) Cancel(ctx context.Context, window types.WindowID) {
	s, err := o.reg.Get(window)
	if err != nil {
		return
	}
	if !s.RequestCancel() {
		return
	}
	applog.Info("run.cancel", "window", window, "blocking", o.reg.IsBlocking(window))
	if o.reg.IsBlocking(window) {
		return
	}
	o.tracker.CancelWindow(ctx, window)
	o.finish(s)
}

func (o *Orchestrator) run(s *session.Session, tabs []types.Tab, opts config.Options) error {
	ctx := s.Context()

	selected := collect.SelectTabs(tabs, opts.Scope, opts.IncludeActive)
	applog.Info("run.tabs", "window", s.Window, "selected", len(selected))
	if len(selected) == 0 {
		return nil
	}

	poller := &collect.Poller{
		Tabs:            o.tabs,
		IgnoreDiscarded: opts.IgnoreDiscardedTabs,
		RoundInterval:   o.timing.RoundInterval,
		SettleDelay:     o.timing.SettleDelay,
		Tick:            o.timing.Tick,
		OnTick:          func(t types.LoadingTick) { o.loadingTick(s, t) },
	}
	ready, dropped, err := poller.Wait(ctx, selected)
	if dropped > 0 {
		s.Update(func(c *session.Counters) { c.TabsSkipped += dropped })
	}
	if err != nil {
		return err
	}

	results := o.execute(ctx, s, ready)
	if s.Cancelled() {
		return ErrCancelled
	}
	if len(results) == 0 {
		return nil
	}

	n, err := o.disp.Dispatch(ctx, s, results, dispatch.Plan{
		Rules:     opts.PathRules,
		BaseDir:   opts.DownloadBaseDir,
		Conflict:  opts.ConflictPolicy,
		Incognito: opts.RemoveEnded,
	})
	applog.Info("run.dispatched", "window", s.Window, "downloads", n)
	return err
}

// execute runs the extraction script on every ready tab at once and keeps
// the tabs that yielded new resources, in tab order.
func (o *Orchestrator) execute(ctx context.Context, s *session.Session, ready []types.Tab) []dispatch.TabResult {
	callCtx := context.WithoutCancel(ctx)
	slots := make([][]types.Resource, len(ready))

	var g errgroup.Group
	for i, tab := range ready {
		g.Go(func() error {
			res, err := o.tabs.ExecuteScript(callCtx, tab.ID)
			if err != nil {
				applog.Warn("run.script", "window", s.Window, "tab", tab.ID, "err", err)
				s.Update(func(c *session.Counters) { c.TabsError++ })
				return nil
			}
			s.Update(func(c *session.Counters) { c.TabsLoaded++ })
			if kept := collect.FilterResources(s, res); len(kept) > 0 {
				s.Update(func(c *session.Counters) { c.TabsEnded++ })
				slots[i] = kept
			}
			return nil
		})
	}
	g.Wait()

	var out []dispatch.TabResult
	for i, res := range slots {
		if res != nil {
			out = append(out, dispatch.TabResult{Tab: ready[i].ID, Resources: res})
		}
	}
	return out
}

func (o *Orchestrator) loadingTick(s *session.Session, tick types.LoadingTick) {
	if !tick.Fine {
		tick.Phase = s.NextLoadingStep(badge.CoarseSteps)
	}
	o.progress.SetLoading(s.Window, tick)
}

// route is the single consumer of download events.
func (o *Orchestrator) route() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case ev := <-o.events:
			tab, window, ok := o.tracker.Resolve(ev)
			if !ok {
				applog.Debug("download.untracked", "id", ev.ID)
				continue
			}
			o.settle(window, tab, ev)
		}
	}
}

// settle applies one download outcome to its window.
func (o *Orchestrator) settle(window types.WindowID, tab types.TabID, ev types.DownloadEvent) {
	s, err := o.reg.Get(window)
	if err != nil {
		return
	}
	applog.Info("download."+ev.Outcome.String(), "window", window, "tab", tab, "id", ev.ID, "err", ev.Err)

	if ev.Outcome == types.DownloadComplete {
		c := s.Update(func(c *session.Counters) { c.ImagesSaved++ })
		o.progress.SetSaving(window, c.ImagesSaved)
		if o.opts.Options().CloseTabAfterLastDownload && !o.tracker.HasTab(tab) {
			o.closeTab(tab)
		}
	} else {
		s.Update(func(c *session.Counters) { c.ImagesFailed++ })
	}
	o.downloadFinished(window)
}

func (o *Orchestrator) closeTab(tab types.TabID) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.tabs.CloseTab(context.Background(), tab); err != nil {
			applog.Error("run.close_tab", err, "tab", tab)
			return
		}
		applog.Info("run.close_tab", "tab", tab)
	}()
}

// downloadFinished finishes window once it is past dispatch, has nothing
// pending and is not being cancelled.
func (o *Orchestrator) downloadFinished(window types.WindowID) {
	if o.reg.IsBlocking(window) {
		return
	}
	s, err := o.reg.Get(window)
	if err != nil {
		return
	}
	if o.tracker.HasWindow(window) || s.Cancelled() {
		return
	}
	o.finish(s)
}

// finish reports the run, drops its pending downloads and session, and
// stops listening for events when no run is left.
func (o *Orchestrator) finish(s *session.Session) {
	if !s.MarkFinished() {
		return
	}
	r := NewReport(s, time.Now())
	applog.Info("run.finished", "window", r.Window, "outcome", r.Outcome,
		"saved", r.Counters.ImagesSaved, "failed", r.Counters.ImagesFailed,
		"paths_failed", r.Counters.PathsFailed, "tabs_error", r.Counters.TabsError)

	o.progress.SetFinished(r.Window, r.Counters.ImagesSaved, r.HadErrors())
	if o.opts.Options().NotifyOnFinish {
		if err := o.notifier.Notify(context.Background(), r.NotificationID(), r.Title, r.Body); err != nil {
			applog.Error("run.notify", err, "window", r.Window)
		}
	}

	o.tracker.RemoveWindow(s.Window)
	if o.reg.Delete(s.Window) {
		o.unlisten()
	}
	if o.onFinish != nil {
		o.onFinish(r)
	}
}

func (o *Orchestrator) listen() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if !o.subscribed {
		o.tracker.Subscribe(o.events)
		o.subscribed = true
		applog.Debug("run.listen")
	}
}

func (o *Orchestrator) unlisten() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if o.subscribed && o.reg.IsIdle() {
		o.tracker.Unsubscribe()
		o.subscribed = false
		applog.Debug("run.unlisten")
	}
}
