// Package dispatch issues downloads for a run and keeps track of which tab
// and window each pending download belongs to.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lotas/tabharvest/internal/applog"
	"github.com/lotas/tabharvest/internal/types"
)

type owner struct {
	tab    types.TabID
	window types.WindowID
}

// Tracker wraps a Downloader and remembers the owner of every pending
// download until its outcome is resolved.
type Tracker struct {
	dl types.Downloader

	mu       sync.Mutex
	pending  map[types.DownloadID]owner
	early    map[types.DownloadID]types.DownloadEvent
	starting int
}

// NewTracker returns a tracker for dl.
func NewTracker(dl types.Downloader) *Tracker {
	return &Tracker{
		dl:      dl,
		pending: make(map[types.DownloadID]owner),
		early:   make(map[types.DownloadID]types.DownloadEvent),
	}
}

// Start issues req on behalf of tab in window. A download can settle before
// its id is known here; in that case the settled event is returned and the
// download is not left pending.
func (t *Tracker) Start(ctx context.Context, req types.DownloadRequest, tab types.TabID, window types.WindowID) (types.DownloadID, *types.DownloadEvent, error) {
	t.mu.Lock()
	t.starting++
	t.mu.Unlock()

	id, err := t.dl.Download(ctx, req)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.starting--
	defer func() {
		if t.starting == 0 {
			clear(t.early)
		}
	}()
	if err != nil {
		return "", nil, fmt.Errorf("start download %s: %w", req.URL, err)
	}
	if ev, ok := t.early[id]; ok {
		delete(t.early, id)
		return id, &ev, nil
	}
	t.pending[id] = owner{tab: tab, window: window}
	return id, nil, nil
}

// Resolve removes the pending download the event refers to and returns its
// owner. Unknown ids report ok=false.
func (t *Tracker) Resolve(ev types.DownloadEvent) (tab types.TabID, window types.WindowID, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.pending[ev.ID]
	if !ok {
		if t.starting > 0 {
			t.early[ev.ID] = ev
		}
		return 0, 0, false
	}
	delete(t.pending, ev.ID)
	return o.tab, o.window, true
}

// HasWindow reports whether window has pending downloads.
func (t *Tracker) HasWindow(window types.WindowID) bool {
	return t.Pending(window) > 0
}

// Pending returns the number of pending downloads of window.
func (t *Tracker) Pending(window types.WindowID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, o := range t.pending {
		if o.window == window {
			n++
		}
	}
	return n
}

// HasTab reports whether tab has pending downloads.
func (t *Tracker) HasTab(tab types.TabID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range t.pending {
		if o.tab == tab {
			return true
		}
	}
	return false
}

// RemoveWindow forgets every pending download of window.
func (t *Tracker) RemoveWindow(window types.WindowID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, o := range t.pending {
		if o.window == window {
			delete(t.pending, id)
		}
	}
}

// CancelWindow asks the downloader to cancel every pending download of
// window. The downloads stay tracked until resolved or removed.
func (t *Tracker) CancelWindow(ctx context.Context, window types.WindowID) error {
	t.mu.Lock()
	var ids []types.DownloadID
	for id, o := range t.pending {
		if o.window == window {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := t.dl.Cancel(ctx, id); err != nil {
			applog.Error("download.cancel", err, "id", id, "window", window)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe routes downloader events to ch.
func (t *Tracker) Subscribe(ch chan<- types.DownloadEvent) {
	t.dl.Subscribe(ch)
}

// Unsubscribe stops event delivery.
func (t *Tracker) Unsubscribe() {
	t.dl.Unsubscribe()
}
