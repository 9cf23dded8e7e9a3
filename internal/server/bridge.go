package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/lotas/tabharvest/internal/applog"
	"github.com/lotas/tabharvest/internal/badge"
	"github.com/lotas/tabharvest/internal/config"
	"github.com/lotas/tabharvest/internal/run"
	"github.com/lotas/tabharvest/internal/types"
)

// ErrTimeout is returned when the extension does not answer in time.
var ErrTimeout = errors.New("extension did not respond")

// DefaultTimeout bounds every request to the extension.
const DefaultTimeout = 30 * time.Second

// Toggler starts or cancels the run of a window.
type Toggler interface {
	Toggle(ctx context.Context, window types.WindowID) error
}

// Bridge turns the extension connection into the browser side of a run:
// tab queries, script execution, downloads, badges and notifications.
type Bridge struct {
	srv     *Server
	opts    *config.Store
	Timeout time.Duration

	mu      sync.Mutex
	waiters map[string]chan IncomingMsg
	toggler Toggler

	subMu sync.Mutex
	sub   chan<- types.DownloadEvent
}

// NewBridge wraps srv. Options pushed by the extension are merged into opts.
func NewBridge(srv *Server, opts *config.Store) *Bridge {
	return &Bridge{
		srv:     srv,
		opts:    opts,
		Timeout: DefaultTimeout,
		waiters: make(map[string]chan IncomingMsg),
	}
}

// SetToggler sets the target of toolbar clicks.
func (b *Bridge) SetToggler(t Toggler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toggler = t
}

// Run consumes messages from the server until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.srv.Messages():
			b.handle(ctx, msg)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, msg IncomingMsg) {
	if msg.ID != "" {
		b.mu.Lock()
		ch, ok := b.waiters[msg.ID]
		delete(b.waiters, msg.ID)
		b.mu.Unlock()
		if ok {
			ch <- msg
		} else {
			applog.Debug("bridge.late_response", "id", msg.ID)
		}
		return
	}

	switch msg.Type {
	case "action-clicked":
		b.mu.Lock()
		t := b.toggler
		b.mu.Unlock()
		if t == nil {
			return
		}
		window := types.WindowID(msg.WindowID)
		go b.toggle(ctx, t, window)
	case "download-changed":
		ev, ok := downloadEvent(msg)
		if !ok {
			return
		}
		b.subMu.Lock()
		sub := b.sub
		b.subMu.Unlock()
		if sub == nil {
			return
		}
		select {
		case sub <- ev:
		case <-ctx.Done():
		}
	case "options":
		opts, err := b.opts.Merge(msg.Options)
		if err != nil {
			applog.Error("bridge.options", err)
			return
		}
		applog.Info("bridge.options", "scope", opts.Scope, "rules", len(opts.PathRules))
	default:
		applog.Warn("bridge.unknown", "type", msg.Type)
	}
}

func downloadEvent(msg IncomingMsg) (types.DownloadEvent, bool) {
	ev := types.DownloadEvent{ID: types.DownloadID(msg.DownloadID)}
	switch msg.State {
	case "complete":
		ev.Outcome = types.DownloadComplete
	case "interrupted":
		ev.Outcome = types.DownloadFailed
		ev.Err = msg.Error
	default:
		return ev, false
	}
	return ev, true
}

// toggle runs one click. A click racing another run's start is benign.
func (b *Bridge) toggle(ctx context.Context, t Toggler, window types.WindowID) {
	err := t.Toggle(ctx, window)
	switch {
	case err == nil:
	case errors.Is(err, run.ErrBlocked):
		applog.Info("bridge.toggle", "window", window, "blocked", true)
	default:
		applog.Error("bridge.toggle", err, "window", window)
	}
}

// request sends cmd and waits for the matching response.
func (b *Bridge) request(ctx context.Context, cmd OutgoingMsg) (IncomingMsg, error) {
	cmd.ID = uuid.NewString()
	ch := make(chan IncomingMsg, 1)

	b.mu.Lock()
	b.waiters[cmd.ID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.waiters, cmd.ID)
		b.mu.Unlock()
	}()

	if err := b.srv.Send(cmd); err != nil {
		return IncomingMsg{}, fmt.Errorf("%s: %w", cmd.Action, err)
	}

	timer := time.NewTimer(b.Timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.OK != nil && !*resp.OK {
			return resp, fmt.Errorf("%s: %s", cmd.Action, resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return IncomingMsg{}, fmt.Errorf("%s: %w", cmd.Action, ErrTimeout)
	case <-ctx.Done():
		return IncomingMsg{}, ctx.Err()
	}
}

func (b *Bridge) QueryTabs(ctx context.Context, window types.WindowID) ([]types.Tab, error) {
	resp, err := b.request(ctx, OutgoingMsg{Action: "query-tabs", WindowID: int(window)})
	if err != nil {
		return nil, err
	}
	var tabs []types.Tab
	if err := json.Unmarshal(resp.Tabs, &tabs); err != nil {
		return nil, fmt.Errorf("parse tabs: %w", err)
	}
	return tabs, nil
}

func (b *Bridge) GetTab(ctx context.Context, id types.TabID) (types.Tab, error) {
	return b.tabRequest(ctx, OutgoingMsg{Action: "get-tab", TabID: int(id)})
}

func (b *Bridge) ReloadTab(ctx context.Context, id types.TabID, url string) (types.Tab, error) {
	return b.tabRequest(ctx, OutgoingMsg{Action: "reload-tab", TabID: int(id), URL: url})
}

func (b *Bridge) tabRequest(ctx context.Context, cmd OutgoingMsg) (types.Tab, error) {
	resp, err := b.request(ctx, cmd)
	if err != nil {
		return types.Tab{}, err
	}
	var tab types.Tab
	if err := json.Unmarshal(resp.Tab, &tab); err != nil {
		return types.Tab{}, fmt.Errorf("parse tab: %w", err)
	}
	return tab, nil
}

// ExecuteScript runs the extraction script in every frame of the tab.
func (b *Bridge) ExecuteScript(ctx context.Context, id types.TabID) ([]types.Resource, error) {
	resp, err := b.request(ctx, OutgoingMsg{Action: "execute-script", TabID: int(id)})
	if err != nil {
		return nil, err
	}
	return ParseResources(resp.Result), nil
}

func (b *Bridge) CloseTab(ctx context.Context, id types.TabID) error {
	_, err := b.request(ctx, OutgoingMsg{Action: "close-tab", TabID: int(id)})
	return err
}

// ParseResources reads a script result. The extension returns one array per
// frame; a flat array of resources is accepted as well. Entries without a
// src are skipped.
func ParseResources(raw []byte) []types.Resource {
	var out []types.Resource
	var walk func(v gjson.Result)
	walk = func(v gjson.Result) {
		switch {
		case v.IsArray():
			v.ForEach(func(_, item gjson.Result) bool {
				walk(item)
				return true
			})
		case v.IsObject():
			src := v.Get("src").String()
			if src != "" {
				out = append(out, types.Resource{Src: src, Alt: v.Get("alt").String()})
			}
		}
	}
	walk(gjson.ParseBytes(raw))
	return out
}

func (b *Bridge) Download(ctx context.Context, req types.DownloadRequest) (types.DownloadID, error) {
	resp, err := b.request(ctx, OutgoingMsg{
		Action:         "download",
		URL:            req.URL,
		Filename:       req.Filename,
		ConflictAction: string(req.Conflict),
		Incognito:      req.Incognito,
	})
	if err != nil {
		return "", err
	}
	if resp.DownloadID == "" {
		return "", fmt.Errorf("download %s: no id returned", req.URL)
	}
	return types.DownloadID(resp.DownloadID), nil
}

func (b *Bridge) Cancel(ctx context.Context, id types.DownloadID) error {
	_, err := b.request(ctx, OutgoingMsg{Action: "cancel-download", DownloadID: string(id)})
	return err
}

func (b *Bridge) Subscribe(ch chan<- types.DownloadEvent) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.sub = ch
}

func (b *Bridge) Unsubscribe() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.sub = nil
}

// Badge updates and notifications are not awaited.

func (b *Bridge) SetLoading(window types.WindowID, tick types.LoadingTick) {
	b.setBadge(window, badge.Loading(tick))
}

func (b *Bridge) SetSaving(window types.WindowID, saved int) {
	if bg, ok := badge.Saving(saved); ok {
		b.setBadge(window, bg)
	}
}

func (b *Bridge) SetFinished(window types.WindowID, saved int, hadErrors bool) {
	b.setBadge(window, badge.Finished(saved, hadErrors))
}

func (b *Bridge) setBadge(window types.WindowID, bg badge.Badge) {
	err := b.srv.Send(OutgoingMsg{Action: "set-badge", WindowID: int(window), Text: bg.Text, Color: bg.Color})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		applog.Error("bridge.badge", err, "window", window)
	}
}

func (b *Bridge) Notify(ctx context.Context, id, title, body string) error {
	return b.srv.Send(OutgoingMsg{Action: "notify", NotificationID: id, Title: title, Message: body})
}
