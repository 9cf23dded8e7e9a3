// Package cdptabs provides browser tabs through the Chrome DevTools
// Protocol. Page targets map to tabs, browser windows to windows.
package cdptabs

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/browser"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"
	"github.com/tidwall/gjson"

	"github.com/lotas/tabharvest/internal/applog"
	"github.com/lotas/tabharvest/internal/types"
)

//go:embed extract.js
var extractJS string

const stateJS = `({readyState: document.readyState, visible: document.visibilityState === "visible", title: document.title})`

// ErrTabNotFound is returned for tabs whose target is gone.
var ErrTabNotFound = errors.New("tab not found")

// Provider implements types.TabProvider against a DevTools endpoint such as
// http://127.0.0.1:9222. Target ids are mapped to stable integer tab ids.
type Provider struct {
	dt *devtool.DevTools

	mu       sync.Mutex
	next     types.TabID
	ids      map[string]types.TabID
	targets  map[types.TabID]string
	windowOf map[types.TabID]types.WindowID
}

// New returns a provider for the DevTools endpoint at url.
func New(url string) *Provider {
	return &Provider{
		dt:       devtool.New(url),
		ids:      make(map[string]types.TabID),
		targets:  make(map[types.TabID]string),
		windowOf: make(map[types.TabID]types.WindowID),
	}
}

func (p *Provider) tabID(targetID string) types.TabID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.ids[targetID]; ok {
		return id
	}
	p.next++
	p.ids[targetID] = p.next
	p.targets[p.next] = targetID
	return p.next
}

func (p *Provider) pages(ctx context.Context) ([]*devtool.Target, error) {
	all, err := p.dt.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	var out []*devtool.Target
	for _, t := range all {
		if t.Type == devtool.Page {
			out = append(out, t)
		}
	}
	return out, nil
}

func (p *Provider) target(ctx context.Context, id types.TabID) (*devtool.Target, error) {
	p.mu.Lock()
	tid, ok := p.targets[id]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("tab %d: %w", id, ErrTabNotFound)
	}
	pages, err := p.pages(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range pages {
		if t.ID == tid {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tab %d: %w", id, ErrTabNotFound)
}

// windows resolves the browser window of every page over the browser
// level connection.
func (p *Provider) windows(ctx context.Context, pages []*devtool.Target) (map[string]types.WindowID, error) {
	v, err := p.dt.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("browser version: %w", err)
	}
	conn, err := rpcc.DialContext(ctx, v.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("dial browser: %w", err)
	}
	defer conn.Close()
	c := cdp.NewClient(conn)

	out := make(map[string]types.WindowID, len(pages))
	for _, t := range pages {
		reply, err := c.Browser.GetWindowForTarget(ctx, browser.NewGetWindowForTargetArgs().SetTargetID(target.ID(t.ID)))
		if err != nil {
			applog.Warn("cdp.window", "target", t.ID, "err", err)
			continue
		}
		out[t.ID] = types.WindowID(reply.WindowID)
	}
	return out, nil
}

// Windows lists the windows that have at least one page, in target order.
func (p *Provider) Windows(ctx context.Context) ([]types.WindowID, error) {
	pages, err := p.pages(ctx)
	if err != nil {
		return nil, err
	}
	wins, err := p.windows(ctx, pages)
	if err != nil {
		return nil, err
	}
	seen := make(map[types.WindowID]bool)
	var out []types.WindowID
	for _, t := range pages {
		w, ok := wins[t.ID]
		if ok && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out, nil
}

func withPage(ctx context.Context, t *devtool.Target, fn func(c *cdp.Client) error) error {
	conn, err := rpcc.DialContext(ctx, t.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("dial page %s: %w", t.ID, err)
	}
	defer conn.Close()
	return fn(cdp.NewClient(conn))
}

func evaluate(ctx context.Context, t *devtool.Target, expr string) (gjson.Result, error) {
	var out gjson.Result
	err := withPage(ctx, t, func(c *cdp.Client) error {
		args := runtime.NewEvaluateArgs(expr).SetReturnByValue(true).SetAwaitPromise(true)
		reply, err := c.Runtime.Evaluate(ctx, args)
		if err != nil {
			return err
		}
		if reply.ExceptionDetails != nil {
			return fmt.Errorf("script exception: %s", reply.ExceptionDetails.Text)
		}
		out = gjson.ParseBytes(reply.Result.Value)
		return nil
	})
	return out, err
}

func (p *Provider) describe(ctx context.Context, t *devtool.Target, window types.WindowID, index int) types.Tab {
	id := p.tabID(t.ID)
	tab := types.Tab{
		ID:       id,
		WindowID: window,
		Index:    index,
		URL:      t.URL,
		Title:    t.Title,
		Status:   types.TabLoading,
	}
	state, err := evaluate(ctx, t, stateJS)
	if err != nil {
		applog.Warn("cdp.state", "target", t.ID, "err", err)
		return tab
	}
	if state.Get("readyState").String() == "complete" {
		tab.Status = types.TabComplete
	}
	tab.Active = state.Get("visible").Bool()
	if title := state.Get("title").String(); title != "" {
		tab.Title = title
	}
	return tab
}

// QueryTabs lists the pages of window in target order. Window 0 matches
// every page. Each window gets exactly one active tab: the first visible
// page, or its first page when none is visible. Chrome lists targets most
// recently activated first.
func (p *Provider) QueryTabs(ctx context.Context, window types.WindowID) ([]types.Tab, error) {
	pages, err := p.pages(ctx)
	if err != nil {
		return nil, err
	}
	wins, err := p.windows(ctx, pages)
	if err != nil {
		return nil, err
	}
	var tabs []types.Tab
	for _, t := range pages {
		w := wins[t.ID]
		if window != 0 && w != window {
			continue
		}
		tab := p.describe(ctx, t, w, len(tabs))
		p.mu.Lock()
		p.windowOf[tab.ID] = w
		p.mu.Unlock()
		tabs = append(tabs, tab)
	}
	markActive(tabs)
	return tabs, nil
}

// markActive keeps one active tab per window.
func markActive(tabs []types.Tab) {
	first := make(map[types.WindowID]int)
	active := make(map[types.WindowID]bool)
	for i := range tabs {
		w := tabs[i].WindowID
		if _, ok := first[w]; !ok {
			first[w] = i
		}
		if tabs[i].Active {
			if active[w] {
				tabs[i].Active = false
			}
			active[w] = true
		}
	}
	for w, i := range first {
		if !active[w] {
			tabs[i].Active = true
		}
	}
}

func (p *Provider) GetTab(ctx context.Context, id types.TabID) (types.Tab, error) {
	t, err := p.target(ctx, id)
	if err != nil {
		return types.Tab{}, err
	}
	p.mu.Lock()
	w := p.windowOf[id]
	p.mu.Unlock()
	return p.describe(ctx, t, w, 0), nil
}

func (p *Provider) ReloadTab(ctx context.Context, id types.TabID, url string) (types.Tab, error) {
	t, err := p.target(ctx, id)
	if err != nil {
		return types.Tab{}, err
	}
	err = withPage(ctx, t, func(c *cdp.Client) error {
		return c.Page.Reload(ctx, page.NewReloadArgs())
	})
	if err != nil {
		return types.Tab{}, fmt.Errorf("reload tab %d: %w", id, err)
	}
	return p.GetTab(ctx, id)
}

// ExecuteScript collects the images of the page.
func (p *Provider) ExecuteScript(ctx context.Context, id types.TabID) ([]types.Resource, error) {
	t, err := p.target(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := evaluate(ctx, t, extractJS)
	if err != nil {
		return nil, fmt.Errorf("execute script in tab %d: %w", id, err)
	}
	var out []types.Resource
	v.ForEach(func(_, item gjson.Result) bool {
		if src := item.Get("src").String(); src != "" {
			out = append(out, types.Resource{Src: src, Alt: item.Get("alt").String()})
		}
		return true
	})
	return out, nil
}

func (p *Provider) CloseTab(ctx context.Context, id types.TabID) error {
	t, err := p.target(ctx, id)
	if err != nil {
		return err
	}
	if err := p.dt.Close(ctx, t); err != nil {
		return fmt.Errorf("close tab %d: %w", id, err)
	}
	p.mu.Lock()
	delete(p.targets, id)
	delete(p.ids, t.ID)
	delete(p.windowOf, id)
	p.mu.Unlock()
	return nil
}
