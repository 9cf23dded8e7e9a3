package types

import (
	"context"
	"fmt"
	"strings"
)

// WindowID identifies a browser window.
type WindowID int

// TabID identifies a browser tab.
type TabID int

// DownloadID is the handle a Downloader returns for an issued download.
type DownloadID string

// TabStatus is the loading state reported by the browser.
type TabStatus string

const (
	TabLoading  TabStatus = "loading"
	TabComplete TabStatus = "complete"
)

// Tab represents a single browser tab.
type Tab struct {
	ID        TabID     `json:"id"`
	WindowID  WindowID  `json:"windowId"`
	Index     int       `json:"index"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Active    bool      `json:"active"`
	Discarded bool      `json:"discarded"`
	Status    TabStatus `json:"status"`
}

// Resource is one downloadable item found on a page.
type Resource struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// Scope selects which tabs around the active tab take part in a run.
type Scope int

const (
	ScopeRight Scope = iota
	ScopeLeft
	ScopeAll
	ScopeActive
)

var scopeNames = map[Scope]string{
	ScopeRight:  "right",
	ScopeLeft:   "left",
	ScopeAll:    "all",
	ScopeActive: "active",
}

func (s Scope) String() string {
	if n, ok := scopeNames[s]; ok {
		return n
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

// Label is the human readable name used in notifications.
func (s Scope) Label() string {
	switch s {
	case ScopeLeft:
		return "tabs to the left"
	case ScopeAll:
		return "all tabs"
	case ScopeActive:
		return "the active tab"
	default:
		return "tabs to the right"
	}
}

// ParseScope accepts the lowercase scope names.
func ParseScope(s string) (Scope, error) {
	for k, v := range scopeNames {
		if strings.EqualFold(v, s) {
			return k, nil
		}
	}
	return ScopeRight, fmt.Errorf("unknown scope %q", s)
}

func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Scope) UnmarshalText(b []byte) error {
	v, err := ParseScope(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ConflictPolicy tells the downloader what to do when the target file exists.
type ConflictPolicy string

const (
	ConflictUniquify  ConflictPolicy = "uniquify"
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictPrompt    ConflictPolicy = "prompt"
)

// Valid reports whether p is one of the known policies.
func (p ConflictPolicy) Valid() bool {
	switch p {
	case ConflictUniquify, ConflictOverwrite, ConflictPrompt:
		return true
	}
	return false
}

// DownloadRequest is a single download handed to a Downloader.
type DownloadRequest struct {
	URL       string         `json:"url"`
	Filename  string         `json:"filename"`
	Conflict  ConflictPolicy `json:"conflictAction"`
	Incognito bool           `json:"incognito,omitempty"`
}

// DownloadOutcome is the terminal state of a download.
type DownloadOutcome int

const (
	DownloadComplete DownloadOutcome = iota
	DownloadFailed
)

func (o DownloadOutcome) String() string {
	if o == DownloadComplete {
		return "complete"
	}
	return "failed"
}

// DownloadEvent is emitted by a Downloader when a download settles.
type DownloadEvent struct {
	ID      DownloadID
	Outcome DownloadOutcome
	Err     string
}

// LoadingTick is a progress step while tabs are loading. Fine ticks carry a
// percentage, coarse ticks a phase in [0, 4).
type LoadingTick struct {
	Fine    bool
	Phase   int
	Percent float64
}

// TabProvider is the browser side of a run.
type TabProvider interface {
	QueryTabs(ctx context.Context, window WindowID) ([]Tab, error)
	GetTab(ctx context.Context, id TabID) (Tab, error)
	ReloadTab(ctx context.Context, id TabID, url string) (Tab, error)
	ExecuteScript(ctx context.Context, id TabID) ([]Resource, error)
	CloseTab(ctx context.Context, id TabID) error
}

// Downloader issues downloads and reports their outcome on a channel while
// subscribed.
type Downloader interface {
	Download(ctx context.Context, req DownloadRequest) (DownloadID, error)
	Cancel(ctx context.Context, id DownloadID) error
	Subscribe(ch chan<- DownloadEvent)
	Unsubscribe()
}

// Progress receives per-window progress updates.
type Progress interface {
	SetLoading(window WindowID, tick LoadingTick)
	SetSaving(window WindowID, saved int)
	SetFinished(window WindowID, saved int, hadErrors bool)
}

// Notifier shows a notification to the user.
type Notifier interface {
	Notify(ctx context.Context, id, title, body string) error
}

// Profile represents a Firefox profile.
type Profile struct {
	Name       string
	Path       string // absolute path to profile directory
	IsDefault  bool
	IsRelative bool
}

// Window is an offline view of one browser window, in tab order.
type Window struct {
	ID   WindowID
	Tabs []Tab
}
