// Package session keeps the per-window state of harvest runs.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lotas/tabharvest/internal/types"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyExists = errors.New("session already exists")
)

// Counters are the run statistics of one window. They only ever grow.
type Counters struct {
	TabsLoaded    int
	TabsEnded     int
	TabsSkipped   int
	TabsError     int
	ImagesMatched int
	ImagesSkipped int
	ImagesFailed  int
	ImagesSaved   int
	PathsFailed   int
}

// Session is the live record of one window's run.
type Session struct {
	Window  types.WindowID
	TabID   types.TabID
	Scope   types.Scope
	Started time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	counters    Counters
	seen        map[string]struct{}
	cancelled   bool
	loadingStep int
	finished    bool
}

// Context is cancelled when the run is cancelled.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Counters returns a snapshot of the counters.
func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Update applies fn to the counters under the session lock and returns the
// resulting snapshot.
func (s *Session) Update(fn func(c *Counters)) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.counters)
	return s.counters
}

// IsUnique reports whether url has not been recorded in this session.
func (s *Session) IsUnique(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[url]
	return !ok
}

// MarkSeen records url and reports whether it was new.
func (s *Session) MarkSeen(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[url]; ok {
		return false
	}
	s.seen[url] = struct{}{}
	return true
}

// SeenCount returns the number of distinct URLs recorded.
func (s *Session) SeenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// RequestCancel sets the cancel flag and cancels the session context.
// It returns false if the session was already cancelled.
func (s *Session) RequestCancel() bool {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return false
	}
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
	return true
}

// Cancelled reports whether cancel was requested.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// NextLoadingStep returns the current coarse loading phase and advances it
// modulo n.
func (s *Session) NextLoadingStep(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.loadingStep
	s.loadingStep = (s.loadingStep + 1) % n
	return step
}

// MarkFinished flips the session to finished once. It returns false if it
// already was.
func (s *Session) MarkFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.finished = true
	return true
}

// Registry holds one session per window plus the blocking markers for
// windows whose run is still collecting or dispatching.
type Registry struct {
	mu       sync.RWMutex
	sessions map[types.WindowID]*Session
	blocking map[types.WindowID]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[types.WindowID]*Session),
		blocking: make(map[types.WindowID]struct{}),
	}
}

// Create registers a new session for window. It fails with
// ErrAlreadyExists while a session is live. The returned bool reports
// whether this is now the only live session.
func (r *Registry) Create(window types.WindowID, tab types.TabID, scope types.Scope) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[window]; ok {
		return nil, false, ErrAlreadyExists
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		Window:  window,
		TabID:   tab,
		Scope:   scope,
		Started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		seen:    make(map[string]struct{}),
	}
	r.sessions[window] = s
	return s, len(r.sessions) == 1, nil
}

// Get returns the live session for window or ErrNotFound.
func (r *Registry) Get(window types.WindowID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[window]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Exists reports whether window has a live session.
func (r *Registry) Exists(window types.WindowID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[window]
	return ok
}

// Delete removes the session for window and releases its context. The
// returned bool reports whether the registry is idle afterwards.
func (r *Registry) Delete(window types.WindowID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[window]; ok {
		s.cancel()
		delete(r.sessions, window)
	}
	return len(r.sessions) == 0
}

// IsIdle reports whether no session is live.
func (r *Registry) IsIdle() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions) == 0
}

// Live returns the windows with a live session.
func (r *Registry) Live() []types.WindowID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.WindowID, 0, len(r.sessions))
	for w := range r.sessions {
		out = append(out, w)
	}
	return out
}

// TryBlock marks window as blocking unless it is already blocking or has a
// live session. It reports whether the mark was taken.
func (r *Registry) TryBlock(window types.WindowID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blocking[window]; ok {
		return false
	}
	if _, ok := r.sessions[window]; ok {
		return false
	}
	r.blocking[window] = struct{}{}
	return true
}

// Unblock clears the blocking mark.
func (r *Registry) Unblock(window types.WindowID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blocking, window)
}

// IsBlocking reports whether window is inside its collecting/dispatching
// phase.
func (r *Registry) IsBlocking(window types.WindowID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blocking[window]
	return ok
}
