// Package config holds the user options that shape a harvest run.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/lotas/tabharvest/internal/types"
)

// Options is the configuration snapshot read at the start of each run.
type Options struct {
	Scope                     types.Scope          `json:"scope"`
	IncludeActive             bool                 `json:"includeActive"`
	IgnoreDiscardedTabs       bool                 `json:"ignoreDiscardedTabs"`
	CloseTabAfterLastDownload bool                 `json:"closeTabAfterLastDownload"`
	ConflictPolicy            types.ConflictPolicy `json:"conflictPolicy"`
	DownloadBaseDir           string               `json:"downloadBaseDir"`
	PathRules                 []string             `json:"pathRules"`
	NotifyOnFinish            bool                 `json:"notifyOnFinish"`
	RemoveEnded               bool                 `json:"removeEnded"`
}

// DefaultPathRules are tried in order until one renders a valid path.
var DefaultPathRules = []string{
	"<name>.<ext>",
	"<xname>.<xext>",
	"<xname>.<xmimeext>",
	"<name>.<xmimeext>",
	"<index>.<xmimeext>",
}

// Default returns the options used when no file exists.
func Default() Options {
	return Options{
		Scope:          types.ScopeRight,
		IncludeActive:  true,
		ConflictPolicy: types.ConflictUniquify,
		PathRules:      append([]string(nil), DefaultPathRules...),
		NotifyOnFinish: true,
	}
}

// Validate checks fields that have a closed set of values.
func (o Options) Validate() error {
	if !o.ConflictPolicy.Valid() {
		return fmt.Errorf("invalid conflictPolicy %q", o.ConflictPolicy)
	}
	if len(o.PathRules) == 0 {
		return errors.New("pathRules must not be empty")
	}
	return nil
}

// Clone returns a copy that shares no slices with o.
func (o Options) Clone() Options {
	o.PathRules = append([]string(nil), o.PathRules...)
	return o
}

// DefaultPath returns ~/.config/tabharvest/options.json, or the
// TABHARVEST_CONFIG environment variable when set.
func DefaultPath() string {
	if p := os.Getenv("TABHARVEST_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "tabharvest", "options.json")
}

// Load reads options from path on top of the defaults. A missing file
// yields the defaults.
func Load(path string) (Options, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return opts, nil
	}
	if err != nil {
		return opts, fmt.Errorf("read options: %w", err)
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return Default(), fmt.Errorf("parse options %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return Default(), fmt.Errorf("options %s: %w", path, err)
	}
	return opts, nil
}

// Save writes options as indented JSON, creating the directory.
func Save(path string, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(opts, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Store holds the live options. The browser extension may replace them at
// any time; a run keeps the snapshot it started with.
type Store struct {
	cur atomic.Pointer[Options]
}

// NewStore returns a store seeded with opts.
func NewStore(opts Options) *Store {
	s := &Store{}
	s.Replace(opts)
	return s
}

// Options returns a copy of the current snapshot.
func (s *Store) Options() Options {
	return s.cur.Load().Clone()
}

// Replace swaps in a new snapshot.
func (s *Store) Replace(opts Options) {
	o := opts.Clone()
	s.cur.Store(&o)
}

// Merge decodes a partial JSON document over the current snapshot, the way
// the extension sends only changed keys.
func (s *Store) Merge(data []byte) (Options, error) {
	opts := s.Options()
	if err := json.Unmarshal(data, &opts); err != nil {
		return s.Options(), fmt.Errorf("decode options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return s.Options(), err
	}
	s.Replace(opts)
	return opts, nil
}
