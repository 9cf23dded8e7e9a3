// Package firefox reads tabs from a Firefox profile's session store without
// a running browser.
package firefox

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/lotas/tabharvest/internal/types"
)

var mozLz4Magic = []byte("mozLz40\x00")

// sessionFiles are tried in order: the live session, then the last closed one.
var sessionFiles = []string{"recovery.jsonlz4", "previous.jsonlz4"}

// ErrNoSession is returned when a profile has no session file.
var ErrNoSession = errors.New("no session file")

// DecompressMozLz4 decodes Mozilla's mozlz4 container: the magic, a
// little-endian uint32 holding the decoded size, then one lz4 block.
func DecompressMozLz4(data []byte) ([]byte, error) {
	const headerSize = 12

	if len(data) < headerSize {
		return nil, fmt.Errorf("mozlz4: data too short (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:len(mozLz4Magic)], mozLz4Magic) {
		return nil, fmt.Errorf("mozlz4: invalid header magic")
	}

	size := binary.LittleEndian.Uint32(data[8:12])
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(data[headerSize:], dst)
	if err != nil {
		return nil, fmt.Errorf("mozlz4: decompress failed: %w", err)
	}
	return dst[:n], nil
}

type sessionEntry struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type sessionTab struct {
	Entries []sessionEntry `json:"entries"`
	// 1-based index of the current entry.
	Index  int  `json:"index"`
	Hidden bool `json:"hidden"`
}

type sessionWindow struct {
	Tabs []sessionTab `json:"tabs"`
	// 1-based index of the selected tab.
	Selected int `json:"selected"`
}

type sessionDoc struct {
	Windows []sessionWindow `json:"windows"`
}

// ParseSession turns a decoded session document into windows. Window ids
// count from 1 in file order; tab ids are unique across the session. Tabs
// without history and hidden tabs are left out. Restored tabs are reported
// as discarded since nothing is loaded until they are selected.
func ParseSession(data []byte) ([]types.Window, error) {
	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse session JSON: %w", err)
	}

	var windows []types.Window
	nextID := types.TabID(1)
	for w, sw := range doc.Windows {
		win := types.Window{ID: types.WindowID(w + 1)}
		for i, st := range sw.Tabs {
			if len(st.Entries) == 0 || st.Hidden {
				continue
			}
			cur := st.Index - 1
			if cur < 0 || cur >= len(st.Entries) {
				cur = len(st.Entries) - 1
			}
			active := i == sw.Selected-1
			win.Tabs = append(win.Tabs, types.Tab{
				ID:        nextID,
				WindowID:  win.ID,
				Index:     len(win.Tabs),
				URL:       st.Entries[cur].URL,
				Title:     st.Entries[cur].Title,
				Active:    active,
				Discarded: !active,
				Status:    types.TabComplete,
			})
			nextID++
		}
		windows = append(windows, win)
	}
	return windows, nil
}

// ReadSessionFile reads the session of the profile in profileDir.
func ReadSessionFile(profileDir string) ([]types.Window, error) {
	path, err := sessionPath(profileDir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	decoded, err := DecompressMozLz4(data)
	if err != nil {
		return nil, fmt.Errorf("decompress session file: %w", err)
	}
	return ParseSession(decoded)
}

func sessionPath(profileDir string) (string, error) {
	backupDir := filepath.Join(profileDir, "sessionstore-backups")
	for _, name := range sessionFiles {
		p := filepath.Join(backupDir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", backupDir, ErrNoSession)
}
