// Package localdl downloads resources over HTTP into a local directory.
package localdl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lotas/tabharvest/internal/applog"
	"github.com/lotas/tabharvest/internal/types"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

// Downloader writes each download to Dir joined with the request filename.
// Data lands in a ".part" file that is renamed once complete.
type Downloader struct {
	Dir    string
	Client *http.Client

	mu       sync.Mutex
	active   map[types.DownloadID]context.CancelFunc
	reserved map[string]bool

	subMu sync.Mutex
	sub   chan<- types.DownloadEvent

	g errgroup.Group
}

// New returns a downloader rooted at dir.
func New(dir string) *Downloader {
	return &Downloader{
		Dir:      dir,
		Client:   &http.Client{Timeout: 5 * time.Minute},
		active:   make(map[types.DownloadID]context.CancelFunc),
		reserved: make(map[string]bool),
	}
}

// Download reserves the target file and starts fetching in the background.
func (d *Downloader) Download(ctx context.Context, req types.DownloadRequest) (types.DownloadID, error) {
	if req.URL == "" || req.Filename == "" {
		return "", fmt.Errorf("download: url and filename are required")
	}
	id := types.DownloadID(uuid.NewString())
	dlCtx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	target, err := d.reserve(filepath.Join(d.Dir, filepath.FromSlash(req.Filename)), req.Conflict)
	if err != nil {
		d.mu.Unlock()
		cancel()
		return "", err
	}
	d.active[id] = cancel
	d.mu.Unlock()

	applog.Debug("localdl.start", "id", id, "url", req.URL, "target", target)
	d.g.Go(func() error {
		err := d.fetch(dlCtx, req.URL, target)

		d.mu.Lock()
		delete(d.active, id)
		delete(d.reserved, target)
		d.mu.Unlock()
		cancel()

		ev := types.DownloadEvent{ID: id, Outcome: types.DownloadComplete}
		if err != nil {
			applog.Error("localdl.failed", err, "id", id, "url", req.URL)
			ev.Outcome = types.DownloadFailed
			ev.Err = err.Error()
		}
		d.emit(ev)
		return nil
	})
	return id, nil
}

// reserve picks the final path for name under policy. Callers hold d.mu.
// Prompt has no one to ask and behaves like uniquify.
func (d *Downloader) reserve(name string, policy types.ConflictPolicy) (string, error) {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if policy == types.ConflictOverwrite {
		d.reserved[name] = true
		return name, nil
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; d.taken(candidate); i++ {
		candidate = fmt.Sprintf("%s(%d)%s", stem, i, ext)
	}
	d.reserved[candidate] = true
	return candidate, nil
}

func (d *Downloader) taken(name string) bool {
	if d.reserved[name] {
		return true
	}
	_, err := os.Stat(name)
	return err == nil
}

func (d *Downloader) fetch(ctx context.Context, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	part := target + ".part"
	f, err := os.Create(part)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(part)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return err
	}
	return os.Rename(part, target)
}

// Cancel aborts a running download. Settled or unknown ids are ignored.
func (d *Downloader) Cancel(ctx context.Context, id types.DownloadID) error {
	d.mu.Lock()
	cancel, ok := d.active[id]
	d.mu.Unlock()
	if ok {
		applog.Debug("localdl.cancel", "id", id)
		cancel()
	}
	return nil
}

func (d *Downloader) Subscribe(ch chan<- types.DownloadEvent) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.sub = ch
}

func (d *Downloader) Unsubscribe() {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.sub = nil
}

func (d *Downloader) emit(ev types.DownloadEvent) {
	d.subMu.Lock()
	ch := d.sub
	d.subMu.Unlock()
	if ch != nil {
		ch <- ev
	}
}

// Wait blocks until every started download has settled.
func (d *Downloader) Wait() {
	d.g.Wait()
}
