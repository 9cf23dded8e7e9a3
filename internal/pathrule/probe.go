package pathrule

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"
)

// ProbeResult holds the attributes a probe can add to a resource.
type ProbeResult struct {
	Filename string // from Content-Disposition
	MimeExt  string // extension implied by Content-Type, without dot
}

// Prober fetches response headers for a resource URL.
type Prober interface {
	Probe(ctx context.Context, url string) (ProbeResult, error)
}

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

// HTTPProber probes with a HEAD request, falling back to GET when the
// server refuses HEAD.
type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber returns a prober with a 10 second timeout.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		Client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

func (p *HTTPProber) Probe(ctx context.Context, url string) (ProbeResult, error) {
	resp, err := p.do(ctx, http.MethodHead, url)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		resp.Body.Close()
		resp, err = p.do(ctx, http.MethodGet, url)
	}
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ProbeResult{}, fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
	}
	return ProbeResult{
		Filename: dispositionFilename(resp.Header.Get("Content-Disposition")),
		MimeExt:  MimeExtension(resp.Header.Get("Content-Type")),
	}, nil
}

func (p *HTTPProber) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return p.Client.Do(req)
}

// dispositionFilename extracts the filename parameter, including the
// RFC 5987 filename* form, and strips any directory part.
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := strings.ReplaceAll(params["filename"], `\`, "/")
	if name == "" {
		return ""
	}
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

var preferredExt = map[string]string{
	"image/jpeg":               "jpg",
	"image/pjpeg":              "jpg",
	"image/png":                "png",
	"image/apng":               "png",
	"image/gif":                "gif",
	"image/webp":               "webp",
	"image/avif":               "avif",
	"image/svg+xml":            "svg",
	"image/bmp":                "bmp",
	"image/x-icon":             "ico",
	"image/vnd.microsoft.icon": "ico",
	"image/tiff":               "tif",
	"video/mp4":                "mp4",
	"video/webm":               "webm",
	"audio/mpeg":               "mp3",
	"application/pdf":          "pdf",
}

// MimeExtension maps a Content-Type value to a file extension without the
// leading dot. Unknown types yield "".
func MimeExtension(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := preferredExt[mt]; ok {
		return ext
	}
	exts, err := mime.ExtensionsByType(mt)
	if err != nil || len(exts) == 0 {
		return ""
	}
	sort.Strings(exts)
	return strings.TrimPrefix(exts[0], ".")
}
