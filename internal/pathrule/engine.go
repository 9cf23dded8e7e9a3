// Package pathrule turns a resource into a download path using an ordered
// list of naming templates.
//
// A template mixes literal text with attribute references in angle
// brackets. <name> inserts an attribute, <xname|name> inserts the first
// non-empty one. Attribute names are case-insensitive:
//
//	alt       sanitized alt text
//	ext       extension of the URL file name
//	hostname  host without port (host is an alias)
//	index     1-based position of the resource in the run
//	name      URL file name without extension
//	path      directory part of the URL path
//	xname     file name from the Content-Disposition header
//	xext      extension from the Content-Disposition header
//	xmimeext  extension implied by the Content-Type header
//
// The x attributes need a probe request. It is made at most once per
// resource, and only when a rule that references them is reached.
package pathrule

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/lotas/tabharvest/internal/applog"
	"github.com/lotas/tabharvest/internal/types"
)

var (
	ErrNoValidPath = errors.New("no rule produced a valid path")
	ErrInvalidPath = errors.New("invalid download path")
)

// Engine renders path rules. A nil Prober leaves the x attributes empty.
type Engine struct {
	Prober Prober
}

// New returns an engine using p for probe attributes.
func New(p Prober) *Engine {
	return &Engine{Prober: p}
}

// Filename returns the first rule rendering that is a valid relative path.
func (e *Engine) Filename(ctx context.Context, res types.Resource, index int, rules []string) (string, error) {
	attrs, err := Attributes(res, index)
	if err != nil {
		return "", err
	}

	probed := false
	for _, rule := range rules {
		if !probed && needsProbe(rule) {
			e.probe(ctx, res.Src, attrs)
			probed = true
		}
		name := strings.TrimSpace(Render(rule, attrs))
		if IsValidPath(name) {
			applog.Debug("pathrule.match", "rule", rule, "name", name)
			return name, nil
		}
	}
	return "", ErrNoValidPath
}

// Path renders a filename and joins it under baseDir.
func (e *Engine) Path(ctx context.Context, res types.Resource, index int, rules []string, baseDir string) (string, error) {
	name, err := e.Filename(ctx, res, index, rules)
	if err != nil {
		return "", err
	}
	return Join(baseDir, name)
}

func (e *Engine) probe(ctx context.Context, src string, attrs map[string]string) {
	if e.Prober == nil {
		return
	}
	res, err := e.Prober.Probe(ctx, src)
	if err != nil {
		applog.Warn("pathrule.probe", "url", src, "err", err)
		return
	}
	if res.Filename != "" {
		attrs["xname"], attrs["xext"] = splitExt(res.Filename)
	}
	attrs["xmimeext"] = res.MimeExt
}

func needsProbe(rule string) bool {
	r := strings.ToLower(rule)
	return strings.Contains(r, "<x") || strings.Contains(r, "|x")
}

// Attributes derives the URL based template attributes of a resource.
func Attributes(res types.Resource, index int) (map[string]string, error) {
	u, err := url.Parse(res.Src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoValidPath, err)
	}
	p := u.Path
	name, ext := splitExt(path.Base(p))
	dir := strings.Trim(path.Dir(p), "/")
	if dir == "." {
		dir = ""
	}
	attrs := map[string]string{
		"alt":      SanitizeFilename(res.Alt),
		"ext":      ext,
		"hostname": u.Hostname(),
		"host":     u.Hostname(),
		"index":    strconv.Itoa(index),
		"name":     name,
		"path":     dir,
		"xname":    "",
		"xext":     "",
		"xmimeext": "",
	}
	return attrs, nil
}

// splitExt splits a file name at its last dot. A leading dot is part of
// the name.
func splitExt(base string) (name, ext string) {
	if base == "/" || base == "." {
		return "", ""
	}
	i := strings.LastIndexByte(base, '.')
	if i <= 0 {
		return base, ""
	}
	return base[:i], base[i+1:]
}

// Render substitutes attribute references in tmpl. An unterminated
// reference is kept as literal text.
func Render(tmpl string, attrs map[string]string) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(tmpl, '<')
		if open < 0 {
			b.WriteString(tmpl)
			break
		}
		end := strings.IndexByte(tmpl[open:], '>')
		if end < 0 {
			b.WriteString(tmpl)
			break
		}
		b.WriteString(tmpl[:open])
		b.WriteString(lookup(tmpl[open+1:open+end], attrs))
		tmpl = tmpl[open+end+1:]
	}
	return b.String()
}

func lookup(ref string, attrs map[string]string) string {
	for _, key := range strings.Split(ref, "|") {
		if v := attrs[strings.ToLower(strings.TrimSpace(key))]; v != "" {
			return v
		}
	}
	return ""
}
