package pathrule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPProberReadsHeaders(t *testing.T) {
	var method string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.Header().Set("Content-Disposition", `attachment; filename="../../etc/photo 1.jpeg"`)
		w.Header().Set("Content-Type", "image/png; charset=binary")
	}))
	defer ts.Close()

	res, err := NewHTTPProber().Probe(context.Background(), ts.URL+"/x")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if method != http.MethodHead {
		t.Errorf("method = %s, want HEAD", method)
	}
	if res.Filename != "photo 1.jpeg" {
		t.Errorf("Filename = %q", res.Filename)
	}
	if res.MimeExt != "png" {
		t.Errorf("MimeExt = %q", res.MimeExt)
	}
}

func TestHTTPProberFallsBackToGet(t *testing.T) {
	var methods []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Disposition", `inline; filename*=UTF-8''caf%C3%A9.gif`)
		w.Header().Set("Content-Type", "image/gif")
		w.Write([]byte("GIF89a"))
	}))
	defer ts.Close()

	res, err := NewHTTPProber().Probe(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if len(methods) != 2 || methods[1] != http.MethodGet {
		t.Errorf("methods = %v", methods)
	}
	if res.Filename != "café.gif" || res.MimeExt != "gif" {
		t.Errorf("got %+v", res)
	}
}

func TestHTTPProberErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	if _, err := NewHTTPProber().Probe(context.Background(), ts.URL); err == nil {
		t.Error("expected error for 404")
	}
}

func TestMimeExtension(t *testing.T) {
	tests := map[string]string{
		"image/jpeg":               "jpg",
		"IMAGE/JPEG":               "jpg",
		"image/svg+xml; charset=x": "svg",
		"":                         "",
		"not a type/":              "",
		"application/x-unknown-zz": "",
	}
	for in, want := range tests {
		if got := MimeExtension(in); got != want {
			t.Errorf("MimeExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDispositionFilename(t *testing.T) {
	tests := map[string]string{
		"":                                 "",
		"attachment":                       "",
		`attachment; filename="a.png"`:     "a.png",
		`attachment; filename="dir/b.png"`: "b.png",
	}
	for in, want := range tests {
		if got := dispositionFilename(in); got != want {
			t.Errorf("dispositionFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
