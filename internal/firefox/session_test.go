package firefox

import (
	"encoding/binary"
	"testing"

	"github.com/pierrec/lz4/v4"
)

// mozlz4 wraps data the way Firefox writes session files.
func mozlz4(t *testing.T, data []byte) []byte {
	t.Helper()
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		t.Fatalf("lz4.CompressBlock failed: %v", err)
	}
	out := make([]byte, 12, 12+n)
	copy(out, "mozLz40\x00")
	binary.LittleEndian.PutUint32(out[8:], uint32(len(data)))
	return append(out, dst[:n]...)
}

func TestDecompressMozLz4(t *testing.T) {
	t.Run("valid mozlz4 payload", func(t *testing.T) {
		original := []byte(`{"windows":[{"tabs":[]}]}`)
		result, err := DecompressMozLz4(mozlz4(t, original))
		if err != nil {
			t.Fatalf("DecompressMozLz4 returned error: %v", err)
		}
		if string(result) != string(original) {
			t.Errorf("expected %q, got %q", original, result)
		}
	})

	t.Run("invalid header returns error", func(t *testing.T) {
		if _, err := DecompressMozLz4([]byte("BADMAGIC\x00\x00\x00\x00some data here")); err == nil {
			t.Fatal("expected error for invalid header, got nil")
		}
	})

	t.Run("too short data returns error", func(t *testing.T) {
		if _, err := DecompressMozLz4([]byte("mozLz40")); err == nil {
			t.Fatal("expected error for too-short data, got nil")
		}
	})
}

func TestParseSession(t *testing.T) {
	data := []byte(`{
		"windows": [
			{
				"selected": 2,
				"tabs": [
					{"entries": [{"url": "https://example.com", "title": "Example"}], "index": 1},
					{"entries": [
						{"url": "https://old.com", "title": "Old Page"},
						{"url": "https://current.com", "title": "Current Page"}
					], "index": 2},
					{"entries": []},
					{"entries": [{"url": "https://hidden.com"}], "index": 1, "hidden": true},
					{"entries": [{"url": "https://last.com"}], "index": 9}
				]
			},
			{
				"selected": 1,
				"tabs": [{"entries": [{"url": "about:home"}], "index": 1}]
			}
		]
	}`)

	windows, err := ParseSession(data)
	if err != nil {
		t.Fatalf("ParseSession returned error: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}

	w := windows[0]
	if w.ID != 1 || len(w.Tabs) != 3 {
		t.Fatalf("window 0 = id %d with %d tabs", w.ID, len(w.Tabs))
	}
	if w.Tabs[0].URL != "https://example.com" || w.Tabs[0].Active || !w.Tabs[0].Discarded {
		t.Errorf("tab 0 = %+v", w.Tabs[0])
	}
	// index=2 means entries[1] is the current page.
	if w.Tabs[1].URL != "https://current.com" || w.Tabs[1].Title != "Current Page" || !w.Tabs[1].Active || w.Tabs[1].Discarded {
		t.Errorf("tab 1 = %+v", w.Tabs[1])
	}
	// An out of range index falls back to the last entry.
	if w.Tabs[2].URL != "https://last.com" || w.Tabs[2].Index != 2 {
		t.Errorf("tab 2 = %+v", w.Tabs[2])
	}

	second := windows[1]
	if second.ID != 2 || len(second.Tabs) != 1 || !second.Tabs[0].Active {
		t.Errorf("window 1 = %+v", second)
	}
	if second.Tabs[0].ID != 4 || second.Tabs[0].WindowID != 2 {
		t.Errorf("tab ids should continue across windows: %+v", second.Tabs[0])
	}
}

func TestParseSessionInvalid(t *testing.T) {
	if _, err := ParseSession([]byte(`{"windows": 3}`)); err == nil {
		t.Error("expected error")
	}
}
