package firefox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lotas/tabharvest/internal/types"
)

func touchSession(t *testing.T, profileDir, name string) {
	t.Helper()
	backups := filepath.Join(profileDir, "sessionstore-backups")
	if err := os.MkdirAll(backups, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(backups, name), []byte("dummy"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestParseProfilesINI(t *testing.T) {
	dir := t.TempDir()
	absProfileDir := t.TempDir()
	iniContent := `[General]
StartWithLastProfile=1
Version=2

[Profile0]
Name=default-release
IsRelative=1
Path=abc123.default-release
Default=1

[Profile2]
Name=no-session
IsRelative=1
Path=empty.profile

[Profile1]
Name=dev-edition
IsRelative=0
Path=` + absProfileDir + `
Default=0

[Install308046B0AF4A39CB]
Default=abc123.default-release
Locked=1
`
	iniPath := filepath.Join(dir, "profiles.ini")
	os.WriteFile(iniPath, []byte(iniContent), 0644)

	// Only profiles with a session file are usable.
	touchSession(t, filepath.Join(dir, "abc123.default-release"), "recovery.jsonlz4")
	touchSession(t, absProfileDir, "previous.jsonlz4")

	profiles, err := ParseProfilesINI(iniPath, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}

	// First profile: relative path
	if profiles[0].Name != "default-release" {
		t.Errorf("expected name 'default-release', got %q", profiles[0].Name)
	}
	if profiles[0].Path != filepath.Join(dir, "abc123.default-release") {
		t.Errorf("expected resolved path, got %q", profiles[0].Path)
	}
	if !profiles[0].IsDefault {
		t.Error("expected profile 0 to be default")
	}

	// Second profile: absolute path
	if profiles[1].Name != "dev-edition" {
		t.Errorf("expected name 'dev-edition', got %q", profiles[1].Name)
	}
	if profiles[1].Path != absProfileDir {
		t.Errorf("expected absolute path %q, got %q", absProfileDir, profiles[1].Path)
	}
	if profiles[1].IsDefault {
		t.Error("expected profile 1 to not be default")
	}
}

func TestFindFirefoxDir(t *testing.T) {
	dir := FindFirefoxDir()
	if dir == "" {
		t.Skip("no Firefox directory found on this system")
	}
	t.Logf("found Firefox dir: %s", dir)
}

func TestPickProfile(t *testing.T) {
	profiles := []types.Profile{
		{Name: "work", Path: "/p/work"},
		{Name: "home", Path: "/p/home", IsDefault: true},
	}

	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "home", false},
		{"work", "work", false},
		{"missing", "", true},
	}
	for _, tt := range tests {
		got, err := PickProfile(profiles, tt.name)
		if tt.wantErr {
			if !errors.Is(err, ErrNoProfile) {
				t.Errorf("PickProfile(%q) err = %v, want ErrNoProfile", tt.name, err)
			}
			continue
		}
		if err != nil || got.Name != tt.want {
			t.Errorf("PickProfile(%q) = %q, %v; want %q", tt.name, got.Name, err, tt.want)
		}
	}

	if got, err := PickProfile(profiles[:1], ""); err != nil || got.Name != "work" {
		t.Errorf("PickProfile without default = %q, %v", got.Name, err)
	}
	if _, err := PickProfile(nil, ""); !errors.Is(err, ErrNoProfile) {
		t.Errorf("PickProfile(nil) err = %v", err)
	}
}
