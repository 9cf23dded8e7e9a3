package firefox

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/lotas/tabharvest/internal/types"
)

// ErrNoProfile is returned when no usable profile matches.
var ErrNoProfile = errors.New("no usable Firefox profile")

// FindFirefoxDir returns the platform-specific Firefox profile directory.
func FindFirefoxDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch runtime.GOOS {
	case "linux":
		return filepath.Join(home, ".mozilla", "firefox")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Firefox")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Mozilla", "Firefox")
		}
	}
	return ""
}

// ParseProfilesINI reads profiles.ini and returns the profiles that have a
// session file. Relative paths are resolved against firefoxDir.
func ParseProfilesINI(iniPath, firefoxDir string) ([]types.Profile, error) {
	f, err := os.Open(iniPath)
	if err != nil {
		return nil, fmt.Errorf("open profiles.ini: %w", err)
	}
	defer f.Close()

	var (
		profiles []types.Profile
		inProf   bool
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inProf = strings.HasPrefix(line, "[Profile")
			if inProf {
				profiles = append(profiles, types.Profile{})
			}
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !inProf || !ok {
			continue
		}
		p := &profiles[len(profiles)-1]
		switch key {
		case "Name":
			p.Name = value
		case "Path":
			p.Path = value
		case "IsRelative":
			p.IsRelative = value == "1"
		case "Default":
			p.IsDefault = value == "1"
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan profiles.ini: %w", err)
	}

	var usable []types.Profile
	for _, p := range profiles {
		if p.IsRelative {
			p.Path = filepath.Join(firefoxDir, filepath.FromSlash(p.Path))
		}
		if _, err := sessionPath(p.Path); err == nil {
			usable = append(usable, p)
		}
	}
	return usable, nil
}

// DiscoverProfiles finds the usable Firefox profiles on this system.
func DiscoverProfiles() ([]types.Profile, error) {
	dir := FindFirefoxDir()
	if dir == "" {
		return nil, fmt.Errorf("could not find Firefox directory for %s", runtime.GOOS)
	}
	return ParseProfilesINI(filepath.Join(dir, "profiles.ini"), dir)
}

// PickProfile returns the profile called name, or the default profile (the
// first one when none is marked) when name is empty.
func PickProfile(profiles []types.Profile, name string) (types.Profile, error) {
	if len(profiles) == 0 {
		return types.Profile{}, ErrNoProfile
	}
	if name == "" {
		for _, p := range profiles {
			if p.IsDefault {
				return p, nil
			}
		}
		return profiles[0], nil
	}
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return types.Profile{}, fmt.Errorf("profile %q: %w", name, ErrNoProfile)
}
