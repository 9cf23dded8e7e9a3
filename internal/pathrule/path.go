package pathrule

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	invalidNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	invalidPathChars = regexp.MustCompile(`[<>:"\\|?*\x00-\x1f]`)
	trailingDots     = regexp.MustCompile(`\.+$`)
	whitespace       = regexp.MustCompile(`\s+`)
	repeatedSlashes  = regexp.MustCompile(`/{2,}`)
)

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilename makes free text usable as a single path segment.
//
//	SanitizeFilename("A cat: sleeping/awake") // "A cat_ sleeping_awake"
func SanitizeFilename(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "_")
	name = whitespace.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	return trailingDots.ReplaceAllString(name, "")
}

// IsValidPath reports whether p is a usable relative download path: not
// empty, no illegal characters, and no empty, dot-leading, dot- or
// space-trailing or reserved segment.
func IsValidPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || invalidPathChars.MatchString(p) {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if !validSegment(seg) {
			return false
		}
	}
	return true
}

func validSegment(seg string) bool {
	if seg == "" || strings.TrimSpace(seg) == "" {
		return false
	}
	if strings.HasPrefix(seg, ".") || strings.HasSuffix(seg, ".") || strings.HasSuffix(seg, " ") {
		return false
	}
	stem := seg
	if i := strings.IndexByte(seg, '.'); i >= 0 {
		stem = seg[:i]
	}
	return !reservedNames[strings.ToUpper(stem)]
}

// Join places rel under the base download directory and validates the
// result. Backslashes in base are treated as separators.
func Join(base, rel string) (string, error) {
	base = strings.Trim(strings.ReplaceAll(base, `\`, "/"), "/ ")
	joined := rel
	if base != "" {
		joined = base + "/" + rel
	}
	joined = repeatedSlashes.ReplaceAllString(joined, "/")
	if !IsValidPath(joined) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, joined)
	}
	return joined, nil
}
