// Package collect picks the tabs a run works on, waits for them to load and
// filters what their pages yield.
package collect

import (
	"regexp"

	"github.com/lotas/tabharvest/internal/types"
)

var eligibleURL = regexp.MustCompile(`^(https?|ftps?)://.+`)

// Eligible reports whether a tab URL can be harvested.
func Eligible(url string) bool {
	return eligibleURL.MatchString(url)
}

// SelectIndices returns the positions of the tabs a scope covers in a
// window of n tabs whose active tab is at position active. A negative
// active position treats every tab as lying left of the active tab.
func SelectIndices(n, active int, scope types.Scope, includeActive bool) []int {
	left := scope == types.ScopeLeft || scope == types.ScopeAll
	right := scope == types.ScopeRight || scope == types.ScopeAll
	withActive := scope == types.ScopeActive || includeActive

	if active < 0 {
		active = n
	}

	var out []int
	for i := 0; i < n; i++ {
		switch {
		case i < active:
			if left {
				out = append(out, i)
			}
		case i == active:
			if withActive {
				out = append(out, i)
			}
			if !right {
				return out
			}
		default:
			out = append(out, i)
		}
	}
	return out
}

// SelectTabs applies scope to tabs in window order and drops tabs whose URL
// is not http(s) or ftp(s).
func SelectTabs(tabs []types.Tab, scope types.Scope, includeActive bool) []types.Tab {
	active := -1
	for i, t := range tabs {
		if t.Active {
			active = i
			break
		}
	}

	var out []types.Tab
	for _, i := range SelectIndices(len(tabs), active, scope, includeActive) {
		if Eligible(tabs[i].URL) {
			out = append(out, tabs[i])
		}
	}
	return out
}

// ActiveTab returns the active tab of a window, if any.
func ActiveTab(tabs []types.Tab) (types.Tab, bool) {
	for _, t := range tabs {
		if t.Active {
			return t, true
		}
	}
	return types.Tab{}, false
}
