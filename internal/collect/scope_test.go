package collect

import (
	"reflect"
	"testing"

	"github.com/lotas/tabharvest/internal/types"
)

func TestSelectIndices(t *testing.T) {
	tests := []struct {
		name          string
		n, active     int
		scope         types.Scope
		includeActive bool
		want          []int
	}{
		{"left with active", 4, 2, types.ScopeLeft, true, []int{0, 1, 2}},
		{"left without active", 4, 2, types.ScopeLeft, false, []int{0, 1}},
		{"right with active", 4, 1, types.ScopeRight, true, []int{1, 2, 3}},
		{"right without active", 4, 1, types.ScopeRight, false, []int{2, 3}},
		{"all with active", 3, 1, types.ScopeAll, true, []int{0, 1, 2}},
		{"all without active", 3, 1, types.ScopeAll, false, []int{0, 2}},
		{"active ignores includeActive", 3, 1, types.ScopeActive, false, []int{1}},
		{"active first tab", 3, 0, types.ScopeActive, true, []int{0}},
		{"right active last", 3, 2, types.ScopeRight, true, []int{2}},
		{"no active tab left", 2, -1, types.ScopeLeft, true, []int{0, 1}},
		{"no active tab right", 2, -1, types.ScopeRight, true, nil},
		{"empty window", 0, -1, types.ScopeAll, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectIndices(tt.n, tt.active, tt.scope, tt.includeActive)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectTabsLeftScope(t *testing.T) {
	tabs := []types.Tab{
		{ID: 1, URL: "https://x.test/"},
		{ID: 2, URL: "https://y.test/"},
		{ID: 3, URL: "https://a.test/", Active: true},
		{ID: 4, URL: "https://z.test/"},
	}
	got := SelectTabs(tabs, types.ScopeLeft, true)
	var ids []types.TabID
	for _, tab := range got {
		ids = append(ids, tab.ID)
	}
	if !reflect.DeepEqual(ids, []types.TabID{1, 2, 3}) {
		t.Errorf("got %v, want [1 2 3]", ids)
	}
}

func TestSelectTabsDropsIneligibleURLs(t *testing.T) {
	tabs := []types.Tab{
		{ID: 1, URL: "about:blank", Active: true},
		{ID: 2, URL: "ftp://files.test/a"},
		{ID: 3, URL: "moz-extension://abc/page.html"},
		{ID: 4, URL: "ftps://secure.test/b"},
		{ID: 5, URL: "http://"},
	}
	got := SelectTabs(tabs, types.ScopeAll, true)
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 4 {
		t.Errorf("got %+v", got)
	}

	if got := SelectTabs(tabs[:1], types.ScopeActive, true); len(got) != 0 {
		t.Errorf("active about:blank tab should be dropped, got %+v", got)
	}
}

func TestEligible(t *testing.T) {
	for url, want := range map[string]bool{
		"https://example.com/":  true,
		"http://example.com":    true,
		"ftp://example.com/x":   true,
		"file:///tmp/x.html":    false,
		"data:text/html,hi":     false,
		"HTTPS://EXAMPLE.COM/x": false,
	} {
		if got := Eligible(url); got != want {
			t.Errorf("Eligible(%q) = %v, want %v", url, got, want)
		}
	}
}

func TestActiveTab(t *testing.T) {
	tabs := []types.Tab{{ID: 1}, {ID: 2, Active: true}}
	tab, ok := ActiveTab(tabs)
	if !ok || tab.ID != 2 {
		t.Errorf("ActiveTab = %+v, %v", tab, ok)
	}
	if _, ok := ActiveTab(nil); ok {
		t.Error("no active tab expected")
	}
}
