package types

import (
	"encoding/json"
	"testing"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{"right", ScopeRight, false},
		{"LEFT", ScopeLeft, false},
		{"all", ScopeAll, false},
		{"active", ScopeActive, false},
		{"sideways", ScopeRight, true},
		{"", ScopeRight, true},
	}
	for _, tt := range tests {
		got, err := ParseScope(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseScope(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseScope(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestScopeJSON(t *testing.T) {
	var v struct {
		Scope Scope `json:"scope"`
	}
	if err := json.Unmarshal([]byte(`{"scope":"left"}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.Scope != ScopeLeft {
		t.Errorf("scope = %v", v.Scope)
	}
	out, _ := json.Marshal(v)
	if string(out) != `{"scope":"left"}` {
		t.Errorf("marshal = %s", out)
	}
	if err := json.Unmarshal([]byte(`{"scope":"up"}`), &v); err == nil {
		t.Error("expected error for unknown scope")
	}
}

func TestScopeLabel(t *testing.T) {
	if got := ScopeAll.Label(); got != "all tabs" {
		t.Errorf("label = %q", got)
	}
	if got := Scope(42).String(); got != "scope(42)" {
		t.Errorf("string = %q", got)
	}
}

func TestConflictPolicyValid(t *testing.T) {
	for _, p := range []ConflictPolicy{ConflictUniquify, ConflictOverwrite, ConflictPrompt} {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	if ConflictPolicy("skip").Valid() {
		t.Error("skip should be invalid")
	}
}
