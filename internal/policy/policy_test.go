package policy

import (
	"encoding/json"
	"testing"
)

func TestEngineDecide_Defaults(t *testing.T) {
	tests := []struct {
		name  string
		mode  GlobalMode
		tool  string
		input string
		want  Decision
	}{
		{"read allowed", ModePassthrough, "Read", `{"file_path":"a.go"}`, Allow},
		{"read case insensitive", ModePassthrough, "read", `{}`, Allow},
		{"unknown tool passthrough mode", ModePassthrough, "Bash", `{"command":"ls"}`, Passthrough},
		{"unknown tool auto mode", ModeAuto, "Bash", `{"command":"ls"}`, Allow},
		{"glob allowed even in passthrough mode", ModePassthrough, "Glob", `{}`, Allow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewDefault(tt.mode)
			got := e.Decide(tt.tool, json.RawMessage(tt.input))
			if got != tt.want {
				t.Errorf("Decide(%q) = %q, want %q", tt.tool, got, tt.want)
			}
		})
	}
}

func TestEngineDecide_OrderAndInputContains(t *testing.T) {
	rules := []Rule{
		{Tool: "Bash", Action: Deny, InputContains: "rm -rf"},
		{Tool: "Bash", Action: Allow},
		{Tool: "*", Action: Passthrough},
	}
	e := New(rules)

	if got := e.Decide("Bash", json.RawMessage(`{"command":"rm -rf /"}`)); got != Deny {
		t.Errorf("Decide() = %q, want %q", got, Deny)
	}
	if got := e.Decide("Bash", json.RawMessage(`{"command":"ls"}`)); got != Allow {
		t.Errorf("Decide() = %q, want %q", got, Allow)
	}
	if got := e.Decide("Write", json.RawMessage(`{}`)); got != Passthrough {
		t.Errorf("Decide() = %q, want %q", got, Passthrough)
	}
}

func TestEngineDecide_Deterministic(t *testing.T) {
	e := NewDefault(ModeAuto)
	input := json.RawMessage(`{"command":"ls"}`)
	first := e.Decide("Bash", input)
	for i := 0; i < 10; i++ {
		if got := e.Decide("Bash", input); got != first {
			t.Fatalf("Decide() is not deterministic: got %q then %q", first, got)
		}
	}
}

func TestLoadOverride_MalformedFallsBackToDefaults(t *testing.T) {
	e := LoadOverride([]byte("not json"), ModeAuto)
	want := NewDefault(ModeAuto)
	if len(e.Rules()) != len(want.Rules()) {
		t.Fatalf("LoadOverride with malformed input did not fall back to defaults")
	}
}

func TestLoadOverride_Valid(t *testing.T) {
	raw := []byte(`[{"tool":"WebFetch","action":"deny"},{"tool":"*","action":"allow"}]`)
	e := LoadOverride(raw, ModeAuto)
	if got := e.Decide("WebFetch", json.RawMessage(`{}`)); got != Deny {
		t.Errorf("Decide() = %q, want %q", got, Deny)
	}
}
