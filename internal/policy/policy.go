// Package policy implements the Tool Policy Engine (spec.md §4.A): a small,
// ordered rule list mapping (tool name, input) to an allow/deny/passthrough
// decision, loaded once at start-up.
//
// The ordered-rule, deny-can-be-anywhere-in-the-list evaluation idiom is
// grounded on haasonsaas-nexus's internal/tools/policy.Policy (Allow/Deny
// list merge-then-match), simplified to the flat rule shape spec.md
// defines — this system has no per-provider sub-policies to merge.
package policy

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

// Decision is the outcome of evaluating a tool-use request against the
// rule list.
type Decision string

const (
	Allow       Decision = "allow"
	Deny        Decision = "deny"
	Passthrough Decision = "passthrough"
)

// Rule is one entry of the ordered rule list (spec.md §3).
type Rule struct {
	Tool          string   `json:"tool" yaml:"tool"`
	Action        Decision `json:"action" yaml:"action"`
	InputContains string   `json:"input_contains,omitempty" yaml:"input_contains,omitempty"`
}

// GlobalMode picks the catch-all decision when TOOL_MODE has no matching
// rule: "auto" (allow everything not explicitly denied) or "passthrough"
// (surface everything not explicitly allow/deny-listed to the client).
type GlobalMode string

const (
	ModeAuto        GlobalMode = "auto"
	ModePassthrough GlobalMode = "passthrough"
)

// DefaultRules returns the built-in rule list: read-only/introspection
// tools always allowed, with a catch-all matching the process-wide mode.
func DefaultRules(mode GlobalMode) []Rule {
	catchAll := Allow
	if mode == ModePassthrough {
		catchAll = Passthrough
	}
	return []Rule{
		{Tool: "Read", Action: Allow},
		{Tool: "Glob", Action: Allow},
		{Tool: "Grep", Action: Allow},
		{Tool: "WebSearch", Action: Allow},
		{Tool: "Task", Action: Allow},
		{Tool: "*", Action: catchAll},
	}
}

// Engine evaluates tool-use requests against its rule list top-to-bottom;
// the first matching rule decides. Evaluation is a pure function of
// (tool name, input) — no state is mutated by Decide, so two calls with
// equal inputs always agree (spec.md §8).
type Engine struct {
	rules []Rule
}

// New builds an engine from an explicit rule list. With a nil/empty list
// no rule matches and Decide falls back to Allow.
func New(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// NewDefault builds an engine using the built-in defaults for the given
// global mode.
func NewDefault(mode GlobalMode) *Engine {
	return &Engine{rules: DefaultRules(mode)}
}

// LoadOverride parses a TOOL_POLICY override (a JSON array of rules). On
// malformed input it logs a warning and returns the defaults for mode,
// matching spec.md §4.A: "a malformed override falls back to defaults and
// logs a warning."
func LoadOverride(raw []byte, mode GlobalMode) *Engine {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return NewDefault(mode)
	}
	var rules []Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		log.Warn().Str("component", "policy").Err(err).Msg("malformed TOOL_POLICY override, falling back to defaults")
		return NewDefault(mode)
	}
	if len(rules) == 0 {
		log.Warn().Str("component", "policy").Msg("empty TOOL_POLICY override, falling back to defaults")
		return NewDefault(mode)
	}
	return &Engine{rules: rules}
}

// Decide evaluates the rule list against a tool-use request. input is the
// raw JSON of the tool's arguments; it is only ever inspected as a string
// for the input_contains substring check, never parsed.
func (e *Engine) Decide(toolName string, input json.RawMessage) Decision {
	serialized := string(input)
	lowerTool := strings.ToLower(toolName)

	for _, r := range e.rules {
		if r.Tool != "*" && strings.ToLower(r.Tool) != lowerTool {
			continue
		}
		if r.InputContains != "" && !strings.Contains(serialized, r.InputContains) {
			continue
		}
		return r.Action
	}
	return Allow
}

// Rules returns a copy of the active rule list (for diagnostics, e.g.
// !bridge status).
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}
