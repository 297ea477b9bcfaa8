package session

// State is one position in the session state machine (spec.md §4.C).
type State string

const (
	StateConnecting           State = "connecting"
	StateReady                State = "ready"
	StateBusy                 State = "busy"
	StateWaitingToolDecision  State = "waiting_tool_decision"
	StateDead                 State = "dead"
)

// ProgressEvent is one of the tagged variants fed to a session's progress
// sink while a request is in flight (spec.md §3).
type ProgressEvent struct {
	Kind string // "text_delta" | "tool_start" | "tool_result" | "thinking" | "turn"

	Text         string // text_delta
	Tool         string // tool_start, tool_result
	HumanDetail  string // tool_start
	Success      bool   // tool_result
	StatusText   string // thinking
	TurnNumber   int    // turn
}

func textDelta(text string) ProgressEvent        { return ProgressEvent{Kind: "text_delta", Text: text} }
func toolStart(tool, detail string) ProgressEvent { return ProgressEvent{Kind: "tool_start", Tool: tool, HumanDetail: detail} }
func toolResult(tool string, ok bool) ProgressEvent {
	return ProgressEvent{Kind: "tool_result", Tool: tool, Success: ok}
}
func thinking(status string) ProgressEvent { return ProgressEvent{Kind: "thinking", StatusText: status} }
func turnEvent(n int) ProgressEvent        { return ProgressEvent{Kind: "turn", TurnNumber: n} }

// PendingPermission is a tool-use request surfaced to the client as a
// passthrough tool call, awaiting the client's role:"tool" response.
type PendingPermission struct {
	UpstreamRequestID string
	ToolName          string
	RawInput          []byte
	ToolCallID        string
}

// Result is what a resolved request yields to the dispatcher.
type Result struct {
	Text            string
	Model           string
	InputTokens     int
	OutputTokens    int
	Cost            float64
	Turns           int
	PendingToolCalls []PendingPermission
}

// WarningThresholds are the context-percentage marks that fire a one-shot
// warning progress event, each firing at most once per session (spec §8).
var WarningThresholds = []int{50, 70, 85, 95}
