// Package wire defines the frame shapes exchanged with the Companion over
// its WebSocket, and the bodies of its two plain HTTP session endpoints.
// The shape of these frames is immutable from this adapter's perspective
// (they belong to an external collaborator); this package only decodes and
// constructs them.
package wire

import "encoding/json"

// InFrame is the envelope every frame received from the Companion is first
// decoded into, so the type tag can be inspected before picking the
// concrete payload shape.
type InFrame struct {
	Type string `json:"type"`

	// session_init
	Session *struct {
		Model string `json:"model"`
	} `json:"session,omitempty"`

	// assistant
	ParentToolUseID string        `json:"parent_tool_use_id,omitempty"`
	Message         *AssistantMsg `json:"message,omitempty"`

	// stream_event
	Event *StreamEvent `json:"event,omitempty"`

	// permission_request
	RequestID string          `json:"request_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`

	// tool_result
	IsError bool `json:"is_error,omitempty"`

	// result
	Data *ResultData `json:"data,omitempty"`
}

// AssistantMsg is the `message` object of an `assistant` frame.
type AssistantMsg struct {
	Content []ContentBlock `json:"content"`
	Usage   *Usage         `json:"usage,omitempty"`
	Model   string         `json:"model,omitempty"`
}

// ContentBlock is one block of an assistant message's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage is the per-turn token usage the Companion reports.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamEvent is the payload of a `stream_event` frame.
type StreamEvent struct {
	Type  string `json:"type"`
	Block *struct {
		Type string `json:"type"`
	} `json:"content_block,omitempty"`
}

// ResultData is the payload of a terminal `result` frame.
type ResultData struct {
	IsError     bool     `json:"is_error"`
	Result      string   `json:"result,omitempty"`
	Errors      []string `json:"errors,omitempty"`
	TotalCostUS float64  `json:"total_cost_usd"`
	NumTurns    int      `json:"num_turns"`
	Usage       *Usage   `json:"usage,omitempty"`
}

// Frame type tags recognized on the inbound side.
const (
	TypeSessionInit     = "session_init"
	TypeCliConnected    = "cli_connected"
	TypeAssistant       = "assistant"
	TypeStreamEvent     = "stream_event"
	TypePermissionReq   = "permission_request"
	TypeToolResult      = "tool_result"
	TypeResult          = "result"
	TypeCliDisconnected = "cli_disconnected"
	TypePing            = "ping"
	TypePong            = "pong"
	TypeHeartbeat       = "heartbeat"
)

// UserMessageFrame is the outbound `user_message` frame.
type UserMessageFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// NewUserMessage builds an outbound user_message frame.
func NewUserMessage(content string) UserMessageFrame {
	return UserMessageFrame{Type: "user_message", Content: content}
}

// PermissionResponseFrame answers a permission_request directly (auto mode).
type PermissionResponseFrame struct {
	Type         string `json:"type"`
	RequestID    string `json:"request_id"`
	Behavior     string `json:"behavior"`
	UpdatedInput any    `json:"updated_input,omitempty"`
	Message      string `json:"message,omitempty"`
}

// ControlResponseFrame answers a parked (passthrough) permission decision
// once the client has resolved it.
type ControlResponseFrame struct {
	Type     string               `json:"type"`
	Response ControlResponsePayld `json:"response"`
}

type ControlResponsePayld struct {
	Subtype   string                `json:"subtype"`
	RequestID string                `json:"request_id"`
	Response  ControlInnerResponse  `json:"response"`
}

type ControlInnerResponse struct {
	Behavior     string `json:"behavior"`
	UpdatedInput any    `json:"updatedInput,omitempty"`
	Message      string `json:"message,omitempty"`
}

// NewControlResponse builds the outbound control_response frame used to
// resolve a parked (passthrough) tool permission decision.
func NewControlResponse(requestID, behavior string, updatedInput any, message string) ControlResponseFrame {
	return ControlResponseFrame{
		Type: "control_response",
		Response: ControlResponsePayld{
			Subtype:   "success",
			RequestID: requestID,
			Response: ControlInnerResponse{
				Behavior:     behavior,
				UpdatedInput: updatedInput,
				Message:      message,
			},
		},
	}
}

// CreateSessionRequest is the body of POST <companion>/api/sessions/create.
type CreateSessionRequest struct {
	PermissionMode string `json:"permissionMode"`
	Cwd            string `json:"cwd"`
}

// CreateSessionResponse is the response body of the same endpoint.
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
}
