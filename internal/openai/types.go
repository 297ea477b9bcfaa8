// Package openai defines the inbound/outbound wire shapes of the OpenAI
// chat-completions surface (spec.md §6). Not teacher-grounded directly —
// the teacher has no OpenAI-shaped wire model of its own — but every field
// here is named by spec.md §3/§6; internal/protocol/types.go (read, not
// copied) confirmed the "content is string or typed blocks" polymorphism
// idiom this package's ExtractText handles.
package openai

import (
	"encoding/json"
	"strings"
)

// Message is one chat message. Content may unmarshal from either a bare
// string or an array of typed content blocks (spec.md §4.E "Deep content
// polymorphism").
type Message struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// ContentBlock is one element of a content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExtractText yields the plain-text form of a message's content,
// regardless of whether it was serialized as a bare string or an array of
// typed blocks: concatenate every block whose type is "text" (spec.md
// §4.E).
func ExtractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		return sb.String()
	}

	return ""
}

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model     string          `json:"model,omitempty"`
	Messages  []Message       `json:"messages"`
	Stream    *bool           `json:"stream,omitempty"`
	Tools     json.RawMessage `json:"tools,omitempty"`
	MaxTokens *int            `json:"max_tokens,omitempty"`
}

// IsStreaming reports whether the request asked for an SSE stream.
func (r ChatCompletionRequest) IsStreaming() bool {
	return r.Stream != nil && *r.Stream
}

// Usage is the OpenAI-shaped token usage block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FunctionCall is the body of one tool_calls entry.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one entry of message.tool_calls / delta.tool_calls.
type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ResponseMessage is the assistant message of a non-streaming completion.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Choice is one entry of a non-streaming completion's choices array.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ChatCompletionResponse is the body of a non-streaming
// /v1/chat/completions response.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Delta is the incremental content of one streaming chunk.
type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChunkChoice is one entry of a streaming chunk's choices array.
type ChunkChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionChunk is the body of one `data: ` SSE event.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// Model is one entry of the GET /v1/models response.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the body of GET /v1/models.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
