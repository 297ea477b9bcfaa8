// Package streaming implements the Stream Fan-out (spec.md §4.F): turning a
// session's progress events and terminal result into either an SSE stream
// or a single JSON completion, plus the tool-call shaping shared by both.
package streaming

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/igoryan-dao/ricochet/internal/openai"
	"github.com/igoryan-dao/ricochet/internal/session"
)

func newCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}

func contentChunk(id, model, content string, withRole bool) openai.ChatCompletionChunk {
	delta := openai.Delta{Content: content}
	if withRole {
		delta.Role = "assistant"
	}
	return openai.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: nowUnix(),
		Model:   model,
		Choices: []openai.ChunkChoice{{Index: 0, Delta: delta}},
	}
}

func finishChunk(id, model, finishReason string, usage *openai.Usage) openai.ChatCompletionChunk {
	reason := finishReason
	return openai.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: nowUnix(),
		Model:   model,
		Choices: []openai.ChunkChoice{{Index: 0, Delta: openai.Delta{}, FinishReason: &reason}},
		Usage:   usage,
	}
}

func toolCallsChunk(id, model string, calls []openai.ToolCall) openai.ChatCompletionChunk {
	return openai.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: nowUnix(),
		Model:   model,
		Choices: []openai.ChunkChoice{{Index: 0, Delta: openai.Delta{Role: "assistant", ToolCalls: calls}}},
	}
}

// toolCallsFrom shapes a session's pending permissions into OpenAI function
// tool calls: name is "cc_<lowercased tool name>", arguments is the raw
// JSON of the original tool input (spec.md §4.F).
func toolCallsFrom(pending []session.PendingPermission) []openai.ToolCall {
	calls := make([]openai.ToolCall, 0, len(pending))
	for i, pp := range pending {
		args := string(pp.RawInput)
		if args == "" {
			args = "{}"
		}
		idx := i
		calls = append(calls, openai.ToolCall{
			Index: &idx,
			ID:    pp.ToolCallID,
			Type:  "function",
			Function: openai.FunctionCall{
				Name:      "cc_" + strings.ToLower(pp.ToolName),
				Arguments: args,
			},
		})
	}
	return calls
}

func usageOf(r session.Result) *openai.Usage {
	return &openai.Usage{
		PromptTokens:     r.InputTokens,
		CompletionTokens: r.OutputTokens,
		TotalTokens:      r.InputTokens + r.OutputTokens,
	}
}

func nowUnix() int64 { return time.Now().Unix() }

func toolStartLine(detail string) string   { return fmt.Sprintf("\n\n_%s_\n\n", detail) }
func toolResultLine(tool string, ok bool) string {
	mark := "✅"
	if !ok {
		mark = "❌"
	}
	return fmt.Sprintf("_%s %s done_\n", mark, tool)
}
func thinkingLine(status string) string { return fmt.Sprintf("\n_🧠 %s_\n", status) }
