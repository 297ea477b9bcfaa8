package streaming

import (
	"encoding/json"
	"net/http"

	"github.com/igoryan-dao/ricochet/internal/openai"
	"github.com/igoryan-dao/ricochet/internal/session"
)

// WriteJSON assembles and writes the non-streaming completion object
// (spec.md §4.F "JSON response"): finish_reason is "tool_calls" with a
// cc_<tool> function call per pending permission, or "stop" with the
// accumulated text.
func WriteJSON(w http.ResponseWriter, model string, r session.Result) {
	id := newCompletionID()

	msg := openai.ResponseMessage{Role: "assistant"}
	finishReason := "stop"

	if len(r.PendingToolCalls) > 0 {
		finishReason = "tool_calls"
		msg.ToolCalls = toolCallsFrom(r.PendingToolCalls)
	} else {
		text := r.Text
		msg.Content = &text
	}

	resp := openai.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: nowUnix(),
		Model:   model,
		Choices: []openai.Choice{{Index: 0, Message: msg, FinishReason: finishReason}},
		Usage:   *usageOf(r),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
