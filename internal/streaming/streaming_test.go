package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/igoryan-dao/ricochet/internal/openai"
	"github.com/igoryan-dao/ricochet/internal/session"
)

func splitEvents(body string) []string {
	var out []string
	for _, chunk := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		out = append(out, chunk)
	}
	return out
}

func TestRun_PlainTextCompletion(t *testing.T) {
	rec := httptest.NewRecorder()
	work := func(ctx context.Context, attach func(*session.Session)) (session.Result, error) {
		return session.Result{Text: "hello there", InputTokens: 3, OutputTokens: 2}, nil
	}

	Run(context.Background(), rec, "test-model", "", work)

	body := rec.Body.String()
	if !strings.Contains(body, "hello there") {
		t.Fatalf("SSE body missing completion text: %q", body)
	}
	if !strings.HasSuffix(strings.TrimRight(body, "\n"), "data: [DONE]") {
		t.Fatalf("SSE body does not end with [DONE]: %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
}

func TestRun_PrefixNotice(t *testing.T) {
	rec := httptest.NewRecorder()
	work := func(ctx context.Context, attach func(*session.Session)) (session.Result, error) {
		return session.Result{Text: "ok"}, nil
	}

	Run(context.Background(), rec, "m", "\n\n_waiting_\n\n", work)

	body := rec.Body.String()
	if !strings.Contains(body, "waiting") {
		t.Fatalf("SSE body missing prefix notice: %q", body)
	}
}

func TestRun_ErrorMidStreamEmitsTranslatedMessageThenDone(t *testing.T) {
	rec := httptest.NewRecorder()
	work := func(ctx context.Context, attach func(*session.Session)) (session.Result, error) {
		return session.Result{}, errors.New("dial tcp: connection refused")
	}

	Run(context.Background(), rec, "m", "", work)

	body := rec.Body.String()
	if !strings.Contains(body, "Network error") {
		t.Fatalf("SSE body missing translated error: %q", body)
	}
	if !strings.Contains(body, "[DONE]") {
		t.Fatalf("SSE body missing terminal [DONE]: %q", body)
	}
}

func TestRun_ToolCallsEmitsToolCallsFinish(t *testing.T) {
	rec := httptest.NewRecorder()
	work := func(ctx context.Context, attach func(*session.Session)) (session.Result, error) {
		return session.Result{
			PendingToolCalls: []session.PendingPermission{
				{ToolCallID: "abc123def456", ToolName: "Bash", RawInput: []byte(`{"command":"ls"}`)},
			},
		}, nil
	}

	Run(context.Background(), rec, "m", "", work)

	body := rec.Body.String()
	if !strings.Contains(body, `"finish_reason":"tool_calls"`) {
		t.Fatalf("SSE body missing tool_calls finish reason: %q", body)
	}
	if !strings.Contains(body, "cc_bash") {
		t.Fatalf("SSE body missing synthesized function name: %q", body)
	}
}

func TestWriteJSON_StopReason(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, "m", session.Result{Text: "hi", InputTokens: 1, OutputTokens: 1})

	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("Choices = %d, want 1", len(resp.Choices))
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", resp.Choices[0].FinishReason)
	}
	if resp.Choices[0].Message.Content == nil || *resp.Choices[0].Message.Content != "hi" {
		t.Errorf("Message.Content = %v, want hi", resp.Choices[0].Message.Content)
	}
}

func TestWriteJSON_ToolCallsReason(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, "m", session.Result{
		PendingToolCalls: []session.PendingPermission{
			{ToolCallID: "abc123def456", ToolName: "Read", RawInput: []byte(`{"file_path":"a.go"}`)},
		},
	})

	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, want tool_calls", resp.Choices[0].FinishReason)
	}
	if resp.Choices[0].Message.Content != nil {
		t.Errorf("Message.Content = %v, want nil when pending tool calls", resp.Choices[0].Message.Content)
	}
	if len(resp.Choices[0].Message.ToolCalls) != 1 || resp.Choices[0].Message.ToolCalls[0].Function.Name != "cc_read" {
		t.Errorf("ToolCalls = %+v, want one cc_read call", resp.Choices[0].Message.ToolCalls)
	}
}

func TestRunLocalSSE_DoesNotTouchSession(t *testing.T) {
	rec := httptest.NewRecorder()
	RunLocalSSE(rec, "m", "hello from a command")

	body := rec.Body.String()
	if !strings.Contains(body, "hello from a command") {
		t.Fatalf("body missing local text: %q", body)
	}
	if !strings.Contains(body, "[DONE]") {
		t.Fatalf("body missing [DONE]: %q", body)
	}
}

func TestWriteLocalJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteLocalJSON(rec, "m", "a local reply")

	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Choices[0].Message.Content == nil || *resp.Choices[0].Message.Content != "a local reply" {
		t.Fatalf("Content = %v, want %q", resp.Choices[0].Message.Content, "a local reply")
	}
}
