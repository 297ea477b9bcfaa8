package openai

import (
	"encoding/json"
	"testing"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"bare string", `"hello"`, "hello"},
		{"typed blocks", `[{"type":"text","text":"a"},{"type":"image","text":"ignored"},{"type":"text","text":"b"}]`, "ab"},
		{"empty", ``, ""},
		{"null", `null`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractText(json.RawMessage(tt.raw))
			if got != tt.want {
				t.Errorf("ExtractText(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestChatCompletionRequest_IsStreaming(t *testing.T) {
	yes := true
	no := false
	tests := []struct {
		name string
		req  ChatCompletionRequest
		want bool
	}{
		{"unset", ChatCompletionRequest{}, false},
		{"true", ChatCompletionRequest{Stream: &yes}, true},
		{"false", ChatCompletionRequest{Stream: &no}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.IsStreaming(); got != tt.want {
				t.Errorf("IsStreaming() = %v, want %v", got, tt.want)
			}
		})
	}
}
