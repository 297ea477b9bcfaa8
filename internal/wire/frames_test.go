package wire

import "testing"

func TestNewUserMessage(t *testing.T) {
	f := NewUserMessage("hello")
	if f.Type != "user_message" || f.Content != "hello" {
		t.Errorf("NewUserMessage() = %+v", f)
	}
}

func TestNewControlResponse(t *testing.T) {
	f := NewControlResponse("req-1", "allow", map[string]any{"a": 1}, "ok")
	if f.Type != "control_response" {
		t.Errorf("Type = %q, want control_response", f.Type)
	}
	if f.Response.Subtype != "success" || f.Response.RequestID != "req-1" {
		t.Errorf("Response envelope = %+v", f.Response)
	}
	if f.Response.Response.Behavior != "allow" || f.Response.Response.Message != "ok" {
		t.Errorf("inner response = %+v", f.Response.Response)
	}
}
