package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWrite_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	InvalidRequest(rec, "bad input")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Message != "bad input" || env.Error.Type != TypeInvalidRequest {
		t.Errorf("envelope = %+v, want message=bad input type=%s", env, TypeInvalidRequest)
	}
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		fn   func(http.ResponseWriter, string)
		want int
	}{
		{"upstream unavailable", UpstreamUnavailable, http.StatusBadGateway},
		{"busy", Busy, http.StatusTooManyRequests},
		{"internal", Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.fn(rec, "oops")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestTranslateUpstreamError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout", errors.New("response timeout after 1m"), "🛑 Response timeout: the agent did not finish in time."},
		{"refused", errors.New("dial tcp: connection refused"), "🌐 Network error: cannot reach the Companion. Check COMPANION_URL."},
		{"disconnected", errors.New("cli_disconnected"), "🔌 Upstream disconnected before finishing this turn."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TranslateUpstreamError(tt.err); got != tt.want {
				t.Errorf("TranslateUpstreamError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
