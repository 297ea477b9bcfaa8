package dispatcher

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/igoryan-dao/ricochet/internal/command"
	"github.com/igoryan-dao/ricochet/internal/config"
	"github.com/igoryan-dao/ricochet/internal/contextmgr"
	"github.com/igoryan-dao/ricochet/internal/policy"
	"github.com/igoryan-dao/ricochet/internal/pool"
	"github.com/igoryan-dao/ricochet/internal/wire"
)

var upgrader = websocket.Upgrader{}

func newFakeCompanion(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions/create", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wire.CreateSessionResponse{SessionID: "up-1"})
	})
	mux.HandleFunc("/api/sessions/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ws/browser/up-1", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(wire.InFrame{Type: wire.TypeCliConnected})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			conn.WriteJSON(wire.InFrame{
				Type: wire.TypeResult,
				Data: &wire.ResultData{Result: "hi back", TotalCostUS: 0.001, NumTurns: 1, Usage: &wire.Usage{InputTokens: 1, OutputTokens: 1}},
			})
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	companionURL := newFakeCompanion(t)
	p := pool.New(pool.Config{
		CompanionURL:       companionURL,
		PermissionMode:     "auto",
		SessionCwd:         ".",
		MaxSessions:        4,
		ResponseTimeout:    2 * time.Second,
		SessionIdleTimeout: time.Hour,
	}, policy.NewDefault(policy.ModeAuto))
	m := contextmgr.NewManager(t.TempDir(), 40, 20)
	reg := config.NewRegister(config.StrategyNone)
	return &Dispatcher{
		Pool:            p,
		Manager:         m,
		Register:        reg,
		Commands:        command.New(m, p),
		ModelName:       "test-model",
		ResponseTimeout: 2 * time.Second,
	}
}

func postJSON(t *testing.T, d *Dispatcher, body map[string]any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	return rec
}

func TestServeHTTP_MalformedJSON(t *testing.T) {
	d := newTestDispatcher(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServeHTTP_EmptyMessages(t *testing.T) {
	d := newTestDispatcher(t)
	rec := postJSON(t, d, map[string]any{"model": "m", "messages": []any{}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServeHTTP_InvalidRole(t *testing.T) {
	d := newTestDispatcher(t)
	rec := postJSON(t, d, map[string]any{
		"model":    "m",
		"messages": []any{map[string]any{"role": "narrator", "content": "hi"}},
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServeHTTP_CommandInterceptedWithoutTouchingUpstream(t *testing.T) {
	d := newTestDispatcher(t)
	rec := postJSON(t, d, map[string]any{
		"model":    "m",
		"messages": []any{map[string]any{"role": "user", "content": "!bridge status"}},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if d.Pool.Size() != 0 {
		t.Errorf("Pool.Size() = %d, want 0 (command must not create a session)", d.Pool.Size())
	}
}

func TestServeHTTP_NonStreamingPromptRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	rec := postJSON(t, d, map[string]any{
		"model":    "m",
		"messages": []any{map[string]any{"role": "user", "content": "hello"}},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("hi back")) {
		t.Errorf("response body missing upstream text: %s", rec.Body.String())
	}
}

func TestServeHTTP_SessionKeyHeaderDerivesDistinctSessions(t *testing.T) {
	d := newTestDispatcher(t)
	body := map[string]any{
		"model":    "m",
		"messages": []any{map[string]any{"role": "user", "content": "hello"}},
	}
	postJSON(t, d, body, map[string]string{"X-Session-Key": "alpha"})
	postJSON(t, d, body, map[string]string{"X-Session-Key": "beta"})

	if d.Pool.Size() != 2 {
		t.Errorf("Pool.Size() = %d, want 2 distinct sessions for distinct X-Session-Key headers", d.Pool.Size())
	}
}
