package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/igoryan-dao/ricochet/internal/policy"
	"github.com/igoryan-dao/ricochet/internal/session"
	"github.com/igoryan-dao/ricochet/internal/wire"
)

var upgrader = websocket.Upgrader{}

// newFakeCompanion serves the create/kill HTTP endpoints and an
// immediately-cli_connected WebSocket for any upstream session id, assigning
// a fresh id per create call so concurrent pooled sessions don't collide.
func newFakeCompanion(t *testing.T) string {
	t.Helper()
	var counter int64
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions/create", func(w http.ResponseWriter, r *http.Request) {
		id := fmt.Sprintf("up-%d", atomic.AddInt64(&counter, 1))
		json.NewEncoder(w).Encode(wire.CreateSessionResponse{SessionID: id})
	})
	mux.HandleFunc("/api/sessions/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ws/browser/", func(w http.ResponseWriter, r *http.Request) {
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
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func newTestPool(t *testing.T, maxSessions int) *Pool {
	t.Helper()
	return newTestPoolWithIdleTimeout(t, maxSessions, time.Hour) // disarm idle eviction unless a test wants it
}

func newTestPoolWithIdleTimeout(t *testing.T, maxSessions int, idleTimeout time.Duration) *Pool {
	t.Helper()
	url := newFakeCompanion(t)
	cfg := Config{
		CompanionURL:       url,
		PermissionMode:     "auto",
		SessionCwd:         ".",
		MaxSessions:        maxSessions,
		ResponseTimeout:    2 * time.Second,
		SessionIdleTimeout: idleTimeout,
	}
	return New(cfg, policy.NewDefault(policy.ModeAuto))
}

func TestPool_GetSession_ReusesSameKey(t *testing.T) {
	p := newTestPool(t, 4)
	ctx := context.Background()

	s1, err := p.GetSession(ctx, "conv-a")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	s2, err := p.GetSession(ctx, "conv-a")
	if err != nil {
		t.Fatalf("GetSession() second call error = %v", err)
	}
	if s1 != s2 {
		t.Errorf("GetSession() for the same key returned different sessions")
	}
	if p.Size() != 1 {
		t.Errorf("Size() = %d, want 1", p.Size())
	}
}

func TestPool_GetSession_DifferentKeysDifferentSessions(t *testing.T) {
	p := newTestPool(t, 4)
	ctx := context.Background()

	s1, _ := p.GetSession(ctx, "conv-a")
	s2, _ := p.GetSession(ctx, "conv-b")
	if s1 == s2 {
		t.Errorf("GetSession() for different keys returned the same session")
	}
	if p.Size() != 2 {
		t.Errorf("Size() = %d, want 2", p.Size())
	}
}

func TestPool_EvictsOldestOnCapacity(t *testing.T) {
	p := newTestPool(t, 2)
	ctx := context.Background()

	if _, err := p.GetSession(ctx, "a"); err != nil {
		t.Fatalf("GetSession(a) error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := p.GetSession(ctx, "b"); err != nil {
		t.Fatalf("GetSession(b) error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	// Pool is now at capacity (2); this third key must evict "a" (oldest).
	if _, err := p.GetSession(ctx, "c"); err != nil {
		t.Fatalf("GetSession(c) error = %v", err)
	}

	if p.Size() != 2 {
		t.Fatalf("Size() = %d, want 2 after eviction", p.Size())
	}
	if _, ok := p.Lookup("a"); ok {
		t.Errorf("Lookup(a) still present after eviction, want evicted")
	}
	if _, ok := p.Lookup("b"); !ok {
		t.Errorf("Lookup(b) missing, want present")
	}
	if _, ok := p.Lookup("c"); !ok {
		t.Errorf("Lookup(c) missing, want present")
	}
}

func TestPool_DestroySession(t *testing.T) {
	p := newTestPool(t, 4)
	ctx := context.Background()

	if _, err := p.GetSession(ctx, "conv-a"); err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if !p.DestroySession("conv-a", "test") {
		t.Fatalf("DestroySession() = false, want true")
	}
	if p.DestroySession("conv-a", "test again") {
		t.Fatalf("DestroySession() on already-gone key = true, want false")
	}
	if _, ok := p.Lookup("conv-a"); ok {
		t.Errorf("Lookup(conv-a) still present after DestroySession")
	}
}

func TestPool_Recreate(t *testing.T) {
	p := newTestPool(t, 4)
	ctx := context.Background()

	first, err := p.GetSession(ctx, "conv-a")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}

	second, err := p.Recreate(ctx, "conv-a")
	if err != nil {
		t.Fatalf("Recreate() error = %v", err)
	}
	if first == second {
		t.Errorf("Recreate() returned the same session instance")
	}
	if second.State() != session.StateReady {
		t.Errorf("Recreate() session state = %q, want %q", second.State(), session.StateReady)
	}
}

func TestPool_ListSessions(t *testing.T) {
	p := newTestPool(t, 4)
	ctx := context.Background()
	p.GetSession(ctx, "conv-a")
	p.GetSession(ctx, "conv-b")

	snaps := p.ListSessions()
	if len(snaps) != 2 {
		t.Fatalf("ListSessions() returned %d entries, want 2", len(snaps))
	}
	keys := map[string]bool{}
	for _, s := range snaps {
		keys[s.Key] = true
	}
	if !keys["conv-a"] || !keys["conv-b"] {
		t.Errorf("ListSessions() keys = %v, want conv-a and conv-b", keys)
	}
}

func TestPool_ContinuousActivityNeverEvictsOnIdleTimeout(t *testing.T) {
	idleTimeout := 80 * time.Millisecond
	p := newTestPoolWithIdleTimeout(t, 4, idleTimeout)
	ctx := context.Background()

	if _, err := p.GetSession(ctx, "conv-a"); err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}

	// Touch the session more often than the idle timeout for well over one
	// timeout period; every touch must cancel the previously-armed timer so
	// none of the earlier ones fire against a still-active session.
	deadline := time.Now().Add(idleTimeout * 5)
	for time.Now().Before(deadline) {
		if _, err := p.GetSession(ctx, "conv-a"); err != nil {
			t.Fatalf("GetSession() error = %v", err)
		}
		time.Sleep(idleTimeout / 4)
	}

	if _, ok := p.Lookup("conv-a"); !ok {
		t.Fatalf("session evicted under continuous activity, want it to survive")
	}
}
