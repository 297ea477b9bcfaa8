package contextmgr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/igoryan-dao/ricochet/internal/companion"
	"github.com/igoryan-dao/ricochet/internal/config"
	"github.com/igoryan-dao/ricochet/internal/policy"
	"github.com/igoryan-dao/ricochet/internal/session"
)

func newTestSession() *session.Session {
	http := companion.NewHTTP("http://127.0.0.1:0")
	engine := policy.NewDefault(policy.ModeAuto)
	return session.New("test-key", http, engine, time.Second, time.Second, func(string) {})
}

func TestManager_RecoveryInjectionOnce(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, SummaryFileName), []byte("SUMMARY-XYZ"), 0o644)

	m := NewManager(dir, 40, 20)
	sess := newTestSession()

	first := m.WrapPrompt(sess, config.StrategySummary, "hello")
	if !strings.Contains(first, "SUMMARY-XYZ") {
		t.Fatalf("first prompt missing recovered summary: %q", first)
	}
	if !sess.ContextRecoveryDone {
		t.Fatalf("ContextRecoveryDone not set after first wrap")
	}

	second := m.WrapPrompt(sess, config.StrategySummary, "hello again")
	if strings.Contains(second, "SUMMARY-XYZ") {
		t.Fatalf("second prompt re-injected recovered summary: %q", second)
	}
}

func TestManager_CompactionMonotonicThreshold(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 40, 20)
	sess := newTestSession()
	sess.ContextRecoveryDone = true // skip recovery noise for this test

	sess.LastKnownContextPct = 40
	out := m.WrapPrompt(sess, config.StrategySummary, "p1")
	if !strings.Contains(out, "post_response_instruction kind=\"summary\"") {
		t.Fatalf("expected summary instruction at 40%%, got %q", out)
	}
	if sess.LastSummaryPct != 40 {
		t.Fatalf("LastSummaryPct = %d, want 40", sess.LastSummaryPct)
	}

	sess.LastKnownContextPct = 60
	out = m.WrapPrompt(sess, config.StrategySummary, "p2")
	if !strings.Contains(out, "post_response_instruction kind=\"summary\"") {
		t.Fatalf("expected summary instruction at 60%%, got %q", out)
	}
	if sess.LastSummaryPct != 60 {
		t.Fatalf("LastSummaryPct = %d, want 60", sess.LastSummaryPct)
	}

	sess.LastKnownContextPct = 40 // dropped back down
	out = m.WrapPrompt(sess, config.StrategySummary, "p3")
	if strings.Contains(out, "post_response_instruction kind=\"summary\"") {
		t.Fatalf("did not expect a summary instruction when pct drops below next threshold: %q", out)
	}
	if sess.LastSummaryPct != 60 {
		t.Fatalf("LastSummaryPct regressed to %d, want unchanged 60", sess.LastSummaryPct)
	}
}

func TestManager_StatefulAppendsStateInstruction(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 40, 20)
	sess := newTestSession()
	sess.ContextRecoveryDone = true

	out := m.WrapPrompt(sess, config.StrategyStateful, "p")
	if !strings.Contains(out, "post_response_instruction kind=\"state\"") {
		t.Fatalf("expected state instruction, got %q", out)
	}
}

func TestManager_NoneStrategyNoInstructions(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 40, 20)
	sess := newTestSession()
	sess.ContextRecoveryDone = true
	sess.LastKnownContextPct = 90

	out := m.WrapPrompt(sess, config.StrategyNone, "hello")
	if out != "hello" {
		t.Fatalf("WrapPrompt with none strategy modified prompt: %q", out)
	}
}
