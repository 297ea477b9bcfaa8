// Package session implements the per-session state machine (spec.md §4.C):
// one upstream connection, its accumulators, and a cooperative
// tool-permission interrupt protocol.
//
// Adapted from internal/agent/state.go's MessageStateHandler (the
// mutex-guarded append/snapshot idiom, reused here for the text
// accumulator) and informed by internal/agent/controller.go's frame-switch
// structure, retargeted from LLM-provider streaming events to the
// Companion frames spec.md §4.C defines.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/igoryan-dao/ricochet/internal/companion"
	"github.com/igoryan-dao/ricochet/internal/policy"
	"github.com/igoryan-dao/ricochet/internal/wire"
)

// ContextBudget is the model's context window, in tokens, used to compute
// last_known_context_pct (spec.md §3, §9 Open Question: "hard-coded... an
// implementation may expose it as an option but must keep the default").
const ContextBudget = 200_000

// pendingRequest is the single in-flight request's resolve/reject pair
// (spec.md §3 "Pending work"), guaranteed to settle exactly once.
type pendingRequest struct {
	once    sync.Once
	resultC chan Result
	errC    chan error
	timer   *time.Timer
}

func (p *pendingRequest) resolve(r Result) {
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.resultC <- r
	})
}

func (p *pendingRequest) reject(err error) {
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.errC <- err
	})
}

// Session is one logical upstream conversation: identity, connection,
// accumulators, and pending work, exactly as spec.md §3 defines it. The
// session exclusively owns conn; nothing outside this package reads or
// writes it (spec.md §9 "Single-owner upstream connection").
type Session struct {
	mu sync.Mutex

	Key        string
	UpstreamID string
	Model      string
	CreatedAt  time.Time

	state          State
	lastActivityAt time.Time

	conn *companion.Client

	// per-request accumulators, reset at each new prompt
	currentText strings.Builder
	currentIn   int
	currentOut  int
	currentCost float64
	currentTurn int

	// lifetime counters
	TotalInputTokens  int
	TotalOutputTokens int
	TotalTurns        int
	TotalCost         float64

	// context tracking
	LastKnownContextPct int
	LastSummaryPct      int
	lastWarningPct      int
	warnedThresholds    map[int]bool
	ContextRecoveryDone bool
	UserTurnCount       int
	IsSyntheticTurn     bool

	pending            *pendingRequest
	pendingPermissions map[string]PendingPermission

	idleTimer *time.Timer

	progressSink func(ProgressEvent)

	policyEngine *policy.Engine
	http         *companion.HTTP

	responseTimeout time.Duration
	idleTimeout     time.Duration
	onIdleEvict     func(key string)

	destroyed bool
}

// New constructs a Session in the connecting state. Call Connect to
// actually reach the Companion.
func New(key string, http *companion.HTTP, policyEngine *policy.Engine, responseTimeout, idleTimeout time.Duration, onIdleEvict func(key string)) *Session {
	now := time.Now()
	return &Session{
		Key:                 key,
		CreatedAt:           now,
		state:               StateConnecting,
		lastActivityAt:      now,
		pendingPermissions:  make(map[string]PendingPermission),
		warnedThresholds:    make(map[int]bool),
		policyEngine:        policyEngine,
		http:                http,
		responseTimeout:     responseTimeout,
		idleTimeout:         idleTimeout,
		onIdleEvict:         onIdleEvict,
	}
}

// State returns the session's current state under lock.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivityAt returns the last-activity timestamp under lock.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

func (s *Session) touch() {
	s.lastActivityAt = time.Now()
}

// SetProgressSink attaches or detaches (pass nil) the callback receiving
// progress events while an SSE stream is attached to this session.
func (s *Session) SetProgressSink(sink func(ProgressEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressSink = sink
}

func (s *Session) emit(ev ProgressEvent) {
	if s.progressSink != nil {
		s.progressSink(ev)
	}
}

// Connect creates the upstream session and dials its WebSocket, then waits
// for the cli_connected frame (authoritative per spec.md §9's Open
// Question resolution) or the response timeout, whichever comes first.
func (s *Session) Connect(ctx context.Context, permissionMode, cwd string) error {
	upstreamID, err := s.http.CreateSession(ctx, permissionMode, cwd)
	if err != nil {
		s.mu.Lock()
		s.state = StateDead
		s.mu.Unlock()
		return fmt.Errorf("create upstream session: %w", err)
	}

	conn, err := companion.Dial(ctx, s.companionBaseURL(), upstreamID)
	if err != nil {
		s.mu.Lock()
		s.state = StateDead
		s.mu.Unlock()
		return fmt.Errorf("dial companion: %w", err)
	}

	s.mu.Lock()
	s.UpstreamID = upstreamID
	s.conn = conn
	s.mu.Unlock()

	connected := make(chan struct{})
	go s.runFrameLoop(connected)

	select {
	case <-connected:
		return nil
	case <-time.After(s.responseTimeout):
		s.mu.Lock()
		s.state = StateDead
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("timed out waiting for cli_connected")
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

// companionBaseURL is set by whoever dialed the HTTP client; stashed here
// only so Connect can re-derive the WS URL via companion.Dial. In practice
// the pool passes the same *companion.HTTP used for WSURL derivation.
func (s *Session) companionBaseURL() string { return s.http.BaseURL }

// armPendingLocked sets up a fresh pending request and timeout, and marks
// the session busy. Caller must hold s.mu.
func (s *Session) armPendingLocked() (chan Result, chan error) {
	resultC := make(chan Result, 1)
	errC := make(chan error, 1)
	p := &pendingRequest{resultC: resultC, errC: errC}
	p.timer = time.AfterFunc(s.responseTimeout, func() {
		s.mu.Lock()
		if s.pending == p {
			s.state = StateReady
			s.pending = nil
		}
		s.mu.Unlock()
		p.reject(fmt.Errorf("response timeout after %s", s.responseTimeout))
	})
	s.pending = p
	s.state = StateBusy
	return resultC, errC
}

// SendPrompt resets per-request accumulators, requires a ready session
// (rejecting immediately and marking the session dead otherwise, per spec
// §4.D), sends the user_message frame, and blocks until the terminal
// result frame resolves it or the timeout/ctx fires.
func (s *Session) SendPrompt(ctx context.Context, prompt string) (Result, error) {
	s.mu.Lock()
	if s.state != StateReady || s.conn == nil {
		s.state = StateDead
		s.mu.Unlock()
		return Result{}, fmt.Errorf("session %s not ready for a new prompt", s.Key)
	}
	s.currentText.Reset()
	s.currentIn, s.currentOut, s.currentCost, s.currentTurn = 0, 0, 0, 0
	resultC, errC := s.armPendingLocked()
	conn := s.conn
	s.mu.Unlock()

	if err := conn.Send(wire.NewUserMessage(prompt)); err != nil {
		s.mu.Lock()
		s.state = StateDead
		s.pending = nil
		s.mu.Unlock()
		return Result{}, fmt.Errorf("send prompt: %w", err)
	}

	return s.awaitPending(ctx, resultC, errC)
}

// ResolveToolPermissions forwards each client decision upstream as a
// control_response frame, removes the pending permission, transitions back
// to busy, and waits for the next terminal result frame exactly as for a
// fresh prompt (spec §4.D, §4.E step 3).
func (s *Session) ResolveToolPermissions(ctx context.Context, decisions map[string]ToolDecision) (Result, error) {
	s.mu.Lock()
	if s.state != StateWaitingToolDecision || s.conn == nil {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("session %s is not awaiting a tool decision", s.Key)
	}
	conn := s.conn
	for toolCallID, dec := range decisions {
		pp, ok := s.pendingPermissions[toolCallID]
		if !ok {
			continue
		}
		delete(s.pendingPermissions, toolCallID)
		behavior := "deny"
		var updatedInput any
		if dec.Approved {
			behavior = "allow"
			var raw any
			if err := json.Unmarshal(pp.RawInput, &raw); err == nil {
				updatedInput = raw
			}
		}
		frame := wire.NewControlResponse(pp.UpstreamRequestID, behavior, updatedInput, dec.Message)
		if err := conn.Send(frame); err != nil {
			s.state = StateDead
			s.mu.Unlock()
			return Result{}, fmt.Errorf("send control_response: %w", err)
		}
	}
	s.currentText.Reset()
	resultC, errC := s.armPendingLocked()
	s.mu.Unlock()

	return s.awaitPending(ctx, resultC, errC)
}

// ToolDecision is the client's verdict on one pending tool call.
type ToolDecision struct {
	Approved bool
	Message  string
}

func (s *Session) awaitPending(ctx context.Context, resultC chan Result, errC chan error) (Result, error) {
	select {
	case r := <-resultC:
		return r, nil
	case err := <-errC:
		return Result{}, err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// RearmIdleTimer stops whatever idle timer is currently armed (if any) and
// arms a fresh one, so that repeated activity on the same session never
// leaves an earlier timer alive to fire a stale eviction (spec.md §8
// "under continuous load a session is never evicted").
func (s *Session) RearmIdleTimer(d time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(d, fire)
}

// Destroy clears timers, detaches the progress sink, closes the socket,
// and fires a best-effort kill to the Companion. Safe to call more than
// once.
func (s *Session) Destroy(reason string) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	idleSeconds := time.Since(s.lastActivityAt).Seconds()
	upstreamID := s.UpstreamID
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	if s.pending != nil {
		s.pending.reject(fmt.Errorf("session destroyed: %s", reason))
	}
	s.progressSink = nil
	conn := s.conn
	s.state = StateDead
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if upstreamID != "" {
		s.http.KillSession(upstreamID)
	}
	log.Info().Str("component", "pool").
		Str("pool_key", s.Key).
		Str("upstream_session_id", upstreamID).
		Float64("idle_seconds", idleSeconds).
		Str("reason", reason).
		Msg("session destroyed")
}

// synthesizeToolCallID derives a 12-hex-char id from a fresh UUID, per
// spec.md §4.C.
func synthesizeToolCallID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// percentOf200k mirrors spec.md's exact rounding rule:
// round(current_input / 200_000 * 100).
func percentOf200k(tokens int) int {
	pct := float64(tokens) / float64(ContextBudget) * 100
	return int(pct + 0.5)
}
