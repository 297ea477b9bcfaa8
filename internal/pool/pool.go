// Package pool implements the Session Pool (spec.md §4.D): keyed lookup,
// creation, idle eviction, and the size cap.
//
// Adapted from internal/agent/session_manager.go's SessionManager
// (map+mutex shape, lazy id generation) but re-pointed from file-persisted
// desktop sessions to a live, WebSocket-connected pool with idle timers and
// LRU eviction — there is no on-disk persistence of pool state, matching
// spec.md §1's Non-goals.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/igoryan-dao/ricochet/internal/companion"
	"github.com/igoryan-dao/ricochet/internal/metrics"
	"github.com/igoryan-dao/ricochet/internal/policy"
	"github.com/igoryan-dao/ricochet/internal/session"
)

// Config carries the environment-derived knobs the pool needs.
type Config struct {
	CompanionURL      string
	PermissionMode    string
	SessionCwd        string
	MaxSessions       int
	ResponseTimeout   time.Duration
	SessionIdleTimeout time.Duration
}

// Pool multiplexes client requests onto a bounded number of persistent
// upstream sessions, keyed so that turns from the same logical conversation
// reuse the same session (spec.md §2).
//
// The pool map is mutated only by GetSession/Destroy and the idle-timer
// callbacks, per spec.md §5's shared-resource policy.
type Pool struct {
	mu       sync.Mutex
	sessions map[string]*session.Session

	cfg          Config
	http         *companion.HTTP
	policyEngine *policy.Engine
}

// New builds an empty pool.
func New(cfg Config, policyEngine *policy.Engine) *Pool {
	return &Pool{
		sessions:     make(map[string]*session.Session),
		cfg:          cfg,
		http:         companion.NewHTTP(cfg.CompanionURL),
		policyEngine: policyEngine,
	}
}

// GetSession returns a non-dead session for key, creating one if
// necessary. Every call resets the returned session's idle timer.
func (p *Pool) GetSession(ctx context.Context, key string) (*session.Session, error) {
	p.mu.Lock()
	if s, ok := p.sessions[key]; ok && s.State() != session.StateDead {
		p.rescheduleIdleLocked(s)
		p.mu.Unlock()
		return s, nil
	}
	delete(p.sessions, key) // sweep a dead entry, if any, before sizing

	if err := p.ensureRoomLocked(); err != nil {
		p.mu.Unlock()
		return nil, err
	}

	s := session.New(key, p.http, p.policyEngine, p.cfg.ResponseTimeout, p.cfg.SessionIdleTimeout, p.evict)
	p.sessions[key] = s
	p.mu.Unlock()

	if err := s.Connect(ctx, p.cfg.PermissionMode, p.cfg.SessionCwd); err != nil {
		p.mu.Lock()
		delete(p.sessions, key)
		p.mu.Unlock()
		return nil, fmt.Errorf("connect upstream session for key %q: %w", key, err)
	}

	p.mu.Lock()
	p.rescheduleIdleLocked(s)
	p.mu.Unlock()

	metrics.SessionsCreated.Inc()
	log.Info().Str("component", "pool").Str("pool_key", key).Str("upstream_session_id", s.UpstreamID).Msg("session created")
	return s, nil
}

// ensureRoomLocked sweeps dead entries, then evicts ready-or-dead entries
// with the oldest last_activity_at until the pool is under the cap.
// Caller must hold p.mu.
func (p *Pool) ensureRoomLocked() error {
	for key, s := range p.sessions {
		if s.State() == session.StateDead {
			delete(p.sessions, key)
		}
	}

	for len(p.sessions) >= p.cfg.MaxSessions {
		var victimKey string
		var victim *session.Session
		var oldest time.Time
		for key, s := range p.sessions {
			st := s.State()
			if st != session.StateReady && st != session.StateDead {
				continue
			}
			if victim == nil || s.LastActivityAt().Before(oldest) {
				victim = s
				victimKey = key
				oldest = s.LastActivityAt()
			}
		}
		if victim == nil {
			return fmt.Errorf("pool at capacity (%d) with no evictable session", p.cfg.MaxSessions)
		}
		delete(p.sessions, victimKey)
		metrics.SessionsEvicted.Inc()
		go victim.Destroy("evicted: pool at capacity")
	}
	return nil
}

// rescheduleIdleLocked (re)arms the per-session idle timer, canceling
// whatever timer it previously armed for this session. Caller must hold
// p.mu.
func (p *Pool) rescheduleIdleLocked(s *session.Session) {
	key := s.Key
	s.RearmIdleTimer(p.cfg.SessionIdleTimeout, func() { p.onIdleFire(key) })
}

// onIdleFire is the idle-timer callback. If the session is still working
// it merely reschedules itself; eviction only proceeds from ready,
// matching spec.md §4.D.
func (p *Pool) onIdleFire(key string) {
	p.mu.Lock()
	s, ok := p.sessions[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	st := s.State()
	if st == session.StateBusy || st == session.StateWaitingToolDecision || st == session.StateConnecting {
		p.rescheduleIdleLocked(s)
		p.mu.Unlock()
		return
	}
	delete(p.sessions, key)
	p.mu.Unlock()
	metrics.SessionsEvicted.Inc()
	s.Destroy("idle timeout")
}

func (p *Pool) evict(key string) {
	p.mu.Lock()
	s, ok := p.sessions[key]
	if ok {
		delete(p.sessions, key)
	}
	p.mu.Unlock()
	if ok {
		s.Destroy("evicted")
	}
}

// DestroySession destroys and removes the session for key, if any.
func (p *Pool) DestroySession(key, reason string) bool {
	p.mu.Lock()
	s, ok := p.sessions[key]
	if ok {
		delete(p.sessions, key)
	}
	p.mu.Unlock()
	if ok {
		metrics.SessionsDestroyed.Inc()
		s.Destroy(reason)
	}
	return ok
}

// Recreate destroys (if present) and creates a fresh session for key — used
// by the dispatcher when it finds a dead session.
func (p *Pool) Recreate(ctx context.Context, key string) (*session.Session, error) {
	p.DestroySession(key, "recreating dead session")
	return p.GetSession(ctx, key)
}

// Snapshot is a diagnostics view of one pooled session (spec.md §4.D
// list_sessions).
type Snapshot struct {
	Key                 string
	UpstreamID          string
	Model               string
	State               session.State
	LastActivityAt      time.Time
	LastKnownContextPct int
	UserTurnCount       int
	TotalCost           float64
}

// ListSessions returns a snapshot of every pooled session for diagnostics.
func (p *Pool) ListSessions() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Snapshot, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, Snapshot{
			Key:                 s.Key,
			UpstreamID:          s.UpstreamID,
			Model:               s.Model,
			State:               s.State(),
			LastActivityAt:      s.LastActivityAt(),
			LastKnownContextPct: s.LastKnownContextPct,
			UserTurnCount:       s.UserTurnCount,
			TotalCost:           s.TotalCost,
		})
	}
	return out
}

// Size returns the current number of pooled sessions.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Lookup returns the session for key without creating one.
func (p *Pool) Lookup(key string) (*session.Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[key]
	return s, ok
}
