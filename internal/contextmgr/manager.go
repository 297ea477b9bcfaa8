// Package contextmgr implements the Context Manager (spec.md §4.B):
// recovery injection, post-response instruction appending, and compaction
// threshold bookkeeping. It never sends messages of its own — it only
// transforms the outbound prompt string and records bookkeeping on the
// session it is given.
//
// Adapted from internal/agent/context_manager.go's ContextManager
// (EstimateTokens/ShouldCompact/Compact) but fundamentally re-mechanized:
// the teacher's Compact calls an LLM itself to produce a summary; here the
// Context Manager never talks to any model — it only injects instructions
// that cause the *downstream agent* to write the summary/state files
// itself (spec.md §4.B).
//
// Turn accounting (spec.md §4.B "On every terminal result frame, increment
// user_turn_count...") is implemented in internal/session's result-frame
// handler, since that is where the terminal frame is actually observed;
// this package neither reads nor writes UserTurnCount.
package contextmgr

import (
	"github.com/igoryan-dao/ricochet/internal/config"
	"github.com/igoryan-dao/ricochet/internal/session"
)

// Manager owns the two context files and the compaction-threshold math.
type Manager struct {
	Files        *Files
	TriggerPct   int
	RecompactPct int
}

// NewManager builds a Context Manager rooted at the given context
// directory, with the documented SUMMARY_TRIGGER_PCT/SUMMARY_RECOMPACT_PCT
// defaults (or overrides from config).
func NewManager(contextDir string, triggerPct, recompactPct int) *Manager {
	return &Manager{
		Files:        NewFiles(contextDir),
		TriggerPct:   triggerPct,
		RecompactPct: recompactPct,
	}
}

// WrapPrompt performs recovery injection (once per session) and
// post-response instruction appending (every prompt), exactly as spec.md
// §4.B specifies, mutating sess.ContextRecoveryDone and
// sess.LastSummaryPct as bookkeeping side effects.
func (m *Manager) WrapPrompt(sess *session.Session, strategy config.Strategy, prompt string) string {
	out := m.recoveryPrefix(sess, strategy) + prompt
	out += m.postResponseInstructions(sess, strategy)
	return out
}

func (m *Manager) recoveryPrefix(sess *session.Session, strategy config.Strategy) string {
	if sess.ContextRecoveryDone {
		return ""
	}
	// Invariant (spec.md §3): context_recovery_done is set the first time
	// the prompt wrapper runs, regardless of whether any files were found.
	defer func() { sess.ContextRecoveryDone = true }()

	var prefix string
	if strategy.WantsSummary() {
		if summary := m.Files.ReadSummary(); summary != "" {
			prefix += recoveryBlock("a prose summary", summary)
		}
	}
	if strategy.WantsState() {
		if state := m.Files.ReadState(); state != "" {
			prefix += recoveryBlock("structured state", state)
		}
	}
	return prefix
}

func (m *Manager) postResponseInstructions(sess *session.Session, strategy config.Strategy) string {
	var suffix string

	if strategy.WantsState() {
		suffix += stateInstructionBlock(m.Files.StatePath())
	}

	if strategy.WantsSummary() {
		nextThreshold := m.TriggerPct
		if sess.LastSummaryPct != 0 {
			nextThreshold = sess.LastSummaryPct + m.RecompactPct
		}
		if sess.LastKnownContextPct >= nextThreshold {
			sess.LastSummaryPct = nextThreshold
			suffix += summaryInstructionBlock(m.Files.SummaryPath())
		}
	}

	return suffix
}

// NextCompactionThreshold reports the threshold the next prompt would
// trigger at, for !bridge status diagnostics, without mutating anything.
func (m *Manager) NextCompactionThreshold(sess *session.Session) int {
	if sess.LastSummaryPct == 0 {
		return m.TriggerPct
	}
	return sess.LastSummaryPct + m.RecompactPct
}
