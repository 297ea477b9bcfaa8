// Package command implements the Command Interceptor (spec.md §4.G):
// recognizing a `!bridge ...` prefixed user message and synthesizing a
// local response without ever reaching the upstream Companion.
package command

import (
	"fmt"
	"strings"

	"github.com/igoryan-dao/ricochet/internal/config"
	"github.com/igoryan-dao/ricochet/internal/contextmgr"
	"github.com/igoryan-dao/ricochet/internal/pool"
	"github.com/igoryan-dao/ricochet/internal/session"
)

const prefix = "!bridge"

// IsCommand reports whether text (as the client sent it) is a !bridge
// command, per spec.md §4.E step 2 ("trimmed, lowercased").
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), prefix)
}

// Interceptor synthesizes !bridge responses. It needs the context manager
// (for file sizes and the trigger threshold) and the pool (to destroy a
// session on `reset`).
type Interceptor struct {
	manager *contextmgr.Manager
	pool    *pool.Pool
}

// New builds a Command Interceptor.
func New(manager *contextmgr.Manager, p *pool.Pool) *Interceptor {
	return &Interceptor{manager: manager, pool: p}
}

// Handle runs a !bridge command and returns its response text. sess may be
// nil if no session has been created yet for key.
func (c *Interceptor) Handle(text, key string, sess *session.Session, reg *config.Register) string {
	rest := strings.TrimSpace(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(text)), prefix))
	fields := strings.Fields(rest)
	var cmd string
	if len(fields) > 0 {
		cmd = fields[0]
	}

	switch cmd {
	case "summary":
		reg.Set(config.StrategySummary)
		return "✅ Context strategy set to `summary`."
	case "stateful":
		reg.Set(config.StrategyStateful)
		return "✅ Context strategy set to `stateful`."
	case "hybrid":
		reg.Set(config.StrategyHybrid)
		return "✅ Context strategy set to `hybrid`."
	case "none":
		reg.Set(config.StrategyNone)
		return "✅ Context strategy set to `none`."
	case "", "status":
		return c.status(key, sess, reg)
	case "compact":
		if sess != nil {
			sess.LastSummaryPct = 0
			if sess.LastKnownContextPct < c.manager.TriggerPct {
				sess.LastKnownContextPct = c.manager.TriggerPct
			}
		}
		return "🔄 Compaction armed: the next prompt will carry the summary-write instruction."
	case "checkpoint":
		if reg.Get() == config.StrategyNone || reg.Get() == config.StrategySummary {
			reg.Set(config.StrategyHybrid)
		}
		return "📋 Checkpoint armed: the next prompt will carry the state-write instruction."
	case "reset":
		c.pool.DestroySession(key, "!bridge reset")
		return "🗑️ Session reset. Context files remain on disk."
	default:
		return helpText()
	}
}

func (c *Interceptor) status(key string, sess *session.Session, reg *config.Register) string {
	var pct, turns int
	var cost float64
	if sess != nil {
		pct = sess.LastKnownContextPct
		turns = sess.UserTurnCount
		cost = sess.TotalCost
	}

	var next int
	if sess != nil {
		next = c.manager.NextCompactionThreshold(sess)
	} else {
		next = c.manager.TriggerPct
	}

	return strings.Join([]string{
		fmt.Sprintf("📊 Strategy: `%s`", reg.Get()),
		fmt.Sprintf("📈 Context: %d%%", pct),
		fmt.Sprintf("📝 Summary file: %d bytes", c.manager.Files.SummarySizeBytes()),
		fmt.Sprintf("📋 State file: %d bytes", c.manager.Files.StateSizeBytes()),
		fmt.Sprintf("🔄 Next compaction threshold: %d%%", next),
		fmt.Sprintf("⏱️ Turns: %d", turns),
		fmt.Sprintf("💰 Lifetime cost: $%.4f", cost),
		fmt.Sprintf("🏷️ Pool key: `%s`", key),
	}, "\n")
}

func helpText() string {
	return strings.Join([]string{
		"Recognized `!bridge` commands:",
		"- `summary` — set context strategy to summary",
		"- `stateful` — set context strategy to stateful",
		"- `hybrid` — set context strategy to hybrid",
		"- `none` — set context strategy to none",
		"- `status` — report current strategy, context %, file sizes, turns, cost",
		"- `compact` — force the next prompt to carry a summary-write instruction",
		"- `checkpoint` — force the next prompt to carry a state-write instruction",
		"- `reset` — destroy the current session (context files are kept)",
	}, "\n")
}
