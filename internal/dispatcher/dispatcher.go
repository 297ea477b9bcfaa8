// Package dispatcher implements the Request Dispatcher (spec.md §4.E): the
// single POST /v1/chat/completions handler that validates the request,
// derives a session key, and routes to the command interceptor, the
// tool-decision resolver, or a fresh prompt.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/igoryan-dao/ricochet/internal/apierror"
	"github.com/igoryan-dao/ricochet/internal/command"
	"github.com/igoryan-dao/ricochet/internal/config"
	"github.com/igoryan-dao/ricochet/internal/contextmgr"
	"github.com/igoryan-dao/ricochet/internal/metrics"
	"github.com/igoryan-dao/ricochet/internal/openai"
	"github.com/igoryan-dao/ricochet/internal/pool"
	"github.com/igoryan-dao/ricochet/internal/session"
	"github.com/igoryan-dao/ricochet/internal/streaming"
)

const busyPollInterval = 500 * time.Millisecond

var validRoles = map[string]bool{"system": true, "user": true, "assistant": true, "tool": true}

// approvalWords is the set of tool-result contents interpreted as approval
// once stripped of non-letters and lowercased (spec.md §4.E step 3).
var approvalWords = map[string]bool{
	"approved": true, "allow": true, "allowed": true, "yes": true,
	"true": true, "ok": true, "accept": true, "permit": true, "granted": true,
}

var nonLetters = regexp.MustCompile(`[^a-zA-Z]`)

func normalizeApproval(text string) bool {
	stripped := strings.ToLower(nonLetters.ReplaceAllString(text, ""))
	return approvalWords[stripped]
}

// Dispatcher wires the pool, context manager, strategy register, and
// command interceptor together behind one HTTP handler.
type Dispatcher struct {
	Pool            *pool.Pool
	Manager         *contextmgr.Manager
	Register        *config.Register
	Commands        *command.Interceptor
	ModelName       string
	ResponseTimeout time.Duration
}

// ServeHTTP implements POST /v1/chat/completions.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.InvalidRequest(w, "malformed JSON body")
		return
	}
	if len(req.Messages) == 0 {
		apierror.InvalidRequest(w, "messages must be a non-empty array")
		return
	}
	for _, m := range req.Messages {
		if !validRoles[m.Role] {
			apierror.InvalidRequest(w, fmt.Sprintf("unrecognized message role %q", m.Role))
			return
		}
	}

	text := latestUserText(req.Messages)
	if strings.TrimSpace(text) == "" {
		apierror.InvalidRequest(w, "no user message found")
		return
	}

	key := deriveKey(r, req)
	model := req.Model
	if model == "" {
		model = d.ModelName
	}
	streamed := req.IsStreaming()

	if command.IsCommand(text) {
		sess, _ := d.Pool.Lookup(key)
		response := d.Commands.Handle(text, key, sess, d.Register)
		if streamed {
			streaming.RunLocalSSE(w, model, response)
		} else {
			streaming.WriteLocalJSON(w, model, response)
		}
		return
	}

	toolMessages := gatherToolMessages(req.Messages)
	existing, hasExisting := d.Pool.Lookup(key)

	if hasExisting && existing.State() == session.StateWaitingToolDecision && len(toolMessages) > 0 {
		decisions := make(map[string]session.ToolDecision, len(toolMessages))
		for _, m := range toolMessages {
			content := openai.ExtractText(m.Content)
			decisions[m.ToolCallID] = session.ToolDecision{
				Approved: normalizeApproval(content),
				Message:  content,
			}
		}
		d.run(w, r, model, streamed, "", func(ctx context.Context, attach func(*session.Session)) (session.Result, error) {
			attach(existing)
			return existing.ResolveToolPermissions(ctx, decisions)
		})
		return
	}

	d.dispatchPrompt(w, r, key, model, text, streamed, existing, hasExisting)
}

func (d *Dispatcher) dispatchPrompt(w http.ResponseWriter, r *http.Request, key, model, text string, streamed bool, existing *session.Session, hasExisting bool) {
	needsWait := hasExisting && (existing.State() == session.StateBusy || existing.State() == session.StateWaitingToolDecision)

	prefix := ""
	if needsWait {
		prefix = "\n\n_⏳ Previous task still running, waiting for it to finish…_\n\n"
	}

	work := func(ctx context.Context, attach func(*session.Session)) (session.Result, error) {
		sess, err := d.resolveReady(ctx, key)
		if err != nil {
			return session.Result{}, err
		}
		attach(sess)

		strategy := d.Register.Get()
		wrapped := d.Manager.WrapPrompt(sess, strategy, text)
		return sess.SendPrompt(ctx, wrapped)
	}

	d.run(w, r, model, streamed, prefix, work)
}

// run drives one upstream call, dispatching to the SSE or JSON fan-out.
func (d *Dispatcher) run(w http.ResponseWriter, r *http.Request, model string, streamed bool, prefix string, work streaming.Work) {
	if streamed {
		metrics.RequestsTotal.WithLabelValues("streamed").Inc()
		streaming.Run(r.Context(), w, model, prefix, work)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), d.ResponseTimeout)
	defer cancel()

	result, err := work(ctx, func(*session.Session) {})
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		d.writeNonStreamingError(w, err)
		return
	}
	metrics.RequestsTotal.WithLabelValues("ok").Inc()
	streaming.WriteJSON(w, model, result)
}

func (d *Dispatcher) writeNonStreamingError(w http.ResponseWriter, err error) {
	msg := apierror.TranslateUpstreamError(err)
	switch {
	case strings.Contains(err.Error(), "busy-wait timeout"), strings.Contains(err.Error(), "response timeout"), strings.Contains(err.Error(), "context deadline exceeded"):
		apierror.Busy(w, msg)
	case strings.Contains(err.Error(), "create upstream session"), strings.Contains(err.Error(), "dial companion"):
		apierror.UpstreamUnavailable(w, msg)
	default:
		apierror.Internal(w, msg)
	}
}

// resolveReady returns a ready session for key, creating one if absent,
// busy-waiting (polling every 500ms, capped at ResponseTimeout) if one
// exists but is busy/waiting_tool_decision, and recreating it transparently
// if it dies mid-wait (spec.md §4.E, §9 "re-bind the session variable").
func (d *Dispatcher) resolveReady(ctx context.Context, key string) (*session.Session, error) {
	sess, ok := d.Pool.Lookup(key)
	if !ok {
		return d.Pool.GetSession(ctx, key)
	}

	switch sess.State() {
	case session.StateReady:
		return sess, nil
	case session.StateDead:
		return d.Pool.Recreate(ctx, key)
	}

	deadline := time.Now().Add(d.ResponseTimeout)
	ticker := time.NewTicker(busyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("busy-wait timeout after %s", d.ResponseTimeout)
			}
			cur, ok := d.Pool.Lookup(key)
			if !ok {
				return d.Pool.GetSession(ctx, key)
			}
			switch cur.State() {
			case session.StateReady:
				return cur, nil
			case session.StateDead:
				return d.Pool.Recreate(ctx, key)
			default:
				log.Debug().Str("component", "dispatcher").Str("pool_key", key).Str("state", string(cur.State())).Msg("busy-wait poll")
			}
		}
	}
}

// deriveKey implements spec.md §4.E's session-key derivation: header
// X-Session-Key, then body model, then "default". Deliberately never a
// function of X-Request-Id or any system-role message content.
func deriveKey(r *http.Request, req openai.ChatCompletionRequest) string {
	if v := r.Header.Get("X-Session-Key"); v != "" {
		return "key:" + v
	}
	if req.Model != "" {
		return "model:" + req.Model
	}
	return "default"
}

func latestUserText(messages []openai.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return openai.ExtractText(messages[i].Content)
		}
	}
	return ""
}

func gatherToolMessages(messages []openai.Message) []openai.Message {
	var out []openai.Message
	for _, m := range messages {
		if m.Role == "tool" && m.ToolCallID != "" {
			out = append(out, m)
		}
	}
	return out
}
