package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/igoryan-dao/ricochet/internal/apierror"
	"github.com/igoryan-dao/ricochet/internal/metrics"
	"github.com/igoryan-dao/ricochet/internal/session"
)

const heartbeatInterval = 5 * time.Second

// writer serializes every SSE write behind one mutex: progress events
// arrive from the session's frame-loop goroutine while the heartbeat fires
// from its own ticker goroutine, and both must never interleave a partial
// "data: " line.
type writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	done    bool
}

func (sw *writer) writeChunk(chunk any) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	sw.writeRaw(fmt.Sprintf("data: %s\n\n", data))
}

func (sw *writer) writeRaw(s string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.done {
		return
	}
	if _, err := fmt.Fprint(sw.w, s); err != nil {
		return
	}
	sw.flusher.Flush()
}

func (sw *writer) heartbeat() { sw.writeRaw(": heartbeat\n\n") }

func (sw *writer) finish() {
	sw.mu.Lock()
	sw.done = true
	sw.mu.Unlock()
}

// Work is the unit of upstream work a streaming call performs. It receives
// attach, which (re)binds the progress sink to whichever session will
// actually resolve the call — the dispatcher may need to call attach more
// than once, since a busy-wait can recreate a dead session mid-call
// (spec.md §9 "implementers must re-bind the session variable after
// recreation").
type Work func(ctx context.Context, attach func(sess *session.Session)) (session.Result, error)

// Run drives one SSE response for a chat-completions call. prefix, if
// non-empty, is sent as a content delta before work is invoked (used for
// the "previous task still running" busy-wait notice).
func Run(ctx context.Context, w http.ResponseWriter, model string, prefix string, work Work) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		apierror.Internal(w, "streaming unsupported by this connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	id := newCompletionID()
	sw := &writer{w: w, flusher: flusher}

	var sawDelta bool
	var firstDelta = true
	var mu sync.Mutex

	if prefix != "" {
		sw.writeChunk(contentChunk(id, model, prefix, true))
		firstDelta = false
	}

	sink := func(ev session.ProgressEvent) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		switch ev.Kind {
		case "text_delta":
			mu.Lock()
			withRole := firstDelta
			firstDelta = false
			sawDelta = true
			mu.Unlock()
			sw.writeChunk(contentChunk(id, model, ev.Text, withRole))
		case "tool_start":
			sw.writeChunk(contentChunk(id, model, toolStartLine(ev.HumanDetail), false))
		case "tool_result":
			sw.writeChunk(contentChunk(id, model, toolResultLine(ev.Tool, ev.Success), false))
		case "thinking":
			sw.writeChunk(contentChunk(id, model, thinkingLine(ev.StatusText), false))
		}
	}

	var boundMu sync.Mutex
	var bound *session.Session
	attach := func(sess *session.Session) {
		boundMu.Lock()
		defer boundMu.Unlock()
		if bound != nil {
			bound.SetProgressSink(nil)
		}
		bound = sess
		if sess != nil {
			sess.SetProgressSink(sink)
		}
	}
	defer attach(nil)

	heartbeatDone := make(chan struct{})
	go func() {
		t := time.NewTicker(heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				sw.heartbeat()
			case <-heartbeatDone:
				return
			}
		}
	}()

	result, err := work(ctx, attach)

	close(heartbeatDone)

	if err != nil {
		log.Warn().Str("component", "streaming").Err(err).Msg("upstream call failed mid-stream")
		sw.writeChunk(contentChunk(id, model, "\n\n"+apierror.TranslateUpstreamError(err), false))
		sw.writeRaw("data: [DONE]\n\n")
		sw.finish()
		return
	}

	mu.Lock()
	emittedAnyDelta := sawDelta
	mu.Unlock()

	if !emittedAnyDelta && result.Text != "" {
		sw.writeChunk(contentChunk(id, model, result.Text, firstDelta))
	}

	if len(result.PendingToolCalls) > 0 {
		sw.writeChunk(toolCallsChunk(id, model, toolCallsFrom(result.PendingToolCalls)))
		sw.writeChunk(finishChunk(id, model, "tool_calls", usageOf(result)))
	} else {
		sw.writeChunk(finishChunk(id, model, "stop", usageOf(result)))
	}

	sw.writeRaw("data: [DONE]\n\n")
	sw.finish()
}
