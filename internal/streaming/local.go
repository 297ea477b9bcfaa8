package streaming

import (
	"net/http"

	"github.com/igoryan-dao/ricochet/internal/openai"
	"github.com/igoryan-dao/ricochet/internal/session"
)

// RunLocalSSE emits a synthesized response (e.g. a !bridge command reply)
// as a single content delta plus a finish chunk, without ever touching a
// session or the upstream Companion (spec.md §4.G).
func RunLocalSSE(w http.ResponseWriter, model, text string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := newCompletionID()
	sw := &writer{w: w, flusher: flusher}
	sw.writeChunk(contentChunk(id, model, text, true))
	sw.writeChunk(finishChunk(id, model, "stop", &openai.Usage{}))
	sw.writeRaw("data: [DONE]\n\n")
	sw.finish()
}

// WriteLocalJSON is the non-streaming counterpart of RunLocalSSE.
func WriteLocalJSON(w http.ResponseWriter, model, text string) {
	WriteJSON(w, model, session.Result{Text: text})
}
