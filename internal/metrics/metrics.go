// Package metrics exposes the adapter's Prometheus surface: counters for
// session lifecycle events and request outcomes, plus a gauge for active
// SSE streams. Grounded on haasonsaas-nexus's internal/server/http_server.go,
// which registers its own prometheus/client_golang counters/gauges and
// serves them from a dedicated handler the same way Handler() does here.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_sessions_created_total",
		Help: "Upstream sessions created by the pool.",
	})
	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_sessions_evicted_total",
		Help: "Sessions evicted for capacity or idle timeout.",
	})
	SessionsDestroyed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_sessions_destroyed_total",
		Help: "Sessions destroyed through Pool.DestroySession (delete, reset, recreate); evictions are counted only in bridge_sessions_evicted_total.",
	})
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_requests_total",
		Help: "Chat-completion requests by outcome.",
	}, []string{"outcome"})
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_active_sse_streams",
		Help: "SSE streams currently attached to a session.",
	})
)

// Handler serves the /metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }
