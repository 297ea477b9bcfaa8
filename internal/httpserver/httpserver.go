// Package httpserver wires the adapter's HTTP surface (spec.md §6): health,
// models, chat completions, session deletion, CORS, and metrics.
package httpserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/igoryan-dao/ricochet/internal/config"
	"github.com/igoryan-dao/ricochet/internal/dispatcher"
	"github.com/igoryan-dao/ricochet/internal/metrics"
	"github.com/igoryan-dao/ricochet/internal/openai"
	"github.com/igoryan-dao/ricochet/internal/pool"
)

const version = "1.0.0"

// Server holds everything the routes need to answer.
type Server struct {
	Pool       *pool.Pool
	Dispatcher *dispatcher.Dispatcher
	Config     *config.Config

	startOnce sync.Once
	startedAt time.Time
}

// Mux builds the complete route table.
func (s *Server) Mux() http.Handler {
	s.startOnce.Do(func() { s.startedAt = time.Now() })

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/v1/chat/completions", s.Dispatcher.ServeHTTP)
	mux.HandleFunc("/sessions/", s.handleDeleteSession)
	mux.Handle("/metrics", metrics.Handler())
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Session-Key, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status         string        `json:"status"`
	Version        string        `json:"version"`
	Companion      string        `json:"companion"`
	Cwd            string        `json:"cwd"`
	ToolMode       string        `json:"toolMode"`
	PermissionMode string        `json:"permissionMode"`
	Model          string        `json:"model"`
	Sessions       []sessionView `json:"sessions"`

	// Carried over from the starting point's own /health reporting: harmless
	// superset fields an OpenAI client ignores and an operator dashboard
	// benefits from (SPEC_FULL.md §C).
	UptimeSeconds float64 `json:"uptime_seconds"`
	PoolSize      int     `json:"pool_size"`
}

type sessionView struct {
	Key                 string  `json:"key"`
	UpstreamID          string  `json:"upstreamId"`
	Model               string  `json:"model"`
	State               string  `json:"state"`
	LastKnownContextPct int     `json:"lastKnownContextPct"`
	UserTurnCount       int     `json:"userTurnCount"`
	TotalCost           float64 `json:"totalCost"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshots := s.Pool.ListSessions()
	sessions := make([]sessionView, 0, len(snapshots))
	for _, sn := range snapshots {
		sessions = append(sessions, sessionView{
			Key:                 sn.Key,
			UpstreamID:          sn.UpstreamID,
			Model:               sn.Model,
			State:               string(sn.State),
			LastKnownContextPct: sn.LastKnownContextPct,
			UserTurnCount:       sn.UserTurnCount,
			TotalCost:           sn.TotalCost,
		})
	}

	resp := healthResponse{
		Status:         "ok",
		Version:        version,
		Companion:      s.Config.CompanionURL,
		Cwd:            s.Config.SessionCwd,
		ToolMode:       string(s.Config.ToolMode),
		PermissionMode: s.Config.PermissionMode,
		Model:          s.Config.ModelName,
		Sessions:       sessions,
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		PoolSize:       s.Pool.Size(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	resp := openai.ModelsResponse{
		Object: "list",
		Data: []openai.Model{
			{ID: s.Config.ModelName, Object: "model", OwnedBy: "companion"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.NotFound(w, r)
		return
	}
	key := r.URL.Path[len("/sessions/"):]
	s.Pool.DestroySession(key, "deleted via DELETE /sessions/"+key)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}
