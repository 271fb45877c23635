// Package httpapi exposes the ambient HTTP surface every hvacd
// deployment carries regardless of the core decision-engine scope:
// liveness, a status snapshot, and Prometheus metrics. Router shape and
// middleware are ported from the same idiom used for an OpenAI/Ollama
// gateway's chi server.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider supplies the data shown at /status. Implemented by the
// controller.
type StatusProvider interface {
	MasterState() string
	HubConnected() bool
}

// Server is the hvacd ambient HTTP API.
type Server struct {
	status StatusProvider
}

// NewServer builds a Server. status may be nil before the controller
// has started; /status then reports "starting".
func NewServer(status StatusProvider) *Server {
	return &Server{status: status}
}

// Handler returns the chi router with every ambient route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", s.handleStatus)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"state": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"master_state":  s.status.MasterState(),
		"hub_connected": s.status.HubConnected(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
