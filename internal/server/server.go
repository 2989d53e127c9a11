// Package server exposes the relay's network surface: the audio ingress and
// transcript egress WebSocket endpoints, the room REST API, health probes,
// and the Prometheus metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scribear/transcript-relay/internal/auth"
	"github.com/scribear/transcript-relay/internal/health"
	"github.com/scribear/transcript-relay/internal/observe"
	"github.com/scribear/transcript-relay/internal/relay"
)

// Server holds the wired dependencies for all HTTP and WebSocket handlers.
type Server struct {
	verifier *auth.Verifier
	manager  *relay.Manager
	health   *health.Handler
	metrics  *observe.Metrics
	log      *slog.Logger
}

// New wires a Server from its collaborators.
func New(verifier *auth.Verifier, manager *relay.Manager, h *health.Handler, metrics *observe.Metrics, log *slog.Logger) *Server {
	return &Server{
		verifier: verifier,
		manager:  manager,
		health:   h,
		metrics:  metrics,
		log:      log,
	}
}

// Handler builds the full route table. The plain HTTP surface runs behind the
// observability middleware; WebSocket upgrades are mounted directly because
// their responses outlive the request span.
func (s *Server) Handler() http.Handler {
	mw := observe.Middleware(s.metrics)

	rest := http.NewServeMux()
	rest.HandleFunc("POST /rooms", s.handleCreateRoom)
	rest.HandleFunc("GET /rooms", s.handleListRooms)
	rest.HandleFunc("GET /rooms/{sessionID}", s.handleGetRoom)
	s.health.Register(rest)
	rest.Handle("GET /metrics", promhttp.Handler())

	root := http.NewServeMux()
	root.HandleFunc("GET /audio/{sessionID}", s.handleAudio)
	root.HandleFunc("GET /transcription/{sessionID}", s.handleTranscription)
	root.Handle("/", mw(rest))
	return root
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

// errorBody is the JSON shape of REST error responses.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// logger returns the request-scoped logger carrying trace attributes when a
// span is active.
func (s *Server) logger(ctx context.Context) *slog.Logger {
	if observe.CorrelationID(ctx) != "" {
		return observe.Logger(ctx)
	}
	return s.log
}
