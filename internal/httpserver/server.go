// Package httpserver exposes tapline's operational endpoints: health,
// readiness, Prometheus metrics and a JSON stats snapshot.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tapline/internal/middleware"
)

// StatsSource supplies live counters for the /readyz and /stats endpoints.
// Nil functions render as absent fields.
type StatsSource struct {
	State           func() string
	StreamConnected func() bool
	OpenGroups      func() int
	ArchivedRecords func() int
}

// Server is the ops HTTP server.
type Server struct {
	srv *http.Server
	src StatsSource
}

// New builds the server with routes and logging middleware attached.
func New(addr string, src StatsSource, logger zerolog.Logger) *Server {
	s := &Server{src: src}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /stats", s.handleStats)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           middleware.LoggingMiddleware(logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("httpserver: listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleReadyz reports ready only while the stream connection is open, so
// orchestrators can tell a live-but-reconnecting process from a healthy one.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.src.StreamConnected != nil && s.src.StreamConnected() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("stream disconnected"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := make(map[string]any)
	if s.src.State != nil {
		stats["state"] = s.src.State()
	}
	if s.src.StreamConnected != nil {
		stats["stream_connected"] = s.src.StreamConnected()
	}
	if s.src.OpenGroups != nil {
		stats["open_groups"] = s.src.OpenGroups()
	}
	if s.src.ArchivedRecords != nil {
		stats["archived_records"] = s.src.ArchivedRecords()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("httpserver: encode stats")
	}
}
