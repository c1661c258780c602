// Package exporter serves node status over HTTP for monitoring:
// Prometheus metrics, a health endpoint, and the JSON status snapshot.
package exporter

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dirkpetersen/ober/pkg/config"
	"github.com/dirkpetersen/ober/pkg/metrics"
	"github.com/dirkpetersen/ober/pkg/status"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// RefreshInterval is how often the exporter re-collects status.
const RefreshInterval = 30 * time.Second

// Collector is the status capability the exporter consumes.
type Collector interface {
	Collect(ctx context.Context) *status.Snapshot
}

// Server is the monitoring HTTP server started by `ober monitor`.
type Server struct {
	cfg        *config.Config
	collector  Collector
	metrics    *metrics.Set
	limiter    *clientLimiter
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer creates the exporter server.
func NewServer(cfg *config.Config, collector Collector, set *metrics.Set, logger zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		collector: collector,
		metrics:   set,
		limiter:   newClientLimiter(cfg.Exporter.RateLimit, cfg.Exporter.RateLimitBurst),
		logger:    logger.With().Str("component", "exporter").Logger(),
	}
}

// Run serves until ctx is cancelled, refreshing metrics periodically.
func (s *Server) Run(ctx context.Context) error {
	r := mux.NewRouter()
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Exporter.Listen,
		Handler:      s.limiter.middleware(s.authMiddleware(r)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.refresh(ctx)
	go s.refreshLoop(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Exporter.Listen).Msg("Starting exporter")
		errc <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		s.logger.Info().Msg("Exporter stopped")
		return nil
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Server) refresh(ctx context.Context) {
	snap := s.collector.Collect(ctx)
	if snap == nil {
		s.metrics.ScrapeErrors.Inc()
		return
	}
	for name, svc := range snap.Services {
		s.metrics.SetService(name, svc.Active, svc.Enabled)
	}
	for instance, state := range snap.Keepalived.VRRPState {
		s.metrics.SetVRRP(instance, state == "MASTER")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.collector.Collect(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode status")
	}
}

// authMiddleware enforces bearer-token auth when a token is
// configured. /healthz stays open for liveness probes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Exporter.AuthToken == "" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.Exporter.AuthToken {
			s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Unauthorized exporter request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
