// Package api serves the BI assistant HTTP API: guarded SQL queries, the
// catalog and data dictionary, warehouse status, chat over the assistant
// pipeline (plain and SSE streaming), and browser session storage. Every
// piece of client SQL runs through the guard before it reaches DuckDB.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/plenariolabs/plenario/internal/api/metrics"
	"github.com/plenariolabs/plenario/pkg/catalog"
)

type Server struct {
	log *slog.Logger
	cfg Config

	http     *http.Server
	router   chi.Router
	sessions *SessionStore
	status   *StatusCache

	// dictionary is rendered once at startup; the catalog is static for
	// the life of the process.
	dictionary []byte
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dictionary, err := catalog.Dictionary(cfg.Querier.Schema())
	if err != nil {
		return nil, fmt.Errorf("failed to render data dictionary: %w", err)
	}

	s := &Server{
		log:        cfg.Logger,
		cfg:        cfg,
		sessions:   NewSessionStore(cfg.Logger, cfg.SessionTTL),
		dictionary: []byte(dictionary),
	}
	if cfg.StatusRefreshInterval > 0 {
		s.status = NewStatusCache(cfg.Logger, cfg.StatusRefreshInterval, s.fetchStatus)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthzHandler)
	r.Get("/readyz", s.readyzHandler)

	r.Get("/api/catalog", s.getCatalogHandler)
	r.Get("/api/dictionary", s.getDictionaryHandler)
	r.Get("/api/status", s.getStatusHandler)
	r.Post("/api/query", s.executeQueryHandler)
	r.Post("/api/chat", s.chatHandler)
	r.Post("/api/chat/stream", s.chatStreamHandler)
	r.Post("/api/complete", s.completeHandler)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.listSessionsHandler)
		r.Post("/", s.createSessionHandler)
		r.Post("/batch", s.batchGetSessionsHandler)
		r.Get("/{id}", s.getSessionHandler)
		r.Put("/{id}", s.updateSessionHandler)
		r.Delete("/{id}", s.deleteSessionHandler)
	})

	s.router = r
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		// Streaming chat responses hold the connection open well past any
		// sane write timeout, so only reads are bounded here.
		ReadTimeout:    60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	return s, nil
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	s.sessions.Start()
	defer s.sessions.Stop()

	if s.status != nil {
		s.status.Start()
		defer s.status.Stop()
	}

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("api: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()
	s.log.Info("api: http listening", "listenAddr", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("api: stopping", "reason", ctx.Err())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("api: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("api: server error causing shutdown", "error", err)
		return err
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Querier.Ready() {
		s.log.Debug("readyz: querier not ready")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("querier not ready\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

// writeJSON encodes v with the JSON content type. Encoding failures are
// logged; by then part of the body may already be on the wire.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write JSON response", "error", err)
	}
}

// internalError logs the full error and returns a message safe to send to
// clients. DuckDB and guard errors carry no credentials, so the error text
// is included.
func (s *Server) internalError(msg string, err error) string {
	s.log.Error(msg, "error", err)
	return fmt.Sprintf("%s: %v", msg, err)
}

// sanitizeValue replaces non-JSON-serializable values (Inf, NaN) with nil.
func sanitizeValue(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsInf(val, 0) || math.IsNaN(val) {
			return nil
		}
	case float32:
		if math.IsInf(float64(val), 0) || math.IsNaN(float64(val)) {
			return nil
		}
	}
	return v
}
