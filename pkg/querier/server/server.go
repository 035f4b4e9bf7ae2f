// Package server exposes the querier over two surfaces: a small HTTP API
// for health probes and guarded JSON queries, and a PostgreSQL wire
// protocol frontend so BI tools can attach to the warehouse as if it
// were a Postgres database. Both surfaces run every client statement
// through the guard before it reaches DuckDB.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	wire "github.com/jeroenrinzema/psql-wire"

	"github.com/plenariolabs/plenario/pkg/querier"
	"github.com/plenariolabs/plenario/pkg/querier/guard"
	"github.com/plenariolabs/plenario/pkg/querier/metrics"
)

type Server struct {
	log              *slog.Logger
	cfg              Config
	querier          *querier.Querier
	httpSrv          *http.Server
	httpListener     net.Listener
	psqlSrv          *wire.Server
	postgresListener net.Listener
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	q, err := querier.New(cfg.QuerierConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create querier: %w", err)
	}

	s := &Server{
		log:     cfg.QuerierConfig.Logger,
		cfg:     cfg,
		querier: q,
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("failed to write healthz response", "error", err)
		}
	}))
	mux.Handle("/readyz", http.HandlerFunc(s.readyzHandler))
	mux.Handle("/query", http.HandlerFunc(s.httpQueryHandler))

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		// Add timeouts to prevent connection issues from affecting the server
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		// Set MaxHeaderBytes to prevent abuse
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	s.httpListener = cfg.HTTPListener

	// Set up PostgreSQL wire protocol server if listener is configured
	if cfg.PostgresListener != nil {
		authEnabled := len(cfg.PostgresAccounts) > 0
		if authEnabled {
			s.log.Info("server: postgres authentication enabled", "account_count", len(cfg.PostgresAccounts))
		} else {
			s.log.Info("server: postgres authentication disabled (no accounts configured)")
		}

		authStrategy := createAuthStrategy(s.log, cfg.PostgresAccounts)

		psqlSrv, err := wire.NewServer(
			s.queryHandler,
			wire.Logger(s.log),
			wire.SessionAuthStrategy(authStrategy),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL wire server: %w", err)
		}
		s.psqlSrv = psqlSrv
		s.postgresListener = cfg.PostgresListener
	}

	return s, nil
}

func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 2)

	go func() {
		if err := s.httpSrv.Serve(s.httpListener); err != nil && err != http.ErrServerClosed {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()
	s.log.Info("server: http listening", "address", s.httpListener.Addr())

	if s.psqlSrv != nil && s.postgresListener != nil {
		go func() {
			if err := s.psqlSrv.Serve(s.postgresListener); err != nil {
				s.log.Error("server: postgres wire server error", "error", err)
				serveErrCh <- fmt.Errorf("failed to serve PostgreSQL: %w", err)
			}
		}()
		s.log.Info("server: postgres wire protocol listening", "address", s.postgresListener.Addr())
	}

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()

		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")

		if s.psqlSrv != nil {
			if err := s.psqlSrv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shutdown PostgreSQL wire server: %w", err)
			}
			s.log.Info("server: postgres wire server shutdown complete")
		}

		return nil
	case err := <-serveErrCh:
		s.log.Error("server: server error causing shutdown", "error", err)
		return err
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !s.querier.Ready() {
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

type queryRequest struct {
	SQL string `json:"sql"`
}

func (s *Server) httpQueryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if err := guard.Check(req.SQL, s.querier.Schema()); err != nil {
		metrics.QueriesTotal.WithLabelValues("http", "rejected").Inc()
		s.writeJSONError(w, http.StatusBadRequest, fmt.Errorf("query rejected: %w", err))
		return
	}

	start := time.Now()
	resp, err := s.querier.Query(r.Context(), req.SQL)
	metrics.QueryDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("http", "error").Inc()
		s.writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	metrics.QueriesTotal.WithLabelValues("http", "ok").Inc()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to write query response", "error", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}); encErr != nil {
		s.log.Error("failed to write error response", "error", encErr)
	}
}
