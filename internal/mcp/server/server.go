// Package server exposes the plenario warehouse to LLM clients over the
// Model Context Protocol: a guarded SQL query tool, the live schema, and
// the data dictionary, served over streamable HTTP with optional bearer
// token authentication.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plenariolabs/plenario/internal/mcp/server/metrics"
)

// toolRefreshInterval is how often the server re-checks the warehouse for
// documented tables and updates the schema tool registration.
const toolRefreshInterval = 1 * time.Minute

type Server struct {
	log *slog.Logger
	cfg Config

	mcp  *mcp.Server
	http *http.Server

	registeredTools   map[string]struct{}
	registeredToolsMu sync.Mutex
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "Plenario MCP Server",
		Version: cfg.Version,
	}, nil)

	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
		mcp: mcpServer,

		registeredTools: make(map[string]struct{}),
	}

	err := RegisterQueryTool(s.log, mcpServer, cfg.Querier, "query", `
			PURPOSE:
			Execute read-only DuckDB SQL against the ALMG legislative warehouse (deputies, parties, bills, votes, speeches, committees, office expenses).

			USAGE RULES:
			- Consult the 'schema' tool before writing any SQL. Do not guess table or column names.
			- Dimension tables are 'dim_*', fact tables are 'fat_*'; join facts to dimensions through the 'sk_*' surrogate keys.
			- Filter text columns with the exact accented values the warehouse stores ('em exercício', not 'em exercicio'); the 'schema' tool lists them.
			- Aggregate with 'GROUP BY' and apply 'LIMIT' to keep result sets small.

			SUPPORTED SQL:
			- 'SELECT', 'JOIN', 'WHERE', 'GROUP BY', aggregations ('COUNT', 'SUM', 'AVG', percentiles), 'ORDER BY', 'LIMIT'

			IMPORTANT CONSTRAINTS:
			1. Statements are validated against the documented catalog before execution; DDL, DML and undocumented tables are rejected.
			2. Do not return large volumes of raw rows. Summarize whenever possible.

			Data comes from the open data portal of the Assembleia Legislativa de Minas Gerais, https://dadosabertos.almg.gov.br/
		`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query tool: %w", err)
	}

	if err := RegisterDictionaryTool(s.log, mcpServer, cfg.Querier.Schema()); err != nil {
		return nil, fmt.Errorf("failed to create dictionary tool: %w", err)
	}

	mux := http.NewServeMux()
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{
		Stateless: true, // Auto-initialize sessions, no manual initialize required
	})

	// Apply metrics middleware first, then authentication if needed
	metricsHandler := s.metricsMiddleware(handler)
	if len(cfg.AllowedTokens) > 0 {
		authHandler := s.authMiddleware(metricsHandler)
		mux.Handle("/", authHandler)
	} else {
		mux.Handle("/", metricsHandler)
	}

	mux.Handle("/healthz", s.metricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("failed to write healthz response", "error", err)
		}
	})))
	mux.Handle("/readyz", s.metricsMiddleware(http.HandlerFunc(s.readyzHandler)))

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	return s, nil
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.registerWarehouseTools(ctx); err != nil {
		s.log.Error("mcp/server: failed to register warehouse tools", "error", err)
	}

	// Periodically re-check the warehouse so the schema tool appears once
	// the first snapshot lands and disappears if a swap leaves the file
	// empty.
	go func() {
		ticker := time.NewTicker(toolRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.registerWarehouseTools(ctx); err != nil {
					s.log.Error("mcp/server: failed to register warehouse tools", "error", err)
				}
			}
		}
	}()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("mcp/server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("mcp/server: streamable http listening",
		"listenAddr", s.cfg.ListenAddr,
	)

	select {
	case <-ctx.Done():
		s.log.Info("mcp/server: stopping",
			"reason", ctx.Err(),
			"listenAddr", s.cfg.ListenAddr,
		)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("mcp/server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("mcp/server: http server error causing shutdown",
			"error", err,
			"listenAddr", s.cfg.ListenAddr,
		)
		return err
	}
}

// registerWarehouseTools registers the schema tool once the attached
// warehouse carries documented tables and removes it again when none are
// left. The query and dictionary tools are static and register at
// construction; the schema tool reads live warehouse contents, so an empty
// file has nothing for it to describe.
func (s *Server) registerWarehouseTools(ctx context.Context) error {
	enabled, err := s.cfg.Querier.EnabledTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to get enabled tables: %w", err)
	}

	s.registeredToolsMu.Lock()
	defer s.registeredToolsMu.Unlock()

	_, registered := s.registeredTools[schemaToolName]
	switch {
	case len(enabled) > 0 && !registered:
		s.log.Info("mcp/server: registering schema tool", "tables", len(enabled))
		if err := RegisterSchemaTool(s.log, s.mcp, s.cfg.SchemaFetcher); err != nil {
			return fmt.Errorf("failed to register schema tool: %w", err)
		}
		s.registeredTools[schemaToolName] = struct{}{}
	case len(enabled) == 0 && registered:
		s.log.Info("mcp/server: unregistering schema tool")
		s.mcp.RemoveTools(schemaToolName)
		delete(s.registeredTools, schemaToolName)
	}
	return nil
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

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			metrics.AuthFailuresTotal.WithLabelValues("missing_header").Inc()
			w.Header().Set("WWW-Authenticate", `Bearer`)
			w.WriteHeader(http.StatusUnauthorized)
			if _, err := w.Write([]byte("unauthorized: missing authorization header\n")); err != nil {
				s.log.Error("failed to write auth error response", "error", err)
			}
			return
		}

		// Extract token from "Bearer <token>" format
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			metrics.AuthFailuresTotal.WithLabelValues("invalid_format").Inc()
			w.Header().Set("WWW-Authenticate", `Bearer`)
			w.WriteHeader(http.StatusUnauthorized)
			if _, err := w.Write([]byte("unauthorized: invalid authorization header format\n")); err != nil {
				s.log.Error("failed to write auth error response", "error", err)
			}
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			metrics.AuthFailuresTotal.WithLabelValues("empty_token").Inc()
			w.Header().Set("WWW-Authenticate", `Bearer`)
			w.WriteHeader(http.StatusUnauthorized)
			if _, err := w.Write([]byte("unauthorized: empty token\n")); err != nil {
				s.log.Error("failed to write auth error response", "error", err)
			}
			return
		}

		allowed := false
		for _, allowedToken := range s.cfg.AllowedTokens {
			if token == allowedToken {
				allowed = true
				break
			}
		}

		if !allowed {
			metrics.AuthFailuresTotal.WithLabelValues("invalid_token").Inc()
			w.Header().Set("WWW-Authenticate", `Bearer`)
			w.WriteHeader(http.StatusUnauthorized)
			if _, err := w.Write([]byte("unauthorized: invalid token\n")); err != nil {
				s.log.Error("failed to write auth error response", "error", err)
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		method := r.Method
		endpoint := r.URL.Path

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(startTime).Seconds()
		status := fmt.Sprintf("%d", wrapped.statusCode)

		metrics.HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		metrics.HTTPRequestDuration.Observe(duration)
	})
}

// responseWriter captures the status code for the metrics middleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
