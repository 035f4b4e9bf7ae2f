package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/plenariolabs/plenario/pkg/assistant"
	"github.com/plenariolabs/plenario/pkg/duck"
	"github.com/plenariolabs/plenario/pkg/querier"
)

const (
	defaultReadHeaderTimeout     = 5 * time.Second
	defaultShutdownTimeout       = 5 * time.Second
	defaultStatusRefreshInterval = 30 * time.Second
	defaultSessionTTL            = 24 * time.Hour
)

// defaultAllowedOrigins covers the local web UI dev server.
var defaultAllowedOrigins = []string{"http://localhost:5173"}

type Config struct {
	Logger *slog.Logger

	// DB is the warehouse handle for internal queries (status, row counts).
	// Client SQL never reaches it directly; that goes through Querier and
	// the guard.
	DB      duck.DB
	Querier *querier.Querier

	// Pipeline answers chat requests. Optional: without it the chat
	// endpoints report that no LLM provider is configured.
	Pipeline *assistant.Pipeline

	// Completer serves /api/complete with a small token budget. Optional,
	// same degradation as Pipeline.
	Completer assistant.LLMClient

	Version           string
	ListenAddr        string
	AllowedOrigins    []string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// StatusRefreshInterval drives the background status cache. Zero keeps
	// the default; negative disables the cache and computes status per
	// request (used in tests).
	StatusRefreshInterval time.Duration

	// SessionTTL is how long an untouched session survives in the
	// in-memory store.
	SessionTTL time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.DB == nil {
		return fmt.Errorf("db is required")
	}
	if c.Querier == nil {
		return fmt.Errorf("querier is required")
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = defaultAllowedOrigins
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.StatusRefreshInterval == 0 {
		c.StatusRefreshInterval = defaultStatusRefreshInterval
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = defaultSessionTTL
	}
	return nil
}
