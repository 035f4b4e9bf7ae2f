package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/plenariolabs/plenario/pkg/assistant"
	"github.com/plenariolabs/plenario/pkg/querier"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

type Config struct {
	Logger *slog.Logger

	// Querier answers the query tool and the readiness probe. Every
	// statement the tool receives runs through the guard against the
	// documented catalog before it reaches DuckDB.
	Querier *querier.Querier

	// SchemaFetcher renders the live warehouse schema for the schema tool,
	// sample values included.
	SchemaFetcher assistant.SchemaFetcher

	Version           string
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowedTokens     []string // Bearer tokens allowed for MCP endpoint authentication
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Querier == nil {
		return fmt.Errorf("querier is required")
	}
	if c.SchemaFetcher == nil {
		return fmt.Errorf("schema fetcher is required")
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
