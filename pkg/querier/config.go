package querier

import (
	"fmt"
	"log/slog"

	"github.com/plenariolabs/plenario/pkg/catalog"
	"github.com/plenariolabs/plenario/pkg/duck"
)

type Config struct {
	Logger *slog.Logger
	DB     duck.DB
	Schema *catalog.Schema
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DB == nil {
		return fmt.Errorf("database is required")
	}
	if cfg.Schema == nil {
		return fmt.Errorf("schema is required")
	}
	return nil
}
