package indexer

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/plenariolabs/plenario/pkg/duck"
	"github.com/plenariolabs/plenario/pkg/indexer/activity"
	"github.com/plenariolabs/plenario/pkg/indexer/correspondence"
	"github.com/plenariolabs/plenario/pkg/indexer/norms"
	"github.com/plenariolabs/plenario/pkg/indexer/parliament"
	"github.com/plenariolabs/plenario/pkg/indexer/reference"
)

// Portal is the full open-data surface the indexer reads. *almg.Client
// implements it; each view declares the slice it actually uses.
type Portal interface {
	reference.Portal
	parliament.Portal
	activity.Portal
	norms.Portal
	correspondence.Portal
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	DB     duck.DB
	Portal Portal

	RefreshInterval time.Duration

	// Legislatures to list deputies for and Years to crawl the yearly
	// endpoints for, both ascending.
	Legislatures []int
	Years        []int

	// Bounds of the generated calendar dimension. Zero values fall back to
	// the span of the known legislatures.
	CalendarFrom time.Time
	CalendarTo   time.Time
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("database is required")
	}
	if cfg.Portal == nil {
		return errors.New("portal is required")
	}
	if cfg.RefreshInterval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if len(cfg.Legislatures) == 0 {
		return errors.New("at least one legislature is required")
	}
	if len(cfg.Years) == 0 {
		return errors.New("at least one year is required")
	}

	// Optional with default
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}
