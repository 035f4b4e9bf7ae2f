// Package reference maintains the warehouse's shared reference dimensions:
// the generated calendar, municipalities, institutions, and the legislative
// thesaurus. Every other view resolves keys against tables owned here, so
// the reference view is started first.
package reference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/plenariolabs/plenario/pkg/duck"
	"github.com/plenariolabs/plenario/pkg/indexer/almg"
	"github.com/plenariolabs/plenario/pkg/indexer/calendar"
	"github.com/plenariolabs/plenario/pkg/indexer/metrics"
	"github.com/plenariolabs/plenario/pkg/indexer/skcache"
)

const viewName = "reference"

// Portal is the slice of the open data portal this view reads.
type Portal interface {
	Municipalities(ctx context.Context) ([]almg.Municipio, error)
	Institutions(ctx context.Context) ([]almg.Instituicao, error)
	ThesaurusTerms(ctx context.Context) ([]almg.TermoTesauro, error)
}

type ViewConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Portal Portal
	DB     duck.DB
	SK     *skcache.Resolver

	RefreshInterval time.Duration

	// Calendar bounds the generated date dimension; the bounds default to
	// the span of the known legislatures.
	Calendar     *calendar.Calendar
	CalendarFrom time.Time
	CalendarTo   time.Time
}

func (cfg *ViewConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Portal == nil {
		return errors.New("portal is required")
	}
	if cfg.DB == nil {
		return errors.New("database is required")
	}
	if cfg.SK == nil {
		return errors.New("surrogate key resolver is required")
	}
	if cfg.RefreshInterval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}

	// Optional with default
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Calendar == nil {
		cal, err := calendar.Default()
		if err != nil {
			return fmt.Errorf("failed to load default calendar: %w", err)
		}
		cfg.Calendar = cal
	}
	if cfg.CalendarFrom.IsZero() || cfg.CalendarTo.IsZero() {
		from, to, ok := cfg.Calendar.Span()
		if !ok {
			return errors.New("calendar has no known legislatures")
		}
		if cfg.CalendarFrom.IsZero() {
			cfg.CalendarFrom = from
		}
		if cfg.CalendarTo.IsZero() {
			cfg.CalendarTo = to
		}
	}
	return nil
}

type View struct {
	log   *slog.Logger
	cfg   ViewConfig
	store *Store

	fetchedAt time.Time

	readyOnce sync.Once
	readyCh   chan struct{}
}

func NewView(cfg ViewConfig) (*View, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	store, err := NewStore(StoreConfig{
		Logger: cfg.Logger,
		DB:     cfg.DB,
		SK:     cfg.SK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	return &View{
		log:     cfg.Logger,
		cfg:     cfg,
		store:   store,
		readyCh: make(chan struct{}),
	}, nil
}

func (v *View) Ready() bool {
	select {
	case <-v.readyCh:
		return true
	default:
		return false
	}
}

func (v *View) WaitReady(ctx context.Context) error {
	select {
	case <-v.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for reference view: %w", ctx.Err())
	}
}

func (v *View) Start(ctx context.Context) {
	go func() {
		v.log.Info("reference: starting refresh loop", "interval", v.cfg.RefreshInterval)

		if err := v.Refresh(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			v.log.Error("reference: initial refresh failed", "error", err)
		}
		ticker := v.cfg.Clock.NewTicker(v.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if err := v.Refresh(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					v.log.Error("reference: refresh failed", "error", err)
				}
			}
		}
	}()
}

func (v *View) Refresh(ctx context.Context) error {
	refreshStart := time.Now()
	v.log.Debug("reference: refresh started", "start_time", refreshStart)
	defer func() {
		duration := time.Since(refreshStart)
		v.log.Info("reference: refresh completed", "duration", duration.String())
		metrics.ViewRefreshDuration.WithLabelValues(viewName).Observe(duration.Seconds())
		if err := recover(); err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			panic(err)
		}
	}()

	fetchedAt := time.Now().UTC()

	days := v.cfg.Calendar.Days(v.cfg.CalendarFrom, v.cfg.CalendarTo)
	v.log.Debug("reference: refreshing calendar", "count", len(days))
	if err := v.store.ReplaceCalendar(ctx, days, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to refresh calendar: %w", err)
	}

	municipios, err := v.cfg.Portal.Municipalities(ctx)
	if err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to fetch municipalities: %w", err)
	}
	v.log.Debug("reference: refreshing municipalities", "count", len(municipios))
	if err := v.store.ReplaceMunicipalities(ctx, municipios, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to refresh municipalities: %w", err)
	}

	// Institutions resolve their municipality key, so they load after the
	// municipalities landed.
	instituicoes, err := v.cfg.Portal.Institutions(ctx)
	if err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to fetch institutions: %w", err)
	}
	v.log.Debug("reference: refreshing institutions", "count", len(instituicoes))
	if err := v.store.ReplaceInstitutions(ctx, instituicoes, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to refresh institutions: %w", err)
	}

	termos, err := v.cfg.Portal.ThesaurusTerms(ctx)
	if err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to fetch thesaurus terms: %w", err)
	}
	v.log.Debug("reference: refreshing thesaurus terms", "count", len(termos))
	if err := v.store.ReplaceThesaurus(ctx, termos, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to refresh thesaurus terms: %w", err)
	}

	v.fetchedAt = fetchedAt
	v.readyOnce.Do(func() {
		close(v.readyCh)
		v.log.Info("reference: view is now ready")
	})

	v.log.Debug("reference: refresh completed", "fetched_at", fetchedAt)
	metrics.ViewRefreshTotal.WithLabelValues(viewName, "success").Inc()
	return nil
}
