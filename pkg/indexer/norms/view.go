// Package norms maintains the promulgated-law slice of the star: the norms
// dimension, norm authorship facts, and thesaurus indexing facts. Authors
// come from the parliament view and thesaurus terms from the reference view,
// so the indexer starts it after both are ready.
package norms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/plenariolabs/plenario/pkg/duck"
	"github.com/plenariolabs/plenario/pkg/indexer/almg"
	"github.com/plenariolabs/plenario/pkg/indexer/metrics"
	"github.com/plenariolabs/plenario/pkg/indexer/skcache"
)

const viewName = "norms"

// Portal is the slice of the open data portal this view reads.
type Portal interface {
	Norms(ctx context.Context, ano int) ([]almg.Norma, error)
	NormAuthorships(ctx context.Context, ano int) ([]almg.AutoriaNorma, error)
	Indexings(ctx context.Context, ano int) ([]almg.Indexacao, error)
}

type ViewConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Portal Portal
	DB     duck.DB
	SK     *skcache.Resolver

	RefreshInterval time.Duration

	// Years to fetch, ascending.
	Years []int
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
	if len(cfg.Years) == 0 {
		return errors.New("at least one year is required")
	}

	// Optional with default
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
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
		return fmt.Errorf("context cancelled while waiting for norms view: %w", ctx.Err())
	}
}

func (v *View) Start(ctx context.Context) {
	go func() {
		v.log.Info("norms: starting refresh loop", "interval", v.cfg.RefreshInterval, "years", v.cfg.Years)

		if err := v.Refresh(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			v.log.Error("norms: initial refresh failed", "error", err)
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
					v.log.Error("norms: refresh failed", "error", err)
				}
			}
		}
	}()
}

func (v *View) Refresh(ctx context.Context) error {
	refreshStart := time.Now()
	v.log.Debug("norms: refresh started", "start_time", refreshStart)
	defer func() {
		duration := time.Since(refreshStart)
		v.log.Info("norms: refresh completed", "duration", duration.String())
		metrics.ViewRefreshDuration.WithLabelValues(viewName).Observe(duration.Seconds())
		if err := recover(); err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			panic(err)
		}
	}()

	fetchedAt := time.Now().UTC()
	anos := append([]int(nil), v.cfg.Years...)
	sort.Ints(anos)

	// The norms dimension lands first so the year's facts can resolve against
	// it within the same refresh.
	normas := make([]almg.Norma, 0)
	seen := make(map[int64]int)
	for _, ano := range anos {
		batch, err := v.cfg.Portal.Norms(ctx, ano)
		if err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			return fmt.Errorf("failed to fetch norms for %d: %w", ano, err)
		}
		for _, n := range batch {
			if idx, ok := seen[n.ID]; ok {
				normas[idx] = n
				continue
			}
			seen[n.ID] = len(normas)
			normas = append(normas, n)
		}
	}
	v.log.Debug("norms: refreshing norms", "count", len(normas))
	if err := v.store.ReplaceNorms(ctx, normas, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to refresh norms: %w", err)
	}

	autorias := make([]almg.AutoriaNorma, 0)
	indexacoes := make([]almg.Indexacao, 0)
	for _, ano := range anos {
		a, err := v.cfg.Portal.NormAuthorships(ctx, ano)
		if err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			return fmt.Errorf("failed to fetch norm authorships for %d: %w", ano, err)
		}
		autorias = append(autorias, a...)

		idx, err := v.cfg.Portal.Indexings(ctx, ano)
		if err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			return fmt.Errorf("failed to fetch indexings for %d: %w", ano, err)
		}
		indexacoes = append(indexacoes, idx...)
	}

	v.log.Debug("norms: inserting norm authorships", "count", len(autorias))
	if err := v.store.InsertNormAuthorships(ctx, autorias, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to insert norm authorships: %w", err)
	}

	v.log.Debug("norms: inserting indexings", "count", len(indexacoes))
	if err := v.store.InsertIndexings(ctx, indexacoes, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to insert indexings: %w", err)
	}

	v.fetchedAt = fetchedAt
	v.readyOnce.Do(func() {
		close(v.readyCh)
		v.log.Info("norms: view is now ready")
	})

	v.log.Debug("norms: refresh completed", "fetched_at", fetchedAt)
	metrics.ViewRefreshTotal.WithLabelValues(viewName, "success").Inc()
	return nil
}
