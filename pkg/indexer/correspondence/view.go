// Package correspondence maintains the response-time facts for official
// correspondence sent by the assembly to external institutions. It owns no
// dimension of its own: institutions come from the reference view, requesting
// authors from the parliament view, and dates from the calendar.
package correspondence

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

const viewName = "correspondence"

// Portal is the slice of the open data portal this view reads.
type Portal interface {
	CorrespondenceResponses(ctx context.Context, ano int) ([]almg.RespostaCorrespondencia, error)
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
		return fmt.Errorf("context cancelled while waiting for correspondence view: %w", ctx.Err())
	}
}

func (v *View) Start(ctx context.Context) {
	go func() {
		v.log.Info("correspondence: starting refresh loop", "interval", v.cfg.RefreshInterval, "years", v.cfg.Years)

		if err := v.Refresh(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			v.log.Error("correspondence: initial refresh failed", "error", err)
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
					v.log.Error("correspondence: refresh failed", "error", err)
				}
			}
		}
	}()
}

func (v *View) Refresh(ctx context.Context) error {
	refreshStart := time.Now()
	v.log.Debug("correspondence: refresh started", "start_time", refreshStart)
	defer func() {
		duration := time.Since(refreshStart)
		v.log.Info("correspondence: refresh completed", "duration", duration.String())
		metrics.ViewRefreshDuration.WithLabelValues(viewName).Observe(duration.Seconds())
		if err := recover(); err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			panic(err)
		}
	}()

	fetchedAt := time.Now().UTC()
	anos := append([]int(nil), v.cfg.Years...)
	sort.Ints(anos)

	respostas := make([]almg.RespostaCorrespondencia, 0)
	for _, ano := range anos {
		batch, err := v.cfg.Portal.CorrespondenceResponses(ctx, ano)
		if err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			return fmt.Errorf("failed to fetch correspondence responses for %d: %w", ano, err)
		}
		respostas = append(respostas, batch...)
	}

	v.log.Debug("correspondence: inserting responses", "count", len(respostas))
	if err := v.store.InsertResponses(ctx, respostas, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to insert responses: %w", err)
	}

	v.fetchedAt = fetchedAt
	v.readyOnce.Do(func() {
		close(v.readyCh)
		v.log.Info("correspondence: view is now ready")
	})

	v.log.Debug("correspondence: refresh completed", "fetched_at", fetchedAt)
	metrics.ViewRefreshTotal.WithLabelValues(viewName, "success").Inc()
	return nil
}
