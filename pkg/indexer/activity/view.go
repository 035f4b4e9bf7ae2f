// Package activity maintains the legislative activity slice of the star:
// the propositions dimension and the authorship, vote, attendance, and
// committee action facts. It depends on the reference and parliament views
// for the dimensions its facts join against, so the indexer starts it after
// both are ready.
package activity

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

const viewName = "activity"

// Portal is the slice of the open data portal this view reads.
type Portal interface {
	Propositions(ctx context.Context, ano int) ([]almg.Proposicao, error)
	Authorships(ctx context.Context, ano int) ([]almg.Autoria, error)
	Votes(ctx context.Context, ano int) ([]almg.Voto, error)
	Attendances(ctx context.Context, ano int) ([]almg.Presenca, error)
	CommitteeActions(ctx context.Context, ano int) ([]almg.Tramitacao, error)
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
		return fmt.Errorf("context cancelled while waiting for activity view: %w", ctx.Err())
	}
}

func (v *View) Start(ctx context.Context) {
	go func() {
		v.log.Info("activity: starting refresh loop", "interval", v.cfg.RefreshInterval, "years", v.cfg.Years)

		if err := v.Refresh(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			v.log.Error("activity: initial refresh failed", "error", err)
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
					v.log.Error("activity: refresh failed", "error", err)
				}
			}
		}
	}()
}

func (v *View) Refresh(ctx context.Context) error {
	refreshStart := time.Now()
	v.log.Debug("activity: refresh started", "start_time", refreshStart)
	defer func() {
		duration := time.Since(refreshStart)
		v.log.Info("activity: refresh completed", "duration", duration.String())
		metrics.ViewRefreshDuration.WithLabelValues(viewName).Observe(duration.Seconds())
		if err := recover(); err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			panic(err)
		}
	}()

	fetchedAt := time.Now().UTC()
	anos := append([]int(nil), v.cfg.Years...)
	sort.Ints(anos)

	// The propositions dimension lands first so the year's facts can resolve
	// against it within the same refresh.
	proposicoes := make([]almg.Proposicao, 0)
	seen := make(map[int64]int)
	for _, ano := range anos {
		batch, err := v.cfg.Portal.Propositions(ctx, ano)
		if err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			return fmt.Errorf("failed to fetch propositions for %d: %w", ano, err)
		}
		for _, p := range batch {
			if idx, ok := seen[p.ID]; ok {
				proposicoes[idx] = p
				continue
			}
			seen[p.ID] = len(proposicoes)
			proposicoes = append(proposicoes, p)
		}
	}
	v.log.Debug("activity: refreshing propositions", "count", len(proposicoes))
	if err := v.store.ReplacePropositions(ctx, proposicoes, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to refresh propositions: %w", err)
	}

	autorias := make([]almg.Autoria, 0)
	votos := make([]almg.Voto, 0)
	presencas := make([]almg.Presenca, 0)
	tramitacoes := make([]almg.Tramitacao, 0)
	for _, ano := range anos {
		a, err := v.cfg.Portal.Authorships(ctx, ano)
		if err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			return fmt.Errorf("failed to fetch authorships for %d: %w", ano, err)
		}
		autorias = append(autorias, a...)

		vt, err := v.cfg.Portal.Votes(ctx, ano)
		if err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			return fmt.Errorf("failed to fetch votes for %d: %w", ano, err)
		}
		votos = append(votos, vt...)

		pr, err := v.cfg.Portal.Attendances(ctx, ano)
		if err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			return fmt.Errorf("failed to fetch attendances for %d: %w", ano, err)
		}
		presencas = append(presencas, pr...)

		tr, err := v.cfg.Portal.CommitteeActions(ctx, ano)
		if err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			return fmt.Errorf("failed to fetch committee actions for %d: %w", ano, err)
		}
		tramitacoes = append(tramitacoes, tr...)
	}

	v.log.Debug("activity: inserting authorships", "count", len(autorias))
	if err := v.store.InsertAuthorships(ctx, autorias, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to insert authorships: %w", err)
	}

	v.log.Debug("activity: inserting votes", "count", len(votos))
	if err := v.store.InsertVotes(ctx, votos, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to insert votes: %w", err)
	}

	v.log.Debug("activity: inserting attendances", "count", len(presencas))
	if err := v.store.InsertAttendances(ctx, presencas, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to insert attendances: %w", err)
	}

	v.log.Debug("activity: inserting committee actions", "count", len(tramitacoes))
	if err := v.store.InsertCommitteeActions(ctx, tramitacoes, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to insert committee actions: %w", err)
	}

	v.fetchedAt = fetchedAt
	v.readyOnce.Do(func() {
		close(v.readyCh)
		v.log.Info("activity: view is now ready")
	})

	v.log.Debug("activity: refresh completed", "fetched_at", fetchedAt)
	metrics.ViewRefreshTotal.WithLabelValues(viewName, "success").Inc()
	return nil
}
