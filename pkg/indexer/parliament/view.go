// Package parliament maintains the dimensions owned by the assembly itself:
// deputies per legislature, committees, and the proposition author dimension
// whose role views also serve norm and correspondence authors.
package parliament

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
)

const viewName = "parliament"

// Portal is the slice of the open data portal this view reads.
type Portal interface {
	Deputies(ctx context.Context, legislatura int) ([]almg.Deputado, error)
	Committees(ctx context.Context) ([]almg.Comissao, error)
	Authors(ctx context.Context, ano int) ([]almg.Autor, error)
}

type ViewConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Portal Portal
	DB     duck.DB

	RefreshInterval time.Duration

	// Legislatures to list deputies for and Years to list authors for, both
	// ascending; when an entity appears more than once, the latest listing
	// wins.
	Legislatures []int
	Years        []int
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
		return fmt.Errorf("context cancelled while waiting for parliament view: %w", ctx.Err())
	}
}

func (v *View) Start(ctx context.Context) {
	go func() {
		v.log.Info("parliament: starting refresh loop", "interval", v.cfg.RefreshInterval)

		if err := v.Refresh(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			v.log.Error("parliament: initial refresh failed", "error", err)
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
					v.log.Error("parliament: refresh failed", "error", err)
				}
			}
		}
	}()
}

func (v *View) Refresh(ctx context.Context) error {
	refreshStart := time.Now()
	v.log.Debug("parliament: refresh started", "start_time", refreshStart)
	defer func() {
		duration := time.Since(refreshStart)
		v.log.Info("parliament: refresh completed", "duration", duration.String())
		metrics.ViewRefreshDuration.WithLabelValues(viewName).Observe(duration.Seconds())
		if err := recover(); err != nil {
			metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
			panic(err)
		}
	}()

	fetchedAt := time.Now().UTC()

	deputados, err := v.fetchDeputies(ctx)
	if err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return err
	}
	v.log.Debug("parliament: refreshing deputies", "count", len(deputados))
	if err := v.store.ReplaceDeputies(ctx, deputados, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to refresh deputies: %w", err)
	}

	comissoes, err := v.cfg.Portal.Committees(ctx)
	if err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to fetch committees: %w", err)
	}
	v.log.Debug("parliament: refreshing committees", "count", len(comissoes))
	if err := v.store.ReplaceCommittees(ctx, comissoes, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to refresh committees: %w", err)
	}

	autores, err := v.fetchAuthors(ctx)
	if err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return err
	}
	v.log.Debug("parliament: refreshing authors", "count", len(autores))
	if err := v.store.ReplaceAuthors(ctx, autores, fetchedAt); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewName, "error").Inc()
		return fmt.Errorf("failed to refresh authors: %w", err)
	}

	v.fetchedAt = fetchedAt
	v.readyOnce.Do(func() {
		close(v.readyCh)
		v.log.Info("parliament: view is now ready")
	})

	v.log.Debug("parliament: refresh completed", "fetched_at", fetchedAt)
	metrics.ViewRefreshTotal.WithLabelValues(viewName, "success").Inc()
	return nil
}

// fetchDeputies lists every configured legislature and keeps one row per
// deputy. Legislatures are walked in ascending order, so a deputy with more
// than one mandate keeps the most recent one.
func (v *View) fetchDeputies(ctx context.Context) ([]Deputy, error) {
	legislaturas := append([]int(nil), v.cfg.Legislatures...)
	sort.Ints(legislaturas)

	deputados := make([]Deputy, 0)
	seen := make(map[int64]int)
	for _, legislatura := range legislaturas {
		batch, err := v.cfg.Portal.Deputies(ctx, legislatura)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch deputies for legislature %d: %w", legislatura, err)
		}
		for _, d := range batch {
			stamped := Deputy{Deputado: d, Legislatura: legislatura}
			if idx, ok := seen[d.ID]; ok {
				deputados[idx] = stamped
				continue
			}
			seen[d.ID] = len(deputados)
			deputados = append(deputados, stamped)
		}
	}
	return deputados, nil
}

// fetchAuthors lists every configured year and keeps one row per author,
// latest year winning.
func (v *View) fetchAuthors(ctx context.Context) ([]almg.Autor, error) {
	anos := append([]int(nil), v.cfg.Years...)
	sort.Ints(anos)

	autores := make([]almg.Autor, 0)
	seen := make(map[int64]int)
	for _, ano := range anos {
		batch, err := v.cfg.Portal.Authors(ctx, ano)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch authors for %d: %w", ano, err)
		}
		for _, a := range batch {
			if idx, ok := seen[a.ID]; ok {
				autores[idx] = a
				continue
			}
			seen[a.ID] = len(autores)
			autores = append(autores, a)
		}
	}
	return autores, nil
}
