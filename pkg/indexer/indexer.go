// Package indexer assembles the warehouse refresh loops. It migrates the
// star schema, builds one view per portal domain, and starts them in
// dependency order: the reference and parliament views own the dimensions
// every fact table resolves against, so the fact views wait for both before
// their first refresh.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plenariolabs/plenario/pkg/catalog"
	almgcat "github.com/plenariolabs/plenario/pkg/catalog/almg"
	"github.com/plenariolabs/plenario/pkg/indexer/activity"
	"github.com/plenariolabs/plenario/pkg/indexer/correspondence"
	"github.com/plenariolabs/plenario/pkg/indexer/norms"
	"github.com/plenariolabs/plenario/pkg/indexer/parliament"
	"github.com/plenariolabs/plenario/pkg/indexer/reference"
	"github.com/plenariolabs/plenario/pkg/indexer/skcache"
)

type Indexer struct {
	log *slog.Logger
	cfg Config

	reference      *reference.View
	parliament     *parliament.View
	activity       *activity.View
	norms          *norms.View
	correspondence *correspondence.View

	startedAt time.Time
}

func New(ctx context.Context, cfg Config) (*Indexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Run catalog migrations to ensure the star schema exists
	conn, err := cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection for migrations: %w", err)
	}
	if err := catalog.Migrate(ctx, cfg.Logger, conn, &almgcat.Schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run catalog migrations: %w", err)
	}
	conn.Close()

	// One resolver serves every fact loader, so a surrogate key resolved by
	// one view is a cache hit for the next.
	sk, err := skcache.NewResolver(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create surrogate key resolver: %w", err)
	}

	referenceView, err := reference.NewView(reference.ViewConfig{
		Logger:          cfg.Logger,
		Clock:           cfg.Clock,
		Portal:          cfg.Portal,
		DB:              cfg.DB,
		SK:              sk,
		RefreshInterval: cfg.RefreshInterval,
		CalendarFrom:    cfg.CalendarFrom,
		CalendarTo:      cfg.CalendarTo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reference view: %w", err)
	}

	parliamentView, err := parliament.NewView(parliament.ViewConfig{
		Logger:          cfg.Logger,
		Clock:           cfg.Clock,
		Portal:          cfg.Portal,
		DB:              cfg.DB,
		RefreshInterval: cfg.RefreshInterval,
		Legislatures:    cfg.Legislatures,
		Years:           cfg.Years,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create parliament view: %w", err)
	}

	activityView, err := activity.NewView(activity.ViewConfig{
		Logger:          cfg.Logger,
		Clock:           cfg.Clock,
		Portal:          cfg.Portal,
		DB:              cfg.DB,
		SK:              sk,
		RefreshInterval: cfg.RefreshInterval,
		Years:           cfg.Years,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create activity view: %w", err)
	}

	normsView, err := norms.NewView(norms.ViewConfig{
		Logger:          cfg.Logger,
		Clock:           cfg.Clock,
		Portal:          cfg.Portal,
		DB:              cfg.DB,
		SK:              sk,
		RefreshInterval: cfg.RefreshInterval,
		Years:           cfg.Years,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create norms view: %w", err)
	}

	correspondenceView, err := correspondence.NewView(correspondence.ViewConfig{
		Logger:          cfg.Logger,
		Clock:           cfg.Clock,
		Portal:          cfg.Portal,
		DB:              cfg.DB,
		SK:              sk,
		RefreshInterval: cfg.RefreshInterval,
		Years:           cfg.Years,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create correspondence view: %w", err)
	}

	return &Indexer{
		log: cfg.Logger,
		cfg: cfg,

		reference:      referenceView,
		parliament:     parliamentView,
		activity:       activityView,
		norms:          normsView,
		correspondence: correspondenceView,
	}, nil
}

func (i *Indexer) Ready() bool {
	return i.reference.Ready() &&
		i.parliament.Ready() &&
		i.activity.Ready() &&
		i.norms.Ready() &&
		i.correspondence.Ready()
}

func (i *Indexer) Start(ctx context.Context) {
	i.startedAt = i.cfg.Clock.Now()
	i.reference.Start(ctx)
	i.parliament.Start(ctx)

	// The fact views skip rows whose dimensions have not landed yet, so they
	// could start cold; waiting for the dimension owners keeps the first
	// refresh from discarding nearly everything.
	go func() {
		if err := i.reference.WaitReady(ctx); err != nil {
			return
		}
		if err := i.parliament.WaitReady(ctx); err != nil {
			return
		}
		i.activity.Start(ctx)
		i.norms.Start(ctx)
		i.correspondence.Start(ctx)
	}()
}

func (i *Indexer) Close() error {
	return nil
}
