package correspondence

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"time"

	almgcat "github.com/plenariolabs/plenario/pkg/catalog/almg"
	"github.com/plenariolabs/plenario/pkg/duck"
	"github.com/plenariolabs/plenario/pkg/indexer/almg"
	"github.com/plenariolabs/plenario/pkg/indexer/calendar"
	"github.com/plenariolabs/plenario/pkg/indexer/skcache"
)

type StoreConfig struct {
	Logger *slog.Logger
	DB     duck.DB
	SK     *skcache.Resolver
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("database is required")
	}
	if cfg.SK == nil {
		return errors.New("surrogate key resolver is required")
	}
	return nil
}

// Store loads the correspondence response facts. Every dimension the facts
// reference is owned by another view, so this store only resolves and
// inserts; rows whose references have not landed yet are skipped and picked
// up by a later refresh.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
	db  duck.DB
	sk  *skcache.Resolver
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Store{
		log: cfg.Logger,
		cfg: cfg,
		db:  cfg.DB,
		sk:  cfg.SK,
	}, nil
}

func ResponseFactConfig() duck.FactConfig {
	return almgcat.MustTable("fat_resposta_correspondencia").FactConfig()
}

// dateKey renders a portal date as the date dimension's natural key, or ""
// when the date is absent so the row counts as unresolved.
func dateKey(d almg.Date) string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d", calendar.DayID(d.Time))
}

func (s *Store) InsertResponses(ctx context.Context, respostas []almg.RespostaCorrespondencia, fetchedAt time.Time) error {
	s.log.Debug("correspondence/store: inserting responses", "count", len(respostas))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	instituicoes := make([]string, len(respostas))
	autores := make([]string, len(respostas))
	datas := make([]string, len(respostas))
	for i, r := range respostas {
		instituicoes[i] = fmt.Sprintf("%d", r.IDInstituicao)
		autores[i] = fmt.Sprintf("%d", r.IDAutor)
		datas[i] = dateKey(r.DataResposta)
	}

	skInstituicao, err := s.sk.ResolveAll(ctx, conn, "dim_instituicao", "sk_instituicao", "id", instituicoes)
	if err != nil {
		return fmt.Errorf("failed to resolve institutions: %w", err)
	}
	skAutor, err := s.sk.ResolveAll(ctx, conn, "dim_autor_requerimento", "sk_autor", "id", autores)
	if err != nil {
		return fmt.Errorf("failed to resolve authors: %w", err)
	}
	skData, err := s.sk.ResolveAll(ctx, conn, "dim_data_resposta", "sk_data", "id", datas)
	if err != nil {
		return fmt.Errorf("failed to resolve dates: %w", err)
	}

	rows := make([][]string, 0, len(respostas))
	skipped := 0
	for i, r := range respostas {
		skI, okI := skInstituicao[instituicoes[i]]
		skA, okA := skAutor[autores[i]]
		skD, okD := skData[datas[i]]
		if !okI || !okA || !okD {
			skipped++
			continue
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.ID),
			fmt.Sprintf("%d", skI),
			fmt.Sprintf("%d", skA),
			fmt.Sprintf("%d", skD),
			fmt.Sprintf("%d", r.DiasParaResposta),
		})
	}
	if skipped > 0 {
		s.log.Warn("correspondence/store: skipping responses with unresolved dimensions",
			"skipped", skipped, "total", len(respostas))
	}

	cfg := ResponseFactConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.InsertFactsViaCSV(ctx, s.log, conn, cfg, len(rows), func(w *csv.Writer, i int) error {
		return w.Write(rows[i])
	})
}
