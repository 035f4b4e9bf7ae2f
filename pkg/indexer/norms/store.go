package norms

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

// Store loads the norms dimension and the facts hanging off it: norm
// authorships resolved through the dim_autor_norma role view, and thesaurus
// indexings.
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

func NormDimConfig() duck.DimConfig {
	return almgcat.MustTable("dim_norma_juridica").DimConfig()
}

func NormAuthorshipFactConfig() duck.FactConfig {
	return almgcat.MustTable("fat_autoria_norma").FactConfig()
}

func IndexingFactConfig() duck.FactConfig {
	return almgcat.MustTable("fat_indexacao_documento").FactConfig()
}

func (s *Store) ReplaceNorms(ctx context.Context, normas []almg.Norma, fetchedAt time.Time) error {
	s.log.Debug("norms/store: replacing norms", "count", len(normas))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	cfg := NormDimConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.ReplaceDimensionViaCSV(ctx, s.log, conn, cfg, len(normas), func(w *csv.Writer, i int) error {
		n := normas[i]
		return w.Write([]string{
			fmt.Sprintf("%d", n.ID),
			n.Tipo,
			fmt.Sprintf("%d", n.Numero),
			fmt.Sprintf("%d", n.Ano),
			n.Ementa,
		})
	})
}

func (s *Store) InsertNormAuthorships(ctx context.Context, autorias []almg.AutoriaNorma, fetchedAt time.Time) error {
	s.log.Debug("norms/store: inserting norm authorships", "count", len(autorias))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	autores := make([]string, len(autorias))
	normas := make([]string, len(autorias))
	for i, a := range autorias {
		autores[i] = fmt.Sprintf("%d", a.IDAutor)
		normas[i] = fmt.Sprintf("%d", a.IDNorma)
	}

	skAutor, err := s.sk.ResolveAll(ctx, conn, "dim_autor_norma", "sk_autor", "id", autores)
	if err != nil {
		return fmt.Errorf("failed to resolve authors: %w", err)
	}
	skNorma, err := s.sk.ResolveAll(ctx, conn, "dim_norma_juridica", "sk_norma_juridica", "id", normas)
	if err != nil {
		return fmt.Errorf("failed to resolve norms: %w", err)
	}

	rows := make([][]string, 0, len(autorias))
	skipped := 0
	for i, a := range autorias {
		skA, okA := skAutor[autores[i]]
		skN, okN := skNorma[normas[i]]
		if !okA || !okN {
			skipped++
			continue
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", a.ID),
			fmt.Sprintf("%d", skA),
			fmt.Sprintf("%d", skN),
			fmt.Sprintf("%d", a.OrdemAssinatura),
		})
	}
	if skipped > 0 {
		s.log.Warn("norms/store: skipping norm authorships with unresolved dimensions",
			"skipped", skipped, "total", len(autorias))
	}

	cfg := NormAuthorshipFactConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.InsertFactsViaCSV(ctx, s.log, conn, cfg, len(rows), func(w *csv.Writer, i int) error {
		return w.Write(rows[i])
	})
}

func (s *Store) InsertIndexings(ctx context.Context, indexacoes []almg.Indexacao, fetchedAt time.Time) error {
	s.log.Debug("norms/store: inserting indexings", "count", len(indexacoes))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	normas := make([]string, len(indexacoes))
	termos := make([]string, len(indexacoes))
	for i, idx := range indexacoes {
		normas[i] = fmt.Sprintf("%d", idx.IDNorma)
		termos[i] = fmt.Sprintf("%d", idx.IDTermo)
	}

	skNorma, err := s.sk.ResolveAll(ctx, conn, "dim_norma_juridica", "sk_norma_juridica", "id", normas)
	if err != nil {
		return fmt.Errorf("failed to resolve norms: %w", err)
	}
	skTermo, err := s.sk.ResolveAll(ctx, conn, "dim_termo_tesauro", "sk_termo_tesauro", "id", termos)
	if err != nil {
		return fmt.Errorf("failed to resolve thesaurus terms: %w", err)
	}

	rows := make([][]string, 0, len(indexacoes))
	skipped := 0
	for i, idx := range indexacoes {
		skN, okN := skNorma[normas[i]]
		skT, okT := skTermo[termos[i]]
		if !okN || !okT {
			skipped++
			continue
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", idx.ID),
			fmt.Sprintf("%d", skN),
			fmt.Sprintf("%d", skT),
			fmt.Sprintf("%d", idx.OrdemIndexacao),
		})
	}
	if skipped > 0 {
		s.log.Warn("norms/store: skipping indexings with unresolved dimensions",
			"skipped", skipped, "total", len(indexacoes))
	}

	cfg := IndexingFactConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.InsertFactsViaCSV(ctx, s.log, conn, cfg, len(rows), func(w *csv.Writer, i int) error {
		return w.Write(rows[i])
	})
}
