package parliament

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
)

// Deputy is a portal deputy stamped with the legislature the listing came
// from; the portal's deputy payload does not carry it.
type Deputy struct {
	almg.Deputado
	Legislatura int
}

type StoreConfig struct {
	Logger *slog.Logger
	DB     duck.DB
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("database is required")
	}
	return nil
}

// Store loads the assembly's own dimensions: deputies, committees, and the
// shared author dimension behind the three author roles.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
	db  duck.DB
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Store{
		log: cfg.Logger,
		cfg: cfg,
		db:  cfg.DB,
	}, nil
}

func DeputyDimConfig() duck.DimConfig {
	return almgcat.MustTable("dim_parlamentar").DimConfig()
}

func CommitteeDimConfig() duck.DimConfig {
	return almgcat.MustTable("dim_comissao").DimConfig()
}

func AuthorDimConfig() duck.DimConfig {
	return almgcat.MustTable("dim_autor_proposicao").DimConfig()
}

func (s *Store) ReplaceDeputies(ctx context.Context, deputados []Deputy, fetchedAt time.Time) error {
	s.log.Debug("parliament/store: replacing deputies", "count", len(deputados))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	cfg := DeputyDimConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.ReplaceDimensionViaCSV(ctx, s.log, conn, cfg, len(deputados), func(w *csv.Writer, i int) error {
		d := deputados[i]
		return w.Write([]string{
			fmt.Sprintf("%d", d.ID),
			d.Nome,
			d.Partido,
			d.UF,
			fmt.Sprintf("%d", d.Legislatura),
			d.Situacao,
		})
	})
}

func (s *Store) ReplaceCommittees(ctx context.Context, comissoes []almg.Comissao, fetchedAt time.Time) error {
	s.log.Debug("parliament/store: replacing committees", "count", len(comissoes))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	cfg := CommitteeDimConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.ReplaceDimensionViaCSV(ctx, s.log, conn, cfg, len(comissoes), func(w *csv.Writer, i int) error {
		c := comissoes[i]
		return w.Write([]string{
			fmt.Sprintf("%d", c.ID),
			c.Nome,
			c.Sigla,
			c.Tipo,
		})
	})
}

// ReplaceAuthors refreshes the base author dimension. The norm and
// correspondence author roles are views over this table, so one load serves
// all three.
func (s *Store) ReplaceAuthors(ctx context.Context, autores []almg.Autor, fetchedAt time.Time) error {
	s.log.Debug("parliament/store: replacing authors", "count", len(autores))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	cfg := AuthorDimConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.ReplaceDimensionViaCSV(ctx, s.log, conn, cfg, len(autores), func(w *csv.Writer, i int) error {
		a := autores[i]
		return w.Write([]string{
			fmt.Sprintf("%d", a.ID),
			a.Nome,
			a.TipoAutor,
			a.Partido,
			a.Cargo,
		})
	})
}
