package reference

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

// Store loads the shared reference dimensions: the generated calendar,
// municipalities, institutions, and the legislative thesaurus.
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

func CalendarDimConfig() duck.DimConfig {
	return almgcat.MustTable("dim_data_apresentacao").DimConfig()
}

func MunicipalityDimConfig() duck.DimConfig {
	return almgcat.MustTable("dim_municipio").DimConfig()
}

func InstitutionDimConfig() duck.DimConfig {
	return almgcat.MustTable("dim_instituicao").DimConfig()
}

func ThesaurusDimConfig() duck.DimConfig {
	return almgcat.MustTable("dim_termo_tesauro").DimConfig()
}

// ReplaceCalendar refreshes the date dimension from generated calendar days.
// Days outside the known legislatures carry NULL legislature columns.
func (s *Store) ReplaceCalendar(ctx context.Context, days []calendar.Day, fetchedAt time.Time) error {
	s.log.Debug("reference/store: replacing calendar days", "count", len(days))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	cfg := CalendarDimConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.ReplaceDimensionViaCSV(ctx, s.log, conn, cfg, len(days), func(w *csv.Writer, i int) error {
		d := days[i]
		legislatura := ""
		sessao := ""
		if d.Legislatura != 0 {
			legislatura = fmt.Sprintf("%d", d.Legislatura)
			sessao = fmt.Sprintf("%d", d.SessaoLegislativa)
		}
		return w.Write([]string{
			fmt.Sprintf("%d", d.ID),
			d.Data.Format("2006-01-02"),
			fmt.Sprintf("%d", d.Dia),
			fmt.Sprintf("%d", d.Mes),
			d.NomeMes,
			fmt.Sprintf("%d", d.Ano),
			fmt.Sprintf("%d", d.Trimestre),
			fmt.Sprintf("%d", d.Semestre),
			fmt.Sprintf("%d", d.DiaSemana),
			d.NomeDiaSemana,
			fmt.Sprintf("%t", d.FimDeSemana),
			legislatura,
			sessao,
		})
	})
}

func (s *Store) ReplaceMunicipalities(ctx context.Context, municipios []almg.Municipio, fetchedAt time.Time) error {
	s.log.Debug("reference/store: replacing municipalities", "count", len(municipios))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	cfg := MunicipalityDimConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.ReplaceDimensionViaCSV(ctx, s.log, conn, cfg, len(municipios), func(w *csv.Writer, i int) error {
		m := municipios[i]
		return w.Write([]string{
			fmt.Sprintf("%d", m.ID),
			m.Nome,
			m.Microrregiao,
			m.Mesorregiao,
		})
	})
}

// ReplaceInstitutions refreshes the institutions dimension. Each institution
// carries the surrogate key of its municipality, so municipalities must land
// before institutions in a refresh; an institution whose municipality is
// unknown gets a NULL key.
func (s *Store) ReplaceInstitutions(ctx context.Context, instituicoes []almg.Instituicao, fetchedAt time.Time) error {
	s.log.Debug("reference/store: replacing institutions", "count", len(instituicoes))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	municipios := make([]string, 0, len(instituicoes))
	for _, inst := range instituicoes {
		if inst.IDMunicipio != 0 {
			municipios = append(municipios, fmt.Sprintf("%d", inst.IDMunicipio))
		}
	}
	skMunicipio, err := s.sk.ResolveAll(ctx, conn, "dim_municipio", "sk_municipio", "id", municipios)
	if err != nil {
		return fmt.Errorf("failed to resolve municipalities: %w", err)
	}

	cfg := InstitutionDimConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.ReplaceDimensionViaCSV(ctx, s.log, conn, cfg, len(instituicoes), func(w *csv.Writer, i int) error {
		inst := instituicoes[i]
		sk := ""
		if v, ok := skMunicipio[fmt.Sprintf("%d", inst.IDMunicipio)]; ok {
			sk = fmt.Sprintf("%d", v)
		}
		return w.Write([]string{
			fmt.Sprintf("%d", inst.ID),
			inst.Nome,
			inst.Tipo,
			sk,
		})
	})
}

// ReplaceThesaurus refreshes the thesaurus dimension. Parent terms are
// resolved against the dimension's current state, so a parent that enters in
// the same snapshot resolves to NULL this round and heals on the next
// refresh, once the parent has drawn its own key.
func (s *Store) ReplaceThesaurus(ctx context.Context, termos []almg.TermoTesauro, fetchedAt time.Time) error {
	s.log.Debug("reference/store: replacing thesaurus terms", "count", len(termos))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	pais := make([]string, 0, len(termos))
	for _, termo := range termos {
		if termo.IDTermoPai != nil {
			pais = append(pais, fmt.Sprintf("%d", *termo.IDTermoPai))
		}
	}
	skPai, err := s.sk.ResolveAll(ctx, conn, "dim_termo_tesauro", "sk_termo_tesauro", "id", pais)
	if err != nil {
		return fmt.Errorf("failed to resolve parent terms: %w", err)
	}

	cfg := ThesaurusDimConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.ReplaceDimensionViaCSV(ctx, s.log, conn, cfg, len(termos), func(w *csv.Writer, i int) error {
		termo := termos[i]
		sk := ""
		if termo.IDTermoPai != nil {
			if v, ok := skPai[fmt.Sprintf("%d", *termo.IDTermoPai)]; ok {
				sk = fmt.Sprintf("%d", v)
			}
		}
		return w.Write([]string{
			fmt.Sprintf("%d", termo.ID),
			termo.Termo,
			sk,
		})
	})
}
