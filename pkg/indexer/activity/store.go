package activity

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

// Store loads the propositions dimension and the four plenary and committee
// fact tables. Fact rows reference dimensions by surrogate key; a row whose
// references cannot all be resolved yet is skipped and picked up by a later
// refresh, after the dimensions have landed.
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

func PropositionDimConfig() duck.DimConfig {
	return almgcat.MustTable("dim_proposicao").DimConfig()
}

func AuthorshipFactConfig() duck.FactConfig {
	return almgcat.MustTable("fat_autoria_proposicao").FactConfig()
}

func VoteFactConfig() duck.FactConfig {
	return almgcat.MustTable("fat_votacao").FactConfig()
}

func AttendanceFactConfig() duck.FactConfig {
	return almgcat.MustTable("fat_presenca_reuniao").FactConfig()
}

func CommitteeActionFactConfig() duck.FactConfig {
	return almgcat.MustTable("fat_tramitacao_comissao").FactConfig()
}

func (s *Store) ReplacePropositions(ctx context.Context, proposicoes []almg.Proposicao, fetchedAt time.Time) error {
	s.log.Debug("activity/store: replacing propositions", "count", len(proposicoes))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	cfg := PropositionDimConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.ReplaceDimensionViaCSV(ctx, s.log, conn, cfg, len(proposicoes), func(w *csv.Writer, i int) error {
		p := proposicoes[i]
		return w.Write([]string{
			fmt.Sprintf("%d", p.ID),
			p.Tipo,
			fmt.Sprintf("%d", p.Numero),
			fmt.Sprintf("%d", p.Ano),
			p.Ementa,
			p.Regime,
			p.Situacao,
		})
	})
}

// dateKey renders a portal date as the date dimension's natural key, or ""
// when the date is absent so the row counts as unresolved.
func dateKey(d almg.Date) string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d", calendar.DayID(d.Time))
}

func (s *Store) InsertAuthorships(ctx context.Context, autorias []almg.Autoria, fetchedAt time.Time) error {
	s.log.Debug("activity/store: inserting authorships", "count", len(autorias))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	autores := make([]string, len(autorias))
	proposicoes := make([]string, len(autorias))
	datas := make([]string, len(autorias))
	for i, a := range autorias {
		autores[i] = fmt.Sprintf("%d", a.IDAutor)
		proposicoes[i] = fmt.Sprintf("%d", a.IDProposicao)
		datas[i] = dateKey(a.DataApresentacao)
	}

	skAutor, err := s.sk.ResolveAll(ctx, conn, "dim_autor_proposicao", "sk_autor", "id", autores)
	if err != nil {
		return fmt.Errorf("failed to resolve authors: %w", err)
	}
	skProposicao, err := s.sk.ResolveAll(ctx, conn, "dim_proposicao", "sk_proposicao", "id", proposicoes)
	if err != nil {
		return fmt.Errorf("failed to resolve propositions: %w", err)
	}
	skData, err := s.sk.ResolveAll(ctx, conn, "dim_data_apresentacao", "sk_data", "id", datas)
	if err != nil {
		return fmt.Errorf("failed to resolve dates: %w", err)
	}

	rows := make([][]string, 0, len(autorias))
	skipped := 0
	for i, a := range autorias {
		skA, okA := skAutor[autores[i]]
		skP, okP := skProposicao[proposicoes[i]]
		skD, okD := skData[datas[i]]
		if !okA || !okP || !okD {
			skipped++
			continue
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", a.ID),
			fmt.Sprintf("%d", skA),
			fmt.Sprintf("%d", skP),
			fmt.Sprintf("%d", skD),
			fmt.Sprintf("%d", a.OrdemAssinatura),
			fmt.Sprintf("%t", a.EmCoautoria),
		})
	}
	if skipped > 0 {
		s.log.Warn("activity/store: skipping authorships with unresolved dimensions",
			"skipped", skipped, "total", len(autorias))
	}

	cfg := AuthorshipFactConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.InsertFactsViaCSV(ctx, s.log, conn, cfg, len(rows), func(w *csv.Writer, i int) error {
		return w.Write(rows[i])
	})
}

func (s *Store) InsertVotes(ctx context.Context, votos []almg.Voto, fetchedAt time.Time) error {
	s.log.Debug("activity/store: inserting votes", "count", len(votos))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	deputados := make([]string, len(votos))
	proposicoes := make([]string, len(votos))
	datas := make([]string, len(votos))
	for i, v := range votos {
		deputados[i] = fmt.Sprintf("%d", v.IDDeputado)
		proposicoes[i] = fmt.Sprintf("%d", v.IDProposicao)
		datas[i] = dateKey(v.DataVotacao)
	}

	skParlamentar, err := s.sk.ResolveAll(ctx, conn, "dim_parlamentar", "sk_parlamentar", "id", deputados)
	if err != nil {
		return fmt.Errorf("failed to resolve deputies: %w", err)
	}
	skProposicao, err := s.sk.ResolveAll(ctx, conn, "dim_proposicao", "sk_proposicao", "id", proposicoes)
	if err != nil {
		return fmt.Errorf("failed to resolve propositions: %w", err)
	}
	skData, err := s.sk.ResolveAll(ctx, conn, "dim_data_votacao", "sk_data", "id", datas)
	if err != nil {
		return fmt.Errorf("failed to resolve dates: %w", err)
	}

	rows := make([][]string, 0, len(votos))
	skipped := 0
	for i, v := range votos {
		skP, okP := skParlamentar[deputados[i]]
		skQ, okQ := skProposicao[proposicoes[i]]
		skD, okD := skData[datas[i]]
		if !okP || !okQ || !okD {
			skipped++
			continue
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", v.ID),
			fmt.Sprintf("%d", skP),
			fmt.Sprintf("%d", skQ),
			fmt.Sprintf("%d", skD),
			v.Voto,
			fmt.Sprintf("%d", v.Turno),
		})
	}
	if skipped > 0 {
		s.log.Warn("activity/store: skipping votes with unresolved dimensions",
			"skipped", skipped, "total", len(votos))
	}

	cfg := VoteFactConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.InsertFactsViaCSV(ctx, s.log, conn, cfg, len(rows), func(w *csv.Writer, i int) error {
		return w.Write(rows[i])
	})
}

func (s *Store) InsertAttendances(ctx context.Context, presencas []almg.Presenca, fetchedAt time.Time) error {
	s.log.Debug("activity/store: inserting attendances", "count", len(presencas))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	deputados := make([]string, len(presencas))
	comissoes := make([]string, len(presencas))
	datas := make([]string, len(presencas))
	for i, p := range presencas {
		deputados[i] = fmt.Sprintf("%d", p.IDDeputado)
		comissoes[i] = fmt.Sprintf("%d", p.IDComissao)
		datas[i] = dateKey(p.DataReuniao)
	}

	skParlamentar, err := s.sk.ResolveAll(ctx, conn, "dim_parlamentar", "sk_parlamentar", "id", deputados)
	if err != nil {
		return fmt.Errorf("failed to resolve deputies: %w", err)
	}
	skComissao, err := s.sk.ResolveAll(ctx, conn, "dim_comissao", "sk_comissao", "id", comissoes)
	if err != nil {
		return fmt.Errorf("failed to resolve committees: %w", err)
	}
	skData, err := s.sk.ResolveAll(ctx, conn, "dim_data_reuniao", "sk_data", "id", datas)
	if err != nil {
		return fmt.Errorf("failed to resolve dates: %w", err)
	}

	rows := make([][]string, 0, len(presencas))
	skipped := 0
	for i, p := range presencas {
		skP, okP := skParlamentar[deputados[i]]
		skC, okC := skComissao[comissoes[i]]
		skD, okD := skData[datas[i]]
		if !okP || !okC || !okD {
			skipped++
			continue
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", p.ID),
			fmt.Sprintf("%d", skP),
			fmt.Sprintf("%d", skC),
			fmt.Sprintf("%d", skD),
			p.TipoReuniao,
			fmt.Sprintf("%t", p.Presente),
		})
	}
	if skipped > 0 {
		s.log.Warn("activity/store: skipping attendances with unresolved dimensions",
			"skipped", skipped, "total", len(presencas))
	}

	cfg := AttendanceFactConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.InsertFactsViaCSV(ctx, s.log, conn, cfg, len(rows), func(w *csv.Writer, i int) error {
		return w.Write(rows[i])
	})
}

func (s *Store) InsertCommitteeActions(ctx context.Context, tramitacoes []almg.Tramitacao, fetchedAt time.Time) error {
	s.log.Debug("activity/store: inserting committee actions", "count", len(tramitacoes))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	proposicoes := make([]string, len(tramitacoes))
	comissoes := make([]string, len(tramitacoes))
	datas := make([]string, len(tramitacoes))
	for i, tr := range tramitacoes {
		proposicoes[i] = fmt.Sprintf("%d", tr.IDProposicao)
		comissoes[i] = fmt.Sprintf("%d", tr.IDComissao)
		datas[i] = dateKey(tr.DataTramitacao)
	}

	skProposicao, err := s.sk.ResolveAll(ctx, conn, "dim_proposicao", "sk_proposicao", "id", proposicoes)
	if err != nil {
		return fmt.Errorf("failed to resolve propositions: %w", err)
	}
	skComissao, err := s.sk.ResolveAll(ctx, conn, "dim_comissao", "sk_comissao", "id", comissoes)
	if err != nil {
		return fmt.Errorf("failed to resolve committees: %w", err)
	}
	skData, err := s.sk.ResolveAll(ctx, conn, "dim_data_tramitacao", "sk_data", "id", datas)
	if err != nil {
		return fmt.Errorf("failed to resolve dates: %w", err)
	}

	rows := make([][]string, 0, len(tramitacoes))
	skipped := 0
	for i, tr := range tramitacoes {
		skQ, okQ := skProposicao[proposicoes[i]]
		skC, okC := skComissao[comissoes[i]]
		skD, okD := skData[datas[i]]
		if !okQ || !okC || !okD {
			skipped++
			continue
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", tr.ID),
			fmt.Sprintf("%d", skQ),
			fmt.Sprintf("%d", skC),
			fmt.Sprintf("%d", skD),
			tr.Acao,
			tr.Resultado,
		})
	}
	if skipped > 0 {
		s.log.Warn("activity/store: skipping committee actions with unresolved dimensions",
			"skipped", skipped, "total", len(tramitacoes))
	}

	cfg := CommitteeActionFactConfig()
	cfg.SnapshotTS = fetchedAt
	cfg.RunID = fmt.Sprintf("%s_%d", cfg.Table, fetchedAt.Unix())

	return duck.InsertFactsViaCSV(ctx, s.log, conn, cfg, len(rows), func(w *csv.Writer, i int) error {
		return w.Write(rows[i])
	})
}
