package activity

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plenariolabs/plenario/pkg/catalog"
	almgcat "github.com/plenariolabs/plenario/pkg/catalog/almg"
	"github.com/plenariolabs/plenario/pkg/duck"
	"github.com/plenariolabs/plenario/pkg/indexer/almg"
	"github.com/plenariolabs/plenario/pkg/indexer/skcache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testDB(t *testing.T, ctx context.Context) duck.DB {
	t.Helper()
	db, err := duck.Open(ctx, filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, catalog.Migrate(ctx, testLogger(), conn, &almgcat.Schema))

	return db
}

func testStore(t *testing.T, ctx context.Context) (*Store, duck.DB) {
	t.Helper()
	db := testDB(t, ctx)

	sk, err := skcache.NewResolver(testLogger())
	require.NoError(t, err)

	store, err := NewStore(StoreConfig{
		Logger: testLogger(),
		DB:     db,
		SK:     sk,
	})
	require.NoError(t, err)
	return store, db
}

// seedDimensions inserts the dimension rows the fact loaders resolve
// against: deputy 100 (sk 1), proposition 900 (sk 5), committee 10 (sk 7),
// and the day 2024-03-15 (sk 3).
func seedDimensions(t *testing.T, ctx context.Context, db duck.DB) {
	t.Helper()
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	for _, stmt := range []string{
		`INSERT INTO dim_parlamentar VALUES (1, '100', 'Duarte Bechir', 'PSD', 'MG', 20, 'em exercício')`,
		`INSERT INTO dim_proposicao VALUES (5, '900', 'PL', 1234, 2024, 'Dispõe sobre a política estadual de saneamento.', 'ordinário', 'em tramitação')`,
		`INSERT INTO dim_comissao VALUES (7, '10', 'Comissão de Saúde', 'CS', 'permanente')`,
		`INSERT INTO dim_autor_proposicao VALUES (9, '100', 'Duarte Bechir', 'deputado', 'PSD', 'deputado estadual')`,
		`INSERT INTO dim_data_apresentacao VALUES (3, 20240315, DATE '2024-03-15', 15, 3, 'março', 2024, 1, 1, 6, 'sexta-feira', false, 20, 2)`,
	} {
		_, err := conn.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
}

func testDate(t *testing.T, value string) almg.Date {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	require.NoError(t, err)
	return almg.Date{Time: parsed}
}

func rowCount(t *testing.T, ctx context.Context, db duck.DB, table string) int {
	t.Helper()
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var count int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count))
	return count
}

func TestStoreReplacePropositions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, db := testStore(t, ctx)

	require.NoError(t, store.ReplacePropositions(ctx, []almg.Proposicao{
		{ID: 900, Tipo: "PL", Numero: 1234, Ano: 2024, Ementa: "Dispõe sobre o transporte escolar.", Regime: "urgência", Situacao: "em tramitação"},
	}, time.Now().UTC()))

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var tipo, regime string
	var numero, ano int
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT tipo, numero, ano, regime FROM dim_proposicao WHERE id = '900'").
		Scan(&tipo, &numero, &ano, &regime))
	require.Equal(t, "PL", tipo)
	require.Equal(t, 1234, numero)
	require.Equal(t, 2024, ano)
	require.Equal(t, "urgência", regime)
}

func TestStoreInsertVotes(t *testing.T) {
	t.Parallel()

	t.Run("resolves references through the role view", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		store, db := testStore(t, ctx)
		seedDimensions(t, ctx, db)

		require.NoError(t, store.InsertVotes(ctx, []almg.Voto{
			{ID: 70001, IDDeputado: 100, IDProposicao: 900, DataVotacao: testDate(t, "2024-03-15"), Voto: "Sim", Turno: 1},
		}, time.Now().UTC()))

		conn, err := db.Conn(ctx)
		require.NoError(t, err)
		defer conn.Close()

		var nome, voto string
		require.NoError(t, conn.QueryRowContext(ctx, `
			SELECT p.nome, f.voto
			FROM fat_votacao f
			JOIN dim_parlamentar p ON p.sk_parlamentar = f.sk_parlamentar
			JOIN dim_data_votacao d ON d.sk_data = f.sk_data_votacao
			WHERE f.id = '70001' AND d.id = 20240315`).Scan(&nome, &voto))
		require.Equal(t, "Duarte Bechir", nome)
		require.Equal(t, "Sim", voto)
	})

	t.Run("skips votes with unresolved references", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		store, db := testStore(t, ctx)
		seedDimensions(t, ctx, db)

		require.NoError(t, store.InsertVotes(ctx, []almg.Voto{
			{ID: 70002, IDDeputado: 999, IDProposicao: 900, DataVotacao: testDate(t, "2024-03-15"), Voto: "Não", Turno: 1},
			{ID: 70003, IDDeputado: 100, IDProposicao: 900, Voto: "Sim", Turno: 1}, // no date
		}, time.Now().UTC()))

		require.Equal(t, 0, rowCount(t, ctx, db, "fat_votacao"))
	})

	t.Run("reloading the same batch inserts nothing", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		store, db := testStore(t, ctx)
		seedDimensions(t, ctx, db)

		votos := []almg.Voto{
			{ID: 70001, IDDeputado: 100, IDProposicao: 900, DataVotacao: testDate(t, "2024-03-15"), Voto: "Sim", Turno: 1},
		}
		require.NoError(t, store.InsertVotes(ctx, votos, time.Now().UTC()))
		require.NoError(t, store.InsertVotes(ctx, votos, time.Now().UTC()))

		require.Equal(t, 1, rowCount(t, ctx, db, "fat_votacao"))
	})
}

func TestStoreInsertAuthorships(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, db := testStore(t, ctx)
	seedDimensions(t, ctx, db)

	require.NoError(t, store.InsertAuthorships(ctx, []almg.Autoria{
		{ID: 50001, IDAutor: 100, IDProposicao: 900, DataApresentacao: testDate(t, "2024-03-15"), OrdemAssinatura: 1, EmCoautoria: true},
	}, time.Now().UTC()))

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var coautoria bool
	var ordem int
	require.NoError(t, conn.QueryRowContext(ctx, `
		SELECT f.in_coautoria, f.ordem_assinatura
		FROM fat_autoria_proposicao f
		JOIN dim_autor_proposicao a ON a.sk_autor = f.sk_autor_proposicao
		WHERE a.id = '100'`).Scan(&coautoria, &ordem))
	require.True(t, coautoria)
	require.Equal(t, 1, ordem)
}

func TestStoreInsertAttendances(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, db := testStore(t, ctx)
	seedDimensions(t, ctx, db)

	require.NoError(t, store.InsertAttendances(ctx, []almg.Presenca{
		{ID: 60001, IDDeputado: 100, IDComissao: 10, DataReuniao: testDate(t, "2024-03-15"), TipoReuniao: "ordinária", Presente: true},
		{ID: 60002, IDDeputado: 100, IDComissao: 10, DataReuniao: testDate(t, "2024-03-15"), TipoReuniao: "extraordinária", Presente: false},
	}, time.Now().UTC()))

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var presentes int
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fat_presenca_reuniao WHERE in_presente").Scan(&presentes))
	require.Equal(t, 1, presentes)
	require.Equal(t, 2, rowCount(t, ctx, db, "fat_presenca_reuniao"))
}

func TestStoreInsertCommitteeActions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, db := testStore(t, ctx)
	seedDimensions(t, ctx, db)

	require.NoError(t, store.InsertCommitteeActions(ctx, []almg.Tramitacao{
		{ID: 80001, IDProposicao: 900, IDComissao: 10, DataTramitacao: testDate(t, "2024-03-15"), Acao: "parecer", Resultado: "aprovado"},
	}, time.Now().UTC()))

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var sigla, resultado string
	require.NoError(t, conn.QueryRowContext(ctx, `
		SELECT c.sigla, f.resultado
		FROM fat_tramitacao_comissao f
		JOIN dim_comissao c ON c.sk_comissao = f.sk_comissao
		WHERE f.id = '80001'`).Scan(&sigla, &resultado))
	require.Equal(t, "CS", sigla)
	require.Equal(t, "aprovado", resultado)
}
