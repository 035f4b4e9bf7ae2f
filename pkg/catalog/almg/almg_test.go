package almg

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plenariolabs/plenario/pkg/catalog"
	"github.com/plenariolabs/plenario/pkg/duck"
)

func TestSchemaIsClean(t *testing.T) {
	t.Parallel()

	problems := catalog.Lint(&Schema)
	for _, p := range problems {
		t.Logf("lint: %s", p)
	}
	require.Empty(t, problems)
}

func TestSchemaShape(t *testing.T) {
	t.Parallel()

	t.Run("table_counts", func(t *testing.T) {
		t.Parallel()
		require.Len(t, Schema.Tables, 22)
		require.Len(t, Schema.Dimensions(), 15)
		require.Len(t, Schema.Facts(), 7)
	})

	t.Run("every_table_keys", func(t *testing.T) {
		t.Parallel()
		for _, table := range Schema.Tables {
			require.Equal(t, "id", table.NaturalKey, "table %s", table.Name)
			require.Regexp(t, "^sk_", table.SurrogateKey, "table %s", table.Name)
		}
	})

	t.Run("author_and_date_roles", func(t *testing.T) {
		t.Parallel()
		for variant, base := range map[string]string{
			"dim_autor_norma":        "dim_autor_proposicao",
			"dim_autor_requerimento": "dim_autor_proposicao",
			"dim_data_votacao":       "dim_data_apresentacao",
			"dim_data_reuniao":       "dim_data_apresentacao",
			"dim_data_tramitacao":    "dim_data_apresentacao",
			"dim_data_resposta":      "dim_data_apresentacao",
		} {
			table, ok := Schema.Lookup(variant)
			require.True(t, ok, "variant %s", variant)
			require.Equal(t, base, table.IdenticalTo)
		}
	})

	t.Run("every_fact_joins_a_dimension", func(t *testing.T) {
		t.Parallel()
		for _, fact := range Schema.Facts() {
			require.NotEmpty(t, fact.References, "fact %s", fact.Name)
		}
	})
}

func TestMustTable(t *testing.T) {
	t.Parallel()

	table := MustTable("dim_parlamentar")
	require.Equal(t, "sk_parlamentar", table.SurrogateKey)

	require.Panics(t, func() { MustTable("dim_nada") })
}

func TestDictionary(t *testing.T) {
	t.Parallel()

	dictionary, err := catalog.Dictionary(&Schema)
	require.NoError(t, err)

	t.Run("declares_role_variants", func(t *testing.T) {
		t.Parallel()
		require.Contains(t, dictionary, "Colunas idênticas a `dim_autor_proposicao`.")
		require.Contains(t, dictionary, "Colunas idênticas a `dim_data_apresentacao`.")
	})

	t.Run("documents_star_relationships", func(t *testing.T) {
		t.Parallel()
		require.Contains(t, dictionary, "- N:1 com `dim_parlamentar` (coluna `sk_parlamentar`)")
		require.Contains(t, dictionary, "- 1:N com `fat_autoria_proposicao` (coluna `sk_autor_proposicao`)")
		require.Contains(t, dictionary, "- N:1 com `dim_municipio` (coluna `sk_municipio`)")
	})

	t.Run("is_deterministic", func(t *testing.T) {
		t.Parallel()
		again, err := catalog.Dictionary(&Schema)
		require.NoError(t, err)
		require.Equal(t, dictionary, again)
	})
}

func TestSummary(t *testing.T) {
	t.Parallel()

	summary := catalog.Summary(&Schema)

	require.Contains(t, summary,
		"- dim_parlamentar(sk_parlamentar, id, nome, partido, uf, legislatura, situacao):")
	require.Contains(t, summary,
		"Joins: sk_parlamentar -> dim_parlamentar.sk_parlamentar, sk_proposicao -> dim_proposicao.sk_proposicao, sk_data_votacao -> dim_data_votacao.sk_data.")
	require.Contains(t, summary, "Papel de dim_data_apresentacao.")
}

// TestMigrateRoundTrip migrates the shipped schema into a fresh
// warehouse and validates the result, which is the check that keeps the
// documentation and the physical database from drifting apart.
func TestMigrateRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	db, err := duck.Open(ctx, t.TempDir()+"/almg.db", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, catalog.Migrate(ctx, log, conn, &Schema))

	problems, err := catalog.Validate(ctx, conn, &Schema)
	require.NoError(t, err)
	for _, p := range problems {
		t.Logf("validate: %s", p)
	}
	require.Empty(t, problems)

	// Role views answer queries with the base's columns.
	var count int
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dim_data_votacao WHERE fim_de_semana").Scan(&count))
	require.Equal(t, 0, count)
}
