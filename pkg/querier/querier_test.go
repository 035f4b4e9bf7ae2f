package querier

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plenariolabs/plenario/pkg/catalog"
	"github.com/plenariolabs/plenario/pkg/catalog/almg"
	"github.com/plenariolabs/plenario/pkg/duck"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testDB(t *testing.T, ctx context.Context, migrate bool) duck.DB {
	t.Helper()
	db, err := duck.Open(ctx, filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if migrate {
		conn, err := db.Conn(ctx)
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, catalog.Migrate(ctx, testLogger(), conn, &almg.Schema))
	}

	return db
}

func testQuerier(t *testing.T, ctx context.Context, migrate bool) (*Querier, duck.DB) {
	t.Helper()
	db := testDB(t, ctx, migrate)
	q, err := New(Config{
		Logger: testLogger(),
		DB:     db,
		Schema: &almg.Schema,
	})
	require.NoError(t, err)
	return q, db
}

func TestQuerierNew(t *testing.T) {
	t.Parallel()

	t.Run("returns error when schema is missing", func(t *testing.T) {
		ctx := context.Background()
		db := testDB(t, ctx, false)

		_, err := New(Config{Logger: testLogger(), DB: db})
		require.ErrorContains(t, err, "schema is required")
	})

	t.Run("returns error when logger is missing", func(t *testing.T) {
		_, err := New(Config{Schema: &almg.Schema})
		require.ErrorContains(t, err, "logger is required")
	})
}

func TestQuerierQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("returns rows with column types", func(t *testing.T) {
		q, db := testQuerier(t, ctx, true)

		conn, err := db.Conn(ctx)
		require.NoError(t, err)
		defer conn.Close()
		_, err = conn.ExecContext(ctx, `INSERT INTO dim_parlamentar VALUES
			(1, '100', 'Duarte Bechir', 'PSD', 'MG', 20, 'em exercício'),
			(2, '200', 'Beatriz Cerqueira', 'PT', 'MG', 20, 'em exercício')`)
		require.NoError(t, err)

		resp, err := q.Query(ctx, "SELECT nome, legislatura FROM dim_parlamentar ORDER BY nome")
		require.NoError(t, err)
		require.Equal(t, []string{"nome", "legislatura"}, resp.Columns)
		require.Equal(t, 2, resp.Count)
		require.Len(t, resp.Rows, 2)
		require.Equal(t, "Beatriz Cerqueira", resp.Rows[0]["nome"])
		require.Equal(t, "Duarte Bechir", resp.Rows[1]["nome"])

		require.Len(t, resp.ColumnTypes, 2)
		require.Equal(t, "nome", resp.ColumnTypes[0].Name)
		require.Equal(t, "VARCHAR", resp.ColumnTypes[0].DatabaseTypeName)
		require.Equal(t, "INTEGER", resp.ColumnTypes[1].DatabaseTypeName)
	})

	t.Run("returns empty response for empty result set", func(t *testing.T) {
		q, _ := testQuerier(t, ctx, true)

		resp, err := q.Query(ctx, "SELECT nome FROM dim_parlamentar WHERE nome = 'ninguém'")
		require.NoError(t, err)
		require.Equal(t, []string{"nome"}, resp.Columns)
		require.Equal(t, 0, resp.Count)
		require.Empty(t, resp.Rows)
	})

	t.Run("returns error for invalid SQL", func(t *testing.T) {
		q, _ := testQuerier(t, ctx, true)

		_, err := q.Query(ctx, "SELECT FROM WHERE")
		require.ErrorContains(t, err, "failed to execute query")
	})
}

func TestQuerierReady(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q, db := testQuerier(t, ctx, false)
	require.True(t, q.Ready())

	require.NoError(t, db.Close())
	require.False(t, q.Ready())
}

func TestQuerierEnabledTables(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("empty warehouse has no enabled tables", func(t *testing.T) {
		q, _ := testQuerier(t, ctx, false)

		tables, err := q.EnabledTables(ctx)
		require.NoError(t, err)
		require.Empty(t, tables)
	})

	t.Run("migrated warehouse enables the whole catalog", func(t *testing.T) {
		q, _ := testQuerier(t, ctx, true)

		tables, err := q.EnabledTables(ctx)
		require.NoError(t, err)
		require.Len(t, tables, len(almg.Schema.Tables))
	})

	t.Run("candidate tables are the documented catalog", func(t *testing.T) {
		q, _ := testQuerier(t, ctx, false)
		require.Len(t, q.CandidateTables(ctx), len(almg.Schema.Tables))
	})
}
