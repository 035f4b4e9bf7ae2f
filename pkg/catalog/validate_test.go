package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("migrated_warehouse_is_clean", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		conn := testConn(t, ctx)
		s := testSchema()

		require.NoError(t, Migrate(ctx, testLogger(), conn, s))

		problems, err := Validate(ctx, conn, s)
		require.NoError(t, err)
		require.Empty(t, problems)
	})

	t.Run("reports_missing_table", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		conn := testConn(t, ctx)
		s := testSchema()

		require.NoError(t, Migrate(ctx, testLogger(), conn, s))
		_, err := conn.ExecContext(ctx, "DROP VIEW dim_pessoa_autora")
		require.NoError(t, err)

		problems, err := Validate(ctx, conn, s)
		require.NoError(t, err)
		require.Contains(t, problemMessages(problems), "dim_pessoa_autora: table not present in warehouse")
	})

	t.Run("reports_missing_column", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		conn := testConn(t, ctx)
		s := testSchema()

		require.NoError(t, Migrate(ctx, testLogger(), conn, s))
		_, err := conn.ExecContext(ctx, "ALTER TABLE fat_evento DROP COLUMN valor")
		require.NoError(t, err)

		problems, err := Validate(ctx, conn, s)
		require.NoError(t, err)
		require.Contains(t, problemMessages(problems), `fat_evento: documented column "valor" missing from warehouse`)
	})

	t.Run("reports_undocumented_column", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		conn := testConn(t, ctx)
		s := testSchema()

		require.NoError(t, Migrate(ctx, testLogger(), conn, s))
		_, err := conn.ExecContext(ctx, "ALTER TABLE fat_evento ADD COLUMN anotacao VARCHAR")
		require.NoError(t, err)

		problems, err := Validate(ctx, conn, s)
		require.NoError(t, err)
		require.Contains(t, problemMessages(problems), `fat_evento: warehouse column "anotacao" is not documented`)
	})
}
