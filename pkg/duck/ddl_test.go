package duck

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("creates_and_is_idempotent", func(t *testing.T) {
		t.Parallel()

		db, conn, err := testDBWithConn(t)
		require.NoError(t, err)
		defer db.Close()

		cols := []string{"sk_x:BIGINT", "id:VARCHAR", "nome:VARCHAR"}
		require.NoError(t, CreateTable(ctx, conn, "dim_ddl", cols))
		require.NoError(t, CreateTable(ctx, conn, "dim_ddl", cols))

		require.Equal(t, 0, countRows(t, ctx, conn, "SELECT COUNT(*) FROM dim_ddl"))
	})

	t.Run("rejects_malformed_columns", func(t *testing.T) {
		t.Parallel()

		db, conn, err := testDBWithConn(t)
		require.NoError(t, err)
		defer db.Close()

		err = CreateTable(ctx, conn, "dim_ruim", []string{"sk_x:BIGINT", "semtipo"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid column definition")
	})
}

func TestCreateSequence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	db, conn, err := testDBWithConn(t)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, CreateSequence(ctx, conn, "seq_ddl"))

	var first, second int64
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT nextval('seq_ddl')").Scan(&first))
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT nextval('seq_ddl')").Scan(&second))
	require.Equal(t, int64(1), first)
	require.Equal(t, int64(2), second)

	// Recreating must not reset the position
	require.NoError(t, CreateSequence(ctx, conn, "seq_ddl"))
	var third int64
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT nextval('seq_ddl')").Scan(&third))
	require.Equal(t, int64(3), third)
}

func TestCreateRoleView(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	db, conn, err := testDBWithConn(t)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, CreateTable(ctx, conn, "dim_base", []string{"sk_x:BIGINT", "id:VARCHAR", "nome:VARCHAR"}))
	_, err = conn.ExecContext(ctx, "INSERT INTO dim_base VALUES (1, '100', 'Ana'), (2, '101', 'Bruno')")
	require.NoError(t, err)

	require.NoError(t, CreateRoleView(ctx, conn, "dim_variante", "dim_base"))

	// The view mirrors the base's rows and column set
	require.Equal(t, 2, countRows(t, ctx, conn, "SELECT COUNT(*) FROM dim_variante"))

	var nome string
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT nome FROM dim_variante WHERE sk_x = 2").Scan(&nome))
	require.Equal(t, "Bruno", nome)

	// Recreate is a replace, not an error
	require.NoError(t, CreateRoleView(ctx, conn, "dim_variante", "dim_base"))
}

func TestSequenceName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "seq_dim_parlamentar", SequenceName("dim_parlamentar"))
	require.Equal(t, "dim_parlamentar_historico", HistoryTableName("dim_parlamentar"))
}
