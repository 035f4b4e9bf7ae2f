package duck

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// testDBWithConn creates a file-backed test database and a pinned connection.
func testDBWithConn(t *testing.T) (DB, Connection, error) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	tmpDir := t.TempDir()
	dbPath := tmpDir + "/test.db"

	db, err := Open(ctx, dbPath, log)
	if err != nil {
		return nil, nil, err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	return db, conn, nil
}

// createTestDimension creates the documented table, its sequence, the
// _historico side table, and the ingest-runs table for a test dimension with
// columns (sk_test BIGINT, id VARCHAR, nome VARCHAR, partido VARCHAR).
func createTestDimension(t *testing.T, ctx context.Context, conn Connection, table string) {
	t.Helper()

	require.NoError(t, CreateSequence(ctx, conn, SequenceName(table)))
	require.NoError(t, CreateTable(ctx, conn, table, []string{
		"sk_test:BIGINT",
		"id:VARCHAR",
		"nome:VARCHAR",
		"partido:VARCHAR",
	}))
	require.NoError(t, CreateTable(ctx, conn, HistoryTableName(table), []string{
		"id:VARCHAR",
		"nome:VARCHAR",
		"partido:VARCHAR",
		"valid_from:TIMESTAMP",
		"valid_to:TIMESTAMP",
		"row_hash:VARCHAR",
		"op:VARCHAR",
		"run_id:VARCHAR",
	}))
	require.NoError(t, EnsureIngestRunsTable(ctx, conn))
}

func testDimConfig(table string) DimConfig {
	return DimConfig{
		Table:               table,
		SurrogateKey:        "sk_test",
		NaturalKey:          "id",
		PayloadColumns:      []string{"nome", "partido"},
		MissingMeansDeleted: true,
	}
}

// createTestFact creates the documented fact table, its sequence, and the
// ingest-runs table for a test fact with columns
// (sk_fato BIGINT, id VARCHAR, sk_test BIGINT, voto VARCHAR).
func createTestFact(t *testing.T, ctx context.Context, conn Connection, table string) {
	t.Helper()

	require.NoError(t, CreateSequence(ctx, conn, SequenceName(table)))
	require.NoError(t, CreateTable(ctx, conn, table, []string{
		"sk_fato:BIGINT",
		"id:VARCHAR",
		"sk_test:BIGINT",
		"voto:VARCHAR",
	}))
	require.NoError(t, EnsureIngestRunsTable(ctx, conn))
}

func testFactConfig(table string) FactConfig {
	return FactConfig{
		Table:        table,
		SurrogateKey: "sk_fato",
		NaturalKey:   "id",
		Columns:      []string{"id", "sk_test", "voto"},
	}
}

func countRows(t *testing.T, ctx context.Context, conn Connection, query string, args ...any) int {
	t.Helper()
	var count int
	require.NoError(t, conn.QueryRowContext(ctx, query, args...).Scan(&count))
	return count
}

// failingDBConn is a mock connection that fails on all operations
type failingDBConn struct{}

func (f *failingDBConn) DB() DB {
	return &failingDB{}
}

func (f *failingDBConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, errors.New("database error")
}

func (f *failingDBConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("database error")
}

func (f *failingDBConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func (f *failingDBConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return nil, errors.New("failed to begin transaction")
}

func (f *failingDBConn) Close() error {
	return nil
}

// failingDB is a mock DB that fails on all operations
type failingDB struct{}

func (f *failingDB) Catalog() string {
	return "test"
}

func (f *failingDB) Schema() string {
	return "main"
}

func (f *failingDB) Close() error {
	return nil
}

func (f *failingDB) Conn(ctx context.Context) (Connection, error) {
	return &failingDBConn{}, nil
}
