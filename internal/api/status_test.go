package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plenariolabs/plenario/pkg/duck"
)

// insertIngestRun records one run in the bookkeeping table. finished is a
// time.Time or nil for a run that never completed.
func insertIngestRun(t *testing.T, ctx context.Context, db duck.DB, table, runID string, started time.Time, finished any) {
	t.Helper()
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, duck.IngestRunsTable),
		table, runID, started, started, finished, 2, 2, 0, 0)
	require.NoError(t, err)
}

func getStatus(t *testing.T, srv *Server) StatusResponse {
	t.Helper()
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestAPIStatusEndpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("degrades before the first ingest", func(t *testing.T) {
		db := testWarehouse(t, ctx)
		srv := testServer(t, ctx, db)

		resp := getStatus(t, srv)
		require.Equal(t, "degraded", resp.Status)
		require.True(t, resp.System.Database)
		require.Empty(t, resp.System.LastIngested)
		require.Empty(t, resp.Ingest.Runs)
		require.EqualValues(t, 2, resp.Warehouse.Parlamentares)
		require.NotEmpty(t, resp.Timestamp)
	})

	t.Run("healthy after a fresh finished run", func(t *testing.T) {
		db := testWarehouse(t, ctx)
		now := time.Now().UTC()
		insertIngestRun(t, ctx, db, "dim_parlamentar", "run_1", now.Add(-time.Hour), now.Add(-time.Hour).Add(time.Minute))
		srv := testServer(t, ctx, db)

		resp := getStatus(t, srv)
		require.Equal(t, "healthy", resp.Status)
		require.NotEmpty(t, resp.System.LastIngested)
		require.Len(t, resp.Ingest.Runs, 1)
		require.Equal(t, "dim_parlamentar", resp.Ingest.Runs[0].Table)
		require.Equal(t, "run_1", resp.Ingest.Runs[0].RunID)
		require.EqualValues(t, 2, resp.Ingest.Runs[0].Inserts)
		require.NotEmpty(t, resp.Ingest.Runs[0].FinishedAt)
		require.Empty(t, resp.Ingest.StaleTables)
		require.Empty(t, resp.Ingest.UnfinishedRuns)
	})

	t.Run("flags tables whose last run is stale", func(t *testing.T) {
		db := testWarehouse(t, ctx)
		old := time.Now().UTC().Add(-3 * 24 * time.Hour)
		insertIngestRun(t, ctx, db, "dim_parlamentar", "run_1", old, old.Add(time.Minute))
		srv := testServer(t, ctx, db)

		resp := getStatus(t, srv)
		require.Equal(t, "degraded", resp.Status)
		require.Equal(t, []string{"dim_parlamentar"}, resp.Ingest.StaleTables)
	})

	t.Run("flags the latest run when it never finished", func(t *testing.T) {
		db := testWarehouse(t, ctx)
		now := time.Now().UTC()
		insertIngestRun(t, ctx, db, "fat_votacao", "run_1", now.Add(-2*time.Hour), now.Add(-2*time.Hour).Add(time.Minute))
		insertIngestRun(t, ctx, db, "fat_votacao", "run_2", now.Add(-time.Hour), nil)
		srv := testServer(t, ctx, db)

		resp := getStatus(t, srv)
		require.Equal(t, "degraded", resp.Status)
		require.Len(t, resp.Ingest.Runs, 1)
		require.Equal(t, "run_2", resp.Ingest.Runs[0].RunID)
		require.Empty(t, resp.Ingest.Runs[0].FinishedAt)
		require.Equal(t, []string{"fat_votacao"}, resp.Ingest.UnfinishedRuns)
	})

	t.Run("unhealthy when the warehouse is unreachable", func(t *testing.T) {
		db := testWarehouse(t, ctx)
		srv := testServer(t, ctx, db)
		require.NoError(t, db.Close())

		resp := getStatus(t, srv)
		require.Equal(t, "unhealthy", resp.Status)
		require.False(t, resp.System.Database)
		require.NotEmpty(t, resp.System.DatabaseMsg)
	})
}
