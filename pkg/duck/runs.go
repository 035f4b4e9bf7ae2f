package duck

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// IngestRunsTable is the shared bookkeeping table recording every dimension
// and fact refresh.
const IngestRunsTable = "plenario_ingest_runs"

// EnsureIngestRunsTable creates the ingest-run bookkeeping table if needed.
func EnsureIngestRunsTable(ctx context.Context, conn Connection) error {
	db := conn.DB()
	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s.%s (
		table_name VARCHAR NOT NULL,
		run_id VARCHAR NOT NULL,
		snapshot_ts TIMESTAMP NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		rows_in_snapshot INTEGER,
		inserts INTEGER,
		updates INTEGER,
		deletes INTEGER
	)`, db.Catalog(), db.Schema(), IngestRunsTable)

	if _, err := conn.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create %s: %w", IngestRunsTable, err)
	}
	return nil
}

// trackIngestRun upserts the run record for one table refresh. DuckDB has no
// ON CONFLICT for this shape, so MERGE keyed on (table_name, run_id).
func trackIngestRun(
	ctx context.Context,
	tx *sql.Tx,
	table, runID string,
	snapshotTS, startedAt time.Time,
	totalRows, inserts, updates, deletes int,
) error {
	upsertSQL := fmt.Sprintf(`MERGE INTO %s t USING (
		SELECT ? AS table_name, ? AS run_id, ? AS snapshot_ts, ? AS started_at, ? AS finished_at,
			? AS rows_in_snapshot, ? AS inserts, ? AS updates, ? AS deletes
	) s ON t.table_name = s.table_name AND t.run_id = s.run_id
	WHEN MATCHED THEN UPDATE SET
		finished_at = s.finished_at,
		rows_in_snapshot = s.rows_in_snapshot,
		inserts = s.inserts,
		updates = s.updates,
		deletes = s.deletes
	WHEN NOT MATCHED THEN INSERT (
		table_name, run_id, snapshot_ts, started_at, finished_at,
		rows_in_snapshot, inserts, updates, deletes
	) VALUES (
		s.table_name, s.run_id, s.snapshot_ts, s.started_at, s.finished_at,
		s.rows_in_snapshot, s.inserts, s.updates, s.deletes
	)`,
		IngestRunsTable)

	finishedAt := time.Now()
	if _, err := tx.ExecContext(ctx, upsertSQL,
		table,
		runID,
		snapshotTS,
		startedAt,
		finishedAt,
		totalRows,
		inserts,
		updates,
		deletes,
	); err != nil {
		return fmt.Errorf("failed to upsert ingest run: %w", err)
	}

	return nil
}

func defaultRunID(runID string, snapshotTS time.Time) string {
	if runID != "" {
		return runID
	}
	return fmt.Sprintf("run_%d", snapshotTS.Unix())
}
