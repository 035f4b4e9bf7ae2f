package duck

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// DimConfig holds configuration for a dimension snapshot refresh.
type DimConfig struct {
	// Table is the documented dimension table (e.g. "dim_parlamentar").
	// It must already exist, with the surrogate key, natural key, and
	// payload columns; migrations own the DDL.
	Table string
	// SurrogateKey is the sk_* column, populated from the table's sequence.
	SurrogateKey string
	// NaturalKey is the business key column used to match snapshot rows to
	// existing dimension rows (typically "id").
	NaturalKey string
	// PayloadColumns are the remaining column names, in the order the CSV
	// writer emits them (after the natural key).
	PayloadColumns []string
	// SnapshotTS stamps history rows and the ingest run (same for the whole run).
	SnapshotTS time.Time
	// MissingMeansDeleted treats natural keys absent from the snapshot as
	// deletes: the dimension row is removed and a tombstone lands in history.
	MissingMeansDeleted bool
	// RunID is an optional identifier for this refresh.
	RunID string
}

// ReplaceDimensionViaCSV refreshes a dimension from a full snapshot:
//   - the snapshot is staged via a temp CSV and COPY
//   - a row hash over the payload columns detects changes
//   - existing natural keys keep their surrogate key; new ones draw from the
//     dimension's sequence; deleted ones never get their key reused
//   - every insert/update/delete appends a version row to the _historico
//     side table, so the documented table stays free of bookkeeping columns
//   - the refresh is recorded in plenario_ingest_runs
//
// The CSV row order is: natural key, then PayloadColumns.
func ReplaceDimensionViaCSV(
	ctx context.Context,
	log *slog.Logger,
	conn Connection,
	cfg DimConfig,
	count int,
	writeCSVFn func(*csv.Writer, int) error,
) error {
	ingestStart := time.Now()
	defer func() {
		duration := time.Since(ingestStart)
		log.Debug("dimension refresh completed",
			"table", cfg.Table,
			"rows", count,
			"duration", duration.String())
	}()

	if cfg.Table == "" {
		return fmt.Errorf("table cannot be empty")
	}
	if cfg.SurrogateKey == "" {
		return fmt.Errorf("surrogate key cannot be empty")
	}
	if cfg.NaturalKey == "" {
		return fmt.Errorf("natural key cannot be empty")
	}
	if len(cfg.PayloadColumns) == 0 {
		return fmt.Errorf("payload columns cannot be empty")
	}

	historyTable := HistoryTableName(cfg.Table)

	if count == 0 {
		// Empty snapshot: only process deletes if missing means deleted
		if cfg.MissingMeansDeleted {
			return processEmptyDimensionSnapshot(ctx, log, conn, cfg, historyTable)
		}
		return nil
	}

	// Create CSV file once before retry loop
	tmpFile, err := os.CreateTemp("", fmt.Sprintf("%s_dim_*.csv", cfg.Table))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	csvWriter := csv.NewWriter(tmpFile)
	csvWriter.Comma = ','

	// Log progress every 5 seconds for long-running operations
	progressLogInterval := 5 * time.Second
	lastProgressLog := time.Now()

	for i := range count {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while writing CSV for %s: %w", cfg.Table, ctx.Err())
		default:
		}

		if err := writeCSVFn(csvWriter, i); err != nil {
			log.Error("failed to write CSV record", "table", cfg.Table, "row", i, "total", count, "error", err)
			return fmt.Errorf("failed to write CSV record for %s: %w", cfg.Table, err)
		}

		if count > 1000 {
			now := time.Now()
			if now.Sub(lastProgressLog) >= progressLogInterval {
				log.Debug("write progress", "table", cfg.Table, "written", i+1, "total", count)
				lastProgressLog = now
			}
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	tmpFile.Close()

	// Verify file still exists before retry
	if _, err := os.Stat(tmpFile.Name()); err != nil {
		return fmt.Errorf("CSV file no longer exists for %s: %w", cfg.Table, err)
	}

	// Retry the transaction with the same CSV file
	return retryWithBackoff(ctx, log, fmt.Sprintf("dimension refresh %s", cfg.Table), func() error {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled before transaction for %s: %w", cfg.Table, ctx.Err())
		default:
		}

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for %s: %w", cfg.Table, err)
		}
		defer func() {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Error("failed to rollback transaction", "table", cfg.Table, "error", err)
			}
		}()

		// Generate unique suffix for temp tables
		suffix := make([]byte, 7)
		if _, err := rand.Read(suffix); err != nil {
			return fmt.Errorf("failed to generate unique suffix: %w", err)
		}
		stageTable := fmt.Sprintf("%s_stage_%s", cfg.Table, hex.EncodeToString(suffix))

		// Step 0: Load snapshot into staging table with row_hash, deduped by
		// natural key
		if err := loadDimensionStage(ctx, tx, log, cfg, stageTable, tmpFile.Name()); err != nil {
			return fmt.Errorf("failed to load stage table: %w", err)
		}

		// Step 1: Compute deltas
		inserts, updates, deletes, err := computeDimensionDeltas(ctx, tx, log, cfg, stageTable, historyTable)
		if err != nil {
			return fmt.Errorf("failed to compute deltas: %w", err)
		}

		// Step 2: Update history: close superseded versions, append I/U/D rows
		if err := updateDimensionHistory(ctx, tx, log, cfg, stageTable, historyTable, deletes); err != nil {
			return fmt.Errorf("failed to update history: %w", err)
		}

		// Step 3: Refresh the documented table with stable surrogate keys
		if err := refreshDimension(ctx, tx, cfg, stageTable); err != nil {
			return fmt.Errorf("failed to refresh dimension: %w", err)
		}

		// Step 4: Record the run
		runID := defaultRunID(cfg.RunID, cfg.SnapshotTS)
		if err := trackIngestRun(ctx, tx, cfg.Table, runID, cfg.SnapshotTS, ingestStart, count, inserts, updates, deletes); err != nil {
			return fmt.Errorf("failed to track ingest run: %w", err)
		}

		// Cleanup
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", stageTable)); err != nil {
			log.Error("failed to drop stage table", "table", cfg.Table, "stage_table", stageTable, "error", err)
			// Don't fail the operation if cleanup fails
		}

		if err := tx.Commit(); err != nil {
			log.Error("transaction commit failed", "table", cfg.Table, "error", err)
			return fmt.Errorf("failed to commit transaction for %s: %w", cfg.Table, err)
		}
		return nil
	})
}

// loadDimensionStage loads the CSV into a staging table, computes row_hash
// over the payload columns, and dedupes by natural key.
func loadDimensionStage(
	ctx context.Context,
	tx *sql.Tx,
	log *slog.Logger,
	cfg DimConfig,
	stageTable, csvFilePath string,
) error {
	nk := cfg.NaturalKey

	colDefs := make([]string, 0, len(cfg.PayloadColumns)+1)
	colDefs = append(colDefs, fmt.Sprintf("%s VARCHAR", nk))
	for _, col := range cfg.PayloadColumns {
		colDefs = append(colDefs, fmt.Sprintf("%s VARCHAR", col))
	}

	rawTable := stageTable + "_raw"
	createRawSQL := fmt.Sprintf(`CREATE TEMP TABLE %s (
		%s
	)`,
		rawTable,
		strings.Join(colDefs, ",\n\t\t"))

	if _, err := tx.ExecContext(ctx, createRawSQL); err != nil {
		return fmt.Errorf("failed to create raw stage table: %w", err)
	}

	copySQL := fmt.Sprintf("COPY %s FROM '%s' (FORMAT CSV, HEADER false)", rawTable, csvFilePath)
	if _, err := tx.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("failed to COPY FROM CSV: %w", err)
	}

	// Hash the payload columns only; the natural key identifies the row, the
	// hash decides whether it changed.
	payloadConcat := make([]string, len(cfg.PayloadColumns))
	for i, col := range cfg.PayloadColumns {
		payloadConcat[i] = fmt.Sprintf("COALESCE(CAST(%s AS VARCHAR), '')", col)
	}
	hashExpr := fmt.Sprintf("md5(%s)", strings.Join(payloadConcat, " || '|' || "))

	allCols := append([]string{nk}, cfg.PayloadColumns...)
	colList := strings.Join(allCols, ", ")

	createStageSQL := fmt.Sprintf(`CREATE TEMP TABLE %s AS
		SELECT %s, %s AS row_hash
		FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS rn
			FROM %s
		)
		WHERE rn = 1`,
		stageTable,
		colList,
		hashExpr,
		nk, nk,
		rawTable)

	if _, err := tx.ExecContext(ctx, createStageSQL); err != nil {
		return fmt.Errorf("failed to create stage table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", rawTable)); err != nil {
		log.Error("failed to drop raw stage table", "error", err)
	}

	return nil
}

// computeDimensionDeltas counts inserts, updates, and deletes by comparing the
// stage with the dimension and its open history versions.
func computeDimensionDeltas(
	ctx context.Context,
	tx *sql.Tx,
	log *slog.Logger,
	cfg DimConfig,
	stageTable, historyTable string,
) (inserts, updates, deletes int, err error) {
	nk := cfg.NaturalKey

	// Inserts: stage natural key not in the dimension
	insertSQL := fmt.Sprintf(`SELECT COUNT(*) FROM %s s
		WHERE NOT EXISTS (
			SELECT 1 FROM %s t WHERE t.%s = s.%s
		)`,
		stageTable, cfg.Table, nk, nk)
	if err := tx.QueryRowContext(ctx, insertSQL).Scan(&inserts); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count inserts: %w", err)
	}

	// Updates: open history version exists with a different hash. The open
	// non-deleted history rows mirror the dimension, so the comparison is
	// hash-to-hash over identically formatted snapshot values.
	updateSQL := fmt.Sprintf(`SELECT COUNT(*) FROM %s s
		INNER JOIN %s h ON h.%s = s.%s AND h.valid_to IS NULL AND h.op <> 'D'
		WHERE h.row_hash <> s.row_hash`,
		stageTable, historyTable, nk, nk)
	if err := tx.QueryRowContext(ctx, updateSQL).Scan(&updates); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count updates: %w", err)
	}

	// Deletes: dimension natural key not in stage (only if missing means deleted)
	if cfg.MissingMeansDeleted {
		deleteSQL := fmt.Sprintf(`SELECT COUNT(*) FROM %s t
			WHERE NOT EXISTS (
				SELECT 1 FROM %s s WHERE s.%s = t.%s
			)`,
			cfg.Table, stageTable, nk, nk)
		if err := tx.QueryRowContext(ctx, deleteSQL).Scan(&deletes); err != nil {
			return 0, 0, 0, fmt.Errorf("failed to count deletes: %w", err)
		}
	}

	log.Debug("computed deltas",
		"table", cfg.Table,
		"inserts", inserts,
		"updates", updates,
		"deletes", deletes)

	return inserts, updates, deletes, nil
}

// updateDimensionHistory closes superseded open versions and appends new
// I/U/D rows to the _historico table.
func updateDimensionHistory(
	ctx context.Context,
	tx *sql.Tx,
	log *slog.Logger,
	cfg DimConfig,
	stageTable, historyTable string,
	deletes int,
) error {
	nk := cfg.NaturalKey
	allCols := append([]string{nk}, cfg.PayloadColumns...)
	colList := strings.Join(allCols, ", ")
	runID := defaultRunID(cfg.RunID, cfg.SnapshotTS)

	// Capture rows to tombstone before anything is closed: the open
	// non-deleted history rows whose key is absent from the stage.
	delsTable := stageTable + "_dels"
	if cfg.MissingMeansDeleted && deletes > 0 {
		createDelsSQL := fmt.Sprintf(`CREATE TEMP TABLE %s AS
			SELECT %s, row_hash
			FROM %s h
			WHERE h.valid_to IS NULL AND h.op <> 'D'
			AND NOT EXISTS (SELECT 1 FROM %s s WHERE s.%s = h.%s)`,
			delsTable,
			colList,
			historyTable,
			stageTable, nk, nk)
		if _, err := tx.ExecContext(ctx, createDelsSQL); err != nil {
			return fmt.Errorf("failed to capture deleted rows: %w", err)
		}
	}

	// Collect the natural keys whose open version must be closed: changed
	// rows, reappearing keys with an open tombstone, and deletes.
	closeTable := stageTable + "_close"
	createCloseSQL := fmt.Sprintf(`CREATE TEMP TABLE %s AS
		SELECT s.%s AS %s FROM %s s
		INNER JOIN %s h ON h.%s = s.%s AND h.valid_to IS NULL
		WHERE h.op = 'D' OR h.row_hash <> s.row_hash`,
		closeTable,
		nk, nk, stageTable,
		historyTable, nk, nk)
	if cfg.MissingMeansDeleted && deletes > 0 {
		createCloseSQL += fmt.Sprintf("\n\t\tUNION\n\t\tSELECT %s FROM %s", nk, delsTable)
	}
	if _, err := tx.ExecContext(ctx, createCloseSQL); err != nil {
		return fmt.Errorf("failed to collect versions to close: %w", err)
	}

	closeSQL := fmt.Sprintf(`UPDATE %s h
		SET valid_to = ?
		WHERE h.valid_to IS NULL
		AND EXISTS (SELECT 1 FROM %s p WHERE p.%s = h.%s)`,
		historyTable, closeTable, nk, nk)
	if _, err := tx.ExecContext(ctx, closeSQL, cfg.SnapshotTS); err != nil {
		return fmt.Errorf("failed to close old versions: %w", err)
	}

	// Append open versions for inserts and updates; unchanged rows (an open
	// version with the same hash survives) are skipped.
	insertHistorySQL := fmt.Sprintf(`INSERT INTO %s (
		%s,
		valid_from,
		valid_to,
		row_hash,
		op,
		run_id
	)
	SELECT
		%s,
		? AS valid_from,
		NULL AS valid_to,
		row_hash,
		CASE
			WHEN EXISTS (SELECT 1 FROM %s t WHERE t.%s = s.%s) THEN 'U'
			ELSE 'I'
		END AS op,
		? AS run_id
	FROM %s s
	WHERE NOT EXISTS (
		SELECT 1 FROM %s h WHERE h.%s = s.%s AND h.valid_to IS NULL AND h.op <> 'D' AND h.row_hash = s.row_hash
	)`,
		historyTable,
		colList,
		colList,
		cfg.Table, nk, nk,
		stageTable,
		historyTable, nk, nk)

	if _, err := tx.ExecContext(ctx, insertHistorySQL, cfg.SnapshotTS, runID); err != nil {
		return fmt.Errorf("failed to insert new history rows: %w", err)
	}

	// Tombstones for deletes stay open (valid_to NULL) until the key reappears.
	if cfg.MissingMeansDeleted && deletes > 0 {
		deleteHistorySQL := fmt.Sprintf(`INSERT INTO %s (
			%s,
			valid_from,
			valid_to,
			row_hash,
			op,
			run_id
		)
		SELECT
			%s,
			? AS valid_from,
			NULL AS valid_to,
			row_hash,
			'D' AS op,
			? AS run_id
		FROM %s`,
			historyTable,
			colList,
			colList,
			delsTable)

		if _, err := tx.ExecContext(ctx, deleteHistorySQL, cfg.SnapshotTS, runID); err != nil {
			return fmt.Errorf("failed to insert delete tombstone rows: %w", err)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", delsTable)); err != nil {
			log.Error("failed to drop dels table", "error", err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", closeTable)); err != nil {
		log.Error("failed to drop close table", "error", err)
	}

	return nil
}

// refreshDimension applies the stage to the documented table. Matched rows
// keep their surrogate key, new rows draw the next sequence value, and
// missing rows are removed when the config says so.
func refreshDimension(
	ctx context.Context,
	tx *sql.Tx,
	cfg DimConfig,
	stageTable string,
) error {
	nk := cfg.NaturalKey
	seq := SequenceName(cfg.Table)

	updateSetParts := make([]string, 0, len(cfg.PayloadColumns))
	for _, col := range cfg.PayloadColumns {
		updateSetParts = append(updateSetParts, fmt.Sprintf("%s = s.%s", col, col))
	}

	updateSQL := fmt.Sprintf(`MERGE INTO %s t USING %s s ON t.%s = s.%s
		WHEN MATCHED THEN UPDATE SET %s`,
		cfg.Table,
		stageTable,
		nk, nk,
		strings.Join(updateSetParts, ", "))

	if _, err := tx.ExecContext(ctx, updateSQL); err != nil {
		return fmt.Errorf("failed to update dimension rows: %w", err)
	}

	allCols := append([]string{nk}, cfg.PayloadColumns...)
	colList := strings.Join(allCols, ", ")
	qualified := make([]string, len(allCols))
	for i, col := range allCols {
		qualified[i] = "s." + col
	}

	insertSQL := fmt.Sprintf(`INSERT INTO %s (
		%s,
		%s
	)
	SELECT
		nextval('%s'),
		%s
	FROM %s s
	WHERE NOT EXISTS (
		SELECT 1 FROM %s t WHERE t.%s = s.%s
	)`,
		cfg.Table,
		cfg.SurrogateKey,
		colList,
		seq,
		strings.Join(qualified, ", "),
		stageTable,
		cfg.Table, nk, nk)

	if _, err := tx.ExecContext(ctx, insertSQL); err != nil {
		return fmt.Errorf("failed to insert dimension rows: %w", err)
	}

	if cfg.MissingMeansDeleted {
		deleteSQL := fmt.Sprintf(`DELETE FROM %s t
			WHERE NOT EXISTS (
				SELECT 1 FROM %s s WHERE s.%s = t.%s
			)`,
			cfg.Table, stageTable, nk, nk)

		if _, err := tx.ExecContext(ctx, deleteSQL); err != nil {
			return fmt.Errorf("failed to delete dimension rows: %w", err)
		}
	}

	return nil
}

// processEmptyDimensionSnapshot handles count == 0 with MissingMeansDeleted:
// everything currently in the dimension is a delete.
func processEmptyDimensionSnapshot(
	ctx context.Context,
	log *slog.Logger,
	conn Connection,
	cfg DimConfig,
	historyTable string,
) error {
	return retryWithBackoff(ctx, log, fmt.Sprintf("empty dimension snapshot %s", cfg.Table), func() error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Error("failed to rollback transaction", "table", cfg.Table, "error", err)
			}
		}()

		nk := cfg.NaturalKey
		allCols := append([]string{nk}, cfg.PayloadColumns...)
		colList := strings.Join(allCols, ", ")
		runID := defaultRunID(cfg.RunID, cfg.SnapshotTS)

		var deletes int
		countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s", cfg.Table)
		if err := tx.QueryRowContext(ctx, countSQL).Scan(&deletes); err != nil {
			return fmt.Errorf("failed to count dimension rows: %w", err)
		}

		// Capture the open versions before closing them; they become the
		// tombstones.
		delsTable := cfg.Table + "_empty_dels"
		createDelsSQL := fmt.Sprintf(`CREATE TEMP TABLE %s AS
			SELECT %s, row_hash FROM %s WHERE valid_to IS NULL AND op <> 'D'`,
			delsTable, colList, historyTable)
		if _, err := tx.ExecContext(ctx, createDelsSQL); err != nil {
			return fmt.Errorf("failed to capture open versions: %w", err)
		}

		closeAllSQL := fmt.Sprintf(`UPDATE %s
			SET valid_to = ?
			WHERE valid_to IS NULL AND op <> 'D'`,
			historyTable)
		if _, err := tx.ExecContext(ctx, closeAllSQL, cfg.SnapshotTS); err != nil {
			return fmt.Errorf("failed to close all history versions: %w", err)
		}

		deleteHistorySQL := fmt.Sprintf(`INSERT INTO %s (
			%s,
			valid_from,
			valid_to,
			row_hash,
			op,
			run_id
		)
		SELECT
			%s,
			? AS valid_from,
			NULL AS valid_to,
			row_hash,
			'D' AS op,
			? AS run_id
		FROM %s`,
			historyTable,
			colList,
			colList,
			delsTable)
		if _, err := tx.ExecContext(ctx, deleteHistorySQL, cfg.SnapshotTS, runID); err != nil {
			return fmt.Errorf("failed to insert delete tombstones: %w", err)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", delsTable)); err != nil {
			log.Error("failed to drop dels table", "error", err)
		}

		deleteCurrentSQL := fmt.Sprintf("DELETE FROM %s", cfg.Table)
		if _, err := tx.ExecContext(ctx, deleteCurrentSQL); err != nil {
			return fmt.Errorf("failed to delete dimension rows: %w", err)
		}

		if err := trackIngestRun(ctx, tx, cfg.Table, runID, cfg.SnapshotTS, time.Now(), 0, 0, 0, deletes); err != nil {
			return fmt.Errorf("failed to track ingest run: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}
