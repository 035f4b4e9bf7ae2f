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

// FactConfig holds configuration for fact table ingestion.
type FactConfig struct {
	// Table is the documented fact table (e.g. "fat_votacao"). It must
	// already exist; migrations own the DDL.
	Table string
	// SurrogateKey is the sk_* column, populated from the table's sequence.
	SurrogateKey string
	// NaturalKey is the degenerate event id column used for dedup. Events
	// already present are skipped, which makes loads idempotent.
	NaturalKey string
	// Columns are the column names after the surrogate key, in the order the
	// CSV writer emits them. The natural key must be one of them.
	Columns []string
	// SnapshotTS stamps the ingest run.
	SnapshotTS time.Time
	// RunID is an optional identifier for this load.
	RunID string
}

// InsertFactsViaCSV performs append-only fact ingestion:
//   - the batch is staged via a temp CSV and COPY
//   - an anti-join on the degenerate natural id drops events already loaded
//   - surviving events get surrogate keys from the fact's sequence
//
// Facts are immutable events: no updates, no deletes.
func InsertFactsViaCSV(
	ctx context.Context,
	log *slog.Logger,
	conn Connection,
	cfg FactConfig,
	count int,
	writeCSVFn func(*csv.Writer, int) error,
) error {
	ingestStart := time.Now()
	defer func() {
		duration := time.Since(ingestStart)
		log.Debug("fact ingestion completed",
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
	if len(cfg.Columns) == 0 {
		return fmt.Errorf("columns cannot be empty")
	}
	hasNaturalKey := false
	for _, col := range cfg.Columns {
		if col == cfg.NaturalKey {
			hasNaturalKey = true
			break
		}
	}
	if !hasNaturalKey {
		return fmt.Errorf("natural key %q must be one of the columns", cfg.NaturalKey)
	}

	if count == 0 {
		return nil
	}

	// Create CSV file
	tmpFile, err := os.CreateTemp("", fmt.Sprintf("%s_facts_*.csv", cfg.Table))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	csvWriter := csv.NewWriter(tmpFile)
	csvWriter.Comma = ','

	// Write CSV data
	for i := range count {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during CSV writing: %w", ctx.Err())
		default:
		}

		if err := writeCSVFn(csvWriter, i); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i, err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}

	// Retry the transaction with the same CSV file
	return retryWithBackoff(ctx, log, fmt.Sprintf("fact load %s", cfg.Table), func() error {
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

		suffix := make([]byte, 7)
		if _, err := rand.Read(suffix); err != nil {
			return fmt.Errorf("failed to generate unique suffix: %w", err)
		}
		stageTable := fmt.Sprintf("%s_stage_%s", cfg.Table, hex.EncodeToString(suffix))

		// Stage the CSV as VARCHAR; the typed fact table coerces on insert
		colDefs := make([]string, len(cfg.Columns))
		for i, col := range cfg.Columns {
			colDefs[i] = fmt.Sprintf("%s VARCHAR", col)
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

		copySQL := fmt.Sprintf("COPY %s FROM '%s' (FORMAT CSV, HEADER false)", rawTable, tmpFile.Name())
		if _, err := tx.ExecContext(ctx, copySQL); err != nil {
			return fmt.Errorf("failed to COPY FROM CSV: %w", err)
		}

		// Dedup within the batch by natural id
		colList := strings.Join(cfg.Columns, ", ")
		createStageSQL := fmt.Sprintf(`CREATE TEMP TABLE %s AS
			SELECT %s
			FROM (
				SELECT *, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS rn
				FROM %s
			)
			WHERE rn = 1`,
			stageTable,
			colList,
			cfg.NaturalKey, cfg.NaturalKey,
			rawTable)
		if _, err := tx.ExecContext(ctx, createStageSQL); err != nil {
			return fmt.Errorf("failed to create stage table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", rawTable)); err != nil {
			log.Error("failed to drop raw stage table", "error", err)
		}

		// Anti-join on the natural id: only events not yet loaded survive
		qualified := make([]string, len(cfg.Columns))
		for i, col := range cfg.Columns {
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
			SELECT 1 FROM %s f WHERE f.%s = s.%s
		)`,
			cfg.Table,
			cfg.SurrogateKey,
			colList,
			SequenceName(cfg.Table),
			strings.Join(qualified, ", "),
			stageTable,
			cfg.Table, cfg.NaturalKey, cfg.NaturalKey)

		res, err := tx.ExecContext(ctx, insertSQL)
		if err != nil {
			return fmt.Errorf("failed to insert into fact table: %w", err)
		}
		inserted64, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read inserted row count: %w", err)
		}
		inserted := int(inserted64)

		if inserted < count {
			log.Debug("skipped already-loaded events", "table", cfg.Table, "staged", count, "inserted", inserted)
		}

		runID := defaultRunID(cfg.RunID, cfg.SnapshotTS)
		if err := trackIngestRun(ctx, tx, cfg.Table, runID, cfg.SnapshotTS, ingestStart, count, inserted, 0, 0); err != nil {
			return fmt.Errorf("failed to track ingest run: %w", err)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", stageTable)); err != nil {
			log.Error("failed to drop stage table", "error", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}

		return nil
	})
}
