package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plenariolabs/plenario/pkg/duck"
)

// Migrate creates the warehouse objects for the schema: one surrogate-key
// sequence and one table per base dimension and fact, a _historico side
// table per base dimension, role-playing views over their bases, and the
// shared ingest-run bookkeeping table. Every statement is idempotent, so
// Migrate runs on every indexer start. A schema that fails Lint is
// refused before anything is created.
func Migrate(ctx context.Context, log *slog.Logger, conn duck.Connection, s *Schema) error {
	if problems := Lint(s); len(problems) > 0 {
		return fmt.Errorf("schema %s fails lint with %d problems, first: %s", s.Name, len(problems), problems[0])
	}

	start := time.Now()
	tables, views := 0, 0

	for i := range s.Tables {
		t := &s.Tables[i]
		if t.IsVariant() {
			continue
		}
		if err := duck.CreateSequence(ctx, conn, duck.SequenceName(t.Name)); err != nil {
			return err
		}
		if err := duck.CreateTable(ctx, conn, t.Name, t.ColumnDefs()); err != nil {
			return err
		}
		tables++
		if t.Kind == KindDimension {
			if err := duck.CreateTable(ctx, conn, duck.HistoryTableName(t.Name), historyColumnDefs(t)); err != nil {
				return err
			}
			tables++
		}
	}

	// Views after bases so a fresh database migrates in one pass.
	for i := range s.Tables {
		t := &s.Tables[i]
		if !t.IsVariant() {
			continue
		}
		if err := duck.CreateRoleView(ctx, conn, t.Name, t.IdenticalTo); err != nil {
			return err
		}
		views++
	}

	if err := duck.EnsureIngestRunsTable(ctx, conn); err != nil {
		return err
	}

	log.Info("warehouse migrated",
		"schema", s.Name,
		"tables", tables,
		"views", views,
		"duration", time.Since(start),
	)
	return nil
}

// historyColumnDefs returns the _historico shape for a base dimension:
// the natural key and payload columns typed like the dimension, plus the
// version bookkeeping columns.
func historyColumnDefs(t *Table) []string {
	defs := make([]string, 0, len(t.Columns)+5)
	for _, c := range t.Columns {
		if c.Name == t.SurrogateKey {
			continue
		}
		defs = append(defs, c.Name+":"+c.Type)
	}
	return append(defs,
		"valid_from:TIMESTAMP",
		"valid_to:TIMESTAMP",
		"row_hash:VARCHAR",
		"op:VARCHAR",
		"run_id:VARCHAR",
	)
}
