package duck

import (
	"context"
	"fmt"
	"strings"
)

// CreateTable creates a table if it doesn't exist. Columns are "name:type"
// pairs in order, e.g. "sk_parlamentar:BIGINT", "nome:VARCHAR".
func CreateTable(ctx context.Context, conn Connection, table string, columns []string) error {
	colDefs, err := parseColumnDefs(columns)
	if err != nil {
		return err
	}

	db := conn.DB()
	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s.%s (
		%s
	)`,
		db.Catalog(), db.Schema(), table,
		strings.Join(colDefs, ",\n\t\t"))

	if _, err := conn.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

// CreateSequence creates the surrogate-key sequence for a table if it
// doesn't exist. Existing sequences keep their position, so surrogate keys
// stay stable across runs.
func CreateSequence(ctx context.Context, conn Connection, name string) error {
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s START 1", name)); err != nil {
		return fmt.Errorf("failed to create sequence %s: %w", name, err)
	}
	return nil
}

// CreateRoleView creates or replaces a role-playing view over a base
// dimension. The view exposes exactly the base's columns, which is what
// keeps the variant's documented column list identical to the base's.
func CreateRoleView(ctx context.Context, conn Connection, variant, base string) error {
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", variant, base)); err != nil {
		return fmt.Errorf("failed to create role view %s over %s: %w", variant, base, err)
	}
	return nil
}

// SequenceName returns the surrogate-key sequence name for a table.
func SequenceName(table string) string {
	return "seq_" + table
}

// HistoryTableName returns the change-history side table name for a
// dimension. Bookkeeping columns live there, never in the documented table.
func HistoryTableName(table string) string {
	return table + "_historico"
}

func parseColumnDefs(columns []string) ([]string, error) {
	colDefs := make([]string, 0, len(columns))
	for _, col := range columns {
		parts := strings.SplitN(col, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid column definition %q: expected format 'name:type'", col)
		}
		colDefs = append(colDefs, fmt.Sprintf("%s %s", strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])))
	}
	return colDefs, nil
}
