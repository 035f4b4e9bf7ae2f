package catalog

import (
	"context"
	"fmt"

	"github.com/plenariolabs/plenario/pkg/duck"
)

// Validate compares the documented schema against the live warehouse's
// information_schema and returns the differences. Role-playing variants
// are views in the warehouse, but information_schema reports their
// columns the same way, so they are validated like any other table.
// Physical tables the schema does not document (history side tables,
// ingest bookkeeping) are ignored.
func Validate(ctx context.Context, conn duck.Connection, s *Schema) ([]Problem, error) {
	db := conn.DB()
	rows, err := conn.QueryContext(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_catalog = ? AND table_schema = ?
		ORDER BY table_name, ordinal_position`,
		db.Catalog(), db.Schema())
	if err != nil {
		return nil, fmt.Errorf("failed to query information_schema: %w", err)
	}
	defer rows.Close()

	live := make(map[string][]string)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("failed to scan information_schema row: %w", err)
		}
		live[table] = append(live[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read information_schema: %w", err)
	}

	var problems []Problem
	for i := range s.Tables {
		t := &s.Tables[i]
		liveCols, ok := live[t.Name]
		if !ok {
			problems = append(problems, Problem{Table: t.Name, Message: "table not present in warehouse"})
			continue
		}

		liveSet := make(map[string]bool, len(liveCols))
		for _, name := range liveCols {
			liveSet[name] = true
		}
		for _, c := range t.Columns {
			if !liveSet[c.Name] {
				problems = append(problems, Problem{Table: t.Name, Message: fmt.Sprintf("documented column %q missing from warehouse", c.Name)})
			}
		}

		docSet := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			docSet[c.Name] = true
		}
		for _, name := range liveCols {
			if !docSet[name] {
				problems = append(problems, Problem{Table: t.Name, Message: fmt.Sprintf("warehouse column %q is not documented", name)})
			}
		}
	}

	return problems, nil
}
