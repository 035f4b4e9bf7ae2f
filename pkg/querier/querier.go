// Package querier executes read-only SQL against the plenario warehouse
// and reports which documented tables the attached file actually carries.
// Statement validation lives in the guard subpackage; the serving surfaces
// run every client statement through it before calling Query.
package querier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plenariolabs/plenario/pkg/catalog"
)

type Querier struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Querier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate querier config: %w", err)
	}
	return &Querier{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

type QueryResponse struct {
	Columns     []string     `json:"columns"`
	ColumnTypes []ColumnType `json:"column_types"`
	Rows        []QueryRow   `json:"rows"`
	Count       int          `json:"count"`
}

// ColumnType carries the metadata the wire frontends need to type a
// result column for their clients.
type ColumnType struct {
	Name             string `json:"name"`
	DatabaseTypeName string `json:"database_type_name"`
	ScanType         string `json:"scan_type"`
}

type QueryRow map[string]any

// Schema returns the documented catalog the querier serves. The guard
// validates client statements against it.
func (q *Querier) Schema() *catalog.Schema {
	return q.cfg.Schema
}

// Ready reports whether the warehouse file is attached and answering.
// Readiness probes use it to keep traffic away until the snapshot is in
// place.
func (q *Querier) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return false
	}
	defer conn.Close()

	var one int
	return conn.QueryRowContext(ctx, "SELECT 1").Scan(&one) == nil
}

// CandidateTables returns every table the catalog documents, whether or
// not the attached warehouse carries it yet.
func (q *Querier) CandidateTables(_ context.Context) []catalog.Table {
	return q.cfg.Schema.Tables
}

// EnabledTables returns the documented tables that exist in the attached
// warehouse. Role-playing variants are materialized as views, so the
// lookup goes through information_schema rather than duckdb_tables().
func (q *Querier) EnabledTables(ctx context.Context) ([]catalog.Table, error) {
	sql := fmt.Sprintf(`SELECT table_name FROM information_schema.tables WHERE table_schema = '%s'`, q.cfg.DB.Schema())

	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		present[tableName] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema rows: %w", err)
	}

	tables := make([]catalog.Table, 0, len(q.cfg.Schema.Tables))
	for _, table := range q.cfg.Schema.Tables {
		if present[table.Name] {
			tables = append(tables, table)
		}
	}
	return tables, nil
}

func (q *Querier) Query(ctx context.Context, sql string) (QueryResponse, error) {
	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return QueryResponse{}, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, sql)
	if err != nil {
		return QueryResponse{}, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return QueryResponse{}, fmt.Errorf("failed to get columns: %w", err)
	}

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return QueryResponse{}, fmt.Errorf("failed to get column types: %w", err)
	}
	columnTypes := make([]ColumnType, len(colTypes))
	for i, ct := range colTypes {
		columnTypes[i] = ColumnType{
			Name:             ct.Name(),
			DatabaseTypeName: ct.DatabaseTypeName(),
		}
		if st := ct.ScanType(); st != nil {
			columnTypes[i].ScanType = st.String()
		}
	}

	var resultRows []QueryRow
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return QueryResponse{}, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(QueryRow)
		for i, col := range columns {
			val := values[i]
			if val == nil {
				row[col] = nil
			} else {
				switch v := val.(type) {
				case []byte:
					row[col] = string(v)
				default:
					row[col] = val
				}
			}
		}
		resultRows = append(resultRows, row)
	}

	if err := rows.Err(); err != nil {
		return QueryResponse{}, fmt.Errorf("error iterating rows: %w", err)
	}

	return QueryResponse{
		Columns:     columns,
		ColumnTypes: columnTypes,
		Rows:        resultRows,
		Count:       len(resultRows),
	}, nil
}
