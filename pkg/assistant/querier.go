package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/plenariolabs/plenario/pkg/catalog"
	"github.com/plenariolabs/plenario/pkg/querier"
	"github.com/plenariolabs/plenario/pkg/querier/guard"
)

// WarehouseQuerier adapts the warehouse querier to the pipeline's Querier
// interface. Every statement passes through the SQL guard first, so a
// generated query can only ever read documented tables; rejections and
// execution failures are reported in QueryResult.Error, where the retry
// loop feeds them back to the model.
type WarehouseQuerier struct {
	log     *slog.Logger
	querier *querier.Querier
	schema  *catalog.Schema
}

// NewWarehouseQuerier creates a guarded querier adapter.
func NewWarehouseQuerier(log *slog.Logger, q *querier.Querier) *WarehouseQuerier {
	return &WarehouseQuerier{
		log:     log,
		querier: q,
		schema:  q.Schema(),
	}
}

// Query validates and executes a SQL statement against the warehouse.
func (w *WarehouseQuerier) Query(ctx context.Context, sql string) (QueryResult, error) {
	sql = cleanSQL(sql)

	if err := guard.Check(sql, w.schema); err != nil {
		w.log.Info("assistant: query rejected", "error", err)
		return QueryResult{SQL: sql, Error: fmt.Sprintf("query rejected: %v", err)}, nil
	}

	resp, err := w.querier.Query(ctx, sql)
	if err != nil {
		return QueryResult{SQL: sql, Error: fmt.Sprintf("query error: %v", err)}, nil
	}

	result := QueryResult{
		SQL:     sql,
		Columns: resp.Columns,
		Rows:    make([]map[string]any, len(resp.Rows)),
		Count:   resp.Count,
	}
	for i, row := range resp.Rows {
		result.Rows[i] = row
	}
	result.Formatted = FormatQueryResult(result)
	return result, nil
}
