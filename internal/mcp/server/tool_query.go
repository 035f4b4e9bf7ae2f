package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plenariolabs/plenario/internal/mcp/server/metrics"
	"github.com/plenariolabs/plenario/pkg/querier"
	"github.com/plenariolabs/plenario/pkg/querier/guard"
)

type QueryInput struct {
	SQL string `json:"sql"`
}

type QueryOutput struct {
	Columns []string   `json:"columns"`
	Rows    []QueryRow `json:"rows"`
	Count   int        `json:"count"`
}

type QueryRow map[string]any

func RegisterQueryTool(log *slog.Logger, server *mcp.Server, querier *querier.Querier, name string, description string) error {
	req, err := jsonschema.For[QueryInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create query input schema: %w", err)
	}

	res, err := jsonschema.For[QueryOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create query output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         name,
		Description:  description,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
		startTime := time.Now()
		log.Debug("mcp/tool: handling query", "sql", req.SQL)

		res, err := handleQuery(ctx, querier, req)
		duration := time.Since(startTime).Seconds()
		if err != nil {
			metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
			metrics.ToolCallDuration.WithLabelValues(name).Observe(duration)
			return nil, QueryOutput{}, err
		}
		metrics.ToolCallsTotal.WithLabelValues(name, "success").Inc()
		metrics.ToolCallDuration.WithLabelValues(name).Observe(duration)
		return nil, res, nil
	})
	return nil
}

// handleQuery validates the statement against the documented catalog and
// executes it. Guard rejections and engine errors both travel back as tool
// errors; the calling model reads them and corrects its SQL.
func handleQuery(ctx context.Context, q *querier.Querier, req QueryInput) (QueryOutput, error) {
	sql := strings.TrimSpace(req.SQL)
	sql = strings.TrimSuffix(sql, ";")
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return QueryOutput{}, fmt.Errorf("sql is required")
	}

	if err := guard.Check(sql, q.Schema()); err != nil {
		return QueryOutput{}, fmt.Errorf("query rejected: %w", err)
	}

	resp, err := q.Query(ctx, sql)
	if err != nil {
		return QueryOutput{}, err
	}

	rows := make([]QueryRow, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		queryRow := make(QueryRow)
		for _, col := range resp.Columns {
			queryRow[col] = row[col]
		}
		rows = append(rows, queryRow)
	}

	return QueryOutput{
		Columns: resp.Columns,
		Rows:    rows,
		Count:   resp.Count,
	}, nil
}
