package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plenariolabs/plenario/internal/mcp/server/metrics"
	"github.com/plenariolabs/plenario/pkg/assistant"
)

const schemaToolName = "schema"

const schemaToolDescription = `
		PURPOSE:
		Return the live schema of the ALMG legislative warehouse: every table and view with its columns, types, and the exact values categorical columns store.

		USAGE RULES:
		- Call this before writing SQL for the 'query' tool. Table names, column names and categorical filter values must come from here, not from memory.
		- Role-playing variants ('dim_data_votacao', 'dim_autor_norma', ...) are views over their base dimensions; their definitions are included.
	`

type SchemaInput struct{}

type SchemaOutput struct {
	Schema string `json:"schema"`
}

func RegisterSchemaTool(log *slog.Logger, server *mcp.Server, fetcher assistant.SchemaFetcher) error {
	req, err := jsonschema.For[SchemaInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create schema input schema: %w", err)
	}

	res, err := jsonschema.For[SchemaOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create schema output schema: %w", err)
	}

	if fetcher == nil {
		return fmt.Errorf("schema fetcher is required")
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         schemaToolName,
		Description:  schemaToolDescription,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ SchemaInput) (*mcp.CallToolResult, SchemaOutput, error) {
		startTime := time.Now()
		log.Debug("mcp/tool: handling schema")

		out, err := handleSchema(ctx, fetcher)
		duration := time.Since(startTime).Seconds()
		if err != nil {
			metrics.ToolCallsTotal.WithLabelValues(schemaToolName, "error").Inc()
			metrics.ToolCallDuration.WithLabelValues(schemaToolName).Observe(duration)
			return nil, SchemaOutput{}, err
		}
		metrics.ToolCallsTotal.WithLabelValues(schemaToolName, "success").Inc()
		metrics.ToolCallDuration.WithLabelValues(schemaToolName).Observe(duration)
		return nil, out, nil
	})
	return nil
}

func handleSchema(ctx context.Context, fetcher assistant.SchemaFetcher) (SchemaOutput, error) {
	text, err := fetcher.FetchSchema(ctx)
	if err != nil {
		return SchemaOutput{}, fmt.Errorf("failed to fetch schema: %w", err)
	}
	return SchemaOutput{Schema: text}, nil
}
