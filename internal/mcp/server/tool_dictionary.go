package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plenariolabs/plenario/internal/mcp/server/metrics"
	"github.com/plenariolabs/plenario/pkg/catalog"
)

const dictionaryToolName = "dictionary"

const dictionaryToolDescription = `
		PURPOSE:
		Return the warehouse data dictionary as Markdown: one section per documented table with the grain, column descriptions, and the source endpoint each table is loaded from.

		USAGE RULES:
		- Use this for meaning ("what does situacao track?", "which endpoint feeds fat_votacao?"). Use the 'schema' tool for live structure and filter values.
	`

type DictionaryInput struct{}

type DictionaryOutput struct {
	Dictionary string `json:"dictionary"`
}

// RegisterDictionaryTool renders the dictionary once at registration; the
// documented catalog is static for the life of the process.
func RegisterDictionaryTool(log *slog.Logger, server *mcp.Server, schema *catalog.Schema) error {
	req, err := jsonschema.For[DictionaryInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create dictionary input schema: %w", err)
	}

	res, err := jsonschema.For[DictionaryOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create dictionary output schema: %w", err)
	}

	if schema == nil {
		return fmt.Errorf("schema is required")
	}

	dictionary, err := catalog.Dictionary(schema)
	if err != nil {
		return fmt.Errorf("failed to render data dictionary: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         dictionaryToolName,
		Description:  dictionaryToolDescription,
		InputSchema:  req,
		OutputSchema: res,
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ DictionaryInput) (*mcp.CallToolResult, DictionaryOutput, error) {
		startTime := time.Now()
		log.Debug("mcp/tool: handling dictionary")

		metrics.ToolCallsTotal.WithLabelValues(dictionaryToolName, "success").Inc()
		metrics.ToolCallDuration.WithLabelValues(dictionaryToolName).Observe(time.Since(startTime).Seconds())
		return nil, DictionaryOutput{Dictionary: dictionary}, nil
	})
	return nil
}
