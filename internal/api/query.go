package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/plenariolabs/plenario/internal/api/metrics"
	"github.com/plenariolabs/plenario/pkg/querier/guard"
)

type QueryRequest struct {
	Query string `json:"query"`
}

type QueryResponse struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	ElapsedMs int64    `json:"elapsed_ms"`
	Error     string   `json:"error,omitempty"`
}

// executeQueryHandler runs a client SELECT against the warehouse. Guard
// rejections and engine errors are reported in-band so the UI can show
// them next to the editor.
func (s *Server) executeQueryHandler(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "Query is required", http.StatusBadRequest)
		return
	}

	query := strings.TrimSpace(req.Query)
	query = strings.TrimSuffix(query, ";")
	query = strings.TrimSpace(query)

	if err := guard.Check(query, s.cfg.Querier.Schema()); err != nil {
		metrics.WarehouseQueriesTotal.WithLabelValues("rejected").Inc()
		s.writeJSON(w, QueryResponse{
			Error: fmt.Sprintf("query rejected: %v", err),
		})
		return
	}

	start := time.Now()
	resp, err := s.cfg.Querier.Query(r.Context(), query)
	duration := time.Since(start)
	metrics.RecordWarehouseQuery(duration, err)
	elapsed := duration.Milliseconds()
	if err != nil {
		// DuckDB error messages are safe to show (no credentials)
		s.writeJSON(w, QueryResponse{
			Error:     err.Error(),
			ElapsedMs: elapsed,
		})
		return
	}

	rows := make([][]any, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		rowData := make([]any, 0, len(resp.Columns))
		for _, col := range resp.Columns {
			rowData = append(rowData, sanitizeValue(row[col]))
		}
		rows = append(rows, rowData)
	}

	s.writeJSON(w, QueryResponse{
		Columns:   resp.Columns,
		Rows:      rows,
		RowCount:  len(rows),
		ElapsedMs: elapsed,
	})
}
