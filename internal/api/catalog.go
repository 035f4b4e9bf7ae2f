package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/plenariolabs/plenario/pkg/duck"
)

// TableInfo describes one catalog relation with its live row count.
type TableInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"` // "dimension" or "fact"
	Type        string `json:"type"` // "table" or "view"
	Description string `json:"description"`
	RowCount    int64  `json:"row_count"`
}

type CatalogResponse struct {
	Schema string      `json:"schema"`
	Tables []TableInfo `json:"tables"`
}

// getCatalogHandler lists the documented warehouse relations. The catalog
// is the source of truth for what exists; the warehouse only contributes
// the row counts.
func (s *Server) getCatalogHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := s.tableRowCounts(r.Context())
	if err != nil {
		http.Error(w, s.internalError("Failed to count warehouse rows", err), http.StatusInternalServerError)
		return
	}

	schema := s.cfg.Querier.Schema()
	tables := make([]TableInfo, 0, len(schema.Tables))
	for _, t := range schema.Tables {
		typ := "table"
		if t.IsVariant() {
			// Role-playing variants are materialized as views
			typ = "view"
		}
		tables = append(tables, TableInfo{
			Name:        t.Name,
			Kind:        string(t.Kind),
			Type:        typ,
			Description: t.Description,
			RowCount:    counts[t.Name],
		})
	}

	s.writeJSON(w, CatalogResponse{Schema: schema.Name, Tables: tables})
}

// getDictionaryHandler serves the generated markdown data dictionary.
func (s *Server) getDictionaryHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	if _, err := w.Write(s.dictionary); err != nil {
		s.log.Error("failed to write dictionary response", "error", err)
	}
}

// tableRowCounts returns the live row count of every catalog relation
// present in the warehouse. Relations missing before the first ingest
// count as zero.
func (s *Server) tableRowCounts(ctx context.Context) (map[string]int64, error) {
	conn, err := s.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	existing, err := existingRelations(ctx, conn)
	if err != nil {
		return nil, err
	}

	db := s.cfg.DB
	counts := make(map[string]int64)
	for _, t := range s.cfg.Querier.Schema().Tables {
		if _, ok := existing[t.Name]; !ok {
			continue
		}
		var n int64
		countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM %s.%s.%s`, db.Catalog(), db.Schema(), t.Name)
		if err := conn.QueryRowContext(ctx, countSQL).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t.Name, err)
		}
		counts[t.Name] = n
	}
	return counts, nil
}

// existingRelations lists the tables and views present in the warehouse
// schema.
func existingRelations(ctx context.Context, conn duck.Connection) (map[string]struct{}, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = ?`,
		conn.DB().Schema())
	if err != nil {
		return nil, fmt.Errorf("failed to list relations: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan relation name: %w", err)
		}
		existing[name] = struct{}{}
	}
	return existing, rows.Err()
}
