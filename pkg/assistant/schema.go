package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/plenariolabs/plenario/pkg/duck"
)

const (
	schemaCacheKey   = "schema"
	defaultSchemaTTL = 5 * time.Minute

	// Sample-value enrichment caps. Columns with more than maxSampleValues
	// distinct values are treated as free text and listed without samples.
	sampleFetchLimit = 20
	maxSampleValues  = 15
)

// WarehouseSchemaFetcher reads the live table and view inventory of the
// warehouse and renders it as prompt-ready text, enriching categorical
// columns with their distinct values so the model filters with the exact
// strings the warehouse stores ('em exercício', not 'em exercicio'). The
// rendered text is TTL-cached; the schema only changes on migration.
type WarehouseSchemaFetcher struct {
	log   *slog.Logger
	db    duck.DB
	cache *ttlcache.Cache[string, string]
}

// NewWarehouseSchemaFetcher creates a schema fetcher over the given
// warehouse. ttl <= 0 selects the default of five minutes.
func NewWarehouseSchemaFetcher(log *slog.Logger, db duck.DB, ttl time.Duration) *WarehouseSchemaFetcher {
	if ttl <= 0 {
		ttl = defaultSchemaTTL
	}
	return &WarehouseSchemaFetcher{
		log:   log,
		db:    db,
		cache: ttlcache.New(ttlcache.WithTTL[string, string](ttl)),
	}
}

type columnInfo struct {
	Table        string
	Name         string
	Type         string
	SampleValues []string
}

// FetchSchema returns the prompt-ready schema text, from cache when fresh.
func (f *WarehouseSchemaFetcher) FetchSchema(ctx context.Context) (string, error) {
	if item := f.cache.Get(schemaCacheKey); item != nil {
		return item.Value(), nil
	}

	start := time.Now()
	conn, err := f.db.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open connection: %w", err)
	}
	defer conn.Close()

	columns, err := f.fetchColumns(ctx, conn)
	if err != nil {
		return "", fmt.Errorf("failed to fetch columns: %w", err)
	}

	views, err := f.fetchViews(ctx, conn)
	if err != nil {
		return "", fmt.Errorf("failed to fetch views: %w", err)
	}

	f.enrichWithSampleValues(ctx, conn, columns)

	schema := formatSchema(columns, views)
	f.cache.Set(schemaCacheKey, schema, ttlcache.DefaultTTL)
	f.log.Debug("assistant: schema fetched", "columns", len(columns), "views", len(views), "duration", time.Since(start))
	return schema, nil
}

// Invalidate drops the cached schema so the next fetch reads the live
// catalog. Called after migrations.
func (f *WarehouseSchemaFetcher) Invalidate() {
	f.cache.Delete(schemaCacheKey)
}

func (f *WarehouseSchemaFetcher) fetchColumns(ctx context.Context, conn duck.Connection) ([]columnInfo, error) {
	// The ingest bookkeeping table is operational, not analytical; hiding
	// it keeps the model from joining facts against run metadata.
	rows, err := conn.QueryContext(ctx, `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = ?
		  AND table_name <> ?
		ORDER BY table_name, ordinal_position
	`, f.db.Schema(), duck.IngestRunsTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []columnInfo
	for rows.Next() {
		var col columnInfo
		if err := rows.Scan(&col.Table, &col.Name, &col.Type); err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (f *WarehouseSchemaFetcher) fetchViews(ctx context.Context, conn duck.Connection) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT view_name, sql
		FROM duckdb_views()
		WHERE schema_name = ? AND NOT internal
	`, f.db.Schema())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := make(map[string]string)
	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return nil, err
		}
		// duckdb_views reconstructs the full CREATE VIEW statement; collapse
		// it to one line so the schema text stays line-per-item.
		views[name] = strings.Join(strings.Fields(def), " ")
	}
	return views, rows.Err()
}

// isCategoricalType returns true when the column type can carry sample values.
func isCategoricalType(colType string) bool {
	return strings.Contains(strings.ToLower(colType), "varchar")
}

// shouldSkipColumn returns true for columns whose values are identifiers or
// free text rather than categories.
func shouldSkipColumn(colName string) bool {
	name := strings.ToLower(colName)
	for _, suffix := range []string{"_id", "_key", "_code", "_hash", "_url"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	for _, prefix := range []string{"sk_", "id_"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for _, exact := range []string{"id", "uuid", "nome", "ementa", "termo", "descricao"} {
		if name == exact {
			return true
		}
	}
	return false
}

// enrichWithSampleValues fetches distinct values for categorical columns.
// Columns that turn out to be high cardinality (more than maxSampleValues
// distinct values) are left without samples. Failures are skipped; samples
// are an enrichment, not a requirement.
func (f *WarehouseSchemaFetcher) enrichWithSampleValues(ctx context.Context, conn duck.Connection, columns []columnInfo) {
	for i := range columns {
		col := &columns[i]
		if !isCategoricalType(col.Type) || shouldSkipColumn(col.Name) {
			continue
		}
		samples, err := f.fetchColumnSamples(ctx, conn, col.Table, col.Name)
		if err != nil {
			f.log.Debug("assistant: sample fetch failed", "table", col.Table, "column", col.Name, "error", err)
			continue
		}
		if len(samples) > 0 && len(samples) <= maxSampleValues {
			col.SampleValues = samples
		}
	}
}

func (f *WarehouseSchemaFetcher) fetchColumnSamples(ctx context.Context, conn duck.Connection, table, column string) ([]string, error) {
	// Identifiers come from information_schema, not from user input, but
	// quote them anyway since fact columns carry arbitrary names.
	query := fmt.Sprintf(
		`SELECT DISTINCT "%s" FROM "%s"."%s" WHERE "%s" IS NOT NULL AND "%s" <> '' ORDER BY 1 LIMIT %d`,
		column, f.db.Schema(), table, column, column, sampleFetchLimit,
	)

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v != "" {
			samples = append(samples, v)
		}
	}
	return samples, rows.Err()
}

func formatSchema(columns []columnInfo, views map[string]string) string {
	var sb strings.Builder
	currentTable := ""

	for _, col := range columns {
		if col.Table != currentTable {
			if currentTable != "" {
				if def, ok := views[currentTable]; ok {
					sb.WriteString("  Definition: " + def + "\n")
				}
				sb.WriteString("\n")
			}
			currentTable = col.Table
			if _, isView := views[col.Table]; isView {
				sb.WriteString(col.Table + " (VIEW):\n")
			} else {
				sb.WriteString(col.Table + ":\n")
			}
		}
		if len(col.SampleValues) > 0 {
			sb.WriteString("  - " + col.Name + " (" + col.Type + ") values: " + strings.Join(col.SampleValues, ", ") + "\n")
		} else {
			sb.WriteString("  - " + col.Name + " (" + col.Type + ")\n")
		}
	}
	if def, ok := views[currentTable]; ok {
		sb.WriteString("  Definition: " + def + "\n")
	}

	return sb.String()
}
