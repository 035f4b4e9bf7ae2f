package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plenariolabs/plenario/pkg/duck"
)

// StatusResponse reports warehouse health and freshness.
type StatusResponse struct {
	// Overall status
	Status    string `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp string `json:"timestamp"`

	// System health
	System SystemHealth `json:"system"`

	// Warehouse contents
	Warehouse WarehouseSummary `json:"warehouse"`

	// Ingest freshness
	Ingest IngestHealth `json:"ingest"`

	Error string `json:"error,omitempty"`
}

type SystemHealth struct {
	Database     bool   `json:"database"`
	DatabaseMsg  string `json:"database_msg,omitempty"`
	LastIngested string `json:"last_ingested,omitempty"` // Most recent finished ingest run
}

type WarehouseSummary struct {
	// Headline counts
	Parlamentares   int64 `json:"parlamentares"`
	Proposicoes     int64 `json:"proposicoes"`
	NormasJuridicas int64 `json:"normas_juridicas"`
	Votacoes        int64 `json:"votacoes"`
	Presencas       int64 `json:"presencas"`

	// Row counts per catalog relation
	RowsByTable map[string]int64 `json:"rows_by_table"`
}

type IngestHealth struct {
	// Most recent run per table
	Runs []IngestRunInfo `json:"runs"`

	// Tables whose last finished run is older than the staleness threshold
	StaleTables []string `json:"stale_tables"`

	// Tables whose latest run never finished: crashed or still ingesting
	UnfinishedRuns []string `json:"unfinished_runs"`
}

type IngestRunInfo struct {
	Table          string `json:"table"`
	RunID          string `json:"run_id"`
	SnapshotTS     string `json:"snapshot_ts"`
	StartedAt      string `json:"started_at"`
	FinishedAt     string `json:"finished_at,omitempty"`
	RowsInSnapshot int64  `json:"rows_in_snapshot"`
	Inserts        int64  `json:"inserts"`
	Updates        int64  `json:"updates"`
	Deletes        int64  `json:"deletes"`
}

// Snapshots are daily, so a table without a finished run for two days has
// missed a refresh.
const ingestStaleAfter = 48 * time.Hour

func (s *Server) getStatusHandler(w http.ResponseWriter, r *http.Request) {
	if s.status != nil {
		if cached := s.status.Get(); cached != nil {
			s.writeJSON(w, cached)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	s.writeJSON(w, s.fetchStatus(ctx))
}

// fetchStatus collects the status signals. Query failures degrade the
// response rather than failing it; a status page that errors out on a
// broken warehouse defeats its purpose.
func (s *Server) fetchStatus(ctx context.Context) *StatusResponse {
	resp := &StatusResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Warehouse: WarehouseSummary{
			RowsByTable: make(map[string]int64),
		},
		Ingest: IngestHealth{
			Runs:           []IngestRunInfo{},
			StaleTables:    []string{},
			UnfinishedRuns: []string{},
		},
	}

	// Each goroutine writes its own response fields, so no locking.
	g, gctx := errgroup.WithContext(ctx)

	// Check database connectivity
	g.Go(func() error {
		pingCtx, pingCancel := context.WithTimeout(gctx, 2*time.Second)
		defer pingCancel()
		if err := s.pingWarehouse(pingCtx); err != nil {
			resp.System.Database = false
			resp.System.DatabaseMsg = err.Error()
		} else {
			resp.System.Database = true
		}
		return nil
	})

	// Latest ingest run per table
	g.Go(func() error {
		runs, err := s.fetchIngestRuns(gctx)
		if err != nil {
			return err
		}
		resp.Ingest.Runs = runs
		return nil
	})

	// Live row counts
	g.Go(func() error {
		counts, err := s.tableRowCounts(gctx)
		if err != nil {
			return err
		}
		resp.Warehouse.RowsByTable = counts
		return nil
	})

	if err := g.Wait(); err != nil {
		s.log.Error("api: status query error", "error", err)
		resp.Error = err.Error()
	}

	s.summarizeStatus(resp)
	return resp
}

func (s *Server) pingWarehouse(ctx context.Context) error {
	conn, err := s.cfg.DB.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var one int
	return conn.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// fetchIngestRuns returns the most recent ingest run for each table.
func (s *Server) fetchIngestRuns(ctx context.Context) ([]IngestRunInfo, error) {
	conn, err := s.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	existing, err := existingRelations(ctx, conn)
	if err != nil {
		return nil, err
	}
	if _, ok := existing[duck.IngestRunsTable]; !ok {
		// Nothing ingested yet
		return []IngestRunInfo{}, nil
	}

	db := s.cfg.DB
	query := fmt.Sprintf(`
		SELECT table_name, run_id, snapshot_ts, started_at, finished_at,
			rows_in_snapshot, inserts, updates, deletes
		FROM %s.%s.%s
		QUALIFY row_number() OVER (PARTITION BY table_name ORDER BY started_at DESC) = 1
		ORDER BY table_name`,
		db.Catalog(), db.Schema(), duck.IngestRunsTable)

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingest runs: %w", err)
	}
	defer rows.Close()

	runs := []IngestRunInfo{}
	for rows.Next() {
		var run IngestRunInfo
		var snapshotTS, startedAt time.Time
		var finishedAt sql.NullTime
		var rowsInSnapshot, inserts, updates, deletes sql.NullInt64
		if err := rows.Scan(&run.Table, &run.RunID, &snapshotTS, &startedAt, &finishedAt,
			&rowsInSnapshot, &inserts, &updates, &deletes); err != nil {
			return nil, fmt.Errorf("failed to scan ingest run: %w", err)
		}
		run.SnapshotTS = snapshotTS.UTC().Format(time.RFC3339)
		run.StartedAt = startedAt.UTC().Format(time.RFC3339)
		if finishedAt.Valid {
			run.FinishedAt = finishedAt.Time.UTC().Format(time.RFC3339)
		}
		run.RowsInSnapshot = rowsInSnapshot.Int64
		run.Inserts = inserts.Int64
		run.Updates = updates.Int64
		run.Deletes = deletes.Int64
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// summarizeStatus fills the derived fields from the collected signals.
func (s *Server) summarizeStatus(resp *StatusResponse) {
	counts := resp.Warehouse.RowsByTable
	resp.Warehouse.Parlamentares = counts["dim_parlamentar"]
	resp.Warehouse.Proposicoes = counts["dim_proposicao"]
	resp.Warehouse.NormasJuridicas = counts["dim_norma_juridica"]
	resp.Warehouse.Votacoes = counts["fat_votacao"]
	resp.Warehouse.Presencas = counts["fat_presenca_reuniao"]

	now := time.Now().UTC()
	var lastFinished time.Time
	for _, run := range resp.Ingest.Runs {
		if run.FinishedAt == "" {
			resp.Ingest.UnfinishedRuns = append(resp.Ingest.UnfinishedRuns, run.Table)
			continue
		}
		finished, err := time.Parse(time.RFC3339, run.FinishedAt)
		if err != nil {
			continue
		}
		if finished.After(lastFinished) {
			lastFinished = finished
		}
		if now.Sub(finished) > ingestStaleAfter {
			resp.Ingest.StaleTables = append(resp.Ingest.StaleTables, run.Table)
		}
	}
	if !lastFinished.IsZero() {
		resp.System.LastIngested = lastFinished.Format(time.RFC3339)
	}

	resp.Status = determineOverallStatus(resp)
}

func determineOverallStatus(resp *StatusResponse) string {
	if !resp.System.Database {
		return "unhealthy"
	}
	if resp.Error != "" {
		return "degraded"
	}
	if len(resp.Ingest.Runs) == 0 {
		// Reachable but never ingested
		return "degraded"
	}
	if len(resp.Ingest.StaleTables) > 0 || len(resp.Ingest.UnfinishedRuns) > 0 {
		return "degraded"
	}
	return "healthy"
}
