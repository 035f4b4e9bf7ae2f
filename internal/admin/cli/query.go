package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/plenariolabs/plenario/pkg/catalog/almg"
	"github.com/plenariolabs/plenario/pkg/duck"
	"github.com/plenariolabs/plenario/pkg/logger"
	"github.com/plenariolabs/plenario/pkg/querier"
)

type QueryCmd struct{}

func NewQueryCmd() *QueryCmd {
	return &QueryCmd{}
}

func (c *QueryCmd) Command() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a query against the warehouse and print the result as a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := rootVerbose(cmd)
			if err != nil {
				return err
			}
			dbPath, err := rootString(cmd, "db")
			if err != nil {
				return err
			}

			log := logger.New(verbose)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
			defer timeoutCancel()

			// Read-only keeps the command safe to run beside a live indexer.
			db, err := duck.OpenReadOnly(ctx, dbPath, log)
			if err != nil {
				return fmt.Errorf("failed to open warehouse database: %w", err)
			}
			defer db.Close()

			q, err := querier.New(querier.Config{
				Logger: log,
				DB:     db,
				Schema: &almg.Schema,
			})
			if err != nil {
				return fmt.Errorf("failed to create querier: %w", err)
			}

			resp, err := q.Query(ctx, args[0])
			if err != nil {
				return err
			}

			printResponse(resp)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "query timeout")
	return cmd
}

func printResponse(resp querier.QueryResponse) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(resp.Columns)

	for _, row := range resp.Rows {
		cells := make([]string, len(resp.Columns))
		for i, col := range resp.Columns {
			cells[i] = formatValue(row[col])
		}
		table.Append(cells)
	}
	table.Render()
	fmt.Printf("(%d rows)\n", resp.Count)
}

func formatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return "NULL"
	case string:
		return value
	case time.Time:
		return value.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", value)
	}
}
