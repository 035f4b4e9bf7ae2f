package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plenariolabs/plenario/pkg/indexer/snapshot"
	"github.com/plenariolabs/plenario/pkg/logger"
)

type SnapshotCmd struct{}

func NewSnapshotCmd() *SnapshotCmd {
	return &SnapshotCmd{}
}

func (c *SnapshotCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Move warehouse snapshots between environments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(c.fetchCommand(), c.publishCommand())
	return cmd
}

func (c *SnapshotCmd) fetchCommand() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download a published warehouse snapshot to the --db path",
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

			fetcher, err := snapshot.NewFetcher(snapshot.FetcherConfig{
				Logger:   log,
				URL:      url,
				DestPath: dbPath,
			})
			if err != nil {
				return fmt.Errorf("failed to create fetcher: %w", err)
			}
			return fetcher.Fetch(ctx)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "URL of the snapshot file (a checksum at URL + \".sha256\" is verified when present)")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func (c *SnapshotCmd) publishCommand() *cobra.Command {
	var bucket, key string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload the warehouse file at --db to S3-compatible storage",
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

			if key == "" {
				key = path.Base(dbPath)
			}

			publisher, err := snapshot.NewPublisher(ctx, snapshot.PublisherConfigFromEnv(log, bucket))
			if err != nil {
				return fmt.Errorf("failed to create publisher: %w", err)
			}
			url, err := publisher.Publish(ctx, dbPath, key)
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	}

	cmd.Flags().StringVar(&bucket, "bucket", "", "bucket to publish to (credentials and endpoint come from S3_* or AWS_* env vars)")
	cmd.Flags().StringVar(&key, "key", "", "object key (default: the base name of the --db path)")
	_ = cmd.MarkFlagRequired("bucket")
	return cmd
}
