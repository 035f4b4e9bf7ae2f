package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/plenariolabs/plenario/pkg/catalog/almg"
	"github.com/plenariolabs/plenario/pkg/duck"
	"github.com/plenariolabs/plenario/pkg/logger"
	"github.com/plenariolabs/plenario/pkg/querier"
	"github.com/plenariolabs/plenario/pkg/querier/metrics"
	"github.com/plenariolabs/plenario/pkg/querier/server"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultHTTPListenAddr     = "0.0.0.0:3011"
	defaultPostgresListenAddr = "0.0.0.0:5432"
	defaultReadHeaderTimeout  = 30 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultMetricsAddr        = "0.0.0.0:8080"
	defaultDBPath             = ".tmp/plenario/plenario.duckdb"

	dbPathEnvVar = "WAREHOUSE_DB"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	httpListenAddrFlag := flag.String("http-listen-addr", defaultHTTPListenAddr, "HTTP server listen address")
	postgresListenAddrFlag := flag.String("postgres-listen-addr", defaultPostgresListenAddr, "PostgreSQL wire protocol server listen address (set to empty string to disable)")
	readHeaderTimeoutFlag := flag.Duration("read-header-timeout", defaultReadHeaderTimeout, "HTTP read header timeout")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", defaultShutdownTimeout, "Server shutdown timeout")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")

	// Database configuration
	dbPathFlag := flag.String("db", defaultDBPath, "Path to the warehouse DuckDB file (or set WAREHOUSE_DB env var)")
	readOnlyFlag := flag.Bool("read-only", false, "open the warehouse read-only (required when the indexer owns the file)")

	flag.Parse()

	// Override flags with environment variables if set
	if envDBPath := os.Getenv(dbPathEnvVar); envDBPath != "" {
		*dbPathFlag = envDBPath
	}

	log := logger.New(*verboseFlag)

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Log which signal was received
	go func() {
		sig := <-sigCh
		log.Info("server: received signal", "signal", sig.String())
		cancel()
	}()

	var metricsServerErrCh = make(chan error, 1)
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				metricsServerErrCh <- err
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				metricsServerErrCh <- err
				return
			}
		}()
	}

	// Open warehouse database
	open := duck.Open
	if *readOnlyFlag {
		open = duck.OpenReadOnly
	}
	db, err := open(ctx, *dbPathFlag, log)
	if err != nil {
		return fmt.Errorf("failed to open warehouse database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close warehouse database", "error", err)
		}
	}()
	log.Info("using warehouse database", "path", *dbPathFlag, "readOnly", *readOnlyFlag)

	// Create HTTP listener
	httpListener, err := net.Listen("tcp", *httpListenAddrFlag)
	if err != nil {
		return fmt.Errorf("failed to create HTTP listener: %w", err)
	}
	defer httpListener.Close()

	// Create PostgreSQL listener (optional)
	var postgresListener net.Listener
	if *postgresListenAddrFlag != "" {
		postgresListener, err = net.Listen("tcp", *postgresListenAddrFlag)
		if err != nil {
			return fmt.Errorf("failed to create PostgreSQL listener: %w", err)
		}
		defer postgresListener.Close()
		log.Info("PostgreSQL wire protocol enabled", "address", *postgresListenAddrFlag)
	} else {
		log.Info("PostgreSQL wire protocol disabled")
	}

	serverCfg := server.Config{
		HTTPListener:      httpListener,
		PostgresListener:  postgresListener,
		ReadHeaderTimeout: *readHeaderTimeoutFlag,
		ShutdownTimeout:   *shutdownTimeoutFlag,
		QuerierConfig: querier.Config{
			Logger: log,
			DB:     db,
			Schema: &almg.Schema,
		},
	}
	if err := serverCfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("failed to load server config from environment: %w", err)
	}

	srv, err := server.New(ctx, serverCfg)
	if err != nil {
		return fmt.Errorf("failed to create querier server: %w", err)
	}

	// Start server
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.Run(ctx)
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info("server: shutting down", "reason", ctx.Err())
		return nil
	case err := <-serverErrCh:
		log.Error("server: server error causing shutdown", "error", err)
		return err
	case err := <-metricsServerErrCh:
		log.Error("server: metrics server error causing shutdown", "error", err)
		return err
	}
}
