package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "net/http/pprof"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/plenariolabs/plenario/internal/mcp/server"
	"github.com/plenariolabs/plenario/internal/mcp/server/metrics"
	"github.com/plenariolabs/plenario/pkg/assistant"
	"github.com/plenariolabs/plenario/pkg/catalog/almg"
	"github.com/plenariolabs/plenario/pkg/duck"
	"github.com/plenariolabs/plenario/pkg/logger"
	"github.com/plenariolabs/plenario/pkg/querier"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8010"
	defaultMetricsAddr = "0.0.0.0:0"
	defaultDBPath      = ".tmp/plenario/plenario.duckdb"
	defaultSchemaTTL   = 5 * time.Minute

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
	enablePprofFlag := flag.Bool("enable-pprof", false, "enable pprof server")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP server listen address")

	// Database configuration
	dbPathFlag := flag.String("db", defaultDBPath, "Path to the warehouse DuckDB file (or set WAREHOUSE_DB env var)")
	readOnlyFlag := flag.Bool("read-only", false, "open the warehouse read-only (required when the indexer owns the file)")
	schemaTTLFlag := flag.Duration("schema-ttl", defaultSchemaTTL, "how long the rendered schema overview is cached for the schema tool")

	flag.Parse()

	// Override flags with environment variables if set
	if envDBPath := os.Getenv(dbPathEnvVar); envDBPath != "" {
		*dbPathFlag = envDBPath
	}

	log := logger.New(*verboseFlag)

	// Set up signal handling with detailed logging
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

	if *enablePprofFlag {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			err := http.ListenAndServe("localhost:6060", nil)
			if err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

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

	// Parse allowed tokens from environment variable (comma-separated)
	// Auth can be explicitly disabled with MCP_AUTH_DISABLED=true
	var allowedTokens []string
	authDisabled := os.Getenv("MCP_AUTH_DISABLED") == "true"

	if authDisabled {
		log.Info("mcp server: authentication explicitly disabled")
	} else if tokensEnv := os.Getenv("MCP_ALLOWED_TOKENS"); tokensEnv != "" {
		for token := range strings.SplitSeq(tokensEnv, ",") {
			token = strings.TrimSpace(token)
			if token != "" {
				allowedTokens = append(allowedTokens, token)
			}
		}
		if len(allowedTokens) > 0 {
			log.Info("mcp server: token authentication enabled", "token_count", len(allowedTokens))
		}
	} else {
		log.Info("mcp server: authentication disabled (no tokens configured)")
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

	q, err := querier.New(querier.Config{
		Logger: log,
		DB:     db,
		Schema: &almg.Schema,
	})
	if err != nil {
		return fmt.Errorf("failed to create querier: %w", err)
	}

	srv, err := server.New(ctx, server.Config{
		Logger:        log,
		Querier:       q,
		SchemaFetcher: assistant.NewWarehouseSchemaFetcher(log, db, *schemaTTLFlag),
		Version:       version,
		ListenAddr:    *listenAddrFlag,
		AllowedTokens: allowedTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		err := srv.Run(ctx)
		if err != nil {
			serverErrCh <- err
		}
	}()

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
