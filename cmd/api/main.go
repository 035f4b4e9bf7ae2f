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

	_ "net/http/pprof"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/plenariolabs/plenario/internal/api"
	"github.com/plenariolabs/plenario/internal/api/metrics"
	"github.com/plenariolabs/plenario/pkg/assistant"
	"github.com/plenariolabs/plenario/pkg/catalog"
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
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
	defaultDBPath      = ".tmp/plenario/plenario.duckdb"

	// pipelineMaxTokens is the per-call response budget of the pipeline's
	// LLM client; completeMaxTokens bounds /api/complete, which serves
	// one-shot helper completions, not full pipeline answers.
	pipelineMaxTokens = 4096
	completeMaxTokens = 1024

	dbPathEnvVar         = "WAREHOUSE_DB"
	allowedOriginsEnvVar = "ALLOWED_ORIGINS"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	enablePprofFlag := flag.Bool("enable-pprof", false, "enable pprof server")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP server listen address")

	// Database configuration
	dbPathFlag := flag.String("db", defaultDBPath, "Path to the warehouse DuckDB file (or set WAREHOUSE_DB env var)")
	readOnlyFlag := flag.Bool("read-only", false, "open the warehouse read-only (required when the indexer owns the file)")

	// CORS configuration
	allowedOriginsFlag := flag.StringSlice("allowed-origins", nil, "Origins allowed by CORS (or set ALLOWED_ORIGINS env var, comma-separated; default: the local web UI dev server)")

	flag.Parse()

	// Override flags with environment variables if set
	if envDBPath := os.Getenv(dbPathEnvVar); envDBPath != "" {
		*dbPathFlag = envDBPath
	}
	if envOrigins := os.Getenv(allowedOriginsEnvVar); envOrigins != "" {
		var origins []string
		for origin := range strings.SplitSeq(envOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		*allowedOriginsFlag = origins
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

	// The LLM provider is optional: without one the API still serves
	// queries, catalog and status, and the chat endpoints explain that no
	// provider is configured.
	var pipeline *assistant.Pipeline
	var completer assistant.LLMClient
	llm, err := assistant.NewLLMClientFromEnv(ctx, log, pipelineMaxTokens)
	if err != nil {
		log.Warn("api: no LLM provider configured, chat endpoints disabled", "error", err)
	} else {
		prompts, err := assistant.LoadPrompts(catalog.Summary(&almg.Schema))
		if err != nil {
			return fmt.Errorf("failed to load prompts: %w", err)
		}
		pipeline, err = assistant.New(&assistant.Config{
			Logger:        log,
			LLM:           llm,
			Querier:       assistant.NewWarehouseQuerier(log, q),
			SchemaFetcher: assistant.NewWarehouseSchemaFetcher(log, db, 0),
			Prompts:       prompts,
		})
		if err != nil {
			return fmt.Errorf("failed to create assistant pipeline: %w", err)
		}
		completer, err = assistant.NewLLMClientFromEnv(ctx, log, completeMaxTokens)
		if err != nil {
			return fmt.Errorf("failed to create completer client: %w", err)
		}
	}

	srv, err := api.New(ctx, api.Config{
		Logger:         log,
		DB:             db,
		Querier:        q,
		Pipeline:       pipeline,
		Completer:      completer,
		Version:        version,
		ListenAddr:     *listenAddrFlag,
		AllowedOrigins: *allowedOriginsFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
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
