package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	_ "net/http/pprof"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/plenariolabs/plenario/pkg/duck"
	"github.com/plenariolabs/plenario/pkg/indexer"
	"github.com/plenariolabs/plenario/pkg/indexer/almg"
	"github.com/plenariolabs/plenario/pkg/indexer/calendar"
	"github.com/plenariolabs/plenario/pkg/indexer/metrics"
	"github.com/plenariolabs/plenario/pkg/indexer/server"
	"github.com/plenariolabs/plenario/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr      = "0.0.0.0:3010"
	defaultMetricsAddr     = "0.0.0.0:0"
	defaultDBPath          = ".tmp/plenario/plenario.duckdb"
	defaultRefreshInterval = 6 * time.Hour
	defaultMaxConcurrency  = 8

	dbPathEnvVar  = "WAREHOUSE_DB"
	baseURLEnvVar = "ALMG_BASE_URL"
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

	// Portal configuration
	baseURLFlag := flag.String("almg-base-url", almg.DefaultBaseURL, "Base URL of the ALMG open data portal (or set ALMG_BASE_URL env var)")
	maxConcurrencyFlag := flag.Int("max-concurrency", defaultMaxConcurrency, "maximum number of concurrent portal page fetches")

	// Indexer configuration
	refreshIntervalFlag := flag.Duration("refresh-interval", defaultRefreshInterval, "interval between warehouse refresh cycles")
	legislaturesFlag := flag.IntSlice("legislature", nil, "legislature numbers to index (default: the current legislature)")
	yearsFlag := flag.IntSlice("year", nil, "years to crawl on the yearly portal endpoints (default: the years of the indexed legislatures, up to today)")

	flag.Parse()

	// Override flags with environment variables if set
	if envDBPath := os.Getenv(dbPathEnvVar); envDBPath != "" {
		*dbPathFlag = envDBPath
	}
	if envBaseURL := os.Getenv(baseURLEnvVar); envBaseURL != "" {
		*baseURLFlag = envBaseURL
	}

	log := logger.New(*verboseFlag)

	legislatures, years, err := resolveScope(*legislaturesFlag, *yearsFlag, time.Now())
	if err != nil {
		return err
	}
	log.Info("indexer: scope resolved", "legislatures", legislatures, "years", years)

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

	portal, err := almg.NewClient(&almg.Config{
		Logger:   log,
		BaseURL:  *baseURLFlag,
		PoolSize: *maxConcurrencyFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create portal client: %w", err)
	}

	log.Info("opening warehouse database", "path", *dbPathFlag)
	db, err := duck.Open(ctx, *dbPathFlag, log)
	if err != nil {
		return fmt.Errorf("failed to open warehouse database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close warehouse database", "error", err)
		}
	}()

	httpListener, err := net.Listen("tcp", *listenAddrFlag)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", *listenAddrFlag, err)
	}

	srv, err := server.New(ctx, server.Config{
		HTTPListener:      httpListener,
		ReadHeaderTimeout: 30 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		IndexerConfig: indexer.Config{
			Logger: log,
			Clock:  clockwork.NewRealClock(),
			DB:     db,
			Portal: portal,

			RefreshInterval: *refreshIntervalFlag,
			Legislatures:    legislatures,
			Years:           years,
		},
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

// resolveScope turns the --legislature and --year flags into the concrete
// index scope. Without flags the current legislature is indexed, with its
// years clipped to today; explicit years are taken as given.
func resolveScope(legislatures, years []int, now time.Time) ([]int, []int, error) {
	cal, err := calendar.Default()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load legislature calendar: %w", err)
	}

	known := cal.Legislatures()
	if len(known) == 0 {
		return nil, nil, fmt.Errorf("no known legislatures")
	}

	if len(legislatures) == 0 {
		current, ok := cal.LegislatureAt(now)
		if !ok {
			// Outside any known term, fall back to the most recent one.
			current = known[len(known)-1]
		}
		legislatures = []int{current.Numero}
	}
	slices.Sort(legislatures)
	legislatures = slices.Compact(legislatures)

	if len(years) == 0 {
		yearSet := make(map[int]struct{})
		for _, numero := range legislatures {
			idx := slices.IndexFunc(known, func(l calendar.Legislature) bool { return l.Numero == numero })
			if idx < 0 {
				return nil, nil, fmt.Errorf("unknown legislature: %d", numero)
			}
			leg := known[idx]
			last := leg.Fim.Year()
			if now.Year() < last {
				last = now.Year()
			}
			for y := leg.Inicio.Year(); y <= last; y++ {
				yearSet[y] = struct{}{}
			}
		}
		for y := range yearSet {
			years = append(years, y)
		}
	}
	slices.Sort(years)
	years = slices.Compact(years)

	if len(years) == 0 {
		return nil, nil, fmt.Errorf("no years to index")
	}
	return legislatures, years, nil
}
