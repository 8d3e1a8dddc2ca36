package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"mobility-rollups/internal/config"
	"mobility-rollups/internal/notify"
	"mobility-rollups/internal/repository"
	"mobility-rollups/internal/services"
	"mobility-rollups/pkg/database"
	"mobility-rollups/pkg/logging"
	"mobility-rollups/pkg/metrics"
	"mobility-rollups/pkg/tracing"
)

const version = "1.0.0"

// Exit codes
const (
	exitOK     = 0
	exitFailed = 1
	exitLocked = 75
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitFailed
	}

	windowDays := flag.Int("window-days", cfg.Refresh.WindowDays, "Trailing window in days, ending yesterday")
	regionPrefix := flag.String("region-prefix", cfg.Refresh.RegionPrefix, "Only legs whose origin and destination zones start with this prefix")
	skipLoad := flag.Bool("skip-load", false, "Refresh from the clean store without loading new raw legs")
	flag.Parse()

	cfg.Refresh.WindowDays = *windowDays
	cfg.Refresh.RegionPrefix = strings.TrimSpace(*regionPrefix)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitFailed
	}

	logger := logging.NewStructuredLogger("mobility-refresher", version, logging.ParseLevel(cfg.Logging.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[REFRESHER_START] Starting rollup refresh", logging.Fields{
		"version":       version,
		"window_days":   cfg.Refresh.WindowDays,
		"region_prefix": cfg.Refresh.RegionPrefix,
		"skip_load":     *skipLoad,
		"schema":        cfg.Database.Schema,
	})

	shutdownTracing, err := tracing.InitTracing(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		ServiceName:    "mobility-refresher",
		ServiceVersion: version,
	})
	if err != nil {
		logger.Fatal(ctx, "[REFRESHER_ERROR] Failed to initialize tracing", logging.Fields{}, err)
	}
	defer shutdownTracing(context.Background())

	metricsCollector := metrics.NewCollector("mobility_refresher")

	db, err := database.NewPostgresDB(cfg.Database.Postgres(), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[REFRESHER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	publisher, err := notify.NewPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger, metricsCollector)
	if err != nil {
		logger.Warn(ctx, "[REFRESHER_NOTIFY_DISABLED] NATS unavailable, continuing without notifications", logging.Fields{
			"error": err.Error(),
		})
		publisher = notify.NopPublisher{}
	}
	defer publisher.Close()

	legRepo := repository.NewLegRepository(db, cfg.Database.Schema, logger, metricsCollector)
	rollupRepo := repository.NewRollupRepository(db, cfg.Database.Schema, logger, metricsCollector)

	dedup := services.NewDedupService(legRepo, cfg.Refresh, logger, metricsCollector)
	refresher := services.NewRefreshService(legRepo, rollupRepo, publisher, cfg.Refresh, logger, metricsCollector)

	if !*skipLoad {
		load, err := dedup.LoadIncremental(ctx)
		if err != nil {
			logger.Error(ctx, "[LOAD_ERROR] Incremental load failed", logging.Fields{}, err)
			return exitFailed
		}
		printLoad(load)
	}

	exitCode := exitOK

	result, err := refresher.Refresh(ctx, cfg.Refresh.WindowDays, cfg.Refresh.RegionPrefix)
	if err != nil {
		if errors.Is(err, services.ErrRefreshInProgress) {
			fmt.Println("Another refresh holds the rollup lock; nothing was written.")
			exitCode = exitLocked
		} else {
			fmt.Printf("Refresh failed: %v\n", err)
			exitCode = exitFailed
		}
	} else {
		printRefresh(result)
	}

	logger.Info(ctx, "[REFRESHER_COMPLETE] Refresher finished", logging.Fields{
		"exit_code": exitCode,
	})
	return exitCode
}

func printLoad(r *services.LoadResult) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("DEDUP LOAD")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Total Records:  %d\n", r.Total)
	fmt.Printf("Inserted:       %d\n", r.Inserted)
	fmt.Printf("Discarded:      %d\n", r.Discarded)
	fmt.Printf("Rejected:       %d\n", r.Rejected)
	fmt.Printf("Duration:       %v\n", r.Duration)

	if len(r.Errors) > 0 {
		fmt.Printf("\nRejected records (%d):\n", r.Rejected)
		for i, msg := range r.Errors {
			if i == 10 {
				fmt.Printf("  ... and %d more\n", r.Rejected-10)
				break
			}
			fmt.Printf("  - %s\n", msg)
		}
	}
}

func printRefresh(r *services.RefreshResult) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("REFRESH COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run ID:          %s\n", r.RunID)
	fmt.Printf("Window:          %s .. %s (exclusive)\n", r.Window.Start.Format("2006-01-02"), r.Window.End.Format("2006-01-02"))
	if r.RegionPrefix != "" {
		fmt.Printf("Region Prefix:   %s\n", r.RegionPrefix)
	}
	fmt.Printf("Legs Fetched:    %d\n", r.LegsFetched)
	fmt.Printf("Legs In Window:  %d\n", r.LegsInWindow)
	fmt.Printf("Duration:        %v\n", r.Duration)

	tables := make([]string, 0, len(r.RowCounts))
	for t := range r.RowCounts {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	fmt.Println("\nRows written:")
	for _, t := range tables {
		fmt.Printf("  %-40s %d\n", t, r.RowCounts[t])
	}
}
