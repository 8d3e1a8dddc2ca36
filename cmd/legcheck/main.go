package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"mobility-rollups/internal/config"
	"mobility-rollups/internal/models"
	"mobility-rollups/internal/services"
	"mobility-rollups/internal/transform"
	"mobility-rollups/pkg/logging"
)

// stageCounts is what one dry run reports.
type stageCounts struct {
	Read         int
	Rejected     int
	Duplicates   int
	Clean        int
	InWindow     int
	Trips        int
	Transfers    int
	Window       models.Window
	RejectFields map[string]int
	Rows         models.RowCounts
}

func main() {
	input := flag.String("input", "", "CSV export of raw leg records (required)")
	windowDays := flag.Int("window-days", 31, "Trailing window in days")
	regionPrefix := flag.String("region-prefix", "", "Only legs whose origin and destination zones start with this prefix")
	asOf := flag.String("as-of", "", "Window end date YYYY-MM-DD (exclusive); defaults to the day after the newest leg")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: legcheck -input legs.csv [-window-days N] [-region-prefix P] [-as-of YYYY-MM-DD]")
		os.Exit(2)
	}

	// Zone length and service rules come from the usual config when it loads; the
	// database settings are never used.
	cfg := config.Defaults().Refresh
	if loaded, err := config.LoadConfig(); err == nil {
		cfg = loaded.Refresh
	}

	logger := logging.NewStructuredLogger("mobility-legcheck", "1.0.0", logging.WarnLevel)
	ctx := context.Background()

	f, err := os.Open(*input)
	if err != nil {
		logger.Fatal(ctx, "[LEGCHECK_ERROR] Failed to open input", logging.Fields{"input": *input}, err)
	}
	defer f.Close()

	records, err := readRawLegs(f)
	if err != nil {
		logger.Fatal(ctx, "[LEGCHECK_ERROR] Failed to parse input", logging.Fields{"input": *input}, err)
	}

	var end *time.Time
	if *asOf != "" {
		d, err := time.Parse("2006-01-02", *asOf)
		if err != nil {
			logger.Fatal(ctx, "[LEGCHECK_ERROR] Invalid -as-of date", logging.Fields{"as_of": *asOf}, err)
		}
		end = &d
	}

	counts, err := dryRun(ctx, records, cfg, *windowDays, strings.TrimSpace(*regionPrefix), end)
	if err != nil {
		logger.Fatal(ctx, "[LEGCHECK_ERROR] Dry run failed", logging.Fields{}, err)
	}
	printCounts(counts)
}

// dryRun pushes records through every refresh stage in memory. A nil end places the window
// right after the newest valid leg.
func dryRun(ctx context.Context, records []models.RawLegRecord, cfg config.RefreshConfig, windowDays int, regionPrefix string, end *time.Time) (*stageCounts, error) {
	c := &stageCounts{Read: len(records), RejectFields: make(map[string]int)}

	seen := make(map[string]struct{}, len(records))
	clean := make([]models.CleanLeg, 0, len(records))
	var newest time.Time
	for i := range records {
		leg, err := records[i].ToCleanLeg()
		if err != nil {
			c.Rejected++
			if ve, ok := err.(*models.ValidationError); ok {
				c.RejectFields[ve.Field]++
			}
			continue
		}
		if _, dup := seen[leg.RowHash]; dup {
			c.Duplicates++
			continue
		}
		seen[leg.RowHash] = struct{}{}
		clean = append(clean, *leg)
		if leg.TripDate.After(newest) {
			newest = leg.TripDate
		}
	}
	c.Clean = len(clean)

	now := newest.AddDate(0, 0, 1)
	if end != nil {
		now = *end
	}
	c.Window = transform.Window(windowDays, now, time.UTC)

	inWindow := transform.FilterWindow(clean, c.Window, cfg.ZoneCodeLength, regionPrefix)
	c.InWindow = len(inWindow)

	classified := transform.NewClassifier(services.ServiceRules(cfg.ServiceRules)).Classify(transform.Sequence(inWindow))
	for i := range classified {
		if classified[i].Position == 1 {
			c.Trips++
		}
		if classified[i].IsTransfer {
			c.Transfers++
		}
	}

	set, err := transform.AggregateAll(ctx, classified)
	if err != nil {
		return nil, err
	}
	set.Window = c.Window
	transform.Materialize(set)
	c.Rows = set.RowCounts()

	return c, nil
}

func printCounts(c *stageCounts) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("LEG CHECK (dry run, nothing written)")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Records read:        %d\n", c.Read)
	fmt.Printf("Rejected:            %d\n", c.Rejected)
	fmt.Printf("Duplicate hashes:    %d\n", c.Duplicates)
	fmt.Printf("Clean legs:          %d\n", c.Clean)
	fmt.Printf("Window:              %s .. %s (exclusive)\n", c.Window.Start.Format("2006-01-02"), c.Window.End.Format("2006-01-02"))
	fmt.Printf("Legs in window:      %d\n", c.InWindow)
	fmt.Printf("Trips:               %d\n", c.Trips)
	fmt.Printf("Transfer legs:       %d\n", c.Transfers)

	if len(c.RejectFields) > 0 {
		fmt.Println("\nRejects by field:")
		for _, k := range sortedKeys(c.RejectFields) {
			fmt.Printf("  %-28s %d\n", k, c.RejectFields[k])
		}
	}

	fmt.Println("\nRows per table:")
	for _, k := range sortedKeys(c.Rows) {
		fmt.Printf("  %-40s %d\n", k, c.Rows[k])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
