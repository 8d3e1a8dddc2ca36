package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"mobility-rollups/internal/models"
	"mobility-rollups/pkg/database"
	"mobility-rollups/pkg/logging"
	"mobility-rollups/pkg/metrics"
)

// RollupRepository replaces aggregate and snapshot tables and serves snapshot reads
type RollupRepository interface {
	// Write side
	ReplaceRollups(ctx context.Context, set *models.RollupSet) error
	RecordRefreshRun(ctx context.Context, run *models.RefreshRun) error

	// Read side
	LatestRefreshRun(ctx context.Context) (*models.RefreshRun, error)
	ListFlowSnapshot(ctx context.Context, filter SnapshotFilter) ([]models.FlowSnapshotRow, int, error)
	ListHotspotSnapshot(ctx context.Context, filter SnapshotFilter) ([]models.HotspotSnapshotRow, int, error)
	ListWalkEgressSnapshot(ctx context.Context, filter SnapshotFilter) ([]models.WalkEgressSnapshotRow, int, error)
}

// SnapshotFilter defines filters for paging through a snapshot table
type SnapshotFilter struct {
	TripDate *time.Time
	Limit    int
	Offset   int
}

const nextSuffix, oldSuffix = "__next", "__old"

var (
	flowColumns = []string{
		"trip_date", "origin_zone", "dest_zone", "service_group", "provider",
		"leg_count", "trip_count", "transfer_trip_count",
		"avg_manhattan_mi", "avg_euclidean_mi",
		"mean_start_lat", "mean_start_lon", "mean_end_lat", "mean_end_lon",
		"avg_duration_min",
	}
	flowRouteColumns    = append(append([]string{}, flowColumns...), "route_label")
	flowSnapshotColumns = append([]string{"object_id"}, flowRouteColumns...)

	hotspotColumns = []string{
		"trip_date", "hotspot_key", "hotspot_hash", "provider", "stop_name",
		"transfer_events", "transfer_trips", "mean_lat", "mean_lon", "avg_duration_min",
	}
	hotspotRouteColumns    = append(append([]string{}, hotspotColumns...), "to_route_label", "transfer_type")
	hotspotPairColumns     = append(append([]string{}, hotspotColumns...), "from_route_label", "to_route_label", "transfer_type")
	hotspotSnapshotColumns = append([]string{"object_id"}, hotspotRouteColumns...)

	originColumns = []string{
		"trip_date", "origin_zone", "total_legs", "transfer_legs", "trip_count",
		"transfer_trip_count", "pct_trips_with_transfer", "avg_duration_min",
	}

	walkColumns = []string{
		"trip_date", "direction", "related_service_group", "related_route_label", "stop_name",
		"walk_legs", "trip_count", "avg_duration_min", "avg_manhattan_mi", "avg_euclidean_mi",
		"mean_start_lat", "mean_start_lon", "mean_end_lat", "mean_end_lon",
	}
	walkSnapshotColumns = append([]string{"object_id"}, walkColumns...)

	runColumns = []string{
		"run_id", "started_at", "finished_at", "window_start", "window_end", "region_prefix",
		"legs_in_window", "status", "error_message", "row_counts",
	}
)

func flowValues(f *models.FlowAggregate) []interface{} {
	return []interface{}{
		f.TripDate, f.OriginZone, f.DestZone, f.ServiceGroup, f.Provider,
		f.LegCount, f.TripCount, f.TransferTripCount,
		f.AvgManhattanMi, f.AvgEuclideanMi,
		f.MeanStartLat, f.MeanStartLon, f.MeanEndLat, f.MeanEndLon,
		f.AvgDurationMin,
	}
}

func hotspotValues(h *models.HotspotAggregate) []interface{} {
	return []interface{}{
		h.TripDate, h.HotspotKey, h.HotspotHash, h.Provider, h.StopName,
		h.TransferEvents, h.TransferTrips, h.MeanLat, h.MeanLon, h.AvgDurationMin,
	}
}

func walkValues(w *models.WalkAccessEgress) []interface{} {
	return []interface{}{
		w.TripDate, w.Direction, w.RelatedServiceGroup, w.RelatedRouteLabel, w.StopName,
		w.WalkLegs, w.TripCount, w.AvgDurationMin, w.AvgManhattanMi, w.AvgEuclideanMi,
		w.MeanStartLat, w.MeanStartLon, w.MeanEndLat, w.MeanEndLon,
	}
}

// rollupSpecs lists every destination table in write order.
func rollupSpecs(set *models.RollupSet) []copySpec {
	return []copySpec{
		{
			table: models.TableFlows, columns: flowColumns, rows: len(set.Flows),
			row: func(i int) []interface{} { return flowValues(&set.Flows[i]) },
		},
		{
			table: models.TableFlowRoutes, columns: flowRouteColumns, rows: len(set.FlowRoutes),
			row: func(i int) []interface{} {
				r := &set.FlowRoutes[i]
				return append(flowValues(&r.FlowAggregate), r.RouteLabel)
			},
		},
		{
			table: models.TableHotspots, columns: hotspotColumns, rows: len(set.Hotspots),
			row: func(i int) []interface{} { return hotspotValues(&set.Hotspots[i]) },
		},
		{
			table: models.TableHotspotRoutes, columns: hotspotRouteColumns, rows: len(set.HotspotRoutes),
			row: func(i int) []interface{} {
				r := &set.HotspotRoutes[i]
				return append(hotspotValues(&r.HotspotAggregate), r.ToRouteLabel, r.TransferType)
			},
		},
		{
			table: models.TableHotspotRoutePairs, columns: hotspotPairColumns, rows: len(set.HotspotRoutePairs),
			row: func(i int) []interface{} {
				r := &set.HotspotRoutePairs[i]
				return append(hotspotValues(&r.HotspotAggregate), r.FromRouteLabel, r.ToRouteLabel, r.TransferType)
			},
		},
		{
			table: models.TableOriginSummary, columns: originColumns, rows: len(set.Origins),
			row: func(i int) []interface{} {
				o := &set.Origins[i]
				return []interface{}{
					o.TripDate, o.OriginZone, o.TotalLegs, o.TransferLegs, o.TripCount,
					o.TransferTripCount, o.PctTripsWithTransfer, o.AvgDurationMin,
				}
			},
		},
		{
			table: models.TableWalkAccessEgress, columns: walkColumns, rows: len(set.WalkAccessEgress),
			row: func(i int) []interface{} { return walkValues(&set.WalkAccessEgress[i]) },
		},
		{
			table: models.TableFlowSnapshot, columns: flowSnapshotColumns, rows: len(set.FlowSnapshot),
			primaryKey: "object_id",
			row: func(i int) []interface{} {
				r := &set.FlowSnapshot[i]
				return append([]interface{}{r.ObjectID}, append(flowValues(&r.FlowAggregate), r.RouteLabel)...)
			},
		},
		{
			table: models.TableHotspotSnapshot, columns: hotspotSnapshotColumns, rows: len(set.HotspotSnapshot),
			primaryKey: "object_id",
			row: func(i int) []interface{} {
				r := &set.HotspotSnapshot[i]
				vals := append(hotspotValues(&r.HotspotAggregate), r.ToRouteLabel, r.TransferType)
				return append([]interface{}{r.ObjectID}, vals...)
			},
		},
		{
			table: models.TableWalkEgressSnapshot, columns: walkSnapshotColumns, rows: len(set.WalkEgressSnapshot),
			primaryKey: "object_id",
			row: func(i int) []interface{} {
				r := &set.WalkEgressSnapshot[i]
				return append([]interface{}{r.ObjectID}, walkValues(&r.WalkAccessEgress)...)
			},
		},
	}
}

type rollupRepository struct {
	db      *database.PostgresDB
	schema  string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewRollupRepository creates a rollup repository over tables in schema
func NewRollupRepository(db *database.PostgresDB, schema string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) RollupRepository {
	return &rollupRepository{
		db:      db,
		schema:  schema,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ReplaceRollups swaps every aggregate and snapshot table for a freshly loaded copy inside
// one transaction. Each table is built as <name>__next, then renamed over the live table
// and the previous version dropped. Readers see either the old set or the new one.
//
// A transaction-scoped advisory lock keyed on the schema serializes refreshes; if it is
// held, ErrRefreshLocked is returned without touching anything.
func (r *rollupRepository) ReplaceRollups(ctx context.Context, set *models.RollupSet) error {
	specs := rollupSpecs(set)
	timer := time.Now()

	err := r.db.WithTx(ctx, "replace_rollups", func(tx *sqlx.Tx) error {
		var locked bool
		if err := tx.GetContext(ctx, &locked, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, r.schema+".rollups"); err != nil {
			return fmt.Errorf("failed to acquire rollup lock: %w", err)
		}
		if !locked {
			return ErrRefreshLocked
		}

		for _, spec := range specs {
			if err := r.buildNext(ctx, tx, spec); err != nil {
				return err
			}
		}

		for _, spec := range specs {
			if err := r.swap(ctx, tx, spec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRefreshLocked) {
			return err
		}
		return fmt.Errorf("failed to replace rollups: %w", err)
	}

	for _, spec := range specs {
		r.metrics.RecordTableRows(spec.table, spec.rows)
	}

	r.logger.Info(ctx, "[REPO_REPLACE_ROLLUPS] Rollup tables replaced", logging.Fields{
		"tables":      len(specs),
		"duration_ms": time.Since(timer).Milliseconds(),
	})

	return nil
}

func (r *rollupRepository) buildNext(ctx context.Context, tx *sqlx.Tx, spec copySpec) error {
	live := qualified(r.schema, spec.table)
	next := qualified(r.schema, spec.table+nextSuffix)

	stmts := []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, next),
		fmt.Sprintf(`CREATE TABLE %s (LIKE %s INCLUDING DEFAULTS INCLUDING CONSTRAINTS)`, next, live),
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to prepare %s: %w", spec.table+nextSuffix, err)
		}
	}

	return copyRows(ctx, tx, r.schema, spec.table+nextSuffix, spec)
}

func (r *rollupRepository) swap(ctx context.Context, tx *sqlx.Tx, spec copySpec) error {
	old := spec.table + oldSuffix
	stmts := []string{
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, qualified(r.schema, spec.table), pqIdent(old)),
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, qualified(r.schema, spec.table+nextSuffix), pqIdent(spec.table)),
		fmt.Sprintf(`DROP TABLE %s`, qualified(r.schema, old)),
	}
	if spec.primaryKey != "" {
		stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s)`,
			qualified(r.schema, spec.table), pqIdent(spec.table+"_pkey"), pqIdent(spec.primaryKey)))
	}

	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to swap %s: %w", spec.table, err)
		}
	}
	return nil
}

// RecordRefreshRun inserts or completes a refresh history row
func (r *rollupRepository) RecordRefreshRun(ctx context.Context, run *models.RefreshRun) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			legs_in_window = EXCLUDED.legs_in_window,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			row_counts = EXCLUDED.row_counts
	`, qualified(r.schema, models.TableRefreshRuns), strings.Join(runColumns, ", "))

	_, err := r.db.ExecContext(ctx, "record_refresh_run", query,
		run.RunID,
		run.StartedAt,
		run.FinishedAt,
		run.WindowStart,
		run.WindowEnd,
		run.RegionPrefix,
		run.LegsInWindow,
		run.Status,
		run.ErrorMessage,
		run.RowCounts,
	)
	if err != nil {
		return fmt.Errorf("failed to record refresh run: %w", err)
	}

	return nil
}

// LatestRefreshRun returns the most recently started refresh
func (r *rollupRepository) LatestRefreshRun(ctx context.Context) (*models.RefreshRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY started_at DESC LIMIT 1`,
		strings.Join(runColumns, ", "), qualified(r.schema, models.TableRefreshRuns))

	var run models.RefreshRun
	err := r.db.GetContext(ctx, "latest_refresh_run", &run, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "refresh_run", ID: "latest"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest refresh run: %w", err)
	}

	return &run, nil
}

func (r *rollupRepository) ListFlowSnapshot(ctx context.Context, filter SnapshotFilter) ([]models.FlowSnapshotRow, int, error) {
	var rows []models.FlowSnapshotRow
	total, err := r.listSnapshot(ctx, models.TableFlowSnapshot, flowSnapshotColumns, filter, &rows)
	return rows, total, err
}

func (r *rollupRepository) ListHotspotSnapshot(ctx context.Context, filter SnapshotFilter) ([]models.HotspotSnapshotRow, int, error) {
	var rows []models.HotspotSnapshotRow
	total, err := r.listSnapshot(ctx, models.TableHotspotSnapshot, hotspotSnapshotColumns, filter, &rows)
	return rows, total, err
}

func (r *rollupRepository) ListWalkEgressSnapshot(ctx context.Context, filter SnapshotFilter) ([]models.WalkEgressSnapshotRow, int, error) {
	var rows []models.WalkEgressSnapshotRow
	total, err := r.listSnapshot(ctx, models.TableWalkEgressSnapshot, walkSnapshotColumns, filter, &rows)
	return rows, total, err
}

// snapshotQuery is the count and page SQL for one snapshot listing.
type snapshotQuery struct {
	count     string
	countArgs []interface{}
	page      string
	pageArgs  []interface{}
}

func buildSnapshotQuery(schema, table string, columns []string, filter SnapshotFilter) snapshotQuery {
	where := ""
	args := []interface{}{}
	argNum := 1

	if filter.TripDate != nil {
		where = fmt.Sprintf(" WHERE trip_date = $%d", argNum)
		args = append(args, *filter.TripDate)
		argNum++
	}

	from := qualified(schema, table) + where
	return snapshotQuery{
		count:     "SELECT COUNT(*) FROM " + from,
		countArgs: args,
		page: fmt.Sprintf("SELECT %s FROM %s ORDER BY object_id LIMIT $%d OFFSET $%d",
			strings.Join(columns, ", "), from, argNum, argNum+1),
		pageArgs: append(append([]interface{}{}, args...), filter.Limit, filter.Offset),
	}
}

// listSnapshot pages through a snapshot table in object id order. The count and the page
// share one read-only snapshot so a concurrent swap cannot split them.
func (r *rollupRepository) listSnapshot(ctx context.Context, table string, columns []string, filter SnapshotFilter, dest interface{}) (int, error) {
	q := buildSnapshotQuery(r.schema, table, columns, filter)

	var totalCount int
	err := r.db.WithReadTx(ctx, "list_"+table, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &totalCount, q.count, q.countArgs...); err != nil {
			return fmt.Errorf("failed to count %s: %w", table, err)
		}
		if err := tx.SelectContext(ctx, dest, q.page, q.pageArgs...); err != nil {
			return fmt.Errorf("failed to list %s: %w", table, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return totalCount, nil
}
