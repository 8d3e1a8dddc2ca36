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

// LegRepository provides access to raw and clean legs and the incremental watermark
type LegRepository interface {
	// Raw side
	FetchRawSince(ctx context.Context, since time.Time) ([]models.RawLegRecord, error)

	// Clean store
	InsertCleanLegs(ctx context.Context, legs []models.CleanLeg) (int, error)
	FetchCleanLegs(ctx context.Context, w models.Window, regionPrefix string) ([]models.CleanLeg, error)

	// Watermark
	GetWatermark(ctx context.Context) (*models.Watermark, error)
	SaveWatermark(ctx context.Context, wm models.Watermark) error

	HealthCheck(ctx context.Context) error
}

var cleanColumns = []string{
	"row_hash", "user_trip_id", "trip_date", "start_time", "end_time",
	"start_longitude", "start_latitude", "end_longitude", "end_latitude",
	"service_name", "route_short_name", "mode", "start_stop_name", "end_stop_name",
	"source_file", "manhattan_distance_mi", "euclidean_distance_mi",
	"origin_zone", "dest_zone",
}

func cleanValues(l *models.CleanLeg) []interface{} {
	return []interface{}{
		l.RowHash, l.UserTripID, l.TripDate, l.StartTime, l.EndTime,
		l.StartLongitude, l.StartLatitude, l.EndLongitude, l.EndLatitude,
		l.ServiceName, l.RouteShortName, l.Mode, l.StartStopName, l.EndStopName,
		l.SourceFile, l.ManhattanDistanceMi, l.EuclideanDistanceMi,
		l.OriginZone, l.DestZone,
	}
}

type legRepository struct {
	db      *database.PostgresDB
	schema  string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewLegRepository creates a leg repository over tables in schema
func NewLegRepository(db *database.PostgresDB, schema string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) LegRepository {
	return &legRepository{
		db:      db,
		schema:  schema,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// FetchRawSince reads raw legs whose file date is on or after since. Numeric and date
// columns are read back as text so ToCleanLeg sees them the way a file export would.
func (r *legRepository) FetchRawSince(ctx context.Context, since time.Time) ([]models.RawLegRecord, error) {
	query := fmt.Sprintf(`
		SELECT
			user_trip_id,
			file_date::text AS file_date,
			start_time,
			end_time,
			start_longitude::text AS start_longitude,
			start_latitude::text AS start_latitude,
			end_longitude::text AS end_longitude,
			end_latitude::text AS end_latitude,
			service_name,
			route_short_name,
			mode,
			start_stop_name,
			end_stop_name,
			source_file,
			manhattan_distance_mi::text AS manhattan_distance_mi,
			euclidean_distance_mi::text AS euclidean_distance_mi,
			origin_zone,
			dest_zone
		FROM %s
		WHERE file_date >= $1::timestamp
	`, qualified(r.schema, models.TableRawLegs))

	var records []models.RawLegRecord
	if err := r.db.SelectContext(ctx, "fetch_raw", &records, query, since); err != nil {
		return nil, fmt.Errorf("failed to fetch raw legs: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_FETCH_RAW] Raw legs fetched", logging.Fields{
		"since": since.Format(time.RFC3339),
		"count": len(records),
	})

	return records, nil
}

// InsertCleanLegs stages legs with COPY and inserts the ones whose hash is new.
// It returns the number of rows actually inserted.
func (r *legRepository) InsertCleanLegs(ctx context.Context, legs []models.CleanLeg) (int, error) {
	if len(legs) == 0 {
		return 0, nil
	}

	timer := time.Now()
	var inserted int64

	err := r.db.WithTx(ctx, "insert_clean", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`CREATE TEMP TABLE clean_stage (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP`,
			qualified(r.schema, models.TableCleanLegs)))
		if err != nil {
			return fmt.Errorf("failed to create staging table: %w", err)
		}

		err = copyRows(ctx, tx, "", "clean_stage", copySpec{
			columns: cleanColumns,
			rows:    len(legs),
			row:     func(i int) []interface{} { return cleanValues(&legs[i]) },
		})
		if err != nil {
			return err
		}

		cols := strings.Join(cleanColumns, ", ")
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (%s)
			SELECT %s FROM clean_stage
			ON CONFLICT (row_hash) DO NOTHING
		`, qualified(r.schema, models.TableCleanLegs), cols, cols))
		if err != nil {
			return fmt.Errorf("failed to merge staged legs: %w", err)
		}

		inserted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert clean legs: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_INSERT_CLEAN] Clean legs merged", logging.Fields{
		"staged":      len(legs),
		"inserted":    inserted,
		"duration_ms": time.Since(timer).Milliseconds(),
	})

	return int(inserted), nil
}

// FetchCleanLegs narrows clean legs to the window and region in SQL. The engine applies
// the same filter again along with the zone code checks.
func (r *legRepository) FetchCleanLegs(ctx context.Context, w models.Window, regionPrefix string) ([]models.CleanLeg, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE trip_date >= $1 AND trip_date < $2
	`, strings.Join(cleanColumns, ", "), qualified(r.schema, models.TableCleanLegs))
	args := []interface{}{w.Start, w.End}

	if regionPrefix != "" {
		query += " AND origin_zone LIKE $3 AND dest_zone LIKE $3"
		args = append(args, regionPrefix+"%")
	}

	var legs []models.CleanLeg
	if err := r.db.SelectContext(ctx, "fetch_clean", &legs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to fetch clean legs: %w", err)
	}

	return legs, nil
}

// GetWatermark returns an empty watermark when none has been saved yet
func (r *legRepository) GetWatermark(ctx context.Context) (*models.Watermark, error) {
	query := fmt.Sprintf(`SELECT last_file_date, last_run_at FROM %s WHERE id = 1`,
		qualified(r.schema, models.TableRefreshState))

	var wm models.Watermark
	err := r.db.GetContext(ctx, "get_watermark", &wm, query)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Watermark{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}

	return &wm, nil
}

func (r *legRepository) SaveWatermark(ctx context.Context, wm models.Watermark) error {
	query := fmt.Sprintf(`
		INSERT INTO %s AS st (id, last_file_date, last_run_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			last_file_date = COALESCE(EXCLUDED.last_file_date, st.last_file_date),
			last_run_at = EXCLUDED.last_run_at
	`, qualified(r.schema, models.TableRefreshState))

	if _, err := r.db.ExecContext(ctx, "save_watermark", query, wm.LastFileDate, wm.LastRunAt); err != nil {
		return fmt.Errorf("failed to save watermark: %w", err)
	}
	return nil
}

// HealthCheck performs a repository health check
func (r *legRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
