package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mobility-rollups/internal/config"
	"mobility-rollups/internal/models"
	"mobility-rollups/internal/repository"
	"mobility-rollups/pkg/logging"
	"mobility-rollups/pkg/metrics"
)

// maxReportedErrors caps LoadResult.Errors; Rejected still counts every bad record.
const maxReportedErrors = 100

// DedupService moves raw legs into the append-only clean store
type DedupService struct {
	repo    repository.LegRepository
	cfg     config.RefreshConfig
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	now     func() time.Time
}

// LoadResult contains dedup statistics for one batch
type LoadResult struct {
	Total       int
	Inserted    int
	Discarded   int
	Rejected    int
	Errors      []string
	MaxFileDate *time.Time
	Duration    time.Duration
}

// NewDedupService creates a new dedup service
func NewDedupService(repo repository.LegRepository, cfg config.RefreshConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *DedupService {
	return &DedupService{
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		metrics: metricsCollector,
		now:     time.Now,
	}
}

// LoadBatch hashes and inserts records. A record whose hash is already stored, or repeated
// earlier in the batch, is discarded. Malformed records are rejected one by one and never
// fail the batch; only a store error does.
func (s *DedupService) LoadBatch(ctx context.Context, records []models.RawLegRecord) (*LoadResult, error) {
	startTime := time.Now()
	result := &LoadResult{Total: len(records), Errors: make([]string, 0)}

	seen := make(map[string]struct{}, len(records))
	legs := make([]models.CleanLeg, 0, len(records))
	valid := 0

	for i := range records {
		leg, err := records[i].ToCleanLeg()
		if err != nil {
			result.Rejected++
			field := "unknown"
			var ve *models.ValidationError
			if errors.As(err, &ve) {
				field = ve.Field
			}
			s.metrics.RecordReject(field)
			if len(result.Errors) < maxReportedErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i, err))
			}
			continue
		}

		valid++
		if result.MaxFileDate == nil || leg.TripDate.After(*result.MaxFileDate) {
			d := leg.TripDate
			result.MaxFileDate = &d
		}
		if _, dup := seen[leg.RowHash]; dup {
			continue
		}
		seen[leg.RowHash] = struct{}{}
		legs = append(legs, *leg)
	}

	chunk := s.cfg.LoadBatch
	if chunk <= 0 {
		chunk = len(legs)
	}
	for start := 0; start < len(legs); start += chunk {
		end := start + chunk
		if end > len(legs) {
			end = len(legs)
		}
		n, err := s.repo.InsertCleanLegs(ctx, legs[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to insert clean legs: %w", err)
		}
		result.Inserted += n
	}

	result.Discarded = valid - result.Inserted
	result.Duration = time.Since(startTime)

	s.metrics.RecordLoad(result.Inserted, result.Discarded, result.Rejected)
	s.metrics.LoadBatchSize.Observe(float64(result.Total))
	s.metrics.LoadDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[DEDUP_BATCH] Batch loaded", logging.Fields{
		"total":       result.Total,
		"inserted":    result.Inserted,
		"discarded":   result.Discarded,
		"rejected":    result.Rejected,
		"duration_ms": result.Duration.Milliseconds(),
		"stage":       "DEDUP",
	})
	if result.Rejected > 0 {
		s.logger.Warn(ctx, "[DEDUP_REJECTS] Malformed records rejected", logging.Fields{
			"rejected": result.Rejected,
			"first":    result.Errors[0],
		})
	}

	return result, nil
}

// LoadIncremental loads raw legs filed since the watermark minus the overlap, or over the
// rolling range when no watermark exists, and advances the watermark on success.
func (s *DedupService) LoadIncremental(ctx context.Context) (*LoadResult, error) {
	wm, err := s.repo.GetWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}

	since := s.since(wm)
	s.logger.Info(ctx, "[DEDUP_START] Incremental load starting", logging.Fields{
		"since":         since.Format("2006-01-02"),
		"has_watermark": wm != nil && wm.LastFileDate != nil,
		"stage":         "INITIALIZATION",
	})

	records, err := s.repo.FetchRawSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch raw legs: %w", err)
	}

	result, err := s.LoadBatch(ctx, records)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	next := models.Watermark{LastRunAt: &now}
	if wm != nil {
		next.LastFileDate = wm.LastFileDate
	}
	if result.MaxFileDate != nil && (next.LastFileDate == nil || result.MaxFileDate.After(*next.LastFileDate)) {
		next.LastFileDate = result.MaxFileDate
	}
	if err := s.repo.SaveWatermark(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save watermark: %w", err)
	}

	return result, nil
}

func (s *DedupService) since(wm *models.Watermark) time.Time {
	if wm != nil && wm.LastFileDate != nil {
		d := *wm.LastFileDate
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -s.cfg.OverlapDays)
	}
	loc := s.cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	local := s.now().In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -s.cfg.RollingDays)
}
