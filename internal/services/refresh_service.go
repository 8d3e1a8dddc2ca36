package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mobility-rollups/internal/config"
	"mobility-rollups/internal/models"
	"mobility-rollups/internal/notify"
	"mobility-rollups/internal/repository"
	"mobility-rollups/internal/transform"
	"mobility-rollups/pkg/logging"
	"mobility-rollups/pkg/metrics"
	"mobility-rollups/pkg/tracing"
)

// Refresh outcome labels for metrics.
const (
	refreshSuccess = "success"
	refreshFailed  = "failed"
	refreshAborted = "aborted"
	refreshLocked  = "locked"
)

// RefreshService rebuilds the rollup and snapshot tables over a trailing window
type RefreshService struct {
	legs       repository.LegRepository
	rollups    repository.RollupRepository
	publisher  notify.Publisher
	classifier *transform.Classifier
	cfg        config.RefreshConfig
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
	tracer     trace.Tracer

	now      func() time.Time
	newRunID func() string
}

// RefreshResult summarizes one committed refresh
type RefreshResult struct {
	RunID        string
	Window       models.Window
	RegionPrefix string
	LegsFetched  int
	LegsInWindow int
	RowCounts    models.RowCounts
	Duration     time.Duration
}

// NewRefreshService creates a refresh service. A nil publisher disables notifications.
func NewRefreshService(
	legs repository.LegRepository,
	rollups repository.RollupRepository,
	publisher notify.Publisher,
	cfg config.RefreshConfig,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *RefreshService {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &RefreshService{
		legs:       legs,
		rollups:    rollups,
		publisher:  publisher,
		classifier: transform.NewClassifier(ServiceRules(cfg.ServiceRules)),
		cfg:        cfg,
		logger:     logger,
		metrics:    metricsCollector,
		tracer:     tracing.Tracer("mobility-rollups/refresh"),
		now:        time.Now,
		newRunID:   uuid.NewString,
	}
}

// ServiceRules converts configured rules to classifier rules.
func ServiceRules(rules []config.ServiceRule) []transform.ServiceRule {
	out := make([]transform.ServiceRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, transform.ServiceRule{
			Field:    transform.RuleField(r.Field),
			Contains: r.Contains,
			Group:    models.ServiceGroup(r.Group),
		})
	}
	return out
}

// Refresh runs the whole pipeline for the window ending today and replaces every rollup
// table in one transaction. Cancelling ctx before the write phase leaves the tables untouched.
func (s *RefreshService) Refresh(ctx context.Context, windowDays int, regionPrefix string) (*RefreshResult, error) {
	startTime := s.now()
	runID := s.newRunID()

	ctx = logging.WithRunID(ctx, runID)
	if regionPrefix != "" {
		ctx = logging.WithRegion(ctx, regionPrefix)
	}

	ctx, span := s.tracer.Start(ctx, "refresh", trace.WithAttributes(
		attribute.String("refresh.run_id", runID),
		attribute.Int("refresh.window_days", windowDays),
		attribute.String("refresh.region_prefix", regionPrefix),
	))
	defer span.End()

	w := transform.Window(windowDays, startTime, s.cfg.Location)
	result := &RefreshResult{RunID: runID, Window: w, RegionPrefix: regionPrefix}

	run := &models.RefreshRun{
		RunID:       runID,
		StartedAt:   startTime.UTC(),
		WindowStart: w.Start,
		WindowEnd:   w.End,
	}
	if regionPrefix != "" {
		run.RegionPrefix = &regionPrefix
	}

	s.logger.Info(ctx, "[REFRESH_START] Refresh starting", logging.Fields{
		"window_start": w.Start.Format("2006-01-02"),
		"window_end":   w.End.Format("2006-01-02"),
		"window_days":  windowDays,
		"stage":        "INITIALIZATION",
	})

	set, err := s.build(ctx, w, regionPrefix, result)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		status := refreshFailed
		if ctx.Err() != nil {
			status = refreshAborted
		}
		return nil, s.fail(ctx, span, run, status, err)
	}

	run.LegsInWindow = result.LegsInWindow
	err = s.stage(ctx, "write", tracing.ErrorTypeDatabase, func(ctx context.Context) error {
		if err := s.rollups.ReplaceRollups(ctx, set); err != nil {
			if errors.Is(err, repository.ErrRefreshLocked) {
				return ErrRefreshInProgress
			}
			return err
		}
		return nil
	})
	if err != nil {
		status := refreshFailed
		if errors.Is(err, ErrRefreshInProgress) {
			status = refreshLocked
		}
		return nil, s.fail(ctx, span, run, status, err)
	}

	finished := s.now().UTC()
	result.RowCounts = set.RowCounts()
	result.Duration = finished.Sub(startTime)

	run.FinishedAt = &finished
	run.Status = models.RunSucceeded
	run.RowCounts = result.RowCounts
	if err := s.rollups.RecordRefreshRun(ctx, run); err != nil {
		s.logger.Error(ctx, "[REFRESH_HISTORY_ERROR] Failed to record refresh run", logging.Fields{}, err)
	}

	s.metrics.RecordRefresh(refreshSuccess)
	s.metrics.RefreshDuration.Observe(result.Duration.Seconds())
	s.metrics.RefreshLegsInWindow.Set(float64(result.LegsInWindow))
	s.metrics.LastRefreshTimestamp.Set(float64(finished.Unix()))
	tracing.SetSpanOk(span)

	s.publish(ctx, result, finished)

	s.logger.Info(ctx, "[REFRESH_COMPLETE] Refresh committed", logging.Fields{
		"legs_fetched":   result.LegsFetched,
		"legs_in_window": result.LegsInWindow,
		"flow_rows":      result.RowCounts[models.TableFlowSnapshot],
		"hotspot_rows":   result.RowCounts[models.TableHotspotSnapshot],
		"walk_rows":      result.RowCounts[models.TableWalkEgressSnapshot],
		"duration_ms":    result.Duration.Milliseconds(),
		"stage":          "COMPLETE",
	})

	return result, nil
}

// build runs every stage before the write phase. Nothing here touches the store except the read.
func (s *RefreshService) build(ctx context.Context, w models.Window, regionPrefix string, result *RefreshResult) (*models.RollupSet, error) {
	var (
		clean      []models.CleanLeg
		sequenced  []models.SequencedLeg
		classified []models.ClassifiedLeg
		set        *models.RollupSet
	)

	err := s.stage(ctx, "fetch", tracing.ErrorTypeDatabase, func(ctx context.Context) error {
		legs, err := s.legs.FetchCleanLegs(ctx, w, regionPrefix)
		if err != nil {
			return err
		}
		result.LegsFetched = len(legs)
		clean = transform.FilterWindow(legs, w, s.cfg.ZoneCodeLength, regionPrefix)
		result.LegsInWindow = len(clean)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.stage(ctx, "sequence", tracing.ErrorTypeTransform, func(ctx context.Context) error {
		sequenced = transform.Sequence(clean)
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	err = s.stage(ctx, "classify", tracing.ErrorTypeTransform, func(ctx context.Context) error {
		classified = s.classifier.Classify(sequenced)
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	err = s.stage(ctx, "aggregate", tracing.ErrorTypeTransform, func(ctx context.Context) error {
		var err error
		set, err = transform.AggregateAll(ctx, classified)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = s.stage(ctx, "materialize", tracing.ErrorTypeTransform, func(ctx context.Context) error {
		set.Window = w
		transform.Materialize(set)
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	return set, nil
}

func (s *RefreshService) stage(ctx context.Context, name, errorType string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "refresh."+name)
	defer span.End()

	log := s.logger.WithFields(logging.Fields{"stage": name})
	timer := s.metrics.StageTimer(name)
	err := fn(ctx)
	duration := timer.ObserveDuration()

	if err != nil {
		tracing.RecordError(span, err, errorType, transient(err))
		log.Warn(ctx, "[REFRESH_STAGE_ERROR] Stage failed", logging.Fields{
			"duration_ms": duration.Milliseconds(),
			"error":       err.Error(),
		})
		return fmt.Errorf("refresh stage %s failed: %w", name, err)
	}

	tracing.SetSpanOk(span)
	log.Debug(ctx, "[REFRESH_STAGE] Stage complete", logging.Fields{
		"duration_ms": duration.Milliseconds(),
	})
	return nil
}

// fail records a failed run and returns err. The history row is written even when ctx is cancelled.
func (s *RefreshService) fail(ctx context.Context, span trace.Span, run *models.RefreshRun, status string, err error) error {
	s.metrics.RecordRefresh(status)
	tracing.RecordError(span, err, tracing.ErrorTypeDatabase, transient(err))

	finished := s.now().UTC()
	msg := err.Error()
	run.FinishedAt = &finished
	run.Status = models.RunFailed
	run.ErrorMessage = &msg

	if recErr := s.rollups.RecordRefreshRun(context.WithoutCancel(ctx), run); recErr != nil {
		s.logger.Error(ctx, "[REFRESH_HISTORY_ERROR] Failed to record refresh run", logging.Fields{}, recErr)
	}

	s.logger.Error(ctx, "[REFRESH_FAILED] Refresh failed", logging.Fields{
		"status":    status,
		"transient": transient(err),
	}, err)
	return err
}

func (s *RefreshService) publish(ctx context.Context, result *RefreshResult, finished time.Time) {
	ev := notify.RefreshEvent{
		RunID:        result.RunID,
		WindowStart:  result.Window.Start.Format("2006-01-02"),
		WindowEnd:    result.Window.End.Format("2006-01-02"),
		RegionPrefix: result.RegionPrefix,
		LegsInWindow: result.LegsInWindow,
		RowCounts:    result.RowCounts,
		CompletedAt:  finished,
	}
	if err := s.publisher.PublishRefresh(ctx, ev); err != nil {
		s.logger.Warn(ctx, "[REFRESH_NOTIFY_ERROR] Refresh committed but notification failed", logging.Fields{
			"error": err.Error(),
		})
	}
}
