package services

import (
	"context"

	"mobility-rollups/internal/models"
	"mobility-rollups/internal/repository"
	"mobility-rollups/pkg/logging"
	"mobility-rollups/pkg/metrics"
)

// SnapshotService serves the published snapshot tables read-only
type SnapshotService struct {
	rollups repository.RollupRepository
	legs    repository.LegRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(rollups repository.RollupRepository, legs repository.LegRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SnapshotService {
	return &SnapshotService{
		rollups: rollups,
		legs:    legs,
		logger:  logger,
		metrics: metricsCollector,
	}
}

func (s *SnapshotService) GetFlows(ctx context.Context, filter repository.SnapshotFilter) ([]models.FlowSnapshotRow, int, error) {
	return s.rollups.ListFlowSnapshot(ctx, filter)
}

func (s *SnapshotService) GetHotspots(ctx context.Context, filter repository.SnapshotFilter) ([]models.HotspotSnapshotRow, int, error) {
	return s.rollups.ListHotspotSnapshot(ctx, filter)
}

func (s *SnapshotService) GetWalkEgress(ctx context.Context, filter repository.SnapshotFilter) ([]models.WalkEgressSnapshotRow, int, error) {
	return s.rollups.ListWalkEgressSnapshot(ctx, filter)
}

// LatestRun returns the most recent refresh, successful or not.
func (s *SnapshotService) LatestRun(ctx context.Context) (*models.RefreshRun, error) {
	return s.rollups.LatestRefreshRun(ctx)
}

// HealthCheck performs a health check on the backing store
func (s *SnapshotService) HealthCheck(ctx context.Context) error {
	return s.legs.HealthCheck(ctx)
}
