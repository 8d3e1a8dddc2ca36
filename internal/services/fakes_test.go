package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mobility-rollups/internal/config"
	"mobility-rollups/internal/models"
	"mobility-rollups/internal/notify"
	"mobility-rollups/internal/repository"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }

func testConfig() config.RefreshConfig {
	return config.RefreshConfig{
		WindowDays:     31,
		ZoneCodeLength: 12,
		RollingDays:    34,
		OverlapDays:    5,
		LoadBatch:      2,
		Location:       time.UTC,
	}
}

// rawLeg builds a well-formed raw record on 2024-05-01.
func rawLeg(trip, start, end, service, route, mode, from, to string) models.RawLegRecord {
	return models.RawLegRecord{
		UserTripID:     strp(trip),
		FileDate:       strp("2024-05-01"),
		StartTime:      strp("2024-05-01T" + start + ":00Z"),
		EndTime:        strp("2024-05-01T" + end + ":00Z"),
		StartLongitude: strp("-98.4936"),
		StartLatitude:  strp("29.4241"),
		EndLongitude:   strp("-98.4800"),
		EndLatitude:    strp("29.4300"),
		ServiceName:    strp(service),
		RouteShortName: strp(route),
		Mode:           strp(mode),
		StartStopName:  strp(from),
		EndStopName:    strp(to),
		SourceFile:     strp("legs_2024-05-01.csv"),
		OriginZone:     strp("480291101001"),
		DestZone:       strp("480291101002"),
	}
}

type fakeLegRepo struct {
	raw         []models.RawLegRecord
	clean       map[string]models.CleanLeg
	order       []string
	watermark   *models.Watermark
	saved       *models.Watermark
	since       time.Time
	insertCalls int
	insertErr   error
}

func newFakeLegRepo() *fakeLegRepo {
	return &fakeLegRepo{clean: make(map[string]models.CleanLeg)}
}

func (f *fakeLegRepo) FetchRawSince(_ context.Context, since time.Time) ([]models.RawLegRecord, error) {
	f.since = since
	return f.raw, nil
}

func (f *fakeLegRepo) InsertCleanLegs(_ context.Context, legs []models.CleanLeg) (int, error) {
	f.insertCalls++
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	n := 0
	for _, l := range legs {
		if _, ok := f.clean[l.RowHash]; ok {
			continue
		}
		f.clean[l.RowHash] = l
		f.order = append(f.order, l.RowHash)
		n++
	}
	return n, nil
}

func (f *fakeLegRepo) FetchCleanLegs(_ context.Context, w models.Window, regionPrefix string) ([]models.CleanLeg, error) {
	var out []models.CleanLeg
	for _, h := range f.order {
		l := f.clean[h]
		if !w.Contains(l.TripDate) {
			continue
		}
		if regionPrefix != "" && !strings.HasPrefix(l.OriginZone, regionPrefix) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeLegRepo) GetWatermark(context.Context) (*models.Watermark, error) {
	if f.watermark == nil {
		return &models.Watermark{}, nil
	}
	return f.watermark, nil
}

func (f *fakeLegRepo) SaveWatermark(_ context.Context, wm models.Watermark) error {
	f.saved = &wm
	return nil
}

func (f *fakeLegRepo) HealthCheck(context.Context) error { return nil }

type fakeRollupRepo struct {
	replaced   *models.RollupSet
	replaceErr error
	runs       []models.RefreshRun
}

func (f *fakeRollupRepo) ReplaceRollups(_ context.Context, set *models.RollupSet) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced = set
	return nil
}

func (f *fakeRollupRepo) RecordRefreshRun(_ context.Context, run *models.RefreshRun) error {
	f.runs = append(f.runs, *run)
	return nil
}

func (f *fakeRollupRepo) LatestRefreshRun(context.Context) (*models.RefreshRun, error) {
	if len(f.runs) == 0 {
		return nil, &repository.NotFoundError{Resource: "refresh run", ID: "latest"}
	}
	r := f.runs[len(f.runs)-1]
	return &r, nil
}

func (f *fakeRollupRepo) ListFlowSnapshot(context.Context, repository.SnapshotFilter) ([]models.FlowSnapshotRow, int, error) {
	if f.replaced == nil {
		return nil, 0, nil
	}
	return f.replaced.FlowSnapshot, len(f.replaced.FlowSnapshot), nil
}

func (f *fakeRollupRepo) ListHotspotSnapshot(context.Context, repository.SnapshotFilter) ([]models.HotspotSnapshotRow, int, error) {
	if f.replaced == nil {
		return nil, 0, nil
	}
	return f.replaced.HotspotSnapshot, len(f.replaced.HotspotSnapshot), nil
}

func (f *fakeRollupRepo) ListWalkEgressSnapshot(context.Context, repository.SnapshotFilter) ([]models.WalkEgressSnapshotRow, int, error) {
	if f.replaced == nil {
		return nil, 0, nil
	}
	return f.replaced.WalkEgressSnapshot, len(f.replaced.WalkEgressSnapshot), nil
}

type fakePublisher struct {
	events []notify.RefreshEvent
	err    error
}

func (f *fakePublisher) PublishRefresh(_ context.Context, ev notify.RefreshEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) Close() {}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
}
