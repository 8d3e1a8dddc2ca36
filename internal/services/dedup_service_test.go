package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mobility-rollups/internal/models"
	"mobility-rollups/pkg/logging"
	"mobility-rollups/pkg/metrics"
)

func newTestDedup(repo *fakeLegRepo) *DedupService {
	s := NewDedupService(repo, testConfig(), logging.NewNopLogger(), metrics.NewCollector("test"))
	s.now = func() time.Time { return testNow }
	return s
}

func TestDedupService_LoadBatch(t *testing.T) {
	stored := rawLeg("B", "09:00", "09:10", "VIA Metro", "10", "bus", "S1", "S2")
	fresh := rawLeg("A", "08:00", "08:10", "VIA Metro", "10", "bus", "S1", "S2")
	bad := rawLeg("C", "10:00", "10:10", "VIA Metro", "10", "bus", "S1", "S2")
	bad.StartLatitude = strp("north")
	noEnd := rawLeg("D", "11:00", "11:10", "VIA Metro", "12", "bus", "S2", "S3")
	noEnd.EndLatitude = nil
	noEnd.EndLongitude = strp(" ")

	tests := []struct {
		name        string
		seed        []models.RawLegRecord
		batch       []models.RawLegRecord
		checkValues func(*testing.T, *LoadResult, *fakeLegRepo)
	}{
		{
			name:  "new, repeated, stored and malformed",
			seed:  []models.RawLegRecord{stored},
			batch: []models.RawLegRecord{fresh, fresh, stored, bad},
			checkValues: func(t *testing.T, r *LoadResult, repo *fakeLegRepo) {
				if r.Total != 4 || r.Inserted != 1 || r.Discarded != 2 || r.Rejected != 1 {
					t.Errorf("result = %+v, want total 4 inserted 1 discarded 2 rejected 1", r)
				}
				if len(r.Errors) != 1 {
					t.Errorf("len(Errors) = %d, want 1", len(r.Errors))
				}
				if len(repo.clean) != 2 {
					t.Errorf("store has %d legs, want 2", len(repo.clean))
				}
			},
		},
		{
			name:  "null coordinates are kept",
			batch: []models.RawLegRecord{noEnd, noEnd},
			checkValues: func(t *testing.T, r *LoadResult, repo *fakeLegRepo) {
				if r.Inserted != 1 || r.Discarded != 1 || r.Rejected != 0 {
					t.Errorf("result = %+v, want inserted 1 discarded 1 rejected 0", r)
				}
				for _, l := range repo.clean {
					if l.EndLatitude != nil || l.EndLongitude != nil || l.StartLatitude == nil {
						t.Errorf("stored coordinates = %v %v %v", l.StartLatitude, l.EndLatitude, l.EndLongitude)
					}
					if l.EuclideanDistanceMi != nil || l.ManhattanDistanceMi != nil {
						t.Error("distances should stay unknown without an end point")
					}
				}
			},
		},
		{
			name:  "replaying a batch inserts nothing",
			seed:  []models.RawLegRecord{fresh, stored},
			batch: []models.RawLegRecord{fresh, stored},
			checkValues: func(t *testing.T, r *LoadResult, repo *fakeLegRepo) {
				if r.Inserted != 0 || r.Discarded != 2 || r.Rejected != 0 {
					t.Errorf("result = %+v, want everything discarded", r)
				}
			},
		},
		{
			name:  "malformed only",
			batch: []models.RawLegRecord{bad},
			checkValues: func(t *testing.T, r *LoadResult, repo *fakeLegRepo) {
				if r.Rejected != 1 || r.Inserted != 0 || r.Discarded != 0 {
					t.Errorf("result = %+v", r)
				}
				if r.MaxFileDate != nil {
					t.Errorf("MaxFileDate = %v, want nil", r.MaxFileDate)
				}
				if repo.insertCalls != 0 {
					t.Errorf("insertCalls = %d, want 0", repo.insertCalls)
				}
			},
		},
		{
			name:  "empty batch",
			batch: nil,
			checkValues: func(t *testing.T, r *LoadResult, repo *fakeLegRepo) {
				if r.Total != 0 || r.Inserted != 0 {
					t.Errorf("result = %+v", r)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeLegRepo()
			s := newTestDedup(repo)
			if len(tt.seed) > 0 {
				if _, err := s.LoadBatch(context.Background(), tt.seed); err != nil {
					t.Fatalf("seed LoadBatch() error = %v", err)
				}
				repo.insertCalls = 0
			}

			got, err := s.LoadBatch(context.Background(), tt.batch)
			if err != nil {
				t.Fatalf("LoadBatch() error = %v", err)
			}
			tt.checkValues(t, got, repo)
		})
	}
}

func TestDedupService_LoadBatchChunks(t *testing.T) {
	repo := newFakeLegRepo()
	s := newTestDedup(repo)

	var batch []models.RawLegRecord
	for i := 0; i < 5; i++ {
		batch = append(batch, rawLeg(fmt.Sprintf("T%d", i), "08:00", "08:10", "VIA Metro", "10", "bus", "S1", "S2"))
	}

	got, err := s.LoadBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("LoadBatch() error = %v", err)
	}
	if got.Inserted != 5 {
		t.Errorf("Inserted = %d, want 5", got.Inserted)
	}
	if repo.insertCalls != 3 {
		t.Errorf("insertCalls = %d, want 3 chunks of at most 2", repo.insertCalls)
	}
}

func TestDedupService_LoadBatchStoreError(t *testing.T) {
	repo := newFakeLegRepo()
	repo.insertErr = errors.New("connection reset")
	s := newTestDedup(repo)

	_, err := s.LoadBatch(context.Background(), []models.RawLegRecord{
		rawLeg("A", "08:00", "08:10", "VIA Metro", "10", "bus", "S1", "S2"),
	})
	if err == nil || !errors.Is(err, repo.insertErr) {
		t.Fatalf("LoadBatch() error = %v, want wrapped store error", err)
	}
}

func TestDedupService_LoadIncremental(t *testing.T) {
	lastFile := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	later := rawLeg("A", "08:00", "08:10", "VIA Metro", "10", "bus", "S1", "S2")
	later.FileDate = strp("2024-05-03")

	tests := []struct {
		name        string
		watermark   *models.Watermark
		raw         []models.RawLegRecord
		wantSince   time.Time
		wantLastDay time.Time
	}{
		{
			name:        "no watermark uses the rolling range",
			raw:         []models.RawLegRecord{later},
			wantSince:   time.Date(2024, 4, 6, 0, 0, 0, 0, time.UTC),
			wantLastDay: time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			name:        "watermark minus overlap",
			watermark:   &models.Watermark{LastFileDate: &lastFile},
			raw:         []models.RawLegRecord{later},
			wantSince:   time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC),
			wantLastDay: time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			name:        "watermark never moves back",
			watermark:   &models.Watermark{LastFileDate: &lastFile},
			raw:         nil,
			wantSince:   time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC),
			wantLastDay: lastFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeLegRepo()
			repo.raw = tt.raw
			repo.watermark = tt.watermark
			s := newTestDedup(repo)

			if _, err := s.LoadIncremental(context.Background()); err != nil {
				t.Fatalf("LoadIncremental() error = %v", err)
			}
			if !repo.since.Equal(tt.wantSince) {
				t.Errorf("since = %v, want %v", repo.since, tt.wantSince)
			}
			if repo.saved == nil || repo.saved.LastFileDate == nil {
				t.Fatalf("watermark not saved: %+v", repo.saved)
			}
			if !repo.saved.LastFileDate.Equal(tt.wantLastDay) {
				t.Errorf("LastFileDate = %v, want %v", *repo.saved.LastFileDate, tt.wantLastDay)
			}
			if repo.saved.LastRunAt == nil || !repo.saved.LastRunAt.Equal(testNow) {
				t.Errorf("LastRunAt = %v, want %v", repo.saved.LastRunAt, testNow)
			}
		})
	}
}
