package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"mobility-rollups/internal/config"
	"mobility-rollups/internal/models"
	"mobility-rollups/internal/repository"
	"mobility-rollups/internal/transform"
	"mobility-rollups/pkg/logging"
	"mobility-rollups/pkg/metrics"
)

// Trip A: walk to the stop, route 10, transfer to route 12. Trip B: route 10 only.
func refreshFixture() []models.RawLegRecord {
	return []models.RawLegRecord{
		rawLeg("A", "07:50", "07:58", "", "", "walk", "Home", "S1"),
		rawLeg("A", "08:00", "08:10", "VIA Metro", "10", "bus", "S1", "S2"),
		rawLeg("A", "08:20", "08:30", "VIA Metro", "12", "bus", "S2", "S3"),
		rawLeg("B", "09:00", "09:10", "VIA Metro", "10", "bus", "S1", "S2"),
		rawLeg("C", "09:30", "09:40", "VIA Link", "", "on_demand", "S3", "S4"),
		rawLeg("C", "09:45", "09:55", "", "", "walk", "S4", "Work"),
	}
}

type refreshHarness struct {
	legs      *fakeLegRepo
	rollups   *fakeRollupRepo
	publisher *fakePublisher
	service   *RefreshService
}

func newRefreshHarness(t *testing.T) *refreshHarness {
	t.Helper()
	h := &refreshHarness{
		legs:      newFakeLegRepo(),
		rollups:   &fakeRollupRepo{},
		publisher: &fakePublisher{},
	}
	log := logging.NewNopLogger()
	m := metrics.NewCollector("test")

	dedup := newTestDedup(h.legs)
	if _, err := dedup.LoadBatch(context.Background(), refreshFixture()); err != nil {
		t.Fatalf("LoadBatch() error = %v", err)
	}

	h.service = NewRefreshService(h.legs, h.rollups, h.publisher, testConfig(), log, m)
	h.service.now = func() time.Time { return testNow }
	h.service.newRunID = sequentialIDs()
	return h
}

func TestRefreshService_Refresh(t *testing.T) {
	h := newRefreshHarness(t)

	got, err := h.service.Refresh(context.Background(), 31, "")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	wantStart := time.Date(2024, 4, 9, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	if !got.Window.Start.Equal(wantStart) || !got.Window.End.Equal(wantEnd) {
		t.Errorf("Window = %+v, want [%v, %v)", got.Window, wantStart, wantEnd)
	}
	if got.RunID != "run-1" || got.LegsInWindow != 6 {
		t.Errorf("result = %+v", got)
	}

	set := h.rollups.replaced
	if set == nil {
		t.Fatal("ReplaceRollups was not called")
	}
	if len(set.FlowSnapshot) == 0 || len(set.HotspotSnapshot) == 0 || len(set.WalkEgressSnapshot) == 0 {
		t.Errorf("snapshots = %d/%d/%d rows, want all non-empty",
			len(set.FlowSnapshot), len(set.HotspotSnapshot), len(set.WalkEgressSnapshot))
	}
	for i, r := range set.FlowSnapshot {
		if r.ObjectID != int64(i+1) {
			t.Errorf("FlowSnapshot[%d].ObjectID = %d, want %d", i, r.ObjectID, i+1)
		}
	}
	if got.RowCounts[models.TableFlowSnapshot] != len(set.FlowSnapshot) {
		t.Errorf("RowCounts = %v", got.RowCounts)
	}

	if len(h.rollups.runs) != 1 || h.rollups.runs[0].Status != models.RunSucceeded {
		t.Fatalf("runs = %+v, want one succeeded run", h.rollups.runs)
	}
	if h.rollups.runs[0].LegsInWindow != 6 {
		t.Errorf("run.LegsInWindow = %d, want 6", h.rollups.runs[0].LegsInWindow)
	}

	if len(h.publisher.events) != 1 {
		t.Fatalf("published %d events, want 1", len(h.publisher.events))
	}
	ev := h.publisher.events[0]
	if ev.RunID != "run-1" || ev.WindowStart != "2024-04-09" || ev.WindowEnd != "2024-05-10" {
		t.Errorf("event = %+v", ev)
	}
}

func TestRefreshService_Deterministic(t *testing.T) {
	h := newRefreshHarness(t)

	if _, err := h.service.Refresh(context.Background(), 31, ""); err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}
	first := h.rollups.replaced

	if _, err := h.service.Refresh(context.Background(), 31, ""); err != nil {
		t.Fatalf("second Refresh() error = %v", err)
	}
	second := h.rollups.replaced

	if len(first.HotspotSnapshot) != len(second.HotspotSnapshot) {
		t.Fatalf("hotspot rows differ: %d vs %d", len(first.HotspotSnapshot), len(second.HotspotSnapshot))
	}
	for i := range first.HotspotSnapshot {
		a, b := first.HotspotSnapshot[i], second.HotspotSnapshot[i]
		if a.ObjectID != b.ObjectID || a.HotspotHash != b.HotspotHash || a.TransferType != b.TransferType {
			t.Errorf("hotspot row %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestRefreshService_Empty(t *testing.T) {
	tests := []struct {
		name       string
		windowDays int
		prefix     string
	}{
		{"zero day window", 0, ""},
		{"window before any data", 5, ""},
		{"prefix matches nothing", 31, "06"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRefreshHarness(t)

			got, err := h.service.Refresh(context.Background(), tt.windowDays, tt.prefix)
			if err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}
			if got.LegsInWindow != 0 {
				t.Errorf("LegsInWindow = %d, want 0", got.LegsInWindow)
			}
			for table, n := range got.RowCounts {
				if n != 0 {
					t.Errorf("RowCounts[%s] = %d, want 0", table, n)
				}
			}
			if h.rollups.replaced == nil {
				t.Error("empty window should still replace the tables")
			}
		})
	}
}

func TestRefreshService_Locked(t *testing.T) {
	h := newRefreshHarness(t)
	h.rollups.replaceErr = repository.ErrRefreshLocked

	_, err := h.service.Refresh(context.Background(), 31, "")
	if !errors.Is(err, ErrRefreshInProgress) {
		t.Fatalf("Refresh() error = %v, want ErrRefreshInProgress", err)
	}
	if !transient(err) {
		t.Error("lock contention should be transient")
	}
	if len(h.rollups.runs) != 1 || h.rollups.runs[0].Status != models.RunFailed {
		t.Errorf("runs = %+v, want one failed run", h.rollups.runs)
	}
	if h.rollups.runs[0].ErrorMessage == nil {
		t.Error("failed run should carry an error message")
	}
	if len(h.publisher.events) != 0 {
		t.Error("failed refresh must not publish")
	}
}

func TestRefreshService_StageLogs(t *testing.T) {
	type line struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		RunID   string                 `json:"run_id"`
		Fields  map[string]interface{} `json:"fields"`
	}
	stageLines := func(t *testing.T, buf *bytes.Buffer) map[string]line {
		t.Helper()
		out := make(map[string]line)
		for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			var l line
			if err := json.Unmarshal([]byte(raw), &l); err != nil {
				t.Fatalf("log line is not JSON: %q", raw)
			}
			if stage, ok := l.Fields["stage"].(string); ok {
				out[stage] = l
			}
		}
		return out
	}

	tests := []struct {
		name        string
		replaceErr  error
		checkValues func(*testing.T, map[string]line)
	}{
		{
			name: "every stage logs under its own name",
			checkValues: func(t *testing.T, lines map[string]line) {
				for _, stage := range []string{"fetch", "sequence", "classify", "aggregate", "materialize", "write"} {
					l, ok := lines[stage]
					if !ok {
						t.Errorf("no log line for stage %q", stage)
						continue
					}
					if l.Message != "[REFRESH_STAGE] Stage complete" || l.RunID == "" {
						t.Errorf("stage %q line = %+v", stage, l)
					}
				}
			},
		},
		{
			name:       "failed stage warns",
			replaceErr: repository.ErrRefreshLocked,
			checkValues: func(t *testing.T, lines map[string]line) {
				l := lines["write"]
				if l.Level != "WARN" || l.Message != "[REFRESH_STAGE_ERROR] Stage failed" {
					t.Errorf("write line = %+v", l)
				}
				if lines["materialize"].Level != "DEBUG" {
					t.Errorf("materialize line = %+v", lines["materialize"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRefreshHarness(t)
			h.rollups.replaceErr = tt.replaceErr

			var buf bytes.Buffer
			log := logging.NewStructuredLogger("test", "0", logging.DebugLevel)
			log.SetOutput(&buf)
			h.service.logger = log

			h.service.Refresh(context.Background(), 31, "")
			tt.checkValues(t, stageLines(t, &buf))
		})
	}
}

func TestRefreshService_CancelledBeforeWrite(t *testing.T) {
	h := newRefreshHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.service.Refresh(ctx, 31, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Refresh() error = %v, want context.Canceled", err)
	}
	if h.rollups.replaced != nil {
		t.Error("cancelled refresh must not write")
	}
	if len(h.rollups.runs) != 1 || h.rollups.runs[0].Status != models.RunFailed {
		t.Errorf("runs = %+v, want one failed run", h.rollups.runs)
	}
}

func TestRefreshService_PublishFailureKeepsCommit(t *testing.T) {
	h := newRefreshHarness(t)
	h.publisher.err = errors.New("nats: no servers available")

	if _, err := h.service.Refresh(context.Background(), 31, ""); err != nil {
		t.Fatalf("Refresh() error = %v, want nil", err)
	}
	if h.rollups.replaced == nil {
		t.Error("tables should be replaced")
	}
}

func TestServiceRules(t *testing.T) {
	rules := ServiceRules([]config.ServiceRule{
		{Field: "service", Contains: "Metro Express", Group: "other_transit"},
		{Field: "mode", Contains: "gondola", Group: "other_transit"},
	})
	c := transform.NewClassifier(rules)

	tests := []struct {
		service string
		mode    string
		want    models.ServiceGroup
	}{
		{"VIA Metro Express", "bus", models.GroupOtherTransit},
		{"VIA Metro", "bus", models.GroupFixedRoute},
		{"", "Gondola", models.GroupOtherTransit},
	}
	for _, tt := range tests {
		if got := c.ServiceGroup(tt.service, tt.mode); got != tt.want {
			t.Errorf("ServiceGroup(%q, %q) = %v, want %v", tt.service, tt.mode, got, tt.want)
		}
	}
}
