package transform

import (
	"math/rand"
	"testing"
	"time"

	"mobility-rollups/internal/models"
)

func f64(v float64) *float64 { return &v }

func flowRouteRow(date time.Time, group models.ServiceGroup, provider, route, origin string) models.FlowRouteAggregate {
	return models.FlowRouteAggregate{
		FlowAggregate: models.FlowAggregate{
			TripDate:     date,
			OriginZone:   origin,
			DestZone:     "480291101002",
			ServiceGroup: group,
			Provider:     provider,
			LegCount:     1,
			TripCount:    1,
			MeanStartLat: f64(29.4),
			MeanStartLon: f64(-98.5),
			MeanEndLat:   f64(29.5),
			MeanEndLon:   f64(-98.4),
		},
		RouteLabel: route,
	}
}

func snapshotWindow() models.Window {
	return models.Window{Start: testDay.AddDate(0, 0, -2), End: testDay.AddDate(0, 0, 1)}
}

func TestMaterializeFlows(t *testing.T) {
	w := snapshotWindow()
	noGeometry := flowRouteRow(testDay, models.GroupFixedRoute, "VIA Metro", "99", "480291101001")
	noGeometry.MeanEndLon = nil

	rows := []models.FlowRouteAggregate{
		flowRouteRow(testDay, models.GroupFixedRoute, "VIA Metro", "12", "480291101001"),
		flowRouteRow(testDay.AddDate(0, 0, -1), models.GroupFixedRoute, "VIA Metro", "10", "480291101001"),
		flowRouteRow(testDay, models.GroupDemandResponse, "VIA Link", models.LabelDemandResponse, "480291101001"),
		flowRouteRow(testDay, models.GroupFixedRoute, "VIA Metro", "10", "480291101003"),
		flowRouteRow(testDay, models.GroupFixedRoute, "VIA Metro", "10", "480291101001"),
		flowRouteRow(w.End, models.GroupFixedRoute, "VIA Metro", "10", "480291101001"),
		noGeometry,
	}

	got := MaterializeFlows(rows, w)

	want := []struct {
		date   time.Time
		group  models.ServiceGroup
		route  string
		origin string
	}{
		{testDay.AddDate(0, 0, -1), models.GroupFixedRoute, "10", "480291101001"},
		{testDay, models.GroupDemandResponse, models.LabelDemandResponse, "480291101001"},
		{testDay, models.GroupFixedRoute, "10", "480291101001"},
		{testDay, models.GroupFixedRoute, "10", "480291101003"},
		{testDay, models.GroupFixedRoute, "12", "480291101001"},
	}
	if len(got) != len(want) {
		t.Fatalf("MaterializeFlows() returned %d rows, want %d", len(got), len(want))
	}
	for i, w := range want {
		r := got[i]
		if r.ObjectID != int64(i+1) {
			t.Errorf("row %d ObjectID = %d, want %d", i, r.ObjectID, i+1)
		}
		if !r.TripDate.Equal(w.date) || r.ServiceGroup != w.group || r.RouteLabel != w.route || r.OriginZone != w.origin {
			t.Errorf("row %d = %v/%v/%q/%q, want %v/%v/%q/%q", i,
				r.TripDate.Format("2006-01-02"), r.ServiceGroup, r.RouteLabel, r.OriginZone,
				w.date.Format("2006-01-02"), w.group, w.route, w.origin)
		}
	}
}

func TestMaterializeFlows_Deterministic(t *testing.T) {
	var rows []models.FlowRouteAggregate
	for _, route := range []string{"10", "12", "14", "2", "100"} {
		for _, origin := range []string{"480291101001", "480291101002", "480291101003"} {
			rows = append(rows, flowRouteRow(testDay, models.GroupFixedRoute, "VIA Metro", route, origin))
		}
	}

	ids := func(in []models.FlowRouteAggregate) map[string]int64 {
		out := make(map[string]int64)
		for _, r := range MaterializeFlows(in, snapshotWindow()) {
			out[r.RouteLabel+"|"+r.OriginZone] = r.ObjectID
		}
		return out
	}

	first := ids(rows)
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 5; run++ {
		shuffled := append([]models.FlowRouteAggregate(nil), rows...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		again := ids(shuffled)
		for k, id := range first {
			if again[k] != id {
				t.Fatalf("run %d: %s got id %d, want %d", run, k, again[k], id)
			}
		}
	}
}

func TestMaterializeHotspots(t *testing.T) {
	row := func(tt models.TransferType, key string, lat *float64) models.HotspotRouteAggregate {
		return models.HotspotRouteAggregate{
			HotspotAggregate: models.HotspotAggregate{
				TripDate:    testDay,
				HotspotKey:  key,
				HotspotHash: HotspotHash(key),
				Provider:    "VIA Metro",
				StopName:    key,
				MeanLat:     lat,
				MeanLon:     f64(-98.5),
			},
			ToRouteLabel: "12",
			TransferType: tt,
		}
	}

	got := MaterializeHotspots([]models.HotspotRouteAggregate{
		row(models.TransferRouteChange, "S2", f64(29.4)),
		row(models.TransferCrossMode, "S9", f64(29.4)),
		row(models.TransferRouteChange, "S1", f64(29.4)),
		row(models.TransferRouteChange, "S0", nil),
	}, snapshotWindow())

	wantKeys := []string{"S9", "S1", "S2"}
	if len(got) != len(wantKeys) {
		t.Fatalf("MaterializeHotspots() returned %d rows, want %d", len(got), len(wantKeys))
	}
	for i, k := range wantKeys {
		if got[i].HotspotKey != k || got[i].ObjectID != int64(i+1) {
			t.Errorf("row %d = %q id %d, want %q id %d", i, got[i].HotspotKey, got[i].ObjectID, k, i+1)
		}
	}
}

func TestMaterializeWalkEgress(t *testing.T) {
	row := func(dir models.WalkDirection, stop string) models.WalkAccessEgress {
		return models.WalkAccessEgress{
			TripDate:            testDay,
			Direction:           dir,
			RelatedServiceGroup: models.GroupFixedRoute,
			RelatedRouteLabel:   "10",
			StopName:            stop,
			WalkLegs:            1,
			TripCount:           1,
			MeanStartLat:        f64(29.4),
			MeanStartLon:        f64(-98.5),
			MeanEndLat:          f64(29.5),
			MeanEndLon:          f64(-98.4),
		}
	}

	got := MaterializeWalkEgress([]models.WalkAccessEgress{
		row(models.WalkEgress, "S2"),
		row(models.WalkAccess, "S1"),
		row(models.WalkEgress, models.LabelNoStop),
	}, snapshotWindow())

	if len(got) != 2 {
		t.Fatalf("MaterializeWalkEgress() returned %d rows, want 2", len(got))
	}
	if got[0].StopName != models.LabelNoStop || got[1].StopName != "S2" {
		t.Errorf("order = %q, %q", got[0].StopName, got[1].StopName)
	}
	for i, r := range got {
		if r.Direction != models.WalkEgress || r.ObjectID != int64(i+1) {
			t.Errorf("row %d = %v id %d", i, r.Direction, r.ObjectID)
		}
	}
}

func TestMaterialize_EmptyWindow(t *testing.T) {
	set := &models.RollupSet{
		Window:     models.Window{Start: testDay, End: testDay},
		FlowRoutes: []models.FlowRouteAggregate{flowRouteRow(testDay, models.GroupFixedRoute, "VIA Metro", "10", "480291101001")},
	}
	Materialize(set)
	if len(set.FlowSnapshot) != 0 || len(set.HotspotSnapshot) != 0 || len(set.WalkEgressSnapshot) != 0 {
		t.Errorf("empty window produced snapshot rows: %+v", set.RowCounts())
	}
}

func TestMaterializeFlows_LegsWithoutCoordinates(t *testing.T) {
	legs := classify(
		bus("t1", 8, 0, "10", "Main & 1st", "Main & 9th"),
		noCoordinates(bus("t1", 8, 20, "11", "Main & 9th", "Broadway")),
		bus("t1", 8, 40, "12", "Broadway", "Airport"),
	)

	middle := findLeg(legs, "t1", 2)
	last := findLeg(legs, "t1", 3)
	if middle == nil || last == nil {
		t.Fatalf("legs without coordinates must keep their place in the trip: %+v", legs)
	}
	if last.FromRouteLabel == nil || *last.FromRouteLabel != "11" {
		t.Errorf("last leg FromRouteLabel = %v, want 11", last.FromRouteLabel)
	}

	flows := AggregateFlowRoutes(legs)
	if len(flows) != 3 {
		t.Fatalf("AggregateFlowRoutes() returned %d rows, want 3", len(flows))
	}
	for _, f := range flows {
		if f.RouteLabel == "11" && (f.MeanStartLat != nil || f.AvgEuclideanMi != nil || f.LegCount != 1) {
			t.Errorf("route 11 row = %+v, want one leg with undefined geometry", f)
		}
	}

	got := MaterializeFlows(flows, snapshotWindow())
	if len(got) != 2 {
		t.Fatalf("MaterializeFlows() returned %d rows, want 2", len(got))
	}
	for i, r := range got {
		if r.RouteLabel == "11" {
			t.Errorf("row %d: flow without geometry should be excluded", i)
		}
		if r.ObjectID != int64(i+1) {
			t.Errorf("row %d ObjectID = %d, want %d", i, r.ObjectID, i+1)
		}
	}
}
