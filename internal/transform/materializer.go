package transform

import (
	"sort"
	"strings"

	"mobility-rollups/internal/models"
)

// MaterializeFlows keeps route flows dated inside w with complete line geometry and numbers
// them 1..n by date, service group, provider, route label, origin and destination.
func MaterializeFlows(rows []models.FlowRouteAggregate, w models.Window) []models.FlowSnapshotRow {
	out := make([]models.FlowSnapshotRow, 0, len(rows))
	for _, r := range rows {
		if !w.Contains(r.TripDate) || !hasLine(r.MeanStartLat, r.MeanStartLon, r.MeanEndLat, r.MeanEndLon) {
			continue
		}
		out = append(out, models.FlowSnapshotRow{FlowRouteAggregate: r})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if c := a.TripDate.Compare(b.TripDate); c != 0 {
			return c < 0
		}
		for _, c := range []int{
			strings.Compare(string(a.ServiceGroup), string(b.ServiceGroup)),
			strings.Compare(a.Provider, b.Provider),
			strings.Compare(a.RouteLabel, b.RouteLabel),
			strings.Compare(a.OriginZone, b.OriginZone),
			strings.Compare(a.DestZone, b.DestZone),
		} {
			if c != 0 {
				return c < 0
			}
		}
		return false
	})

	for i := range out {
		out[i].ObjectID = int64(i + 1)
	}
	return out
}

// MaterializeHotspots numbers route hotspots with a defined point by date, transfer type,
// provider, route label, hotspot key, hash and stop name.
func MaterializeHotspots(rows []models.HotspotRouteAggregate, w models.Window) []models.HotspotSnapshotRow {
	out := make([]models.HotspotSnapshotRow, 0, len(rows))
	for _, r := range rows {
		if !w.Contains(r.TripDate) || r.MeanLat == nil || r.MeanLon == nil {
			continue
		}
		out = append(out, models.HotspotSnapshotRow{HotspotRouteAggregate: r})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if c := a.TripDate.Compare(b.TripDate); c != 0 {
			return c < 0
		}
		for _, c := range []int{
			strings.Compare(string(a.TransferType), string(b.TransferType)),
			strings.Compare(a.Provider, b.Provider),
			strings.Compare(a.ToRouteLabel, b.ToRouteLabel),
			strings.Compare(a.HotspotKey, b.HotspotKey),
			strings.Compare(a.HotspotHash, b.HotspotHash),
			strings.Compare(a.StopName, b.StopName),
		} {
			if c != 0 {
				return c < 0
			}
		}
		return false
	})

	for i := range out {
		out[i].ObjectID = int64(i + 1)
	}
	return out
}

// MaterializeWalkEgress keeps only egress rows and numbers them by date, related service group,
// related route and stop.
func MaterializeWalkEgress(rows []models.WalkAccessEgress, w models.Window) []models.WalkEgressSnapshotRow {
	out := make([]models.WalkEgressSnapshotRow, 0, len(rows))
	for _, r := range rows {
		if r.Direction != models.WalkEgress || !w.Contains(r.TripDate) {
			continue
		}
		if !hasLine(r.MeanStartLat, r.MeanStartLon, r.MeanEndLat, r.MeanEndLon) {
			continue
		}
		out = append(out, models.WalkEgressSnapshotRow{WalkAccessEgress: r})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if c := a.TripDate.Compare(b.TripDate); c != 0 {
			return c < 0
		}
		for _, c := range []int{
			strings.Compare(string(a.RelatedServiceGroup), string(b.RelatedServiceGroup)),
			strings.Compare(a.RelatedRouteLabel, b.RelatedRouteLabel),
			strings.Compare(a.StopName, b.StopName),
		} {
			if c != 0 {
				return c < 0
			}
		}
		return false
	})

	for i := range out {
		out[i].ObjectID = int64(i + 1)
	}
	return out
}

// Materialize fills the snapshot fields of set from its aggregates.
func Materialize(set *models.RollupSet) {
	set.FlowSnapshot = MaterializeFlows(set.FlowRoutes, set.Window)
	set.HotspotSnapshot = MaterializeHotspots(set.HotspotRoutes, set.Window)
	set.WalkEgressSnapshot = MaterializeWalkEgress(set.WalkAccessEgress, set.Window)
}

func hasLine(coords ...*float64) bool {
	for _, c := range coords {
		if c == nil {
			return false
		}
	}
	return true
}
