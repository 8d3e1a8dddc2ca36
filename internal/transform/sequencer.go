package transform

import (
	"sort"
	"time"

	"mobility-rollups/internal/models"
)

// Sequence orders legs within each (trip id, trip date) group and links neighbors.
//
// Order within a trip is start time, then end time, then row hash. A missing start sorts
// after every present start; likewise for end. The result is ordered by trip date, trip id
// and position.
func Sequence(legs []models.CleanLeg) []models.SequencedLeg {
	out := make([]models.SequencedLeg, len(legs))
	for i := range legs {
		out[i].CleanLeg = legs[i]
	}

	sort.Slice(out, func(i, j int) bool {
		return lessLeg(&out[i].CleanLeg, &out[j].CleanLeg)
	})

	for start := 0; start < len(out); {
		end := start + 1
		for end < len(out) && sameTrip(&out[start].CleanLeg, &out[end].CleanLeg) {
			end++
		}
		linkTrip(out[start:end])
		start = end
	}
	return out
}

func linkTrip(trip []models.SequencedLeg) {
	for i := range trip {
		leg := &trip[i]
		leg.Position = i + 1
		leg.TripLegs = len(trip)
		leg.DurationMin = leg.DurationMinutes()
		leg.Prev = nil
		leg.Next = nil

		if i > 0 {
			p := &trip[i-1]
			leg.Prev = &models.Neighbor{
				ServiceName:    p.ServiceName,
				RouteShortName: p.RouteShortName,
				Mode:           p.Mode,
				StopName:       p.EndStopName,
			}
		}
		if i < len(trip)-1 {
			n := &trip[i+1]
			leg.Next = &models.Neighbor{
				ServiceName:    n.ServiceName,
				RouteShortName: n.RouteShortName,
				Mode:           n.Mode,
				StopName:       n.StartStopName,
			}
		}
	}
}

func sameTrip(a, b *models.CleanLeg) bool {
	return a.UserTripID == b.UserTripID && dateKey(a.TripDate) == dateKey(b.TripDate)
}

func lessLeg(a, b *models.CleanLeg) bool {
	if da, db := dateKey(a.TripDate), dateKey(b.TripDate); da != db {
		return da < db
	}
	if a.UserTripID != b.UserTripID {
		return a.UserTripID < b.UserTripID
	}
	if c := compareTime(a.StartTime, b.StartTime); c != 0 {
		return c < 0
	}
	if c := compareTime(a.EndTime, b.EndTime); c != 0 {
		return c < 0
	}
	return a.RowHash < b.RowHash
}

// compareTime orders nil after any value.
func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}
