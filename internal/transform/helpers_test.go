package transform

import (
	"time"

	"mobility-rollups/internal/models"
)

var testDay = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func at(h, m int) *time.Time {
	t := testDay.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
	return &t
}

type legSpec struct {
	trip    string
	start   *time.Time
	end     *time.Time
	service string
	route   string
	mode    string
	from    string
	to      string
}

func makeLeg(s legSpec) models.CleanLeg {
	l := models.CleanLeg{
		UserTripID:          s.trip,
		TripDate:            testDay,
		StartTime:           s.start,
		EndTime:             s.end,
		ServiceName:         s.service,
		RouteShortName:      s.route,
		Mode:                s.mode,
		StartStopName:       s.from,
		EndStopName:         s.to,
		StartLatitude:       f64(29.4241),
		StartLongitude:      f64(-98.4936),
		EndLatitude:         f64(29.4300),
		EndLongitude:        f64(-98.4800),
		ManhattanDistanceMi: f64(1.2),
		EuclideanDistanceMi: f64(0.9),
		OriginZone:          "480291101001",
		DestZone:            "480291101002",
	}
	l.RowHash = l.ContentHash()
	return l
}

// noCoordinates drops the leg's geometry the way a null export row arrives.
func noCoordinates(l models.CleanLeg) models.CleanLeg {
	l.StartLatitude, l.StartLongitude, l.EndLatitude, l.EndLongitude = nil, nil, nil, nil
	l.ManhattanDistanceMi, l.EuclideanDistanceMi = nil, nil
	l.RowHash = l.ContentHash()
	return l
}

func bus(trip string, h, m int, route, from, to string) models.CleanLeg {
	return makeLeg(legSpec{trip, at(h, m), at(h, m+10), "VIA Metro", route, "bus", from, to})
}

func onDemand(trip string, h, m int, from, to string) models.CleanLeg {
	return makeLeg(legSpec{trip, at(h, m), at(h, m+10), "VIA Link", "", "on_demand", from, to})
}

func walk(trip string, h, m int, from, to string) models.CleanLeg {
	return makeLeg(legSpec{trip, at(h, m), at(h, m+5), "", "", "walk", from, to})
}

func classify(legs ...models.CleanLeg) []models.ClassifiedLeg {
	return NewClassifier(nil).Classify(Sequence(legs))
}

func findLeg(legs []models.ClassifiedLeg, trip string, position int) *models.ClassifiedLeg {
	for i := range legs {
		if legs[i].UserTripID == trip && legs[i].Position == position {
			return &legs[i]
		}
	}
	return nil
}
