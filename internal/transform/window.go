// Package transform holds the refresh engine: windowing, sequencing, transfer
// classification, aggregation and snapshot materialization. Everything here is a pure
// function of its input batch.
package transform

import (
	"strings"
	"time"

	"mobility-rollups/internal/models"
)

const dateKeyLayout = "2006-01-02"

// Window returns the trailing range [today-days, today) where today is now's calendar date in loc.
// A non-positive days yields an empty window.
func Window(days int, now time.Time, loc *time.Location) models.Window {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	if days < 0 {
		days = 0
	}
	return models.Window{Start: today.AddDate(0, 0, -days), End: today}
}

// FilterWindow keeps legs dated inside w whose origin and destination zone codes are
// zoneLen digits long and, when prefix is set, both start with it.
func FilterWindow(legs []models.CleanLeg, w models.Window, zoneLen int, prefix string) []models.CleanLeg {
	out := make([]models.CleanLeg, 0, len(legs))
	for _, l := range legs {
		if !w.Contains(l.TripDate) {
			continue
		}
		if !validZone(l.OriginZone, zoneLen) || !validZone(l.DestZone, zoneLen) {
			continue
		}
		if prefix != "" && (!strings.HasPrefix(l.OriginZone, prefix) || !strings.HasPrefix(l.DestZone, prefix)) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func validZone(code string, n int) bool {
	if len(code) != n {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func dateKey(t time.Time) string {
	return t.Format(dateKeyLayout)
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
