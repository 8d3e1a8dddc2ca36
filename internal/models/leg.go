package models

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"
)

// RawLegRecord is one enriched leg as delivered by the ingestion collaborator.
// Every column is nullable text; parsing happens in ToCleanLeg.
type RawLegRecord struct {
	UserTripID          *string `db:"user_trip_id"`
	FileDate            *string `db:"file_date"`
	StartTime           *string `db:"start_time"`
	EndTime             *string `db:"end_time"`
	StartLongitude      *string `db:"start_longitude"`
	StartLatitude       *string `db:"start_latitude"`
	EndLongitude        *string `db:"end_longitude"`
	EndLatitude         *string `db:"end_latitude"`
	ServiceName         *string `db:"service_name"`
	RouteShortName      *string `db:"route_short_name"`
	Mode                *string `db:"mode"`
	StartStopName       *string `db:"start_stop_name"`
	EndStopName         *string `db:"end_stop_name"`
	SourceFile          *string `db:"source_file"`
	ManhattanDistanceMi *string `db:"manhattan_distance_mi"`
	EuclideanDistanceMi *string `db:"euclidean_distance_mi"`
	OriginZone          *string `db:"origin_zone"`
	DestZone            *string `db:"dest_zone"`
}

// CleanLeg is a validated leg keyed by its content hash. Rows are append-only.
// Blank and null text columns are both stored as "".
type CleanLeg struct {
	RowHash             string     `json:"row_hash" db:"row_hash"`
	UserTripID          string     `json:"user_trip_id" db:"user_trip_id"`
	TripDate            time.Time  `json:"trip_date" db:"trip_date"`
	StartTime           *time.Time `json:"start_time,omitempty" db:"start_time"`
	EndTime             *time.Time `json:"end_time,omitempty" db:"end_time"`
	StartLongitude      *float64   `json:"start_longitude,omitempty" db:"start_longitude"`
	StartLatitude       *float64   `json:"start_latitude,omitempty" db:"start_latitude"`
	EndLongitude        *float64   `json:"end_longitude,omitempty" db:"end_longitude"`
	EndLatitude         *float64   `json:"end_latitude,omitempty" db:"end_latitude"`
	ServiceName         string     `json:"service_name" db:"service_name"`
	RouteShortName      string     `json:"route_short_name" db:"route_short_name"`
	Mode                string     `json:"mode" db:"mode"`
	StartStopName       string     `json:"start_stop_name" db:"start_stop_name"`
	EndStopName         string     `json:"end_stop_name" db:"end_stop_name"`
	SourceFile          string     `json:"source_file" db:"source_file"`
	ManhattanDistanceMi *float64   `json:"manhattan_distance_mi,omitempty" db:"manhattan_distance_mi"`
	EuclideanDistanceMi *float64   `json:"euclidean_distance_mi,omitempty" db:"euclidean_distance_mi"`
	OriginZone          string     `json:"origin_zone" db:"origin_zone"`
	DestZone            string     `json:"dest_zone" db:"dest_zone"`
}

const dateLayout = "2006-01-02"

// canonical timestamp form used both for hashing and for display
const timestampLayout = "2006-01-02T15:04:05.000Z"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
}

// ToCleanLeg validates and normalizes the record. Timestamps without an offset are read as UTC.
// Blank coordinates are kept as null; a missing distance is computed only when all four are known.
func (r *RawLegRecord) ToCleanLeg() (*CleanLeg, error) {
	tripID := text(r.UserTripID)
	if tripID == "" {
		return nil, &ValidationError{Field: "user_trip_id", Message: "missing trip identifier"}
	}

	tripDate, err := parseTripDate(text(r.FileDate))
	if err != nil {
		return nil, err
	}

	leg := &CleanLeg{
		UserTripID:     tripID,
		TripDate:       tripDate,
		ServiceName:    text(r.ServiceName),
		RouteShortName: text(r.RouteShortName),
		Mode:           text(r.Mode),
		StartStopName:  text(r.StartStopName),
		EndStopName:    text(r.EndStopName),
		SourceFile:     text(r.SourceFile),
		OriginZone:     text(r.OriginZone),
		DestZone:       text(r.DestZone),
	}

	if leg.StartTime, err = parseTimestamp("start_time", r.StartTime); err != nil {
		return nil, err
	}
	if leg.EndTime, err = parseTimestamp("end_time", r.EndTime); err != nil {
		return nil, err
	}

	if leg.StartLongitude, err = parseCoordinate("start_longitude", r.StartLongitude, 180); err != nil {
		return nil, err
	}
	if leg.StartLatitude, err = parseCoordinate("start_latitude", r.StartLatitude, 90); err != nil {
		return nil, err
	}
	if leg.EndLongitude, err = parseCoordinate("end_longitude", r.EndLongitude, 180); err != nil {
		return nil, err
	}
	if leg.EndLatitude, err = parseCoordinate("end_latitude", r.EndLatitude, 90); err != nil {
		return nil, err
	}

	if leg.EuclideanDistanceMi, err = parseDistance("euclidean_distance_mi", r.EuclideanDistanceMi); err != nil {
		return nil, err
	}
	if leg.ManhattanDistanceMi, err = parseDistance("manhattan_distance_mi", r.ManhattanDistanceMi); err != nil {
		return nil, err
	}
	if leg.HasCoordinates() {
		lat1, lon1, lat2, lon2 := *leg.StartLatitude, *leg.StartLongitude, *leg.EndLatitude, *leg.EndLongitude
		if leg.EuclideanDistanceMi == nil {
			d := GreatCircleMiles(lat1, lon1, lat2, lon2)
			leg.EuclideanDistanceMi = &d
		}
		if leg.ManhattanDistanceMi == nil {
			d := ManhattanMiles(lat1, lon1, lat2, lon2)
			leg.ManhattanDistanceMi = &d
		}
	}

	leg.RowHash = leg.ContentHash()
	return leg, nil
}

// ContentHash is the hex SHA-256 of the leg's canonical fields joined by "|".
// Distances are derived values and are excluded.
func (l *CleanLeg) ContentHash() string {
	parts := []string{
		l.UserTripID,
		formatTimestamp(l.StartTime),
		formatTimestamp(l.EndTime),
		formatFloat(l.StartLongitude),
		formatFloat(l.StartLatitude),
		formatFloat(l.EndLongitude),
		formatFloat(l.EndLatitude),
		l.ServiceName,
		l.RouteShortName,
		l.Mode,
		l.StartStopName,
		l.EndStopName,
		l.SourceFile,
		l.TripDate.Format(dateLayout),
		l.OriginZone,
		l.DestZone,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// HasCoordinates reports whether both endpoints are known.
func (l *CleanLeg) HasCoordinates() bool {
	return l.StartLatitude != nil && l.StartLongitude != nil && l.EndLatitude != nil && l.EndLongitude != nil
}

// DurationMinutes is nil when either timestamp is missing or the leg ends before it starts.
func (l *CleanLeg) DurationMinutes() *float64 {
	if l.StartTime == nil || l.EndTime == nil || l.EndTime.Before(*l.StartTime) {
		return nil
	}
	d := l.EndTime.Sub(*l.StartTime).Minutes()
	return &d
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

func parseTripDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, &ValidationError{Field: "file_date", Message: "missing trip date"}
	}
	if d, err := time.Parse(dateLayout, raw); err == nil {
		return d, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, &ValidationError{Field: "file_date", Value: raw, Message: "unparseable trip date"}
}

func parseTimestamp(field string, raw *string) (*time.Time, error) {
	s := text(raw)
	if s == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC().Truncate(time.Millisecond)
			return &t, nil
		}
	}
	return nil, &ValidationError{Field: field, Value: s, Message: "unparseable timestamp"}
}

// parseCoordinate returns nil for a blank value. Anything else must be a finite number within limit.
func parseCoordinate(field string, raw *string, limit float64) (*float64, error) {
	s := text(raw)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, &ValidationError{Field: field, Value: s, Message: "unparseable coordinate"}
	}
	if v < -limit || v > limit {
		return nil, &ValidationError{Field: field, Value: s, Message: "coordinate out of range"}
	}
	return &v, nil
}

// parseDistance returns nil for a missing or non-finite value; those are recomputed when the coordinates allow.
func parseDistance(field string, raw *string) (*float64, error) {
	s := text(raw)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, &ValidationError{Field: field, Value: s, Message: "unparseable distance"}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, nil
	}
	if v < 0 {
		return nil, &ValidationError{Field: field, Value: s, Message: "negative distance"}
	}
	return &v, nil
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return e.Field + ": " + e.Message
	}
	return e.Field + ": " + e.Message + " (" + e.Value + ")"
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}
