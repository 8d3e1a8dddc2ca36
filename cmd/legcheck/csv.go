package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"mobility-rollups/internal/models"
)

// rawColumns maps a raw_leg_trips column name to its field.
var rawColumns = map[string]func(r *models.RawLegRecord) **string{
	"user_trip_id":          func(r *models.RawLegRecord) **string { return &r.UserTripID },
	"file_date":             func(r *models.RawLegRecord) **string { return &r.FileDate },
	"start_time":            func(r *models.RawLegRecord) **string { return &r.StartTime },
	"end_time":              func(r *models.RawLegRecord) **string { return &r.EndTime },
	"start_longitude":       func(r *models.RawLegRecord) **string { return &r.StartLongitude },
	"start_latitude":        func(r *models.RawLegRecord) **string { return &r.StartLatitude },
	"end_longitude":         func(r *models.RawLegRecord) **string { return &r.EndLongitude },
	"end_latitude":          func(r *models.RawLegRecord) **string { return &r.EndLatitude },
	"service_name":          func(r *models.RawLegRecord) **string { return &r.ServiceName },
	"route_short_name":      func(r *models.RawLegRecord) **string { return &r.RouteShortName },
	"mode":                  func(r *models.RawLegRecord) **string { return &r.Mode },
	"start_stop_name":       func(r *models.RawLegRecord) **string { return &r.StartStopName },
	"end_stop_name":         func(r *models.RawLegRecord) **string { return &r.EndStopName },
	"source_file":           func(r *models.RawLegRecord) **string { return &r.SourceFile },
	"manhattan_distance_mi": func(r *models.RawLegRecord) **string { return &r.ManhattanDistanceMi },
	"euclidean_distance_mi": func(r *models.RawLegRecord) **string { return &r.EuclideanDistanceMi },
	"origin_zone":           func(r *models.RawLegRecord) **string { return &r.OriginZone },
	"dest_zone":             func(r *models.RawLegRecord) **string { return &r.DestZone },
}

// readRawLegs parses a headed CSV export of raw_leg_trips. Unknown columns are ignored and
// empty cells become nulls.
func readRawLegs(r io.Reader) ([]models.RawLegRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty input")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	setters := make([]func(r *models.RawLegRecord) **string, len(header))
	known := 0
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if f, ok := rawColumns[name]; ok {
			setters[i] = f
			known++
		}
	}
	if known == 0 {
		return nil, errors.New("header has no raw leg columns")
	}

	var records []models.RawLegRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}

		var rec models.RawLegRecord
		for i, cell := range row {
			if i >= len(setters) || setters[i] == nil || strings.TrimSpace(cell) == "" {
				continue
			}
			v := cell
			*setters[i](&rec) = &v
		}
		records = append(records, rec)
	}

	return records, nil
}
