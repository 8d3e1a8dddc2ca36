package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// FlowAggregate summarizes legs between two zones on one day.
type FlowAggregate struct {
	TripDate          time.Time    `json:"trip_date" db:"trip_date"`
	OriginZone        string       `json:"origin_zone" db:"origin_zone"`
	DestZone          string       `json:"dest_zone" db:"dest_zone"`
	ServiceGroup      ServiceGroup `json:"service_group" db:"service_group"`
	Provider          string       `json:"provider" db:"provider"`
	LegCount          int64        `json:"leg_count" db:"leg_count"`
	TripCount         int64        `json:"trip_count" db:"trip_count"`
	TransferTripCount int64        `json:"transfer_trip_count" db:"transfer_trip_count"`
	AvgManhattanMi    *float64     `json:"avg_manhattan_mi,omitempty" db:"avg_manhattan_mi"`
	AvgEuclideanMi    *float64     `json:"avg_euclidean_mi,omitempty" db:"avg_euclidean_mi"`
	MeanStartLat      *float64     `json:"mean_start_lat,omitempty" db:"mean_start_lat"`
	MeanStartLon      *float64     `json:"mean_start_lon,omitempty" db:"mean_start_lon"`
	MeanEndLat        *float64     `json:"mean_end_lat,omitempty" db:"mean_end_lat"`
	MeanEndLon        *float64     `json:"mean_end_lon,omitempty" db:"mean_end_lon"`
	AvgDurationMin    *float64     `json:"avg_duration_min,omitempty" db:"avg_duration_min"`
}

// FlowRouteAggregate is a FlowAggregate split by the leg's route label.
type FlowRouteAggregate struct {
	FlowAggregate
	RouteLabel string `json:"route_label" db:"route_label"`
}

// HotspotAggregate summarizes transfer legs boarding at one place on one day.
type HotspotAggregate struct {
	TripDate       time.Time `json:"trip_date" db:"trip_date"`
	HotspotKey     string    `json:"hotspot_key" db:"hotspot_key"`
	HotspotHash    string    `json:"hotspot_hash" db:"hotspot_hash"`
	Provider       string    `json:"provider" db:"provider"`
	StopName       string    `json:"stop_name" db:"stop_name"`
	TransferEvents int64     `json:"transfer_events" db:"transfer_events"`
	TransferTrips  int64     `json:"transfer_trips" db:"transfer_trips"`
	MeanLat        *float64  `json:"mean_lat,omitempty" db:"mean_lat"`
	MeanLon        *float64  `json:"mean_lon,omitempty" db:"mean_lon"`
	AvgDurationMin *float64  `json:"avg_duration_min,omitempty" db:"avg_duration_min"`
}

type HotspotRouteAggregate struct {
	HotspotAggregate
	ToRouteLabel string       `json:"to_route_label" db:"to_route_label"`
	TransferType TransferType `json:"transfer_type" db:"transfer_type"`
}

type HotspotRoutePairAggregate struct {
	HotspotAggregate
	FromRouteLabel string       `json:"from_route_label" db:"from_route_label"`
	ToRouteLabel   string       `json:"to_route_label" db:"to_route_label"`
	TransferType   TransferType `json:"transfer_type" db:"transfer_type"`
}

// OriginSummary is the per-origin daily rollup. PctTripsWithTransfer is a percentage.
type OriginSummary struct {
	TripDate             time.Time `json:"trip_date" db:"trip_date"`
	OriginZone           string    `json:"origin_zone" db:"origin_zone"`
	TotalLegs            int64     `json:"total_legs" db:"total_legs"`
	TransferLegs         int64     `json:"transfer_legs" db:"transfer_legs"`
	TripCount            int64     `json:"trip_count" db:"trip_count"`
	TransferTripCount    int64     `json:"transfer_trip_count" db:"transfer_trip_count"`
	PctTripsWithTransfer float64   `json:"pct_trips_with_transfer" db:"pct_trips_with_transfer"`
	AvgDurationMin       *float64  `json:"avg_duration_min,omitempty" db:"avg_duration_min"`
}

// WalkAccessEgress summarizes walk legs that reach or leave a transit leg.
type WalkAccessEgress struct {
	TripDate            time.Time     `json:"trip_date" db:"trip_date"`
	Direction           WalkDirection `json:"direction" db:"direction"`
	RelatedServiceGroup ServiceGroup  `json:"related_service_group" db:"related_service_group"`
	RelatedRouteLabel   string        `json:"related_route_label" db:"related_route_label"`
	StopName            string        `json:"stop_name" db:"stop_name"`
	WalkLegs            int64         `json:"walk_legs" db:"walk_legs"`
	TripCount           int64         `json:"trip_count" db:"trip_count"`
	AvgDurationMin      *float64      `json:"avg_duration_min,omitempty" db:"avg_duration_min"`
	AvgManhattanMi      *float64      `json:"avg_manhattan_mi,omitempty" db:"avg_manhattan_mi"`
	AvgEuclideanMi      *float64      `json:"avg_euclidean_mi,omitempty" db:"avg_euclidean_mi"`
	MeanStartLat        *float64      `json:"mean_start_lat,omitempty" db:"mean_start_lat"`
	MeanStartLon        *float64      `json:"mean_start_lon,omitempty" db:"mean_start_lon"`
	MeanEndLat          *float64      `json:"mean_end_lat,omitempty" db:"mean_end_lat"`
	MeanEndLon          *float64      `json:"mean_end_lon,omitempty" db:"mean_end_lon"`
}

// Snapshot rows carry a dense 1-based object id assigned by natural-key order.
type FlowSnapshotRow struct {
	ObjectID int64 `json:"object_id" db:"object_id"`
	FlowRouteAggregate
}

type HotspotSnapshotRow struct {
	ObjectID int64 `json:"object_id" db:"object_id"`
	HotspotRouteAggregate
}

type WalkEgressSnapshotRow struct {
	ObjectID int64 `json:"object_id" db:"object_id"`
	WalkAccessEgress
}

// RollupSet is everything one refresh writes.
type RollupSet struct {
	Window             Window
	Flows              []FlowAggregate
	FlowRoutes         []FlowRouteAggregate
	Hotspots           []HotspotAggregate
	HotspotRoutes      []HotspotRouteAggregate
	HotspotRoutePairs  []HotspotRoutePairAggregate
	Origins            []OriginSummary
	WalkAccessEgress   []WalkAccessEgress
	FlowSnapshot       []FlowSnapshotRow
	HotspotSnapshot    []HotspotSnapshotRow
	WalkEgressSnapshot []WalkEgressSnapshotRow
}

// RowCounts returns the row count per destination table name.
func (s *RollupSet) RowCounts() RowCounts {
	return RowCounts{
		TableFlows:              len(s.Flows),
		TableFlowRoutes:         len(s.FlowRoutes),
		TableHotspots:           len(s.Hotspots),
		TableHotspotRoutes:      len(s.HotspotRoutes),
		TableHotspotRoutePairs:  len(s.HotspotRoutePairs),
		TableOriginSummary:      len(s.Origins),
		TableWalkAccessEgress:   len(s.WalkAccessEgress),
		TableFlowSnapshot:       len(s.FlowSnapshot),
		TableHotspotSnapshot:    len(s.HotspotSnapshot),
		TableWalkEgressSnapshot: len(s.WalkEgressSnapshot),
	}
}

// Destination table names.
const (
	TableRawLegs            = "raw_leg_trips"
	TableCleanLegs          = "leg_trips_clean"
	TableFlows              = "flow_bg_daily"
	TableFlowRoutes         = "flow_bg_daily_route"
	TableHotspots           = "transfer_hotspots_daily"
	TableHotspotRoutes      = "transfer_hotspots_daily_route"
	TableHotspotRoutePairs  = "transfer_hotspots_daily_route_pair"
	TableOriginSummary      = "bg_daily_summary"
	TableWalkAccessEgress   = "walk_access_egress_daily"
	TableFlowSnapshot       = "snapshot_flow_daily_route"
	TableHotspotSnapshot    = "snapshot_transfer_hotspots_daily_route"
	TableWalkEgressSnapshot = "snapshot_walk_egress_daily"
	TableRefreshState       = "refresh_state"
	TableRefreshRuns        = "refresh_runs"
)

// RowCounts maps table name to rows written. Stored as jsonb.
type RowCounts map[string]int

func (c RowCounts) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *RowCounts) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = RowCounts{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported row counts type %T", src)
	}
	return json.Unmarshal(data, c)
}

// Refresh run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// RefreshRun is one row of refresh history.
type RefreshRun struct {
	RunID        string     `json:"run_id" db:"run_id"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	WindowStart  time.Time  `json:"window_start" db:"window_start"`
	WindowEnd    time.Time  `json:"window_end" db:"window_end"`
	RegionPrefix *string    `json:"region_prefix,omitempty" db:"region_prefix"`
	LegsInWindow int        `json:"legs_in_window" db:"legs_in_window"`
	Status       string     `json:"status" db:"status"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	RowCounts    RowCounts  `json:"row_counts" db:"row_counts"`
}

// Watermark is the incremental load position.
type Watermark struct {
	LastFileDate *time.Time `json:"last_file_date,omitempty" db:"last_file_date"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
}
