package models

import (
	"time"
)

// ServiceGroup is the coarse category of a leg's service and mode.
type ServiceGroup string

const (
	GroupFixedRoute     ServiceGroup = "fixed_route"
	GroupDemandResponse ServiceGroup = "demand_response"
	GroupWalk           ServiceGroup = "walk"
	GroupBike           ServiceGroup = "bike"
	GroupScooter        ServiceGroup = "scooter"
	GroupRideshare      ServiceGroup = "rideshare"
	GroupOtherTransit   ServiceGroup = "other_transit"
	GroupOther          ServiceGroup = "other"
)

// ServiceGroups lists every group in a fixed order.
var ServiceGroups = []ServiceGroup{
	GroupFixedRoute,
	GroupDemandResponse,
	GroupWalk,
	GroupBike,
	GroupScooter,
	GroupRideshare,
	GroupOtherTransit,
	GroupOther,
}

func (g ServiceGroup) Valid() bool {
	for _, v := range ServiceGroups {
		if g == v {
			return true
		}
	}
	return false
}

// IsTransit reports whether walk legs next to this group count as access or egress.
func (g ServiceGroup) IsTransit() bool {
	return g == GroupFixedRoute || g == GroupDemandResponse || g == GroupOtherTransit
}

type TransferType string

const (
	TransferNone        TransferType = "none"
	TransferCrossMode   TransferType = "fixed_demand"
	TransferRouteChange TransferType = "route_change"
)

type WalkDirection string

const (
	WalkAccess WalkDirection = "access"
	WalkEgress WalkDirection = "egress"
)

// Route and stop labels.
const (
	LabelDemandResponse = "On-Demand"
	LabelUnknownRoute   = "Unknown Route"
	LabelWalk           = "Walk"
	LabelNotApplicable  = "N/A"
	LabelNoStop         = "(no stop)"
	ProviderUnknown     = "Unknown"
)

// Neighbor carries the fields of an adjacent leg in the same trip. StopName is the
// predecessor's end stop or the successor's start stop.
type Neighbor struct {
	ServiceName    string
	RouteShortName string
	Mode           string
	StopName       string
}

// SequencedLeg is a CleanLeg placed within its (trip id, trip date) group.
type SequencedLeg struct {
	CleanLeg
	Position    int
	TripLegs    int
	Prev        *Neighbor
	Next        *Neighbor
	DurationMin *float64
}

// ClassifiedLeg adds service group, transfer flags and display labels.
type ClassifiedLeg struct {
	SequencedLeg
	ServiceGroup     ServiceGroup
	PrevServiceGroup ServiceGroup
	NextServiceGroup ServiceGroup
	IsTransfer       bool
	TransferType     TransferType
	FromRouteLabel   *string
	ToRouteLabel     string
	NextRouteLabel   *string
}

// Provider is the service name, or ProviderUnknown when blank.
func (l *ClassifiedLeg) Provider() string {
	if l.ServiceName == "" {
		return ProviderUnknown
	}
	return l.ServiceName
}

// Window is a half-open date range [Start, End) of trip dates, both at UTC midnight.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether the date part of d falls in the window.
func (w Window) Contains(d time.Time) bool {
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(w.Start) && day.Before(w.End)
}

func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}
