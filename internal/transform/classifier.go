package transform

import (
	"strings"

	"mobility-rollups/internal/models"
)

// RuleField selects which leg attribute a ServiceRule inspects.
type RuleField string

const (
	RuleMode    RuleField = "mode"
	RuleService RuleField = "service"
)

// ServiceRule assigns Group when Field contains the lower-case substring Contains.
type ServiceRule struct {
	Field    RuleField
	Contains string
	Group    models.ServiceGroup
}

// DefaultServiceRules is evaluated top to bottom; the first match wins and a leg matching
// nothing is GroupOther.
var DefaultServiceRules = []ServiceRule{
	{RuleMode, "walk", models.GroupWalk},
	{RuleMode, "foot", models.GroupWalk},
	{RuleMode, "bike", models.GroupBike},
	{RuleMode, "bicycl", models.GroupBike},
	{RuleMode, "scooter", models.GroupScooter},
	{RuleService, "uber", models.GroupRideshare},
	{RuleService, "lyft", models.GroupRideshare},
	{RuleService, "taxi", models.GroupRideshare},
	{RuleMode, "rideshare", models.GroupRideshare},
	{RuleMode, "ride_hail", models.GroupRideshare},
	{RuleMode, "taxi", models.GroupRideshare},
	{RuleService, "on-demand", models.GroupDemandResponse},
	{RuleService, "on demand", models.GroupDemandResponse},
	{RuleService, "ondemand", models.GroupDemandResponse},
	{RuleService, "microtransit", models.GroupDemandResponse},
	{RuleMode, "demand", models.GroupDemandResponse},
	{RuleMode, "microtransit", models.GroupDemandResponse},
	{RuleMode, "rail", models.GroupOtherTransit},
	{RuleMode, "train", models.GroupOtherTransit},
	{RuleMode, "subway", models.GroupOtherTransit},
	{RuleMode, "tram", models.GroupOtherTransit},
	{RuleMode, "streetcar", models.GroupOtherTransit},
	{RuleMode, "ferry", models.GroupOtherTransit},
	{RuleMode, "bus", models.GroupFixedRoute},
	{RuleMode, "transit", models.GroupFixedRoute},
}

// Classifier derives service groups, transfer flags and route labels.
type Classifier struct {
	rules []ServiceRule
}

// NewClassifier puts extra rules ahead of DefaultServiceRules.
func NewClassifier(extra []ServiceRule) *Classifier {
	rules := make([]ServiceRule, 0, len(extra)+len(DefaultServiceRules))
	for _, r := range extra {
		r.Contains = strings.ToLower(strings.TrimSpace(r.Contains))
		if r.Contains == "" || !r.Group.Valid() {
			continue
		}
		rules = append(rules, r)
	}
	rules = append(rules, DefaultServiceRules...)
	return &Classifier{rules: rules}
}

func (c *Classifier) ServiceGroup(service, mode string) models.ServiceGroup {
	service = strings.ToLower(service)
	mode = strings.ToLower(mode)
	for _, r := range c.rules {
		subject := mode
		if r.Field == RuleService {
			subject = service
		}
		if strings.Contains(subject, r.Contains) {
			return r.Group
		}
	}
	return models.GroupOther
}

// Classify labels every leg. The input order is preserved.
func (c *Classifier) Classify(legs []models.SequencedLeg) []models.ClassifiedLeg {
	out := make([]models.ClassifiedLeg, len(legs))
	for i := range legs {
		leg := legs[i]
		group := c.ServiceGroup(leg.ServiceName, leg.Mode)

		cl := models.ClassifiedLeg{
			SequencedLeg: leg,
			ServiceGroup: group,
			TransferType: models.TransferNone,
			ToRouteLabel: RouteLabel(group, leg.RouteShortName),
		}

		if leg.Prev != nil {
			pg := c.ServiceGroup(leg.Prev.ServiceName, leg.Prev.Mode)
			from := RouteLabel(pg, leg.Prev.RouteShortName)
			cl.PrevServiceGroup = pg
			cl.FromRouteLabel = &from
			cl.TransferType = TransferBetween(pg, leg.Prev.RouteShortName, group, leg.RouteShortName)
			cl.IsTransfer = cl.TransferType != models.TransferNone
		}

		if leg.Next != nil {
			ng := c.ServiceGroup(leg.Next.ServiceName, leg.Next.Mode)
			next := RouteLabel(ng, leg.Next.RouteShortName)
			cl.NextServiceGroup = ng
			cl.NextRouteLabel = &next
		}

		out[i] = cl
	}
	return out
}

// TransferBetween applies the transfer rules to consecutive legs. Route names compare after
// trimming, so a blank route differs from any named route but equals another blank one.
func TransferBetween(prevGroup models.ServiceGroup, prevRoute string, group models.ServiceGroup, route string) models.TransferType {
	switch {
	case prevGroup == models.GroupFixedRoute && group == models.GroupDemandResponse,
		prevGroup == models.GroupDemandResponse && group == models.GroupFixedRoute:
		return models.TransferCrossMode
	case prevGroup == models.GroupFixedRoute && group == models.GroupFixedRoute &&
		strings.TrimSpace(prevRoute) != strings.TrimSpace(route):
		return models.TransferRouteChange
	}
	return models.TransferNone
}

func RouteLabel(group models.ServiceGroup, route string) string {
	route = strings.TrimSpace(route)
	switch group {
	case models.GroupDemandResponse:
		return models.LabelDemandResponse
	case models.GroupFixedRoute:
		if route == "" {
			return models.LabelUnknownRoute
		}
		return route
	case models.GroupWalk:
		return models.LabelWalk
	}
	if route == "" {
		return models.LabelNotApplicable
	}
	return route
}
