package transform

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mobility-rollups/internal/models"
)

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.n++
}

func (m *mean) addPtr(v *float64) {
	if v != nil {
		m.add(*v)
	}
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

// accumulator collects the counts and means shared by every rollup.
type accumulator struct {
	legs          int64
	transferLegs  int64
	trips         map[string]struct{}
	transferTrips map[string]struct{}

	manhattan, euclidean mean
	startLat, startLon   mean
	endLat, endLon       mean
	duration             mean
}

func newAccumulator() *accumulator {
	return &accumulator{
		trips:         make(map[string]struct{}),
		transferTrips: make(map[string]struct{}),
	}
}

// add folds one leg in. tripHasTransfer says whether any leg of the leg's trip is a transfer.
func (a *accumulator) add(l *models.ClassifiedLeg, tripHasTransfer bool) {
	key := tripKey(l)
	a.legs++
	if l.IsTransfer {
		a.transferLegs++
	}
	a.trips[key] = struct{}{}
	if tripHasTransfer {
		a.transferTrips[key] = struct{}{}
	}
	a.manhattan.addPtr(l.ManhattanDistanceMi)
	a.euclidean.addPtr(l.EuclideanDistanceMi)
	a.startLat.addPtr(l.StartLatitude)
	a.startLon.addPtr(l.StartLongitude)
	a.endLat.addPtr(l.EndLatitude)
	a.endLon.addPtr(l.EndLongitude)
	a.duration.addPtr(l.DurationMin)
}

func tripKey(l *models.ClassifiedLeg) string {
	return dateKey(l.TripDate) + "|" + l.UserTripID
}

// transferTrips marks trips with at least one transfer leg.
func transferTrips(legs []models.ClassifiedLeg) map[string]bool {
	out := make(map[string]bool)
	for i := range legs {
		if legs[i].IsTransfer {
			out[tripKey(&legs[i])] = true
		}
	}
	return out
}

// grouped keeps accumulators in first-seen key order.
type grouped[K comparable] struct {
	keys []K
	acc  map[K]*accumulator
}

func newGrouped[K comparable]() *grouped[K] {
	return &grouped[K]{acc: make(map[K]*accumulator)}
}

func (g *grouped[K]) get(k K) *accumulator {
	a, ok := g.acc[k]
	if !ok {
		a = newAccumulator()
		g.acc[k] = a
		g.keys = append(g.keys, k)
	}
	return a
}

type flowKey struct {
	date     time.Time
	origin   string
	dest     string
	group    models.ServiceGroup
	provider string
	route    string
}

func aggregateFlows(legs []models.ClassifiedLeg, byRoute bool) ([]flowKey, map[flowKey]*accumulator) {
	tt := transferTrips(legs)
	g := newGrouped[flowKey]()
	for i := range legs {
		l := &legs[i]
		k := flowKey{
			date:     dayOf(l.TripDate),
			origin:   l.OriginZone,
			dest:     l.DestZone,
			group:    l.ServiceGroup,
			provider: l.Provider(),
		}
		if byRoute {
			k.route = l.ToRouteLabel
		}
		g.get(k).add(l, tt[tripKey(l)])
	}
	return g.keys, g.acc
}

func flowRow(k flowKey, a *accumulator) models.FlowAggregate {
	return models.FlowAggregate{
		TripDate:          k.date,
		OriginZone:        k.origin,
		DestZone:          k.dest,
		ServiceGroup:      k.group,
		Provider:          k.provider,
		LegCount:          a.legs,
		TripCount:         int64(len(a.trips)),
		TransferTripCount: int64(len(a.transferTrips)),
		AvgManhattanMi:    a.manhattan.value(),
		AvgEuclideanMi:    a.euclidean.value(),
		MeanStartLat:      a.startLat.value(),
		MeanStartLon:      a.startLon.value(),
		MeanEndLat:        a.endLat.value(),
		MeanEndLon:        a.endLon.value(),
		AvgDurationMin:    a.duration.value(),
	}
}

// AggregateFlows groups by date, origin, destination, service group and provider.
func AggregateFlows(legs []models.ClassifiedLeg) []models.FlowAggregate {
	keys, acc := aggregateFlows(legs, false)
	out := make([]models.FlowAggregate, 0, len(keys))
	for _, k := range keys {
		out = append(out, flowRow(k, acc[k]))
	}
	sort.Slice(out, func(i, j int) bool { return lessFlow(&out[i], &out[j]) })
	return out
}

// AggregateFlowRoutes adds the leg's route label to the flow key.
func AggregateFlowRoutes(legs []models.ClassifiedLeg) []models.FlowRouteAggregate {
	keys, acc := aggregateFlows(legs, true)
	out := make([]models.FlowRouteAggregate, 0, len(keys))
	for _, k := range keys {
		out = append(out, models.FlowRouteAggregate{
			FlowAggregate: flowRow(k, acc[k]),
			RouteLabel:    k.route,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if lessFlow(&out[i].FlowAggregate, &out[j].FlowAggregate) {
			return true
		}
		if lessFlow(&out[j].FlowAggregate, &out[i].FlowAggregate) {
			return false
		}
		return out[i].RouteLabel < out[j].RouteLabel
	})
	return out
}

func lessFlow(a, b *models.FlowAggregate) bool {
	if !a.TripDate.Equal(b.TripDate) {
		return a.TripDate.Before(b.TripDate)
	}
	if a.OriginZone != b.OriginZone {
		return a.OriginZone < b.OriginZone
	}
	if a.DestZone != b.DestZone {
		return a.DestZone < b.DestZone
	}
	if a.ServiceGroup != b.ServiceGroup {
		return a.ServiceGroup < b.ServiceGroup
	}
	return a.Provider < b.Provider
}

type hotspotKey struct {
	date      time.Time
	key       string
	provider  string
	stop      string
	fromRoute string
	toRoute   string
	transfer  models.TransferType
}

type hotspotGrouping int

const (
	hotspotPlain hotspotGrouping = iota
	hotspotRoute
	hotspotRoutePair
)

func aggregateHotspots(legs []models.ClassifiedLeg, by hotspotGrouping) ([]hotspotKey, map[hotspotKey]*accumulator) {
	g := newGrouped[hotspotKey]()
	for i := range legs {
		l := &legs[i]
		if !l.IsTransfer {
			continue
		}
		k := hotspotKey{
			date:     dayOf(l.TripDate),
			key:      HotspotKey(l),
			provider: l.Provider(),
			stop:     strings.TrimSpace(l.StartStopName),
		}
		if by >= hotspotRoute {
			k.toRoute = l.ToRouteLabel
			k.transfer = l.TransferType
		}
		if by == hotspotRoutePair && l.FromRouteLabel != nil {
			k.fromRoute = *l.FromRouteLabel
		}
		g.get(k).add(l, true)
	}
	return g.keys, g.acc
}

func hotspotRow(k hotspotKey, a *accumulator) models.HotspotAggregate {
	return models.HotspotAggregate{
		TripDate:       k.date,
		HotspotKey:     k.key,
		HotspotHash:    HotspotHash(k.key),
		Provider:       k.provider,
		StopName:       k.stop,
		TransferEvents: a.legs,
		TransferTrips:  int64(len(a.trips)),
		MeanLat:        a.startLat.value(),
		MeanLon:        a.startLon.value(),
		AvgDurationMin: a.duration.value(),
	}
}

// AggregateHotspots groups transfer legs by date, hotspot, provider and stop name.
func AggregateHotspots(legs []models.ClassifiedLeg) []models.HotspotAggregate {
	keys, acc := aggregateHotspots(legs, hotspotPlain)
	out := make([]models.HotspotAggregate, 0, len(keys))
	for _, k := range keys {
		out = append(out, hotspotRow(k, acc[k]))
	}
	sort.Slice(out, func(i, j int) bool { return compareHotspot(&out[i], &out[j]) < 0 })
	return out
}

func AggregateHotspotRoutes(legs []models.ClassifiedLeg) []models.HotspotRouteAggregate {
	keys, acc := aggregateHotspots(legs, hotspotRoute)
	out := make([]models.HotspotRouteAggregate, 0, len(keys))
	for _, k := range keys {
		out = append(out, models.HotspotRouteAggregate{
			HotspotAggregate: hotspotRow(k, acc[k]),
			ToRouteLabel:     k.toRoute,
			TransferType:     k.transfer,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := compareHotspot(&out[i].HotspotAggregate, &out[j].HotspotAggregate); c != 0 {
			return c < 0
		}
		if out[i].ToRouteLabel != out[j].ToRouteLabel {
			return out[i].ToRouteLabel < out[j].ToRouteLabel
		}
		return out[i].TransferType < out[j].TransferType
	})
	return out
}

func AggregateHotspotRoutePairs(legs []models.ClassifiedLeg) []models.HotspotRoutePairAggregate {
	keys, acc := aggregateHotspots(legs, hotspotRoutePair)
	out := make([]models.HotspotRoutePairAggregate, 0, len(keys))
	for _, k := range keys {
		out = append(out, models.HotspotRoutePairAggregate{
			HotspotAggregate: hotspotRow(k, acc[k]),
			FromRouteLabel:   k.fromRoute,
			ToRouteLabel:     k.toRoute,
			TransferType:     k.transfer,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := compareHotspot(&out[i].HotspotAggregate, &out[j].HotspotAggregate); c != 0 {
			return c < 0
		}
		if out[i].FromRouteLabel != out[j].FromRouteLabel {
			return out[i].FromRouteLabel < out[j].FromRouteLabel
		}
		if out[i].ToRouteLabel != out[j].ToRouteLabel {
			return out[i].ToRouteLabel < out[j].ToRouteLabel
		}
		return out[i].TransferType < out[j].TransferType
	})
	return out
}

func compareHotspot(a, b *models.HotspotAggregate) int {
	if c := a.TripDate.Compare(b.TripDate); c != 0 {
		return c
	}
	if c := strings.Compare(a.HotspotKey, b.HotspotKey); c != 0 {
		return c
	}
	if c := strings.Compare(a.Provider, b.Provider); c != 0 {
		return c
	}
	return strings.Compare(a.StopName, b.StopName)
}

// AggregateOrigins builds the per-origin daily summary.
func AggregateOrigins(legs []models.ClassifiedLeg) []models.OriginSummary {
	tt := transferTrips(legs)
	type originKey struct {
		date   time.Time
		origin string
	}
	g := newGrouped[originKey]()
	for i := range legs {
		l := &legs[i]
		k := originKey{dayOf(l.TripDate), l.OriginZone}
		g.get(k).add(l, tt[tripKey(l)])
	}

	out := make([]models.OriginSummary, 0, len(g.keys))
	for _, k := range g.keys {
		a := g.acc[k]
		trips := int64(len(a.trips))
		transfer := int64(len(a.transferTrips))
		out = append(out, models.OriginSummary{
			TripDate:             k.date,
			OriginZone:           k.origin,
			TotalLegs:            a.legs,
			TransferLegs:         a.transferLegs,
			TripCount:            trips,
			TransferTripCount:    transfer,
			PctTripsWithTransfer: percent(transfer, trips),
			AvgDurationMin:       a.duration.value(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TripDate.Equal(out[j].TripDate) {
			return out[i].TripDate.Before(out[j].TripDate)
		}
		return out[i].OriginZone < out[j].OriginZone
	})
	return out
}

// percent is 100*num/den, or 0 when den is 0.
func percent(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return 100 * float64(num) / float64(den)
}

// AggregateWalkAccessEgress summarizes walk legs next to transit legs. A walk leg followed by
// transit is access, one preceded by transit is egress, and a leg between two transit legs
// counts as both. Walk legs with no transit neighbor are left out.
func AggregateWalkAccessEgress(legs []models.ClassifiedLeg) []models.WalkAccessEgress {
	type walkKey struct {
		date      time.Time
		direction models.WalkDirection
		group     models.ServiceGroup
		route     string
		stop      string
	}
	g := newGrouped[walkKey]()
	for i := range legs {
		l := &legs[i]
		if l.ServiceGroup != models.GroupWalk {
			continue
		}
		d := dayOf(l.TripDate)
		if l.Next != nil && l.NextServiceGroup.IsTransit() {
			g.get(walkKey{d, models.WalkAccess, l.NextServiceGroup, deref(l.NextRouteLabel), stopOrSentinel(l.Next.StopName)}).add(l, false)
		}
		if l.Prev != nil && l.PrevServiceGroup.IsTransit() {
			g.get(walkKey{d, models.WalkEgress, l.PrevServiceGroup, deref(l.FromRouteLabel), stopOrSentinel(l.Prev.StopName)}).add(l, false)
		}
	}

	out := make([]models.WalkAccessEgress, 0, len(g.keys))
	for _, k := range g.keys {
		a := g.acc[k]
		out = append(out, models.WalkAccessEgress{
			TripDate:            k.date,
			Direction:           k.direction,
			RelatedServiceGroup: k.group,
			RelatedRouteLabel:   k.route,
			StopName:            k.stop,
			WalkLegs:            a.legs,
			TripCount:           int64(len(a.trips)),
			AvgDurationMin:      a.duration.value(),
			AvgManhattanMi:      a.manhattan.value(),
			AvgEuclideanMi:      a.euclidean.value(),
			MeanStartLat:        a.startLat.value(),
			MeanStartLon:        a.startLon.value(),
			MeanEndLat:          a.endLat.value(),
			MeanEndLon:          a.endLon.value(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return compareWalk(&out[i], &out[j]) < 0 })
	return out
}

func compareWalk(a, b *models.WalkAccessEgress) int {
	if c := a.TripDate.Compare(b.TripDate); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.Direction), string(b.Direction)); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.RelatedServiceGroup), string(b.RelatedServiceGroup)); c != 0 {
		return c
	}
	if c := strings.Compare(a.RelatedRouteLabel, b.RelatedRouteLabel); c != 0 {
		return c
	}
	return strings.Compare(a.StopName, b.StopName)
}

func stopOrSentinel(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return models.LabelNoStop
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// AggregateAll runs every aggregator over the same batch concurrently. Snapshot fields of the
// returned set are left empty.
func AggregateAll(ctx context.Context, legs []models.ClassifiedLeg) (*models.RollupSet, error) {
	set := &models.RollupSet{}
	g, ctx := errgroup.WithContext(ctx)

	run := func(fn func()) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn()
			return nil
		})
	}

	run(func() { set.Flows = AggregateFlows(legs) })
	run(func() { set.FlowRoutes = AggregateFlowRoutes(legs) })
	run(func() { set.Hotspots = AggregateHotspots(legs) })
	run(func() { set.HotspotRoutes = AggregateHotspotRoutes(legs) })
	run(func() { set.HotspotRoutePairs = AggregateHotspotRoutePairs(legs) })
	run(func() { set.Origins = AggregateOrigins(legs) })
	run(func() { set.WalkAccessEgress = AggregateWalkAccessEgress(legs) })

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}
