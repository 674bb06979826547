package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/transitbridge-data/internal/common/logger"
	"github.com/transitbridge-data/pkg/gtfs/models"
)

// maxStopDistanceMeters bounds the geo-proximity fallback when matching
// stops by name fails.
const maxStopDistanceMeters = 250.0

// Mapper links imported GTFS entities to booking-system entities. Matching
// is deterministic: the same feed and directory always produce the same
// mapping rows, so re-running is idempotent.
type Mapper struct {
	feeds     FeedReader
	directory Directory
	records   RecordStore
	logger    logger.Logger
}

func NewMapper(feeds FeedReader, directory Directory, records RecordStore, log logger.Logger) *Mapper {
	return &Mapper{
		feeds:     feeds,
		directory: directory,
		records:   records,
		logger:    log,
	}
}

// MapEntities maps one entity type of an active feed. Mapping never runs
// against a feed mid-import: anything other than active is refused so the
// matcher cannot observe a partially loaded generation.
func (m *Mapper) MapEntities(ctx context.Context, feedID int64, entityType models.MappingEntityType) (*models.MappingResult, error) {
	status, err := m.feeds.FeedStatus(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if status != models.StatusActive {
		return nil, fmt.Errorf("feed %d is %s, mapping requires an active feed", feedID, status)
	}

	result := &models.MappingResult{FeedID: feedID, EntityType: entityType}

	switch entityType {
	case models.MapRoutes:
		err = m.mapRoutes(ctx, feedID, result)
	case models.MapStops:
		err = m.mapStops(ctx, feedID, result)
	case models.MapSchedules:
		err = m.mapSchedules(ctx, feedID, result)
	case models.MapFares:
		err = m.mapFares(ctx, feedID, result)
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("Entity mapping completed",
		"feed_id", feedID,
		"entity_type", string(entityType),
		"mapped", result.Mapped,
		"unmapped", len(result.Unmapped))
	return result, nil
}

func (m *Mapper) mapRoutes(ctx context.Context, feedID int64, result *models.MappingResult) error {
	routes, err := m.feeds.FeedRoutes(ctx, feedID)
	if err != nil {
		return err
	}
	candidates, err := m.directory.BookingRoutes(ctx)
	if err != nil {
		return err
	}

	sort.Slice(routes, func(i, j int) bool { return routes[i].RouteID < routes[j].RouteID })

	byName := make(map[string]BookingRoute)
	for _, c := range candidates {
		for _, key := range []string{normalize(c.Name), normalize(c.Code)} {
			if key == "" {
				continue
			}
			// on collision the lowest id wins, keeping matches stable
			if prev, ok := byName[key]; !ok || c.ID < prev.ID {
				byName[key] = c
			}
		}
	}

	for _, r := range routes {
		match, matchedOn, ok := lookupRoute(byName, r)
		if !ok {
			result.Unmapped = append(result.Unmapped, models.UnmappableEntityError{
				EntityType: models.MapRoutes,
				EntityID:   r.RouteID,
				Reason:     "no booking route with a matching name or code",
			})
			continue
		}
		payload := mustJSON(map[string]interface{}{
			"strategy":   "name",
			"matched_on": matchedOn,
		})
		if err := m.upsert(ctx, feedID, models.MapRoutes, r.RouteID, BookingRouteType, match.ID, payload); err != nil {
			return err
		}
		result.Mapped++
	}
	return nil
}

func lookupRoute(byName map[string]BookingRoute, r models.Route) (BookingRoute, string, bool) {
	if r.RouteShortName != nil {
		if match, ok := byName[normalize(*r.RouteShortName)]; ok {
			return match, *r.RouteShortName, true
		}
	}
	if r.RouteLongName != nil {
		if match, ok := byName[normalize(*r.RouteLongName)]; ok {
			return match, *r.RouteLongName, true
		}
	}
	return BookingRoute{}, "", false
}

func (m *Mapper) mapStops(ctx context.Context, feedID int64, result *models.MappingResult) error {
	stops, err := m.feeds.FeedStops(ctx, feedID)
	if err != nil {
		return err
	}
	candidates, err := m.directory.BookingStops(ctx)
	if err != nil {
		return err
	}

	sort.Slice(stops, func(i, j int) bool { return stops[i].StopID < stops[j].StopID })

	byName := make(map[string]BookingStop)
	for _, c := range candidates {
		key := normalize(c.Name)
		if prev, ok := byName[key]; !ok || c.ID < prev.ID {
			byName[key] = c
		}
	}

	for _, s := range stops {
		if match, ok := byName[normalize(s.StopName)]; ok {
			payload := mustJSON(map[string]interface{}{
				"strategy":   "name",
				"matched_on": s.StopName,
			})
			if err := m.upsert(ctx, feedID, models.MapStops, s.StopID, BookingStopType, match.ID, payload); err != nil {
				return err
			}
			result.Mapped++
			continue
		}

		match, distance, ok := nearestStop(candidates, s.StopLat, s.StopLon)
		if !ok {
			result.Unmapped = append(result.Unmapped, models.UnmappableEntityError{
				EntityType: models.MapStops,
				EntityID:   s.StopID,
				Reason:     fmt.Sprintf("no booking stop named %q or within %.0fm", s.StopName, maxStopDistanceMeters),
			})
			continue
		}
		payload := mustJSON(map[string]interface{}{
			"strategy":   "proximity",
			"distance_m": math.Round(distance),
		})
		if err := m.upsert(ctx, feedID, models.MapStops, s.StopID, BookingStopType, match.ID, payload); err != nil {
			return err
		}
		result.Mapped++
	}
	return nil
}

// nearestStop returns the closest candidate within the distance bound,
// breaking exact ties by lowest id so repeated runs agree.
func nearestStop(candidates []BookingStop, lat, lon float64) (BookingStop, float64, bool) {
	var (
		best     BookingStop
		bestDist = math.Inf(1)
		found    bool
	)
	for _, c := range candidates {
		d := haversineMeters(lat, lon, c.Lat, c.Lon)
		if d > maxStopDistanceMeters {
			continue
		}
		if d < bestDist || (d == bestDist && found && c.ID < best.ID) {
			best = c
			bestDist = d
			found = true
		}
	}
	return best, bestDist, found
}

func (m *Mapper) mapSchedules(ctx context.Context, feedID int64, result *models.MappingResult) error {
	trips, err := m.feeds.FeedTrips(ctx, feedID)
	if err != nil {
		return err
	}
	schedules, err := m.directory.BookingSchedules(ctx)
	if err != nil {
		return err
	}
	routeMappings, err := m.records.MappingsFor(ctx, feedID, models.MapRoutes)
	if err != nil {
		return err
	}

	sort.Slice(trips, func(i, j int) bool { return trips[i].TripID < trips[j].TripID })

	type key struct {
		routeID   int64
		direction int
	}
	byRoute := make(map[key]BookingSchedule)
	for _, s := range schedules {
		k := key{s.RouteID, s.Direction}
		if prev, ok := byRoute[k]; !ok || s.ID < prev.ID {
			byRoute[k] = s
		}
	}

	for _, t := range trips {
		bookingRoute, ok := routeMappings[t.RouteID]
		if !ok {
			result.Unmapped = append(result.Unmapped, models.UnmappableEntityError{
				EntityType: models.MapSchedules,
				EntityID:   t.TripID,
				Reason:     fmt.Sprintf("route %s is not mapped; map routes first", t.RouteID),
			})
			continue
		}
		match, ok := byRoute[key{bookingRoute, t.DirectionID}]
		if !ok {
			result.Unmapped = append(result.Unmapped, models.UnmappableEntityError{
				EntityType: models.MapSchedules,
				EntityID:   t.TripID,
				Reason:     fmt.Sprintf("no booking schedule for route %d direction %d", bookingRoute, t.DirectionID),
			})
			continue
		}
		payload := mustJSON(map[string]interface{}{
			"strategy":  "route",
			"route_id":  t.RouteID,
			"direction": t.DirectionID,
		})
		if err := m.upsert(ctx, feedID, models.MapSchedules, t.TripID, BookingScheduleType, match.ID, payload); err != nil {
			return err
		}
		result.Mapped++
	}
	return nil
}

func (m *Mapper) mapFares(ctx context.Context, feedID int64, result *models.MappingResult) error {
	fares, err := m.feeds.FeedFares(ctx, feedID)
	if err != nil {
		return err
	}
	candidates, err := m.directory.BookingFares(ctx)
	if err != nil {
		return err
	}

	sort.Slice(fares, func(i, j int) bool { return fares[i].FareID < fares[j].FareID })

	byName := make(map[string]BookingFare)
	byPrice := make(map[fareKey]BookingFare)
	for _, c := range candidates {
		if key := normalize(c.Name); key != "" {
			if prev, ok := byName[key]; !ok || c.ID < prev.ID {
				byName[key] = c
			}
		}
		k := fareKey{c.Price, strings.ToUpper(c.Currency)}
		if prev, ok := byPrice[k]; !ok || c.ID < prev.ID {
			byPrice[k] = c
		}
	}

	for _, f := range fares {
		match, strategy, ok := lookupFare(byName, byPrice, f)
		if !ok {
			result.Unmapped = append(result.Unmapped, models.UnmappableEntityError{
				EntityType: models.MapFares,
				EntityID:   f.FareID,
				Reason:     fmt.Sprintf("no booking fare named %q or priced %.2f %s", f.FareID, f.Price, f.CurrencyType),
			})
			continue
		}
		payload := mustJSON(map[string]interface{}{
			"strategy": strategy,
			"price":    f.Price,
			"currency": f.CurrencyType,
		})
		if err := m.upsert(ctx, feedID, models.MapFares, f.FareID, BookingFareType, match.ID, payload); err != nil {
			return err
		}
		result.Mapped++
	}
	return nil
}

type fareKey struct {
	price    float64
	currency string
}

func lookupFare(byName map[string]BookingFare, byPrice map[fareKey]BookingFare, f models.FareAttribute) (BookingFare, string, bool) {
	if match, ok := byName[normalize(f.FareID)]; ok {
		return match, "name", true
	}
	if match, ok := byPrice[fareKey{f.Price, strings.ToUpper(f.CurrencyType)}]; ok {
		return match, "price", true
	}
	return BookingFare{}, "", false
}

func (m *Mapper) upsert(ctx context.Context, feedID int64, gtfsType models.MappingEntityType, gtfsID, bookingType string, bookingID int64, payload string) error {
	return m.records.UpsertMapping(ctx, models.MappingRecord{
		FeedID:            feedID,
		GTFSEntityType:    gtfsType,
		GTFSEntityID:      gtfsID,
		BookingEntityType: bookingType,
		BookingEntityID:   bookingID,
		MappingData:       payload,
	})
}

// haversineMeters is the great-circle distance between two WGS84 points.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func mustJSON(v map[string]interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
