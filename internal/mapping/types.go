package mapping

import (
	"context"

	"github.com/transitbridge-data/pkg/gtfs/models"
)

// Booking-system entity types recorded on mapping rows.
const (
	BookingRouteType    = "route"
	BookingStopType     = "stop"
	BookingScheduleType = "schedule"
	BookingFareType     = "fare"
)

// BookingRoute is a route in the booking system's directory.
type BookingRoute struct {
	ID   int64
	Name string
	Code string
}

// BookingStop is a boarding point in the booking system's directory.
type BookingStop struct {
	ID   int64
	Name string
	Lat  float64
	Lon  float64
}

// BookingSchedule is a departure pattern attached to a booking route.
type BookingSchedule struct {
	ID        int64
	RouteID   int64
	Direction int
}

// BookingFare is a priced ticket product.
type BookingFare struct {
	ID       int64
	Name     string
	Price    float64
	Currency string
}

// Directory reads the booking system's entities. The booking system owns
// these tables; the mapper only ever reads them.
type Directory interface {
	BookingRoutes(ctx context.Context) ([]BookingRoute, error)
	BookingStops(ctx context.Context) ([]BookingStop, error)
	BookingSchedules(ctx context.Context) ([]BookingSchedule, error)
	BookingFares(ctx context.Context) ([]BookingFare, error)
}

// FeedReader reads imported GTFS entities for one feed.
type FeedReader interface {
	FeedStatus(ctx context.Context, feedID int64) (models.FeedStatus, error)
	FeedRoutes(ctx context.Context, feedID int64) ([]models.Route, error)
	FeedStops(ctx context.Context, feedID int64) ([]models.Stop, error)
	FeedTrips(ctx context.Context, feedID int64) ([]models.Trip, error)
	FeedFares(ctx context.Context, feedID int64) ([]models.FareAttribute, error)
}

// RecordStore persists mapping records. Upsert overwrites the previous
// mapping for the same (feed, gtfs entity, booking entity type) rather than
// duplicating it.
type RecordStore interface {
	UpsertMapping(ctx context.Context, rec models.MappingRecord) error
	MappingsFor(ctx context.Context, feedID int64, entityType models.MappingEntityType) (map[string]int64, error)
}
