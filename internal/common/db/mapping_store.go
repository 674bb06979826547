package db

import (
	"context"
	"fmt"

	"github.com/transitbridge-data/internal/mapping"
	"github.com/transitbridge-data/pkg/gtfs/models"
)

// MappingStore implements the entity mapper's storage contracts: it reads
// the booking system's directory tables, reads imported GTFS rows per feed,
// and upserts mapping records.
type MappingStore struct {
	db    *DB
	feeds *FeedStore
}

func NewMappingStore(db *DB, feeds *FeedStore) *MappingStore {
	return &MappingStore{db: db, feeds: feeds}
}

func (ms *MappingStore) FeedStatus(ctx context.Context, feedID int64) (models.FeedStatus, error) {
	return ms.feeds.FeedStatus(ctx, feedID)
}

func (ms *MappingStore) BookingRoutes(ctx context.Context) ([]mapping.BookingRoute, error) {
	const query = `SELECT id, name, COALESCE(code, '') FROM booking.routes ORDER BY id`
	rows, err := ms.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying booking routes: %w", err)
	}
	defer rows.Close()

	var out []mapping.BookingRoute
	for rows.Next() {
		var r mapping.BookingRoute
		if err := rows.Scan(&r.ID, &r.Name, &r.Code); err != nil {
			return nil, fmt.Errorf("scanning booking route: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (ms *MappingStore) BookingStops(ctx context.Context) ([]mapping.BookingStop, error) {
	const query = `SELECT id, name, lat, lon FROM booking.stops ORDER BY id`
	rows, err := ms.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying booking stops: %w", err)
	}
	defer rows.Close()

	var out []mapping.BookingStop
	for rows.Next() {
		var s mapping.BookingStop
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lon); err != nil {
			return nil, fmt.Errorf("scanning booking stop: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (ms *MappingStore) BookingSchedules(ctx context.Context) ([]mapping.BookingSchedule, error) {
	const query = `SELECT id, route_id, COALESCE(direction, 0) FROM booking.schedules ORDER BY id`
	rows, err := ms.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying booking schedules: %w", err)
	}
	defer rows.Close()

	var out []mapping.BookingSchedule
	for rows.Next() {
		var s mapping.BookingSchedule
		if err := rows.Scan(&s.ID, &s.RouteID, &s.Direction); err != nil {
			return nil, fmt.Errorf("scanning booking schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (ms *MappingStore) BookingFares(ctx context.Context) ([]mapping.BookingFare, error) {
	const query = `SELECT id, name, price, currency FROM booking.fares ORDER BY id`
	rows, err := ms.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying booking fares: %w", err)
	}
	defer rows.Close()

	var out []mapping.BookingFare
	for rows.Next() {
		var f mapping.BookingFare
		if err := rows.Scan(&f.ID, &f.Name, &f.Price, &f.Currency); err != nil {
			return nil, fmt.Errorf("scanning booking fare: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (ms *MappingStore) FeedRoutes(ctx context.Context, feedID int64) ([]models.Route, error) {
	const query = `
		SELECT route_id, agency_id, route_short_name, route_long_name, route_type
		FROM gtfs.routes WHERE feed_id = $1 ORDER BY route_id
	`
	rows, err := ms.db.conn.QueryContext(ctx, query, feedID)
	if err != nil {
		return nil, fmt.Errorf("querying feed routes: %w", err)
	}
	defer rows.Close()

	var out []models.Route
	for rows.Next() {
		var r models.Route
		if err := rows.Scan(&r.RouteID, &r.AgencyID, &r.RouteShortName, &r.RouteLongName, &r.RouteType); err != nil {
			return nil, fmt.Errorf("scanning feed route: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (ms *MappingStore) FeedStops(ctx context.Context, feedID int64) ([]models.Stop, error) {
	const query = `
		SELECT stop_id, stop_name, stop_lat, stop_lon
		FROM gtfs.stops WHERE feed_id = $1 ORDER BY stop_id
	`
	rows, err := ms.db.conn.QueryContext(ctx, query, feedID)
	if err != nil {
		return nil, fmt.Errorf("querying feed stops: %w", err)
	}
	defer rows.Close()

	var out []models.Stop
	for rows.Next() {
		var s models.Stop
		if err := rows.Scan(&s.StopID, &s.StopName, &s.StopLat, &s.StopLon); err != nil {
			return nil, fmt.Errorf("scanning feed stop: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (ms *MappingStore) FeedTrips(ctx context.Context, feedID int64) ([]models.Trip, error) {
	const query = `
		SELECT trip_id, route_id, service_id, COALESCE(direction_id, 0)
		FROM gtfs.trips WHERE feed_id = $1 ORDER BY trip_id
	`
	rows, err := ms.db.conn.QueryContext(ctx, query, feedID)
	if err != nil {
		return nil, fmt.Errorf("querying feed trips: %w", err)
	}
	defer rows.Close()

	var out []models.Trip
	for rows.Next() {
		var t models.Trip
		if err := rows.Scan(&t.TripID, &t.RouteID, &t.ServiceID, &t.DirectionID); err != nil {
			return nil, fmt.Errorf("scanning feed trip: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (ms *MappingStore) FeedFares(ctx context.Context, feedID int64) ([]models.FareAttribute, error) {
	const query = `
		SELECT fare_id, price, currency_type, payment_method
		FROM gtfs.fare_attributes WHERE feed_id = $1 ORDER BY fare_id
	`
	rows, err := ms.db.conn.QueryContext(ctx, query, feedID)
	if err != nil {
		return nil, fmt.Errorf("querying feed fares: %w", err)
	}
	defer rows.Close()

	var out []models.FareAttribute
	for rows.Next() {
		var f models.FareAttribute
		if err := rows.Scan(&f.FareID, &f.Price, &f.CurrencyType, &f.PaymentMethod); err != nil {
			return nil, fmt.Errorf("scanning feed fare: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertMapping writes one mapping record, overwriting the previous target
// for the same GTFS entity instead of duplicating it.
func (ms *MappingStore) UpsertMapping(ctx context.Context, rec models.MappingRecord) error {
	const query = `
		INSERT INTO gtfs.booking_mapping
			(feed_id, gtfs_entity_type, gtfs_entity_id, booking_entity_type, booking_entity_id, mapping_data, created_on, updated_on)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (feed_id, gtfs_entity_type, gtfs_entity_id, booking_entity_type)
		DO UPDATE SET booking_entity_id = EXCLUDED.booking_entity_id,
		              mapping_data = EXCLUDED.mapping_data,
		              updated_on = now()
	`
	_, err := ms.db.conn.ExecContext(ctx, query,
		rec.FeedID, string(rec.GTFSEntityType), rec.GTFSEntityID,
		rec.BookingEntityType, rec.BookingEntityID, rec.MappingData)
	if err != nil {
		return fmt.Errorf("upserting mapping record: %w", err)
	}
	return nil
}

// MappingsFor returns gtfs entity id → booking entity id for one entity type.
func (ms *MappingStore) MappingsFor(ctx context.Context, feedID int64, entityType models.MappingEntityType) (map[string]int64, error) {
	const query = `
		SELECT gtfs_entity_id, booking_entity_id
		FROM gtfs.booking_mapping
		WHERE feed_id = $1 AND gtfs_entity_type = $2
	`
	rows, err := ms.db.conn.QueryContext(ctx, query, feedID, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("querying mappings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			gtfsID    string
			bookingID int64
		)
		if err := rows.Scan(&gtfsID, &bookingID); err != nil {
			return nil, fmt.Errorf("scanning mapping: %w", err)
		}
		out[gtfsID] = bookingID
	}
	return out, rows.Err()
}
