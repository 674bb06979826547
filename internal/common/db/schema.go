package db

import (
	"context"
	"fmt"
)

// Migrate creates the gtfs schema and every table the import pipeline and
// entity mapper write to. It is idempotent and meant to run once at
// deployment, before any import is started.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	db.logger.Info("Schema migration completed", "statements", len(schemaStatements))
	return nil
}

// HasBookingTables reports whether the booking system's directory tables are
// present. Entity mapping refuses to run without them.
func (db *DB) HasBookingTables(ctx context.Context) (bool, error) {
	const query = `
		SELECT count(*)
		FROM information_schema.tables
		WHERE table_schema = 'booking'
		  AND table_name IN ('routes', 'stops', 'schedules', 'fares')
	`
	var n int
	if err := db.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return false, fmt.Errorf("checking booking tables: %w", err)
	}
	return n == 4, nil
}

var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS gtfs`,

	`CREATE TABLE IF NOT EXISTS gtfs.feeds (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		origin_type VARCHAR(20),
		origin_ref TEXT,
		imported_on TIMESTAMPTZ NOT NULL DEFAULT now(),
		valid_from DATE,
		valid_until DATE,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		version VARCHAR(255),
		last_error TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS feeds_name_status_idx ON gtfs.feeds (name, status)`,

	`CREATE TABLE IF NOT EXISTS gtfs.agencies (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		agency_id VARCHAR(255),
		agency_name VARCHAR(255) NOT NULL,
		agency_url VARCHAR(255) NOT NULL,
		agency_timezone VARCHAR(100) NOT NULL,
		agency_lang VARCHAR(20),
		agency_phone VARCHAR(50),
		agency_fare_url VARCHAR(255),
		agency_email VARCHAR(255)
	)`,
	`CREATE INDEX IF NOT EXISTS agencies_feed_idx ON gtfs.agencies (feed_id, agency_id)`,

	`CREATE TABLE IF NOT EXISTS gtfs.stops (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		stop_id VARCHAR(255) NOT NULL,
		stop_code VARCHAR(100),
		stop_name VARCHAR(255) NOT NULL,
		stop_desc TEXT,
		stop_lat DECIMAL(10,6) NOT NULL,
		stop_lon DECIMAL(10,6) NOT NULL,
		zone_id VARCHAR(100),
		stop_url VARCHAR(255),
		location_type SMALLINT,
		parent_station VARCHAR(255),
		stop_timezone VARCHAR(100),
		wheelchair_boarding SMALLINT,
		level_id VARCHAR(255),
		platform_code VARCHAR(255)
	)`,
	`CREATE INDEX IF NOT EXISTS stops_feed_idx ON gtfs.stops (feed_id, stop_id)`,
	`CREATE INDEX IF NOT EXISTS stops_parent_idx ON gtfs.stops (feed_id, parent_station)`,

	`CREATE TABLE IF NOT EXISTS gtfs.routes (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		route_id VARCHAR(255) NOT NULL,
		agency_id VARCHAR(255),
		route_short_name VARCHAR(255),
		route_long_name VARCHAR(255),
		route_desc TEXT,
		route_type SMALLINT NOT NULL,
		route_url VARCHAR(255),
		route_color VARCHAR(6),
		route_text_color VARCHAR(6),
		route_sort_order INT
	)`,
	`CREATE INDEX IF NOT EXISTS routes_feed_idx ON gtfs.routes (feed_id, route_id)`,

	`CREATE TABLE IF NOT EXISTS gtfs.trips (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		trip_id VARCHAR(255) NOT NULL,
		route_id VARCHAR(255) NOT NULL,
		service_id VARCHAR(255) NOT NULL,
		trip_headsign VARCHAR(255),
		trip_short_name VARCHAR(255),
		direction_id SMALLINT,
		block_id VARCHAR(255),
		shape_id VARCHAR(255),
		wheelchair_accessible SMALLINT,
		bikes_allowed SMALLINT
	)`,
	`CREATE INDEX IF NOT EXISTS trips_feed_idx ON gtfs.trips (feed_id, trip_id)`,
	`CREATE INDEX IF NOT EXISTS trips_route_idx ON gtfs.trips (feed_id, route_id)`,

	`CREATE TABLE IF NOT EXISTS gtfs.stop_times (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		trip_id VARCHAR(255) NOT NULL,
		arrival_time INT,
		departure_time INT,
		stop_id VARCHAR(255) NOT NULL,
		stop_sequence INT NOT NULL,
		stop_headsign VARCHAR(255),
		pickup_type SMALLINT,
		drop_off_type SMALLINT,
		shape_dist_traveled REAL,
		timepoint SMALLINT
	)`,
	`CREATE INDEX IF NOT EXISTS stop_times_trip_idx ON gtfs.stop_times (feed_id, trip_id)`,
	`CREATE INDEX IF NOT EXISTS stop_times_stop_idx ON gtfs.stop_times (feed_id, stop_id)`,

	`CREATE TABLE IF NOT EXISTS gtfs.calendar (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		service_id VARCHAR(255) NOT NULL,
		monday SMALLINT NOT NULL,
		tuesday SMALLINT NOT NULL,
		wednesday SMALLINT NOT NULL,
		thursday SMALLINT NOT NULL,
		friday SMALLINT NOT NULL,
		saturday SMALLINT NOT NULL,
		sunday SMALLINT NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS calendar_feed_idx ON gtfs.calendar (feed_id, service_id)`,

	`CREATE TABLE IF NOT EXISTS gtfs.calendar_dates (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		service_id VARCHAR(255) NOT NULL,
		date DATE NOT NULL,
		exception_type SMALLINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS calendar_dates_feed_idx ON gtfs.calendar_dates (feed_id, service_id)`,

	`CREATE TABLE IF NOT EXISTS gtfs.fare_attributes (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		fare_id VARCHAR(255) NOT NULL,
		price DECIMAL(10,2) NOT NULL,
		currency_type VARCHAR(3) NOT NULL,
		payment_method SMALLINT NOT NULL,
		transfers SMALLINT,
		agency_id VARCHAR(255),
		transfer_duration INT
	)`,
	`CREATE INDEX IF NOT EXISTS fare_attributes_feed_idx ON gtfs.fare_attributes (feed_id, fare_id)`,

	`CREATE TABLE IF NOT EXISTS gtfs.fare_rules (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		fare_id VARCHAR(255) NOT NULL,
		route_id VARCHAR(255),
		origin_id VARCHAR(255),
		destination_id VARCHAR(255),
		contains_id VARCHAR(255)
	)`,
	`CREATE INDEX IF NOT EXISTS fare_rules_feed_idx ON gtfs.fare_rules (feed_id, fare_id)`,

	`CREATE TABLE IF NOT EXISTS gtfs.shapes (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		shape_id VARCHAR(255) NOT NULL,
		shape_pt_lat DECIMAL(10,6) NOT NULL,
		shape_pt_lon DECIMAL(10,6) NOT NULL,
		shape_pt_sequence INT NOT NULL,
		shape_dist_traveled REAL
	)`,
	`CREATE INDEX IF NOT EXISTS shapes_feed_idx ON gtfs.shapes (feed_id, shape_id)`,

	`CREATE TABLE IF NOT EXISTS gtfs.frequencies (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		trip_id VARCHAR(255) NOT NULL,
		start_time INT NOT NULL,
		end_time INT NOT NULL,
		headway_secs INT NOT NULL,
		exact_times SMALLINT
	)`,
	`CREATE INDEX IF NOT EXISTS frequencies_feed_idx ON gtfs.frequencies (feed_id, trip_id)`,

	`CREATE TABLE IF NOT EXISTS gtfs.transfers (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		from_stop_id VARCHAR(255) NOT NULL,
		to_stop_id VARCHAR(255) NOT NULL,
		transfer_type SMALLINT NOT NULL,
		min_transfer_time INT
	)`,
	`CREATE INDEX IF NOT EXISTS transfers_feed_idx ON gtfs.transfers (feed_id, from_stop_id, to_stop_id)`,

	`CREATE TABLE IF NOT EXISTS gtfs.pathways (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		pathway_id VARCHAR(255) NOT NULL,
		from_stop_id VARCHAR(255) NOT NULL,
		to_stop_id VARCHAR(255) NOT NULL,
		pathway_mode SMALLINT NOT NULL,
		is_bidirectional SMALLINT NOT NULL,
		length REAL,
		traversal_time INT,
		stair_count INT,
		max_slope REAL,
		min_width REAL,
		signposted_as VARCHAR(255)
	)`,
	`CREATE INDEX IF NOT EXISTS pathways_feed_idx ON gtfs.pathways (feed_id, pathway_id)`,

	`CREATE TABLE IF NOT EXISTS gtfs.feed_info (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		feed_publisher_name VARCHAR(255) NOT NULL,
		feed_publisher_url VARCHAR(255) NOT NULL,
		feed_lang VARCHAR(20) NOT NULL,
		feed_start_date DATE,
		feed_end_date DATE,
		feed_version VARCHAR(255),
		feed_contact_email VARCHAR(255),
		feed_contact_url VARCHAR(255)
	)`,
	`CREATE INDEX IF NOT EXISTS feed_info_feed_idx ON gtfs.feed_info (feed_id)`,

	`CREATE TABLE IF NOT EXISTS gtfs.booking_mapping (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		gtfs_entity_type VARCHAR(50) NOT NULL,
		gtfs_entity_id VARCHAR(255) NOT NULL,
		booking_entity_type VARCHAR(50) NOT NULL,
		booking_entity_id BIGINT NOT NULL,
		mapping_data TEXT,
		created_on TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_on TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (feed_id, gtfs_entity_type, gtfs_entity_id, booking_entity_type)
	)`,
	`CREATE INDEX IF NOT EXISTS booking_mapping_feed_idx ON gtfs.booking_mapping (feed_id, gtfs_entity_type)`,
}
