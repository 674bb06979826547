package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/transitbridge-data/pkg/gtfs/models"
)

// refCheck is one foreign-key-like relation checked against persisted rows.
type refCheck struct {
	srcTable string
	srcCol   string
	refTable string
	refCol   string
}

var persistedRefChecks = []refCheck{
	{"trips", "route_id", "routes", "route_id"},
	{"stop_times", "trip_id", "trips", "trip_id"},
	{"stop_times", "stop_id", "stops", "stop_id"},
	{"frequencies", "trip_id", "trips", "trip_id"},
	{"fare_rules", "fare_id", "fare_attributes", "fare_id"},
	{"fare_rules", "route_id", "routes", "route_id"},
	{"transfers", "from_stop_id", "stops", "stop_id"},
	{"transfers", "to_stop_id", "stops", "stop_id"},
	{"pathways", "from_stop_id", "stops", "stop_id"},
	{"pathways", "to_stop_id", "stops", "stop_id"},
}

// parentStationQuery checks stops.parent_station separately: a station row
// (location_type 1) may carry a parent_station that is ignored, matching the
// staged-data validation.
const parentStationQuery = `
	SELECT DISTINCT s.parent_station
	FROM gtfs.stops s
	WHERE s.feed_id = $1
	  AND s.parent_station IS NOT NULL AND s.parent_station <> ''
	  AND COALESCE(s.location_type, 0) <> 1
	  AND NOT EXISTS (
		SELECT 1 FROM gtfs.stops r
		WHERE r.feed_id = s.feed_id AND r.stop_id = s.parent_station
	  )
`

// ValidateFeed re-runs the referential checks against rows already in
// storage. Imports validate before persisting, so a non-empty report here
// means the rows were touched outside the pipeline or predate a rule change.
func (fs *FeedStore) ValidateFeed(ctx context.Context, feedID int64) (*models.Report, error) {
	if _, err := fs.FeedStatus(ctx, feedID); err != nil {
		return nil, err
	}

	report := &models.Report{}

	for _, check := range persistedRefChecks {
		query := fmt.Sprintf(`
			SELECT DISTINCT s.%[2]s
			FROM gtfs.%[1]s s
			WHERE s.feed_id = $1
			  AND s.%[2]s IS NOT NULL AND s.%[2]s <> ''
			  AND NOT EXISTS (
				SELECT 1 FROM gtfs.%[3]s r
				WHERE r.feed_id = s.feed_id AND r.%[4]s = s.%[2]s
			  )
		`, check.srcTable, check.srcCol, check.refTable, check.refCol)

		if err := fs.collectDangling(ctx, feedID, query, check, report); err != nil {
			return nil, err
		}
	}

	parentCheck := refCheck{"stops", "parent_station", "stops", "stop_id"}
	if err := fs.collectDangling(ctx, feedID, parentStationQuery, parentCheck, report); err != nil {
		return nil, err
	}

	// routes.agency_id only binds when the feed carries more than one agency.
	var agencies int
	if err := fs.db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM gtfs.agencies WHERE feed_id = $1`, feedID).Scan(&agencies); err != nil {
		return nil, fmt.Errorf("counting agencies: %w", err)
	}
	if agencies > 1 {
		check := refCheck{"routes", "agency_id", "agencies", "agency_id"}
		const query = `
			SELECT DISTINCT s.agency_id
			FROM gtfs.routes s
			WHERE s.feed_id = $1
			  AND s.agency_id IS NOT NULL AND s.agency_id <> ''
			  AND NOT EXISTS (
				SELECT 1 FROM gtfs.agencies r
				WHERE r.feed_id = s.feed_id AND r.agency_id = s.agency_id
			  )
		`
		if err := fs.collectDangling(ctx, feedID, query, check, report); err != nil {
			return nil, err
		}
	}

	// Service references resolve against calendar and calendar exceptions.
	const serviceQuery = `
		SELECT DISTINCT t.service_id
		FROM gtfs.trips t
		WHERE t.feed_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM gtfs.calendar c
			WHERE c.feed_id = t.feed_id AND c.service_id = t.service_id
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM gtfs.calendar_dates cd
			WHERE cd.feed_id = t.feed_id AND cd.service_id = t.service_id
		  )
	`
	serviceCheck := refCheck{"trips", "service_id", "calendar", "service_id"}
	if err := fs.collectDangling(ctx, feedID, serviceQuery, serviceCheck, report); err != nil {
		return nil, err
	}

	fs.db.logger.Info("Feed re-validated", "feed_id", feedID, "errors", report.Len())
	return report, nil
}

func (fs *FeedStore) collectDangling(ctx context.Context, feedID int64, query string, check refCheck, report *models.Report) error {
	rows, err := fs.db.conn.QueryContext(ctx, query, feedID)
	if err != nil {
		return fmt.Errorf("checking %s.%s: %w", check.srcTable, check.srcCol, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key sql.NullString
		if err := rows.Scan(&key); err != nil {
			return fmt.Errorf("scanning %s.%s: %w", check.srcTable, check.srcCol, err)
		}
		report.AddRef(models.DanglingReferenceError{
			Table:    check.srcTable,
			Column:   check.srcCol,
			RefTable: check.refTable,
			Key:      key.String,
		})
	}
	return rows.Err()
}
