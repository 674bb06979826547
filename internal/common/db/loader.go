package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/transitbridge-data/pkg/gtfs/models"
)

// loadFeedData batch-inserts every staged table inside tx, in dependency
// order so that referenced rows land before their dependents.
func loadFeedData(tx *sql.Tx, feedID int64, data *models.FeedData, batchSize int) error {
	b := func(table string) *batchInserter {
		return newBatchInserter(tx, table, batchSize)
	}

	agencies := b("agencies")
	for _, a := range data.Agencies {
		if err := agencies.Add(feedID, a.AgencyID, a.AgencyName, a.AgencyURL, a.AgencyTimezone,
			a.AgencyLang, a.AgencyPhone, a.AgencyFareURL, a.AgencyEmail); err != nil {
			return err
		}
	}

	stops := b("stops")
	for _, s := range data.Stops {
		if err := stops.Add(feedID, s.StopID, s.StopCode, s.StopName, s.StopDesc,
			s.StopLat, s.StopLon, s.ZoneID, s.StopURL, s.LocationType, s.ParentStation,
			s.StopTimezone, s.WheelchairBoarding, s.LevelID, s.PlatformCode); err != nil {
			return err
		}
	}

	routes := b("routes")
	for _, r := range data.Routes {
		if err := routes.Add(feedID, r.RouteID, r.AgencyID, r.RouteShortName, r.RouteLongName,
			r.RouteDesc, r.RouteType, r.RouteURL, r.RouteColor, r.RouteTextColor, r.RouteSortOrder); err != nil {
			return err
		}
	}

	calendar := b("calendar")
	for _, c := range data.Calendars {
		if err := calendar.Add(feedID, c.ServiceID, c.Monday, c.Tuesday, c.Wednesday,
			c.Thursday, c.Friday, c.Saturday, c.Sunday, c.StartDate, c.EndDate); err != nil {
			return err
		}
	}

	calendarDates := b("calendar_dates")
	for _, cd := range data.CalendarDates {
		if err := calendarDates.Add(feedID, cd.ServiceID, cd.Date, cd.ExceptionType); err != nil {
			return err
		}
	}

	shapes := b("shapes")
	for _, s := range data.Shapes {
		if err := shapes.Add(feedID, s.ShapeID, s.ShapePtLat, s.ShapePtLon,
			s.ShapePtSequence, s.ShapeDistTraveled); err != nil {
			return err
		}
	}

	trips := b("trips")
	for _, t := range data.Trips {
		if err := trips.Add(feedID, t.TripID, t.RouteID, t.ServiceID, t.TripHeadsign,
			t.TripShortName, t.DirectionID, t.BlockID, t.ShapeID, t.WheelchairAccessible,
			t.BikesAllowed); err != nil {
			return err
		}
	}

	stopTimes := b("stop_times")
	for _, st := range data.StopTimes {
		if err := stopTimes.Add(feedID, st.TripID, st.ArrivalTime, st.DepartureTime,
			st.StopID, st.StopSequence, st.StopHeadsign, st.PickupType, st.DropOffType,
			st.ShapeDistTraveled, st.Timepoint); err != nil {
			return err
		}
	}

	frequencies := b("frequencies")
	for _, f := range data.Frequencies {
		if err := frequencies.Add(feedID, f.TripID, f.StartTime, f.EndTime,
			f.HeadwaySecs, f.ExactTimes); err != nil {
			return err
		}
	}

	fareAttributes := b("fare_attributes")
	for _, fa := range data.FareAttributes {
		if err := fareAttributes.Add(feedID, fa.FareID, fa.Price, fa.CurrencyType,
			fa.PaymentMethod, fa.Transfers, fa.AgencyID, fa.TransferDuration); err != nil {
			return err
		}
	}

	fareRules := b("fare_rules")
	for _, fr := range data.FareRules {
		if err := fareRules.Add(feedID, fr.FareID, fr.RouteID, fr.OriginID,
			fr.DestinationID, fr.ContainsID); err != nil {
			return err
		}
	}

	transfers := b("transfers")
	for _, tr := range data.Transfers {
		if err := transfers.Add(feedID, tr.FromStopID, tr.ToStopID, tr.TransferType,
			tr.MinTransferTime); err != nil {
			return err
		}
	}

	pathways := b("pathways")
	for _, p := range data.Pathways {
		if err := pathways.Add(feedID, p.PathwayID, p.FromStopID, p.ToStopID,
			p.PathwayMode, p.IsBidirectional, p.Length, p.TraversalTime, p.StairCount,
			p.MaxSlope, p.MinWidth, p.SignpostedAs); err != nil {
			return err
		}
	}

	feedInfo := b("feed_info")
	for _, fi := range data.FeedInfos {
		if err := feedInfo.Add(feedID, fi.FeedPublisherName, fi.FeedPublisherURL, fi.FeedLang,
			fi.FeedStartDate, fi.FeedEndDate, fi.FeedVersion, fi.FeedContactEmail,
			fi.FeedContactURL); err != nil {
			return err
		}
	}

	batches := []*batchInserter{
		agencies, stops, routes, calendar, calendarDates, shapes, trips,
		stopTimes, frequencies, fareAttributes, fareRules, transfers,
		pathways, feedInfo,
	}
	for _, batch := range batches {
		if err := batch.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// batchInserter accumulates rows for one table and writes them as multi-row
// INSERT statements to keep round trips off the hot path.
type batchInserter struct {
	tx         *sql.Tx
	tableName  string
	columns    []string
	values     []interface{}
	rowCount   int
	batchSize  int
	fieldCount int
}

func newBatchInserter(tx *sql.Tx, tableName string, batchSize int) *batchInserter {
	columns := tableColumns[tableName]
	return &batchInserter{
		tx:         tx,
		tableName:  tableName,
		columns:    columns,
		values:     make([]interface{}, 0, batchSize*len(columns)),
		batchSize:  batchSize,
		fieldCount: len(columns),
	}
}

func (b *batchInserter) Add(values ...interface{}) error {
	if len(values) != b.fieldCount {
		return &models.StorageWriteError{
			Table: b.tableName,
			Err:   fmt.Errorf("expected %d fields, got %d", b.fieldCount, len(values)),
		}
	}
	b.values = append(b.values, values...)
	b.rowCount++

	if b.rowCount >= b.batchSize {
		return b.Flush()
	}
	return nil
}

func (b *batchInserter) Flush() error {
	if b.rowCount == 0 {
		return nil
	}

	query := b.buildInsertQuery()
	if _, err := b.tx.Exec(query, b.values...); err != nil {
		return &models.StorageWriteError{Table: b.tableName, Err: err}
	}

	b.values = b.values[:0]
	b.rowCount = 0
	return nil
}

func (b *batchInserter) buildInsertQuery() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("INSERT INTO gtfs.%s (%s) VALUES ",
		b.tableName,
		strings.Join(b.columns, ", ")))

	for i := 0; i < b.rowCount; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < b.fieldCount; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("$%d", i*b.fieldCount+j+1))
		}
		sb.WriteString(")")
	}

	return sb.String()
}

var tableColumns = map[string][]string{
	"agencies": {"feed_id", "agency_id", "agency_name", "agency_url", "agency_timezone",
		"agency_lang", "agency_phone", "agency_fare_url", "agency_email"},
	"stops": {"feed_id", "stop_id", "stop_code", "stop_name", "stop_desc", "stop_lat",
		"stop_lon", "zone_id", "stop_url", "location_type", "parent_station",
		"stop_timezone", "wheelchair_boarding", "level_id", "platform_code"},
	"routes": {"feed_id", "route_id", "agency_id", "route_short_name", "route_long_name",
		"route_desc", "route_type", "route_url", "route_color", "route_text_color",
		"route_sort_order"},
	"calendar": {"feed_id", "service_id", "monday", "tuesday", "wednesday", "thursday",
		"friday", "saturday", "sunday", "start_date", "end_date"},
	"calendar_dates": {"feed_id", "service_id", "date", "exception_type"},
	"shapes": {"feed_id", "shape_id", "shape_pt_lat", "shape_pt_lon", "shape_pt_sequence",
		"shape_dist_traveled"},
	"trips": {"feed_id", "trip_id", "route_id", "service_id", "trip_headsign",
		"trip_short_name", "direction_id", "block_id", "shape_id",
		"wheelchair_accessible", "bikes_allowed"},
	"stop_times": {"feed_id", "trip_id", "arrival_time", "departure_time", "stop_id",
		"stop_sequence", "stop_headsign", "pickup_type", "drop_off_type",
		"shape_dist_traveled", "timepoint"},
	"frequencies": {"feed_id", "trip_id", "start_time", "end_time", "headway_secs",
		"exact_times"},
	"fare_attributes": {"feed_id", "fare_id", "price", "currency_type", "payment_method",
		"transfers", "agency_id", "transfer_duration"},
	"fare_rules": {"feed_id", "fare_id", "route_id", "origin_id", "destination_id",
		"contains_id"},
	"transfers": {"feed_id", "from_stop_id", "to_stop_id", "transfer_type",
		"min_transfer_time"},
	"pathways": {"feed_id", "pathway_id", "from_stop_id", "to_stop_id", "pathway_mode",
		"is_bidirectional", "length", "traversal_time", "stair_count", "max_slope",
		"min_width", "signposted_as"},
	"feed_info": {"feed_id", "feed_publisher_name", "feed_publisher_url", "feed_lang",
		"feed_start_date", "feed_end_date", "feed_version", "feed_contact_email",
		"feed_contact_url"},
}
