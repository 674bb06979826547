package parser

import (
	"github.com/transitbridge-data/pkg/gtfs/models"
)

// parseOrder lists every recognized table in dependency order, matching the
// order the bulk loader writes them.
var parseOrder = []string{
	models.TableAgencies,
	models.TableStops,
	models.TableRoutes,
	models.TableCalendar,
	models.TableCalendarDates,
	models.TableShapes,
	models.TableTrips,
	models.TableStopTimes,
	models.TableFrequencies,
	models.TableFareAttributes,
	models.TableFareRules,
	models.TableTransfers,
	models.TablePathways,
	models.TableFeedInfo,
}

// mandatoryTables must all be present for an import to proceed. Service
// definitions are special-cased: calendar.txt or calendar_dates.txt
// satisfies the requirement.
var mandatoryTables = []string{
	models.TableAgencies,
	models.TableStops,
	models.TableRoutes,
	models.TableTrips,
	models.TableStopTimes,
}

// requiredColumns are the header columns each table must declare. A table
// with a deficient header is reported and its body skipped.
var requiredColumns = map[string][]string{
	models.TableAgencies:       {"agency_name", "agency_url", "agency_timezone"},
	models.TableStops:          {"stop_id", "stop_name", "stop_lat", "stop_lon"},
	models.TableRoutes:         {"route_id", "route_type"},
	models.TableTrips:          {"trip_id", "route_id", "service_id"},
	models.TableStopTimes:      {"trip_id", "stop_id", "stop_sequence"},
	models.TableCalendar:       {"service_id", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday", "start_date", "end_date"},
	models.TableCalendarDates:  {"service_id", "date", "exception_type"},
	models.TableFareAttributes: {"fare_id", "price", "currency_type", "payment_method"},
	models.TableFareRules:      {"fare_id"},
	models.TableShapes:         {"shape_id", "shape_pt_lat", "shape_pt_lon", "shape_pt_sequence"},
	models.TableFrequencies:    {"trip_id", "start_time", "end_time", "headway_secs"},
	models.TableTransfers:      {"from_stop_id", "to_stop_id", "transfer_type"},
	models.TablePathways:       {"pathway_id", "from_stop_id", "to_stop_id", "pathway_mode", "is_bidirectional"},
	models.TableFeedInfo:       {"feed_publisher_name", "feed_publisher_url", "feed_lang"},
}
