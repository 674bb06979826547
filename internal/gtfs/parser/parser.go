package parser

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/transitbridge-data/internal/common/logger"
	"github.com/transitbridge-data/pkg/gtfs/models"
)

// Parser streams GTFS tables out of a zip archive into typed, staged rows.
// Cell-level problems are collected into the report rather than aborting;
// only a missing mandatory table stops the parse.
type Parser struct {
	logger logger.Logger
}

func New(logger logger.Logger) *Parser {
	return &Parser{logger: logger}
}

// ParseZip opens the archive at path and parses every recognized table.
func (p *Parser) ParseZip(ctx context.Context, zipPath string) (*models.FeedData, *models.Report, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening zip file: %w", err)
	}
	defer reader.Close()

	return p.ParseArchive(ctx, &reader.Reader)
}

// ParseArchive parses every recognized table of an open archive in
// dependency order. Each table is read in a single pass.
func (p *Parser) ParseArchive(ctx context.Context, reader *zip.Reader) (*models.FeedData, *models.Report, error) {
	fileMap := make(map[string]*zip.File)
	for _, file := range reader.File {
		fileMap[file.Name] = file
	}

	if err := checkMandatoryTables(fileMap); err != nil {
		return nil, nil, err
	}

	data := &models.FeedData{}
	report := &models.Report{}

	for _, table := range parseOrder {
		file, exists := fileMap[table+".txt"]
		if !exists {
			p.logger.Debug("Table not in archive", "table", table)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		if err := p.parseFile(file, table, data, report); err != nil {
			return nil, nil, fmt.Errorf("parsing %s: %w", file.Name, err)
		}
	}

	p.logger.Info("Archive parsed",
		"tables", len(reader.File),
		"row_errors", len(report.RowErrors))
	return data, report, nil
}

func checkMandatoryTables(fileMap map[string]*zip.File) error {
	for _, table := range mandatoryTables {
		if _, ok := fileMap[table+".txt"]; !ok {
			return &models.MissingRequiredTableError{Table: table}
		}
	}
	_, hasCalendar := fileMap[models.TableCalendar+".txt"]
	_, hasCalendarDates := fileMap[models.TableCalendarDates+".txt"]
	if !hasCalendar && !hasCalendarDates {
		return &models.MissingRequiredTableError{Table: models.TableCalendar}
	}
	return nil
}

func (p *Parser) parseFile(file *zip.File, table string, data *models.FeedData, report *models.Report) error {
	p.logger.Debug("Parsing table", "table", table, "size", file.UncompressedSize64)

	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	headerMap := make(map[string]int)
	for i, h := range header {
		headerMap[strings.TrimSpace(h)] = i
	}

	headerOK := true
	for _, col := range requiredColumns[table] {
		if _, ok := headerMap[col]; !ok {
			report.AddRow(models.RowValidationError{
				Table:  table,
				Row:    0,
				Column: col,
				Reason: "required column missing from header",
			})
			headerOK = false
		}
	}
	if !headerOK {
		// every body row would fail the same way, so skip them
		return nil
	}

	count := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading record: %w", err)
		}
		count++

		r := &rowReader{
			table:  table,
			row:    count,
			record: record,
			header: headerMap,
			report: report,
		}
		p.parseRow(table, r, data)

		if count%10000 == 0 {
			p.logger.Debug("Progress", "table", table, "rows", count)
		}
	}

	p.logger.Info("Table parsed", "table", table, "rows", count)
	return nil
}

// parseRow coerces one record into its staged slice. A row with a failed
// required cell has already been reported through r and is dropped; under
// the all-or-nothing policy the report fails the import anyway.
func (p *Parser) parseRow(table string, r *rowReader, data *models.FeedData) {
	switch table {
	case models.TableAgencies:
		row := parseAgency(r)
		if !r.bad {
			data.Agencies = append(data.Agencies, row)
		}
	case models.TableStops:
		row := parseStop(r)
		if !r.bad {
			data.Stops = append(data.Stops, row)
		}
	case models.TableRoutes:
		row := parseRoute(r)
		if !r.bad {
			data.Routes = append(data.Routes, row)
		}
	case models.TableTrips:
		row := parseTrip(r)
		if !r.bad {
			data.Trips = append(data.Trips, row)
		}
	case models.TableStopTimes:
		row := parseStopTime(r)
		if !r.bad {
			data.StopTimes = append(data.StopTimes, row)
		}
	case models.TableCalendar:
		row := parseCalendar(r)
		if !r.bad {
			data.Calendars = append(data.Calendars, row)
		}
	case models.TableCalendarDates:
		row := parseCalendarDate(r)
		if !r.bad {
			data.CalendarDates = append(data.CalendarDates, row)
		}
	case models.TableFareAttributes:
		row := parseFareAttribute(r)
		if !r.bad {
			data.FareAttributes = append(data.FareAttributes, row)
		}
	case models.TableFareRules:
		row := parseFareRule(r)
		if !r.bad {
			data.FareRules = append(data.FareRules, row)
		}
	case models.TableShapes:
		row := parseShape(r)
		if !r.bad {
			data.Shapes = append(data.Shapes, row)
		}
	case models.TableFrequencies:
		row := parseFrequency(r)
		if !r.bad {
			data.Frequencies = append(data.Frequencies, row)
		}
	case models.TableTransfers:
		row := parseTransfer(r)
		if !r.bad {
			data.Transfers = append(data.Transfers, row)
		}
	case models.TablePathways:
		row := parsePathway(r)
		if !r.bad {
			data.Pathways = append(data.Pathways, row)
		}
	case models.TableFeedInfo:
		row := parseFeedInfo(r)
		if !r.bad {
			data.FeedInfos = append(data.FeedInfos, row)
		}
	}
}

func parseAgency(r *rowReader) models.Agency {
	return models.Agency{
		Row:            r.row,
		AgencyID:       r.optID("agency_id"),
		AgencyName:     r.reqString("agency_name"),
		AgencyURL:      r.reqString("agency_url"),
		AgencyTimezone: r.reqString("agency_timezone"),
		AgencyLang:     r.optString("agency_lang"),
		AgencyPhone:    r.optString("agency_phone"),
		AgencyFareURL:  r.optString("agency_fare_url"),
		AgencyEmail:    r.optString("agency_email"),
	}
}

func parseStop(r *rowReader) models.Stop {
	return models.Stop{
		Row:                r.row,
		StopID:             r.reqString("stop_id"),
		StopCode:           r.optString("stop_code"),
		StopName:           r.reqString("stop_name"),
		StopDesc:           r.optString("stop_desc"),
		StopLat:            r.reqFloat("stop_lat"),
		StopLon:            r.reqFloat("stop_lon"),
		ZoneID:             r.optString("zone_id"),
		StopURL:            r.optString("stop_url"),
		LocationType:       r.enum("location_type", 4),
		ParentStation:      r.optString("parent_station"),
		StopTimezone:       r.optString("stop_timezone"),
		WheelchairBoarding: r.enum("wheelchair_boarding", 2),
		LevelID:            r.optString("level_id"),
		PlatformCode:       r.optString("platform_code"),
	}
}

func parseRoute(r *rowReader) models.Route {
	return models.Route{
		Row:            r.row,
		RouteID:        r.reqString("route_id"),
		AgencyID:       r.optString("agency_id"),
		RouteShortName: r.optString("route_short_name"),
		RouteLongName:  r.optString("route_long_name"),
		RouteDesc:      r.optString("route_desc"),
		RouteType:      r.reqInt("route_type"),
		RouteURL:       r.optString("route_url"),
		RouteColor:     r.optString("route_color"),
		RouteTextColor: r.optString("route_text_color"),
		RouteSortOrder: r.optInt("route_sort_order"),
	}
}

func parseTrip(r *rowReader) models.Trip {
	return models.Trip{
		Row:                  r.row,
		TripID:               r.reqString("trip_id"),
		RouteID:              r.reqString("route_id"),
		ServiceID:            r.reqString("service_id"),
		TripHeadsign:         r.optString("trip_headsign"),
		TripShortName:        r.optString("trip_short_name"),
		DirectionID:          r.enum("direction_id", 1),
		BlockID:              r.optString("block_id"),
		ShapeID:              r.optString("shape_id"),
		WheelchairAccessible: r.enum("wheelchair_accessible", 2),
		BikesAllowed:         r.enum("bikes_allowed", 2),
	}
}

func parseStopTime(r *rowReader) models.StopTime {
	return models.StopTime{
		Row:               r.row,
		TripID:            r.reqString("trip_id"),
		StopID:            r.reqString("stop_id"),
		StopSequence:      r.reqInt("stop_sequence"),
		ArrivalTime:       r.optSeconds("arrival_time"),
		DepartureTime:     r.optSeconds("departure_time"),
		StopHeadsign:      r.optString("stop_headsign"),
		PickupType:        r.enum("pickup_type", 3),
		DropOffType:       r.enum("drop_off_type", 3),
		ShapeDistTraveled: r.optFloat("shape_dist_traveled"),
		Timepoint:         r.enum("timepoint", 1),
	}
}

func parseCalendar(r *rowReader) models.Calendar {
	return models.Calendar{
		Row:       r.row,
		ServiceID: r.reqString("service_id"),
		Monday:    r.reqEnum("monday", 1),
		Tuesday:   r.reqEnum("tuesday", 1),
		Wednesday: r.reqEnum("wednesday", 1),
		Thursday:  r.reqEnum("thursday", 1),
		Friday:    r.reqEnum("friday", 1),
		Saturday:  r.reqEnum("saturday", 1),
		Sunday:    r.reqEnum("sunday", 1),
		StartDate: r.reqDate("start_date"),
		EndDate:   r.reqDate("end_date"),
	}
}

func parseCalendarDate(r *rowReader) models.CalendarDate {
	return models.CalendarDate{
		Row:           r.row,
		ServiceID:     r.reqString("service_id"),
		Date:          r.reqDate("date"),
		ExceptionType: r.reqEnumRange("exception_type", 1, 2),
	}
}

func parseFareAttribute(r *rowReader) models.FareAttribute {
	return models.FareAttribute{
		Row:              r.row,
		FareID:           r.reqString("fare_id"),
		Price:            r.reqFloat("price"),
		CurrencyType:     r.reqString("currency_type"),
		PaymentMethod:    r.reqEnum("payment_method", 1),
		Transfers:        r.optInt("transfers"),
		AgencyID:         r.optString("agency_id"),
		TransferDuration: r.optInt("transfer_duration"),
	}
}

func parseFareRule(r *rowReader) models.FareRule {
	return models.FareRule{
		Row:           r.row,
		FareID:        r.reqString("fare_id"),
		RouteID:       r.optString("route_id"),
		OriginID:      r.optString("origin_id"),
		DestinationID: r.optString("destination_id"),
		ContainsID:    r.optString("contains_id"),
	}
}

func parseShape(r *rowReader) models.Shape {
	return models.Shape{
		Row:               r.row,
		ShapeID:           r.reqString("shape_id"),
		ShapePtLat:        r.reqFloat("shape_pt_lat"),
		ShapePtLon:        r.reqFloat("shape_pt_lon"),
		ShapePtSequence:   r.reqInt("shape_pt_sequence"),
		ShapeDistTraveled: r.optFloat("shape_dist_traveled"),
	}
}

func parseFrequency(r *rowReader) models.Frequency {
	return models.Frequency{
		Row:         r.row,
		TripID:      r.reqString("trip_id"),
		StartTime:   r.reqSeconds("start_time"),
		EndTime:     r.reqSeconds("end_time"),
		HeadwaySecs: r.reqInt("headway_secs"),
		ExactTimes:  r.enum("exact_times", 1),
	}
}

func parseTransfer(r *rowReader) models.Transfer {
	return models.Transfer{
		Row:             r.row,
		FromStopID:      r.reqString("from_stop_id"),
		ToStopID:        r.reqString("to_stop_id"),
		TransferType:    r.reqEnum("transfer_type", 5),
		MinTransferTime: r.optInt("min_transfer_time"),
	}
}

func parsePathway(r *rowReader) models.Pathway {
	return models.Pathway{
		Row:             r.row,
		PathwayID:       r.reqString("pathway_id"),
		FromStopID:      r.reqString("from_stop_id"),
		ToStopID:        r.reqString("to_stop_id"),
		PathwayMode:     r.reqEnumRange("pathway_mode", 1, 7),
		IsBidirectional: r.reqEnum("is_bidirectional", 1),
		Length:          r.optFloat("length"),
		TraversalTime:   r.optInt("traversal_time"),
		StairCount:      r.optInt("stair_count"),
		MaxSlope:        r.optFloat("max_slope"),
		MinWidth:        r.optFloat("min_width"),
		SignpostedAs:    r.optString("signposted_as"),
	}
}

func parseFeedInfo(r *rowReader) models.FeedInfo {
	return models.FeedInfo{
		Row:               r.row,
		FeedPublisherName: r.reqString("feed_publisher_name"),
		FeedPublisherURL:  r.reqString("feed_publisher_url"),
		FeedLang:          r.reqString("feed_lang"),
		FeedStartDate:     r.optDate("feed_start_date"),
		FeedEndDate:       r.optDate("feed_end_date"),
		FeedVersion:       r.optString("feed_version"),
		FeedContactEmail:  r.optString("feed_contact_email"),
		FeedContactURL:    r.optString("feed_contact_url"),
	}
}
