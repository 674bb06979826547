package models

import (
	"time"
)

// Table names as they appear inside a GTFS archive, without the .txt suffix.
const (
	TableAgencies       = "agency"
	TableStops          = "stops"
	TableRoutes         = "routes"
	TableTrips          = "trips"
	TableStopTimes      = "stop_times"
	TableCalendar       = "calendar"
	TableCalendarDates  = "calendar_dates"
	TableFareAttributes = "fare_attributes"
	TableFareRules      = "fare_rules"
	TableShapes         = "shapes"
	TableFrequencies    = "frequencies"
	TableTransfers      = "transfers"
	TablePathways       = "pathways"
	TableFeedInfo       = "feed_info"
)

// Agency is one row of agency.txt. Row is the 1-based data row the record
// came from, used when reporting validation errors against it.
type Agency struct {
	Row            int
	AgencyID       string
	AgencyName     string
	AgencyURL      string
	AgencyTimezone string
	AgencyLang     *string
	AgencyPhone    *string
	AgencyFareURL  *string
	AgencyEmail    *string
}

type Stop struct {
	Row                int
	StopID             string
	StopCode           *string
	StopName           string
	StopDesc           *string
	StopLat            float64
	StopLon            float64
	ZoneID             *string
	StopURL            *string
	LocationType       int
	ParentStation      *string
	StopTimezone       *string
	WheelchairBoarding int
	LevelID            *string
	PlatformCode       *string
}

type Route struct {
	Row            int
	RouteID        string
	AgencyID       *string
	RouteShortName *string
	RouteLongName  *string
	RouteDesc      *string
	RouteType      int
	RouteURL       *string
	RouteColor     *string
	RouteTextColor *string
	RouteSortOrder *int
}

type Trip struct {
	Row                  int
	TripID               string
	RouteID              string
	ServiceID            string
	TripHeadsign         *string
	TripShortName        *string
	DirectionID          int
	BlockID              *string
	ShapeID              *string
	WheelchairAccessible int
	BikesAllowed         int
}

// StopTime stores arrival and departure as seconds since midnight. GTFS
// allows values past 24:00:00 for trips crossing midnight, so these can
// exceed 86400 and must not be treated as clock times.
type StopTime struct {
	Row               int
	TripID            string
	StopID            string
	StopSequence      int
	ArrivalTime       *int
	DepartureTime     *int
	StopHeadsign      *string
	PickupType        int
	DropOffType       int
	ShapeDistTraveled *float64
	Timepoint         int
}

type Calendar struct {
	Row       int
	ServiceID string
	Monday    int
	Tuesday   int
	Wednesday int
	Thursday  int
	Friday    int
	Saturday  int
	Sunday    int
	StartDate time.Time
	EndDate   time.Time
}

type CalendarDate struct {
	Row           int
	ServiceID     string
	Date          time.Time
	ExceptionType int
}

type FareAttribute struct {
	Row              int
	FareID           string
	Price            float64
	CurrencyType     string
	PaymentMethod    int
	Transfers        *int
	AgencyID         *string
	TransferDuration *int
}

type FareRule struct {
	Row           int
	FareID        string
	RouteID       *string
	OriginID      *string
	DestinationID *string
	ContainsID    *string
}

type Shape struct {
	Row               int
	ShapeID           string
	ShapePtLat        float64
	ShapePtLon        float64
	ShapePtSequence   int
	ShapeDistTraveled *float64
}

type Frequency struct {
	Row         int
	TripID      string
	StartTime   int
	EndTime     int
	HeadwaySecs int
	ExactTimes  int
}

type Transfer struct {
	Row             int
	FromStopID      string
	ToStopID        string
	TransferType    int
	MinTransferTime *int
}

type Pathway struct {
	Row             int
	PathwayID       string
	FromStopID      string
	ToStopID        string
	PathwayMode     int
	IsBidirectional int
	Length          *float64
	TraversalTime   *int
	StairCount      *int
	MaxSlope        *float64
	MinWidth        *float64
	SignpostedAs    *string
}

type FeedInfo struct {
	Row               int
	FeedPublisherName string
	FeedPublisherURL  string
	FeedLang          string
	FeedStartDate     *time.Time
	FeedEndDate       *time.Time
	FeedVersion       *string
	FeedContactEmail  *string
	FeedContactURL    *string
}

// FeedData is one parsed feed staged for validation and bulk loading.
type FeedData struct {
	Agencies       []Agency
	Stops          []Stop
	Routes         []Route
	Trips          []Trip
	StopTimes      []StopTime
	Calendars      []Calendar
	CalendarDates  []CalendarDate
	FareAttributes []FareAttribute
	FareRules      []FareRule
	Shapes         []Shape
	Frequencies    []Frequency
	Transfers      []Transfer
	Pathways       []Pathway
	FeedInfos      []FeedInfo
}

// Counts returns the number of staged rows per table.
func (d *FeedData) Counts() map[string]int {
	return map[string]int{
		TableAgencies:       len(d.Agencies),
		TableStops:          len(d.Stops),
		TableRoutes:         len(d.Routes),
		TableTrips:          len(d.Trips),
		TableStopTimes:      len(d.StopTimes),
		TableCalendar:       len(d.Calendars),
		TableCalendarDates:  len(d.CalendarDates),
		TableFareAttributes: len(d.FareAttributes),
		TableFareRules:      len(d.FareRules),
		TableShapes:         len(d.Shapes),
		TableFrequencies:    len(d.Frequencies),
		TableTransfers:      len(d.Transfers),
		TablePathways:       len(d.Pathways),
		TableFeedInfo:       len(d.FeedInfos),
	}
}

// ValidityWindow derives the feed's service window. feed_info dates win when
// present; otherwise the min start and max end across calendar.txt entries
// and calendar date exceptions are used.
func (d *FeedData) ValidityWindow() (from, until *time.Time) {
	for _, fi := range d.FeedInfos {
		if fi.FeedStartDate != nil {
			from = fi.FeedStartDate
		}
		if fi.FeedEndDate != nil {
			until = fi.FeedEndDate
		}
	}
	if from != nil && until != nil {
		return from, until
	}

	var lo, hi time.Time
	observe := func(start, end time.Time) {
		if lo.IsZero() || start.Before(lo) {
			lo = start
		}
		if hi.IsZero() || end.After(hi) {
			hi = end
		}
	}
	for _, c := range d.Calendars {
		observe(c.StartDate, c.EndDate)
	}
	for _, cd := range d.CalendarDates {
		observe(cd.Date, cd.Date)
	}
	if from == nil && !lo.IsZero() {
		from = &lo
	}
	if until == nil && !hi.IsZero() {
		until = &hi
	}
	return from, until
}

// Version returns the feed_version declared in feed_info, if any.
func (d *FeedData) Version() string {
	for _, fi := range d.FeedInfos {
		if fi.FeedVersion != nil && *fi.FeedVersion != "" {
			return *fi.FeedVersion
		}
	}
	return ""
}
