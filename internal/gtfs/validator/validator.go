package validator

import (
	"github.com/transitbridge-data/internal/common/logger"
	"github.com/transitbridge-data/pkg/gtfs/models"
)

// Validator cross-checks foreign-key-like references of a staged feed.
// Every reference must resolve within the same feed; broken ones are
// appended to the report alongside any row-level errors already collected.
type Validator struct {
	logger logger.Logger
}

func New(logger logger.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate appends a DanglingReferenceError to report for every reference
// that does not resolve. It never mutates data.
func (v *Validator) Validate(data *models.FeedData, report *models.Report) {
	agencies := make(map[string]struct{}, len(data.Agencies))
	for _, a := range data.Agencies {
		if a.AgencyID != "" {
			agencies[a.AgencyID] = struct{}{}
		}
	}
	stops := make(map[string]struct{}, len(data.Stops))
	for _, s := range data.Stops {
		stops[s.StopID] = struct{}{}
	}
	routes := make(map[string]struct{}, len(data.Routes))
	for _, r := range data.Routes {
		routes[r.RouteID] = struct{}{}
	}
	trips := make(map[string]struct{}, len(data.Trips))
	for _, t := range data.Trips {
		trips[t.TripID] = struct{}{}
	}
	services := make(map[string]struct{}, len(data.Calendars)+len(data.CalendarDates))
	for _, c := range data.Calendars {
		services[c.ServiceID] = struct{}{}
	}
	for _, cd := range data.CalendarDates {
		services[cd.ServiceID] = struct{}{}
	}
	fares := make(map[string]struct{}, len(data.FareAttributes))
	for _, fa := range data.FareAttributes {
		fares[fa.FareID] = struct{}{}
	}

	before := report.Len()

	// With a single agency GTFS lets routes omit agency_id and inherit it.
	checkAgency := len(data.Agencies) > 1
	for _, r := range data.Routes {
		if !checkAgency || r.AgencyID == nil || *r.AgencyID == "" {
			continue
		}
		if _, ok := agencies[*r.AgencyID]; !ok {
			report.AddRef(models.DanglingReferenceError{
				Table: models.TableRoutes, Row: r.Row, Column: "agency_id",
				RefTable: models.TableAgencies, Key: *r.AgencyID,
			})
		}
	}

	for _, t := range data.Trips {
		if _, ok := routes[t.RouteID]; !ok {
			report.AddRef(models.DanglingReferenceError{
				Table: models.TableTrips, Row: t.Row, Column: "route_id",
				RefTable: models.TableRoutes, Key: t.RouteID,
			})
		}
		if _, ok := services[t.ServiceID]; !ok {
			report.AddRef(models.DanglingReferenceError{
				Table: models.TableTrips, Row: t.Row, Column: "service_id",
				RefTable: models.TableCalendar, Key: t.ServiceID,
			})
		}
	}

	for _, st := range data.StopTimes {
		if _, ok := trips[st.TripID]; !ok {
			report.AddRef(models.DanglingReferenceError{
				Table: models.TableStopTimes, Row: st.Row, Column: "trip_id",
				RefTable: models.TableTrips, Key: st.TripID,
			})
		}
		if _, ok := stops[st.StopID]; !ok {
			report.AddRef(models.DanglingReferenceError{
				Table: models.TableStopTimes, Row: st.Row, Column: "stop_id",
				RefTable: models.TableStops, Key: st.StopID,
			})
		}
	}

	for _, f := range data.Frequencies {
		if _, ok := trips[f.TripID]; !ok {
			report.AddRef(models.DanglingReferenceError{
				Table: models.TableFrequencies, Row: f.Row, Column: "trip_id",
				RefTable: models.TableTrips, Key: f.TripID,
			})
		}
	}

	for _, fr := range data.FareRules {
		if _, ok := fares[fr.FareID]; !ok {
			report.AddRef(models.DanglingReferenceError{
				Table: models.TableFareRules, Row: fr.Row, Column: "fare_id",
				RefTable: models.TableFareAttributes, Key: fr.FareID,
			})
		}
		if fr.RouteID != nil && *fr.RouteID != "" {
			if _, ok := routes[*fr.RouteID]; !ok {
				report.AddRef(models.DanglingReferenceError{
					Table: models.TableFareRules, Row: fr.Row, Column: "route_id",
					RefTable: models.TableRoutes, Key: *fr.RouteID,
				})
			}
		}
	}

	for _, tr := range data.Transfers {
		v.checkStopRef(report, stops, models.TableTransfers, tr.Row, "from_stop_id", tr.FromStopID)
		v.checkStopRef(report, stops, models.TableTransfers, tr.Row, "to_stop_id", tr.ToStopID)
	}

	for _, p := range data.Pathways {
		v.checkStopRef(report, stops, models.TablePathways, p.Row, "from_stop_id", p.FromStopID)
		v.checkStopRef(report, stops, models.TablePathways, p.Row, "to_stop_id", p.ToStopID)
	}

	// A stop naming a parent must point at a stop in the same feed. A
	// station itself (location_type 1) never has a parent.
	for _, s := range data.Stops {
		if s.ParentStation == nil || *s.ParentStation == "" || s.LocationType == 1 {
			continue
		}
		if _, ok := stops[*s.ParentStation]; !ok {
			report.AddRef(models.DanglingReferenceError{
				Table: models.TableStops, Row: s.Row, Column: "parent_station",
				RefTable: models.TableStops, Key: *s.ParentStation,
			})
		}
	}

	v.logger.Info("Referential validation completed",
		"dangling_references", report.Len()-before)
}

func (v *Validator) checkStopRef(report *models.Report, stops map[string]struct{}, table string, row int, col, key string) {
	if key == "" {
		return
	}
	if _, ok := stops[key]; !ok {
		report.AddRef(models.DanglingReferenceError{
			Table: table, Row: row, Column: col,
			RefTable: models.TableStops, Key: key,
		})
	}
}
