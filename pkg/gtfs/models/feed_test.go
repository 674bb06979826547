package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceOriginOmitsCredentials(t *testing.T) {
	s := Source{
		Type: SourceFTP,
		FTP: &FTPSource{
			Host:     "feeds.example.com",
			User:     "operator",
			Password: "hunter2",
			Path:     "exports/gtfs.zip",
		},
	}
	origin := s.Origin()
	assert.Equal(t, "ftp://feeds.example.com/exports/gtfs.zip", origin)
	assert.NotContains(t, origin, "operator")
	assert.NotContains(t, origin, "hunter2")
}

func TestFeedStatusTerminal(t *testing.T) {
	for _, s := range []FeedStatus{StatusActive, StatusFailed, StatusStale} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []FeedStatus{StatusPending, StatusAcquiring, StatusParsing, StatusValidating, StatusPersisting} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func date(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestValidityWindowPrefersFeedInfo(t *testing.T) {
	start, end := date("2026-01-01"), date("2026-12-31")
	d := &FeedData{
		FeedInfos: []FeedInfo{{FeedStartDate: &start, FeedEndDate: &end}},
		Calendars: []Calendar{{StartDate: date("2026-03-01"), EndDate: date("2026-06-30")}},
	}
	from, until := d.ValidityWindow()
	require.NotNil(t, from)
	require.NotNil(t, until)
	assert.Equal(t, start, *from)
	assert.Equal(t, end, *until)
}

func TestValidityWindowFromCalendars(t *testing.T) {
	d := &FeedData{
		Calendars: []Calendar{
			{StartDate: date("2026-03-01"), EndDate: date("2026-06-30")},
			{StartDate: date("2026-01-15"), EndDate: date("2026-05-01")},
		},
		CalendarDates: []CalendarDate{{Date: date("2026-12-25")}},
	}
	from, until := d.ValidityWindow()
	require.NotNil(t, from)
	require.NotNil(t, until)
	assert.Equal(t, date("2026-01-15"), *from)
	assert.Equal(t, date("2026-12-25"), *until)
}

func TestValidityWindowEmpty(t *testing.T) {
	from, until := (&FeedData{}).ValidityWindow()
	assert.Nil(t, from)
	assert.Nil(t, until)
}

func TestReportAggregation(t *testing.T) {
	r := &Report{}
	assert.True(t, r.Empty())

	r.AddRow(RowValidationError{Table: TableStops, Row: 3, Column: "stop_lat", Value: "x", Reason: "not a decimal"})
	r.AddRef(DanglingReferenceError{Table: TableTrips, Row: 1, Column: "route_id", RefTable: TableRoutes, Key: "R9"})

	assert.False(t, r.Empty())
	assert.Equal(t, 2, r.Len())

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "stop_lat")
	assert.Contains(t, msgs[1], "R9")
}
