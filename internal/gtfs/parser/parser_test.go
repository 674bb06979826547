package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitbridge-data/internal/common/logger"
	"github.com/transitbridge-data/pkg/gtfs/models"
)

func buildArchive(t *testing.T, files map[string]string) *zip.Reader {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	return r
}

// minimalFeed is a small internally consistent feed touching the five
// mandatory tables plus calendar.
func minimalFeed() map[string]string {
	return map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"A1,Metro,https://metro.example,Europe/Berlin\n",
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
			"S1,Central Station,52.5200,13.4050\n" +
			"S2,Harbour,52.5300,13.4150\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type\n" +
			"R1,A1,10,Central to Harbour,3\n",
		"trips.txt": "route_id,service_id,trip_id,direction_id\n" +
			"R1,WK,T1,0\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,08:00:00,08:00:30,S1,1\n" +
			"T1,08:10:00,08:10:30,S2,2\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WK,1,1,1,1,1,0,0,20260101,20261231\n",
	}
}

func testParser() *Parser {
	return New(logger.New())
}

func TestParseMinimalFeed(t *testing.T) {
	data, report, err := testParser().ParseArchive(context.Background(), buildArchive(t, minimalFeed()))
	require.NoError(t, err)
	assert.True(t, report.Empty())

	assert.Len(t, data.Agencies, 1)
	assert.Len(t, data.Stops, 2)
	assert.Len(t, data.Routes, 1)
	assert.Len(t, data.Trips, 1)
	assert.Len(t, data.StopTimes, 2)
	assert.Len(t, data.Calendars, 1)

	assert.Equal(t, "Central Station", data.Stops[0].StopName)
	assert.Equal(t, 52.52, data.Stops[0].StopLat)
	assert.Equal(t, 3, data.Routes[0].RouteType)
	require.NotNil(t, data.StopTimes[0].ArrivalTime)
	assert.Equal(t, 8*3600, *data.StopTimes[0].ArrivalTime)

	// Source rows are 1-based over data rows.
	assert.Equal(t, 1, data.StopTimes[0].Row)
	assert.Equal(t, 2, data.StopTimes[1].Row)
}

func TestParseTimePastMidnight(t *testing.T) {
	files := minimalFeed()
	files["stop_times.txt"] = "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"T1,25:30:00,25:31:00,S1,1\n"

	data, report, err := testParser().ParseArchive(context.Background(), buildArchive(t, files))
	require.NoError(t, err)
	assert.True(t, report.Empty())
	require.Len(t, data.StopTimes, 1)
	assert.Equal(t, 91800, *data.StopTimes[0].ArrivalTime)
}

func TestParseMissingMandatoryTable(t *testing.T) {
	files := minimalFeed()
	delete(files, "stop_times.txt")

	_, _, err := testParser().ParseArchive(context.Background(), buildArchive(t, files))
	var missing *models.MissingRequiredTableError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, models.TableStopTimes, missing.Table)
}

func TestParseCalendarDatesSatisfiesServiceRequirement(t *testing.T) {
	files := minimalFeed()
	delete(files, "calendar.txt")
	files["calendar_dates.txt"] = "service_id,date,exception_type\n" +
		"WK,20260704,1\n"

	data, report, err := testParser().ParseArchive(context.Background(), buildArchive(t, files))
	require.NoError(t, err)
	assert.True(t, report.Empty())
	assert.Empty(t, data.Calendars)
	assert.Len(t, data.CalendarDates, 1)
}

func TestParseNeitherCalendarNorDates(t *testing.T) {
	files := minimalFeed()
	delete(files, "calendar.txt")

	_, _, err := testParser().ParseArchive(context.Background(), buildArchive(t, files))
	var missing *models.MissingRequiredTableError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, models.TableCalendar, missing.Table)
}

func TestParseCollectsRowErrors(t *testing.T) {
	files := minimalFeed()
	// Second stop has a malformed latitude, third is missing its name.
	files["stops.txt"] = "stop_id,stop_name,stop_lat,stop_lon\n" +
		"S1,Central Station,52.5200,13.4050\n" +
		"S2,Harbour,not-a-number,13.4150\n" +
		"S3,,52.5400,13.4250\n"

	data, report, err := testParser().ParseArchive(context.Background(), buildArchive(t, files))
	require.NoError(t, err)

	// Bad rows are reported and dropped; good rows stay staged.
	require.Len(t, report.RowErrors, 2)
	assert.Len(t, data.Stops, 1)

	assert.Equal(t, models.TableStops, report.RowErrors[0].Table)
	assert.Equal(t, 2, report.RowErrors[0].Row)
	assert.Equal(t, "stop_lat", report.RowErrors[0].Column)
	assert.Equal(t, "not-a-number", report.RowErrors[0].Value)

	assert.Equal(t, 3, report.RowErrors[1].Row)
	assert.Equal(t, "stop_name", report.RowErrors[1].Column)
}

func TestParseMissingRequiredColumn(t *testing.T) {
	files := minimalFeed()
	files["routes.txt"] = "route_id,route_short_name\nR1,10\n"

	data, report, err := testParser().ParseArchive(context.Background(), buildArchive(t, files))
	require.NoError(t, err)

	// Header errors carry row 0 and suppress the table body.
	require.Len(t, report.RowErrors, 1)
	assert.Equal(t, 0, report.RowErrors[0].Row)
	assert.Equal(t, "route_type", report.RowErrors[0].Column)
	assert.Empty(t, data.Routes)
}

func TestParseStripsByteOrderMark(t *testing.T) {
	files := minimalFeed()
	files["agency.txt"] = "\uFEFFagency_id,agency_name,agency_url,agency_timezone\n" +
		"A1,Metro,https://metro.example,Europe/Berlin\n"

	data, report, err := testParser().ParseArchive(context.Background(), buildArchive(t, files))
	require.NoError(t, err)
	assert.True(t, report.Empty())
	require.Len(t, data.Agencies, 1)
	assert.Equal(t, "A1", data.Agencies[0].AgencyID)
}

func TestParseOptionalTables(t *testing.T) {
	files := minimalFeed()
	files["frequencies.txt"] = "trip_id,start_time,end_time,headway_secs\n" +
		"T1,06:00:00,10:00:00,600\n"
	files["transfers.txt"] = "from_stop_id,to_stop_id,transfer_type,min_transfer_time\n" +
		"S1,S2,2,120\n"
	files["feed_info.txt"] = "feed_publisher_name,feed_publisher_url,feed_lang,feed_version,feed_start_date,feed_end_date\n" +
		"Metro GmbH,https://metro.example,de,2026-08,20260101,20261231\n"

	data, report, err := testParser().ParseArchive(context.Background(), buildArchive(t, files))
	require.NoError(t, err)
	assert.True(t, report.Empty())

	require.Len(t, data.Frequencies, 1)
	assert.Equal(t, 600, data.Frequencies[0].HeadwaySecs)

	require.Len(t, data.Transfers, 1)
	require.NotNil(t, data.Transfers[0].MinTransferTime)
	assert.Equal(t, 120, *data.Transfers[0].MinTransferTime)

	assert.Equal(t, "2026-08", data.Version())
	from, until := data.ValidityWindow()
	require.NotNil(t, from)
	require.NotNil(t, until)
	assert.Equal(t, "2026-01-01", from.Format("2006-01-02"))
	assert.Equal(t, "2026-12-31", until.Format("2006-01-02"))
}

func TestParseContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := testParser().ParseArchive(ctx, buildArchive(t, minimalFeed()))
	assert.True(t, errors.Is(err, context.Canceled))
}
