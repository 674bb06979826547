package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitbridge-data/internal/common/logger"
	"github.com/transitbridge-data/pkg/gtfs/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &DB{conn: conn, logger: logger.New()}, mock
}

func persistFixture() *models.FeedData {
	return &models.FeedData{
		Agencies: []models.Agency{{Row: 1, AgencyID: "A1", AgencyName: "Metro",
			AgencyURL: "https://metro.example", AgencyTimezone: "Europe/Berlin"}},
		Stops: []models.Stop{
			{Row: 1, StopID: "S1", StopName: "Central Station", StopLat: 52.52, StopLon: 13.405},
			{Row: 2, StopID: "S2", StopName: "Harbour", StopLat: 52.53, StopLon: 13.415},
		},
		Routes:    []models.Route{{Row: 1, RouteID: "R1", RouteType: 3}},
		Calendars: []models.Calendar{{Row: 1, ServiceID: "WK"}},
		Trips:     []models.Trip{{Row: 1, TripID: "T1", RouteID: "R1", ServiceID: "WK"}},
		StopTimes: []models.StopTime{
			{Row: 1, TripID: "T1", StopID: "S1", StopSequence: 1},
			{Row: 2, TripID: "T1", StopID: "S2", StopSequence: 2},
		},
	}
}

func TestPersistDemotesPredecessorInOneTransaction(t *testing.T) {
	database, mock := newMockDB(t)
	store := NewFeedStore(database, 1000)

	mock.ExpectBegin()
	for _, table := range []string{"agencies", "stops", "routes", "calendar", "trips", "stop_times"} {
		mock.ExpectExec(`INSERT INTO gtfs\.` + table + ` `).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	// The previous active generation of the same name goes stale before the
	// new one is activated, inside the same transaction.
	mock.ExpectExec(`UPDATE gtfs\.feeds SET status = \$1\s+WHERE name = \$2 AND status = \$3 AND id <> \$4`).
		WithArgs("stale", "metro", "active", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE gtfs\.feeds\s+SET status = \$1, valid_from = \$2, valid_until = \$3, version = \$4, last_error = NULL\s+WHERE id = \$5`).
		WithArgs("active", sqlmock.AnyArg(), sqlmock.AnyArg(), "2026-08", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	err := store.Persist(context.Background(), 7, "metro", persistFixture(), &from, &until, "2026-08")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistRollsBackOnWriteFailure(t *testing.T) {
	database, mock := newMockDB(t)
	store := NewFeedStore(database, 1000)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO gtfs\.agencies `).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Persist(context.Background(), 7, "metro", persistFixture(), nil, nil, "v1")
	var sw *models.StorageWriteError
	require.ErrorAs(t, err, &sw)
	assert.Equal(t, "agencies", sw.Table)

	// Neither demotion, activation nor commit ran.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistRollsBackWhenDemoteFails(t *testing.T) {
	database, mock := newMockDB(t)
	store := NewFeedStore(database, 1000)

	mock.ExpectBegin()
	for _, table := range []string{"agencies", "stops", "routes", "calendar", "trips", "stop_times"} {
		mock.ExpectExec(`INSERT INTO gtfs\.` + table + ` `).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(`UPDATE gtfs\.feeds SET status = \$1\s+WHERE name = \$2`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.Persist(context.Background(), 7, "metro", persistFixture(), nil, nil, "v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "demoting previous feed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateFeedSkipsStationParentReferences(t *testing.T) {
	database, mock := newMockDB(t)
	store := NewFeedStore(database, 1000)

	mock.ExpectQuery(`SELECT status FROM gtfs\.feeds`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))

	for range persistedRefChecks {
		mock.ExpectQuery(`SELECT DISTINCT s\.`).
			WillReturnRows(sqlmock.NewRows([]string{"key"}))
	}

	// Station rows are exempt; only child stops with a broken parent surface.
	mock.ExpectQuery(`COALESCE\(s\.location_type, 0\) <> 1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("GHOST"))

	mock.ExpectQuery(`SELECT count\(\*\) FROM gtfs\.agencies`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT DISTINCT t\.service_id`).
		WillReturnRows(sqlmock.NewRows([]string{"service_id"}))

	report, err := store.ValidateFeed(context.Background(), 7)
	require.NoError(t, err)

	require.Len(t, report.RefErrors, 1)
	assert.Equal(t, "stops", report.RefErrors[0].Table)
	assert.Equal(t, "parent_station", report.RefErrors[0].Column)
	assert.Equal(t, "GHOST", report.RefErrors[0].Key)
	assert.NoError(t, mock.ExpectationsWereMet())
}
