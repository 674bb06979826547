package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitbridge-data/internal/common/logger"
	"github.com/transitbridge-data/internal/gtfs/parser"
	"github.com/transitbridge-data/internal/gtfs/validator"
	"github.com/transitbridge-data/pkg/gtfs/models"
)

// fakeStorage records every call so tests can assert on the exact
// lifecycle a pipeline run produced.
type fakeStorage struct {
	mu         sync.Mutex
	nextID     int64
	statuses   map[int64][]models.FeedStatus
	failures   map[int64]string
	persisted  map[int64]*models.FeedData
	versions   map[int64]string
	persistErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		statuses:  make(map[int64][]models.FeedStatus),
		failures:  make(map[int64]string),
		persisted: make(map[int64]*models.FeedData),
		versions:  make(map[int64]string),
	}
}

func (s *fakeStorage) CreateFeed(ctx context.Context, name string, originType models.SourceType, originRef string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.statuses[s.nextID] = []models.FeedStatus{models.StatusPending}
	return s.nextID, nil
}

func (s *fakeStorage) SetStatus(ctx context.Context, feedID int64, status models.FeedStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[feedID] = append(s.statuses[feedID], status)
	return nil
}

func (s *fakeStorage) MarkFailed(ctx context.Context, feedID int64, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[feedID] = append(s.statuses[feedID], models.StatusFailed)
	s.failures[feedID] = cause
	return nil
}

func (s *fakeStorage) FeedStatus(ctx context.Context, feedID int64) (models.FeedStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.statuses[feedID]
	return history[len(history)-1], nil
}

func (s *fakeStorage) Persist(ctx context.Context, feedID int64, name string, data *models.FeedData, validFrom, validUntil *time.Time, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return s.persistErr
	}
	s.persisted[feedID] = data
	s.versions[feedID] = version
	s.statuses[feedID] = append(s.statuses[feedID], models.StatusActive)
	return nil
}

func (s *fakeStorage) history(feedID int64) []models.FeedStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.FeedStatus(nil), s.statuses[feedID]...)
}

// fileArchiver hands back a pre-built archive and tracks how many
// acquisitions run at once.
type fileArchiver struct {
	path string
	err  error

	mu     sync.Mutex
	active int
	peak   int
}

func (a *fileArchiver) Acquire(ctx context.Context, source models.Source) (string, error) {
	a.mu.Lock()
	a.active++
	if a.active > a.peak {
		a.peak = a.active
	}
	a.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	a.mu.Lock()
	a.active--
	a.mu.Unlock()

	if a.err != nil {
		return "", a.err
	}
	// The importer deletes the archive when done, so each call hands out
	// a fresh copy.
	src, err := os.ReadFile(a.path)
	if err != nil {
		return "", err
	}
	copyPath := filepath.Join(filepath.Dir(a.path), "copy_"+filepath.Base(a.path)+time.Now().Format("150405.000000000"))
	if err := os.WriteFile(copyPath, src, 0644); err != nil {
		return "", err
	}
	return copyPath, nil
}

func writeArchive(t *testing.T, dir string, files map[string]string) string {
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

	path := filepath.Join(dir, "feed.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func consistentArchive() map[string]string {
	return map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"A1,Metro,https://metro.example,Europe/Berlin\n",
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
			"S1,Central Station,52.5200,13.4050\n" +
			"S2,Harbour,52.5300,13.4150\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_type\n" +
			"R1,A1,10,3\n",
		"trips.txt": "route_id,service_id,trip_id\n" +
			"R1,WK,T1\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,08:00:00,08:00:30,S1,1\n" +
			"T1,08:10:00,08:10:30,S2,2\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WK,1,1,1,1,1,0,0,20260101,20261231\n",
	}
}

func newTestImporter(storage Storage, archiver Archiver) *Importer {
	log := logger.New()
	return New(storage, archiver, parser.New(log), validator.New(log), log)
}

func uploadSource() models.Source {
	return models.Source{Type: models.SourceUpload, UploadPath: "/tmp/feed.zip"}
}

func TestImportSuccess(t *testing.T) {
	storage := newFakeStorage()
	archiver := &fileArchiver{path: writeArchive(t, t.TempDir(), consistentArchive())}
	imp := newTestImporter(storage, archiver)

	result, err := imp.StartImport(context.Background(), uploadSource(), "metro")
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, result.Status)
	assert.Equal(t, 2, result.Counts[models.TableStops])
	assert.Equal(t, 2, result.Counts[models.TableStopTimes])
	assert.True(t, result.Report.Empty())

	assert.Equal(t, []models.FeedStatus{
		models.StatusPending,
		models.StatusAcquiring,
		models.StatusParsing,
		models.StatusValidating,
		models.StatusPersisting,
		models.StatusActive,
	}, storage.history(result.FeedID))

	// No feed_info, so the version falls back to a generated one.
	assert.NotEmpty(t, storage.versions[result.FeedID])
}

func TestImportVersionFromFeedInfo(t *testing.T) {
	files := consistentArchive()
	files["feed_info.txt"] = "feed_publisher_name,feed_publisher_url,feed_lang,feed_version\n" +
		"Metro GmbH,https://metro.example,de,2026-08\n"

	storage := newFakeStorage()
	archiver := &fileArchiver{path: writeArchive(t, t.TempDir(), files)}
	imp := newTestImporter(storage, archiver)

	result, err := imp.StartImport(context.Background(), uploadSource(), "metro")
	require.NoError(t, err)
	assert.Equal(t, "2026-08", storage.versions[result.FeedID])
}

func TestImportFailsOnDanglingReference(t *testing.T) {
	files := consistentArchive()
	files["trips.txt"] = "route_id,service_id,trip_id\nR9,WK,T1\n"

	storage := newFakeStorage()
	archiver := &fileArchiver{path: writeArchive(t, t.TempDir(), files)}
	imp := newTestImporter(storage, archiver)

	result, err := imp.StartImport(context.Background(), uploadSource(), "metro")
	require.Error(t, err)

	// Nothing is persisted and the feed ends failed with the errors attached.
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Empty(t, storage.persisted)
	require.Len(t, result.Report.RefErrors, 1)
	assert.Equal(t, "route_id", result.Report.RefErrors[0].Column)
	assert.Contains(t, storage.failures[result.FeedID], "R9")
}

func TestImportFailsOnRowErrors(t *testing.T) {
	files := consistentArchive()
	files["stops.txt"] = "stop_id,stop_name,stop_lat,stop_lon\n" +
		"S1,Central Station,bogus,13.4050\n" +
		"S2,Harbour,52.5300,13.4150\n"

	storage := newFakeStorage()
	archiver := &fileArchiver{path: writeArchive(t, t.TempDir(), files)}
	imp := newTestImporter(storage, archiver)

	result, err := imp.StartImport(context.Background(), uploadSource(), "metro")
	require.Error(t, err)
	assert.Empty(t, storage.persisted)
	// The dropped stop also breaks the stop_times reference, so both kinds
	// of errors surface in one report.
	assert.NotEmpty(t, result.Report.RowErrors)
	assert.NotEmpty(t, result.Report.RefErrors)
}

func TestImportFailsOnMissingTable(t *testing.T) {
	files := consistentArchive()
	delete(files, "stop_times.txt")

	storage := newFakeStorage()
	archiver := &fileArchiver{path: writeArchive(t, t.TempDir(), files)}
	imp := newTestImporter(storage, archiver)

	result, err := imp.StartImport(context.Background(), uploadSource(), "metro")
	var missing *models.MissingRequiredTableError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Empty(t, storage.persisted)
}

func TestImportFailsOnAcquisition(t *testing.T) {
	storage := newFakeStorage()
	archiver := &fileArchiver{err: &models.AcquisitionError{Kind: models.AcquireNoFile, Source: "/tmp/feed.zip"}}
	imp := newTestImporter(storage, archiver)

	result, err := imp.StartImport(context.Background(), uploadSource(), "metro")
	var acq *models.AcquisitionError
	require.ErrorAs(t, err, &acq)
	assert.Equal(t, models.AcquireNoFile, acq.Kind)
	assert.Equal(t, models.StatusFailed, result.Status)
}

func TestImportFailsOnPersist(t *testing.T) {
	storage := newFakeStorage()
	storage.persistErr = &models.StorageWriteError{Table: "gtfs.stop_times"}
	archiver := &fileArchiver{path: writeArchive(t, t.TempDir(), consistentArchive())}
	imp := newTestImporter(storage, archiver)

	result, err := imp.StartImport(context.Background(), uploadSource(), "metro")
	var sw *models.StorageWriteError
	require.ErrorAs(t, err, &sw)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Empty(t, storage.persisted)
}

func TestImportsForSameNameSerialize(t *testing.T) {
	storage := newFakeStorage()
	archiver := &fileArchiver{path: writeArchive(t, t.TempDir(), consistentArchive())}
	imp := newTestImporter(storage, archiver)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := imp.StartImport(context.Background(), uploadSource(), "metro")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, archiver.peak, "imports for one feed name must not overlap")
	assert.Len(t, storage.persisted, 4)
}
