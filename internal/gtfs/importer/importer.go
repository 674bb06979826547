package importer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/transitbridge-data/internal/common/logger"
	"github.com/transitbridge-data/internal/gtfs/acquirer"
	"github.com/transitbridge-data/internal/gtfs/parser"
	"github.com/transitbridge-data/internal/gtfs/validator"
	"github.com/transitbridge-data/pkg/gtfs/models"
)

// Storage is the persistence surface the importer drives. *db.FeedStore
// satisfies it in production.
type Storage interface {
	CreateFeed(ctx context.Context, name string, originType models.SourceType, originRef string) (int64, error)
	SetStatus(ctx context.Context, feedID int64, status models.FeedStatus) error
	MarkFailed(ctx context.Context, feedID int64, cause string) error
	FeedStatus(ctx context.Context, feedID int64) (models.FeedStatus, error)
	Persist(ctx context.Context, feedID int64, name string, data *models.FeedData, validFrom, validUntil *time.Time, version string) error
}

// Archiver turns a feed source into a local archive path.
type Archiver interface {
	Acquire(ctx context.Context, source models.Source) (string, error)
}

var _ Archiver = (*acquirer.Acquirer)(nil)

// Importer runs the full import pipeline for one feed: acquire, parse,
// validate, persist. Imports for the same feed name are serialised so two
// generations never race over which one ends up active; imports for
// different names run concurrently.
type Importer struct {
	storage   Storage
	acquirer  Archiver
	parser    *parser.Parser
	validator *validator.Validator
	logger    logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(storage Storage, archiver Archiver, p *parser.Parser, v *validator.Validator, logger logger.Logger) *Importer {
	return &Importer{
		storage:   storage,
		acquirer:  archiver,
		parser:    p,
		validator: v,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// nameLock returns the mutex guarding imports for one feed name, creating
// it on first use. Locks are never removed; the set of feed names is small.
func (im *Importer) nameLock(name string) *sync.Mutex {
	im.mu.Lock()
	defer im.mu.Unlock()
	l, ok := im.locks[name]
	if !ok {
		l = &sync.Mutex{}
		im.locks[name] = l
	}
	return l
}

// StartImport runs an import to completion and returns its outcome. Any
// error in acquisition, parsing, validation or persistence fails the whole
// import and leaves nothing of the feed's data behind; the feed row itself
// stays as a failed audit record.
func (im *Importer) StartImport(ctx context.Context, source models.Source, feedName string) (*models.ImportResult, error) {
	lock := im.nameLock(feedName)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	im.logger.Info("Starting feed import", "feed_name", feedName, "origin", source.Origin())

	feedID, err := im.storage.CreateFeed(ctx, feedName, source.Type, source.Origin())
	if err != nil {
		return nil, fmt.Errorf("creating feed record: %w", err)
	}

	result := &models.ImportResult{FeedID: feedID, Name: feedName}

	data, report, err := im.runPipeline(ctx, feedID, source, feedName)
	if err != nil {
		result.Status = models.StatusFailed
		result.Report = report
		if markErr := im.storage.MarkFailed(ctx, feedID, failureCause(err, report)); markErr != nil {
			im.logger.Error("Recording import failure", "feed_id", feedID, "error", markErr)
		}
		im.logger.Error("Feed import failed",
			"feed_id", feedID,
			"feed_name", feedName,
			"errors", report.Len(),
			"error", err)
		return result, err
	}

	result.Status = models.StatusActive
	result.Counts = data.Counts()
	result.Report = report

	im.logger.Info("Feed import completed",
		"feed_id", feedID,
		"feed_name", feedName,
		"version", data.Version(),
		"duration", time.Since(started).String())
	return result, nil
}

// runPipeline performs the state transitions up to activation. The returned
// report is non-nil even on failure so callers can surface every collected
// error, not only the first.
func (im *Importer) runPipeline(ctx context.Context, feedID int64, source models.Source, feedName string) (*models.FeedData, *models.Report, error) {
	report := &models.Report{}

	if err := im.storage.SetStatus(ctx, feedID, models.StatusAcquiring); err != nil {
		return nil, report, err
	}
	archivePath, err := im.acquirer.Acquire(ctx, source)
	if err != nil {
		return nil, report, err
	}
	defer os.Remove(archivePath)

	if err := im.storage.SetStatus(ctx, feedID, models.StatusParsing); err != nil {
		return nil, report, err
	}
	data, parseReport, err := im.parser.ParseZip(ctx, archivePath)
	if parseReport != nil {
		report = parseReport
	}
	if err != nil {
		return nil, report, err
	}

	if err := im.storage.SetStatus(ctx, feedID, models.StatusValidating); err != nil {
		return nil, report, err
	}
	im.validator.Validate(data, report)
	if !report.Empty() {
		return nil, report, fmt.Errorf("feed failed validation with %d errors", report.Len())
	}

	if err := im.storage.SetStatus(ctx, feedID, models.StatusPersisting); err != nil {
		return nil, report, err
	}
	version := data.Version()
	if version == "" {
		version = uuid.NewString()
	}
	validFrom, validUntil := data.ValidityWindow()
	if err := im.storage.Persist(ctx, feedID, feedName, data, validFrom, validUntil, version); err != nil {
		return nil, report, err
	}

	return data, report, nil
}

// FeedStatus reports the lifecycle state of a feed.
func (im *Importer) FeedStatus(ctx context.Context, feedID int64) (models.FeedStatus, error) {
	return im.storage.FeedStatus(ctx, feedID)
}

// failureCause condenses an import failure into a single line for the feed
// row. The first few report messages ride along so the record is useful
// without the full log.
func failureCause(err error, report *models.Report) string {
	cause := err.Error()
	msgs := report.Messages()
	if len(msgs) == 0 {
		return cause
	}
	const keep = 5
	if len(msgs) > keep {
		msgs = append(msgs[:keep], fmt.Sprintf("and %d more", report.Len()-keep))
	}
	return cause + ": " + strings.Join(msgs, "; ")
}
