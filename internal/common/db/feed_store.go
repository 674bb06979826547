package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/transitbridge-data/pkg/gtfs/models"
)

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// FeedStore tracks feed lifecycle records and performs the transactional
// bulk load of a validated feed.
type FeedStore struct {
	db        *DB
	batchSize int
}

func NewFeedStore(db *DB, batchSize int) *FeedStore {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &FeedStore{db: db, batchSize: batchSize}
}

// CreateFeed records a new import attempt in pending status before any
// transfer starts, so failed acquisitions stay auditable.
func (fs *FeedStore) CreateFeed(ctx context.Context, name string, originType models.SourceType, originRef string) (int64, error) {
	const query = `
		INSERT INTO gtfs.feeds (name, origin_type, origin_ref, imported_on, status)
		VALUES ($1, $2, $3, now(), $4)
		RETURNING id
	`
	var id int64
	err := fs.db.conn.QueryRowContext(ctx, query, name, string(originType), originRef, string(models.StatusPending)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating feed record: %w", err)
	}

	fs.db.logger.Info("Created feed record", "feed_id", id, "name", name, "origin", originRef)
	return id, nil
}

// SetStatus advances the feed through the import state machine.
func (fs *FeedStore) SetStatus(ctx context.Context, feedID int64, status models.FeedStatus) error {
	const query = `UPDATE gtfs.feeds SET status = $1 WHERE id = $2`
	res, err := fs.db.conn.ExecContext(ctx, query, string(status), feedID)
	if err != nil {
		return fmt.Errorf("updating feed status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("feed %d not found", feedID)
	}
	return nil
}

// MarkFailed records the terminal failure cause on the feed row for later
// inspection.
func (fs *FeedStore) MarkFailed(ctx context.Context, feedID int64, cause string) error {
	const query = `UPDATE gtfs.feeds SET status = $1, last_error = $2 WHERE id = $3`
	if _, err := fs.db.conn.ExecContext(ctx, query, string(models.StatusFailed), cause, feedID); err != nil {
		return fmt.Errorf("marking feed failed: %w", err)
	}
	return nil
}

// GetFeed returns one feed record.
func (fs *FeedStore) GetFeed(ctx context.Context, feedID int64) (*models.Feed, error) {
	const query = `
		SELECT id, name, origin_type, origin_ref, imported_on,
		       valid_from, valid_until, status, version, last_error
		FROM gtfs.feeds
		WHERE id = $1
	`
	var (
		feed       models.Feed
		originType sql.NullString
		originRef  sql.NullString
		validFrom  sql.NullTime
		validUntil sql.NullTime
		version    sql.NullString
		lastError  sql.NullString
	)
	err := fs.db.conn.QueryRowContext(ctx, query, feedID).Scan(
		&feed.ID,
		&feed.Name,
		&originType,
		&originRef,
		&feed.ImportedOn,
		&validFrom,
		&validUntil,
		&feed.Status,
		&version,
		&lastError,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("feed %d not found", feedID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying feed: %w", err)
	}

	feed.OriginType = models.SourceType(originType.String)
	feed.OriginRef = originRef.String
	feed.Version = version.String
	feed.LastError = lastError.String
	if validFrom.Valid {
		feed.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		feed.ValidUntil = &validUntil.Time
	}
	return &feed, nil
}

// FeedStatus is the read-only status query used by callers polling an
// import and by the entity mapper's active-feed guard.
func (fs *FeedStore) FeedStatus(ctx context.Context, feedID int64) (models.FeedStatus, error) {
	const query = `SELECT status FROM gtfs.feeds WHERE id = $1`
	var status string
	err := fs.db.conn.QueryRowContext(ctx, query, feedID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("feed %d not found", feedID)
	}
	if err != nil {
		return "", fmt.Errorf("querying feed status: %w", err)
	}
	return models.FeedStatus(status), nil
}

// Persist writes every staged table, stamps the feed active with its
// validity window and version, and demotes the previous active generation
// of the same name to stale. All of it happens in one transaction: either
// the whole feed lands or none of it does.
func (fs *FeedStore) Persist(ctx context.Context, feedID int64, name string, data *models.FeedData, validFrom, validUntil *time.Time, version string) error {
	tx, err := fs.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := loadFeedData(tx, feedID, data, fs.batchSize); err != nil {
		return err
	}

	const demote = `
		UPDATE gtfs.feeds SET status = $1
		WHERE name = $2 AND status = $3 AND id <> $4
	`
	if _, err := tx.ExecContext(ctx, demote, string(models.StatusStale), name, string(models.StatusActive), feedID); err != nil {
		return fmt.Errorf("demoting previous feed: %w", err)
	}

	const activate = `
		UPDATE gtfs.feeds
		SET status = $1, valid_from = $2, valid_until = $3, version = $4, last_error = NULL
		WHERE id = $5
	`
	if _, err := tx.ExecContext(ctx, activate, string(models.StatusActive), nullTime(validFrom), nullTime(validUntil), version, feedID); err != nil {
		return fmt.Errorf("activating feed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	fs.db.logger.Info("Feed persisted", "feed_id", feedID, "name", name, "version", version)
	return nil
}
