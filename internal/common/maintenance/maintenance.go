package maintenance

import (
	"context"
	"fmt"

	"github.com/transitbridge-data/internal/common/db"
	"github.com/transitbridge-data/internal/common/logger"
	"github.com/transitbridge-data/pkg/gtfs/models"
)

// feedScopedTables lists every table carrying a feed_id column, ordered so
// referencing tables are cleared before the tables they reference.
var feedScopedTables = []string{
	"gtfs.booking_mapping",
	"gtfs.feed_info",
	"gtfs.pathways",
	"gtfs.transfers",
	"gtfs.frequencies",
	"gtfs.fare_rules",
	"gtfs.fare_attributes",
	"gtfs.shapes",
	"gtfs.stop_times",
	"gtfs.trips",
	"gtfs.calendar_dates",
	"gtfs.calendar",
	"gtfs.routes",
	"gtfs.stops",
	"gtfs.agencies",
}

// FeedCleanupResult summarises one deleted feed generation.
type FeedCleanupResult struct {
	FeedID         int64
	Name           string
	Status         models.FeedStatus
	RecordsDeleted int64
}

// Maintenance handles database cleanup operations for imported feeds.
type Maintenance struct {
	db     *db.DB
	logger logger.Logger
}

// New creates a new Maintenance instance
func New(database *db.DB, logger logger.Logger) *Maintenance {
	return &Maintenance{
		db:     database,
		logger: logger,
	}
}

// DeleteFeed removes a feed generation and every row belonging to it, the
// feed record included. The whole cascade runs in one transaction so a
// partial delete never leaves orphaned rows behind.
func (m *Maintenance) DeleteFeed(ctx context.Context, feedID int64) (*FeedCleanupResult, error) {
	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	result := &FeedCleanupResult{FeedID: feedID}
	err = tx.QueryRowContext(ctx,
		`SELECT name, status FROM gtfs.feeds WHERE id = $1`, feedID,
	).Scan(&result.Name, &result.Status)
	if err != nil {
		return nil, fmt.Errorf("looking up feed %d: %w", feedID, err)
	}

	for _, table := range feedScopedTables {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE feed_id = $1`, table), feedID)
		if err != nil {
			return nil, fmt.Errorf("deleting from %s: %w", table, err)
		}
		deleted, _ := res.RowsAffected()
		result.RecordsDeleted += deleted
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM gtfs.feeds WHERE id = $1`, feedID); err != nil {
		return nil, fmt.Errorf("deleting feed record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing delete: %w", err)
	}

	m.logger.Info("Deleted feed",
		"feed_id", feedID,
		"feed_name", result.Name,
		"records_deleted", result.RecordsDeleted)
	return result, nil
}

// PruneStaleFeeds removes superseded generations of one feed name, keeping
// the most recently imported keepStale of them. The active generation is
// never touched.
func (m *Maintenance) PruneStaleFeeds(ctx context.Context, name string, keepStale int) ([]FeedCleanupResult, error) {
	if keepStale < 0 {
		keepStale = 0
	}
	m.logger.Info("Pruning stale feed generations", "feed_name", name, "keep_stale", keepStale)

	rows, err := m.db.Conn().QueryContext(ctx, `
		SELECT id FROM gtfs.feeds
		WHERE name = $1 AND status = $2
		ORDER BY imported_on DESC
		OFFSET $3`,
		name, models.StatusStale, keepStale)
	if err != nil {
		return nil, fmt.Errorf("listing stale feeds: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning feed id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale feeds: %w", err)
	}

	var results []FeedCleanupResult
	for _, id := range ids {
		result, err := m.DeleteFeed(ctx, id)
		if err != nil {
			return results, fmt.Errorf("pruning feed %d: %w", id, err)
		}
		results = append(results, *result)
	}

	// Reclaim space once cleanup succeeded; vacuum failure is only an
	// optimisation miss, not a cleanup failure.
	if len(results) > 0 {
		if err := m.VacuumFeedTables(ctx); err != nil {
			m.logger.Warn("Failed to vacuum feed tables after pruning", "error", err)
		}
	}

	return results, nil
}

// PruneFailedFeeds removes failed import records older than retentionDays.
// Failed imports carry no entity rows, only the audit record and its error.
func (m *Maintenance) PruneFailedFeeds(ctx context.Context, retentionDays int) (int64, error) {
	res, err := m.db.Conn().ExecContext(ctx, `
		DELETE FROM gtfs.feeds
		WHERE status = $1
		  AND imported_on < now() - make_interval(days => $2)`,
		models.StatusFailed, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("pruning failed feeds: %w", err)
	}

	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		m.logger.Info("Pruned failed feed records",
			"records_deleted", deleted,
			"retention_days", retentionDays)
	}
	return deleted, nil
}

// VacuumFeedTables runs VACUUM ANALYZE on all feed-scoped tables.
// Must run outside a transaction.
func (m *Maintenance) VacuumFeedTables(ctx context.Context) error {
	m.logger.Info("Starting VACUUM ANALYZE on feed tables")

	for _, table := range feedScopedTables {
		if _, err := m.db.Conn().ExecContext(ctx, fmt.Sprintf("VACUUM ANALYZE %s", table)); err != nil {
			return fmt.Errorf("vacuuming %s: %w", table, err)
		}
		m.logger.Debug("Vacuumed table", "table", table)
	}

	m.logger.Info("Completed VACUUM ANALYZE on feed tables")
	return nil
}
