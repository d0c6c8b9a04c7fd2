package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"feedpoller/internal/domain/entity"
	"feedpoller/internal/observability/metrics"
	"feedpoller/internal/repository"
)

// FeedRepo persists Feed rows via database/sql over a pgx/v5 connection.
type FeedRepo struct{ db *sql.DB }

// NewFeedRepo builds a FeedRepo over db.
func NewFeedRepo(db *sql.DB) repository.FeedRepository {
	return &FeedRepo{db: db}
}

const feedColumns = `id, chat_id, name, url, canonical_url, enabled, last_item_id,
       last_notified_at, last_seen_at, last_check, check_interval_minutes,
       max_item_age_minutes, failures`

func scanFeed(scanner interface{ Scan(...any) error }) (*entity.Feed, error) {
	var f entity.Feed
	err := scanner.Scan(
		&f.ID, &f.ChatID, &f.Name, &f.URL, &f.CanonicalURL, &f.Enabled, &f.LastItemID,
		&f.LastNotifiedAt, &f.LastSeenAt, &f.LastCheck, &f.CheckIntervalMinutes,
		&f.MaxItemAgeMinutes, &f.Failures,
	)
	return &f, err
}

func (r *FeedRepo) Get(ctx context.Context, id int64) (*entity.Feed, error) {
	defer recordQuery("get_feed", time.Now())
	query := fmt.Sprintf("SELECT %s FROM feeds WHERE id = $1 LIMIT 1", feedColumns)
	f, err := scanFeed(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return f, nil
}

func (r *FeedRepo) ListEnabled(ctx context.Context) ([]*entity.Feed, error) {
	defer recordQuery("list_enabled_feeds", time.Now())
	query := fmt.Sprintf("SELECT %s FROM feeds WHERE enabled = TRUE ORDER BY id ASC", feedColumns)
	return r.queryList(ctx, query)
}

func (r *FeedRepo) ListByChat(ctx context.Context, chatID int64) ([]*entity.Feed, error) {
	query := fmt.Sprintf("SELECT %s FROM feeds WHERE chat_id = $1 ORDER BY id ASC", feedColumns)
	return r.queryList(ctx, query, chatID)
}

func (r *FeedRepo) queryList(ctx context.Context, query string, args ...any) ([]*entity.Feed, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queryList: %w", err)
	}
	defer func() { _ = rows.Close() }()

	feeds := make([]*entity.Feed, 0, 50)
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("queryList: %w", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

func (r *FeedRepo) Create(ctx context.Context, feed *entity.Feed) (*entity.Feed, error) {
	const query = `
INSERT INTO feeds (chat_id, name, url, canonical_url, enabled, last_item_id,
                    last_notified_at, last_seen_at, last_check, check_interval_minutes,
                    max_item_age_minutes, failures)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`
	err := r.db.QueryRowContext(ctx, query,
		feed.ChatID, feed.Name, feed.URL, feed.CanonicalURL, feed.Enabled, feed.LastItemID,
		feed.LastNotifiedAt, feed.LastSeenAt, feed.LastCheck, feed.CheckIntervalMinutes,
		feed.MaxItemAgeMinutes, feed.Failures,
	).Scan(&feed.ID)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	return feed, nil
}

func (r *FeedRepo) Update(ctx context.Context, feed *entity.Feed) error {
	defer recordQuery("update_feed", time.Now())
	const query = `
UPDATE feeds SET
       name = $1, url = $2, canonical_url = $3, enabled = $4, last_item_id = $5,
       last_notified_at = $6, last_seen_at = $7, last_check = $8,
       check_interval_minutes = $9, max_item_age_minutes = $10, failures = $11
WHERE id = $12`
	res, err := r.db.ExecContext(ctx, query,
		feed.Name, feed.URL, feed.CanonicalURL, feed.Enabled, feed.LastItemID,
		feed.LastNotifiedAt, feed.LastSeenAt, feed.LastCheck,
		feed.CheckIntervalMinutes, feed.MaxItemAgeMinutes, feed.Failures, feed.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("Update: no rows affected")
	}
	return nil
}

func (r *FeedRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM feeds WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("Delete: no rows affected")
	}
	return nil
}

func recordQuery(operation string, start time.Time) {
	metrics.RecordDBQuery(operation, time.Since(start))
}

func (r *FeedRepo) CountByChat(ctx context.Context, chatID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feeds WHERE chat_id = $1", chatID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("CountByChat: %w", err)
	}
	return count, nil
}
