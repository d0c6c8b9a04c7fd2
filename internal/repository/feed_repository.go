package repository

import (
	"context"

	"feedpoller/internal/domain/entity"
)

// FeedRepository persists Feed subscriptions and their per-feed delta
// bookkeeping.
type FeedRepository interface {
	Get(ctx context.Context, id int64) (*entity.Feed, error)
	ListEnabled(ctx context.Context) ([]*entity.Feed, error)
	ListByChat(ctx context.Context, chatID int64) ([]*entity.Feed, error)
	Create(ctx context.Context, feed *entity.Feed) (*entity.Feed, error)
	Update(ctx context.Context, feed *entity.Feed) error
	Delete(ctx context.Context, id int64) error
	CountByChat(ctx context.Context, chatID int64) (int, error)
}
