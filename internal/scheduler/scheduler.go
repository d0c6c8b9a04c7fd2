// Package scheduler drives the periodic tick that ties every other
// component together: load due feeds, route and fetch each one, compute
// its delta, persist bookkeeping, and deliver notifications. It mirrors
// the teacher's cron-driven worker loop (goroutine-per-tick, blocking
// cron callback, select{}-forever at the process level) generalized from
// article crawling to feed polling.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"feedpoller/internal/alert"
	"feedpoller/internal/delta"
	"feedpoller/internal/domain/entity"
	"feedpoller/internal/infra/worker"
	"feedpoller/internal/notify"
	"feedpoller/internal/observability/metrics"
	"feedpoller/internal/observability/tracing"
	"feedpoller/internal/repository"
	"feedpoller/internal/sanitize"
	"feedpoller/internal/urlrouter"
)

// FeedFetcher fetches a canonical, already-routed feed URL.
type FeedFetcher interface {
	Fetch(ctx context.Context, canonicalURL string) (*entity.ParsedFeed, error)
}

// RedditResolver resolves a subreddit name to a ParsedFeed via the
// Reddit fallback chain.
type RedditResolver interface {
	Resolve(ctx context.Context, subreddit string) (*entity.ParsedFeed, error)
}

// StatsStore is the subset of C11 the scheduler's secondary jobs need.
type StatsStore interface {
	LowSuccessDomains(ctx context.Context, thresholdPercent float64, minRequests int64) ([]*entity.DomainStats, error)
	ResetOld(ctx context.Context, olderThanDays int) (int64, error)
}

// Config tunes the scheduler's cadence and concurrency mode.
type Config struct {
	CronSchedule  string
	Timezone      string
	ParallelFeeds bool
	MaxConcurrent int
}

// DefaultConfig matches the reference engine's defaults.
func DefaultConfig() Config {
	return Config{
		CronSchedule:  "*/5 * * * *",
		Timezone:      "UTC",
		ParallelFeeds: false,
		MaxConcurrent: 8,
	}
}

// Scheduler owns one tick of the feed-polling cycle plus the two
// secondary maintenance jobs.
type Scheduler struct {
	cfg Config

	Feeds    repository.FeedRepository
	Router   *urlrouter.Router
	Fetcher  FeedFetcher
	Reddit   RedditResolver
	Notifier notify.Sender
	Alerts   *alert.Manager
	Stats    StatsStore
	Metrics  *worker.WorkerMetrics

	logger *slog.Logger

	// interFeedPause separates out for tests; production always uses 1s.
	interFeedPause time.Duration
}

// New builds a Scheduler. logger defaults to slog.Default() when nil.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, logger: logger, interFeedPause: time.Second}
}

// Register adds the main tick plus the two secondary jobs to c, in the
// teacher's startCronWorker style: one cron instance, several AddFunc
// entries, no separate scheduler process.
func (s *Scheduler) Register(c *cron.Cron) error {
	if _, err := c.AddFunc(s.cfg.CronSchedule, func() { s.Tick(context.Background()) }); err != nil {
		return err
	}
	if _, err := c.AddFunc("0 * * * *", func() { s.CheckBlockingStats(context.Background()) }); err != nil {
		return err
	}
	if _, err := c.AddFunc("0 3 * * *", func() { s.CleanupBlockingStats(context.Background()) }); err != nil {
		return err
	}
	return nil
}

// Tick runs one polling cycle: load enabled feeds, partition into due and
// not-yet-due, and process every due feed. A single feed's failure never
// aborts the cycle.
func (s *Scheduler) Tick(ctx context.Context) {
	ctx, span := tracing.GetTracer().Start(ctx, "scheduler.tick")
	defer span.End()

	start := time.Now()

	feeds, err := s.Feeds.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("scheduler: failed to list enabled feeds", slog.Any("error", err))
		if s.Metrics != nil {
			s.Metrics.RecordJobRun("failure")
		}
		return
	}

	metrics.UpdateFeedsTotal(len(feeds))

	now := time.Now()
	var due []*entity.Feed
	for _, f := range feeds {
		if f.Due(now) {
			due = append(due, f)
		}
	}

	if s.cfg.ParallelFeeds {
		s.processParallel(ctx, due)
	} else {
		s.processSequential(ctx, due)
	}

	elapsed := time.Since(start)
	if s.Metrics != nil {
		s.Metrics.RecordJobRun("success")
		s.Metrics.RecordJobDuration(elapsed.Seconds())
		s.Metrics.RecordFeedsProcessed(len(due))
		s.Metrics.RecordLastSuccess()
	}

	s.logger.Info("scheduler: tick complete",
		slog.Int("total_feeds", len(feeds)),
		slog.Int("due_feeds", len(due)),
		slog.Duration("elapsed", elapsed))
}

func (s *Scheduler) processSequential(ctx context.Context, due []*entity.Feed) {
	for i, feed := range due {
		s.processFeed(ctx, feed)
		if i < len(due)-1 {
			select {
			case <-time.After(s.interFeedPause):
			case <-ctx.Done():
				return
			}
		}
	}
}

// processParallel fans due feeds out through a bounded errgroup. Per-feed
// processing still serializes correctly within a domain: the rate
// limiter's wait_if_needed and the breaker's per-resource mutex make this
// safe regardless of how many feeds for the same domain run concurrently.
func (s *Scheduler) processParallel(ctx context.Context, due []*entity.Feed) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, feed := range due {
		feed := feed
		g.Go(func() error {
			s.processFeed(gctx, feed)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) processFeed(ctx context.Context, feed *entity.Feed) {
	ctx, span := tracing.GetTracer().Start(ctx, "scheduler.process_feed")
	defer span.End()
	span.SetAttributes(attribute.Int64("feed.id", feed.ID), attribute.String("feed.url", feed.URL))

	start := time.Now()

	route, err := s.Router.Route(feed.URL)
	if err != nil {
		metrics.RecordFeedFetchError(feed.ID, "route_error")
		s.recordFetchFailure(ctx, feed, err)
		return
	}

	var pf *entity.ParsedFeed
	switch route.Kind {
	case urlrouter.KindReddit:
		pf, err = s.Reddit.Resolve(ctx, route.Subreddit)
		feed.CanonicalURL = "https://www.reddit.com/r/" + route.Subreddit + ".rss"
	default:
		feed.CanonicalURL = route.CanonicalURL
		pf, err = s.Fetcher.Fetch(ctx, route.CanonicalURL)
	}
	if err != nil {
		metrics.RecordFeedFetchError(feed.ID, "fetch_error")
		s.recordFetchFailure(ctx, feed, err)
		return
	}

	result := delta.Compute(pf, feed.LastItemID, feed.LastNotifiedAt)
	metrics.RecordFeedFetch(feed.ID, time.Since(start), len(result.NewItems))
	items := filterByAge(result.NewItems, feed.MaxItemAgeMinutes)

	// Notify oldest first, so a chat's timeline reads in publish order;
	// delta.Compute returns newest first. Items without a pub date sort
	// last, since there is no chronological position to give them.
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].PubDate, items[j].PubDate
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.Before(*b)
	})
	for _, item := range items {
		s.deliverItem(ctx, feed, item)
	}

	feed.LastItemID = result.LastItemID
	if result.AdvanceNotifiedAt != nil {
		feed.LastNotifiedAt = result.AdvanceNotifiedAt
	}
	now := time.Now()
	feed.LastCheck = &now
	feed.Failures = 0

	if err := s.Feeds.Update(ctx, feed); err != nil {
		s.logger.Error("scheduler: failed to persist feed", slog.Int64("feed_id", feed.ID), slog.Any("error", err))
	}
}

// filterByAge drops items older than maxAgeMinutes; a non-positive window
// disables the filter.
func filterByAge(items []entity.FeedItem, maxAgeMinutes int) []entity.FeedItem {
	if maxAgeMinutes <= 0 {
		return items
	}
	cutoff := time.Now().Add(-time.Duration(maxAgeMinutes) * time.Minute)
	kept := items[:0]
	for _, item := range items {
		if item.PubDate == nil || item.PubDate.After(cutoff) {
			kept = append(kept, item)
		}
	}
	return kept
}

func (s *Scheduler) deliverItem(ctx context.Context, feed *entity.Feed, item entity.FeedItem) {
	text := sanitize.FormatItem(item, feed.Name, true)
	msg, err := s.Notifier.SendMessage(ctx, feed.ChatID, text, notify.ParseHTML)
	if err != nil {
		s.logger.Warn("scheduler: notification delivery failed", slog.Int64("feed_id", feed.ID), slog.Any("error", err))
		return
	}
	if msg == nil {
		// Silent decline: retry once with the plain-text rendering.
		text = sanitize.FormatItem(item, feed.Name, false)
		if _, err := s.Notifier.SendMessage(ctx, feed.ChatID, text, notify.ParsePlain); err != nil {
			s.logger.Warn("scheduler: plain-text fallback delivery failed", slog.Int64("feed_id", feed.ID), slog.Any("error", err))
		}
	}
}

func (s *Scheduler) recordFetchFailure(ctx context.Context, feed *entity.Feed, err error) {
	feed.Failures++
	now := time.Now()
	feed.LastCheck = &now
	s.logger.Warn("scheduler: feed fetch failed", slog.Int64("feed_id", feed.ID), slog.String("url", feed.URL), slog.Any("error", err))
	if uerr := s.Feeds.Update(ctx, feed); uerr != nil {
		s.logger.Error("scheduler: failed to persist feed failure", slog.Int64("feed_id", feed.ID), slog.Any("error", uerr))
	}
}

// CheckBlockingStats is the hourly secondary job: surface domains whose
// success rate has dropped, routed through the alert manager so the
// cooldown/dedup rules still apply.
func (s *Scheduler) CheckBlockingStats(ctx context.Context) {
	if s.Stats == nil || s.Alerts == nil {
		return
	}
	domains, err := s.Stats.LowSuccessDomains(ctx, 50.0, 10)
	if err != nil {
		s.logger.Error("scheduler: check_blocking_stats_job failed", slog.Any("error", err))
		return
	}
	for _, d := range domains {
		s.Alerts.OnStatsUpdated(d.Domain, d.SuccessRate(), d.Total)
	}
}

// CleanupBlockingStats is the daily secondary job: drop stats rows for
// domains dormant for at least a week.
func (s *Scheduler) CleanupBlockingStats(ctx context.Context) {
	if s.Stats == nil {
		return
	}
	n, err := s.Stats.ResetOld(ctx, 7)
	if err != nil {
		s.logger.Error("scheduler: cleanup_blocking_stats_job failed", slog.Any("error", err))
		return
	}
	s.logger.Info("scheduler: cleanup_blocking_stats_job complete", slog.Int64("rows_removed", n))
}
