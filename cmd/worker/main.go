package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"feedpoller/internal/alert"
	"feedpoller/internal/breaker"
	"feedpoller/internal/cache"
	"feedpoller/internal/domainconfig"
	pgRepo "feedpoller/internal/infra/adapter/persistence/postgres"
	"feedpoller/internal/infra/db"
	workerPkg "feedpoller/internal/infra/worker"
	"feedpoller/internal/notify"
	"feedpoller/internal/ratelimiter"
	"feedpoller/internal/reddit"
	"feedpoller/internal/resilience/circuitbreaker"
	"feedpoller/internal/sanitize"
	"feedpoller/internal/scheduler"
	"feedpoller/internal/session"
	"feedpoller/internal/statsstore"
	"feedpoller/internal/uapool"
	"feedpoller/internal/urlrouter"

	"feedpoller/internal/fetcher"
)

func waitForMigrations(logger *slog.Logger, database *sql.DB) {
	const probe = "SELECT 1 FROM feeds LIMIT 1"
	for i := 0; i < 10; i++ {
		if _, err := database.Exec(probe); err == nil {
			return
		}
		logger.Info("waiting for migrations, retrying in 3s", slog.Int("attempt", i+1))
		time.Sleep(3 * time.Second)
	}
	logger.Error("migrations did not complete in time")
	os.Exit(1)
}

func main() {
	logger := initLogger()

	workerMetrics := workerPkg.NewWorkerMetrics()
	workerMetrics.MustRegister()
	workerConfig, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		logger.Error("failed to load worker configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker configuration loaded",
		slog.String("scheduler_cron", workerConfig.SchedulerCron),
		slog.String("scheduler_timezone", workerConfig.SchedulerTimezone),
		slog.Bool("scheduler_parallel_feeds", workerConfig.SchedulerParallelFeeds),
		slog.Int("health_port", workerConfig.HealthPort))

	database := initDatabase(logger, workerConfig)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthAddr := ":" + itoa(workerConfig.HealthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && err != sql.ErrConnDone {
			logger.Error("health server stopped", slog.Any("error", err))
		}
	}()
	logger.Info("health check server started", slog.String("addr", healthAddr))

	sched := buildScheduler(logger, database, workerConfig, workerMetrics)

	c := buildCron(logger, workerConfig, sched)
	c.Start()
	defer c.Stop()

	healthServer.SetReady(true)
	logger.Info("worker started",
		slog.String("schedule", workerConfig.SchedulerCron),
		slog.String("timezone", workerConfig.SchedulerTimezone))

	waitForShutdown(logger, cancel)
}

// initLogger builds the process-wide structured logger. LOG_LEVEL=debug
// raises verbosity; everything else logs at info.
func initLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// initDatabase opens the pool and blocks until MigrateUp's tables are
// reachable, so a fresh deployment racing its own migration job doesn't
// crash-loop on the first tick.
func initDatabase(logger *slog.Logger, cfg *workerPkg.WorkerConfig) *sql.DB {
	if os.Getenv("DATABASE_URL") == "" {
		_ = os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	}
	database := db.Open()
	if err := db.MigrateUp(database); err != nil {
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}
	waitForMigrations(logger, database)
	return database
}

// buildScheduler wires C1–C14 into a single Scheduler: the politeness
// envelope (rate limiter, circuit breaker, UA pool, sessions, cache) feeds
// the fetcher; the fetcher and Reddit fallback chain feed the router;
// stats and alerts are durable and chat-delivered respectively.
func buildScheduler(logger *slog.Logger, database *sql.DB, cfg *workerPkg.WorkerConfig, workerMetrics *workerPkg.WorkerMetrics) *scheduler.Scheduler {
	feedBreaker := breaker.New(breaker.Config{
		FailureThreshold: cfg.CircuitBreakerThreshold,
		InitialTimeout:   cfg.CircuitBreakerInitialTimeout,
		MaxTimeout:       cfg.CircuitBreakerMaxTimeout,
	})

	var feedCache *cache.Cache
	if !cfg.CacheDisabled {
		feedCache = cache.New()
	}

	domains, err := domainconfig.Load(cfg.DomainConfigPath)
	if err != nil {
		logger.Warn("failed to load domain config overlay, using built-in defaults", slog.Any("error", err))
		domains = domainconfig.Default()
	}
	limiter := ratelimiter.New(ratelimiter.Config{
		MinDelay:     time.Duration(cfg.MinDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.MaxDelayMS) * time.Millisecond,
		DomainFloors: domains.MinDelays(),
	})
	uaPool := uapool.New(uapool.DefaultConfig())
	sessions := session.New(session.DefaultConfig())

	dbBreaker := circuitbreaker.NewDBCircuitBreaker(database)
	statsMetrics := statsstore.NewMetrics(prometheus.DefaultRegisterer)
	stats := statsstore.New(dbBreaker, statsMetrics)

	var notifier notify.Sender = notify.NoOpSender{}
	if cfg.BotToken != "" {
		notifier = notify.NewDiscordSender(notify.DiscordConfig{
			Enabled:    true,
			WebhookURL: cfg.BotToken,
			Timeout:    30 * time.Second,
		})
	}
	alerts := alert.New(&chatAlertSender{notifier: notifier, logger: logger})

	feedFetcher := fetcher.New(feedBreaker, feedCache, limiter, uaPool, sessions, &statsRecorderAdapter{store: stats}, alerts)
	redditChain := reddit.New(feedFetcher.Fetch, sessions, limiter, feedBreaker)

	router := urlrouter.New()
	feeds := pgRepo.NewFeedRepo(database)

	schedCfg := scheduler.Config{
		CronSchedule:  cfg.SchedulerCron,
		Timezone:      cfg.SchedulerTimezone,
		ParallelFeeds: cfg.SchedulerParallelFeeds,
		MaxConcurrent: 8,
	}
	sched := scheduler.New(schedCfg, logger)
	sched.Feeds = feeds
	sched.Router = router
	sched.Fetcher = feedFetcher
	sched.Reddit = redditChain
	sched.Notifier = notifier
	sched.Alerts = alerts
	sched.Stats = stats
	sched.Metrics = workerMetrics

	return sched
}

// buildCron registers the scheduler's tick plus its two secondary jobs on
// one cron instance, the teacher's single-process startCronWorker shape.
func buildCron(logger *slog.Logger, cfg *workerPkg.WorkerConfig, sched *scheduler.Scheduler) *cron.Cron {
	loc, err := time.LoadLocation(cfg.SchedulerTimezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC", slog.String("timezone", cfg.SchedulerTimezone), slog.Any("error", err))
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))
	if err := sched.Register(c); err != nil {
		logger.Error("failed to register scheduler jobs", slog.Any("error", err))
		os.Exit(1)
	}
	return c
}

func waitForShutdown(logger *slog.Logger, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	cancel()
	time.Sleep(time.Second)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// statsRecorderAdapter adapts statsstore.Store's context-aware, erroring
// methods to fetcher.StatsRecorder's fire-and-forget shape: the fetcher's
// hot path must not block on or fail because of a stats write.
type statsRecorderAdapter struct {
	store *statsstore.Store
}

func (a *statsRecorderAdapter) RecordSuccess(domain string) {
	_ = a.store.RecordSuccess(context.Background(), domain)
}

func (a *statsRecorderAdapter) RecordFailure(domain string, statusCode int) {
	_ = a.store.RecordFailure(context.Background(), domain, statusCode)
}

func (a *statsRecorderAdapter) UpdatePreferredUA(domain, ua string) {
	_ = a.store.UpdatePreferredUA(context.Background(), domain, ua)
}

// chatAlertSender adapts the alert manager's Sender boundary to the chat
// notifier, formatting each alert with sanitize.FormatAlert and delivering
// it through whatever Sender the engine is configured with. chatID 0
// addresses the single webhook channel DiscordSender delivers to; a
// multi-channel operator routing layer is out of scope.
type chatAlertSender struct {
	notifier notify.Sender
	logger   *slog.Logger
}

func (a *chatAlertSender) SendAlert(kind alert.Kind, domain, detail string) error {
	text := sanitize.FormatAlert(string(kind), domain, detail)
	_, err := a.notifier.SendMessage(context.Background(), 0, text, notify.ParseHTML)
	if err != nil {
		a.logger.Warn("alert delivery failed", slog.String("kind", string(kind)), slog.String("domain", domain), slog.Any("error", err))
	}
	return err
}
