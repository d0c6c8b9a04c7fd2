package worker

import (
	"fmt"
	"log/slog"
	"time"

	"feedpoller/internal/pkg/config"
)

// WorkerConfig holds every environment-driven knob the engine needs to run:
// chat-backend credentials, storage, the politeness envelope (rate limiter
// and circuit breaker defaults), scheduler cadence, and the health/metrics
// listener. Every field but BotToken fails open to a safe default; BotToken
// has no safe default, so LoadConfigFromEnv refuses to start without it.
type WorkerConfig struct {
	// BotToken authenticates the configured chat backend. For the default
	// Discord webhook backend, this holds the full webhook URL (which
	// itself embeds the per-channel id and token).
	BotToken string

	// AllowedUserID restricts which operator id may administer feeds
	// through the chat backend. Zero means unrestricted.
	AllowedUserID int64

	DatabaseURL string

	CacheDisabled bool

	RedditClientID     string
	RedditClientSecret string

	MaxFeedsPerChat int
	CacheTTLMinutes int

	MinDelayMS int
	MaxDelayMS int

	// DomainConfigPath optionally points at a YAML file overlaying
	// internal/domainconfig's built-in per-domain rate-limit/check-interval
	// table. Empty means the built-in defaults apply unmodified.
	DomainConfigPath string

	CircuitBreakerThreshold      int
	CircuitBreakerInitialTimeout time.Duration
	CircuitBreakerMaxTimeout     time.Duration

	SchedulerCron          string
	SchedulerTimezone      string
	SchedulerParallelFeeds bool

	HealthPort int
	LogLevel   string

	OTelExporterOTLPEndpoint string
}

// DefaultConfig returns a WorkerConfig with every non-credential field set
// to the engine's documented defaults. BotToken is left empty: callers must
// supply it, either directly or via LoadConfigFromEnv.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		DatabaseURL:                  "postgres://localhost:5432/feedpoller?sslmode=disable",
		CacheDisabled:                false,
		MaxFeedsPerChat:              50,
		CacheTTLMinutes:              20,
		MinDelayMS:                   5000,
		MaxDelayMS:                   300000,
		CircuitBreakerThreshold:      5,
		CircuitBreakerInitialTimeout: time.Hour,
		CircuitBreakerMaxTimeout:     24 * time.Hour,
		SchedulerCron:                "*/5 * * * *",
		SchedulerTimezone:            "UTC",
		SchedulerParallelFeeds:       false,
		HealthPort:                   9091,
		LogLevel:                     "info",
	}
}

// Validate checks every field's invariants. BotToken being empty is the one
// failure LoadConfigFromEnv treats as fatal; every other field here is
// already guaranteed valid by the fail-open loader, so Validate mostly
// matters for configs built directly (e.g. in tests).
func (c *WorkerConfig) Validate() error {
	var errs []error

	if c.BotToken == "" {
		errs = append(errs, fmt.Errorf("bot token: required, process cannot authenticate to the chat backend without it"))
	}
	if err := config.ValidateCronSchedule(c.SchedulerCron); err != nil {
		errs = append(errs, fmt.Errorf("scheduler cron: %w", err))
	}
	if err := config.ValidateTimezone(c.SchedulerTimezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler timezone: %w", err))
	}
	if err := config.ValidateIntRange(c.MaxFeedsPerChat, 1, 1000); err != nil {
		errs = append(errs, fmt.Errorf("max feeds per chat: %w", err))
	}
	if err := config.ValidatePositiveDuration(time.Duration(c.CacheTTLMinutes) * time.Minute); err != nil {
		errs = append(errs, fmt.Errorf("cache ttl minutes: %w", err))
	}
	if c.MinDelayMS <= 0 || c.MaxDelayMS < c.MinDelayMS {
		errs = append(errs, fmt.Errorf("min/max delay: min (%dms) must be positive and not exceed max (%dms)", c.MinDelayMS, c.MaxDelayMS))
	}
	if err := config.ValidateIntRange(c.CircuitBreakerThreshold, 1, 1000); err != nil {
		errs = append(errs, fmt.Errorf("circuit breaker threshold: %w", err))
	}
	if err := config.ValidatePositiveDuration(c.CircuitBreakerInitialTimeout); err != nil {
		errs = append(errs, fmt.Errorf("circuit breaker initial timeout: %w", err))
	}
	if c.CircuitBreakerMaxTimeout < c.CircuitBreakerInitialTimeout {
		errs = append(errs, fmt.Errorf("circuit breaker max timeout (%v) must not be below initial timeout (%v)", c.CircuitBreakerMaxTimeout, c.CircuitBreakerInitialTimeout))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	return nil
}

// LoadConfigFromEnv loads the worker's configuration from environment
// variables. It follows the fail-open strategy for every field except
// BotToken: a missing optional value takes its default silently, and an
// invalid one falls back to its default. For the validated integer,
// duration, cron and timezone fields that fallback is logged as a warning
// and counted in metrics; an invalid ALLOWED_USER_ID, CACHE_DISABLED or
// SCHEDULER_PARALLEL_FEEDS falls back without a warning. A missing
// BOT_TOKEN is returned as an error since the process has nothing safe to
// fall back to.
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()
	fallbackApplied := false

	fallback := func(field, envKey string, warnings []string) {
		fallbackApplied = true
		metrics.RecordValidationError(field)
		metrics.RecordFallback(field, "default")
		for _, warning := range warnings {
			logger.Warn("configuration fallback applied", slog.String("field", field), slog.String("env_key", envKey), slog.String("warning", warning))
		}
	}

	cfg.BotToken = config.LoadEnvString("BOT_TOKEN", "")
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}

	result := config.LoadEnvInt("ALLOWED_USER_ID", 0, nil)
	cfg.AllowedUserID = int64(result.Value.(int))

	cfg.DatabaseURL = config.LoadEnvString("DATABASE_URL", cfg.DatabaseURL)

	boolResult := config.LoadEnvBool("CACHE_DISABLED", cfg.CacheDisabled)
	cfg.CacheDisabled = boolResult.Value.(bool)

	cfg.RedditClientID = config.LoadEnvString("REDDIT_CLIENT_ID", "")
	cfg.RedditClientSecret = config.LoadEnvString("REDDIT_CLIENT_SECRET", "")

	result = config.LoadEnvInt("MAX_FEEDS_PER_CHAT", cfg.MaxFeedsPerChat, func(v int) error {
		return config.ValidateIntRange(v, 1, 1000)
	})
	cfg.MaxFeedsPerChat = result.Value.(int)
	if result.FallbackApplied {
		fallback("max_feeds_per_chat", "MAX_FEEDS_PER_CHAT", result.Warnings)
	}

	result = config.LoadEnvInt("CACHE_TTL_MINUTES", cfg.CacheTTLMinutes, func(v int) error {
		return config.ValidateIntRange(v, 1, 1440)
	})
	cfg.CacheTTLMinutes = result.Value.(int)
	if result.FallbackApplied {
		fallback("cache_ttl_minutes", "CACHE_TTL_MINUTES", result.Warnings)
	}

	result = config.LoadEnvInt("MIN_DELAY_MS", cfg.MinDelayMS, func(v int) error {
		return config.ValidateIntRange(v, 1, 60*60*1000)
	})
	cfg.MinDelayMS = result.Value.(int)
	if result.FallbackApplied {
		fallback("min_delay_ms", "MIN_DELAY_MS", result.Warnings)
	}

	result = config.LoadEnvInt("MAX_DELAY_MS", cfg.MaxDelayMS, func(v int) error {
		return config.ValidateIntRange(v, cfg.MinDelayMS, 24*60*60*1000)
	})
	cfg.MaxDelayMS = result.Value.(int)
	if result.FallbackApplied {
		fallback("max_delay_ms", "MAX_DELAY_MS", result.Warnings)
	}

	cfg.DomainConfigPath = config.LoadEnvString("DOMAIN_CONFIG_PATH", "")

	result = config.LoadEnvInt("CIRCUIT_BREAKER_THRESHOLD", cfg.CircuitBreakerThreshold, func(v int) error {
		return config.ValidateIntRange(v, 1, 1000)
	})
	cfg.CircuitBreakerThreshold = result.Value.(int)
	if result.FallbackApplied {
		fallback("circuit_breaker_threshold", "CIRCUIT_BREAKER_THRESHOLD", result.Warnings)
	}

	durResult := config.LoadEnvDuration("CIRCUIT_BREAKER_INITIAL_TIMEOUT", cfg.CircuitBreakerInitialTimeout, config.ValidatePositiveDuration)
	cfg.CircuitBreakerInitialTimeout = durResult.Value.(time.Duration)
	if durResult.FallbackApplied {
		fallback("circuit_breaker_initial_timeout", "CIRCUIT_BREAKER_INITIAL_TIMEOUT", durResult.Warnings)
	}

	durResult = config.LoadEnvDuration("CIRCUIT_BREAKER_MAX_TIMEOUT", cfg.CircuitBreakerMaxTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, cfg.CircuitBreakerInitialTimeout, 7*24*time.Hour)
	})
	cfg.CircuitBreakerMaxTimeout = durResult.Value.(time.Duration)
	if durResult.FallbackApplied {
		fallback("circuit_breaker_max_timeout", "CIRCUIT_BREAKER_MAX_TIMEOUT", durResult.Warnings)
	}

	result = config.LoadEnvWithFallback("SCHEDULER_CRON", cfg.SchedulerCron, config.ValidateCronSchedule)
	cfg.SchedulerCron = result.Value.(string)
	if result.FallbackApplied {
		fallback("scheduler_cron", "SCHEDULER_CRON", result.Warnings)
	}

	result = config.LoadEnvWithFallback("SCHEDULER_TIMEZONE", cfg.SchedulerTimezone, config.ValidateTimezone)
	cfg.SchedulerTimezone = result.Value.(string)
	if result.FallbackApplied {
		fallback("scheduler_timezone", "SCHEDULER_TIMEZONE", result.Warnings)
	}

	boolResult = config.LoadEnvBool("SCHEDULER_PARALLEL_FEEDS", cfg.SchedulerParallelFeeds)
	cfg.SchedulerParallelFeeds = boolResult.Value.(bool)

	result = config.LoadEnvInt("HEALTH_PORT", cfg.HealthPort, func(v int) error {
		return config.ValidateIntRange(v, 1024, 65535)
	})
	cfg.HealthPort = result.Value.(int)
	if result.FallbackApplied {
		fallback("health_port", "HEALTH_PORT", result.Warnings)
	}

	cfg.LogLevel = config.LoadEnvString("LOG_LEVEL", cfg.LogLevel)
	cfg.OTelExporterOTLPEndpoint = config.LoadEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	metrics.SetFallbackActive("", fallbackApplied)
	metrics.RecordLoadTimestamp()

	return &cfg, nil
}
