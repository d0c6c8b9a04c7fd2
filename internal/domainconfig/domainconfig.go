// Package domainconfig carries the per-domain politeness and scheduling
// overrides the reference engine shipped as a static table (Reddit needs
// tighter rate limiting than GitHub, YouTube feeds check less often than
// either): see original_source's app/config/feed_config.py. The engine
// itself runs entirely off its fail-open env-var configuration; this
// table is an optional overlay an operator can supply as YAML to tune
// individual domains without touching env vars or redeploying.
package domainconfig

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimit mirrors feed_config.py's RateLimitConfig: the floor/ceiling the
// adaptive rate limiter should use for a domain, plus the adaptive-decay
// tuning knobs the Python reference exposed but this engine's
// internal/ratelimiter currently hardcodes (kept here for the overlay to
// document intent even where the Go limiter doesn't yet read every field).
type RateLimit struct {
	MaxRequests      int     `yaml:"max_requests"`
	WindowMS         int     `yaml:"window_ms"`
	MinDelayMS       int     `yaml:"min_delay_ms"`
	AdaptiveEnabled  bool    `yaml:"adaptive_enabled"`
	SuccessThreshold float64 `yaml:"success_threshold"`
	FailurePenalty   float64 `yaml:"failure_penalty"`
	SuccessReward    float64 `yaml:"success_reward"`
}

// Domain mirrors feed_config.py's FeedDomainConfig.
type Domain struct {
	RateLimit            RateLimit `yaml:"rate_limit"`
	CheckIntervalMinutes int       `yaml:"check_interval_minutes"`
	Description          string    `yaml:"description"`
	RequiresUserAgent    bool      `yaml:"requires_user_agent"`
	IsHighVolume         bool      `yaml:"is_high_volume"`
}

// Registry maps a domain name to its Domain config, with "default" as the
// fallback entry.
type Registry struct {
	domains map[string]Domain
}

const defaultKey = "default"

// Default returns the built-in table, matching feed_config.py's
// FEED_DOMAIN_CONFIGS exactly: Reddit gets a long, adaptive min delay
// since it's the most aggressively rate-limited source this engine polls;
// YouTube and GitHub get looser, non-adaptive floors; everything else
// falls back to "default".
func Default() *Registry {
	return &Registry{domains: map[string]Domain{
		"reddit.com": {
			RateLimit: RateLimit{
				MaxRequests: 15, WindowMS: 600_000, MinDelayMS: 240_000,
				AdaptiveEnabled: true, SuccessThreshold: 0.9, FailurePenalty: 1.2, SuccessReward: 0.95,
			},
			CheckIntervalMinutes: 5,
			Description:          "Reddit feeds (optimized rate limiting)",
			RequiresUserAgent:    true,
			IsHighVolume:         true,
		},
		"youtube.com": {
			RateLimit:            RateLimit{MaxRequests: 20, WindowMS: 60_000, MinDelayMS: 2_000},
			CheckIntervalMinutes: 10,
			Description:          "YouTube feeds",
			RequiresUserAgent:    true,
		},
		"github.com": {
			RateLimit:            RateLimit{MaxRequests: 40, WindowMS: 60_000, MinDelayMS: 1_000},
			CheckIntervalMinutes: 30,
			Description:          "GitHub feeds",
		},
		defaultKey: {
			RateLimit:            RateLimit{MaxRequests: 30, WindowMS: 60_000, MinDelayMS: 1_500},
			CheckIntervalMinutes: 10,
			Description:          "Default feed configuration",
		},
	}}
}

// Load reads an optional YAML overlay from path and merges it onto
// Default(): an entry present in the file replaces the built-in entry for
// that domain entirely, entries absent from the file keep their built-in
// value. A missing file is not an error — the overlay is optional, per
// A2's fail-open loading philosophy — Default() alone is returned.
func Load(path string) (*Registry, error) {
	r := Default()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("domainconfig: read %s: %w", path, err)
	}

	var overlay map[string]Domain
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("domainconfig: parse %s: %w", path, err)
	}
	for domain, cfg := range overlay {
		r.domains[strings.ToLower(domain)] = cfg
	}
	return r, nil
}

// ForURL resolves rawURL to its Domain config: exact host match first,
// then a substring match either direction (so "www.reddit.com" matches a
// "reddit.com" entry), falling back to "default" — the same three-step
// resolution as feed_config.py's get_feed_config.
func (r *Registry) ForURL(rawURL string) Domain {
	host := hostOf(rawURL)

	if cfg, ok := r.domains[host]; ok {
		return cfg
	}
	for configDomain, cfg := range r.domains {
		if configDomain == defaultKey {
			continue
		}
		if strings.Contains(host, configDomain) || strings.Contains(configDomain, host) {
			return cfg
		}
	}
	return r.domains[defaultKey]
}

// MinDelays returns every configured domain's minimum delay as a
// time.Duration map, keyed the same way internal/ratelimiter keys its own
// per-domain state — ready to seed Limiter's floor overrides.
func (r *Registry) MinDelays() map[string]time.Duration {
	out := make(map[string]time.Duration, len(r.domains))
	for domain, cfg := range r.domains {
		if domain == defaultKey || cfg.RateLimit.MinDelayMS <= 0 {
			continue
		}
		out[domain] = time.Duration(cfg.RateLimit.MinDelayMS) * time.Millisecond
	}
	return out
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Hostname())
}
