// Package statsstore persists per-domain fetch statistics: request/success
// counters, the UA that tends to succeed there, the adaptive delay
// currently in effect, and a snapshot of the circuit breaker's state. It
// is the durable counterpart to internal/breaker, internal/ratelimiter,
// and internal/uapool, all of which are process-local and reset on
// restart.
package statsstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"feedpoller/internal/domain/entity"
	"feedpoller/internal/resilience/circuitbreaker"
)

// Metrics are the Prometheus gauges updated on every stats mutation, so
// operator dashboards reflect blocking conditions without a separate poll
// loop.
type Metrics struct {
	SuccessRate  *prometheus.GaugeVec
	CurrentDelay *prometheus.GaugeVec
	BreakerState *prometheus.GaugeVec
}

// NewMetrics registers the stats-store gauges against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SuccessRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feedpoller_domain_success_rate",
			Help: "Fetch success rate in percent, per domain.",
		}, []string{"domain"}),
		CurrentDelay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feedpoller_domain_current_delay_seconds",
			Help: "Adaptive rate-limiter delay currently in effect, per domain.",
		}, []string{"domain"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feedpoller_domain_breaker_state",
			Help: "Circuit breaker state per domain (0=closed, 1=half_open, 2=open).",
		}, []string{"domain"}),
	}
	reg.MustRegister(m.SuccessRate, m.CurrentDelay, m.BreakerState)
	return m
}

func breakerStateValue(state entity.BreakerStateName) float64 {
	switch state {
	case entity.BreakerOpen:
		return 2
	case entity.BreakerHalfOpen:
		return 1
	default:
		return 0
	}
}

// Store persists DomainStats rows through a database-circuit-breaker-wrapped
// connection; failed queries are not retried.
type Store struct {
	db      *circuitbreaker.DBCircuitBreaker
	metrics *Metrics
}

// New builds a Store over db, optionally pushing gauges to metrics (nil
// disables metric pushes, for tests that don't set up a registry).
func New(db *circuitbreaker.DBCircuitBreaker, metrics *Metrics) *Store {
	return &Store{db: db, metrics: metrics}
}

// RecordSuccess upserts a domain row, incrementing total and success and
// stamping last_success.
func (s *Store) RecordSuccess(ctx context.Context, domain string) error {
	const query = `
INSERT INTO domain_stats (domain, total, success, last_success, updated_at)
VALUES ($1, 1, 1, $2, $2)
ON CONFLICT (domain) DO UPDATE SET
  total = domain_stats.total + 1,
  success = domain_stats.success + 1,
  last_success = $2,
  updated_at = $2`
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, domain, now); err != nil {
		return fmt.Errorf("statsstore: record success: %w", err)
	}
	s.pushRate(ctx, domain)
	return nil
}

// RecordFailure upserts a domain row, incrementing total and the
// status-specific failure bucket (403 or 429), and stamping last_failure.
func (s *Store) RecordFailure(ctx context.Context, domain string, statusCode int) error {
	var blockedCol, rateLimitedCol int
	if statusCode == 403 {
		blockedCol = 1
	}
	if statusCode == 429 {
		rateLimitedCol = 1
	}

	const query = `
INSERT INTO domain_stats (domain, total, blocked_403, rate_limited_429, last_failure, updated_at)
VALUES ($1, 1, $2, $3, $4, $4)
ON CONFLICT (domain) DO UPDATE SET
  total = domain_stats.total + 1,
  blocked_403 = domain_stats.blocked_403 + $2,
  rate_limited_429 = domain_stats.rate_limited_429 + $3,
  last_failure = $4,
  updated_at = $4`
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, domain, blockedCol, rateLimitedCol, now); err != nil {
		return fmt.Errorf("statsstore: record failure: %w", err)
	}
	s.pushRate(ctx, domain)
	return nil
}

// UpdateBreakerState persists a domain's current breaker state and pushes
// it to the gauge immediately, since operators watch this in real time.
func (s *Store) UpdateBreakerState(ctx context.Context, domain string, state entity.BreakerStateName) error {
	const query = `
INSERT INTO domain_stats (domain, breaker_state, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (domain) DO UPDATE SET breaker_state = $2, updated_at = $3`
	if _, err := s.db.ExecContext(ctx, query, domain, string(state), time.Now().UTC()); err != nil {
		return fmt.Errorf("statsstore: update breaker state: %w", err)
	}
	if s.metrics != nil {
		s.metrics.BreakerState.WithLabelValues(domain).Set(breakerStateValue(state))
	}
	return nil
}

// UpdateDelay persists a domain's current adaptive delay.
func (s *Store) UpdateDelay(ctx context.Context, domain string, delay time.Duration) error {
	const query = `
INSERT INTO domain_stats (domain, current_delay_ms, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (domain) DO UPDATE SET current_delay_ms = $2, updated_at = $3`
	if _, err := s.db.ExecContext(ctx, query, domain, delay.Milliseconds(), time.Now().UTC()); err != nil {
		return fmt.Errorf("statsstore: update delay: %w", err)
	}
	if s.metrics != nil {
		s.metrics.CurrentDelay.WithLabelValues(domain).Set(delay.Seconds())
	}
	return nil
}

// UpdatePreferredUA persists the User-Agent currently favored for domain.
func (s *Store) UpdatePreferredUA(ctx context.Context, domain, ua string) error {
	const query = `
INSERT INTO domain_stats (domain, preferred_ua, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (domain) DO UPDATE SET preferred_ua = $2, updated_at = $3`
	if _, err := s.db.ExecContext(ctx, query, domain, ua, time.Now().UTC()); err != nil {
		return fmt.Errorf("statsstore: update preferred ua: %w", err)
	}
	return nil
}

func (s *Store) pushRate(ctx context.Context, domain string) {
	if s.metrics == nil {
		return
	}
	stats, err := s.domainReport(ctx, domain)
	if err != nil || stats == nil {
		return
	}
	s.metrics.SuccessRate.WithLabelValues(domain).Set(stats.SuccessRate())
}

// DomainReport returns the persisted stats row for domain, or nil if none
// exists yet.
func (s *Store) DomainReport(ctx context.Context, domain string) (*entity.DomainStats, error) {
	return s.domainReport(ctx, domain)
}

func (s *Store) domainReport(ctx context.Context, domain string) (*entity.DomainStats, error) {
	const query = `
SELECT domain, total, success, blocked_403, rate_limited_429, last_success, last_failure,
       updated_at, preferred_ua, current_delay_ms, breaker_state
FROM domain_stats WHERE domain = $1`
	row := s.db.QueryRowContext(ctx, query, domain)
	return scanDomainStats(row)
}

// AllStats returns every persisted domain row, ordered by domain.
func (s *Store) AllStats(ctx context.Context) ([]*entity.DomainStats, error) {
	const query = `
SELECT domain, total, success, blocked_403, rate_limited_429, last_success, last_failure,
       updated_at, preferred_ua, current_delay_ms, breaker_state
FROM domain_stats ORDER BY domain ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("statsstore: all stats: %w", err)
	}
	defer rows.Close()
	return scanAllDomainStats(rows)
}

// LowSuccessDomains returns domains whose success rate is below
// thresholdPercent, restricted to domains with at least minRequests total.
func (s *Store) LowSuccessDomains(ctx context.Context, thresholdPercent float64, minRequests int64) ([]*entity.DomainStats, error) {
	const query = `
SELECT domain, total, success, blocked_403, rate_limited_429, last_success, last_failure,
       updated_at, preferred_ua, current_delay_ms, breaker_state
FROM domain_stats
WHERE total >= $1 AND (success::float8 / NULLIF(total, 0) * 100) < $2
ORDER BY domain ASC`
	rows, err := s.db.QueryContext(ctx, query, minRequests, thresholdPercent)
	if err != nil {
		return nil, fmt.Errorf("statsstore: low success domains: %w", err)
	}
	defer rows.Close()
	return scanAllDomainStats(rows)
}

// ByBreakerState returns every domain currently recorded in the given
// breaker state.
func (s *Store) ByBreakerState(ctx context.Context, state entity.BreakerStateName) ([]*entity.DomainStats, error) {
	const query = `
SELECT domain, total, success, blocked_403, rate_limited_429, last_success, last_failure,
       updated_at, preferred_ua, current_delay_ms, breaker_state
FROM domain_stats WHERE breaker_state = $1 ORDER BY domain ASC`
	rows, err := s.db.QueryContext(ctx, query, string(state))
	if err != nil {
		return nil, fmt.Errorf("statsstore: by breaker state: %w", err)
	}
	defer rows.Close()
	return scanAllDomainStats(rows)
}

// Summary is an aggregate view across every tracked domain, used for the
// hourly check_blocking_stats_job.
type Summary struct {
	TotalDomains     int64
	OpenBreakers     int64
	LowSuccessCount  int64
	TotalRequests    int64
}

// BuildSummary aggregates AllStats into a Summary.
func (s *Store) BuildSummary(ctx context.Context) (Summary, error) {
	all, err := s.AllStats(ctx)
	if err != nil {
		return Summary{}, err
	}
	var sum Summary
	sum.TotalDomains = int64(len(all))
	for _, d := range all {
		sum.TotalRequests += d.Total
		if d.BreakerState == entity.BreakerOpen {
			sum.OpenBreakers++
		}
		if d.Total >= 10 && d.SuccessRate() < 50 {
			sum.LowSuccessCount++
		}
	}
	return sum, nil
}

// ResetOld deletes domain rows whose updated_at is older than olderThan
// days, part of the daily cleanup_blocking_stats_job.
func (s *Store) ResetOld(ctx context.Context, olderThanDays int) (int64, error) {
	const query = `DELETE FROM domain_stats WHERE updated_at < $1`
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("statsstore: reset old: %w", err)
	}
	return result.RowsAffected()
}

func scanDomainStats(row *sql.Row) (*entity.DomainStats, error) {
	var d entity.DomainStats
	var currentDelayMs int64
	var breakerState string
	err := row.Scan(
		&d.Domain, &d.Total, &d.Success, &d.Blocked403, &d.RateLimited429,
		&d.LastSuccess, &d.LastFailure, &d.UpdatedAt, &d.PreferredUA,
		&currentDelayMs, &breakerState,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statsstore: scan: %w", err)
	}
	d.CurrentDelay = time.Duration(currentDelayMs) * time.Millisecond
	d.BreakerState = entity.BreakerStateName(breakerState)
	return &d, nil
}

func scanAllDomainStats(rows *sql.Rows) ([]*entity.DomainStats, error) {
	var out []*entity.DomainStats
	for rows.Next() {
		var d entity.DomainStats
		var currentDelayMs int64
		var breakerState string
		if err := rows.Scan(
			&d.Domain, &d.Total, &d.Success, &d.Blocked403, &d.RateLimited429,
			&d.LastSuccess, &d.LastFailure, &d.UpdatedAt, &d.PreferredUA,
			&currentDelayMs, &breakerState,
		); err != nil {
			return nil, fmt.Errorf("statsstore: scan rows: %w", err)
		}
		d.CurrentDelay = time.Duration(currentDelayMs) * time.Millisecond
		d.BreakerState = entity.BreakerStateName(breakerState)
		out = append(out, &d)
	}
	return out, rows.Err()
}
