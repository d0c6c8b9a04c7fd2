package entity

import "time"

// BreakerStateName mirrors the circuit breaker's three states as persisted
// alongside a domain's blocking statistics (see internal/breaker for the
// live, in-memory controller these values are snapshots of).
type BreakerStateName string

const (
	BreakerClosed   BreakerStateName = "closed"
	BreakerOpen     BreakerStateName = "open"
	BreakerHalfOpen BreakerStateName = "half_open"
)

// DomainStats is the persistent, per-domain record of fetch outcomes used
// to drive UA learning review, alerting, and operator visibility. It is
// upserted by internal/statsstore and never mutated directly by callers.
type DomainStats struct {
	Domain           string
	Total            int64
	Success          int64
	Blocked403       int64
	RateLimited429   int64
	LastSuccess      *time.Time
	LastFailure      *time.Time
	UpdatedAt        time.Time
	PreferredUA      string
	CurrentDelay     time.Duration
	BreakerState     BreakerStateName
}

// SuccessRate returns the success percentage in [0, 100], or 0 when no
// requests have been recorded yet.
func (d *DomainStats) SuccessRate() float64 {
	if d.Total == 0 {
		return 0
	}
	return float64(d.Success) / float64(d.Total) * 100
}

// Validate checks the bucketing invariants required of a DomainStats row.
func (d *DomainStats) Validate() error {
	if d.Success > d.Total {
		return &ValidationError{Field: "success", Message: "success cannot exceed total"}
	}
	if d.Blocked403+d.RateLimited429 > d.Total-d.Success {
		return &ValidationError{Field: "blocked_403+rate_limited_429", Message: "failure buckets cannot exceed total-success"}
	}
	return nil
}
