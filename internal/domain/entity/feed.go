package entity

import (
	"fmt"
	"time"
)

// Feed is a subscription unit owned by one chat: a user-supplied URL, the
// canonical feed URL derived from it (after Reddit/YouTube conversion), and
// the scheduler's bookkeeping for delta detection and politeness.
type Feed struct {
	ID                   int64
	ChatID               int64
	Name                 string
	URL                  string
	CanonicalURL         string
	Enabled              bool
	LastItemID           string
	LastNotifiedAt       *time.Time
	LastSeenAt           *time.Time
	LastCheck            *time.Time
	CheckIntervalMinutes int
	MaxItemAgeMinutes    int
	Failures             int
}

// Validate checks the invariants a Feed must hold regardless of how it
// reached the engine: a canonical URL is required whenever the feed is
// enabled, and last_notified_at cannot be in the future.
func (f *Feed) Validate() error {
	if f.Enabled && f.CanonicalURL == "" {
		return &ValidationError{Field: "canonical_url", Message: "canonical URL is required for an enabled feed"}
	}
	if f.CanonicalURL != "" {
		if err := ValidateURL(f.CanonicalURL); err != nil {
			return fmt.Errorf("canonical_url: %w", err)
		}
	}
	if f.LastNotifiedAt != nil && f.LastNotifiedAt.After(time.Now()) {
		return &ValidationError{Field: "last_notified_at", Message: "cannot be in the future"}
	}
	if f.CheckIntervalMinutes <= 0 {
		return &ValidationError{Field: "check_interval_minutes", Message: "must be positive"}
	}
	return nil
}

// Due reports whether a check is due for this feed at the given instant.
func (f *Feed) Due(now time.Time) bool {
	if f.LastCheck == nil {
		return true
	}
	return now.Sub(*f.LastCheck) >= time.Duration(f.CheckIntervalMinutes)*time.Minute
}
