// Package breaker implements a fail-closed, per-resource circuit breaker:
// once a resource accumulates enough consecutive failures, requests to it
// are refused until a timeout elapses, and repeated failures in the
// half-open probe double the remaining timeout.
//
// This is deliberately not built on sony/gobreaker: gobreaker trips on a
// failure ratio over a rolling window and keeps one fixed open timeout,
// whereas this breaker trips on consecutive failures per resource and
// doubles its timeout after a failed half-open probe.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config tunes the threshold and timeouts.
type Config struct {
	FailureThreshold int
	InitialTimeout   time.Duration
	MaxTimeout       time.Duration
	Clock            Clock
}

// DefaultConfig matches the reference engine's defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		InitialTimeout:   time.Hour,
		MaxTimeout:       24 * time.Hour,
		Clock:            systemClock{},
	}
}

type resourceState struct {
	mu              sync.Mutex
	state           State
	failureCount    int
	openUntil       time.Time
	lastTimeout     time.Duration
	alertedThisOpen bool
}

// Breaker holds one resourceState per resource URL.
type Breaker struct {
	cfg Config

	mu        sync.Mutex
	resources map[string]*resourceState

	// OnOpen, if set, is invoked (outside any lock) the first time a
	// resource transitions to open, so callers can raise an alert
	// without the breaker depending on the alerting package.
	OnOpen func(resource string)
}

// New builds a Breaker.
func New(cfg Config) *Breaker {
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	return &Breaker{cfg: cfg, resources: make(map[string]*resourceState)}
}

func (b *Breaker) state(resource string) *resourceState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.resources[resource]
	if !ok {
		s = &resourceState{state: Closed}
		b.resources[resource] = s
	}
	return s
}

// ShouldAllow reports whether a request to resource may proceed. In open
// state, it also performs the open→half_open transition once open_until
// has passed, atomically under the resource's own lock.
func (b *Breaker) ShouldAllow(resource string) bool {
	s := b.state(resource)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if !b.cfg.Clock.Now().Before(s.openUntil) {
			s.state = HalfOpen
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker (from any state) and clears its
// failure count.
func (b *Breaker) RecordSuccess(resource string) {
	s := b.state(resource)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Closed
	s.failureCount = 0
	s.lastTimeout = 0
	s.alertedThisOpen = false
}

// RecordFailure registers a failure. In closed state it may trip the
// breaker open; in half_open state it always reopens, doubling the
// remaining timeout (capped at MaxTimeout).
func (b *Breaker) RecordFailure(resource string) {
	s := b.state(resource)

	s.mu.Lock()
	var justOpened bool
	now := b.cfg.Clock.Now()

	switch s.state {
	case Closed:
		s.failureCount++
		if s.failureCount >= b.cfg.FailureThreshold {
			s.state = Open
			s.lastTimeout = b.cfg.InitialTimeout
			s.openUntil = now.Add(s.lastTimeout)
			justOpened = !s.alertedThisOpen
			s.alertedThisOpen = true
		}
	case HalfOpen:
		next := s.lastTimeout * 2
		if next <= 0 {
			next = b.cfg.InitialTimeout
		}
		if next > b.cfg.MaxTimeout {
			next = b.cfg.MaxTimeout
		}
		s.lastTimeout = next
		s.openUntil = now.Add(next)
		s.state = Open
		justOpened = !s.alertedThisOpen
		s.alertedThisOpen = true
	case Open:
		// Already open and not yet past openUntil; nothing to do.
	}
	s.mu.Unlock()

	if justOpened && b.OnOpen != nil {
		b.OnOpen(resource)
	}
}

// Stats is a snapshot of a resource's breaker state, suitable for
// persistence or introspection.
type Stats struct {
	State        State
	FailureCount int
	OpenUntil    time.Time
}

// StatsFor returns a snapshot for resource.
func (b *Breaker) StatsFor(resource string) Stats {
	s := b.state(resource)
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{State: s.state, FailureCount: s.failureCount, OpenUntil: s.openUntil}
}
