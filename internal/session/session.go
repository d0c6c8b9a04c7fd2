// Package session manages one *http.Client per domain, each with its own
// cookie jar and a bounded per-host connection pool, rotated periodically
// so cookies and TLS/connection state don't accumulate indefinitely.
package session

import (
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"
)

// Config tunes session lifetime and per-host concurrency.
type Config struct {
	TTL                time.Duration
	MaxConnsPerHost    int
	RequestTimeout     time.Duration
}

// DefaultConfig matches the reference engine's defaults.
func DefaultConfig() Config {
	return Config{
		TTL:             time.Hour,
		MaxConnsPerHost: 5,
		RequestTimeout:  30 * time.Second,
	}
}

type entry struct {
	client    *http.Client
	createdAt time.Time
}

// Manager hands out a persistent *http.Client per domain, rotating it once
// its TTL has elapsed.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*entry
}

// New builds a Manager.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg, sessions: make(map[string]*entry)}
}

// Get returns the current client for domain, creating or rotating it as
// needed.
func (m *Manager) Get(domain string) (*http.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[domain]; ok {
		if time.Since(e.createdAt) < m.cfg.TTL {
			return e.client, nil
		}
		e.client.CloseIdleConnections()
		delete(m.sessions, domain)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Jar:     jar,
		Timeout: m.cfg.RequestTimeout,
		Transport: &http.Transport{
			MaxConnsPerHost: m.cfg.MaxConnsPerHost,
		},
	}

	m.sessions[domain] = &entry{client: client, createdAt: time.Now()}
	return client, nil
}

// CloseSession releases the session for a single domain.
func (m *Manager) CloseSession(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[domain]; ok {
		e.client.CloseIdleConnections()
		delete(m.sessions, domain)
	}
}

// CloseAll releases every session, intended for use at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for domain, e := range m.sessions {
		e.client.CloseIdleConnections()
		delete(m.sessions, domain)
	}
}
