package db

import "database/sql"

// MigrateUp creates the engine's three tables: chats (notification
// destinations), feeds (per-chat subscriptions with delta bookkeeping), and
// domain_stats (the durable counterpart to the in-memory UA pool, rate
// limiter, and circuit breaker). Every statement is idempotent so MigrateUp
// can run on every process start, the teacher's waitForMigrations pattern.
func MigrateUp(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS chats (
    id         BIGINT PRIMARY KEY,
    type       VARCHAR(20) NOT NULL DEFAULT 'private',
    title      TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return err
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS feeds (
    id                     SERIAL PRIMARY KEY,
    chat_id                BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    name                   TEXT NOT NULL,
    url                    TEXT NOT NULL,
    canonical_url          TEXT NOT NULL DEFAULT '',
    enabled                BOOLEAN NOT NULL DEFAULT TRUE,
    last_item_id           TEXT NOT NULL DEFAULT '',
    last_notified_at       TIMESTAMPTZ,
    last_seen_at           TIMESTAMPTZ,
    last_check             TIMESTAMPTZ,
    check_interval_minutes INT NOT NULL DEFAULT 5,
    max_item_age_minutes   INT NOT NULL DEFAULT 0,
    failures               INT NOT NULL DEFAULT 0,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (chat_id, url)
)`); err != nil {
		return err
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS domain_stats (
    domain            TEXT PRIMARY KEY,
    total             BIGINT NOT NULL DEFAULT 0,
    success           BIGINT NOT NULL DEFAULT 0,
    blocked_403       BIGINT NOT NULL DEFAULT 0,
    rate_limited_429  BIGINT NOT NULL DEFAULT 0,
    last_success      TIMESTAMPTZ,
    last_failure      TIMESTAMPTZ,
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    preferred_ua      TEXT NOT NULL DEFAULT '',
    current_delay_ms  BIGINT NOT NULL DEFAULT 0,
    breaker_state     VARCHAR(20) NOT NULL DEFAULT 'closed'
)`); err != nil {
		return err
	}

	indexes := []string{
		// Scheduler's ListEnabled scans this on every tick.
		`CREATE INDEX IF NOT EXISTS idx_feeds_enabled ON feeds(enabled) WHERE enabled = TRUE`,
		// Admin command "list my feeds" and CountByChat.
		`CREATE INDEX IF NOT EXISTS idx_feeds_chat_id ON feeds(chat_id)`,
		// check_blocking_stats_job's low-success-rate scan.
		`CREATE INDEX IF NOT EXISTS idx_domain_stats_breaker_state ON domain_stats(breaker_state)`,
		// cleanup_blocking_stats_job's dormant-domain sweep.
		`CREATE INDEX IF NOT EXISTS idx_domain_stats_updated_at ON domain_stats(updated_at)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	return nil
}

// MigrateDown drops every table this engine owns, in reverse dependency
// order. Intended for local development resets, not production rollback.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP TABLE IF EXISTS domain_stats CASCADE`,
		`DROP TABLE IF EXISTS feeds CASCADE`,
		`DROP TABLE IF EXISTS chats CASCADE`,
	}
	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
