package sqlstore

import (
	"context"
	"fmt"
)

// Timestamps are unix microseconds so every dialect stores them the same way.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		short_code TEXT NOT NULL UNIQUE,
		original_url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		owner TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		click_count INTEGER NOT NULL DEFAULT 0,
		expires_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS clicks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		short_code TEXT NOT NULL REFERENCES links(short_code) ON DELETE CASCADE,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		referer TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		browser TEXT NOT NULL DEFAULT '',
		os TEXT NOT NULL DEFAULT '',
		clicked_at INTEGER NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS links (
		id BIGSERIAL PRIMARY KEY,
		short_code VARCHAR(32) NOT NULL UNIQUE,
		original_url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		owner TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		click_count BIGINT NOT NULL DEFAULT 0,
		expires_at BIGINT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS clicks (
		id BIGSERIAL PRIMARY KEY,
		short_code VARCHAR(32) NOT NULL REFERENCES links(short_code) ON DELETE CASCADE,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		referer TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		browser TEXT NOT NULL DEFAULT '',
		os TEXT NOT NULL DEFAULT '',
		clicked_at BIGINT NOT NULL
	)`,
}

var sharedIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_clicks_short_code ON clicks(short_code)`,
	`CREATE INDEX IF NOT EXISTS idx_clicks_clicked_at ON clicks(clicked_at)`,
	`CREATE INDEX IF NOT EXISTS idx_links_created_at ON links(created_at)`,
}

// migrate runs each statement on its own; some drivers reject batches.
func (s *Store) migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.dialect == DialectPostgres {
		stmts = postgresSchema
	}
	stmts = append(append([]string{}, stmts...), sharedIndexes...)

	for i, stmt := range stmts {
		if _, err := s.Exec(ctx, "migrate", stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
