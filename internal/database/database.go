// Package database implements the relay's persistence on SQLite: durable
// stats counters, filter keywords, forward history, and the error log.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"telerelay/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS relay_stats (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	received INTEGER NOT NULL DEFAULT 0,
	forwarded INTEGER NOT NULL DEFAULT 0,
	filtered INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	last_error_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS filter_keywords (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	keyword TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS forwarded_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id INTEGER NOT NULL,
	source_chat TEXT NOT NULL,
	destination_chat TEXT NOT NULL,
	message_text TEXT,
	has_media BOOLEAN NOT NULL DEFAULT 0,
	media_type TEXT,
	keywords_matched TEXT,
	forwarded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_forwarded_messages_forwarded_at
	ON forwarded_messages(forwarded_at);

CREATE TABLE IF NOT EXISTS error_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	error_type TEXT NOT NULL,
	error_message TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func closeQuietly(db *sql.DB) {
	_ = db.Close()
}

func (d *Database) Close() error {
	return d.db.Close()
}

// LoadStats returns the persisted counters, or zero stats when none have
// been saved yet.
func (d *Database) LoadStats(ctx context.Context) (models.Stats, error) {
	query := `
		SELECT received, forwarded, filtered, failed, last_error, last_error_at
		FROM relay_stats WHERE id = 1
	`

	var s models.Stats
	var lastError sql.NullString
	var lastErrAt sql.NullTime

	err := d.db.QueryRowContext(ctx, query).Scan(
		&s.Received, &s.Forwarded, &s.Filtered, &s.Failed, &lastError, &lastErrAt,
	)
	if err == sql.ErrNoRows {
		return models.Stats{}, nil
	}
	if err != nil {
		return models.Stats{}, fmt.Errorf("failed to load stats: %w", err)
	}

	if lastError.Valid {
		s.LastError = lastError.String
	}
	if lastErrAt.Valid {
		at := lastErrAt.Time
		s.LastErrAt = &at
	}
	return s, nil
}

// SaveStats upserts the single counters row.
func (d *Database) SaveStats(ctx context.Context, s models.Stats) error {
	query := `
		INSERT INTO relay_stats (id, received, forwarded, filtered, failed, last_error, last_error_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			received = excluded.received,
			forwarded = excluded.forwarded,
			filtered = excluded.filtered,
			failed = excluded.failed,
			last_error = excluded.last_error,
			last_error_at = excluded.last_error_at,
			updated_at = CURRENT_TIMESTAMP
	`

	var lastError interface{}
	if s.LastError != "" {
		lastError = s.LastError
	}
	var lastErrAt interface{}
	if s.LastErrAt != nil {
		lastErrAt = *s.LastErrAt
	}

	if _, err := d.db.ExecContext(ctx, query, s.Received, s.Forwarded, s.Filtered, s.Failed, lastError, lastErrAt); err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	return nil
}

// SeedFilterRules replaces the stored keyword set with the configured one.
// The swap is atomic so readers never observe a partial rule set.
func (d *Database) SeedFilterRules(ctx context.Context, rules models.FilterRule) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM filter_keywords`); err != nil {
		return fmt.Errorf("failed to clear filter keywords: %w", err)
	}
	for _, kw := range rules.Keywords {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO filter_keywords (keyword) VALUES (?)`, kw); err != nil {
			return fmt.Errorf("failed to insert filter keyword: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit filter keywords: %w", err)
	}
	return nil
}

// LoadFilterRules returns the stored keyword set.
func (d *Database) LoadFilterRules(ctx context.Context) (models.FilterRule, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT keyword FROM filter_keywords ORDER BY id`)
	if err != nil {
		return models.FilterRule{}, fmt.Errorf("failed to load filter keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rule models.FilterRule
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return models.FilterRule{}, fmt.Errorf("failed to scan filter keyword: %w", err)
		}
		rule.Keywords = append(rule.Keywords, kw)
	}
	if err := rows.Err(); err != nil {
		return models.FilterRule{}, fmt.Errorf("failed to read filter keywords: %w", err)
	}
	return rule, nil
}
