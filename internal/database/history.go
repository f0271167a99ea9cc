package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"telerelay/internal/models"
)

// maxStoredBodyLen truncates stored message text so a noisy source cannot
// bloat the history table.
const maxStoredBodyLen = 1000

// RecordForward appends one row of forward history. The message text is
// encrypted at rest when encryption is enabled.
func (d *Database) RecordForward(ctx context.Context, rec models.ForwardRecord) error {
	body := rec.Body
	if len(body) > maxStoredBodyLen {
		body = body[:maxStoredBodyLen]
	}

	encryptedBody, err := d.encryptor.EncryptIfEnabled(body)
	if err != nil {
		return fmt.Errorf("failed to encrypt message text: %w", err)
	}

	query := `
		INSERT INTO forwarded_messages (
			message_id, source_chat, destination_chat, message_text,
			has_media, media_type, keywords_matched, forwarded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var mediaKind interface{}
	if rec.MediaKind != "" {
		mediaKind = rec.MediaKind
	}
	var matched interface{}
	if rec.Matched != "" {
		matched = rec.Matched
	}
	forwardedAt := rec.ForwardedAt
	if forwardedAt.IsZero() {
		forwardedAt = time.Now().UTC()
	}

	_, err = d.db.ExecContext(ctx, query,
		rec.MessageID, rec.SourceChat, rec.DestChat, encryptedBody,
		rec.HasMedia, mediaKind, matched, forwardedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record forwarded message: %w", err)
	}
	return nil
}

// RecentForwards returns up to limit history rows, newest first.
func (d *Database) RecentForwards(ctx context.Context, limit int) ([]models.ForwardRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, message_id, source_chat, destination_chat, message_text,
		       has_media, media_type, keywords_matched, forwarded_at
		FROM forwarded_messages
		ORDER BY forwarded_at DESC, id DESC
		LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query forward history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []models.ForwardRecord
	for rows.Next() {
		var rec models.ForwardRecord
		var body, mediaKind, matched sql.NullString

		if err := rows.Scan(
			&rec.ID, &rec.MessageID, &rec.SourceChat, &rec.DestChat, &body,
			&rec.HasMedia, &mediaKind, &matched, &rec.ForwardedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan forward history row: %w", err)
		}

		if body.Valid {
			decrypted, err := d.encryptor.DecryptIfEnabled(body.String)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt message text: %w", err)
			}
			rec.Body = decrypted
		}
		rec.MediaKind = mediaKind.String
		rec.Matched = matched.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read forward history: %w", err)
	}
	return records, nil
}

// RecordError appends one row to the error log.
func (d *Database) RecordError(ctx context.Context, kind, message string) error {
	query := `INSERT INTO error_logs (error_type, error_message, occurred_at) VALUES (?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, query, kind, message, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

// RecentErrors returns up to limit error-log rows, newest first.
func (d *Database) RecentErrors(ctx context.Context, limit int) ([]models.ErrorRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, error_type, error_message, occurred_at
		FROM error_logs
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query error log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []models.ErrorRecord
	for rows.Next() {
		var rec models.ErrorRecord
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Message, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan error log row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read error log: %w", err)
	}
	return records, nil
}

// PruneHistory deletes history and error rows older than retentionDays.
func (d *Database) PruneHistory(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	if _, err := d.db.ExecContext(ctx, `DELETE FROM forwarded_messages WHERE forwarded_at < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune forward history: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM error_logs WHERE occurred_at < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune error log: %w", err)
	}
	return nil
}
