package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/devicelink/devicelink/internal/models"
)

// SaveChange stores a change entry, applying last-write-wins against any
// existing entry for the same (table, record) pair.
// Returns true if the entry was stored, false if the existing entry won.
func (s *Storage) SaveChange(ctx context.Context, userGUID string, entry *models.ChangeEntry) (bool, error) {
	existing, err := s.getChange(ctx, entry.Table, entry.RecordID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check existing change: %w", err)
	}

	if existing != nil && !entry.IsNewerThan(existing) {
		return false, nil
	}

	query := `
		INSERT INTO changes (table_name, record_id, user_guid, change_id, change_type, change_data, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (table_name, record_id) DO UPDATE SET
			user_guid = excluded.user_guid,
			change_id = excluded.change_id,
			change_type = excluded.change_type,
			change_data = excluded.change_data,
			timestamp = excluded.timestamp,
			created_at = excluded.created_at
	`

	_, err = s.db.ExecContext(ctx, query,
		entry.Table,
		entry.RecordID,
		userGUID,
		entry.ID,
		entry.Type,
		entry.Data,
		entry.Timestamp,
		entry.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save change: %w", err)
	}

	return true, nil
}

// ChangesSince returns the user's change entries with a timestamp strictly
// greater than since, oldest first.
func (s *Storage) ChangesSince(ctx context.Context, userGUID string, since int64) ([]*models.ChangeEntry, error) {
	query := `
		SELECT table_name, record_id, change_id, change_type, change_data, timestamp, created_at
		FROM changes
		WHERE user_guid = ? AND timestamp > ?
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userGUID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var entries []*models.ChangeEntry
	for rows.Next() {
		entry := &models.ChangeEntry{}
		if err := rows.Scan(
			&entry.Table,
			&entry.RecordID,
			&entry.ID,
			&entry.Type,
			&entry.Data,
			&entry.Timestamp,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate changes: %w", err)
	}

	return entries, nil
}

func (s *Storage) getChange(ctx context.Context, table, recordID string) (*models.ChangeEntry, error) {
	query := `
		SELECT table_name, record_id, change_id, change_type, change_data, timestamp, created_at
		FROM changes
		WHERE table_name = ? AND record_id = ?
	`

	entry := &models.ChangeEntry{}
	err := s.db.QueryRowContext(ctx, query, table, recordID).Scan(
		&entry.Table,
		&entry.RecordID,
		&entry.ID,
		&entry.Type,
		&entry.Data,
		&entry.Timestamp,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return entry, nil
}
