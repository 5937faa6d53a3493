// Package devfile implements the device identity record store as one small
// SQLite file per record. Files are named after a server-assigned internal
// id, never the device id, so lookups by device id are directory scans with
// an equality predicate behind a TTL index cache. Corruption of one file
// affects exactly one device: scans skip unreadable files and log them.
package devfile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/devicelink/devicelink/internal/models"
	"github.com/devicelink/devicelink/internal/server/locker"
	"github.com/devicelink/devicelink/internal/server/storage"
)

const (
	recordFilePrefix = "record-"
	recordFileSuffix = ".db"

	// DefaultIndexTTL bounds how long a cached device-id -> file mapping
	// is trusted before the next lookup falls back to a full scan.
	DefaultIndexTTL = 30 * time.Second
)

const recordSchema = `
CREATE TABLE IF NOT EXISTS device_record (
	internal_id TEXT PRIMARY KEY,
	device_id TEXT NOT NULL,
	user_guid TEXT NOT NULL DEFAULT '',
	user_handle TEXT NOT NULL DEFAULT '',
	user_phone TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	last_verified_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS sync_state (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

type indexEntry struct {
	expiresAt  time.Time
	internalID string
}

// Store is the filesystem-backed device record store.
type Store struct {
	logger   *slog.Logger
	locks    *locker.Locker
	index    map[string]indexEntry
	dir      string
	indexTTL time.Duration
	mu       sync.Mutex
}

// New creates a device record store rooted at dir, creating the directory
// if it does not exist.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	return &Store{
		dir:      dir,
		logger:   logger,
		locks:    locker.New(),
		index:    make(map[string]indexEntry),
		indexTTL: DefaultIndexTTL,
	}, nil
}

// SetIndexTTL overrides the index cache TTL. Zero disables caching.
func (s *Store) SetIndexTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexTTL = ttl
}

func (s *Store) recordPath(internalID string) string {
	return filepath.Join(s.dir, recordFilePrefix+internalID+recordFileSuffix)
}

// openRecordDB opens one record file and ensures its schema exists.
// Handles are short-lived: every operation opens, works and closes.
func (s *Store) openRecordDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record file: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragma: %w", err)
	}

	if _, err := db.ExecContext(ctx, recordSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return db, nil
}

// Get retrieves the record for a device id, via the index cache when fresh,
// falling back to a directory scan.
func (s *Store) Get(ctx context.Context, deviceID string) (*models.DeviceRecord, error) {
	if internalID, ok := s.cachedInternalID(deviceID); ok {
		record, err := s.readRecordFile(ctx, s.recordPath(internalID))
		if err == nil && record.DeviceID == deviceID {
			return record, nil
		}
		// Stale mapping: drop it and fall through to the scan.
		s.dropIndexEntry(deviceID)
	}

	records, err := s.Scan(ctx, func(r *models.DeviceRecord) bool {
		return r.DeviceID == deviceID
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, storage.ErrDeviceNotFound
	}

	record := records[0]
	s.storeIndexEntry(deviceID, record.InternalID)
	return record, nil
}

func (s *Store) cachedInternalID(deviceID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index[deviceID]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.internalID, true
}

func (s *Store) storeIndexEntry(deviceID, internalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexTTL <= 0 {
		return
	}
	s.index[deviceID] = indexEntry{
		internalID: internalID,
		expiresAt:  time.Now().Add(s.indexTTL),
	}
}

func (s *Store) dropIndexEntry(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.index, deviceID)
}

// Put creates or updates a record. A record without an InternalID is
// assigned one and gets a new backing file. Writes for the same device id
// are serialized.
func (s *Store) Put(ctx context.Context, record *models.DeviceRecord) error {
	s.locks.Lock(record.DeviceID)
	defer s.locks.Unlock(record.DeviceID)

	if record.InternalID == "" {
		record.InternalID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	db, err := s.openRecordDB(ctx, s.recordPath(record.InternalID))
	if err != nil {
		return err
	}
	defer db.Close()

	query := `
		INSERT INTO device_record (internal_id, device_id, user_guid, user_handle, user_phone, name, created_at, last_verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (internal_id) DO UPDATE SET
			device_id = excluded.device_id,
			user_guid = excluded.user_guid,
			user_handle = excluded.user_handle,
			user_phone = excluded.user_phone,
			name = excluded.name,
			last_verified_at = excluded.last_verified_at
	`

	var lastVerified interface{}
	if record.LastVerifiedAt != nil {
		lastVerified = *record.LastVerifiedAt
	}

	if _, err := db.ExecContext(ctx, query,
		record.InternalID,
		record.DeviceID,
		record.UserGUID,
		record.UserHandle,
		record.UserPhone,
		record.Name,
		record.CreatedAt,
		lastVerified,
	); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	s.storeIndexEntry(record.DeviceID, record.InternalID)
	return nil
}

// Scan walks every record file and returns the records matching pred.
// A file that cannot be opened or read is skipped and logged; only a
// failure to list the directory itself is fatal.
func (s *Store) Scan(ctx context.Context, pred storage.DevicePredicate) ([]*models.DeviceRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list record directory: %w", err)
	}

	var records []*models.DeviceRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, recordFilePrefix) || !strings.HasSuffix(name, recordFileSuffix) {
			continue
		}

		record, err := s.readRecordFile(ctx, filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("Skipping unreadable record file", "file", name, "error", err)
			continue
		}

		if pred == nil || pred(record) {
			records = append(records, record)
		}
	}

	return records, nil
}

// readRecordFile reads the single record row out of one file.
func (s *Store) readRecordFile(ctx context.Context, path string) (*models.DeviceRecord, error) {
	db, err := s.openRecordDB(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	query := `
		SELECT internal_id, device_id, user_guid, user_handle, user_phone, name, created_at, last_verified_at
		FROM device_record
		LIMIT 1
	`

	record := &models.DeviceRecord{}
	var lastVerified sql.NullTime

	err = db.QueryRowContext(ctx, query).Scan(
		&record.InternalID,
		&record.DeviceID,
		&record.UserGUID,
		&record.UserHandle,
		&record.UserPhone,
		&record.Name,
		&record.CreatedAt,
		&lastVerified,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record file has no row")
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	if lastVerified.Valid {
		record.LastVerifiedAt = &lastVerified.Time
	}

	return record, nil
}

// AppendSyncState appends an audit entry to the record's sync-state log.
func (s *Store) AppendSyncState(ctx context.Context, deviceID, status string) error {
	record, err := s.Get(ctx, deviceID)
	if err != nil {
		return err
	}

	s.locks.Lock(deviceID)
	defer s.locks.Unlock(deviceID)

	db, err := s.openRecordDB(ctx, s.recordPath(record.InternalID))
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx,
		`INSERT INTO sync_state (status, created_at) VALUES (?, ?)`,
		status, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to append sync state: %w", err)
	}

	return nil
}

// SyncStates returns the record's audit log, oldest first.
func (s *Store) SyncStates(ctx context.Context, deviceID string) ([]models.SyncState, error) {
	record, err := s.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	db, err := s.openRecordDB(ctx, s.recordPath(record.InternalID))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT status, created_at FROM sync_state ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync states: %w", err)
	}
	defer rows.Close()

	var states []models.SyncState
	for rows.Next() {
		var st models.SyncState
		if err := rows.Scan(&st.Status, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		states = append(states, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync states: %w", err)
	}

	return states, nil
}
