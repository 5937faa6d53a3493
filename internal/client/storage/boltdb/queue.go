package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/devicelink/devicelink/internal/models"
)

// queueKey orders entries by mutation time; the change id breaks ties.
// BoltDB iterates keys lexicographically, so zero-padding the timestamp
// gives oldest-first traversal for free.
func queueKey(entry *models.ChangeEntry) []byte {
	return []byte(fmt.Sprintf("%020d|%s", entry.Timestamp, entry.ID))
}

// PendingChanges returns unsynced entries, oldest first.
func (s *Storage) PendingChanges(ctx context.Context) ([]*models.ChangeEntry, error) {
	var pending []*models.ChangeEntry

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}

		return bucket.ForEach(func(_, data []byte) error {
			entry := &models.ChangeEntry{}
			if err := json.Unmarshal(data, entry); err != nil {
				return fmt.Errorf("failed to unmarshal change entry: %w", err)
			}
			if !entry.Synced {
				pending = append(pending, entry)
			}
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return pending, nil
}

// MarkChangesSynced flags the given change ids as uploaded.
func (s *Storage) MarkChangesSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}

		type update struct {
			key  []byte
			data []byte
		}
		var updates []update

		err := bucket.ForEach(func(key, data []byte) error {
			entry := &models.ChangeEntry{}
			if err := json.Unmarshal(data, entry); err != nil {
				return fmt.Errorf("failed to unmarshal change entry: %w", err)
			}
			if !idSet[entry.ID] || entry.Synced {
				return nil
			}

			entry.Synced = true
			updated, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("failed to marshal change entry: %w", err)
			}

			k := make([]byte, len(key))
			copy(k, key)
			updates = append(updates, update{key: k, data: updated})
			return nil
		})
		if err != nil {
			return err
		}

		for _, u := range updates {
			if err := bucket.Put(u.key, u.data); err != nil {
				return fmt.Errorf("failed to update change entry: %w", err)
			}
		}

		return nil
	})
}
