package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/devicelink/devicelink/internal/client/storage"
	"github.com/devicelink/devicelink/internal/models"
)

var (
	replicaUserKey   = []byte("user")
	replicaDeviceKey = []byte("device")
)

// GetUser returns the replicated user identity.
func (s *Storage) GetUser(ctx context.Context) (*storage.UserReplica, error) {
	var user *storage.UserReplica

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketReplica)
		if bucket == nil {
			return fmt.Errorf("replica bucket not found")
		}

		data := bucket.Get(replicaUserKey)
		if data == nil {
			return storage.ErrReplicaNotFound
		}

		user = &storage.UserReplica{}
		if err := json.Unmarshal(data, user); err != nil {
			return fmt.Errorf("failed to unmarshal user replica: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetDevice returns the replicated device record.
func (s *Storage) GetDevice(ctx context.Context) (*storage.DeviceReplica, error) {
	var device *storage.DeviceReplica

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketReplica)
		if bucket == nil {
			return fmt.Errorf("replica bucket not found")
		}

		data := bucket.Get(replicaDeviceKey)
		if data == nil {
			return storage.ErrReplicaNotFound
		}

		device = &storage.DeviceReplica{}
		if err := json.Unmarshal(data, device); err != nil {
			return fmt.Errorf("failed to unmarshal device replica: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return device, nil
}

// SaveSnapshot writes the replica and queued changes atomically. A crash
// either keeps the previous consistent snapshot or lands the new one; the
// replica can never be persisted without its pending changes.
func (s *Storage) SaveSnapshot(ctx context.Context, user *storage.UserReplica, device *storage.DeviceReplica, changes []*models.ChangeEntry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		replica := tx.Bucket(bucketReplica)
		queue := tx.Bucket(bucketQueue)
		if replica == nil || queue == nil {
			return fmt.Errorf("storage buckets not found")
		}

		if user != nil {
			data, err := json.Marshal(user)
			if err != nil {
				return fmt.Errorf("failed to marshal user replica: %w", err)
			}
			if err := replica.Put(replicaUserKey, data); err != nil {
				return fmt.Errorf("failed to save user replica: %w", err)
			}
		}

		if device != nil {
			data, err := json.Marshal(device)
			if err != nil {
				return fmt.Errorf("failed to marshal device replica: %w", err)
			}
			if err := replica.Put(replicaDeviceKey, data); err != nil {
				return fmt.Errorf("failed to save device replica: %w", err)
			}
		}

		for _, entry := range changes {
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("failed to marshal change entry: %w", err)
			}
			if err := queue.Put(queueKey(entry), data); err != nil {
				return fmt.Errorf("failed to save change entry: %w", err)
			}
		}

		return nil
	})
}

// DeleteReplica drops the replica and the change queue.
func (s *Storage) DeleteReplica(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketReplica, bucketQueue} {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to drop %s bucket: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("failed to recreate %s bucket: %w", name, err)
			}
		}
		return nil
	})
}
