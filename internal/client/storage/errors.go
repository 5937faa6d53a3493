// Package storage defines the client-side persistence interfaces: session
// credentials, the offline identity replica and the pending change queue.
package storage

import "errors"

// Common client storage errors.
var (
	// ErrAuthNotFound indicates that no session credentials exist.
	ErrAuthNotFound = errors.New("authentication data not found")

	// ErrReplicaNotFound indicates that no replica snapshot exists yet.
	ErrReplicaNotFound = errors.New("replica not found")

	// ErrChangeNotFound indicates that a queued change was not found.
	ErrChangeNotFound = errors.New("queued change not found")
)
