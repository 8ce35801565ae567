package core

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by stores when the requested room or asset does
// not exist.
var ErrNotFound = errors.New("not found")

// ErrExists is returned by stores when an asset id is already taken.
var ErrExists = errors.New("already exists")

type (
	// RoomSnapshot is the durable form of a room's document state: the
	// converged record map plus the retained operation tail, enough to
	// reconstruct the room and serve catch-up requests after eviction.
	RoomSnapshot struct {
		RoomID  string                     `json:"roomId"`
		Version int64                      `json:"version"`
		Records map[string]json.RawMessage `json:"records"`
		Log     []AcceptedOp               `json:"log,omitempty"`
	}

	// SnapshotStore defines the persistence layer for room snapshots.
	SnapshotStore interface {
		// GetSnapshot returns the last persisted snapshot for a room, or an
		// error wrapping ErrNotFound when the room was never persisted.
		GetSnapshot(ctx context.Context, roomID string) (*RoomSnapshot, error)

		// SaveSnapshot creates or replaces the snapshot for a room.
		SaveSnapshot(ctx context.Context, snapshot *RoomSnapshot) error
	}
)
