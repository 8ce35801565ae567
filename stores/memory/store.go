package memory

import (
	"context"
	"fmt"
	"sync"

	"drawsync/core"

	"github.com/sirupsen/logrus"
)

// memStore implements both SnapshotStore and AssetStore for in-memory
// storage. Useful for development and tests; nothing survives a restart.
type memStore struct {
	mu        sync.RWMutex
	snapshots map[string]*core.RoomSnapshot
	assets    map[string][]byte
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		snapshots: make(map[string]*core.RoomSnapshot),
		assets:    make(map[string][]byte),
	}
}

// GetSnapshot retrieves the last saved snapshot for a room. Part of the
// SnapshotStore interface.
func (s *memStore) GetSnapshot(ctx context.Context, roomID string) (*core.RoomSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[roomID]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	return snap, nil
}

// SaveSnapshot stores the snapshot for a room, replacing any previous one.
// Part of the SnapshotStore interface.
func (s *memStore) SaveSnapshot(ctx context.Context, snapshot *core.RoomSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot.RoomID == "" {
		return fmt.Errorf("room id cannot be empty")
	}
	s.snapshots[snapshot.RoomID] = snapshot

	logrus.WithFields(logrus.Fields{
		"room":    snapshot.RoomID,
		"version": snapshot.Version,
		"records": len(snapshot.Records),
	}).Debug("Snapshot saved")
	return nil
}

// PutAsset stores a blob under id. Part of the AssetStore interface.
func (s *memStore) PutAsset(ctx context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[id]; ok {
		return fmt.Errorf("asset %s: %w", id, core.ErrExists)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.assets[id] = buf

	logrus.WithFields(logrus.Fields{
		"asset":       id,
		"data_length": len(data),
	}).Info("Asset stored")
	return nil
}

// GetAsset retrieves a blob by id. Part of the AssetStore interface.
func (s *memStore) GetAsset(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.assets[id]
	if !ok {
		logrus.WithField("asset", id).Warn("Asset with specified ID not found")
		return nil, fmt.Errorf("asset %s: %w", id, core.ErrNotFound)
	}
	return data, nil
}
