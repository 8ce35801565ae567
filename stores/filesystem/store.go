package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"drawsync/core"

	"github.com/sirupsen/logrus"
)

// fsStore keeps room snapshots under <base>/rooms and assets under
// <base>/assets. Ids are validated by the callers; the store still refuses
// anything that would escape its directories.
type fsStore struct {
	basePath string
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{basePath, filepath.Join(basePath, "rooms"), filepath.Join(basePath, "assets")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("failed to create directory %s: %v", dir, err)
		}
	}
	return &fsStore{basePath: basePath}
}

func (s *fsStore) safePath(dir, id string) (string, error) {
	if id == "" || filepath.Base(id) != id {
		return "", fmt.Errorf("invalid id %q: must not be a path", id)
	}
	return filepath.Join(s.basePath, dir, id), nil
}

// GetSnapshot reads a room snapshot. Part of the SnapshotStore interface.
func (s *fsStore) GetSnapshot(ctx context.Context, roomID string) (*core.RoomSnapshot, error) {
	path, err := s.safePath("rooms", roomID+".json")
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"room": roomID, "path": path})

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to read snapshot file")
		return nil, err
	}

	var snap core.RoomSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.WithError(err).Error("Failed to unmarshal snapshot")
		return nil, err
	}
	return &snap, nil
}

// SaveSnapshot writes a room snapshot atomically (temp file plus rename) so
// a crash mid-write never leaves a partially applied snapshot behind. Part
// of the SnapshotStore interface.
func (s *fsStore) SaveSnapshot(ctx context.Context, snapshot *core.RoomSnapshot) error {
	path, err := s.safePath("rooms", snapshot.RoomID+".json")
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"room": snapshot.RoomID, "path": path})

	data, err := json.Marshal(snapshot)
	if err != nil {
		log.WithError(err).Error("Failed to marshal snapshot")
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write snapshot file")
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		log.WithError(err).Error("Failed to move snapshot into place")
		return err
	}
	return nil
}

// PutAsset stores an asset blob, refusing to overwrite an existing id. Part
// of the AssetStore interface.
func (s *fsStore) PutAsset(ctx context.Context, id string, data []byte) error {
	path, err := s.safePath("assets", id)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("asset %s: %w", id, core.ErrExists)
		}
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return err
	}

	logrus.WithFields(logrus.Fields{
		"asset":       id,
		"data_length": len(data),
	}).Info("Asset stored")
	return nil
}

// GetAsset reads an asset blob by id. Part of the AssetStore interface.
func (s *fsStore) GetAsset(ctx context.Context, id string) ([]byte, error) {
	path, err := s.safePath("assets", id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("asset %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}
