package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"drawsync/core"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	roomTableStmt := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		data BLOB NOT NULL
	);`
	if _, err = db.Exec(roomTableStmt); err != nil {
		log.Fatalf("failed to create rooms table: %v", err)
	}

	assetTableStmt := `CREATE TABLE IF NOT EXISTS assets (id TEXT PRIMARY KEY, data BLOB NOT NULL);`
	if _, err = db.Exec(assetTableStmt); err != nil {
		log.Fatalf("failed to create assets table: %v", err)
	}

	return &sqliteStore{db}
}

// SnapshotStore implementation
func (s *sqliteStore) GetSnapshot(ctx context.Context, roomID string) (*core.RoomSnapshot, error) {
	log := logrus.WithField("room", roomID)
	log.Debug("Retrieving snapshot")

	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM rooms WHERE id = ?", roomID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve snapshot")
		return nil, err
	}

	var snap core.RoomSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.WithError(err).Error("Failed to unmarshal snapshot")
		return nil, err
	}
	return &snap, nil
}

func (s *sqliteStore) SaveSnapshot(ctx context.Context, snapshot *core.RoomSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, version, data) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version, data = excluded.data`,
		snapshot.RoomID, snapshot.Version, data)
	if err != nil {
		logrus.WithError(err).WithField("room", snapshot.RoomID).Error("Failed to save snapshot")
		return err
	}
	return nil
}

// AssetStore implementation
func (s *sqliteStore) PutAsset(ctx context.Context, id string, data []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM assets WHERE id = ?", id).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if exists {
		return fmt.Errorf("asset %s: %w", id, core.ErrExists)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO assets (id, data) VALUES (?, ?)", id, data); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) GetAsset(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM assets WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("asset %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}
