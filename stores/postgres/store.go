package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"drawsync/core"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type roomRow struct {
	ID        string `gorm:"primaryKey"`
	Version   int64
	Data      []byte
	UpdatedAt time.Time
}

func (roomRow) TableName() string { return "rooms" }

type assetRow struct {
	ID        string `gorm:"primaryKey"`
	Data      []byte
	CreatedAt time.Time
}

func (assetRow) TableName() string { return "assets" }

type pgStore struct {
	db *gorm.DB
}

// NewStore creates a new Postgres-based store.
func NewStore(dsn string) *pgStore {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}

	if err := db.AutoMigrate(&roomRow{}, &assetRow{}); err != nil {
		log.Fatalf("failed to migrate postgres schema: %v", err)
	}

	return &pgStore{db: db}
}

// SnapshotStore implementation
func (s *pgStore) GetSnapshot(ctx context.Context, roomID string) (*core.RoomSnapshot, error) {
	var row roomRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", roomID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
		}
		return nil, err
	}

	var snap core.RoomSnapshot
	if err := json.Unmarshal(row.Data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot for room %s: %v", roomID, err)
	}
	return &snap, nil
}

func (s *pgStore) SaveSnapshot(ctx context.Context, snapshot *core.RoomSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	row := roomRow{
		ID:      snapshot.RoomID,
		Version: snapshot.Version,
		Data:    data,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// AssetStore implementation
func (s *pgStore) PutAsset(ctx context.Context, id string, data []byte) error {
	row := assetRow{ID: id, Data: data}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("asset %s: %w", id, core.ErrExists)
		}
		return err
	}
	return nil
}

func (s *pgStore) GetAsset(ctx context.Context, id string) ([]byte, error) {
	var row assetRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("asset %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return row.Data, nil
}
