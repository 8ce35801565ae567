package sqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"drawsync/core"
)

func newTestStore(t *testing.T) *sqliteStore {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "test.db"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := &core.RoomSnapshot{
		RoomID:  "demo",
		Version: 4,
		Records: map[string]json.RawMessage{"S1": json.RawMessage(`{"k":"v"}`)},
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}

	got, err := store.GetSnapshot(ctx, "demo")
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if got.Version != 4 {
		t.Errorf("version = %d, want 4", got.Version)
	}
	if string(got.Records["S1"]) != `{"k":"v"}` {
		t.Errorf("record S1 = %s", got.Records["S1"])
	}
}

func TestSaveSnapshot_Upserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.SaveSnapshot(ctx, &core.RoomSnapshot{RoomID: "demo", Version: 1})
	if err := store.SaveSnapshot(ctx, &core.RoomSnapshot{RoomID: "demo", Version: 2}); err != nil {
		t.Fatalf("second SaveSnapshot() failed: %v", err)
	}

	got, err := store.GetSnapshot(ctx, "demo")
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
}

func TestGetSnapshot_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSnapshot(context.Background(), "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetSnapshot() error = %v, want ErrNotFound", err)
	}
}

func TestAssetRoundTripAndCollision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	content := []byte("binary\x00payload")
	if err := store.PutAsset(ctx, "U1", content); err != nil {
		t.Fatalf("PutAsset() failed: %v", err)
	}

	got, err := store.GetAsset(ctx, "U1")
	if err != nil {
		t.Fatalf("GetAsset() failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("downloaded asset differs from uploaded content")
	}

	if err := store.PutAsset(ctx, "U1", []byte("other")); !errors.Is(err, core.ErrExists) {
		t.Errorf("PutAsset() collision error = %v, want ErrExists", err)
	}

	if _, err := store.GetAsset(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetAsset() error = %v, want ErrNotFound", err)
	}
}
