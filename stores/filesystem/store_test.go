package filesystem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"drawsync/core"
)

func TestSnapshotRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	snap := &core.RoomSnapshot{
		RoomID:  "demo",
		Version: 7,
		Records: map[string]json.RawMessage{"S1": json.RawMessage(`{"x":10}`)},
		Log: []core.AcceptedOp{
			{ID: "op-7", Patch: core.Patch{Version: 7}},
		},
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}

	got, err := store.GetSnapshot(ctx, "demo")
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if got.Version != 7 {
		t.Errorf("version = %d, want 7", got.Version)
	}
	if string(got.Records["S1"]) != `{"x":10}` {
		t.Errorf("record S1 = %s", got.Records["S1"])
	}
	if len(got.Log) != 1 || got.Log[0].ID != "op-7" {
		t.Errorf("operation log not preserved: %+v", got.Log)
	}
}

func TestSaveSnapshot_ReplacesExisting(t *testing.T) {
	store := NewStore(t.TempDir())
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
	store := NewStore(t.TempDir())

	_, err := store.GetSnapshot(context.Background(), "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetSnapshot() error = %v, want ErrNotFound", err)
	}
}

func TestAssetRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	content := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 1024)
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
}

func TestPutAsset_Collision(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	store.PutAsset(ctx, "U1", []byte("first"))
	err := store.PutAsset(ctx, "U1", []byte("second"))
	if !errors.Is(err, core.ErrExists) {
		t.Errorf("PutAsset() error = %v, want ErrExists", err)
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	if err := store.PutAsset(ctx, "../escape", []byte("x")); err == nil {
		t.Error("PutAsset() accepted a path-like id")
	}
	if _, err := store.GetSnapshot(ctx, "../../etc/passwd"); err == nil {
		t.Error("GetSnapshot() accepted a path-like id")
	}
}
