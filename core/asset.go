package core

import "context"

// AssetStore defines the blob store for uploaded assets. Assets are opaque:
// the document references them by id only and clients fetch them out of band,
// so they are not subject to the room's ordering guarantees.
type AssetStore interface {
	// PutAsset stores a blob under id. Returns an error wrapping ErrExists
	// when the id is already taken.
	PutAsset(ctx context.Context, id string, data []byte) error

	// GetAsset returns the blob stored under id, or an error wrapping
	// ErrNotFound.
	GetAsset(ctx context.Context, id string) ([]byte, error)
}
