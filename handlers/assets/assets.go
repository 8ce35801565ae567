package assets

import (
	"errors"
	"io"
	"net/http"
	"regexp"

	"drawsync/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// DefaultMaxUploadBytes caps asset uploads. Large images and video stills
// fit comfortably; anything bigger belongs on a dedicated pipeline.
const DefaultMaxUploadBytes = 32 << 20

var uploadIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func validUploadID(id string) bool {
	return uploadIDPattern.MatchString(id)
}

// HandleUpload stores the request body under the caller-chosen upload id.
// Re-uploading an existing id is a conflict; clients pick fresh ids instead
// of overwriting blobs the document may already reference.
func HandleUpload(store core.AssetStore, maxBytes int64) http.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "uploadId")
		if !validUploadID(id) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "invalid upload id"})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				render.Status(r, http.StatusRequestEntityTooLarge)
				render.JSON(w, r, map[string]string{"error": "upload too large"})
				return
			}
			logrus.WithError(err).WithField("asset", id).Error("Failed to read upload body")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "failed to read upload"})
			return
		}
		defer r.Body.Close()

		if len(body) == 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "empty upload"})
			return
		}

		if err := store.PutAsset(r.Context(), id, body); err != nil {
			if errors.Is(err, core.ErrExists) {
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, map[string]string{"error": "upload id already exists"})
				return
			}
			logrus.WithError(err).WithField("asset", id).Error("Failed to store asset")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "failed to store asset"})
			return
		}

		render.JSON(w, r, map[string]string{"ok": "true", "id": id})
	}
}

// HandleDownload streams an asset blob back to the client.
func HandleDownload(store core.AssetStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "uploadId")
		if !validUploadID(id) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "invalid upload id"})
			return
		}

		data, err := store.GetAsset(r.Context(), id)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "asset not found"})
				return
			}
			logrus.WithError(err).WithField("asset", id).Error("Failed to fetch asset")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "failed to fetch asset"})
			return
		}

		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Write(data)
	}
}
