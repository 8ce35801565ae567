package rooms

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin connects are allowed in this deployment profile; a
	// production deployment restricts this to its own domain.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleConnect upgrades GET /connect/{roomId} to a websocket and hands the
// connection to the room's actor. The optional ?since=V query resumes a
// briefly disconnected client without re-sending the full document.
func HandleConnect(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		if err := ValidateRoomID(roomID); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		var since int64
		hasSince := false
		if raw := r.URL.Query().Get("since"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || v < 0 {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "since must be a non-negative integer"})
				return
			}
			since, hasSince = v, true
		}

		// Upgrade before resolving the actor: a failed upgrade must leave no
		// room-side effects behind.
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithError(err).WithField("room", roomID).Warn("Websocket upgrade failed")
			return
		}

		sessionID := ulid.Make().String()

		// The request is hijacked at this point, so room loading runs on its
		// own deadline rather than the request context.
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		// A join can race with idle eviction of the same room; resolving
		// again lands on a fresh actor rebuilt from the snapshot.
		for attempt := 0; attempt < 2; attempt++ {
			room, err := registry.GetOrCreate(ctx, roomID)
			if err != nil {
				logrus.WithError(err).WithField("room", roomID).Error("Failed to resolve room")
				closeWithError(conn, "room unavailable")
				return
			}

			sess := newSession(sessionID, room, conn)
			err = room.Join(sess, since, hasSince)
			if err == nil {
				go sess.writePump()
				go sess.readPump()
				return
			}
			if !errors.Is(err, ErrRoomClosed) {
				logrus.WithError(err).WithField("room", roomID).Error("Join failed")
				closeWithError(conn, "join failed")
				return
			}
		}
		closeWithError(conn, "room unavailable")
	}
}

func closeWithError(conn *websocket.Conn, reason string) {
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason))
	conn.Close()
}
