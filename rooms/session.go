package rooms

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Tuning bundles the per-session transport knobs: outbound queue capacity,
// the grace window ordered traffic gets on a full queue, and the heartbeat
// timing. Zero fields fall back to production defaults; tests shrink the
// windows to make the timeout paths observable.
type Tuning struct {
	// QueueSize is the number of outbound frames buffered per session.
	QueueSize int

	// DrainWait is how long ordered traffic may wait on a full queue before
	// the session is declared a slow consumer and torn down.
	DrainWait time.Duration

	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

const (
	defaultQueueSize = 256
	defaultDrainWait = 2 * time.Second
	defaultWriteWait = 10 * time.Second
	defaultPongWait  = 60 * time.Second
)

func (t Tuning) withDefaults() Tuning {
	if t.QueueSize <= 0 {
		t.QueueSize = defaultQueueSize
	}
	if t.DrainWait <= 0 {
		t.DrainWait = defaultDrainWait
	}
	if t.WriteWait <= 0 {
		t.WriteWait = defaultWriteWait
	}
	if t.PongWait <= 0 {
		t.PongWait = defaultPongWait
	}
	if t.PingPeriod <= 0 {
		t.PingPeriod = t.PongWait * 9 / 10
	}
	return t
}

// Session is the room actor's per-connection proxy. It owns the two pump
// goroutines for its websocket, an outbound queue the actor writes into, and
// the client's presence state. All fields besides the queue itself are
// mutated only by the owning room's goroutine.
type Session struct {
	ID   string
	room *Room

	conn *websocket.Conn
	send chan []byte
	tune Tuning

	presence json.RawMessage

	closeOnce sync.Once
	log       *logrus.Entry
}

func newSession(id string, room *Room, conn *websocket.Conn) *Session {
	return &Session{
		ID:   id,
		room: room,
		conn: conn,
		send: make(chan []byte, room.tune.QueueSize),
		tune: room.tune,
		log: logrus.WithFields(logrus.Fields{
			"room":    room.ID,
			"session": id,
		}),
	}
}

// enqueue queues a frame for delivery. Best-effort traffic (presence) is
// dropped when the queue is full. For ordered traffic a full queue usually
// means a burst has put the write pump one syscall behind, not that the
// client is dead, so the send blocks through a short grace window first;
// only a consumer still stuck after that is reported slow, and the room
// disconnects it rather than skip a version. Must only be called from the
// owning room's goroutine.
func (s *Session) enqueue(msg serverMessage, bestEffort bool) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.WithError(err).Error("Failed to encode outbound message")
		return true
	}
	select {
	case s.send <- payload:
		return true
	default:
	}
	if bestEffort {
		return true
	}

	timer := time.NewTimer(s.tune.DrainWait)
	defer timer.Stop()
	select {
	case s.send <- payload:
		return true
	case <-timer.C:
		s.log.Warn("Outbound queue full, session is a slow consumer")
		return false
	}
}

// closeConn closes the underlying connection exactly once. The read pump
// unblocks and detaches the session from the room.
func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
}

// readPump decodes inbound frames and forwards them to the room's mailbox.
// It exits on any read error, including the heartbeat deadline elapsing, and
// always detaches the session on the way out.
func (s *Session) readPump() {
	defer func() {
		s.room.detachAsync(s.ID)
		s.closeConn()
	}()

	s.conn.SetReadDeadline(time.Now().Add(s.tune.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.tune.PongWait))
		return nil
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("Read loop ended")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.tune.PongWait))

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.WithError(err).Warn("Dropping malformed frame")
			continue
		}

		switch msg.Type {
		case msgUpdate:
			if msg.Op == nil {
				s.log.Warn("Update frame without operation")
				continue
			}
			s.room.post(submitCmd{sessionID: s.ID, op: *msg.Op})
		case msgPresence:
			s.room.post(presenceCmd{sessionID: s.ID, data: msg.Data})
		case msgPing:
			s.room.post(pingCmd{sessionID: s.ID})
		default:
			s.log.WithField("type", msg.Type).Warn("Unknown frame type")
		}
	}
}

// writePump drains the outbound queue onto the websocket and keeps the
// heartbeat alive. It exits when the room closes the queue or a write fails.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.tune.PingPeriod)
	defer func() {
		ticker.Stop()
		s.closeConn()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.tune.WriteWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.tune.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
