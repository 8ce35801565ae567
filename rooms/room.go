package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"drawsync/core"

	"github.com/sirupsen/logrus"
)

// ErrRoomClosed is returned when a join races with the room being evicted.
// The caller should resolve the room again; the registry will rebuild it
// from the persisted snapshot.
var ErrRoomClosed = errors.New("room closed")

const (
	inboxSize      = 64
	persistTimeout = 5 * time.Second
)

// Commands delivered to the room's mailbox. The run loop is the only
// goroutine that touches the document and the session map, which is what
// makes the actor single-threaded in effect.
type (
	roomCmd interface{}

	joinCmd struct {
		sess     *Session
		since    int64
		hasSince bool
		reply    chan error
	}
	submitCmd struct {
		sessionID string
		op        core.Operation
	}
	presenceCmd struct {
		sessionID string
		data      json.RawMessage
	}
	pingCmd struct {
		sessionID string
	}
	detachCmd struct {
		sessionID string
	}
	flushCmd struct{}
	stopCmd  struct {
		reply chan bool
	}
)

// Room is the synchronization actor for one room id. It owns the
// authoritative document, the session registry, and the total order of
// accepted operations. At most one live Room exists per id; the Registry
// enforces that invariant.
type Room struct {
	ID string

	store    core.SnapshotStore
	doc      *core.Document
	sessions map[string]*Session

	inbox   chan roomCmd
	stopped chan struct{}
	tune    Tuning

	// Read by the registry janitor without entering the mailbox.
	nsessions  atomic.Int32
	lastActive atomic.Int64

	// dirty marks in-memory state that outlived a failed persist. Owned by
	// the run loop; retried on the next accept or janitor flush.
	dirty bool

	log *logrus.Entry
}

func newRoom(id string, store core.SnapshotStore, doc *core.Document, tune Tuning) *Room {
	r := &Room{
		ID:       id,
		store:    store,
		doc:      doc,
		sessions: make(map[string]*Session),
		inbox:    make(chan roomCmd, inboxSize),
		stopped:  make(chan struct{}),
		tune:     tune.withDefaults(),
		log:      logrus.WithField("room", id),
	}
	r.touch()
	return r
}

func (r *Room) touch() {
	r.lastActive.Store(time.Now().UnixNano())
}

func (r *Room) idleSince() time.Time {
	return time.Unix(0, r.lastActive.Load())
}

// post delivers a command unless the room has already stopped.
func (r *Room) post(cmd roomCmd) {
	select {
	case r.inbox <- cmd:
	case <-r.stopped:
	}
}

func (r *Room) detachAsync(sessionID string) {
	r.post(detachCmd{sessionID: sessionID})
}

// Join registers a session with the actor and blocks until the initial sync
// payload has been queued. since is the client's last acknowledged version
// when resuming; hasSince is false on a fresh connect.
func (r *Room) Join(sess *Session, since int64, hasSince bool) error {
	reply := make(chan error, 1)
	select {
	case r.inbox <- joinCmd{sess: sess, since: since, hasSince: hasSince, reply: reply}:
	case <-r.stopped:
		return ErrRoomClosed
	}
	select {
	case err := <-reply:
		return err
	case <-r.stopped:
		return ErrRoomClosed
	}
}

// run drains the mailbox until the registry stops the room. Every mutation
// of the document or session map happens here, one command at a time.
func (r *Room) run() {
	for {
		cmd := <-r.inbox
		switch c := cmd.(type) {
		case joinCmd:
			r.handleJoin(c)
		case submitCmd:
			r.handleSubmit(c)
		case presenceCmd:
			r.handlePresence(c)
		case pingCmd:
			if sess, ok := r.sessions[c.sessionID]; ok {
				sess.enqueue(serverMessage{Type: msgPong}, true)
			}
		case detachCmd:
			r.detach(c.sessionID)
		case flushCmd:
			if r.dirty {
				r.persist()
			}
		case stopCmd:
			if len(r.sessions) > 0 {
				c.reply <- false
				continue
			}
			r.persist()
			c.reply <- true
			close(r.stopped)
			return
		}
	}
}

func (r *Room) handleJoin(c joinCmd) {
	sess := c.sess
	r.sessions[sess.ID] = sess
	r.nsessions.Store(int32(len(r.sessions)))
	r.touch()

	roster := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		roster = append(roster, id)
	}

	// Resume with a catch-up patch list when the client's cursor is still
	// inside the retained log; otherwise fall back to the full snapshot.
	sent := false
	if c.hasSince {
		if patches, ok := r.doc.ChangesSince(c.since); ok {
			sess.enqueue(serverMessage{
				Type:      msgCatchup,
				SessionID: sess.ID,
				Version:   r.doc.Version(),
				Patches:   patches,
				Sessions:  roster,
			}, false)
			sent = true
		}
	}
	if !sent {
		sess.enqueue(serverMessage{
			Type:      msgInit,
			SessionID: sess.ID,
			Version:   r.doc.Version(),
			Records:   r.doc.Records(),
			Sessions:  roster,
		}, false)
	}

	// Replay the latest presence of everyone already here, then announce
	// the newcomer. Presence is best-effort throughout.
	for id, other := range r.sessions {
		if id == sess.ID || other.presence == nil {
			continue
		}
		sess.enqueue(serverMessage{Type: msgPresence, SessionID: id, Presence: other.presence}, true)
	}
	for id, other := range r.sessions {
		if id == sess.ID {
			continue
		}
		other.enqueue(serverMessage{Type: msgJoined, SessionID: sess.ID}, true)
	}

	r.log.WithFields(logrus.Fields{
		"session":  sess.ID,
		"version":  r.doc.Version(),
		"sessions": len(r.sessions),
	}).Info("Session joined")

	c.reply <- nil
}

// handleSubmit is the serialization point: operations are applied strictly
// one at a time, in mailbox arrival order, and the resulting diff is fanned
// out in the version order it was produced.
func (r *Room) handleSubmit(c submitCmd) {
	sess, ok := r.sessions[c.sessionID]
	if !ok {
		// Accepted history is never rolled back, but a ghost session gets
		// nothing applied on its behalf.
		return
	}
	r.touch()

	patch, duplicate, err := r.doc.Apply(c.op)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"session": c.sessionID,
			"op":      c.op.ID,
		}).WithError(err).Info("Operation rejected")
		sess.enqueue(serverMessage{Type: msgReject, OpID: c.op.ID, Reason: err.Error()}, false)
		return
	}
	if duplicate {
		sess.enqueue(serverMessage{Type: msgAck, OpID: c.op.ID, Version: patch.Version}, false)
		return
	}

	r.persist()

	if !sess.enqueue(serverMessage{Type: msgAck, OpID: c.op.ID, Version: patch.Version}, false) {
		r.detach(sess.ID)
	}

	broadcast := serverMessage{
		Type:    msgPatch,
		Version: patch.Version,
		Puts:    patch.Puts,
		Deletes: patch.Deletes,
	}
	for id, other := range r.sessions {
		if id == c.sessionID {
			continue
		}
		if !other.enqueue(broadcast, false) {
			r.detach(id)
		}
	}
}

func (r *Room) handlePresence(c presenceCmd) {
	sess, ok := r.sessions[c.sessionID]
	if !ok {
		return
	}
	r.touch()
	sess.presence = c.data

	msg := serverMessage{Type: msgPresence, SessionID: c.sessionID, Presence: c.data}
	for id, other := range r.sessions {
		if id == c.sessionID {
			continue
		}
		other.enqueue(msg, true)
	}
}

// detach removes a session, tears down its connection, and notifies the
// remaining participants. Document state is never mutated here.
func (r *Room) detach(sessionID string) {
	sess, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	r.nsessions.Store(int32(len(r.sessions)))
	r.touch()

	close(sess.send)
	sess.closeConn()

	for _, other := range r.sessions {
		other.enqueue(serverMessage{Type: msgLeft, SessionID: sessionID}, true)
	}

	r.log.WithFields(logrus.Fields{
		"session":   sessionID,
		"remaining": len(r.sessions),
	}).Info("Session left")
}

// persist writes the current snapshot. Failure leaves committed in-memory
// state intact and degrades to a retry on the next accept or janitor flush.
func (r *Room) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := r.store.SaveSnapshot(ctx, r.doc.Snapshot(r.ID)); err != nil {
		r.dirty = true
		r.log.WithError(err).WithField("version", r.doc.Version()).
			Warn("Snapshot persist failed, running degraded until retry succeeds")
		return
	}
	r.dirty = false
}
