package rooms

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"drawsync/core"

	"github.com/sirupsen/logrus"
)

// ErrInvalidRoomID is returned for identifiers that fail validation; such
// requests are rejected before any actor lookup happens.
var ErrInvalidRoomID = errors.New("invalid room id")

// ErrRegistryClosed is returned when a lookup races with registry shutdown.
// A room created past this point would have no janitor to evict or persist
// it, so the lookup is refused instead.
var ErrRegistryClosed = errors.New("registry closed")

// Room ids are opaque but bounded: URL-safe characters, no path tricks.
var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._~-]{0,127}$`)

// ValidateRoomID rejects malformed room identifiers.
func ValidateRoomID(id string) error {
	if !roomIDPattern.MatchString(id) {
		return fmt.Errorf("%q: %w", id, ErrInvalidRoomID)
	}
	return nil
}

// Registry is the connection gateway's ownership table: it maps each room id
// to the single live actor for that id. Resolution is idempotent, repeated
// lookups for the same id always land on the same actor, which is what keeps
// the single-writer invariant intact in a single-process deployment.
type Registry struct {
	store       core.SnapshotStore
	idleTimeout time.Duration
	tune        Tuning

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool

	janitorStop chan struct{}
	janitorDone chan struct{}
}

// NewRegistry creates a registry backed by the given snapshot store. Rooms
// with zero sessions are persisted and evicted after idleTimeout.
func NewRegistry(store core.SnapshotStore, idleTimeout time.Duration) *Registry {
	return NewRegistryWithTuning(store, idleTimeout, Tuning{})
}

// NewRegistryWithTuning creates a registry whose rooms use the given
// transport tuning. Zero tuning fields keep their defaults.
func NewRegistryWithTuning(store core.SnapshotStore, idleTimeout time.Duration, tune Tuning) *Registry {
	g := &Registry{
		store:       store,
		idleTimeout: idleTimeout,
		tune:        tune.withDefaults(),
		rooms:       make(map[string]*Room),
		janitorStop: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}
	go g.janitor()
	return g
}

// GetOrCreate resolves the actor for a room id, creating it on first access.
// A previously evicted room is reconstructed from its persisted snapshot.
func (g *Registry) GetOrCreate(ctx context.Context, roomID string) (*Room, error) {
	if err := ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrRegistryClosed
	}
	if room, ok := g.rooms[roomID]; ok {
		return room, nil
	}

	doc := core.NewDocument()
	snap, err := g.store.GetSnapshot(ctx, roomID)
	switch {
	case err == nil:
		doc = core.DocumentFromSnapshot(snap)
		logrus.WithFields(logrus.Fields{
			"room":    roomID,
			"version": snap.Version,
		}).Info("Room reconstructed from snapshot")
	case errors.Is(err, core.ErrNotFound):
		logrus.WithField("room", roomID).Info("Room created")
	default:
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}

	room := newRoom(roomID, g.store, doc, g.tune)
	g.rooms[roomID] = room
	go room.run()
	return room, nil
}

// Len reports the number of live room actors.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// janitor periodically evicts idle rooms and retries failed persists.
func (g *Registry) janitor() {
	defer close(g.janitorDone)

	interval := g.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.janitorStop:
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

func (g *Registry) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := time.Now().Add(-g.idleTimeout)
	for id, room := range g.rooms {
		if room.nsessions.Load() > 0 {
			room.post(flushCmd{})
			continue
		}
		if room.idleSince().After(cutoff) {
			continue
		}
		// The stop can lose a race with a join already in the mailbox; the
		// room refuses and stays live.
		reply := make(chan bool, 1)
		room.post(stopCmd{reply: reply})
		select {
		case stopped := <-reply:
			if stopped {
				delete(g.rooms, id)
				logrus.WithField("room", id).Info("Idle room evicted")
			}
		case <-room.stopped:
			delete(g.rooms, id)
		}
	}
}

// Close stops the janitor and shuts every room down, persisting final
// snapshots. Rooms with live sessions are skipped; callers shut the HTTP
// server down first so none remain.
func (g *Registry) Close() {
	close(g.janitorStop)
	<-g.janitorDone

	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for id, room := range g.rooms {
		reply := make(chan bool, 1)
		room.post(stopCmd{reply: reply})
		select {
		case stopped := <-reply:
			if stopped {
				delete(g.rooms, id)
			}
		case <-room.stopped:
			delete(g.rooms, id)
		}
	}
}
