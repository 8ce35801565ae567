package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// maxLogEntries bounds the retained operation tail. Clients further behind
// than this must resync from a full snapshot.
const maxLogEntries = 512

var (
	// ErrStaleBase is returned when an operation references a base version
	// older than the retained operation log can reconcile.
	ErrStaleBase = errors.New("base version too old to reconcile")

	// ErrFutureBase is returned when an operation references a base version
	// the document has not reached yet.
	ErrFutureBase = errors.New("base version ahead of document")
)

type (
	// Operation is an atomic state transition submitted by a client. It is
	// tagged with the version the client observed when it was created and is
	// immutable once accepted.
	Operation struct {
		ID          string                     `json:"id"`
		BaseVersion int64                      `json:"baseVersion"`
		Puts        map[string]json.RawMessage `json:"puts,omitempty"`
		Deletes     []string                   `json:"deletes,omitempty"`
	}

	// Patch is the version-tagged diff produced by applying one accepted
	// operation. Clients replay patches in version order.
	Patch struct {
		Version int64                      `json:"version"`
		Puts    map[string]json.RawMessage `json:"puts,omitempty"`
		Deletes []string                   `json:"deletes,omitempty"`
	}

	// AcceptedOp pairs an operation id with the patch it produced. The
	// retained tail of these supports catch-up and duplicate detection.
	AcceptedOp struct {
		ID    string `json:"id"`
		Patch Patch  `json:"patch"`
	}

	// Document is the authoritative canvas state for one room: an opaque
	// record map plus a monotonically increasing version counter. Records
	// are kept as raw JSON; their internal shape semantics belong to the
	// client-side document model, not the server.
	//
	// Document is not safe for concurrent use. The room actor owns it
	// exclusively and serializes all mutations.
	Document struct {
		version int64
		records map[string]json.RawMessage
		log     []AcceptedOp
		applied map[string]int64 // operation id -> version, for ids still in the log
	}
)

// NewDocument returns an empty document at version zero.
func NewDocument() *Document {
	return &Document{
		records: make(map[string]json.RawMessage),
		applied: make(map[string]int64),
	}
}

// DocumentFromSnapshot reconstructs a document from a persisted snapshot.
func DocumentFromSnapshot(snap *RoomSnapshot) *Document {
	d := NewDocument()
	d.version = snap.Version
	for id, rec := range snap.Records {
		d.records[id] = rec
	}
	for _, op := range snap.Log {
		d.log = append(d.log, op)
		d.applied[op.ID] = op.Patch.Version
	}
	return d
}

// Version returns the current document version. The version equals the
// number of operations accepted since room creation.
func (d *Document) Version() int64 {
	return d.version
}

// minBase is the oldest base version the retained log can still reconcile.
func (d *Document) minBase() int64 {
	return d.version - int64(len(d.log))
}

// Apply validates and applies one operation. On acceptance it increments the
// version by exactly one and returns the resulting patch. If the operation id
// was already accepted (duplicate delivery), the original patch is returned
// with duplicate=true and the state is left untouched.
func (d *Document) Apply(op Operation) (patch Patch, duplicate bool, err error) {
	if v, ok := d.applied[op.ID]; ok {
		for _, a := range d.log {
			if a.Patch.Version == v {
				return a.Patch, true, nil
			}
		}
		// Entry trimmed between bookkeeping updates; treat as applied.
		return Patch{Version: v}, true, nil
	}

	if op.BaseVersion > d.version {
		return Patch{}, false, fmt.Errorf("operation %s: base %d, current %d: %w", op.ID, op.BaseVersion, d.version, ErrFutureBase)
	}
	if op.BaseVersion < d.minBase() {
		return Patch{}, false, fmt.Errorf("operation %s: base %d, oldest reconcilable %d: %w", op.ID, op.BaseVersion, d.minBase(), ErrStaleBase)
	}

	// Last writer wins on each record. The actor guarantees total order of
	// application; record-level conflict semantics stay with the client model.
	for id, rec := range op.Puts {
		d.records[id] = rec
	}
	for _, id := range op.Deletes {
		delete(d.records, id)
	}

	d.version++
	patch = Patch{
		Version: d.version,
		Puts:    op.Puts,
		Deletes: op.Deletes,
	}

	d.log = append(d.log, AcceptedOp{ID: op.ID, Patch: patch})
	d.applied[op.ID] = d.version
	if len(d.log) > maxLogEntries {
		trimmed := d.log[0]
		d.log = d.log[1:]
		delete(d.applied, trimmed.ID)
	}

	return patch, false, nil
}

// ChangesSince returns the patches accepted after version since, in version
// order. ok is false when since is outside the retained log and the caller
// must fall back to a full snapshot.
func (d *Document) ChangesSince(since int64) (patches []Patch, ok bool) {
	if since > d.version || since < d.minBase() {
		return nil, false
	}
	patches = make([]Patch, 0, d.version-since)
	for _, a := range d.log {
		if a.Patch.Version > since {
			patches = append(patches, a.Patch)
		}
	}
	return patches, true
}

// Records returns a copy of the current record map, suitable for an initial
// sync payload.
func (d *Document) Records() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(d.records))
	for id, rec := range d.records {
		out[id] = rec
	}
	return out
}

// Snapshot captures the full document state for persistence.
func (d *Document) Snapshot(roomID string) *RoomSnapshot {
	snap := &RoomSnapshot{
		RoomID:  roomID,
		Version: d.version,
		Records: d.Records(),
		Log:     make([]AcceptedOp, len(d.log)),
	}
	copy(snap.Log, d.log)
	return snap
}
