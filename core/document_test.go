package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func rec(s string) json.RawMessage {
	return json.RawMessage(s)
}

func TestApply_IncrementsVersion(t *testing.T) {
	doc := NewDocument()

	patch, dup, err := doc.Apply(Operation{
		ID:          "op-1",
		BaseVersion: 0,
		Puts:        map[string]json.RawMessage{"S1": rec(`{"type":"rect"}`)},
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if dup {
		t.Error("Apply() reported duplicate for a fresh operation")
	}
	if patch.Version != 1 {
		t.Errorf("patch version = %d, want 1", patch.Version)
	}
	if doc.Version() != 1 {
		t.Errorf("document version = %d, want 1", doc.Version())
	}

	records := doc.Records()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if string(records["S1"]) != `{"type":"rect"}` {
		t.Errorf("record S1 = %s, want the stored shape", records["S1"])
	}
}

func TestApply_VersionEqualsAcceptedCount(t *testing.T) {
	doc := NewDocument()

	accepted := 0
	for i := 0; i < 20; i++ {
		_, dup, err := doc.Apply(Operation{
			ID:          fmt.Sprintf("op-%d", i),
			BaseVersion: doc.Version(),
			Puts:        map[string]json.RawMessage{fmt.Sprintf("S%d", i): rec(`{}`)},
		})
		if err != nil {
			t.Fatalf("Apply() failed at %d: %v", i, err)
		}
		if !dup {
			accepted++
		}
	}

	if doc.Version() != int64(accepted) {
		t.Errorf("version = %d, want accepted count %d", doc.Version(), accepted)
	}
}

func TestApply_DuplicateNotReapplied(t *testing.T) {
	doc := NewDocument()

	op := Operation{
		ID:          "op-dup",
		BaseVersion: 0,
		Puts:        map[string]json.RawMessage{"S1": rec(`{"v":1}`)},
	}

	first, _, err := doc.Apply(op)
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	second, dup, err := doc.Apply(op)
	if err != nil {
		t.Fatalf("duplicate Apply() failed: %v", err)
	}
	if !dup {
		t.Error("duplicate delivery not detected")
	}
	if second.Version != first.Version {
		t.Errorf("duplicate ack version = %d, want original %d", second.Version, first.Version)
	}
	if doc.Version() != 1 {
		t.Errorf("version = %d after duplicate, want 1", doc.Version())
	}
}

func TestApply_RejectsFutureBase(t *testing.T) {
	doc := NewDocument()

	_, _, err := doc.Apply(Operation{ID: "op-1", BaseVersion: 5})
	if !errors.Is(err, ErrFutureBase) {
		t.Errorf("Apply() error = %v, want ErrFutureBase", err)
	}
	if doc.Version() != 0 {
		t.Errorf("rejected operation mutated version to %d", doc.Version())
	}
}

func TestApply_RejectsStaleBase(t *testing.T) {
	doc := NewDocument()

	// Push enough operations to trim the retained log, then submit against
	// a base version that fell off the tail.
	for i := 0; i < maxLogEntries+10; i++ {
		_, _, err := doc.Apply(Operation{
			ID:          fmt.Sprintf("op-%d", i),
			BaseVersion: doc.Version(),
			Puts:        map[string]json.RawMessage{"S": rec(`{}`)},
		})
		if err != nil {
			t.Fatalf("Apply() failed at %d: %v", i, err)
		}
	}

	_, _, err := doc.Apply(Operation{ID: "op-stale", BaseVersion: 0})
	if !errors.Is(err, ErrStaleBase) {
		t.Errorf("Apply() error = %v, want ErrStaleBase", err)
	}
}

func TestApply_DeleteRemovesRecord(t *testing.T) {
	doc := NewDocument()

	doc.Apply(Operation{ID: "op-1", BaseVersion: 0, Puts: map[string]json.RawMessage{"S1": rec(`{}`)}})
	_, _, err := doc.Apply(Operation{ID: "op-2", BaseVersion: 1, Deletes: []string{"S1"}})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	if len(doc.Records()) != 0 {
		t.Errorf("got %d records after delete, want 0", len(doc.Records()))
	}
	if doc.Version() != 2 {
		t.Errorf("version = %d, want 2", doc.Version())
	}
}

func TestChangesSince_MatchesFullReplay(t *testing.T) {
	doc := NewDocument()

	for i := 0; i < 10; i++ {
		doc.Apply(Operation{
			ID:          fmt.Sprintf("op-%d", i),
			BaseVersion: doc.Version(),
			Puts:        map[string]json.RawMessage{fmt.Sprintf("S%d", i): rec(`{}`)},
		})
	}

	patches, ok := doc.ChangesSince(4)
	if !ok {
		t.Fatal("ChangesSince(4) not reconcilable")
	}
	if len(patches) != 6 {
		t.Fatalf("got %d patches, want 6", len(patches))
	}

	// Replaying the catch-up onto a copy of version 4 must converge to the
	// same state as the authoritative document.
	replayed := make(map[string]json.RawMessage)
	for i := 0; i < 5; i++ {
		replayed[fmt.Sprintf("S%d", i)] = rec(`{}`)
	}
	last := int64(4)
	for _, p := range patches {
		if p.Version != last+1 {
			t.Errorf("patch version %d out of order, want %d", p.Version, last+1)
		}
		last = p.Version
		for id, r := range p.Puts {
			replayed[id] = r
		}
		for _, id := range p.Deletes {
			delete(replayed, id)
		}
	}

	records := doc.Records()
	if len(replayed) != len(records) {
		t.Fatalf("replayed %d records, authoritative has %d", len(replayed), len(records))
	}
	for id := range records {
		if _, ok := replayed[id]; !ok {
			t.Errorf("replayed state missing record %s", id)
		}
	}
}

func TestChangesSince_OutsideLog(t *testing.T) {
	doc := NewDocument()

	if _, ok := doc.ChangesSince(3); ok {
		t.Error("ChangesSince() beyond current version reported ok")
	}

	for i := 0; i < maxLogEntries+5; i++ {
		doc.Apply(Operation{
			ID:          fmt.Sprintf("op-%d", i),
			BaseVersion: doc.Version(),
			Puts:        map[string]json.RawMessage{"S": rec(`{}`)},
		})
	}
	if _, ok := doc.ChangesSince(0); ok {
		t.Error("ChangesSince(0) reported ok after the log trimmed version 1")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	doc := NewDocument()
	doc.Apply(Operation{ID: "op-1", BaseVersion: 0, Puts: map[string]json.RawMessage{"S1": rec(`{"a":1}`)}})
	doc.Apply(Operation{ID: "op-2", BaseVersion: 1, Puts: map[string]json.RawMessage{"S2": rec(`{"b":2}`)}})

	restored := DocumentFromSnapshot(doc.Snapshot("demo"))

	if restored.Version() != doc.Version() {
		t.Errorf("restored version = %d, want %d", restored.Version(), doc.Version())
	}
	if len(restored.Records()) != 2 {
		t.Errorf("restored %d records, want 2", len(restored.Records()))
	}

	// Duplicate detection must survive the round trip.
	patch, dup, err := restored.Apply(Operation{ID: "op-2", BaseVersion: 1})
	if err != nil {
		t.Fatalf("Apply() on restored document failed: %v", err)
	}
	if !dup {
		t.Error("restored document lost duplicate tracking")
	}
	if patch.Version != 2 {
		t.Errorf("duplicate ack version = %d, want 2", patch.Version)
	}
}
