package rooms

import (
	"testing"
	"time"

	"drawsync/core"
	"drawsync/stores/memory"
)

func TestEnqueueQueueFullBehavior(t *testing.T) {
	tune := Tuning{QueueSize: 2, DrainWait: 100 * time.Millisecond}
	room := newRoom("q", memory.NewStore(), core.NewDocument(), tune)
	sess := newSession("S", room, nil)

	for i := 0; i < 2; i++ {
		if !sess.enqueue(serverMessage{Type: msgPatch, Version: int64(i + 1)}, false) {
			t.Fatalf("enqueue %d reported failure with queue space available", i)
		}
	}

	// Best-effort traffic is dropped on a full queue, never treated as slow
	// consumption.
	if !sess.enqueue(serverMessage{Type: msgPresence}, true) {
		t.Error("best-effort enqueue reported failure on a full queue")
	}
	if len(sess.send) != 2 {
		t.Fatalf("queue holds %d frames, want 2", len(sess.send))
	}

	// Ordered traffic gets a grace window: a queue that drains within it is
	// not a slow consumer.
	go func() {
		time.Sleep(20 * time.Millisecond)
		<-sess.send
	}()
	if !sess.enqueue(serverMessage{Type: msgPatch, Version: 3}, false) {
		t.Error("ordered enqueue failed despite the queue draining in time")
	}

	// With nobody draining, the window elapses and the session is reported
	// slow so the room can disconnect it.
	start := time.Now()
	if sess.enqueue(serverMessage{Type: msgPatch, Version: 4}, false) {
		t.Error("ordered enqueue succeeded on a stuck queue")
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("slow-consumer verdict arrived before the grace window elapsed")
	}
}
