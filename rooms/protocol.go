package rooms

import (
	"encoding/json"

	"drawsync/core"
)

// Client-to-server message types.
const (
	msgUpdate   = "update"
	msgPresence = "presence"
	msgPing     = "ping"
)

// Server-to-client message types.
const (
	msgInit    = "init"
	msgCatchup = "catchup"
	msgPatch   = "patch"
	msgAck     = "ack"
	msgReject  = "reject"
	msgJoined  = "joined"
	msgLeft    = "left"
	msgPong    = "pong"
)

// clientMessage is the envelope for every frame a client sends on the room
// stream.
type clientMessage struct {
	Type string          `json:"type"`
	Op   *core.Operation `json:"op,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// serverMessage is the envelope for every frame the server sends. Fields are
// populated per message type; unused ones are omitted on the wire.
type serverMessage struct {
	Type      string                     `json:"type"`
	SessionID string                     `json:"sessionId,omitempty"`
	Version   int64                      `json:"version,omitempty"`
	OpID      string                     `json:"opId,omitempty"`
	Reason    string                     `json:"reason,omitempty"`
	Records   map[string]json.RawMessage `json:"records,omitempty"`
	Patches   []core.Patch               `json:"patches,omitempty"`
	Puts      map[string]json.RawMessage `json:"puts,omitempty"`
	Deletes   []string                   `json:"deletes,omitempty"`
	Presence  json.RawMessage            `json:"presence,omitempty"`
	Sessions  []string                   `json:"sessions,omitempty"`
}
