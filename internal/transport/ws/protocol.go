package ws

import (
	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/pipeline"
	"voicegate-server-go/internal/recognition"
)

// Wire protocol: control messages travel as JSON text frames, call audio
// as binary frames in both directions. A client that cannot interleave
// binary frames may instead send audio inside a JSON frame with a
// base64 payload and an explicit sequence number.
const (
	// Client to server.
	TypeHello     = "hello"
	TypeAudio     = "audio"
	TypeHeartbeat = "heartbeat"
	TypeClose     = "close"

	// Server to client.
	TypeAck          = "ack"
	TypeHeartbeatAck = "heartbeat_ack"
	TypePartial      = "partial"
	TypeFinal        = "final"
	TypeStatus       = "status"
	TypeTurn         = "turn"
	TypeError        = "error"
	TypeClosed       = "closed"
)

// Inbound is the envelope for client text frames.
type Inbound struct {
	Type string `json:"type"`

	// Hello fields. CallID is optional; the server assigns one when it
	// is empty. Reconnect resumes a detached session instead of
	// creating a new call.
	CallID    string        `json:"call_id,omitempty"`
	Reconnect bool          `json:"reconnect,omitempty"`
	Format    *audio.Format `json:"format,omitempty"`

	// Audio fields. Data is base64 under JSON encoding rules.
	// Timestamp is unix milliseconds of capture time.
	Sequence  uint64 `json:"sequence,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Data      []byte `json:"data,omitempty"`

	// Close fields.
	Reason string `json:"reason,omitempty"`
}

// Outbound is the envelope for server text frames. Synthesized reply
// audio is sent as raw binary frames, not through this envelope.
type Outbound struct {
	Type       string                  `json:"type"`
	CallID     string                  `json:"call_id,omitempty"`
	State      string                  `json:"state,omitempty"`
	Transcript *recognition.Transcript `json:"transcript,omitempty"`
	Status     string                  `json:"status,omitempty"`
	QueueDepth int                     `json:"queue_depth,omitempty"`
	Turn       *pipeline.TurnReport    `json:"turn,omitempty"`
	Kind       string                  `json:"kind,omitempty"`
	Message    string                  `json:"message,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
}
