package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/tidechat/tide/internal/protocol"
)

// Hub fans envelopes out to session outboxes. Room scope derives from
// each session's current room, so there is no separate subscription
// map to keep in sync with the registry.
type Hub struct {
	sessions *SessionRegistry
}

// NewHub builds a hub over the session registry.
func NewHub(sessions *SessionRegistry) *Hub {
	return &Hub{sessions: sessions}
}

// NewEvent stamps an outbound envelope with an ID and timestamp.
func NewEvent(eventType protocol.EventType, room string, payload interface{}) protocol.Envelope {
	return protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Room:      room,
		Payload:   payload,
	}
}

// Broadcast delivers the envelope to every session in the room,
// including the sender if present.
func (h *Hub) Broadcast(room string, env protocol.Envelope) {
	for _, session := range h.sessions.SnapshotRoom(room) {
		session.Outbox.Deliver(env)
	}
}

// BroadcastExcept delivers to every session in the room except one.
func (h *Hub) BroadcastExcept(room, exceptSessionID string, env protocol.Envelope) {
	for _, session := range h.sessions.SnapshotRoom(room) {
		if session.ID == exceptSessionID {
			continue
		}
		session.Outbox.Deliver(env)
	}
}

// BroadcastAll delivers to every connected session regardless of room.
func (h *Hub) BroadcastAll(env protocol.Envelope) {
	for _, session := range h.sessions.Snapshot() {
		session.Outbox.Deliver(env)
	}
}

// Unicast delivers to a single session. A gone session is a silent
// no-op, matching the disconnect-tolerance rule for acknowledgments.
func (h *Hub) Unicast(sessionID string, env protocol.Envelope) {
	session, err := h.sessions.Get(sessionID)
	if err != nil {
		return
	}
	session.Outbox.Deliver(env)
}
