package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidechat/tide/internal/protocol"
	"github.com/tidechat/tide/internal/storage"
)

// MembershipCoordinator owns join/switch/create/leave transitions. A
// single mutex serializes every membership mutation, so room counts
// and the member events derived from them never interleave.
type MembershipCoordinator struct {
	sessions *SessionRegistry
	rooms    *RoomRegistry
	hub      *Hub
	presence *PresencePublisher
	typing   *TypingCoordinator
	store    storage.Store
	log      zerolog.Logger

	historyLimit int
	mu           sync.Mutex
}

// NewMembershipCoordinator wires the coordinator over its registries
// and the durable store used for history replay.
func NewMembershipCoordinator(
	sessions *SessionRegistry,
	rooms *RoomRegistry,
	hub *Hub,
	presence *PresencePublisher,
	typing *TypingCoordinator,
	store storage.Store,
	historyLimit int,
	log zerolog.Logger,
) *MembershipCoordinator {
	return &MembershipCoordinator{
		sessions:     sessions,
		rooms:        rooms,
		hub:          hub,
		presence:     presence,
		typing:       typing,
		store:        store,
		historyLimit: historyLimit,
		log:          log,
	}
}

// Join moves the session into the room, leaving its previous room if
// it had one. The joining session never sees its own member-joined
// event; it receives the room history instead.
func (m *MembershipCoordinator) Join(ctx context.Context, sessionID, room string) error {
	session, err := m.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if !m.rooms.Exists(room) {
		return ErrUnknownRoom
	}
	username := session.Identity.Username

	m.mu.Lock()
	old, err := m.sessions.RoomOf(sessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if old == room {
		// Rejoining the current room only re-sends history.
		m.mu.Unlock()
		m.replayHistory(ctx, sessionID, room)
		return nil
	}

	if old != "" {
		if err := m.rooms.DecrementMembers(old); err != nil {
			m.log.Warn().Err(err).Str("room", old).Msg("decrement on switch")
		}
	}
	if err := m.rooms.IncrementMembers(room); err != nil {
		// Rooms are never deleted, so this cannot happen after the
		// existence check above.
		if old != "" {
			_ = m.rooms.IncrementMembers(old)
		}
		m.mu.Unlock()
		return err
	}
	if err := m.sessions.SetRoom(sessionID, room); err != nil {
		m.mu.Unlock()
		return err
	}

	if old != "" {
		m.typing.Stop(sessionID)
		m.hub.Broadcast(old, NewEvent(protocol.EventMemberLeft, old, protocol.Membership{
			Room:     old,
			Username: username,
		}))
	}
	m.hub.BroadcastExcept(room, sessionID, NewEvent(protocol.EventMemberJoined, room, protocol.Membership{
		Room:     room,
		Username: username,
	}))
	m.hub.Unicast(sessionID, NewEvent(protocol.EventRoomJoined, room, protocol.JoinRoom{Room: room}))
	m.mu.Unlock()

	m.presence.PublishRoomCounts()
	m.replayHistory(ctx, sessionID, room)

	m.log.Info().Str("user", username).Str("room", room).Str("from", old).Msg("joined room")
	return nil
}

// CreateRoom creates the named room. Creation of an existing name is
// a silent no-op, mirroring idempotent creation.
func (m *MembershipCoordinator) CreateRoom(sessionID, room string) error {
	session, err := m.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if !m.rooms.EnsureExists(room) {
		return nil
	}

	m.hub.BroadcastAll(NewEvent(protocol.EventRoomCreated, room, protocol.RoomCreated{
		Room:    room,
		Creator: session.Identity.Username,
	}))
	m.presence.PublishRoomList()
	m.log.Info().Str("user", session.Identity.Username).Str("room", room).Msg("room created")
	return nil
}

// LeaveOnDisconnect runs the leave half of a switch with no new room.
// Invoked by the lifecycle controller before the session is removed.
func (m *MembershipCoordinator) LeaveOnDisconnect(sessionID string) {
	session, err := m.sessions.Get(sessionID)
	if err != nil {
		return
	}

	m.mu.Lock()
	old, err := m.sessions.RoomOf(sessionID)
	if err != nil || old == "" {
		m.mu.Unlock()
		return
	}
	if err := m.rooms.DecrementMembers(old); err != nil {
		m.log.Warn().Err(err).Str("room", old).Msg("decrement on disconnect")
	}
	_ = m.sessions.SetRoom(sessionID, "")
	m.hub.Broadcast(old, NewEvent(protocol.EventMemberLeft, old, protocol.Membership{
		Room:     old,
		Username: session.Identity.Username,
	}))
	m.mu.Unlock()
}

// replayHistory pages the newest messages for the room out of the
// store and unicasts them, oldest first, to the joining session only.
// The registry locks are never held across the store call.
func (m *MembershipCoordinator) replayHistory(ctx context.Context, sessionID, room string) {
	stored, err := m.store.ListRoomMessages(ctx, room, time.Time{}, m.historyLimit)
	if err != nil {
		m.log.Warn().Err(err).Str("room", room).Msg("history replay failed")
		return
	}
	messages := make([]protocol.ChatMessage, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		messages = append(messages, toChatMessage(stored[i]))
	}
	m.hub.Unicast(sessionID, NewEvent(protocol.EventRoomHistory, room, protocol.RoomHistory{
		Room:     room,
		Messages: messages,
	}))
}

func toChatMessage(msg storage.Message) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:        msg.ID,
		Room:      msg.Room,
		From:      msg.From,
		Body:      msg.Body,
		Kind:      msg.Kind,
		FileRef:   msg.FileRef,
		CreatedAt: msg.CreatedAt,
	}
}
