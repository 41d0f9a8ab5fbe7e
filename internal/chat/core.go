// Package chat implements the real-time coordinator: session and room
// registries, membership, message routing, typing state, reactions,
// read receipts, and presence publishing. Transport and persistence
// live elsewhere; the core consumes an authenticated identity and a
// durable store.
package chat

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/tidechat/tide/internal/ai"
	"github.com/tidechat/tide/internal/auth"
	"github.com/tidechat/tide/internal/storage"
)

// Config collects the core's tunables and collaborators.
type Config struct {
	Store        storage.Store
	Responder    ai.Responder
	Logger       zerolog.Logger
	SeedRooms    []string
	HistoryLimit int
	TypingWindow time.Duration
	AIReplyDelay time.Duration
	BotName      string
}

// Core wires every coordinator component over shared registries.
type Core struct {
	Sessions   *SessionRegistry
	Rooms      *RoomRegistry
	Hub        *Hub
	Presence   *PresencePublisher
	Typing     *TypingCoordinator
	Membership *MembershipCoordinator
	Router     *MessageRouter
	Reactions  *ReactionStore
	Receipts   *ReceiptTracker

	log zerolog.Logger
}

// NewCore builds a coordinator from the given configuration.
func NewCore(cfg Config) *Core {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.TypingWindow <= 0 {
		cfg.TypingWindow = 2 * time.Second
	}
	if cfg.BotName == "" {
		cfg.BotName = "tide-bot"
	}

	sessions := NewSessionRegistry()
	rooms := NewRoomRegistry(cfg.SeedRooms...)
	hub := NewHub(sessions)
	presence := NewPresencePublisher(sessions, rooms, hub)
	typing := NewTypingCoordinator(sessions, hub, cfg.TypingWindow)
	membership := NewMembershipCoordinator(sessions, rooms, hub, presence, typing, cfg.Store, cfg.HistoryLimit, cfg.Logger)
	router := NewMessageRouter(sessions, hub, typing, cfg.Store, cfg.Responder, cfg.BotName, cfg.AIReplyDelay, cfg.HistoryLimit, cfg.Logger)

	return &Core{
		Sessions:   sessions,
		Rooms:      rooms,
		Hub:        hub,
		Presence:   presence,
		Typing:     typing,
		Membership: membership,
		Router:     router,
		Reactions:  NewReactionStore(hub),
		Receipts:   NewReceiptTracker(hub, cfg.Store, cfg.Logger),
		log:        cfg.Logger,
	}
}

// Connect runs the post-authentication half of connection setup: the
// session is created, receives its room list and global user list, and
// everyone else learns the new identity is online before it has picked
// a room.
func (c *Core) Connect(connID string, identity auth.Identity, outbox Outbox) (*Session, error) {
	session, err := c.Sessions.Create(connID, identity, outbox)
	if err != nil {
		return nil, err
	}
	c.Presence.SendRoomList(session.ID)
	c.Presence.SendUserList(session.ID)
	c.Presence.PublishUserList()
	c.log.Info().Str("user", identity.Username).Bool("guest", identity.Guest).Msg("session connected")
	return session, nil
}

// Disconnect tears a session down. Graceful and abrupt disconnects
// take the identical path: typing state clears with a stop broadcast,
// the room is left, the session is removed, and presence snapshots go
// out.
func (c *Core) Disconnect(sessionID string) {
	c.Typing.ClearOnDisconnect(sessionID)
	c.Membership.LeaveOnDisconnect(sessionID)
	session, err := c.Sessions.Remove(sessionID)
	if err != nil {
		return
	}
	c.Presence.PublishUserList()
	c.Presence.PublishRoomCounts()
	c.log.Info().Str("user", session.Identity.Username).Msg("session disconnected")
}
