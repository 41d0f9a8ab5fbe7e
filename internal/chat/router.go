package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/tidechat/tide/internal/ai"
	"github.com/tidechat/tide/internal/protocol"
	"github.com/tidechat/tide/internal/storage"
)

// MessageRouter validates and dispatches room broadcasts and private
// messages. Room messages are durable: nothing is broadcast before the
// store acknowledges the append.
type MessageRouter struct {
	sessions  *SessionRegistry
	hub       *Hub
	typing    *TypingCoordinator
	store     storage.Store
	responder ai.Responder
	log       zerolog.Logger

	botName      string
	aiDelay      time.Duration
	historyLimit int

	mu        sync.Mutex
	roomLocks map[string]*sync.Mutex
}

// NewMessageRouter wires the router over its collaborators.
func NewMessageRouter(
	sessions *SessionRegistry,
	hub *Hub,
	typing *TypingCoordinator,
	store storage.Store,
	responder ai.Responder,
	botName string,
	aiDelay time.Duration,
	historyLimit int,
	log zerolog.Logger,
) *MessageRouter {
	return &MessageRouter{
		sessions:     sessions,
		hub:          hub,
		typing:       typing,
		store:        store,
		responder:    responder,
		botName:      botName,
		aiDelay:      aiDelay,
		historyLimit: historyLimit,
		log:          log,
		roomLocks:    make(map[string]*sync.Mutex),
	}
}

func newMessageID() string {
	return ulid.Make().String()
}

// sendLock returns the room's send lock. Holding it across the
// persist+broadcast pair keeps delivery order within a room identical
// to the order the store acknowledged the appends. It is not a registry
// lock; registries stay free while the store call is in flight.
func (r *MessageRouter) sendLock(room string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.roomLocks[room]
	if !ok {
		lock = &sync.Mutex{}
		r.roomLocks[room] = lock
	}
	return lock
}

// SendRoomMessage persists a text message and fans it out to every
// session in the sender's room, the sender included. The returned ack
// goes to the sender only. A sender with no current room gets a failed
// ack rather than a silent drop.
func (r *MessageRouter) SendRoomMessage(ctx context.Context, sessionID string, req protocol.SendMessage) protocol.Ack {
	session, err := r.sessions.Get(sessionID)
	if err != nil {
		return protocol.Ack{Success: false, Error: ErrUnknownSession.Error()}
	}
	room, err := r.sessions.RoomOf(sessionID)
	if err != nil || room == "" {
		return protocol.Ack{Success: false, Error: ErrNotInRoom.Error(), ClientMessageID: req.ClientMessageID}
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return protocol.Ack{Success: false, Error: "message empty", ClientMessageID: req.ClientMessageID}
	}

	// Sending implies the sender stopped typing.
	r.typing.Stop(sessionID)

	lock := r.sendLock(room)
	lock.Lock()
	msg := storage.Message{
		ID:        newMessageID(),
		Room:      room,
		From:      session.Identity.Username,
		Body:      body,
		Kind:      protocol.KindText,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.AppendMessage(ctx, &msg); err != nil {
		lock.Unlock()
		r.log.Error().Err(err).Str("room", room).Str("user", msg.From).Msg("message append failed")
		return protocol.Ack{Success: false, Error: "message not stored", ClientMessageID: req.ClientMessageID}
	}
	r.hub.Broadcast(room, NewEvent(protocol.EventMessage, room, toChatMessage(msg)))
	lock.Unlock()

	r.log.Debug().Str("id", msg.ID).Str("room", room).Str("user", msg.From).Int("len", len(body)).Msg("message routed")

	if r.mentionsBot(body) {
		go r.botReply(room, body)
	}

	return protocol.Ack{Success: true, MessageID: msg.ID, ClientMessageID: req.ClientMessageID}
}

// SendFileMessage follows the same persist-then-broadcast contract
// with kind=file. There is no acknowledgment callback for files.
func (r *MessageRouter) SendFileMessage(ctx context.Context, sessionID string, req protocol.SendFile) error {
	session, err := r.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	room, err := r.sessions.RoomOf(sessionID)
	if err != nil || room == "" {
		return ErrNotInRoom
	}
	if strings.TrimSpace(req.FileRef) == "" {
		return protocol.ErrEmptyPayload
	}

	lock := r.sendLock(room)
	lock.Lock()
	defer lock.Unlock()
	msg := storage.Message{
		ID:        newMessageID(),
		Room:      room,
		From:      session.Identity.Username,
		Body:      strings.TrimSpace(req.Filename),
		Kind:      protocol.KindFile,
		FileRef:   req.FileRef,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.AppendMessage(ctx, &msg); err != nil {
		r.log.Error().Err(err).Str("room", room).Msg("file message append failed")
		return err
	}
	r.hub.Broadcast(room, NewEvent(protocol.EventMessage, room, toChatMessage(msg)))
	return nil
}

// SendPrivateMessage delivers to the recipient's active session and
// echoes to the sender so it can render the server-confirmed copy.
// Private messages are never persisted and never reach a third party.
func (r *MessageRouter) SendPrivateMessage(sessionID string, req protocol.PrivateSend) protocol.Ack {
	session, err := r.sessions.Get(sessionID)
	if err != nil {
		return protocol.Ack{Success: false, Error: ErrUnknownSession.Error()}
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return protocol.Ack{Success: false, Error: "message empty"}
	}
	recipient, err := r.sessions.ByIdentity(req.To)
	if err != nil {
		return protocol.Ack{Success: false, Error: ErrRecipientOffline.Error()}
	}

	message := protocol.ChatMessage{
		ID:        newMessageID(),
		From:      session.Identity.Username,
		To:        req.To,
		Body:      body,
		Kind:      protocol.KindText,
		CreatedAt: time.Now().UTC(),
	}
	env := NewEvent(protocol.EventPrivateRecv, "", message)
	r.hub.Unicast(recipient.ID, env)
	r.hub.Unicast(sessionID, env)
	return protocol.Ack{Success: true, MessageID: message.ID}
}

// LoadOlder pages backwards through the room's durable history.
func (r *MessageRouter) LoadOlder(ctx context.Context, req protocol.LoadOlder) (protocol.OlderMessages, error) {
	limit := req.Limit
	if limit <= 0 || limit > r.historyLimit {
		limit = r.historyLimit
	}
	var before time.Time
	if req.Before > 0 {
		before = time.UnixMilli(req.Before).UTC()
	}

	// Fetch one extra row to learn whether more pages remain.
	stored, err := r.store.ListRoomMessages(ctx, req.Room, before, limit+1)
	if err != nil {
		return protocol.OlderMessages{}, err
	}
	hasMore := len(stored) > limit
	if hasMore {
		stored = stored[:limit]
	}
	messages := make([]protocol.ChatMessage, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		messages = append(messages, toChatMessage(stored[i]))
	}
	return protocol.OlderMessages{Room: req.Room, Messages: messages, HasMore: hasMore}, nil
}

func (r *MessageRouter) mentionsBot(body string) bool {
	return strings.HasPrefix(strings.ToLower(body), "@"+strings.ToLower(r.botName))
}

// botReply generates and posts the bot's reply after a fixed delay so
// the triggering message is visibly first. The triggering broadcast
// has already happened; a generation failure degrades to the fallback
// text, and a store failure means no broadcast at all.
func (r *MessageRouter) botReply(room, prompt string) {
	time.Sleep(r.aiDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recent := r.recentBodies(ctx, room)
	reply := ai.GenerateOrFallback(ctx, r.responder, prompt, recent)

	lock := r.sendLock(room)
	lock.Lock()
	defer lock.Unlock()
	msg := storage.Message{
		ID:        newMessageID(),
		Room:      room,
		From:      r.botName,
		Body:      reply,
		Kind:      protocol.KindAI,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.AppendMessage(ctx, &msg); err != nil {
		r.log.Error().Err(err).Str("room", room).Msg("bot reply append failed")
		return
	}
	r.hub.Broadcast(room, NewEvent(protocol.EventMessage, room, toChatMessage(msg)))
}

func (r *MessageRouter) recentBodies(ctx context.Context, room string) []string {
	stored, err := r.store.ListRoomMessages(ctx, room, time.Time{}, 10)
	if err != nil {
		r.log.Warn().Err(err).Str("room", room).Msg("recent context unavailable")
		return nil
	}
	bodies := make([]string, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		bodies = append(bodies, stored[i].From+": "+stored[i].Body)
	}
	return bodies
}
