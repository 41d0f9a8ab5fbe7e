package chat

import (
	"sync"
	"time"

	"github.com/tidechat/tide/internal/protocol"
)

type typingEntry struct {
	room     string
	username string
	timer    *time.Timer
}

// TypingCoordinator tracks ephemeral per-room typing state. Every
// entry carries a cancellable deadline timer; expiry behaves exactly
// like an explicit stop from the receivers' perspective.
type TypingCoordinator struct {
	sessions *SessionRegistry
	hub      *Hub
	window   time.Duration

	mu     sync.Mutex
	active map[string]*typingEntry // keyed by session ID
}

// NewTypingCoordinator builds a coordinator with the given deadline
// window.
func NewTypingCoordinator(sessions *SessionRegistry, hub *Hub, window time.Duration) *TypingCoordinator {
	return &TypingCoordinator{
		sessions: sessions,
		hub:      hub,
		window:   window,
		active:   make(map[string]*typingEntry),
	}
}

// Start marks the session's identity as typing in its current room.
// A redundant start refreshes the deadline without re-emitting.
func (t *TypingCoordinator) Start(sessionID string) error {
	session, err := t.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	room, err := t.sessions.RoomOf(sessionID)
	if err != nil {
		return err
	}
	if room == "" {
		return ErrNotInRoom
	}

	t.mu.Lock()
	if entry, ok := t.active[sessionID]; ok && entry.room == room {
		entry.timer.Reset(t.window)
		t.mu.Unlock()
		return nil
	}
	// A stale entry for a previous room stops there first.
	if entry, ok := t.active[sessionID]; ok {
		t.expireLocked(sessionID, entry)
	}
	entry := &typingEntry{room: room, username: session.Identity.Username}
	entry.timer = time.AfterFunc(t.window, func() { t.expire(sessionID, entry) })
	t.active[sessionID] = entry
	t.mu.Unlock()

	t.hub.BroadcastExcept(room, sessionID, NewEvent(protocol.EventTypingStarted, room, protocol.Typing{
		Room:     room,
		Username: entry.username,
	}))
	return nil
}

// Stop clears the session's typing state explicitly, e.g. on send.
func (t *TypingCoordinator) Stop(sessionID string) {
	t.mu.Lock()
	entry, ok := t.active[sessionID]
	if ok {
		entry.timer.Stop()
		delete(t.active, sessionID)
	}
	t.mu.Unlock()
	if ok {
		t.broadcastStopped(sessionID, entry)
	}
}

// ClearOnDisconnect behaves like Stop and is invoked by the lifecycle
// controller before the session is removed, so the stop broadcast goes
// out within disconnect handling rather than at the original deadline.
func (t *TypingCoordinator) ClearOnDisconnect(sessionID string) {
	t.Stop(sessionID)
}

// expire fires from the deadline timer. The entry identity check
// guards against a timer that lost a race with Stop or Start.
func (t *TypingCoordinator) expire(sessionID string, entry *typingEntry) {
	t.mu.Lock()
	current, ok := t.active[sessionID]
	if !ok || current != entry {
		t.mu.Unlock()
		return
	}
	delete(t.active, sessionID)
	t.mu.Unlock()
	t.broadcastStopped(sessionID, entry)
}

// expireLocked removes an entry while t.mu is held; the stopped event
// still goes out to the entry's room.
func (t *TypingCoordinator) expireLocked(sessionID string, entry *typingEntry) {
	entry.timer.Stop()
	delete(t.active, sessionID)
	go t.broadcastStopped(sessionID, entry)
}

func (t *TypingCoordinator) broadcastStopped(sessionID string, entry *typingEntry) {
	t.hub.BroadcastExcept(entry.room, sessionID, NewEvent(protocol.EventTypingStopped, entry.room, protocol.Typing{
		Room:     entry.room,
		Username: entry.username,
	}))
}

// TypingIn snapshots the identities currently typing in a room.
func (t *TypingCoordinator) TypingIn(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var users []string
	for _, entry := range t.active {
		if entry.room == room {
			users = append(users, entry.username)
		}
	}
	return users
}
