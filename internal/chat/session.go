package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidechat/tide/internal/auth"
	"github.com/tidechat/tide/internal/protocol"
)

// Outbox is the core's handle on a connection. Deliver must never
// block: a slow or gone receiver drops the envelope silently.
type Outbox interface {
	Deliver(env protocol.Envelope)
}

// Session binds a live connection to an authenticated identity and a
// current room. Identity is immutable after creation; the current room
// is mutated only through the registry.
type Session struct {
	ID       string
	Identity auth.Identity
	Outbox   Outbox
	JoinedAt time.Time

	// room is guarded by the owning registry's mutex. Read it through
	// RoomOf or SnapshotRoom, never off a retained *Session.
	room string
}

// SessionRegistry maps connections to sessions and keeps a reverse
// index from identity to session for private-message lookup.
type SessionRegistry struct {
	mu         sync.RWMutex
	byID       map[string]*Session
	byConn     map[string]string
	byIdentity map[string]string
	order      []string
}

// NewSessionRegistry initializes an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byID:       make(map[string]*Session),
		byConn:     make(map[string]string),
		byIdentity: make(map[string]string),
	}
}

// Create registers a session for the connection. It fails with
// ErrDuplicateConnection if the connection already has one.
func (r *SessionRegistry) Create(connID string, identity auth.Identity, outbox Outbox) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConn[connID]; ok {
		return nil, ErrDuplicateConnection
	}

	session := &Session{
		ID:       uuid.NewString(),
		Identity: identity,
		Outbox:   outbox,
		JoinedAt: time.Now().UTC(),
	}
	r.byID[session.ID] = session
	r.byConn[connID] = session.ID
	r.byIdentity[identity.Username] = session.ID
	r.order = append(r.order, session.ID)
	return session, nil
}

// Get returns the session by ID.
func (r *SessionRegistry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.byID[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return session, nil
}

// ByIdentity resolves an identity to its active session.
func (r *SessionRegistry) ByIdentity(username string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdentity[username]
	if !ok {
		return nil, ErrUnknownSession
	}
	session, ok := r.byID[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return session, nil
}

// SetRoom updates the session's current room. Empty means unjoined.
func (r *SessionRegistry) SetRoom(sessionID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byID[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	session.room = room
	return nil
}

// Remove deletes the session and both indexes. It is idempotent:
// removing an absent session returns ErrUnknownSession without side
// effects.
func (r *SessionRegistry) Remove(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byID[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	delete(r.byID, sessionID)
	for connID, id := range r.byConn {
		if id == sessionID {
			delete(r.byConn, connID)
			break
		}
	}
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if id, ok := r.byIdentity[session.Identity.Username]; ok && id == sessionID {
		delete(r.byIdentity, session.Identity.Username)
		// Re-point the index to a surviving session with the same
		// identity so private messages still resolve.
		for _, other := range r.order {
			if s, ok := r.byID[other]; ok && s.Identity.Username == session.Identity.Username {
				r.byIdentity[session.Identity.Username] = other
				break
			}
		}
	}
	return session, nil
}

// ListIdentities snapshots connected usernames in insertion order.
func (r *SessionRegistry) ListIdentities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identities := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if session, ok := r.byID[id]; ok {
			identities = append(identities, session.Identity.Username)
		}
	}
	return identities
}

// RoomOf returns the session's current room, "" when unjoined.
func (r *SessionRegistry) RoomOf(sessionID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.byID[sessionID]
	if !ok {
		return "", ErrUnknownSession
	}
	return session.room, nil
}

// SnapshotRoom returns the sessions currently in the room.
func (r *SessionRegistry) SnapshotRoom(room string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sessions []*Session
	for _, id := range r.order {
		if session, ok := r.byID[id]; ok && session.room == room {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

// CountInRoom reports how many sessions currently sit in the room.
func (r *SessionRegistry) CountInRoom(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, session := range r.byID {
		if session.room == room {
			count++
		}
	}
	return count
}

// Snapshot returns every live session.
func (r *SessionRegistry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		if session, ok := r.byID[id]; ok {
			sessions = append(sessions, session)
		}
	}
	return sessions
}
