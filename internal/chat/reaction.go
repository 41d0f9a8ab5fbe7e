package chat

import (
	"sync"

	"github.com/tidechat/tide/internal/protocol"
)

// ReactionStore maps message IDs to emoji reactor sets. Toggling is
// its own inverse: two identical toggles restore the prior state.
type ReactionStore struct {
	hub *Hub

	mu        sync.Mutex
	reactions map[string]map[string][]string // message -> emoji -> reactors
}

// NewReactionStore builds an empty store broadcasting through the hub.
func NewReactionStore(hub *Hub) *ReactionStore {
	return &ReactionStore{
		hub:       hub,
		reactions: make(map[string]map[string][]string),
	}
}

// Toggle adds the reactor under the emoji, or removes it if already
// present. Empty emoji keys are dropped. The full reaction snapshot
// for the message is broadcast to the room and returned.
func (s *ReactionStore) Toggle(messageID, emoji, reactor, room string) map[string][]string {
	s.mu.Lock()
	byEmoji, ok := s.reactions[messageID]
	if !ok {
		byEmoji = make(map[string][]string)
		s.reactions[messageID] = byEmoji
	}

	reactors := byEmoji[emoji]
	removed := false
	for i, name := range reactors {
		if name == reactor {
			reactors = append(reactors[:i], reactors[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		if len(reactors) == 0 {
			delete(byEmoji, emoji)
		} else {
			byEmoji[emoji] = reactors
		}
	} else {
		byEmoji[emoji] = append(reactors, reactor)
	}
	if len(byEmoji) == 0 {
		delete(s.reactions, messageID)
	}
	snapshot := s.snapshotLocked(messageID)
	s.mu.Unlock()

	s.hub.Broadcast(room, NewEvent(protocol.EventReactionUpd, room, protocol.ReactionUpdate{
		MessageID: messageID,
		Reactions: snapshot,
	}))
	return snapshot
}

// Snapshot returns a copy of the reaction map for a message.
func (s *ReactionStore) Snapshot(messageID string) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(messageID)
}

func (s *ReactionStore) snapshotLocked(messageID string) map[string][]string {
	snapshot := make(map[string][]string)
	for emoji, reactors := range s.reactions[messageID] {
		snapshot[emoji] = append([]string(nil), reactors...)
	}
	return snapshot
}
