package chat

import (
	"sort"
	"sync"
	"time"
)

type roomEntry struct {
	createdAt time.Time
	members   int
}

// RoomRegistry tracks room existence and member counts. Rooms persist
// for the process lifetime; there is no deletion.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

// NewRoomRegistry initializes a registry, pre-seeding the given rooms.
func NewRoomRegistry(seed ...string) *RoomRegistry {
	r := &RoomRegistry{rooms: make(map[string]*roomEntry)}
	for _, name := range seed {
		r.rooms[name] = &roomEntry{createdAt: time.Now().UTC()}
	}
	return r
}

// EnsureExists creates the room if absent. It reports whether a new
// room was created and is a no-op otherwise.
func (r *RoomRegistry) EnsureExists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[name]; ok {
		return false
	}
	r.rooms[name] = &roomEntry{createdAt: time.Now().UTC()}
	return true
}

// Exists reports whether the room is known.
func (r *RoomRegistry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[name]
	return ok
}

// IncrementMembers adds one to the room's member count.
func (r *RoomRegistry) IncrementMembers(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[name]
	if !ok {
		return ErrUnknownRoom
	}
	entry.members++
	return nil
}

// DecrementMembers subtracts one from the room's member count,
// clamping at zero.
func (r *RoomRegistry) DecrementMembers(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[name]
	if !ok {
		return ErrUnknownRoom
	}
	if entry.members > 0 {
		entry.members--
	}
	return nil
}

// SnapshotCounts returns the member count per room.
func (r *RoomRegistry) SnapshotCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int, len(r.rooms))
	for name, entry := range r.rooms {
		counts[name] = entry.members
	}
	return counts
}

// ListRooms returns every known room name, sorted for stable output.
func (r *RoomRegistry) ListRooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
