package chat

import "github.com/tidechat/tide/internal/protocol"

// PresencePublisher pushes derived snapshots of who is online and how
// full each room is. It never mutates other components' state.
type PresencePublisher struct {
	sessions *SessionRegistry
	rooms    *RoomRegistry
	hub      *Hub
}

// NewPresencePublisher wires the publisher over the registries.
func NewPresencePublisher(sessions *SessionRegistry, rooms *RoomRegistry, hub *Hub) *PresencePublisher {
	return &PresencePublisher{sessions: sessions, rooms: rooms, hub: hub}
}

// PublishUserList broadcasts the connected identities to everyone.
func (p *PresencePublisher) PublishUserList() {
	p.hub.BroadcastAll(NewEvent(protocol.EventUserList, "", protocol.UserList{
		Users: p.sessions.ListIdentities(),
	}))
}

// PublishRoomCounts broadcasts the member count per room to everyone.
func (p *PresencePublisher) PublishRoomCounts() {
	p.hub.BroadcastAll(NewEvent(protocol.EventRoomCounts, "", protocol.RoomCounts{
		Counts: p.rooms.SnapshotCounts(),
	}))
}

// PublishRoomList broadcasts every known room name to everyone.
func (p *PresencePublisher) PublishRoomList() {
	p.hub.BroadcastAll(NewEvent(protocol.EventRoomList, "", protocol.RoomList{
		Rooms: p.rooms.ListRooms(),
	}))
}

// SendRoomList unicasts the room list to one session.
func (p *PresencePublisher) SendRoomList(sessionID string) {
	p.hub.Unicast(sessionID, NewEvent(protocol.EventRoomList, "", protocol.RoomList{
		Rooms: p.rooms.ListRooms(),
	}))
}

// SendUserList unicasts the connected identities to one session.
func (p *PresencePublisher) SendUserList(sessionID string) {
	p.hub.Unicast(sessionID, NewEvent(protocol.EventUserList, "", protocol.UserList{
		Users: p.sessions.ListIdentities(),
	}))
}
