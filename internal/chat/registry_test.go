package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidechat/tide/internal/auth"
	"github.com/tidechat/tide/internal/protocol"
)

type nopOutbox struct{}

func (nopOutbox) Deliver(protocol.Envelope) {}

func TestSessionRegistryDuplicateConnection(t *testing.T) {
	registry := NewSessionRegistry()

	_, err := registry.Create("conn-1", auth.Identity{Username: "alice"}, nopOutbox{})
	require.NoError(t, err)

	_, err = registry.Create("conn-1", auth.Identity{Username: "alice"}, nopOutbox{})
	assert.ErrorIs(t, err, ErrDuplicateConnection)
}

func TestSessionRegistryRemoveIdempotent(t *testing.T) {
	registry := NewSessionRegistry()
	session, err := registry.Create("conn-1", auth.Identity{Username: "alice"}, nopOutbox{})
	require.NoError(t, err)

	removed, err := registry.Remove(session.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", removed.Identity.Username)

	_, err = registry.Remove(session.ID)
	assert.ErrorIs(t, err, ErrUnknownSession)

	_, err = registry.ByIdentity("alice")
	assert.ErrorIs(t, err, ErrUnknownSession, "reverse index cleared")

	// The connection slot is free again.
	_, err = registry.Create("conn-1", auth.Identity{Username: "alice"}, nopOutbox{})
	assert.NoError(t, err)
}

func TestRemoveRepointsIdentityToSurvivor(t *testing.T) {
	registry := NewSessionRegistry()
	first, err := registry.Create("conn-1", auth.Identity{Username: "alice"}, nopOutbox{})
	require.NoError(t, err)
	second, err := registry.Create("conn-2", auth.Identity{Username: "alice"}, nopOutbox{})
	require.NoError(t, err)

	// While both are connected the newest session holds the index.
	resolved, err := registry.ByIdentity("alice")
	require.NoError(t, err)
	assert.Equal(t, second.ID, resolved.ID)

	_, err = registry.Remove(second.ID)
	require.NoError(t, err)

	// The surviving session stays reachable for private messages.
	resolved, err = registry.ByIdentity("alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, resolved.ID)

	_, err = registry.Remove(first.ID)
	require.NoError(t, err)
	_, err = registry.ByIdentity("alice")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestListIdentitiesInsertionOrder(t *testing.T) {
	registry := NewSessionRegistry()
	for i, name := range []string{"carol", "alice", "bob"} {
		_, err := registry.Create(string(rune('a'+i)), auth.Identity{Username: name}, nopOutbox{})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"carol", "alice", "bob"}, registry.ListIdentities())
}

func TestSetRoomUnknownSession(t *testing.T) {
	registry := NewSessionRegistry()
	assert.ErrorIs(t, registry.SetRoom("missing", "general"), ErrUnknownSession)
}

func TestRoomRegistryEnsureExists(t *testing.T) {
	rooms := NewRoomRegistry("general")

	assert.False(t, rooms.EnsureExists("general"), "seeded room already exists")
	assert.True(t, rooms.EnsureExists("random"))
	assert.False(t, rooms.EnsureExists("random"), "idempotent")
	assert.Equal(t, []string{"general", "random"}, rooms.ListRooms())
}

func TestRoomRegistryCountsClampAtZero(t *testing.T) {
	rooms := NewRoomRegistry("general")

	require.NoError(t, rooms.IncrementMembers("general"))
	require.NoError(t, rooms.DecrementMembers("general"))
	require.NoError(t, rooms.DecrementMembers("general"))
	assert.Equal(t, 0, rooms.SnapshotCounts()["general"])

	assert.ErrorIs(t, rooms.IncrementMembers("missing"), ErrUnknownRoom)
	assert.ErrorIs(t, rooms.DecrementMembers("missing"), ErrUnknownRoom)
}
