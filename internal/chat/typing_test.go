package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidechat/tide/internal/protocol"
)

func TestTypingBroadcastToOthersOnly(t *testing.T) {
	core := newTestCore(newMockStore())
	a, outA := connect(t, core, "conn-a", "alice")
	b, outB := connect(t, core, "conn-b", "bob")
	join(t, core, a.ID, "general")
	join(t, core, b.ID, "general")

	require.NoError(t, core.Typing.Start(a.ID))

	started := outB.ofType(protocol.EventTypingStarted)
	require.Len(t, started, 1)
	var typing protocol.Typing
	require.NoError(t, protocol.DecodePayload(started[0].Payload, &typing))
	assert.Equal(t, "alice", typing.Username)
	assert.Equal(t, "general", typing.Room)

	assert.Zero(t, outA.countOf(protocol.EventTypingStarted), "typist does not hear itself")
	assert.Equal(t, []string{"alice"}, core.Typing.TypingIn("general"))
}

func TestTypingRequiresRoom(t *testing.T) {
	core := newTestCore(newMockStore())
	a, _ := connect(t, core, "conn-a", "alice")
	assert.ErrorIs(t, core.Typing.Start(a.ID), ErrNotInRoom)
}

func TestRedundantStartRefreshesWithoutReemit(t *testing.T) {
	core := newTestCore(newMockStore())
	a, _ := connect(t, core, "conn-a", "alice")
	b, outB := connect(t, core, "conn-b", "bob")
	join(t, core, a.ID, "general")
	join(t, core, b.ID, "general")

	require.NoError(t, core.Typing.Start(a.ID))
	require.NoError(t, core.Typing.Start(a.ID))
	require.NoError(t, core.Typing.Start(a.ID))

	assert.Equal(t, 1, outB.countOf(protocol.EventTypingStarted))
}

func TestExplicitStopBroadcasts(t *testing.T) {
	core := newTestCore(newMockStore())
	a, _ := connect(t, core, "conn-a", "alice")
	b, outB := connect(t, core, "conn-b", "bob")
	join(t, core, a.ID, "general")
	join(t, core, b.ID, "general")

	require.NoError(t, core.Typing.Start(a.ID))
	core.Typing.Stop(a.ID)

	assert.Equal(t, 1, outB.countOf(protocol.EventTypingStopped))
	assert.Empty(t, core.Typing.TypingIn("general"))

	// A second stop has nothing to clear.
	core.Typing.Stop(a.ID)
	assert.Equal(t, 1, outB.countOf(protocol.EventTypingStopped))
}

func TestDeadlineExpiryMatchesExplicitStop(t *testing.T) {
	core := newTestCore(newMockStore()) // 100ms window
	a, _ := connect(t, core, "conn-a", "alice")
	b, outB := connect(t, core, "conn-b", "bob")
	join(t, core, a.ID, "general")
	join(t, core, b.ID, "general")

	require.NoError(t, core.Typing.Start(a.ID))
	require.Eventually(t, func() bool {
		return outB.countOf(protocol.EventTypingStopped) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, core.Typing.TypingIn("general"))
}

func TestDisconnectClearsTypingBeforeDeadline(t *testing.T) {
	core := newTestCore(newMockStore()) // 100ms window
	a, _ := connect(t, core, "conn-a", "alice")
	b, outB := connect(t, core, "conn-b", "bob")
	join(t, core, a.ID, "general")
	join(t, core, b.ID, "general")

	require.NoError(t, core.Typing.Start(a.ID))
	core.Disconnect(a.ID)

	// The stop goes out within disconnect handling, not at the
	// original deadline.
	assert.Equal(t, 1, outB.countOf(protocol.EventTypingStopped))

	// And the dead timer must not fire a duplicate later.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, outB.countOf(protocol.EventTypingStopped))
}

func TestSendStopsTyping(t *testing.T) {
	core := newTestCore(newMockStore())
	a, _ := connect(t, core, "conn-a", "alice")
	b, outB := connect(t, core, "conn-b", "bob")
	join(t, core, a.ID, "general")
	join(t, core, b.ID, "general")

	require.NoError(t, core.Typing.Start(a.ID))
	core.Router.SendRoomMessage(context.Background(), a.ID, protocol.SendMessage{Body: "done"})

	assert.Equal(t, 1, outB.countOf(protocol.EventTypingStopped))
	assert.Empty(t, core.Typing.TypingIn("general"))
}
