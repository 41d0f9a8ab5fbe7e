package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidechat/tide/internal/ai"
	"github.com/tidechat/tide/internal/auth"
	"github.com/tidechat/tide/internal/chat"
	"github.com/tidechat/tide/internal/config"
	"github.com/tidechat/tide/internal/protocol"
	"github.com/tidechat/tide/internal/storage"
)

// stubStore satisfies storage.Store for handshake tests that never
// touch persistence.
type stubStore struct{}

func (stubStore) Close() error                                          { return nil }
func (stubStore) Migrate(context.Context) error                         { return nil }
func (stubStore) CreateUser(context.Context, *storage.User) error       { return nil }
func (stubStore) AppendMessage(context.Context, *storage.Message) error { return nil }
func (stubStore) UpsertReadReceipt(context.Context, storage.ReadReceipt) error {
	return nil
}

func (stubStore) GetUserByUsername(context.Context, string) (*storage.User, error) {
	return nil, storage.ErrNotFound
}

func (stubStore) ListRoomMessages(context.Context, string, time.Time, int) ([]storage.Message, error) {
	return nil, nil
}

func (stubStore) ListReadReceipts(context.Context, string) ([]storage.ReadReceipt, error) {
	return nil, nil
}

// scriptConn feeds a scripted sequence of envelopes to the handshake.
type scriptConn struct {
	in chan protocol.Envelope
}

func newScriptConn(envs ...protocol.Envelope) *scriptConn {
	in := make(chan protocol.Envelope, len(envs))
	for _, env := range envs {
		in <- env
	}
	close(in)
	return &scriptConn{in: in}
}

func (c *scriptConn) ReadEnvelope(ctx context.Context) (protocol.Envelope, error) {
	select {
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	case env, ok := <-c.in:
		if !ok {
			return protocol.Envelope{}, io.EOF
		}
		return env, nil
	}
}

func (c *scriptConn) WriteEnvelope(context.Context, protocol.Envelope) error { return nil }
func (c *scriptConn) Close() error                                          { return nil }
func (c *scriptConn) RemoteAddr() string                                    { return "script" }

func testJWT() config.JWTConfig {
	return config.JWTConfig{Secret: "test-secret", Issuer: "tide-test", Expiration: time.Hour}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.ServerConfig{JWT: testJWT(), SeedRooms: []string{"general"}}
	core := chat.NewCore(chat.Config{
		Store:     stubStore{},
		Responder: ai.Canned{},
		Logger:    zerolog.Nop(),
		SeedRooms: cfg.SeedRooms,
	})
	return NewServer(cfg, core, stubStore{}, auth.NewVerifier(cfg.JWT), zerolog.Nop())
}

func newTestConnection(fc frameConn) *connection {
	return &connection{id: uuid.NewString(), fc: fc, outbox: newOutbox()}
}

// drainOutbox collects whatever is currently queued for the socket.
func drainOutbox(o *outbox) []protocol.Envelope {
	var envs []protocol.Envelope
	for {
		select {
		case env := <-o.ch:
			envs = append(envs, env)
		default:
			return envs
		}
	}
}

func TestHandshakeAcceptsValidToken(t *testing.T) {
	server := newTestServer(t)

	token, err := auth.NewToken(testJWT(), auth.Identity{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	conn := newTestConnection(newScriptConn(protocol.Envelope{
		ID:      "e1",
		Type:    protocol.EventAuth,
		Payload: protocol.AuthRequest{Token: token},
	}))
	require.True(t, server.handshake(context.Background(), conn))
	require.NotNil(t, conn.session)
	assert.Equal(t, "alice", conn.session.Identity.Username)

	// Connect pushes room-list and user-list ahead of the auth-ok.
	var types []protocol.EventType
	for _, env := range drainOutbox(conn.outbox) {
		types = append(types, env.Type)
	}
	assert.Contains(t, types, protocol.EventRoomList)
	assert.Contains(t, types, protocol.EventUserList)
	assert.Equal(t, protocol.EventAuthOK, types[len(types)-1])
}

func TestHandshakeGuest(t *testing.T) {
	server := newTestServer(t)

	conn := newTestConnection(newScriptConn(protocol.Envelope{
		ID:      "e1",
		Type:    protocol.EventAuth,
		Payload: protocol.AuthRequest{Guest: true},
	}))
	require.True(t, server.handshake(context.Background(), conn))
	require.NotNil(t, conn.session)
	assert.True(t, conn.session.Identity.Guest)
	assert.NotEmpty(t, conn.session.Identity.Username, "guests get a generated name")
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	server := newTestServer(t)

	conn := newTestConnection(newScriptConn(protocol.Envelope{
		ID:      "e1",
		Type:    protocol.EventAuth,
		Payload: protocol.AuthRequest{Token: "not-a-token"},
	}))
	assert.False(t, server.handshake(context.Background(), conn))
	assert.Nil(t, conn.session)

	envs := drainOutbox(conn.outbox)
	require.Len(t, envs, 1)
	var ack protocol.Ack
	require.NoError(t, protocol.DecodePayload(envs[0].Payload, &ack))
	assert.False(t, ack.Success)
	assert.Equal(t, "e1", ack.ReferenceID)
}

func TestHandshakeRejectsEventsBeforeAuth(t *testing.T) {
	server := newTestServer(t)

	conn := newTestConnection(newScriptConn(protocol.Envelope{
		ID:      "e1",
		Type:    protocol.EventSendMessage,
		Payload: protocol.SendMessage{Body: "hi"},
	}))
	assert.False(t, server.handshake(context.Background(), conn))

	envs := drainOutbox(conn.outbox)
	require.Len(t, envs, 1)
	var ack protocol.Ack
	require.NoError(t, protocol.DecodePayload(envs[0].Payload, &ack))
	assert.False(t, ack.Success)
	assert.Equal(t, "authenticate first", ack.Error)
}

func TestOutboxDropsWhenFull(t *testing.T) {
	o := newOutbox()
	defer o.close()

	// No writer is draining; deliveries beyond the buffer must not block.
	for i := 0; i < cap(o.ch)+16; i++ {
		o.deliver(protocol.Envelope{ID: "x"})
	}
	assert.Len(t, o.ch, cap(o.ch))
}

func TestOutboxDeliverAfterClose(t *testing.T) {
	o := newOutbox()
	o.close()
	o.deliver(protocol.Envelope{ID: "x"})
	assert.Empty(t, o.ch)
}

func TestOutboxWriteLoopStopsOnWriteError(t *testing.T) {
	o := newOutbox()
	defer o.close()

	fc := &failingWriteConn{}
	done := make(chan struct{})
	go func() {
		o.writeLoop(context.Background(), fc, time.Second)
		close(done)
	}()

	o.deliver(protocol.Envelope{ID: "x"})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write loop did not stop after a write error")
	}
}

// blockedReadConn reads a scripted envelope, then blocks until Close.
// Every write fails.
type blockedReadConn struct {
	reads     chan protocol.Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func newBlockedReadConn(envs ...protocol.Envelope) *blockedReadConn {
	reads := make(chan protocol.Envelope, len(envs))
	for _, env := range envs {
		reads <- env
	}
	return &blockedReadConn{reads: reads, closed: make(chan struct{})}
}

func (c *blockedReadConn) ReadEnvelope(ctx context.Context) (protocol.Envelope, error) {
	select {
	case env := <-c.reads:
		return env, nil
	case <-c.closed:
		return protocol.Envelope{}, io.EOF
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

func (c *blockedReadConn) WriteEnvelope(context.Context, protocol.Envelope) error {
	return errors.New("broken pipe")
}

func (c *blockedReadConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *blockedReadConn) RemoteAddr() string { return "blocked" }

func TestWriterFailureTearsDownConnection(t *testing.T) {
	server := newTestServer(t)

	conn := newBlockedReadConn(protocol.Envelope{
		ID:      "e1",
		Type:    protocol.EventAuth,
		Payload: protocol.AuthRequest{Guest: true},
	})

	done := make(chan struct{})
	go func() {
		server.handleConn(context.Background(), conn)
		close(done)
	}()

	// The writer dies on the first queued envelope; the blocked reader
	// must be torn down with it rather than waiting out a deadline.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not torn down after writer failure")
	}
}

type failingWriteConn struct{}

func (failingWriteConn) ReadEnvelope(ctx context.Context) (protocol.Envelope, error) {
	<-ctx.Done()
	return protocol.Envelope{}, ctx.Err()
}

func (failingWriteConn) WriteEnvelope(context.Context, protocol.Envelope) error {
	return errors.New("broken pipe")
}

func (failingWriteConn) Close() error       { return nil }
func (failingWriteConn) RemoteAddr() string { return "failing" }
