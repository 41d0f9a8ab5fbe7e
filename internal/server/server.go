// Package server owns the transport endpoints and the connection
// lifecycle: authentication handshake, session construction, event
// dispatch, and teardown. The same envelope vocabulary is spoken over
// the length-prefixed TCP framing and the WebSocket endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tidechat/tide/internal/auth"
	"github.com/tidechat/tide/internal/chat"
	"github.com/tidechat/tide/internal/config"
	"github.com/tidechat/tide/internal/protocol"
	"github.com/tidechat/tide/internal/storage"
)

// frameConn abstracts one framed bidirectional connection.
type frameConn interface {
	ReadEnvelope(ctx context.Context) (protocol.Envelope, error)
	WriteEnvelope(ctx context.Context, env protocol.Envelope) error
	Close() error
	RemoteAddr() string
}

// Server accepts connections and drives the per-connection lifecycle
// state machine: Connecting, Authenticated, Unjoined/InRoom, then
// Disconnected.
type Server struct {
	cfg      config.ServerConfig
	core     *chat.Core
	store    storage.Store
	verifier auth.Verifier
	log      zerolog.Logger

	listener  net.Listener
	closeOnce sync.Once
	startedAt time.Time
}

// NewServer constructs a server instance using the provided dependencies.
func NewServer(cfg config.ServerConfig, core *chat.Core, store storage.Store, verifier auth.Verifier, log zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		core:      core,
		store:     store,
		verifier:  verifier,
		log:       log,
		startedAt: time.Now(),
	}
}

// RunTCP accepts TCP connections until the context is canceled.
func (s *Server) RunTCP(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("tcp listener up")

	errCh := make(chan error, 1)

	go func() {
		<-ctx.Done()
		s.closeOnce.Do(func() {
			_ = s.listener.Close()
		})
	}()

	go func() {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					errCh <- nil
					return
				}
				errCh <- err
				return
			}
			go s.handleConn(ctx, newTCPConn(conn, s.cfg))
		}
	}()

	return <-errCh
}

// connection carries the per-connection state the dispatch loop needs.
type connection struct {
	id      string
	fc      frameConn
	outbox  *outbox
	session *chat.Session
}

// handleConn runs one connection from handshake to teardown. Both
// graceful and abrupt disconnects converge on the deferred cleanup.
func (s *Server) handleConn(parentCtx context.Context, fc frameConn) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	conn := &connection{
		id:     uuid.NewString(),
		fc:     fc,
		outbox: newOutbox(),
	}

	var writers sync.WaitGroup
	writers.Add(1)
	go func() {
		defer writers.Done()
		conn.outbox.writeLoop(ctx, fc, s.cfg.WriteTimeout)
		// A dead writer makes the connection useless; unblock the
		// reader instead of waiting out its deadline.
		cancel()
		_ = fc.Close()
	}()

	defer func() {
		if conn.session != nil {
			s.core.Disconnect(conn.session.ID)
		}
		cancel()
		_ = fc.Close()
		conn.outbox.close()
		writers.Wait()
	}()

	if !s.handshake(ctx, conn) {
		return
	}

	for {
		env, err := fc.ReadEnvelope(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Str("remote", fc.RemoteAddr()).Msg("read ended")
			}
			return
		}
		s.dispatch(ctx, conn, env)
	}
}

// handshake requires a credential before any other event is accepted.
// Register and login requests are the one exception: they are the glue
// that issues credentials in the first place. An invalid credential
// terminates the connection with no session created.
func (s *Server) handshake(ctx context.Context, conn *connection) bool {
	for {
		env, err := conn.fc.ReadEnvelope(ctx)
		if err != nil {
			return false
		}

		switch env.Type {
		case protocol.EventRegister:
			s.handleRegister(ctx, conn, env)
		case protocol.EventLogin:
			s.handleLogin(ctx, conn, env)
		case protocol.EventAuth:
			identity, err := s.authenticate(env)
			if err != nil {
				s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "authentication rejected"})
				s.log.Info().Str("remote", conn.fc.RemoteAddr()).Msg("authentication rejected")
				return false
			}
			session, err := s.core.Connect(conn.id, identity, conn.outbox)
			if err != nil {
				s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: err.Error()})
				return false
			}
			conn.session = session
			conn.outbox.deliver(chat.NewEvent(protocol.EventAuthOK, "", protocol.AuthOK{
				SessionID: session.ID,
				Username:  identity.Username,
				Guest:     identity.Guest,
			}))
			return true
		default:
			// Nothing else is accepted pre-auth.
			s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "authenticate first"})
			return false
		}
	}
}

func (s *Server) authenticate(env protocol.Envelope) (auth.Identity, error) {
	var req protocol.AuthRequest
	if err := protocol.DecodePayload(env.Payload, &req); err != nil {
		return auth.Identity{}, auth.ErrRejected
	}
	if req.Guest {
		username := req.Username
		if username == "" {
			username = "guest-" + uuid.NewString()[:8]
		}
		return auth.Identity{Username: username, Guest: true}, nil
	}
	credential := req.Token
	if credential == "" {
		credential = env.Token
	}
	return s.verifier.Verify(credential)
}

func (s *Server) sendAck(conn *connection, referenceID string, ack protocol.Ack) {
	ack.ReferenceID = referenceID
	conn.outbox.deliver(chat.NewEvent(protocol.EventAck, "", ack))
}

// outbox buffers outbound envelopes for one connection. Delivery is
// non-blocking: a full buffer or closed connection drops the envelope
// silently, which is the required behavior for acknowledgments and
// broadcasts addressed to a socket that is gone.
type outbox struct {
	ch        chan protocol.Envelope
	closeOnce sync.Once
	done      chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		ch:   make(chan protocol.Envelope, 64),
		done: make(chan struct{}),
	}
}

// Deliver implements chat.Outbox.
func (o *outbox) Deliver(env protocol.Envelope) {
	o.deliver(env)
}

func (o *outbox) deliver(env protocol.Envelope) {
	select {
	case <-o.done:
	case o.ch <- env:
	default:
	}
}

func (o *outbox) close() {
	o.closeOnce.Do(func() { close(o.done) })
}

func (o *outbox) writeLoop(ctx context.Context, fc frameConn, writeTimeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.done:
			return
		case env := <-o.ch:
			writeCtx := ctx
			if writeTimeout > 0 {
				var cancel context.CancelFunc
				writeCtx, cancel = context.WithTimeout(ctx, writeTimeout)
				if err := fc.WriteEnvelope(writeCtx, env); err != nil {
					cancel()
					return
				}
				cancel()
				continue
			}
			if err := fc.WriteEnvelope(writeCtx, env); err != nil {
				return
			}
		}
	}
}
