package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidechat/tide/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The envelope handshake authenticates the connection; origin
	// checks belong to the deployment's proxy layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// controlWriteWait bounds keepalive control-frame writes.
const controlWriteWait = 10 * time.Second

// wsConn carries one envelope per WebSocket text frame. The write mutex
// serializes envelope writes with keepalive pings; gorilla permits only
// one concurrent writer.
type wsConn struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	writeMu     sync.Mutex
}

func newWSConn(conn *websocket.Conn, readTimeout time.Duration) *wsConn {
	c := &wsConn{conn: conn, readTimeout: readTimeout}
	if readTimeout > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
	}
	return c
}

// pingLoop keeps an idle-but-healthy connection alive: pings go out
// inside the read window and each pong extends the read deadline.
func (c *wsConn) pingLoop(ctx context.Context) {
	if c.readTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(c.readTimeout * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) ReadEnvelope(_ context.Context) (protocol.Envelope, error) {
	var env protocol.Envelope
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return env, err
		}
	}
	if err := c.conn.ReadJSON(&env); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return env, io.EOF
		}
		return env, err
	}
	return env, nil
}

func (c *wsConn) WriteEnvelope(ctx context.Context, env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	return c.conn.WriteJSON(env)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// RunWS serves the WebSocket endpoint and the REST glue until the
// context is canceled. Upgraded connections share the whole dispatch
// path with TCP ones.
func (s *Server) RunWS(ctx context.Context) error {
	httpServer := &http.Server{Addr: s.cfg.WSListenAddr, Handler: s.httpHandler(ctx)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.cfg.WSListenAddr).Msg("websocket listener up")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) httpHandler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
			return
		}
		conn.SetReadLimit(int64(s.cfg.MaxFrameBytes))
		wc := newWSConn(conn, s.cfg.ReadTimeout)
		go func() {
			connCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go wc.pingLoop(connCtx)
			s.handleConn(connCtx, wc)
		}()
	})
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/users", s.handleUsersAPI)
	mux.HandleFunc("/api/stats", s.handleStatsAPI)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleUsersAPI(w http.ResponseWriter, _ *http.Request) {
	users := s.core.Sessions.ListIdentities()
	writeJSON(w, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

func (s *Server) handleStatsAPI(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{
		"users": len(s.core.Sessions.ListIdentities()),
		"rooms": s.core.Rooms.SnapshotCounts(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
