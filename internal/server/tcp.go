package server

import (
	"context"
	"net"
	"time"

	"github.com/tidechat/tide/internal/config"
	"github.com/tidechat/tide/internal/protocol"
)

// tcpConn speaks length-prefixed JSON envelopes over a raw TCP
// connection.
type tcpConn struct {
	conn        net.Conn
	decoder     *protocol.Decoder
	encoder     *protocol.Encoder
	readTimeout time.Duration
}

func newTCPConn(conn net.Conn, cfg config.ServerConfig) *tcpConn {
	return &tcpConn{
		conn:        conn,
		decoder:     protocol.NewDecoder(conn, cfg.MaxFrameBytes),
		encoder:     protocol.NewEncoder(conn),
		readTimeout: cfg.ReadTimeout,
	}
}

func (c *tcpConn) ReadEnvelope(ctx context.Context) (protocol.Envelope, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return protocol.Envelope{}, err
		}
	}
	return c.decoder.Decode(ctx)
}

func (c *tcpConn) WriteEnvelope(ctx context.Context, env protocol.Envelope) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	return c.encoder.Encode(ctx, env)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
