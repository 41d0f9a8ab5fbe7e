package server

import (
	"context"
	"strings"
	"time"

	"github.com/tidechat/tide/internal/chat"
	"github.com/tidechat/tide/internal/protocol"
)

// dispatch maps one authenticated envelope onto a core operation.
// Every per-request failure is reported to the originating connection
// only; no handler may disturb other connections' state.
func (s *Server) dispatch(ctx context.Context, conn *connection, env protocol.Envelope) {
	sessionID := conn.session.ID
	username := conn.session.Identity.Username

	switch env.Type {
	case protocol.EventJoinRoom:
		var req protocol.JoinRoom
		if err := protocol.DecodePayload(env.Payload, &req); err != nil {
			s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "invalid join payload"})
			return
		}
		room := strings.TrimSpace(req.Room)
		if room == "" {
			s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "room required"})
			return
		}
		if err := s.core.Membership.Join(ctx, sessionID, room); err != nil {
			s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: err.Error()})
			return
		}
		s.sendAck(conn, env.ID, protocol.Ack{Success: true})

	case protocol.EventCreateRoom:
		var req protocol.CreateRoom
		if err := protocol.DecodePayload(env.Payload, &req); err != nil {
			s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "invalid create payload"})
			return
		}
		room := strings.TrimSpace(req.Room)
		if room == "" {
			s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "room required"})
			return
		}
		if err := s.core.Membership.CreateRoom(sessionID, room); err != nil {
			s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: err.Error()})
			return
		}
		s.sendAck(conn, env.ID, protocol.Ack{Success: true})

	case protocol.EventSendMessage:
		var req protocol.SendMessage
		if err := protocol.DecodePayload(env.Payload, &req); err != nil {
			s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "invalid message payload"})
			return
		}
		s.sendAck(conn, env.ID, s.core.Router.SendRoomMessage(ctx, sessionID, req))

	case protocol.EventSendFile:
		var req protocol.SendFile
		if err := protocol.DecodePayload(env.Payload, &req); err != nil {
			return
		}
		if err := s.core.Router.SendFileMessage(ctx, sessionID, req); err != nil {
			s.log.Debug().Err(err).Str("user", username).Msg("file message dropped")
		}

	case protocol.EventPrivateSend:
		var req protocol.PrivateSend
		if err := protocol.DecodePayload(env.Payload, &req); err != nil {
			s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "invalid private payload"})
			return
		}
		s.sendAck(conn, env.ID, s.core.Router.SendPrivateMessage(sessionID, req))

	case protocol.EventStartTyping:
		if err := s.core.Typing.Start(sessionID); err != nil {
			s.log.Debug().Err(err).Str("user", username).Msg("typing start dropped")
		}

	case protocol.EventStopTyping:
		s.core.Typing.Stop(sessionID)

	case protocol.EventAddReaction:
		var req protocol.AddReaction
		if err := protocol.DecodePayload(env.Payload, &req); err != nil || req.MessageID == "" || req.Emoji == "" {
			return
		}
		room, err := s.core.Sessions.RoomOf(sessionID)
		if err != nil || room == "" {
			return
		}
		s.core.Reactions.Toggle(req.MessageID, req.Emoji, username, room)

	case protocol.EventMarkRead:
		var req protocol.MarkRead
		if err := protocol.DecodePayload(env.Payload, &req); err != nil || req.MessageID == "" {
			return
		}
		room, err := s.core.Sessions.RoomOf(sessionID)
		if err != nil || room == "" {
			return
		}
		s.core.Receipts.MarkRead(req.MessageID, username, room, time.Now().UTC())

	case protocol.EventGetReceipts:
		var req protocol.GetReceipts
		if err := protocol.DecodePayload(env.Payload, &req); err != nil || req.MessageID == "" {
			s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "invalid receipts payload"})
			return
		}
		receipts, err := s.core.Receipts.Receipts(ctx, req.MessageID)
		if err != nil {
			s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "receipts unavailable"})
			return
		}
		conn.outbox.deliver(chat.NewEvent(protocol.EventReadReceipts, "", protocol.ReadReceipts{
			MessageID: req.MessageID,
			Receipts:  receipts,
		}))

	case protocol.EventLoadOlder:
		var req protocol.LoadOlder
		if err := protocol.DecodePayload(env.Payload, &req); err != nil || strings.TrimSpace(req.Room) == "" {
			s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "invalid paging payload"})
			return
		}
		page, err := s.core.Router.LoadOlder(ctx, req)
		if err != nil {
			s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "history unavailable"})
			return
		}
		conn.outbox.deliver(chat.NewEvent(protocol.EventOlderMessages, req.Room, page))

	case protocol.EventRegister, protocol.EventLogin, protocol.EventAuth:
		s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "already authenticated"})

	default:
		s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "unsupported event"})
	}
}
