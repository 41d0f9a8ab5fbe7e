package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tidechat/tide/internal/auth"
	"github.com/tidechat/tide/internal/chat"
	"github.com/tidechat/tide/internal/protocol"
	"github.com/tidechat/tide/internal/storage"
)

var (
	errUserExists         = errors.New("user already exists")
	errInvalidCredentials = errors.New("invalid credentials")
	errInvalidPayload     = errors.New("invalid credentials payload")
)

// handleRegister creates an account and issues a token. This is the
// request/response glue around the coordinator; the core itself only
// ever consumes the verified identity.
func (s *Server) handleRegister(ctx context.Context, conn *connection, env protocol.Envelope) {
	req, err := decodeCredentials(env.Payload)
	if err != nil {
		s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "invalid register payload"})
		return
	}
	user, err := s.createUser(ctx, req)
	if err != nil {
		s.log.Info().Err(err).Str("user", req.Username).Str("remote", conn.fc.RemoteAddr()).Msg("register failed")
		s.reportCredentialError(conn, env.ID, err)
		return
	}
	s.log.Info().Str("user", user.Username).Str("remote", conn.fc.RemoteAddr()).Msg("register success")
	s.issueToken(conn, env.ID, user)
}

// handleLogin verifies credentials and issues a token.
func (s *Server) handleLogin(ctx context.Context, conn *connection, env protocol.Envelope) {
	req, err := decodeCredentials(env.Payload)
	if err != nil {
		s.sendAck(conn, env.ID, protocol.Ack{Success: false, Error: "invalid login payload"})
		return
	}
	user, err := s.authenticateUser(ctx, req)
	if err != nil {
		s.log.Info().Err(err).Str("user", req.Username).Str("remote", conn.fc.RemoteAddr()).Msg("login failed")
		s.reportCredentialError(conn, env.ID, err)
		return
	}
	s.log.Info().Str("user", user.Username).Str("remote", conn.fc.RemoteAddr()).Msg("login success")
	s.issueToken(conn, env.ID, user)
}

func (s *Server) issueToken(conn *connection, referenceID string, user *storage.User) {
	expiresAt := time.Now().Add(s.cfg.JWT.Expiration)
	token, err := auth.NewToken(s.cfg.JWT, auth.Identity{UserID: user.ID, Username: user.Username})
	if err != nil {
		s.log.Error().Err(err).Msg("token issue")
		s.sendAck(conn, referenceID, protocol.Ack{Success: false, Error: "token generation failed"})
		return
	}

	s.sendAck(conn, referenceID, protocol.Ack{Success: true})
	conn.outbox.deliver(chat.NewEvent(protocol.EventAuthOK, "", protocol.TokenGrant{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		UserID:    user.ID,
	}))
}

func (s *Server) createUser(ctx context.Context, req protocol.Credentials) (*storage.User, error) {
	username, password, err := sanitizeCredentials(req)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return nil, errUserExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &storage.User{
		ID:        uuid.NewString(),
		Username:  username,
		Password:  hashed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Server) authenticateUser(ctx context.Context, req protocol.Credentials) (*storage.User, error) {
	username, password, err := sanitizeCredentials(req)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if err := auth.ComparePassword(user.Password, password); err != nil {
		return nil, errInvalidCredentials
	}
	return user, nil
}

func (s *Server) reportCredentialError(conn *connection, referenceID string, err error) {
	reason := "authentication failed"
	switch {
	case errors.Is(err, errUserExists):
		reason = "username already exists"
	case errors.Is(err, errInvalidCredentials), errors.Is(err, errInvalidPayload):
		reason = "invalid credentials"
	}
	s.sendAck(conn, referenceID, protocol.Ack{Success: false, Error: reason})
}

func sanitizeCredentials(req protocol.Credentials) (string, string, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return "", "", errInvalidPayload
	}
	return username, req.Password, nil
}

func decodeCredentials(payload interface{}) (protocol.Credentials, error) {
	var req protocol.Credentials
	if err := protocol.DecodePayload(payload, &req); err != nil {
		return req, errInvalidPayload
	}
	return req, nil
}
