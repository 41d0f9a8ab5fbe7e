package chat

import "errors"

// Operation-local failures. Each rejects a single request; the session
// that issued it remains usable.
var (
	ErrUnknownRoom      = errors.New("unknown room")
	ErrUnknownSession   = errors.New("unknown session")
	ErrNotInRoom        = errors.New("not in a room")
	ErrRecipientOffline = errors.New("recipient offline")
)

// ErrDuplicateConnection reports a connection that already holds a
// session.
var ErrDuplicateConnection = errors.New("connection already has a session")
