package protocol

import "time"

// EventType names a protocol event. The same vocabulary is used on both
// the TCP framing and the WebSocket endpoint.
type EventType string

// Client to server.
const (
	EventAuth        EventType = "auth"
	EventRegister    EventType = "register"
	EventLogin       EventType = "login"
	EventJoinRoom    EventType = "join-room"
	EventCreateRoom  EventType = "create-room"
	EventSendMessage EventType = "send-message"
	EventSendFile    EventType = "send-file-message"
	EventPrivateSend EventType = "private-message"
	EventStartTyping EventType = "start-typing"
	EventStopTyping  EventType = "stop-typing"
	EventAddReaction EventType = "add-reaction"
	EventMarkRead    EventType = "mark-read"
	EventGetReceipts EventType = "get-read-receipts"
	EventLoadOlder   EventType = "load-older-messages"
)

// Server to client.
const (
	EventAuthOK        EventType = "auth-ok"
	EventAck           EventType = "ack"
	EventRoomList      EventType = "room-list"
	EventRoomCounts    EventType = "room-counts"
	EventUserList      EventType = "user-list"
	EventRoomJoined    EventType = "room-joined"
	EventRoomHistory   EventType = "room-history"
	EventOlderMessages EventType = "older-messages"
	EventMemberJoined  EventType = "member-joined"
	EventMemberLeft    EventType = "member-left"
	EventMessage       EventType = "message"
	EventPrivateRecv   EventType = "private-message-delivery"
	EventReactionUpd   EventType = "reaction-update"
	EventMessageRead   EventType = "message-read"
	EventReadReceipts  EventType = "read-receipts"
	EventTypingStarted EventType = "typing-started"
	EventTypingStopped EventType = "typing-stopped"
	EventRoomCreated   EventType = "room-created"
)

// Envelope wraps every payload sent over the wire.
type Envelope struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Token     string      `json:"token,omitempty"`
	Room      string      `json:"room,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// AuthRequest opens a connection. The token is a JWT from the login
// flow; Guest asks for an ephemeral identity instead.
type AuthRequest struct {
	Token    string `json:"token,omitempty"`
	Guest    bool   `json:"guest,omitempty"`
	Username string `json:"username,omitempty"`
}

// AuthOK confirms the handshake.
type AuthOK struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	Guest     bool   `json:"guest"`
}

// Ack reports the outcome of a mutating request back to its sender.
type Ack struct {
	ReferenceID     string `json:"reference_id"`
	Success         bool   `json:"success"`
	MessageID       string `json:"message_id,omitempty"`
	ClientMessageID string `json:"client_message_id,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Credentials carries register or login data.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenGrant returns an issued token to the client.
type TokenGrant struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	UserID    string `json:"user_id"`
}

// JoinRoom asks to enter (or switch to) a room.
type JoinRoom struct {
	Room string `json:"room"`
}

// CreateRoom asks for a new named room.
type CreateRoom struct {
	Room string `json:"room"`
}

// SendMessage posts a text message to the sender's current room.
type SendMessage struct {
	Body            string `json:"body"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// SendFile posts a file-kind message referencing externally stored bytes.
type SendFile struct {
	FileRef  string `json:"file_ref"`
	Filename string `json:"filename,omitempty"`
}

// PrivateSend addresses a message to a single online identity.
type PrivateSend struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// AddReaction toggles an emoji reaction on a message.
type AddReaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// MarkRead reports that the sender has read a message.
type MarkRead struct {
	MessageID string `json:"message_id"`
}

// GetReceipts asks for the read receipts of a message.
type GetReceipts struct {
	MessageID string `json:"message_id"`
}

// LoadOlder pages backwards through room history.
type LoadOlder struct {
	Room   string `json:"room"`
	Before int64  `json:"before,omitempty"` // unix millis; zero means newest
	Limit  int    `json:"limit,omitempty"`
}

// Message kinds.
const (
	KindText         = "text"
	KindFile         = "file"
	KindNotification = "notification"
	KindAI           = "ai"
)

// ChatMessage is the broadcast form of a room or private message.
type ChatMessage struct {
	ID        string    `json:"id"`
	Room      string    `json:"room,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Body      string    `json:"body"`
	Kind      string    `json:"kind"`
	FileRef   string    `json:"file_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomHistory replays a page of messages to a joining session.
type RoomHistory struct {
	Room     string        `json:"room"`
	Messages []ChatMessage `json:"messages"`
}

// OlderMessages answers a LoadOlder request.
type OlderMessages struct {
	Room     string        `json:"room"`
	Messages []ChatMessage `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

// RoomList carries every known room name.
type RoomList struct {
	Rooms []string `json:"rooms"`
}

// RoomCounts carries the member count per room.
type RoomCounts struct {
	Counts map[string]int `json:"counts"`
}

// UserList carries every connected identity.
type UserList struct {
	Users []string `json:"users"`
}

// Membership announces a member entering or leaving a room.
type Membership struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// RoomCreated announces a newly created room.
type RoomCreated struct {
	Room    string `json:"room"`
	Creator string `json:"creator"`
}

// Typing announces typing state changes within a room.
type Typing struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// ReactionUpdate carries the full reaction map of a message.
type ReactionUpdate struct {
	MessageID string              `json:"message_id"`
	Reactions map[string][]string `json:"reactions"`
}

// MessageRead announces a single read receipt to a room.
type MessageRead struct {
	MessageID string    `json:"message_id"`
	Reader    string    `json:"reader"`
	ReadAt    time.Time `json:"read_at"`
}

// Receipt is one reader's receipt for a message.
type Receipt struct {
	Reader string    `json:"reader"`
	ReadAt time.Time `json:"read_at"`
}

// ReadReceipts answers a GetReceipts request, newest first.
type ReadReceipts struct {
	MessageID string    `json:"message_id"`
	Receipts  []Receipt `json:"receipts"`
}
