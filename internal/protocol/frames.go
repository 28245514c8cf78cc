// Package protocol defines the WebSocket wire format shared between the
// engine and the messaging backend: a JSON envelope tagging a payload
// with a frame kind and a millisecond timestamp.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the type of a wire frame.
type Kind string

const (
	// Outbound control.
	KindPing Kind = "ping"

	// Outbound application kinds.
	KindUserConnect Kind = "user_connect"

	// Bidirectional application kinds: sent as best-effort echoes after
	// a REST write succeeds, received as push notifications from peers.
	KindMessage       Kind = "message"
	KindFriendRequest Kind = "friend_request"

	// Inbound-only kinds.
	KindFriendAccepted      Kind = "friend_accepted"
	KindUserStatus          Kind = "user_status"
	KindOnlineUsers         Kind = "online_users"
	KindConnectionConfirmed Kind = "connection_confirmed"
)

// Frame is the wire envelope. Frames are immutable once decoded;
// consumers project data out of them and never write back.
type Frame struct {
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// UserConnectData announces the authenticated user after a socket opens.
type UserConnectData struct {
	UserID string `json:"userId"`
}

// MessageData is the payload of a message frame. Pushed frames may be
// partial; they are treated as invalidation signals, so every field
// beyond ID and ConversationID is advisory.
type MessageData struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content,omitempty"`
	Type           string `json:"type,omitempty"`
}

// FriendRequestData is the payload of a friend_request frame.
type FriendRequestData struct {
	ID       string `json:"id"`
	FromUser string `json:"fromUser"`
	ToUser   string `json:"toUser"`
}

// FriendAcceptedData is the payload of a friend_accepted frame.
type FriendAcceptedData struct {
	RequestID string `json:"requestId,omitempty"`
	FromUser  string `json:"fromUser"`
	ToUser    string `json:"toUser"`
}

// UserStatusData patches a single user's presence.
type UserStatusData struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// OnlineUsersData is an authoritative presence snapshot.
type OnlineUsersData struct {
	Users []string `json:"users"`
}

// New builds a frame of the given kind around payload, stamping it with
// the current time. A nil payload produces a data-less frame (ping).
func New(kind Kind, payload any) (Frame, error) {
	f := Frame{Type: kind, Timestamp: time.Now().UnixMilli()}
	if payload == nil {
		return f, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s frame: %w", kind, err)
	}
	f.Data = data
	return f, nil
}

// MustNew is New for payloads that cannot fail to marshal (all payload
// structs in this package). It panics on marshal failure.
func MustNew(kind Kind, payload any) Frame {
	f, err := New(kind, payload)
	if err != nil {
		panic(err)
	}
	return f
}

// Decode parses a raw wire frame. It validates only the envelope; the
// payload stays raw until a kind-specific handler projects it.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame envelope: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame envelope: missing type")
	}
	return f, nil
}

// Encode serializes a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return raw, nil
}
