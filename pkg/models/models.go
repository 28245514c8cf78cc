// Package models defines the shared data model for the chatsync engine.
package models

import "time"

// PresenceStatus is a user's online/offline state.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// MessageType identifies the content type of a message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

// RequestStatus is the lifecycle state of a friend request. Only
// pending requests may transition, and only to accepted or rejected.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// User is a chat participant as returned by the user-search endpoint.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Message is immutable after creation. Its ID is always
// server-assigned; the engine never fabricates message identity.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	Timestamp      time.Time   `json:"timestamp"`
	IsRead         bool        `json:"isRead"`
}

// Conversation is a chat thread between two or more participants.
type Conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount"`
}

// FriendRequest tracks a pending, accepted, or rejected friendship
// offer. Terminal states are immutable.
type FriendRequest struct {
	ID        string        `json:"id"`
	FromUser  string        `json:"fromUser"`
	ToUser    string        `json:"toUser"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Terminal reports whether the request has reached a final state.
func (r FriendRequest) Terminal() bool {
	return r.Status == RequestAccepted || r.Status == RequestRejected
}
