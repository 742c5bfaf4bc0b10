package models

import "time"

// Message represents a chat message between two users.
// Only Read and ReadAt change after the message is stored.
type Message struct {
	ID         int64      `json:"id"`
	SenderID   int64      `json:"sender_id"`
	ReceiverID int64      `json:"receiver_id"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	Read       bool       `json:"read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// WireMessage is the shape a message takes on the socket and REST surfaces.
// The body travels as "message".
type WireMessage struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
	Read       bool      `json:"read"`
}

// Wire converts a stored message to its wire shape
func (m *Message) Wire() WireMessage {
	return WireMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Message:    m.Body,
		CreatedAt:  m.CreatedAt,
		Read:       m.Read,
	}
}

// WireMessages converts a slice, never returning nil so it encodes as [].
func WireMessages(messages []Message) []WireMessage {
	out := make([]WireMessage, 0, len(messages))
	for i := range messages {
		out = append(out, messages[i].Wire())
	}
	return out
}

// ChatPartner is one row of a user's partner list
type ChatPartner struct {
	ID            int64  `json:"id"`
	DisplayName   string `json:"display_name"`
	UnreadCount   int    `json:"unread_count"`
	Online        bool   `json:"online"`
	LastMessageID int64  `json:"last_message_id"`
}

// WebSocketMessage is the envelope for every real-time event in both directions
type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}
