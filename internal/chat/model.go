package chat

import (
	"time"

	"connect/internal/user"
)

// Conversation is a pairwise thread. ParticipantIDs always holds exactly two
// ids; Participants carries the populated profiles when the query asked for
// them.
type Conversation struct {
	ID             int         `json:"id"`
	ParticipantIDs []int       `json:"participant_ids"`
	Participants   []user.User `json:"participants,omitempty"`
	LastMessage    *Message    `json:"last_message,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// HasParticipant reports whether id belongs to this conversation.
func (c *Conversation) HasParticipant(id int) bool {
	for _, p := range c.ParticipantIDs {
		if p == id {
			return true
		}
	}
	return false
}

// Message is immutable once created except for ReadBy, which only grows.
type Message struct {
	ID             int       `json:"id"`
	ConversationID int       `json:"conversation_id"`
	SenderID       int       `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	SenderAvatar   string    `json:"sender_avatar"`
	Content        string    `json:"content"`
	ReadBy         []int     `json:"read_by"`
	CreatedAt      time.Time `json:"created_at"`
}

type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasMore bool `json:"has_more"`
}

// MessagePage is one page of history, ordered oldest to newest for direct
// display.
type MessagePage struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}
