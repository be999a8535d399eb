package ws

import (
	"encoding/json"
	"time"
)

// Wire event names. Client→server and server→client share the typing and
// read names; direction disambiguates.
const (
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventMessageSend       = "message:send"
	EventMessageSent       = "message:sent" // ack to the sender with the persisted message
	EventMessageNew        = "message:new"
	EventMessageRead       = "message:read"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventUserStatus        = "user:status"
	EventError             = "error"
)

// Envelope frames every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type conversationPayload struct {
	ConversationID int `json:"conversation_id"`
}

type sendPayload struct {
	ConversationID int    `json:"conversation_id"`
	Content        string `json:"content"`
}

type typingPayload struct {
	ConversationID int    `json:"conversation_id"`
	UserID         int    `json:"user_id"`
	DisplayName    string `json:"display_name"`
}

type readPayload struct {
	ConversationID int `json:"conversation_id"`
	UserID         int `json:"user_id"`
}

type statusPayload struct {
	UserID   int        `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}
