package chat

import (
	"context"
	"errors"
	"time"
)

// ErrConversationNotFound is returned by stores when a conversation id does
// not exist. The service also uses it to answer callers who are not
// participants, so outsiders cannot probe for existence; the distinct
// internal kind is ErrNotParticipant.
var ErrConversationNotFound = errors.New("chat: conversation not found")

// Store is the durable-store surface the delivery pipeline runs against.
// Implementations provide single-statement atomicity; the only cross-call
// invariant they must honor is that CreateConversation never produces a
// second row for the same unordered user pair, even under concurrent calls.
type Store interface {
	GetConversation(ctx context.Context, id int) (*Conversation, error)
	FindConversationByParticipants(ctx context.Context, a, b int) (*Conversation, error)
	CreateConversation(ctx context.Context, a, b int) (*Conversation, error)
	ListConversations(ctx context.Context, userID int) ([]Conversation, error)
	UpdateConversationLastMessage(ctx context.Context, convID, msgID int, at time.Time) error

	// CreateMessage persists a message with the read-by set seeded to the
	// sender and returns it with sender display fields resolved.
	CreateMessage(ctx context.Context, convID, senderID int, content string) (*Message, error)
	// ListMessages returns messages newest first.
	ListMessages(ctx context.Context, convID, skip, limit int) ([]Message, error)
	CountMessages(ctx context.Context, convID int) (int, error)
	// AddReader adds userID to the read-by set of every message in the
	// conversation. Idempotent; never removes ids.
	AddReader(ctx context.Context, convID, userID int) error
}
