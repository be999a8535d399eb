package chat

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

var (
	ErrEmptyContent     = errors.New("chat: message content cannot be empty")
	ErrSelfConversation = errors.New("chat: cannot create conversation with yourself")

	// ErrNotParticipant is internal only: callers of the HTTP/ws layers see
	// the same not-found answer as for a missing conversation, so they cannot
	// tell a thread they were excluded from apart from one that never
	// existed. Logs keep the distinction.
	ErrNotParticipant = errors.New("chat: not a participant")
)

const pageSize = 30

// Service is the message delivery pipeline: validate, persist, then hand the
// result back to the caller. It knows nothing about connections; relaying the
// persisted message to subscribers is the caller's job, which keeps
// persistence decoupled from transport and means a failed send can never
// reach other clients.
type Service struct {
	store    Store
	sanitize Sanitizer
	log      zerolog.Logger
}

func NewService(store Store, sanitize Sanitizer, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		sanitize: sanitize,
		log:      log.With().Str("component", "chat").Logger(),
	}
}

// SendMessage validates and persists one message and returns it fully
// populated, with the read-by set seeded to the sender.
func (s *Service) SendMessage(ctx context.Context, senderID, convID int, raw string) (*Message, error) {
	content := s.sanitize(raw)
	if content == "" {
		return nil, ErrEmptyContent
	}

	if err := s.requireParticipant(ctx, senderID, convID); err != nil {
		return nil, err
	}

	m, err := s.store.CreateMessage(ctx, convID, senderID, content)
	if err != nil {
		return nil, err
	}

	// The summary pointer is derived state. The message is already durable,
	// so a failure here must not turn the send into an error the sender sees
	// while the message survives in history.
	if err := s.store.UpdateConversationLastMessage(ctx, convID, m.ID, m.CreatedAt); err != nil {
		s.log.Error().Err(err).Int("conversation_id", convID).Msg("last-message update failed")
	}
	return m, nil
}

// MarkRead adds userID to the read-by set of every message in the
// conversation. Idempotent and monotonic.
func (s *Service) MarkRead(ctx context.Context, userID, convID int) error {
	if err := s.requireParticipant(ctx, userID, convID); err != nil {
		return err
	}
	return s.store.AddReader(ctx, convID, userID)
}

// ListMessages returns one page of history, oldest first, for direct display.
func (s *Service) ListMessages(ctx context.Context, userID, convID, page int) (*MessagePage, error) {
	if page < 1 {
		page = 1
	}
	if err := s.requireParticipant(ctx, userID, convID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, convID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountMessages(ctx, convID)
	if err != nil {
		return nil, err
	}

	// The store hands back newest first; flip for display order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []Message{}
	}

	return &MessagePage{
		Messages: msgs,
		Pagination: Pagination{
			Page:    page,
			Limit:   pageSize,
			Total:   total,
			Pages:   (total + pageSize - 1) / pageSize,
			HasMore: page*pageSize < total,
		},
	}, nil
}

// FindOrCreateConversation returns the unique conversation for the unordered
// pair, creating it when absent. Safe under concurrent calls for the same
// pair in either argument order.
func (s *Service) FindOrCreateConversation(ctx context.Context, userID, peerID int) (*Conversation, error) {
	if userID == peerID {
		return nil, ErrSelfConversation
	}

	c, err := s.store.FindConversationByParticipants(ctx, userID, peerID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, err
	}
	return s.store.CreateConversation(ctx, userID, peerID)
}

// ListConversations returns the caller's conversations, most recent activity
// first.
func (s *Service) ListConversations(ctx context.Context, userID int) ([]Conversation, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []Conversation{}
	}
	return convs, nil
}

// RequireParticipant checks that userID may act on convID. Both failure
// kinds surface to clients as not-found; see ErrNotParticipant.
func (s *Service) RequireParticipant(ctx context.Context, userID, convID int) error {
	return s.requireParticipant(ctx, userID, convID)
}

func (s *Service) requireParticipant(ctx context.Context, userID, convID int) error {
	c, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if !c.HasParticipant(userID) {
		s.log.Warn().Int("user_id", userID).Int("conversation_id", convID).
			Msg("rejected non-participant")
		return ErrNotParticipant
	}
	return nil
}
