package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"connect/internal/middleware"
)

// EventRelay forwards persisted results to live room subscribers. The
// realtime hub implements it; a no-op implementation is fine for tools and
// tests. REST sends carry no connection id, so nothing is excluded and the
// sender's own subscribed connections receive the relay too.
type EventRelay interface {
	RelayMessage(conversationID int, m *Message)
	RelayRead(conversationID, userID int)
}

type Handler struct {
	service *Service
	relay   EventRelay
	log     zerolog.Logger
}

func NewHandler(s *Service, relay EventRelay, log zerolog.Logger) *Handler {
	return &Handler{
		service: s,
		relay:   relay,
		log:     log.With().Str("component", "chat_http").Logger(),
	}
}

// ListConversations handles GET /api/conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	convs, err := h.service.ListConversations(r.Context(), id.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("list conversations failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]Conversation{"conversations": convs})
}

// StartConversation handles POST /api/conversations.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		ParticipantID int `json:"participant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ParticipantID == 0 {
		http.Error(w, "participant_id is required", http.StatusBadRequest)
		return
	}

	conv, err := h.service.FindOrCreateConversation(r.Context(), id.UserID, req.ParticipantID)
	switch {
	case errors.Is(err, ErrSelfConversation):
		http.Error(w, "cannot create conversation with yourself", http.StatusBadRequest)
		return
	case err != nil:
		h.log.Error().Err(err).Msg("find-or-create conversation failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*Conversation{"conversation": conv})
}

// ListMessages handles GET /api/messages?conversation_id=&page=.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	convID, err := strconv.Atoi(r.URL.Query().Get("conversation_id"))
	if err != nil {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	pageResult, err := h.service.ListMessages(r.Context(), id.UserID, convID, page)
	if err != nil {
		h.writeServiceError(w, err, "list messages")
		return
	}
	writeJSON(w, http.StatusOK, pageResult)
}

// SendMessage handles POST /api/messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		ConversationID int    `json:"conversation_id"`
		Content        string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == 0 {
		http.Error(w, "conversation_id and content are required", http.StatusBadRequest)
		return
	}

	m, err := h.service.SendMessage(r.Context(), id.UserID, req.ConversationID, req.Content)
	if err != nil {
		h.writeServiceError(w, err, "send message")
		return
	}

	h.relay.RelayMessage(m.ConversationID, m)
	writeJSON(w, http.StatusCreated, map[string]*Message{"message": m})
}

// MarkRead handles PUT /api/messages/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		ConversationID int `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == 0 {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	if err := h.service.MarkRead(r.Context(), id.UserID, req.ConversationID); err != nil {
		h.writeServiceError(w, err, "mark read")
		return
	}

	h.relay.RelayRead(req.ConversationID, id.UserID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeServiceError maps pipeline errors onto HTTP statuses. Not-found and
// not-a-participant deliberately share one answer.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrEmptyContent):
		http.Error(w, "message content cannot be empty", http.StatusBadRequest)
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrNotParticipant):
		http.Error(w, "conversation not found", http.StatusNotFound)
	default:
		h.log.Error().Err(err).Str("op", op).Msg("request failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
