// Package ws is the realtime core: the presence registry, the conversation
// room router, and the per-connection lifecycle that ties them to the
// delivery pipeline.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"connect/internal/chat"
	"connect/internal/middleware"
)

const (
	presenceWriteRetries = 3
	presenceWriteTimeout = 5 * time.Second
	eventTimeout         = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChatService is what the hub needs from the delivery pipeline.
type ChatService interface {
	SendMessage(ctx context.Context, senderID, convID int, raw string) (*chat.Message, error)
	MarkRead(ctx context.Context, userID, convID int) error
	RequireParticipant(ctx context.Context, userID, convID int) error
}

// PresenceStore receives the durable side of presence transitions.
type PresenceStore interface {
	UpdatePresence(ctx context.Context, id int, online bool, lastSeen time.Time) error
}

// Hub owns every live connection. The handshake registers presence, steady
// state dispatches inbound events, and teardown runs exactly once per
// connection no matter how many times close is signaled.
type Hub struct {
	chat     ChatService
	presence *Presence
	router   *Router
	store    PresenceStore
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	// Durable presence writes queue per user so a slow or retried write can
	// never land after the write for a newer transition of the same user.
	pmu          sync.Mutex
	presenceQ    map[int][]Transition
	presenceBusy map[int]bool
}

func NewHub(chatSvc ChatService, store PresenceStore, log zerolog.Logger) *Hub {
	h := &Hub{
		chat:         chatSvc,
		router:       NewRouter(),
		store:        store,
		log:          log.With().Str("component", "ws").Logger(),
		clients:      make(map[string]*Client),
		presenceQ:    make(map[int][]Transition),
		presenceBusy: make(map[int]bool),
	}
	h.presence = NewPresence(h.onTransition)
	return h
}

// ServeWS upgrades an authenticated request into a live connection. Auth
// failed requests never get here (the middleware rejects them), so no state
// exists for a rejected handshake.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	c := &Client{
		ID:          uuid.NewString(),
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		joined:      make(map[int]struct{}),
	}

	// Visible to status broadcasts before the presence edge fires, so this
	// connection also hears about users who come online at the same moment.
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.presence.Register(c.UserID, c.ID)
	h.log.Info().Str("conn_id", c.ID).Int("user_id", c.UserID).Msg("connected")

	go c.writePump()
	go c.readPump()
}

// disconnect tears a connection down: out of every room, out of the
// presence registry, no further event processing. Runs exactly once even if
// the transport signals close repeatedly.
func (h *Hub) disconnect(c *Client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c.ID)
		h.mu.Unlock()

		for _, convID := range c.drainRooms() {
			h.router.Leave(convID, c.ID)
		}
		h.presence.Deregister(c.UserID, c.ID)

		// No relay can hold this channel anymore: status broadcasts stopped
		// seeing the client above, and every room lock was taken by Leave.
		c.closeSend()

		h.log.Info().Str("conn_id", c.ID).Int("user_id", c.UserID).Msg("disconnected")
	})
}

// handleEvent dispatches one inbound frame for an authenticated connection.
// A frame that was already off the wire when teardown began is discarded:
// nothing may execute on behalf of a disconnected client.
func (h *Hub) handleEvent(c *Client, raw []byte) {
	if c.down() {
		return
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.sendError(c, "malformed event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch env.Event {
	case EventConversationJoin:
		var p conversationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(c, "malformed event")
			return
		}
		if err := h.chat.RequireParticipant(ctx, c.UserID, p.ConversationID); err != nil {
			h.sendError(c, "conversation not found")
			return
		}
		if !c.trackJoin(p.ConversationID) {
			return
		}
		h.router.Join(p.ConversationID, c.ID, c)
		if c.down() {
			// Teardown drained the joined set between trackJoin and Join, so
			// its Leave pass may have missed this room. Undo the subscription.
			h.router.Leave(p.ConversationID, c.ID)
		}

	case EventConversationLeave:
		var p conversationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(c, "malformed event")
			return
		}
		h.router.Leave(p.ConversationID, c.ID)
		c.trackLeave(p.ConversationID)

	case EventMessageSend:
		var p sendPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(c, "malformed event")
			return
		}
		m, err := h.chat.SendMessage(ctx, c.UserID, p.ConversationID, p.Content)
		if err != nil {
			h.sendError(c, sendErrorMessage(err))
			return
		}
		// The sender gets the persisted result as an ack; everyone else in
		// the room gets the relay.
		if ack, err := encodeEvent(EventMessageSent, m); err == nil {
			c.deliver(ack)
		}
		h.relayMessage(m.ConversationID, m, c.ID)

	case EventTypingStart, EventTypingStop:
		var p conversationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(c, "malformed event")
			return
		}
		// Ephemeral and client-driven: nothing persists, nothing times out
		// server-side. Identity comes from the connection, not the payload.
		payload, err := encodeEvent(env.Event, typingPayload{
			ConversationID: p.ConversationID,
			UserID:         c.UserID,
			DisplayName:    c.DisplayName,
		})
		if err == nil {
			h.router.Relay(p.ConversationID, payload, c.ID)
		}

	case EventMessageRead:
		var p conversationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(c, "malformed event")
			return
		}
		if err := h.chat.MarkRead(ctx, c.UserID, p.ConversationID); err != nil {
			h.sendError(c, sendErrorMessage(err))
			return
		}
		h.relayRead(p.ConversationID, c.UserID, c.ID)

	default:
		h.sendError(c, "unknown event")
	}
}

// RelayMessage implements chat.EventRelay for request-path sends.
func (h *Hub) RelayMessage(conversationID int, m *chat.Message) {
	h.relayMessage(conversationID, m, "")
}

// RelayRead implements chat.EventRelay for request-path read receipts.
func (h *Hub) RelayRead(conversationID, userID int) {
	h.relayRead(conversationID, userID, "")
}

func (h *Hub) relayMessage(conversationID int, m *chat.Message, excludeConnID string) {
	payload, err := encodeEvent(EventMessageNew, m)
	if err != nil {
		h.log.Error().Err(err).Msg("encode message:new")
		return
	}
	h.router.Relay(conversationID, payload, excludeConnID)
}

func (h *Hub) relayRead(conversationID, userID int, excludeConnID string) {
	payload, err := encodeEvent(EventMessageRead, readPayload{
		ConversationID: conversationID,
		UserID:         userID,
	})
	if err != nil {
		return
	}
	h.router.Relay(conversationID, payload, excludeConnID)
}

// onTransition runs under the user's presence shard lock: broadcast the
// status change to other users' connections now (ordered), queue the durable
// write (best effort, per-user serial).
func (h *Hub) onTransition(tr Transition) {
	payload, err := encodeEvent(EventUserStatus, statusPayload{
		UserID:   tr.UserID,
		IsOnline: tr.Online,
		LastSeen: lastSeenField(tr),
	})
	if err == nil {
		h.mu.RLock()
		for _, c := range h.clients {
			if c.UserID == tr.UserID {
				continue
			}
			c.deliver(payload)
		}
		h.mu.RUnlock()
	}

	h.enqueuePresenceWrite(tr)
}

// enqueuePresenceWrite hands the transition to the user's writer goroutine,
// starting one if none is draining. One writer per user at a time, and each
// write (retries included) finishes before the next begins, so the row in
// the store converges to the newest transition once the queue empties.
func (h *Hub) enqueuePresenceWrite(tr Transition) {
	h.pmu.Lock()
	h.presenceQ[tr.UserID] = append(h.presenceQ[tr.UserID], tr)
	busy := h.presenceBusy[tr.UserID]
	h.presenceBusy[tr.UserID] = true
	h.pmu.Unlock()

	if !busy {
		go h.drainPresenceWrites(tr.UserID)
	}
}

func (h *Hub) drainPresenceWrites(userID int) {
	for {
		h.pmu.Lock()
		q := h.presenceQ[userID]
		if len(q) == 0 {
			delete(h.presenceQ, userID)
			delete(h.presenceBusy, userID)
			h.pmu.Unlock()
			return
		}
		h.presenceQ[userID] = q[1:]
		h.pmu.Unlock()

		h.persistPresence(q[0])
	}
}

// persistPresence writes the derived online flag with a bounded retry
// budget. Failure is logged and dropped: the in-memory registry already
// reflects reality and live relay never waits on the store.
func (h *Hub) persistPresence(tr Transition) {
	var err error
	for attempt := 1; attempt <= presenceWriteRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
		err = h.store.UpdatePresence(ctx, tr.UserID, tr.Online, tr.LastSeen)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(time.Duration(attempt) * 250 * time.Millisecond)
	}
	h.log.Error().Err(err).Int("user_id", tr.UserID).Bool("online", tr.Online).
		Msg("presence write dropped after retries")
}

// IsOnline reports live presence from the in-memory registry.
func (h *Hub) IsOnline(userID int) bool {
	return h.presence.IsOnline(userID)
}

// CloseAll tears down every live connection; used on server shutdown so it
// looks like an ordinary disconnect to everything downstream.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.conn != nil {
			c.conn.Close()
		}
		h.disconnect(c)
	}
}

func (h *Hub) sendError(c *Client, msg string) {
	if payload, err := encodeEvent(EventError, errorPayload{Message: msg}); err == nil {
		c.deliver(payload)
	}
}

func sendErrorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyContent):
		return "message content cannot be empty"
	case errors.Is(err, chat.ErrConversationNotFound), errors.Is(err, chat.ErrNotParticipant):
		return "conversation not found"
	default:
		return "internal error"
	}
}

func lastSeenField(tr Transition) *time.Time {
	if tr.Online {
		return nil
	}
	t := tr.LastSeen
	return &t
}
