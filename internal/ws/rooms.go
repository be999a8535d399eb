package ws

import "sync"

const roomShards = 32

// subscriber receives relayed payloads. deliver must never block and must
// stay safe to call after the subscriber has gone away, reporting whether
// the payload was queued.
type subscriber interface {
	deliver(payload []byte) bool
}

// Router maps conversation id → the set of connections currently in that
// room and relays payloads to them. It performs no authorization; callers
// must have verified participancy before joining a connection.
//
// Sharded by conversation id. A relay holds its room's shard lock while
// enqueueing to every subscriber, so two relays to the same conversation can
// never interleave: subscribers observe per-conversation FIFO order.
type Router struct {
	shards [roomShards]roomShard
}

type roomShard struct {
	mu    sync.Mutex
	rooms map[int]map[string]subscriber
}

func NewRouter() *Router {
	r := &Router{}
	for i := range r.shards {
		r.shards[i].rooms = make(map[int]map[string]subscriber)
	}
	return r
}

func (r *Router) shard(convID int) *roomShard {
	if convID < 0 {
		convID = -convID
	}
	return &r.shards[convID%roomShards]
}

// Join subscribes a connection to the room.
func (r *Router) Join(convID int, connID string, sub subscriber) {
	s := r.shard(convID)
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[convID]
	if !ok {
		room = make(map[string]subscriber)
		s.rooms[convID] = room
	}
	room[connID] = sub
}

// Leave removes a connection from the room; a no-op if it never joined.
func (r *Router) Leave(convID int, connID string) {
	s := r.shard(convID)
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[convID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(s.rooms, convID)
	}
}

// Relay delivers payload to every subscriber of the room except
// excludeConnID. Delivery is fire-and-forget per subscriber: a full or gone
// outbound buffer drops that one delivery (the connection's own heartbeat
// will reap it) and never blocks the others or the caller.
func (r *Router) Relay(convID int, payload []byte, excludeConnID string) {
	s := r.shard(convID)
	s.mu.Lock()
	defer s.mu.Unlock()

	for connID, sub := range s.rooms[convID] {
		if connID == excludeConnID {
			continue
		}
		sub.deliver(payload)
	}
}
