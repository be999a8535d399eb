package ws

import (
	"sync"
	"time"
)

const presenceShards = 32

// Transition is one edge of a user's presence: online when their first
// connection registers, offline when their last one goes away.
type Transition struct {
	UserID   int
	Online   bool
	LastSeen time.Time
}

// Presence tracks user id → set of live connection ids. The map is sharded
// by user id so concurrent connects and disconnects only contend when they
// touch the same shard, and all mutations for one user serialize on one
// lock. An entry exists iff its set is non-empty.
//
// onTransition fires while the shard lock is held, which is what makes
// transitions for a user totally ordered; the callback must therefore be
// non-blocking and must not call back into Presence.
type Presence struct {
	onTransition func(Transition)
	shards       [presenceShards]presenceShard
}

type presenceShard struct {
	mu    sync.Mutex
	users map[int]map[string]struct{}
}

func NewPresence(onTransition func(Transition)) *Presence {
	p := &Presence{onTransition: onTransition}
	for i := range p.shards {
		p.shards[i].users = make(map[int]map[string]struct{})
	}
	return p
}

func (p *Presence) shard(userID int) *presenceShard {
	if userID < 0 {
		userID = -userID
	}
	return &p.shards[userID%presenceShards]
}

// Register adds a connection to the user's set. Idempotent per connection
// id. Fires an online transition only on the empty→non-empty edge, so a
// second device never re-announces the user.
func (p *Presence) Register(userID int, connID string) {
	s := p.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.users[userID]
	if !ok {
		conns = make(map[string]struct{})
		s.users[userID] = conns
	}
	if _, dup := conns[connID]; dup {
		return
	}
	conns[connID] = struct{}{}

	if len(conns) == 1 && p.onTransition != nil {
		p.onTransition(Transition{UserID: userID, Online: true, LastSeen: time.Now()})
	}
}

// Deregister removes a connection. A no-op for unknown connections, so a
// double disconnect is harmless. Fires an offline transition only when the
// set becomes empty, and removes the entry so no empty set lingers.
func (p *Presence) Deregister(userID int, connID string) {
	s := p.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.users[userID]
	if !ok {
		return
	}
	if _, ok := conns[connID]; !ok {
		return
	}
	delete(conns, connID)
	if len(conns) > 0 {
		return
	}
	delete(s.users, userID)

	if p.onTransition != nil {
		p.onTransition(Transition{UserID: userID, Online: false, LastSeen: time.Now()})
	}
}

// IsOnline reports whether the user has at least one live connection.
func (p *Presence) IsOnline(userID int) bool {
	s := p.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users[userID]) > 0
}
