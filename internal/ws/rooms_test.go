package ws

import (
	"fmt"
	"sync"
	"testing"
)

// chanSub is a channel-backed subscriber with the same drop-on-full delivery
// the real connections use.
type chanSub chan []byte

func (s chanSub) deliver(payload []byte) bool {
	select {
	case s <- payload:
		return true
	default:
		return false
	}
}

func drain(ch chanSub) []string {
	var out []string
	for {
		select {
		case p := <-ch:
			out = append(out, string(p))
		default:
			return out
		}
	}
}

func TestRouterRoomIsolation(t *testing.T) {
	r := NewRouter()
	inC := make(chanSub, 8)
	inD := make(chanSub, 8)
	r.Join(100, "conn-c", inC)
	r.Join(200, "conn-d", inD)

	r.Relay(100, []byte("for room 100"), "")

	if got := drain(inC); len(got) != 1 || got[0] != "for room 100" {
		t.Errorf("room 100 subscriber got %v", got)
	}
	if got := drain(inD); len(got) != 0 {
		t.Errorf("room 200 subscriber leaked %v", got)
	}
}

func TestRouterExcludesSender(t *testing.T) {
	r := NewRouter()
	alice := make(chanSub, 8)
	bob := make(chanSub, 8)
	r.Join(1, "alice-conn", alice)
	r.Join(1, "bob-conn", bob)

	r.Relay(1, []byte("hi"), "alice-conn")

	if got := drain(alice); len(got) != 0 {
		t.Errorf("excluded sender received %v", got)
	}
	if got := drain(bob); len(got) != 1 {
		t.Errorf("bob got %v, want one delivery", got)
	}
}

func TestRouterLeave(t *testing.T) {
	r := NewRouter()
	ch := make(chanSub, 8)
	r.Join(1, "conn", ch)
	r.Leave(1, "conn")
	r.Leave(1, "conn")   // double leave is a no-op
	r.Leave(2, "other")  // unknown room too

	r.Relay(1, []byte("hi"), "")
	if got := drain(ch); len(got) != 0 {
		t.Errorf("left subscriber received %v", got)
	}
}

// A subscriber whose buffer is full is skipped without affecting delivery to
// the rest of the room or blocking the relay.
func TestRouterDropOnFullBuffer(t *testing.T) {
	r := NewRouter()
	stuck := make(chanSub, 1)
	stuck <- []byte("wedged")
	healthy := make(chanSub, 8)
	r.Join(1, "stuck", stuck)
	r.Join(1, "healthy", healthy)

	r.Relay(1, []byte("a"), "")
	r.Relay(1, []byte("b"), "")

	if got := drain(healthy); len(got) != 2 {
		t.Errorf("healthy subscriber got %v, want 2 deliveries", got)
	}
}

// Every subscriber of a conversation observes relays in the same relative
// order, even when relays race.
func TestRouterPerConversationFIFO(t *testing.T) {
	r := NewRouter()
	const senders = 8
	const perSender = 50
	total := senders * perSender

	sub1 := make(chanSub, total)
	sub2 := make(chanSub, total)
	r.Join(1, "sub1", sub1)
	r.Join(1, "sub2", sub2)

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				r.Relay(1, []byte(fmt.Sprintf("s%d-%d", s, i)), "")
			}
		}(s)
	}
	wg.Wait()

	got1 := drain(sub1)
	got2 := drain(sub2)
	if len(got1) != total || len(got2) != total {
		t.Fatalf("deliveries = %d/%d, want %d each", len(got1), len(got2), total)
	}
	for i := range got1 {
		if got1[i] != got2[i] {
			t.Fatalf("subscribers diverge at %d: %q vs %q", i, got1[i], got2[i])
		}
	}

	// Per-sender order is preserved inside the common sequence.
	next := make(map[string]int)
	for _, msg := range got1 {
		var s, i int
		if _, err := fmt.Sscanf(msg, "s%d-%d", &s, &i); err != nil {
			t.Fatalf("bad payload %q", msg)
		}
		key := fmt.Sprintf("s%d", s)
		if i != next[key] {
			t.Fatalf("sender %d out of order: got %d, want %d", s, i, next[key])
		}
		next[key]++
	}
}

// A single sequential sender is observed in exactly the send order.
func TestRouterSequentialOrder(t *testing.T) {
	r := NewRouter()
	sub := make(chanSub, 16)
	r.Join(1, "sub", sub)

	for _, m := range []string{"S1", "S2", "S3"} {
		r.Relay(1, []byte(m), "")
	}

	got := drain(sub)
	want := []string{"S1", "S2", "S3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
