package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // time allowed to write a message to the peer
	pongWait       = 60 * time.Second    // time allowed to read the next pong from the peer
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4096                // maximum inbound frame size
	sendBuffer     = 256
)

// Client is one authenticated websocket connection. A user may hold many of
// these at once (devices, tabs); each gets its own id and its own pumps.
type Client struct {
	ID          string
	UserID      int
	DisplayName string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	joined map[int]struct{}

	sendMu sync.Mutex
	closed bool

	once sync.Once
}

// trackJoin records the room. Reports false once teardown has begun, so a
// frame the read pump pulled off the wire just before the close cannot
// re-subscribe a dying connection.
func (c *Client) trackJoin(convID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joined == nil {
		return false
	}
	c.joined[convID] = struct{}{}
	return true
}

func (c *Client) trackLeave(convID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, convID)
}

// drainRooms empties and returns the set of rooms this connection joined,
// leaving the nil map behind as the teardown marker. Called once during
// teardown.
func (c *Client) drainRooms() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]int, 0, len(c.joined))
	for id := range c.joined {
		rooms = append(rooms, id)
	}
	c.joined = nil
	return rooms
}

// down reports whether teardown has begun for this connection.
func (c *Client) down() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined == nil
}

// deliver queues an event for the write pump without ever blocking the
// caller. Reports whether the event was queued. Safe against a concurrent
// closeSend (server shutdown racing an in-flight event).
func (c *Client) deliver(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps inbound events to the hub. One per connection; it owns all
// reads. Transport close, read error, or heartbeat timeout all land in the
// same deferred teardown.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Str("conn_id", c.ID).Msg("read error")
			}
			return
		}
		c.hub.handleEvent(c, raw)
	}
}

// writePump pumps queued events to the peer and keeps the connection alive
// with pings. One per connection; it owns all writes.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(payload)

			// Flush whatever else is queued in one frame batch.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
