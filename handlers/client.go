package handlers

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"communitychat/models"
)

// Client is one authenticated socket. An identity may own several.
type Client struct {
	id       string
	identity models.Identity
	conn     *websocket.Conn
	send     chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, identity models.Identity, buffer int) *Client {
	return &Client{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

// enqueue never blocks. A full buffer means the peer is not reading, so
// the session is closed rather than stalling everyone pushing to it.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.close()
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump(g *Gateway) {
	defer g.pumps.Done()
	defer func() {
		c.close()
		c.conn.Close()
		g.unregister(c)
	}()

	c.conn.SetReadLimit(g.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.log.Warn("websocket read error", "user_id", c.identity.UserID, "session", c.id, "err", err)
			}
			return
		}
		// any frame proves the peer is alive
		c.conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))

		g.handleEvent(c, message)
	}
}

func (c *Client) writePump(g *Gateway) {
	ticker := time.NewTicker(g.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(g.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(g.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(g.opts.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func encodeEvent(eventType string, payload interface{}) ([]byte, error) {
	return json.Marshal(models.WebSocketMessage{Type: eventType, Payload: payload})
}

// reply sends an event to this session only
func (c *Client) reply(eventType string, payload interface{}) {
	data, err := encodeEvent(eventType, payload)
	if err != nil {
		return
	}
	c.enqueue(data)
}
