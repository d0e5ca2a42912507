package ws

import (
	"context"
	"time"

	"chatroom/backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
)

// Client is one websocket connection.
type Client struct {
	ID        string
	Namespace string
	// UserID and Username are set for authenticated admin connections.
	UserID   string
	Username string

	conn       *websocket.Conn
	send       chan []byte
	registered chan struct{}
	limiter    *rate.Limiter
	log        *logger.Logger
}

func newClient(conn *websocket.Conn, namespace string, sendBuffer int, limiter *rate.Limiter, log *logger.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:         id,
		Namespace:  namespace,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		registered: make(chan struct{}),
		limiter:    limiter,
		log:        log.WithConnection(id, namespace),
	}
}

// readPump handles inbound frames one at a time, so a connection's events
// are processed in the order sent. onClose runs after the hub detached the
// client.
func (c *Client) readPump(ctx context.Context, hub *Hub, maxMessageSize int64, handle func(context.Context, []byte), onClose func()) {
	defer func() {
		hub.Unregister(c)
		c.conn.Close()
		if onClose != nil {
			onClose()
		}
		c.log.Debug("ReadPump ended")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("Unexpected close", "error", err.Error())
			}
			return
		}

		handle(ctx, data)
	}
}

// allow reports whether the rate limiter admits one more inbound event.
func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			// Each event goes out as its own frame.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
