package gateway

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"inkwell/internal/protocol"
	"inkwell/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024

	defaultMessagesPerSecond = 100
	defaultMessageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one websocket connection, i.e. one participant session. The
// same session may be a member of many rooms; every room shares the
// connection's send channel.
type client struct {
	gw          *Gateway
	conn        *websocket.Conn
	send        chan []byte
	sessionID   string
	rateLimiter *ratelimit.Limiter
}

// ServeWS upgrades the connection, assigns a session id and starts the
// read/write pumps. Identity arrives in join messages and is trusted; the
// engine does not validate tokens.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	c := &client{
		gw:          g,
		conn:        conn,
		send:        make(chan []byte, 512),
		sessionID:   uuid.NewString(),
		rateLimiter: ratelimit.NewLimiter(float64(g.rateLimit), g.rateBurst),
	}

	c.send <- protocol.Hello(c.sessionID)

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.gw.handleDisconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("Rate limit exceeded for session %s (warning #%d)",
					c.sessionID, rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				log.Printf("Disconnecting session %s for excessive rate limit violations", c.sessionID)
				return
			}
			continue
		}

		c.gw.handleMessage(c, message)
	}
}

func (c *client) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

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

// reply queues a message for this connection only. Errors to one session
// never reach the others.
func (c *client) reply(data []byte) {
	select {
	case c.send <- data:
	default:
		log.Printf("Session %s send buffer full, dropping reply", c.sessionID)
	}
}
