package websocket

import (
	"sync"
	"time"

	"social-app/internal/config"
	"social-app/internal/metrics"
	"social-app/internal/models"
	"social-app/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

// Client is one authenticated connection (a "tab"). Frames queued on send
// are written in order by WritePump; ReadPump delivers inbound frames to
// the handler one at a time.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	id        string
	principal models.Principal
	namespace string
	limiter   *rate.Limiter
	cfg       config.RealtimeConfig

	// rooms is guarded by hub.mu.
	rooms map[string]struct{}

	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, principal models.Principal, namespace string, cfg config.RealtimeConfig) *Client {
	burst := cfg.EventBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		id:        uuid.NewString(),
		principal: principal,
		namespace: namespace,
		limiter:   rate.NewLimiter(rate.Limit(cfg.EventRate), burst),
		cfg:       cfg,
		rooms:     make(map[string]struct{}),
	}
}

func (c *Client) ID() string                  { return c.id }
func (c *Client) Principal() models.Principal { return c.principal }
func (c *Client) Namespace() string           { return c.namespace }

// Actor identifies this connection's principal to the domain services.
func (c *Client) Actor() models.Actor {
	return models.Actor{Principal: c.principal, ConnID: c.id}
}

// queue hands frame to the writer without blocking. A full buffer closes
// the connection.
func (c *Client) queue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		metrics.SendBufferDrops.Inc()
		logger.Warnw().
			Str("connection_id", c.id).
			Str("principal_id", c.principal.ID).
			Msg("send buffer full, closing connection")
		c.closed = true
		close(c.send)
		return false
	}
}

// shutdown stops accepting frames. The writer drains what is queued, then
// sends a close frame.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) allow() bool {
	return c.limiter.Allow()
}

// ReadPump reads frames until the connection fails, passing each to handle.
// onClose runs exactly once when the loop exits.
func (c *Client) ReadPump(handle func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		onClose(c)
		c.conn.Close()
	}()

	if c.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warnw().Err(err).Str("connection_id", c.id).Msg("websocket read failed")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		handle(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("write to %s failed: %v", c.id, err)
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
