package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roomchat/internal/logger"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	maxFrameSize = 32 * 1024
	// DefaultSendBuffer is used when the configured buffer size is not positive.
	DefaultSendBuffer = 256
)

// Client is one socket of a user. The reader hands decoded frames to the hub; the writer drains
// the outbox and keeps the peer alive with pings. When either loop ends both stop.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	outbox chan OutgoingMessage

	// guarded by hub.mu
	topics map[string]struct{}

	stop     context.CancelFunc
	closed   chan struct{}
	stopOnce sync.Once
	loops    sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		outbox: make(chan OutgoingMessage, sendBuffer),
		topics: make(map[string]struct{}),
		closed: make(chan struct{}),
	}
}

func (c *Client) UserID() string { return c.userID }

// Start runs both loops detached from any request context.
func (c *Client) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	c.loops.Add(2)
	go c.writeLoop(ctx)
	go c.readLoop(ctx)
}

// Close may be called any number of times from any goroutine.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		if c.stop != nil {
			c.stop()
		}
		close(c.closed)
		c.conn.Close()
	})
}

// Wait returns once both loops have exited.
func (c *Client) Wait() { c.loops.Wait() }

func (c *Client) readLoop(ctx context.Context) {
	defer c.loops.Done()
	defer c.hub.Unregister(c)
	defer c.Close()

	c.conn.SetReadLimit(maxFrameSize)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	if err := extend(""); err != nil {
		return
	}
	c.conn.SetPongHandler(extend)

	for ctx.Err() == nil {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read user=%s: %v", c.userID, err)
			}
			return
		}
		var msg IncomingMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.hub.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "malformed message"})
			continue
		}
		c.hub.HandleMessage(ctx, c, msg)
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	defer c.loops.Done()
	defer c.Close()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, bye, time.Now().Add(writeWait))
			return
		case msg := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Errorf("ws write user=%s: %v", c.userID, err)
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
