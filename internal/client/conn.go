// Package client follows live topics of the API over WebSocket. Conn keeps the connection up
// with exponential backoff and re-subscribes after each reconnect; MessageLog and TypingView fold
// the received events into local state.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/ws"
)

var (
	ErrGaveUp       = errors.New("client: reconnect attempts exhausted")
	ErrNotConnected = errors.New("client: not connected")
)

// Backoff doubles the wait from Base up to Max and allows Attempts consecutive failures.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
}

var DefaultBackoff = Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second, Attempts: 8}

// Delay is the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	return min(d, b.Max)
}

type Options struct {
	// URL of the /ws endpoint, e.g. ws://localhost:8080/ws.
	URL     string
	Token   string
	Topics  []string
	Backoff Backoff
	Dialer  *websocket.Dialer
}

// Handler receives every server message in arrival order.
type Handler func(msg ws.OutgoingMessage)

type Conn struct {
	opts Options

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[string]struct{}
}

func New(opts Options) *Conn {
	if opts.Backoff.Attempts <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	c := &Conn{opts: opts, topics: make(map[string]struct{})}
	for _, t := range opts.Topics {
		c.topics[t] = struct{}{}
	}
	return c
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// Run connects and calls h for every message until ctx ends. A dropped connection is redialed
// with backoff; Run gives up with ErrGaveUp after Backoff.Attempts consecutive failed dials.
func (c *Conn) Run(ctx context.Context, h Handler) error {
	failures := 0
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if failures >= c.opts.Backoff.Attempts-1 {
				return fmt.Errorf("%w: %v", ErrGaveUp, err)
			}
			wait := c.opts.Backoff.Delay(failures)
			failures++
			logger.Errorf("client dial failed (attempt %d), retry in %v: %v", failures, wait, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		failures = 0
		err = c.serve(ctx, conn, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Infof("client connection lost, reconnecting: %v", err)
	}
}

func (c *Conn) serve(ctx context.Context, conn *websocket.Conn, h Handler) error {
	c.mu.Lock()
	c.conn = conn
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for _, t := range topics {
		if err := c.Send(ws.IncomingMessage{Type: ws.EventSubscribe, Topic: t}); err != nil {
			return err
		}
	}
	for {
		var msg ws.OutgoingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		h(msg)
	}
}

// Send writes msg on the current connection.
func (c *Conn) Send(msg ws.IncomingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// Subscribe adds topic to the set restored on every reconnect and subscribes now if connected.
func (c *Conn) Subscribe(topic string) error {
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.Send(ws.IncomingMessage{Type: ws.EventSubscribe, Topic: topic})
}

func (c *Conn) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.topics, topic)
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.Send(ws.IncomingMessage{Type: ws.EventUnsubscribe, Topic: topic})
}
