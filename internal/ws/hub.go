// Package ws serves live updates over WebSocket. The hub consumes the feed bus and forwards each
// event to the connections subscribed to its topic; every connection is implicitly subscribed to
// its own user topic.
package ws

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/service"
)

const (
	opTimeout = 5 * time.Second
	// presenceRefresh must stay well below the online key TTL of the presence store.
	presenceRefresh = 40 * time.Second
)

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{} // user id
	topics   map[string]map[*Client]struct{}
	total    int
	maxConns int

	svc *service.Service
	bus feed.Bus

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(svc *service.Service, bus feed.Bus, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		topics:     make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		svc:        svc,
		bus:        bus,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Run owns client registration and feed delivery until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	var events <-chan feed.Event
	sub, err := h.bus.Subscribe(ctx)
	if err != nil {
		logger.Errorf("ws feed subscribe: %v", err)
	} else {
		defer sub.Close()
		events = sub.C()
	}

	refresh := time.NewTicker(presenceRefresh)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			// pumps unregister on exit; done must be closed before waiting for them
			close(h.done)
			h.shutdown()
			return
		case <-refresh.C:
			h.refreshPresence()
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case ev, ok := <-events:
			if !ok {
				logger.Error("ws feed subscription closed")
				events = nil
				continue
			}
			h.dispatch(ev)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.topics = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Connections still queued for registration were never counted online.
	var queued []*Client
	for drained := false; !drained; {
		select {
		case c := <-h.register:
			queued = append(queued, c)
		default:
			drained = true
		}
	}

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range queued {
		c.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	for _, c := range allClients {
		h.svc.Presence.Disconnected(ctx, c.userID)
	}

	for _, c := range allClients {
		c.Wait()
	}
	for _, c := range queued {
		c.Wait()
	}
}

// refreshPresence extends the online marks of connected users so that marks left by a crashed
// instance expire on their own.
func (h *Hub) refreshPresence() {
	h.mu.RLock()
	users := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		users = append(users, userID)
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	for _, userID := range users {
		h.svc.Presence.Refresh(ctx, userID)
	}
}

func (h *Hub) addClient(c *Client) {
	select {
	case <-c.closed:
		// already gone; its unregister may have been handled first
		return
	default:
	}
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	h.svc.Presence.Connected(ctx, c.userID)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	for topic := range c.topics {
		h.dropTopicLocked(topic, c)
	}
	h.total--
	h.mu.Unlock()

	c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	h.svc.Presence.Disconnected(ctx, c.userID)
}

func (h *Hub) dropTopicLocked(topic string, c *Client) {
	delete(c.topics, topic)
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// dispatch forwards ev to the subscribers of its topic. User topics reach every connection of
// that user. A membership removal also ends the removed user's subscriptions to the room.
func (h *Hub) dispatch(ev feed.Event) {
	out := OutgoingMessage{Type: EventFeed, Topic: ev.Topic, Event: &ev}

	h.mu.RLock()
	var targets []*Client
	if userID, ok := strings.CutPrefix(ev.Topic, "user:"); ok {
		for c := range h.clients[userID] {
			targets = append(targets, c)
		}
	} else {
		for c := range h.topics[ev.Topic] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, out)
	}

	if ev.Table == feed.TableMemberships && ev.Op == feed.OpDelete && strings.HasPrefix(ev.Topic, "room:") {
		var m model.Membership
		if err := ev.Decode(&m); err == nil {
			h.revoke(ev.Topic, m.UserID)
		}
	}
}

func (h *Hub) revoke(topic, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[userID] {
		h.dropTopicLocked(topic, c)
	}
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	switch msg.Type {
	case EventSubscribe:
		h.handleSubscribe(ctx, c, msg)
	case EventUnsubscribe:
		h.mu.Lock()
		h.dropTopicLocked(msg.Topic, c)
		h.mu.Unlock()
		h.sendToClient(c, OutgoingMessage{Type: EventUnsubscribed, Topic: msg.Topic})
	case EventTyping:
		if err := h.svc.Presence.SetTyping(ctx, c.userID, msg.RoomID, msg.IsTyping); err != nil {
			h.sendError(c, msg.ClientID, err)
		}
	case EventSendMessage:
		h.handleSend(ctx, c, msg)
	case EventMarkRead:
		ch, ok := channelOf(msg)
		if !ok {
			h.sendError(c, msg.ClientID, service.ErrInvalidID)
			return
		}
		if _, err := h.svc.Messages.MarkRead(ctx, c.userID, ch); err != nil {
			h.sendError(c, msg.ClientID, err)
		}
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, ClientID: msg.ClientID, Payload: "unknown event type"})
	}
}

func channelOf(msg IncomingMessage) (model.ChannelRef, bool) {
	switch {
	case msg.RoomID != "" && msg.DirectChatID == "":
		return model.RoomChannel(msg.RoomID), true
	case msg.DirectChatID != "" && msg.RoomID == "":
		return model.DirectChannel(msg.DirectChatID), true
	}
	return model.ChannelRef{}, false
}

// handleSubscribe authorizes the topic before adding the client to it.
func (h *Hub) handleSubscribe(ctx context.Context, c *Client, msg IncomingMessage) {
	topic := msg.Topic
	switch {
	case topic == service.TopicRooms:
	case topic == feed.UserTopic(c.userID):
	default:
		ch, ok := model.ParseChannelTopic(topic)
		if !ok {
			h.sendError(c, msg.ClientID, service.ErrInvalidID)
			return
		}
		if _, err := h.svc.Messages.Authorize(ctx, c.userID, ch); err != nil {
			h.sendError(c, msg.ClientID, err)
			return
		}
	}
	h.mu.Lock()
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[*Client]struct{})
	}
	h.topics[topic][c] = struct{}{}
	c.topics[topic] = struct{}{}
	h.mu.Unlock()
	h.sendToClient(c, OutgoingMessage{Type: EventSubscribed, Topic: topic})
}

func (h *Hub) handleSend(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()
	ch, ok := channelOf(msg)
	if !ok {
		h.sendError(c, msg.ClientID, service.ErrInvalidID)
		return
	}
	m, err := h.svc.Messages.Send(ctx, c.userID, ch, msg.Content)
	if err != nil {
		h.sendError(c, msg.ClientID, err)
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventSent, ClientID: msg.ClientID, Payload: m})
}

// sendError reports a user-safe message; backend details stay in the log.
func (h *Hub) sendError(c *Client, clientID string, err error) {
	text := err.Error()
	if errors.Is(err, service.ErrBackend) {
		logger.Errorf("ws user=%s: %v", c.userID, err)
		text = "internal error"
	}
	h.sendToClient(c, OutgoingMessage{Type: EventError, ClientID: clientID, Payload: text})
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.outbox <- msg:
	case <-c.closed:
	default:
		// Send buffer full: drop the slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Connections returns the number of live connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}
