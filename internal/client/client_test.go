package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff
	assert.Equal(t, 500*time.Millisecond, b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 16*time.Second, b.Delay(5))
	assert.Equal(t, 30*time.Second, b.Delay(6))
	assert.Equal(t, 30*time.Second, b.Delay(20))
}

func messageEvent(t *testing.T, op feed.Op, m model.Message, at time.Time) feed.Event {
	t.Helper()
	ev, err := feed.NewEvent(m.Channel().Topic(), feed.TableMessages, op, m.ID, at, m)
	require.NoError(t, err)
	return ev
}

func roomMessage(id, room, sender string, at time.Time) model.Message {
	return model.Message{ID: id, RoomID: &room, SenderID: sender, Content: id, CreatedAt: at}
}

func TestMessageLogOrdersAndDeduplicates(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	log := NewMessageLog("me", model.RoomChannel("r1"))
	log.Seed([]model.Message{roomMessage("a", "r1", "bob", base)})

	later := roomMessage("c", "r1", "bob", base.Add(2*time.Second))
	earlier := roomMessage("b", "r1", "carol", base.Add(time.Second))
	for _, m := range []model.Message{later, earlier, later} {
		_, err := log.Apply(messageEvent(t, feed.OpInsert, m, m.CreatedAt))
		require.NoError(t, err)
	}
	ids := func() []string {
		var out []string
		for _, m := range log.Messages() {
			out = append(out, m.ID)
		}
		return out
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids())

	other := roomMessage("x", "r2", "bob", base)
	changed, err := log.Apply(messageEvent(t, feed.OpInsert, other, base))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMessageLogSuppressesOwnInserts(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	log := NewMessageLog("me", model.RoomChannel("r1"))
	log.Optimistic("tmp-1", roomMessage("tmp-1", "r1", "me", base))
	require.Len(t, log.Messages(), 1)

	own := roomMessage("m1", "r1", "me", base)
	changed, err := log.Apply(messageEvent(t, feed.OpInsert, own, base))
	require.NoError(t, err)
	assert.False(t, changed)

	log.Confirm("tmp-1", own)
	msgs := log.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)

	edited := own
	edited.Content = "fixed"
	edited.IsEdited = true
	changed, err = log.Apply(messageEvent(t, feed.OpUpdate, edited, base.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "fixed", log.Messages()[0].Content)
}

func TestTypingViewDiscardsStaleSignals(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	view := NewTypingView("me", "r1", 10*time.Second)
	topic := model.RoomChannel("r1").Topic()
	for _, st := range []model.TypingStatus{
		{RoomID: "r1", UserID: "bob", IsTyping: true, UpdatedAt: now.Add(-2 * time.Second)},
		{RoomID: "r1", UserID: "carol", IsTyping: true, UpdatedAt: now.Add(-30 * time.Second)},
		{RoomID: "r1", UserID: "me", IsTyping: true, UpdatedAt: now},
	} {
		ev, err := feed.NewEvent(topic, feed.TableTyping, feed.OpUpdate, "r1:"+st.UserID, st.UpdatedAt, st)
		require.NoError(t, err)
		_, err = view.Apply(ev)
		require.NoError(t, err)
	}
	typing := view.Typing(now)
	require.Len(t, typing, 1)
	assert.Equal(t, "bob", typing[0].UserID)
	assert.Empty(t, view.Typing(now.Add(time.Minute)))
}

// echoServer accepts WebSocket connections, acknowledges subscriptions and drops the first
// connection right after the first subscription.
type echoServer struct {
	mu       sync.Mutex
	subs     []string
	conns    atomic.Int32
	upgrader websocket.Upgrader
}

func (s *echoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer tok" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n := s.conns.Add(1)
	for {
		var in ws.IncomingMessage
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		if in.Type != ws.EventSubscribe {
			continue
		}
		s.mu.Lock()
		s.subs = append(s.subs, in.Topic)
		s.mu.Unlock()
		if err := conn.WriteJSON(ws.OutgoingMessage{Type: ws.EventSubscribed, Topic: in.Topic}); err != nil {
			return
		}
		if n == 1 {
			return
		}
	}
}

func TestConnReconnectsAndResubscribes(t *testing.T) {
	srv := &echoServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := New(Options{
		URL:     "ws" + strings.TrimPrefix(ts.URL, "http"),
		Token:   "tok",
		Topics:  []string{"room:r1"},
		Backoff: Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond, Attempts: 3},
	})
	ctx, cancel := context.WithCancel(context.Background())
	var acks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(msg ws.OutgoingMessage) {
			if msg.Type == ws.EventSubscribed && acks.Add(1) == 2 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not reconnect")
	}
	assert.GreaterOrEqual(t, srv.conns.Load(), int32(2))
	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"room:r1", "room:r1"}, srv.subs[:2])
}

func TestConnGivesUp(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := New(Options{
		URL:     "ws" + strings.TrimPrefix(ts.URL, "http"),
		Backoff: Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond, Attempts: 3},
	})
	err := c.Run(context.Background(), func(ws.OutgoingMessage) {})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGaveUp))
	assert.ErrorIs(t, c.Send(ws.IncomingMessage{Type: ws.EventTyping}), ErrNotConnected)
}
