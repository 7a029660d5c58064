package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/service"
	"github.com/roomchat/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingPresence records zero-delta refreshes on top of the memory store.
type countingPresence struct {
	*memory.Client
	mu        sync.Mutex
	refreshed []string
}

func (p *countingPresence) SetOnline(ctx context.Context, userID string, delta int) error {
	if delta == 0 {
		p.mu.Lock()
		p.refreshed = append(p.refreshed, userID)
		p.mu.Unlock()
	}
	return p.Client.SetOnline(ctx, userID, delta)
}

type hubFixture struct {
	store    *memory.Client
	presence *countingPresence
	hub      *Hub
	srv      *httptest.Server
	cancel   context.CancelFunc
	stopped  chan struct{}
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	store := memory.New()
	presence := &countingPresence{Client: store}
	bus := feed.NewMemoryBus()
	svc := service.New(store, presence, bus, nil, service.Options{})
	hub := NewHub(svc, bus, 10)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		hub.Run(ctx)
	}()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(hub, conn, r.URL.Query().Get("user"), 8)
		c.Start()
		hub.Register(c)
	}))
	f := &hubFixture{store: store, presence: presence, hub: hub, srv: srv, cancel: cancel, stopped: stopped}
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-stopped
		_ = bus.Close()
	})
	return f
}

func (f *hubFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *hubFixture) online(t *testing.T, userID string) bool {
	t.Helper()
	got, err := f.store.OnlineUsers(context.Background(), []string{userID})
	require.NoError(t, err)
	return got[userID]
}

func TestShutdownReleasesPresence(t *testing.T) {
	f := newHubFixture(t)
	f.dial(t, "u1")
	f.dial(t, "u1")
	f.dial(t, "u2")
	require.Eventually(t, func() bool {
		return f.hub.Connections() == 3 && f.online(t, "u1") && f.online(t, "u2")
	}, 2*time.Second, 10*time.Millisecond)

	f.cancel()
	select {
	case <-f.stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("hub did not stop")
	}

	assert.False(t, f.online(t, "u1"))
	assert.False(t, f.online(t, "u2"))
	assert.Equal(t, 0, f.hub.Connections())
}

func TestDisconnectReleasesPresence(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "u1")
	require.Eventually(t, func() bool { return f.online(t, "u1") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !f.online(t, "u1") }, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshPresenceTouchesConnectedUsers(t *testing.T) {
	f := newHubFixture(t)
	f.dial(t, "u1")
	require.Eventually(t, func() bool { return f.online(t, "u1") }, 2*time.Second, 10*time.Millisecond)

	f.hub.refreshPresence()

	f.presence.mu.Lock()
	defer f.presence.mu.Unlock()
	assert.Equal(t, []string{"u1"}, f.presence.refreshed)
	assert.True(t, f.online(t, "u1"))
}

func TestClosedClientIsNotCounted(t *testing.T) {
	f := newHubFixture(t)
	c := &Client{userID: "u9", closed: make(chan struct{}), topics: map[string]struct{}{}}
	close(c.closed)

	f.hub.addClient(c)
	assert.Equal(t, 0, f.hub.Connections())
	assert.False(t, f.online(t, "u9"))
}
