package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage/memory"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu    sync.Mutex
	users []string
}

func (n *recordingNotifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	n.mu.Lock()
	n.users = append(n.users, userID)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.users)
}

type fixture struct {
	svc      *Service
	store    *memory.Client
	bus      *feed.MemoryBus
	clock    *fakeClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.New()
	store.SetClock(clock.Now)
	bus := feed.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })
	notifier := &recordingNotifier{}
	svc := New(store, store, bus, notifier, Options{Clock: clock.Now})
	return &fixture{svc: svc, store: store, bus: bus, clock: clock, notifier: notifier}
}

func (f *fixture) user(t *testing.T, name string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, f.store.UpsertUser(context.Background(), &model.User{ID: id, Username: name, CreatedAt: f.clock.Now()}))
	return id
}

func (f *fixture) room(t *testing.T, owner, name string, private bool) string {
	t.Helper()
	v, err := f.svc.Rooms.CreateRoom(context.Background(), owner, name, private)
	require.NoError(t, err)
	return v.ID
}

func (f *fixture) join(t *testing.T, userID, roomID string) {
	t.Helper()
	_, err := f.svc.Memberships.RequestJoin(context.Background(), userID, roomID)
	require.NoError(t, err)
}
