package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func event(t *testing.T, op Op, key, text string, at time.Time) Event {
	t.Helper()
	var payload any
	if op != OpDelete {
		payload = row{ID: key, Text: text}
	}
	ev, err := NewEvent("room:r1", TableMessages, op, key, at, payload)
	require.NoError(t, err)
	return ev
}

func receive(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return Event{}
}

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	a, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, bus.Publish(ctx, event(t, OpInsert, "m1", "hi", at)))
	require.NoError(t, bus.Publish(ctx, event(t, OpInsert, "m2", "there", at)))

	for _, s := range []*Subscription{a, b} {
		assert.Equal(t, "m1", receive(t, s).Key)
		assert.Equal(t, "m2", receive(t, s).Key)
	}

	a.Close()
	a.Close()
	_, ok := <-a.C()
	assert.False(t, ok)
	require.NoError(t, bus.Publish(ctx, event(t, OpInsert, "m3", "!", at)))
	assert.Equal(t, "m3", receive(t, b).Key)
}

func TestMemoryBusSubscriptionEndsWithContext(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	s, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()
	select {
	case _, ok := <-s.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestMemoryBusClose(t *testing.T) {
	bus := NewMemoryBus()
	s, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, bus.Close())
	_, ok := <-s.C()
	assert.False(t, ok)
	s.Close()
	assert.ErrorIs(t, bus.Publish(context.Background(), Event{}), ErrClosed)
	_, err = bus.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCacheLastWriteWins(t *testing.T) {
	c := NewCache[row]()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	changed, err := c.Apply(event(t, OpInsert, "m1", "v1", t0))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = c.Apply(event(t, OpUpdate, "m1", "v2", t0.Add(time.Second)))
	require.NoError(t, err)
	assert.True(t, changed)

	// a stale update arriving late is ignored
	changed, err = c.Apply(event(t, OpUpdate, "m1", "old", t0.Add(-time.Second)))
	require.NoError(t, err)
	assert.False(t, changed)
	got, ok := c.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Text)

	changed, err = c.Apply(event(t, OpDelete, "m1", "", t0.Add(2*time.Second)))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, c.Len())

	changed, err = c.Apply(event(t, OpInsert, "m1", "zombie", t0.Add(time.Second)))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, c.Values())
}

func TestEventDecodeWithoutRow(t *testing.T) {
	ev, err := NewEvent("user:u1", TableNotifications, OpDelete, "n1", time.Now(), nil)
	require.NoError(t, err)
	var r row
	assert.Error(t, ev.Decode(&r))
	assert.Equal(t, "user:u1", UserTopic("u1"))
}

func TestCacheBulkEvents(t *testing.T) {
	c := NewCache[row]()
	t0 := time.Now()
	for _, key := range []string{"a", "b"} {
		_, err := c.Apply(event(t, OpInsert, key, key, t0))
		require.NoError(t, err)
	}

	changed, err := c.Apply(Event{Topic: "user:u1", Table: TableNotifications, Op: OpDelete, Key: KeyAll, At: t0.Add(time.Second)})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Zero(t, c.Len())

	// inserts older than the bulk delete stay deleted
	changed, err = c.Apply(event(t, OpInsert, "a", "a", t0))
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = c.Apply(event(t, OpInsert, "c", "c", t0.Add(2*time.Second)))
	require.NoError(t, err)
	changed, err = c.Apply(Event{Op: OpUpdate, Key: KeyAll, At: t0.Add(3 * time.Second)})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Zero(t, c.Len())
}
