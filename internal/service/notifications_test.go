package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationsScopedToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")
	roomID := f.room(t, a, "General", false)
	f.join(t, b, roomID)

	list, err := f.svc.Notifications.List(ctx, a, false, 0)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, 1, list.Unread)
	id := list.Items[0].ID

	assert.ErrorIs(t, f.svc.Notifications.MarkRead(ctx, id, b), ErrNotFound)
	assert.ErrorIs(t, f.svc.Notifications.DeleteOne(ctx, id, b), ErrNotificationNotFound)
	assert.ErrorIs(t, f.svc.Notifications.MarkRead(ctx, uuid.NewString(), a), ErrNotFound)

	require.NoError(t, f.svc.Notifications.MarkRead(ctx, id, a))
	n, err := f.svc.Notifications.UnreadCount(ctx, a)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, f.svc.Notifications.MarkUnread(ctx, id, a))
	n, err = f.svc.Notifications.UnreadCount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, f.svc.Notifications.DeleteOne(ctx, id, a))
	list, err = f.svc.Notifications.List(ctx, a, false, 0)
	require.NoError(t, err)
	assert.Empty(t, list.Items)
}

func TestMarkAllAndDeleteAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")
	roomID := f.room(t, a, "General", false)
	f.join(t, b, roomID)
	for i := 0; i < 3; i++ {
		_, err := f.svc.Messages.Send(ctx, b, model.RoomChannel(roomID), "ping")
		require.NoError(t, err)
	}

	changed, err := f.svc.Notifications.MarkAllRead(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(4), changed)

	unread, err := f.svc.Notifications.List(ctx, a, true, 0)
	require.NoError(t, err)
	assert.Empty(t, unread.Items)

	// b's notifications are untouched
	deleted, err := f.svc.Notifications.DeleteAll(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = f.svc.Notifications.DeleteAll(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
}

func TestBulkNotificationChangesArePublished(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, b := f.user(t, "a"), f.user(t, "b")
	f.join(t, b, f.room(t, a, "General", false))

	sub, err := f.bus.Subscribe(ctx)
	require.NoError(t, err)
	_, err = f.svc.Notifications.MarkAllRead(ctx, a)
	require.NoError(t, err)
	_, err = f.svc.Notifications.DeleteAll(ctx, a)
	require.NoError(t, err)

	var ops []feed.Op
	timeout := time.After(time.Second)
	for len(ops) < 2 {
		select {
		case ev := <-sub.C():
			if ev.Topic != feed.UserTopic(a) || ev.Table != feed.TableNotifications {
				continue
			}
			assert.Equal(t, feed.KeyAll, ev.Key)
			ops = append(ops, ev.Op)
		case <-timeout:
			t.Fatalf("bulk events missing, got %v", ops)
		}
	}
	assert.Equal(t, []feed.Op{feed.OpUpdate, feed.OpDelete}, ops)
}
