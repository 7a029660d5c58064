package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func seedRoom(t *testing.T, c *Client, id, owner string, private bool) {
	t.Helper()
	require.NoError(t, c.CreateRoom(context.Background(), &model.Room{ID: id, Name: id, IsPrivate: private, CreatedBy: owner, CreatedAt: t0}))
}

func TestConcurrentInsertKeepsOneRecord(t *testing.T) {
	c := New()
	seedRoom(t, c, "r1", "owner", false)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, conflicts int
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.InsertMembership(context.Background(), &model.Membership{RoomID: "r1", UserID: "bob", Status: model.MembershipAccepted, CreatedAt: t0}, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, storage.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 19, conflicts)

	ids, err := c.AcceptedMemberIDs(context.Background(), "r1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"owner", "bob"}, ids)
}

func TestInsertIntoMissingRoom(t *testing.T) {
	c := New()
	_, err := c.InsertMembership(context.Background(), &model.Membership{RoomID: "nope", UserID: "bob", Status: model.MembershipPending, CreatedAt: t0}, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteMembershipFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	c := New()
	seedRoom(t, c, "r1", "owner", true)
	_, err := c.InsertMembership(ctx, &model.Membership{RoomID: "r1", UserID: "bob", Status: model.MembershipPending, CreatedAt: t0}, nil)
	require.NoError(t, err)

	deleted, _, err := c.DeleteMembership(ctx, "r1", "bob", []model.MembershipStatus{model.MembershipAccepted}, nil)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, _, err = c.DeleteMembership(ctx, "r1", "bob", []model.MembershipStatus{model.MembershipPending}, nil)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, _, err = c.DeleteMembership(ctx, "r1", "bob", nil, nil)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCreateMessageFanout(t *testing.T) {
	ctx := context.Background()
	c := New()
	seedRoom(t, c, "r1", "alice", false)
	for _, u := range []string{"bob", "carol"} {
		_, err := c.InsertMembership(ctx, &model.Membership{RoomID: "r1", UserID: u, Status: model.MembershipAccepted, CreatedAt: t0}, nil)
		require.NoError(t, err)
	}
	_, err := c.InsertMembership(ctx, &model.Membership{RoomID: "r1", UserID: "dave", Status: model.MembershipPending, CreatedAt: t0}, nil)
	require.NoError(t, err)

	room := "r1"
	notes, err := c.CreateMessage(ctx,
		&model.Message{ID: "m1", RoomID: &room, SenderID: "alice", Content: "hi", Status: model.MessageStatusSent, CreatedAt: t0},
		&model.Fanout{Type: model.NotificationNewMessage, SenderID: "alice", RoomID: "r1", Message: "hi"})
	require.NoError(t, err)
	recipients := []string{}
	for _, n := range notes {
		recipients = append(recipients, n.UserID)
	}
	assert.ElementsMatch(t, []string{"bob", "carol"}, recipients)

	_, err = c.CreateMessage(ctx, &model.Message{ID: "m2", RoomID: &room, SenderID: "dave", Content: "x", CreatedAt: t0}, nil)
	assert.ErrorIs(t, err, storage.ErrNotAMember)

	// notifications are owner scoped
	assert.ErrorIs(t, c.SetNotificationStatus(ctx, notes[0].ID, "alice", model.NotificationRead), storage.ErrNotFound)
	require.NoError(t, c.SetNotificationStatus(ctx, notes[0].ID, notes[0].UserID, model.NotificationRead))
	n, err := c.CountUnread(ctx, notes[0].UserID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestListMessagesBreaksTimestampTies(t *testing.T) {
	ctx := context.Background()
	c := New()
	seedRoom(t, c, "r1", "alice", false)
	room := "r1"
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := c.CreateMessage(ctx, &model.Message{ID: id, RoomID: &room, SenderID: "alice", Content: id, CreatedAt: t0}, nil)
		require.NoError(t, err)
	}
	first, err := c.ListMessages(ctx, model.RoomChannel("r1"), nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "d", first[0].ID)
	assert.Equal(t, "c", first[1].ID)

	second, err := c.ListMessages(ctx, model.RoomChannel("r1"), &model.Cursor{Before: t0, BeforeID: "c"}, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "b", second[0].ID)
	assert.Equal(t, "a", second[1].ID)
}

func TestTypingExpiry(t *testing.T) {
	ctx := context.Background()
	c := New()
	now := t0
	c.SetClock(func() time.Time { return now })

	require.NoError(t, c.SetTyping(ctx, model.TypingStatus{RoomID: "r1", UserID: "bob", IsTyping: true, UpdatedAt: now}))
	rows, err := c.ListTyping(ctx, "r1", now.Add(-10*time.Second))
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	now = now.Add(time.Minute)
	rows, err = c.ListTyping(ctx, "r1", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestOnlineCounts(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.NoError(t, c.SetOnline(ctx, "bob", 1))
	require.NoError(t, c.SetOnline(ctx, "bob", 1))
	require.NoError(t, c.SetOnline(ctx, "bob", -1))
	online, err := c.OnlineUsers(ctx, []string{"bob", "carol"})
	require.NoError(t, err)
	assert.True(t, online["bob"])
	assert.False(t, online["carol"])
	require.NoError(t, c.SetOnline(ctx, "bob", -1))
	online, err = c.OnlineUsers(ctx, []string{"bob"})
	require.NoError(t, err)
	assert.False(t, online["bob"])
}
