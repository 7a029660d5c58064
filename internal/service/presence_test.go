package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingFreshness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")
	roomID := f.room(t, a, "General", false)
	f.join(t, b, roomID)

	require.NoError(t, f.svc.Presence.SetTyping(ctx, b, roomID, true))

	rows, err := f.svc.Presence.ListTyping(ctx, a, roomID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, b, rows[0].UserID)

	// the typist does not see themself
	rows, err = f.svc.Presence.ListTyping(ctx, b, roomID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	f.clock.Advance(DefaultTypingFreshness + time.Second)
	rows, err = f.svc.Presence.ListTyping(ctx, a, roomID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, f.svc.Presence.SetTyping(ctx, b, roomID, true))
	require.NoError(t, f.svc.Presence.SetTyping(ctx, b, roomID, false))
	rows, err = f.svc.Presence.ListTyping(ctx, a, roomID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTypingRequiresMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, outsider := f.user(t, "a"), f.user(t, "x")
	roomID := f.room(t, a, "General", false)

	assert.ErrorIs(t, f.svc.Presence.SetTyping(ctx, outsider, roomID, true), ErrNotAMember)
	_, err := f.svc.Presence.ListTyping(ctx, outsider, roomID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.user(t, "a"), f.user(t, "b"), f.user(t, "c")
	roomID := f.room(t, a, "General", false)
	f.join(t, b, roomID)
	f.join(t, c, roomID)

	f.svc.Presence.Connected(ctx, b)
	f.svc.Presence.Connected(ctx, b)
	f.svc.Presence.Connected(ctx, c)
	f.svc.Presence.Disconnected(ctx, b)
	f.svc.Presence.Disconnected(ctx, c)

	online, err := f.svc.Presence.ListOnline(ctx, a, roomID)
	require.NoError(t, err)
	assert.Equal(t, []string{b}, online)
}
