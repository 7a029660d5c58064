package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff(t *testing.T) {
	prevInitial, prevMax := initialBackoff, maxBackoff
	initialBackoff, maxBackoff = time.Millisecond, 4*time.Millisecond
	t.Cleanup(func() { initialBackoff, maxBackoff = prevInitial, prevMax })
}

func TestRetryEventuallySucceeds(t *testing.T) {
	fastBackoff(t)
	calls := 0
	err := Retry(context.Background(), "probe", time.Second, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	fastBackoff(t)
	boom := errors.New("down")
	err := Retry(context.Background(), "probe", 20*time.Millisecond, func(context.Context) error { return boom })
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRetryStopsOnCancel(t *testing.T) {
	fastBackoff(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "probe", time.Minute, func(context.Context) error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}
