package startup

import (
	"context"
	"time"

	redisstorage "github.com/roomchat/internal/storage/redis"
)

// ConnectRedis connects and pings Redis, retrying until maxWait.
func ConnectRedis(ctx context.Context, redisURL string, maxWait time.Duration) (*redisstorage.Client, error) {
	var client *redisstorage.Client
	err := Retry(ctx, "redis connect", maxWait, func(ctx context.Context) error {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(connectCtx, redisURL)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	return client, err
}
