package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

const (
	// TypingTTL bounds how long an idle typing set survives; freshness itself is decided by readers.
	TypingTTL = 30 * time.Second
	// OnlineTTL expires online counters whose hub stopped refreshing them.
	OnlineTTL = 2 * time.Minute
)

type Client struct {
	cli *redis.Client
}

var _ storage.PresenceStore = (*Client)(nil)

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Raw exposes the connection for the feed bus and the push subscription store.
func (c *Client) Raw() *redis.Client { return c.cli }

func (c *Client) Close() error {
	return c.cli.Close()
}

func typingKey(roomID string) string { return "typing:" + roomID }
func onlineKey(userID string) string { return "online:" + userID }

// SetTyping keeps one sorted set per room scored by the update time in milliseconds.
func (c *Client) SetTyping(ctx context.Context, st model.TypingStatus) error {
	key := typingKey(st.RoomID)
	if !st.IsTyping {
		return c.cli.ZRem(ctx, key, st.UserID).Err()
	}
	pipe := c.cli.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(st.UpdatedAt.UnixMilli()), Member: st.UserID})
	pipe.Expire(ctx, key, TypingTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Client) ListTyping(ctx context.Context, roomID string, since time.Time) ([]model.TypingStatus, error) {
	key := typingKey(roomID)
	// Drop rows older than the TTL so idle members do not accumulate.
	cutoff := time.Now().Add(-TypingTTL).UnixMilli()
	if err := c.cli.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, err
	}
	zs, err := c.cli.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.TypingStatus, 0, len(zs))
	for _, z := range zs {
		uid, _ := z.Member.(string)
		out = append(out, model.TypingStatus{
			RoomID:    roomID,
			UserID:    uid,
			IsTyping:  true,
			UpdatedAt: time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return out, nil
}

// SetOnline counts live connections per user; the key disappears when the count drops to zero
// or when nobody refreshes it within OnlineTTL.
func (c *Client) SetOnline(ctx context.Context, userID string, delta int) error {
	key := onlineKey(userID)
	pipe := c.cli.TxPipeline()
	incr := pipe.IncrBy(ctx, key, int64(delta))
	pipe.Expire(ctx, key, OnlineTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if n := incr.Val(); n <= 0 {
		return c.cli.Del(ctx, key).Err()
	}
	return nil
}

func (c *Client) OnlineUsers(ctx context.Context, userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = onlineKey(id)
	}
	vals, err := c.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if n, _ := strconv.Atoi(s); n > 0 {
			out[userIDs[i]] = true
		}
	}
	return out, nil
}
