package feed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/roomchat/internal/logger"
)

// RedisChannel is the pub/sub channel shared by every API instance.
const RedisChannel = "roomchat:feed"

// RedisBus broadcasts events through Redis pub/sub so that every API instance sees every event.
type RedisBus struct {
	cli *redis.Client

	mu     sync.Mutex
	subs   map[*Subscription]*redis.PubSub
	closed bool
}

func NewRedisBus(cli *redis.Client) *RedisBus {
	return &RedisBus{cli: cli, subs: make(map[*Subscription]*redis.PubSub)}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.cli.Publish(ctx, RedisChannel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	ps := b.cli.Subscribe(ctx, RedisChannel)
	// Wait for the confirmation so no event published after Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{ch: make(chan Event, subscriberBuffer), stop: cancel}
	var once sync.Once
	s.cancel = func() {
		once.Do(func() {
			cancel()
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			_ = ps.Close()
		})
	}

	b.mu.Lock()
	b.subs[s] = ps
	b.mu.Unlock()

	go func() {
		defer close(s.ch)
		defer s.cancel()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Errorf("feed: bad payload on %s: %v", RedisChannel, err)
					continue
				}
				select {
				case s.ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return s, nil
}

// Close ends every subscription. The Redis client itself is owned by the caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
	return nil
}
