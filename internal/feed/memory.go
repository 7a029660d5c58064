package feed

import (
	"context"
	"sync"

	"github.com/roomchat/internal/logger"
)

// subscriberBuffer is the per-subscription backlog; a subscriber that falls further behind
// loses events.
const subscriberBuffer = 256

// MemoryBus is a Bus for a single process.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*Subscription]struct{})}
}

func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			logger.Errorf("feed: subscriber backlog full, dropping %s %s", ev.Table, ev.Key)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{ch: make(chan Event, subscriberBuffer), stop: cancel}
	var once sync.Once
	s.cancel = func() {
		once.Do(func() {
			cancel()
			b.mu.Lock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
			b.mu.Unlock()
		})
	}
	b.subs[s] = struct{}{}
	go func() {
		<-ctx.Done()
		s.cancel()
	}()
	return s, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
		s.stop()
	}
	return nil
}
