package push

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	MaxSubscriptionsPerUser = 10
	SubscriptionTTL         = 30 * 24 * time.Hour
	redisKeyPrefix          = "push:subs:"
)

// SubscriptionStore keeps browser subscriptions per user, keyed by endpoint.
type SubscriptionStore interface {
	Add(ctx context.Context, userID string, sub Subscription) error
	Remove(ctx context.Context, userID, endpoint string) error
	List(ctx context.Context, userID string) ([]Subscription, error)
}

type storedSubscription struct {
	Subscription
	AddedAt time.Time `json:"added_at"`
}

// RedisStore keeps subscriptions in a hash push:subs:<user> of endpoint → JSON.
// The oldest entry is evicted past MaxSubscriptionsPerUser.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func (s *RedisStore) entries(ctx context.Context, key string) (map[string]storedSubscription, error) {
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]storedSubscription, len(raw))
	for endpoint, v := range raw {
		var st storedSubscription
		if json.Unmarshal([]byte(v), &st) == nil {
			out[endpoint] = st
		}
	}
	return out, nil
}

func (s *RedisStore) Add(ctx context.Context, userID string, sub Subscription) error {
	key := redisKeyPrefix + userID
	existing, err := s.entries(ctx, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(storedSubscription{Subscription: sub, AddedAt: s.now()})
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	delete(existing, sub.Endpoint)
	for _, endpoint := range oldest(existing, len(existing)+1-MaxSubscriptionsPerUser) {
		pipe.HDel(ctx, key, endpoint)
	}
	pipe.HSet(ctx, key, sub.Endpoint, string(raw))
	pipe.Expire(ctx, key, SubscriptionTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Remove(ctx context.Context, userID, endpoint string) error {
	return s.rdb.HDel(ctx, redisKeyPrefix+userID, endpoint).Err()
}

func (s *RedisStore) List(ctx context.Context, userID string) ([]Subscription, error) {
	existing, err := s.entries(ctx, redisKeyPrefix+userID)
	if err != nil {
		return nil, err
	}
	return sortedSubscriptions(existing), nil
}

// oldest returns the n endpoints with the earliest AddedAt.
func oldest(entries map[string]storedSubscription, n int) []string {
	if n <= 0 {
		return nil
	}
	subs := sortedEntries(entries)
	out := make([]string, 0, n)
	for i := 0; i < n && i < len(subs); i++ {
		out = append(out, subs[i].Endpoint)
	}
	return out
}

func sortedEntries(entries map[string]storedSubscription) []storedSubscription {
	out := make([]storedSubscription, 0, len(entries))
	for _, st := range entries {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].Endpoint < out[j].Endpoint
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out
}

func sortedSubscriptions(entries map[string]storedSubscription) []Subscription {
	sorted := sortedEntries(entries)
	out := make([]Subscription, len(sorted))
	for i, st := range sorted {
		out[i] = st.Subscription
	}
	return out
}

// MemoryStore is a SubscriptionStore for a push service running without Redis.
type MemoryStore struct {
	mu   sync.Mutex
	subs map[string]map[string]storedSubscription
	seq  time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]map[string]storedSubscription)}
}

func (s *MemoryStore) Add(_ context.Context, userID string, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.subs[userID]
	if entries == nil {
		entries = make(map[string]storedSubscription)
		s.subs[userID] = entries
	}
	delete(entries, sub.Endpoint)
	for _, endpoint := range oldest(entries, len(entries)+1-MaxSubscriptionsPerUser) {
		delete(entries, endpoint)
	}
	// strictly increasing so that insertion order survives equal wall-clock readings
	now := time.Now()
	if !now.After(s.seq) {
		now = s.seq.Add(time.Nanosecond)
	}
	s.seq = now
	entries[sub.Endpoint] = storedSubscription{Subscription: sub, AddedAt: now}
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, userID, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[userID], endpoint)
	return nil
}

func (s *MemoryStore) List(_ context.Context, userID string) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedSubscriptions(s.subs[userID]), nil
}
