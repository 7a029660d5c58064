package feed

import (
	"sync"
	"time"
)

type entry[T any] struct {
	val T
	at  time.Time
}

// Cache is a client-side view of rows keyed by id, kept current by folding events into it.
// Inserts and updates are last-write-wins on Event.At; events older than the stored row are
// ignored. A delete removes the row and remembers its time so a late insert cannot resurrect it.
type Cache[T any] struct {
	mu      sync.RWMutex
	rows    map[string]entry[T]
	deleted map[string]time.Time
}

func NewCache[T any]() *Cache[T] {
	return &Cache[T]{rows: make(map[string]entry[T]), deleted: make(map[string]time.Time)}
}

// Apply folds ev into the cache and reports whether the cache changed.
//
// A KeyAll event covers every row: a delete removes them all behind tombstones, an update drops
// them so the holder refetches.
func (c *Cache[T]) Apply(ev Event) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Key == KeyAll {
		changed := false
		for key, cur := range c.rows {
			if ev.At.Before(cur.at) {
				continue
			}
			delete(c.rows, key)
			if ev.Op == OpDelete {
				c.deleted[key] = ev.At
			}
			changed = true
		}
		return changed, nil
	}
	if at, ok := c.deleted[ev.Key]; ok && !ev.At.After(at) {
		return false, nil
	}
	cur, exists := c.rows[ev.Key]
	if exists && ev.At.Before(cur.at) {
		return false, nil
	}
	switch ev.Op {
	case OpDelete:
		delete(c.rows, ev.Key)
		c.deleted[ev.Key] = ev.At
		return exists, nil
	default:
		var v T
		if err := ev.Decode(&v); err != nil {
			return false, err
		}
		delete(c.deleted, ev.Key)
		c.rows[ev.Key] = entry[T]{val: v, at: ev.At}
		return true, nil
	}
}

// Put seeds the cache from an initial fetch.
func (c *Cache[T]) Put(key string, v T, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.rows[key]; ok && at.Before(cur.at) {
		return
	}
	c.rows[key] = entry[T]{val: v, at: at}
}

func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.rows[key]
	return e.val, ok
}

func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

// Values returns a snapshot of all rows in unspecified order.
func (c *Cache[T]) Values() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.rows))
	for _, e := range c.rows {
		out = append(out, e.val)
	}
	return out
}
