// Package memo provides a per-operation result cache with single-flight fills.
//
// A Memo is keyed by a normalized request descriptor (see Key). Concurrent
// first accesses to the same key collapse into one call of the fill function;
// later accesses return the stored value. Failed fills are not stored, so the
// next caller retries.
//
// Entries live for the lifetime of the Memo. There is no invalidation: the
// remote metadata cached here (projects, types, schemas) is assumed stable for
// the duration of one process.
package memo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

type Memo[V any] struct {
	mu sync.RWMutex
	m  map[string]V

	sf singleflight.Group
}

func New[V any]() *Memo[V] {
	return &Memo[V]{m: map[string]V{}}
}

// Key joins descriptor parts into a normalized cache key.
func Key(parts ...any) string {
	ss := make([]string, len(parts))
	for i, p := range parts {
		ss[i] = strings.TrimSpace(fmt.Sprint(p))
	}
	return strings.Join(ss, "\x1f")
}

// Peek returns the stored value for key without filling.
func (c *Memo[V]) Peek(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

// Get returns the stored value for key, calling fill at most once per key
// while a fill is in flight.
//
// The fill runs with the context of the caller that started it. If that
// caller is cancelled, waiters sharing the flight see the same error.
func (c *Memo[V]) Get(ctx context.Context, key string, fill func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Peek(key); ok {
		return v, nil
	}

	ch := c.sf.DoChan(key, func() (any, error) {
		// A previous flight may have stored the value between Peek and DoChan.
		if v, ok := c.Peek(key); ok {
			return v, nil
		}
		v, err := fill(ctx)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		if c.m == nil {
			c.m = map[string]V{}
		}
		c.m[key] = v
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Len reports the number of stored entries.
func (c *Memo[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
