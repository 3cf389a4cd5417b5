package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
)

// CachePolicy controls when a cached invoke result is dropped. Zero fields disable the rule.
type CachePolicy struct {
	// TTL drops a result this long after it was fetched.
	TTL time.Duration
	// MaxCalls drops a result once it was requested this many times, the fetching call included.
	MaxCalls int
}

// Caches groups cached invokes so they can be invalidated together.
type Caches struct {
	mu      sync.Mutex
	members []interface{ Invalidate() }
}

// InvalidateAll drops every result of every cache in the group.
func (c *Caches) InvalidateAll() {
	c.mu.Lock()
	members := append([]interface{ Invalidate() }(nil), c.members...)
	c.mu.Unlock()

	for _, m := range members {
		m.Invalidate()
	}
}

func (c *Caches) add(m interface{ Invalidate() }) {
	c.mu.Lock()
	c.members = append(c.members, m)
	c.mu.Unlock()
}

// Cached memoises the results of an invoke endpoint per encoded input.
type Cached[I, O any] struct {
	e      *Endpoint
	policy CachePolicy
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	data  []byte
	at    time.Time
	calls int
}

// Cache wraps the invoke endpoint e. When set is not nil the cache joins it.
func Cache[I, O any](set *Caches, e *Endpoint, policy CachePolicy) *Cached[I, O] {
	c := &Cached[I, O]{
		e:       e,
		policy:  policy,
		now:     time.Now,
		entries: make(map[string]*cacheEntry),
	}

	if set != nil {
		set.add(c)
	}

	return c
}

// Call returns the cached result for in, invoking the endpoint when there is none or it expired.
func (c *Cached[I, O]) Call(ctx context.Context, in I) (O, error) {
	var out O

	if err := c.e.expect(cbridge.Invoke); err != nil {
		return out, err
	}

	key, err := c.e.codec.Marshal(in)
	if err != nil {
		return out, fmt.Errorf("invoke %s: %w", c.e.channel, err)
	}

	if data, ok := c.lookup(string(key)); ok {
		if err := c.e.codec.Unmarshal(data, &out); err == nil {
			return out, nil
		}

		var zero O
		out = zero
	}

	data, err := c.e.invoke(ctx, key)
	if err != nil {
		return out, err
	}

	if err := c.e.codec.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("invoke %s: %w", c.e.channel, err)
	}

	c.mu.Lock()
	c.entries[string(key)] = &cacheEntry{data: data, at: c.now(), calls: 1}
	c.mu.Unlock()

	return out, nil
}

func (c *Cached[I, O]) lookup(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	ent.calls++

	expired := c.policy.TTL > 0 && c.now().Sub(ent.at) >= c.policy.TTL
	spent := c.policy.MaxCalls > 0 && ent.calls > c.policy.MaxCalls

	if expired || spent {
		delete(c.entries, key)
		return nil, false
	}

	return ent.data, true
}

// Invalidate drops every cached result.
func (c *Cached[I, O]) Invalidate() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}
