// Package cache provides an in-process memoizing cache with per-call TTLs
// and single-flight coalescing of concurrent fetches for the same key.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Recorder receives cache events. Implemented by observability.Metrics.
type Recorder interface {
	Hit(key string)
	Miss(key string)
	Coalesced(key string)
}

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.storedAt.Add(e.ttl))
}

// Memo is a keyed store with per-entry TTL and request coalescing. A single
// instance serves both short-lived transactional data and long-lived master
// data: the TTL is chosen per Get call, not per instance.
type Memo struct {
	mu      sync.Mutex
	entries map[string]entry
	// gens invalidates producers already in flight: a flight stores its
	// result only while the key's generation still matches the one it
	// started under. Invalidate and Clear bump generations.
	gens     map[string]uint64
	group    singleflight.Group
	recorder Recorder
	now      func() time.Time
}

// New constructs an empty Memo. The recorder may be nil.
func New(recorder Recorder) *Memo {
	return &Memo{
		entries:  make(map[string]entry),
		gens:     make(map[string]uint64),
		recorder: recorder,
		now:      time.Now,
	}
}

// Get returns the cached value for key when the entry is younger than ttl.
// Otherwise it invokes producer, coalescing concurrent calls for the same key
// into a single invocation whose result every waiter receives. A failed
// producer caches nothing; the next Get retries it.
//
// The producer runs detached from the caller's cancellation: once in flight it
// completes or fails on its own, and an abandoning caller only stops waiting.
func (m *Memo) Get(ctx context.Context, key string, ttl time.Duration, producer func(context.Context) (any, error)) (any, error) {
	m.mu.Lock()
	if e, ok := m.entries[key]; ok && !e.expired(m.now()) {
		m.mu.Unlock()
		m.record(func(r Recorder) { r.Hit(key) })
		return e.value, nil
	}
	// Registering the key means Clear can bump a generation for every
	// flight it needs to kill, even ones never invalidated before.
	gen := m.gens[key]
	m.gens[key] = gen
	m.mu.Unlock()
	m.record(func(r Recorder) { r.Miss(key) })

	ch := m.group.DoChan(key, func() (any, error) {
		value, err := producer(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.gens[key] == gen {
			m.entries[key] = entry{value: value, storedAt: m.now(), ttl: ttl}
		}
		m.mu.Unlock()
		return value, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			m.record(func(r Recorder) { r.Coalesced(key) })
		}
		return res.Val, nil
	}
}

// Invalidate drops any cached entry for key and fences out fetches already
// in flight, so the next Get always runs a fresh producer.
func (m *Memo) Invalidate(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.gens[key]++
	m.mu.Unlock()
	m.group.Forget(key)
}

// Clear removes every cached entry and fences out every in-flight fetch.
func (m *Memo) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	keys := make([]string, 0, len(m.gens))
	for key := range m.gens {
		m.gens[key]++
		keys = append(keys, key)
	}
	m.mu.Unlock()
	for _, key := range keys {
		m.group.Forget(key)
	}
}

func (m *Memo) record(fn func(Recorder)) {
	if m.recorder != nil {
		fn(m.recorder)
	}
}

// GetAs is a typed convenience wrapper around Memo.Get.
func GetAs[T any](ctx context.Context, m *Memo, key string, ttl time.Duration, producer func(context.Context) (T, error)) (T, error) {
	value, err := m.Get(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return producer(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: entry %q holds %T", key, value)
	}
	return typed, nil
}
