// Package reqcache memoizes lookups for the lifetime of one request. The cache
// travels in the request context; without one, lookups go straight through.
package reqcache

import (
	"context"
	"sync"
)

type ctxKey struct{}

type entryKey struct {
	namespace string
	key       any
}

type entry struct {
	once  sync.Once
	value any
	err   error
}

type cache struct {
	mu      sync.Mutex
	entries map[entryKey]*entry
}

// WithCache returns a child context carrying an empty cache. Calling it on a
// context that already has one returns ctx unchanged.
func WithCache(ctx context.Context) context.Context {
	if _, ok := ctx.Value(ctxKey{}).(*cache); ok {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, &cache{entries: map[entryKey]*entry{}})
}

// Memo returns fn's result for (namespace, key), calling fn at most once per
// cache. Errors are not cached.
func Memo[K comparable, V any](ctx context.Context, namespace string, key K, fn func(context.Context) (V, error)) (V, error) {
	c, ok := ctx.Value(ctxKey{}).(*cache)
	if !ok {
		return fn(ctx)
	}

	k := entryKey{namespace: namespace, key: key}

	c.mu.Lock()
	e, ok := c.entries[k]
	if !ok {
		e = &entry{}
		c.entries[k] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.value, e.err = fn(ctx)
	})

	if e.err != nil {
		c.mu.Lock()
		if c.entries[k] == e {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		var zero V
		return zero, e.err
	}
	return e.value.(V), nil
}

// Forget drops every cached entry of namespace, used after a write.
func Forget(ctx context.Context, namespace string) {
	c, ok := ctx.Value(ctxKey{}).(*cache)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.namespace == namespace {
			delete(c.entries, k)
		}
	}
}
