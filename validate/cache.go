package validate

import (
	"context"
	"sync"
)

// Cache maps snapshot identity keys to validation Results for the lifetime
// of a session. Keys are write-once: the first stored Result wins.
//
// Do adds a per-key in-flight guard so that two logical requests for the
// same key never issue two remote calls, even if the caller is ported to a
// concurrent snapshot source. The critical section is limited to the
// read-check/write of a single key; the remote call itself runs unlocked.
type Cache struct {
	mu       sync.Mutex
	results  map[string]Result
	inflight map[string]chan struct{}
}

// NewCache creates an empty session cache.
func NewCache() *Cache {
	return &Cache{
		results:  make(map[string]Result),
		inflight: make(map[string]chan struct{}),
	}
}

// Get returns the cached Result for key.
func (c *Cache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[key]
	return r, ok
}

// Put stores a Result for key. Returns false if the key was already present;
// the existing Result is kept.
func (c *Cache) Put(key string, r Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.results[key]; exists {
		return false
	}
	c.results[key] = r
	return true
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// Reset drops all cached results. In-flight calls are unaffected; their
// results land in the fresh map.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = make(map[string]Result)
}

// Do returns the cached Result for key, or runs fn to produce one. If
// another Do for the same key is already running fn, this call waits for it
// instead of issuing a duplicate. fn errors are returned as-is and nothing
// is cached, so the next Do for the key tries again.
//
// The second return value reports whether the Result came from the cache.
func (c *Cache) Do(ctx context.Context, key string, fn func(context.Context) (Result, error)) (Result, bool, error) {
	for {
		c.mu.Lock()
		if r, ok := c.results[key]; ok {
			c.mu.Unlock()
			return r, true, nil
		}
		if wait, ok := c.inflight[key]; ok {
			c.mu.Unlock()
			select {
			case <-wait:
				// First caller finished; re-check. If it failed without
				// caching, this caller takes over the slot.
				continue
			case <-ctx.Done():
				return Result{}, false, ctx.Err()
			}
		}
		done := make(chan struct{})
		c.inflight[key] = done
		c.mu.Unlock()

		r, err := fn(ctx)

		c.mu.Lock()
		delete(c.inflight, key)
		if err == nil {
			if _, exists := c.results[key]; !exists {
				c.results[key] = r
			}
		}
		c.mu.Unlock()
		close(done)

		return r, false, err
	}
}
