package jwks

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultCacheDuration is how long a successful fetch stays fresh.
const DefaultCacheDuration = 60 * time.Second

var (
	ErrNoHosts = errors.New("jwks: no core hosts configured")
	// ErrKeyNotFound is returned when a key id is absent even after a forced refetch.
	ErrKeyNotFound = errors.New("jwks: signing key not found")
	// ErrAllHostsFailed wraps the last replica error once every host has been tried.
	ErrAllHostsFailed = errors.New("jwks: all core hosts failed")
)

//
// Key instances are immutable once fetched. Multiple keys may be valid at
// the same time during rotation overlap.
type Key struct {
	ID        string
	PublicKey ed25519.PublicKey
	CreatedAt int64 // whole seconds since epoch
	Expiry    int64 // whole seconds since epoch, 0 means never
}

// Fetch retrieves the current key set from a single core host. A malformed
// response must surface as an error so the cache falls over to the next host.
type Fetch func(ctx context.Context, host string) ([]Key, error)

// Options configures a Cache. The zero value is usable.
type Options struct {
	CacheDuration time.Duration    // defaults to DefaultCacheDuration
	Now           func() time.Time // defaults to time.Now
	OnHit         func()
	OnMiss        func()
	OnFallover    func(host string, err error)
}

type fetchCall struct {
	done chan struct{}
	keys []Key
	err  error
}

//
// Cache methods are safe for concurrent use. At most one fetch is in flight
// at any time; concurrent callers share its result.
type Cache struct {
	hosts []string
	fetch Fetch
	ttl   time.Duration
	now   func() time.Time

	onHit      func()
	onMiss     func()
	onFallover func(string, error)

	mu          sync.Mutex
	keys        []Key
	lastFetched time.Time
	inflight    *fetchCall
}

// NewCache builds a key cache over the given replica hosts. The returned
// Cache performs no I/O until the first key lookup.
func NewCache(hosts []string, fetch Fetch, opts Options) (*Cache, error) {
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}
	if fetch == nil {
		return nil, errors.New("jwks: nil fetch")
	}
	if opts.CacheDuration <= 0 {
		opts.CacheDuration = DefaultCacheDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache{
		hosts:      append([]string(nil), hosts...),
		fetch:      fetch,
		ttl:        opts.CacheDuration,
		now:        opts.Now,
		onHit:      opts.OnHit,
		onMiss:     opts.OnMiss,
		onFallover: opts.OnFallover,
	}
	return c, nil
}

// GetKeys returns the cached key set, refreshing it first when the cache
// window has elapsed or nothing has been fetched yet.
func (c *Cache) GetKeys(ctx context.Context) ([]Key, error) {
	c.mu.Lock()
	if !c.lastFetched.IsZero() && c.now().Sub(c.lastFetched) < c.ttl {
		keys := c.keys
		c.mu.Unlock()
		if c.onHit != nil {
			c.onHit()
		}
		return keys, nil
	}
	c.mu.Unlock()

	if c.onMiss != nil {
		c.onMiss()
	}
	return c.refresh(ctx)
}

// GetKeyByID resolves one signing key. An unknown id forces a single
// refetch, bypassing the cache window; if the id is still absent the call
// fails with ErrKeyNotFound and the caller should fall back to remote
// verification. Keys already served stay usable for the remainder of the
// request even if a later refetch drops them.
func (c *Cache) GetKeyByID(ctx context.Context, keyID string) (Key, error) {
	keys, err := c.GetKeys(ctx)
	if err != nil {
		return Key{}, err
	}
	if k, ok := findKey(keys, keyID); ok {
		return k, nil
	}

	keys, err = c.refresh(ctx)
	if err != nil {
		return Key{}, err
	}
	if k, ok := findKey(keys, keyID); ok {
		return k, nil
	}
	return Key{}, fmt.Errorf("%w: kid %q", ErrKeyNotFound, keyID)
}

// InvalidateIfOlderThan drops the cached key set when it was fetched before
// ts. The next lookup refetches.
func (c *Cache) InvalidateIfOlderThan(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastFetched.IsZero() && c.lastFetched.Before(ts) {
		c.keys = nil
		c.lastFetched = time.Time{}
	}
}

// refresh deduplicates concurrent fetches: the first caller issues the
// network round trip, everyone else waits on the same in-flight call.
func (c *Cache) refresh(ctx context.Context) ([]Key, error) {
	c.mu.Lock()
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.keys, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &fetchCall{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	keys, err := c.fetchAll(ctx)

	c.mu.Lock()
	if err == nil {
		// all-or-nothing swap: a failed fetch never clobbers cached keys
		c.keys = keys
		c.lastFetched = c.now()
	}
	c.inflight = nil
	c.mu.Unlock()

	call.keys, call.err = keys, err
	close(call.done)
	return keys, err
}

func (c *Cache) fetchAll(ctx context.Context) ([]Key, error) {
	var lastErr error
	for _, host := range c.hosts {
		keys, err := c.fetch(ctx, host)
		if err == nil {
			if len(keys) == 0 {
				err = fmt.Errorf("host %s returned an empty key set", host)
			} else {
				return keys, nil
			}
		}
		lastErr = err
		if c.onFallover != nil {
			c.onFallover(host, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllHostsFailed, lastErr)
}

func findKey(keys []Key, keyID string) (Key, bool) {
	for _, k := range keys {
		if k.ID == keyID {
			return k, true
		}
	}
	return Key{}, false
}
