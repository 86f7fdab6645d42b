package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/rshare/internal/events"
	"github.com/roach88/rshare/internal/resource"
)

// Upstream is the parent context as seen from a child.
type Upstream interface {
	// Lookup asks the parent for key. It fails fast when the parent is
	// unreachable and never triggers a fetch in the parent.
	Lookup(ctx context.Context, key resource.Key) (resource.Content, error)
	// Publish pushes freshly fetched content to the parent. Fire and forget.
	Publish(key resource.Key, text string)
}

// Options configures a Coordinator.
type Options struct {
	Cache   *resource.Cache
	Fetcher Fetcher
	// Blobs resolves handle content received from the parent.
	Blobs *resource.BlobStore
	// Upstream is nil in a top context.
	Upstream Upstream

	RetryCount  int
	RetryDelay  time.Duration
	SizeCeiling int64

	Bus *events.Bus
}

// Coordinator serves resource loads for one context.
type Coordinator struct {
	cache    *resource.Cache
	fetcher  Fetcher
	blobs    *resource.BlobStore
	upstream Upstream
	retries  int
	delay    time.Duration
	ceiling  int64
	bus      *events.Bus

	group   singleflight.Group
	fetches atomic.Int64

	// life bounds every shared load; Close cancels it.
	life context.Context
	stop context.CancelFunc
}

// NewCoordinator creates a coordinator. A nil Cache gets a fresh one.
func NewCoordinator(opts Options) *Coordinator {
	cache := opts.Cache
	if cache == nil {
		cache = resource.NewCache()
	}
	retries := opts.RetryCount
	if retries < 0 {
		retries = 0
	}
	life, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		life:     life,
		stop:     cancel,
		cache:    cache,
		fetcher:  opts.Fetcher,
		blobs:    opts.Blobs,
		upstream: opts.Upstream,
		retries:  retries,
		delay:    opts.RetryDelay,
		ceiling:  opts.SizeCeiling,
		bus:      opts.Bus,
	}
}

// Cache returns the cache the coordinator fills.
func (c *Coordinator) Cache() *resource.Cache {
	return c.cache
}

// NetworkFetches returns the number of network attempts made so far.
func (c *Coordinator) NetworkFetches() int64 {
	return c.fetches.Load()
}

// Close cancels in-flight loads, including their retry waits. Loads that
// end after Close are neither cached nor published; later calls get
// ErrClosed.
func (c *Coordinator) Close() {
	c.stop()
}

// Load returns the content for key.
//
// Concurrent calls for the same key share one in-flight load and observe
// the same result. The shared load is bound to the coordinator, not to
// ctx: ctx only bounds how long this caller waits.
func (c *Coordinator) Load(ctx context.Context, key resource.Key) (resource.Content, error) {
	if v, ok := c.cache.Get(key); ok {
		c.bus.Logf(events.CategoryCache, "cache hit %s", key)
		return v, nil
	}
	if c.life.Err() != nil {
		return resource.Content{}, fmt.Errorf("load %s: %w", key, ErrClosed)
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.load(c.life, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return resource.Content{}, res.Err
		}
		if res.Shared {
			c.bus.Logf(events.CategoryCache, "joined in-flight load %s", key)
		}
		return res.Val.(resource.Content), nil
	case <-ctx.Done():
		return resource.Content{}, ctx.Err()
	}
}

// LoadText is Load followed by resolving handle content to text.
func (c *Coordinator) LoadText(ctx context.Context, key resource.Key) (string, error) {
	v, err := c.Load(ctx, key)
	if err != nil {
		return "", err
	}
	text, err := v.Resolve(c.blobs)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return text, nil
}

func (c *Coordinator) load(ctx context.Context, key resource.Key) (resource.Content, error) {
	// A call that settled between our cache miss and joining the group
	// has already filled the cache.
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}

	if c.upstream != nil {
		v, err := c.upstream.Lookup(ctx, key)
		if err == nil {
			c.cache.Put(key, v)
			c.bus.Logf(events.CategoryCache, "received %s from parent", key)
			return v, nil
		}
		c.bus.Logf(events.CategoryWarning, "parent lookup for %s failed, fetching directly: %v", key, err)
	}

	text, err := c.fetchWithRetry(ctx, key)
	if err != nil {
		return resource.Content{}, err
	}
	if ctx.Err() != nil {
		return resource.Content{}, fmt.Errorf("load %s: %w", key, ErrClosed)
	}

	if c.ceiling > 0 && int64(len(text)) > c.ceiling {
		c.bus.Logf(events.CategoryWarning, "%s is %d bytes, above the %d byte limit", key, len(text), c.ceiling)
	}

	v := resource.Inline(text)
	c.cache.Put(key, v)
	c.bus.Logf(events.CategorySuccess, "loaded %s (%d bytes)", key, len(text))

	if c.upstream != nil {
		c.upstream.Publish(key, text)
	}
	return v, nil
}

func (c *Coordinator) fetchWithRetry(ctx context.Context, key resource.Key) (string, error) {
	if c.fetcher == nil {
		return "", &LoadExhaustedError{Key: key, Err: errors.New("no fetcher configured")}
	}

	total := c.retries + 1
	attempt := 0
	op := func() (string, error) {
		attempt++
		c.fetches.Add(1)
		c.bus.Logf(events.CategoryRequest, "GET %s (attempt %d/%d)", key.Locator, attempt, total)

		return c.fetcher.Fetch(ctx, key.Locator)
	}

	notify := func(err error, wait time.Duration) {
		c.bus.Logf(events.CategoryWarning, "fetch %s failed (attempt %d/%d), retrying in %s: %v",
			key.Locator, attempt, total, wait, err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.delay), uint64(c.retries)),
		ctx,
	)

	text, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil && ctx.Err() != nil {
		return "", fmt.Errorf("load %s: %w", key, ErrClosed)
	}
	if err != nil {
		c.bus.Logf(events.CategoryDanger, "giving up on %s after %d attempts: %v", key.Locator, attempt, err)
		return "", &LoadExhaustedError{Key: key, Attempts: attempt, Err: err}
	}
	return text, nil
}
