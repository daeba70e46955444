package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Loader returns the current Markdown source.
type Loader func(ctx context.Context) ([]byte, error)

// FileLoader reads path on every call.
func FileLoader(path string) Loader {
	return func(context.Context) ([]byte, error) { return os.ReadFile(path) }
}

// ErrNotLoaded is returned by Search when no index could ever be loaded.
var ErrNotLoaded = errors.New("knowledge not loaded")

// Cache holds the current Index. Reads reload it when it is older than the
// TTL or was invalidated; concurrent reloads are collapsed into one. A
// failed reload keeps serving the previous Index.
type Cache struct {
	load Loader
	ttl  time.Duration
	opts []Option

	// Refresh retry bounds.
	MaxRetries  uint
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	mu       sync.RWMutex
	idx      *Index
	loadedAt time.Time
	stale    bool

	group singleflight.Group
	now   func() time.Time
}

// NewCache returns an empty cache; the first Search or Refresh loads it.
// A non-positive ttl disables expiry.
func NewCache(load Loader, ttl time.Duration, opts ...Option) *Cache {
	return &Cache{
		load:        load,
		ttl:         ttl,
		opts:        opts,
		MaxRetries:  5,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  time.Minute,
		now:         time.Now,
	}
}

// Search returns the best passages for query from a fresh enough Index.
func (c *Cache) Search(ctx context.Context, query string, k int) ([]Passage, error) {
	idx, fresh := c.current()
	if !fresh {
		if reloaded, err := c.reload(ctx); err == nil {
			idx = reloaded
		} else if idx == nil {
			return nil, err
		} else {
			log.Ctx(ctx).Warn().Err(err).Msg("knowledge reload failed, serving previous index")
		}
	}
	return idx.Search(query, k), nil
}

// Refresh reloads the Index, retrying with exponential backoff. On final
// failure the previous Index stays in place and the error is returned.
func (c *Cache) Refresh(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.BaseBackoff
	b.MaxInterval = c.MaxBackoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (*Index, error) {
		attempt++
		return c.reload(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(max(c.MaxRetries, 1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Dur("backoff", next).Msg("knowledge load failed, retrying")
		}),
	)
	if err != nil {
		return fmt.Errorf("knowledge refresh: %w", err)
	}
	return nil
}

// Invalidate marks the Index stale; the next Search reloads it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// Len reports the number of passages currently served.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idx.Len()
}

func (c *Cache) current() (*Index, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.idx == nil || c.stale {
		return c.idx, false
	}
	if c.ttl > 0 && c.now().Sub(c.loadedAt) >= c.ttl {
		return c.idx, false
	}
	return c.idx, true
}

func (c *Cache) reload(ctx context.Context) (*Index, error) {
	v, err, _ := c.group.Do("load", func() (any, error) {
		md, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		idx := Parse(md, c.opts...)

		c.mu.Lock()
		c.idx = idx
		c.loadedAt = c.now()
		c.stale = false
		c.mu.Unlock()

		log.Ctx(ctx).Info().Int("passages", idx.Len()).Msg("knowledge loaded")
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}
