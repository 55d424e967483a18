package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Dhanuzh/airefiner/internal/provider"
)

// DefaultTTL is how long a catalog snapshot is served without refetching.
const DefaultTTL = time.Hour

// DefaultRetryAfter is how long a stale snapshot served after a failed
// refresh is kept before the next refresh is attempted.
const DefaultRetryAfter = time.Minute

// ErrNoModelsAvailable means every provider failed and nothing was cached.
var ErrNoModelsAvailable = errors.New("no models available")

// Snapshot is one published catalog. It is never mutated after publication.
type Snapshot struct {
	Models    map[provider.ID][]ModelDescriptor
	FetchedAt time.Time
	TTL       time.Duration
	Degraded  map[provider.ID]error
	// Stale is set when every provider failed and the models are carried
	// over from an earlier snapshot. FetchedAt then marks the failed attempt.
	Stale bool
}

// Fresh reports whether FetchedAt+TTL has not yet passed.
func (s *Snapshot) Fresh(now time.Time) bool {
	return !now.After(s.FetchedAt.Add(s.TTL))
}

// Count returns the total number of models.
func (s *Snapshot) Count() int {
	n := 0
	for _, ms := range s.Models {
		n += len(ms)
	}
	return n
}

// Cache is the single source of truth for the model list. Readers always see
// a whole snapshot; refreshes are coalesced so at most one runs at a time.
type Cache struct {
	source     Source
	ttl        time.Duration
	retryAfter time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithRetryAfter sets how long a stale snapshot is served after a failed
// refresh before another refresh is attempted. It never exceeds the TTL.
func WithRetryAfter(d time.Duration) CacheOption {
	return func(c *Cache) { c.retryAfter = d }
}

// WithLogger sets the cache logger.
func WithLogger(l zerolog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// NewCache creates an empty cache over source.
func NewCache(source Source, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		source:     source,
		ttl:        ttl,
		retryAfter: DefaultRetryAfter,
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retryAfter <= 0 || c.retryAfter > c.ttl {
		c.retryAfter = c.ttl
	}
	return c
}

// Snapshot returns the published snapshot, or nil before the first refresh.
func (c *Cache) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Models returns the provider-grouped model list. A fresh snapshot is served
// as is; otherwise the catalog is refreshed first. When that refresh yields
// nothing, the stale models are served and kept for the retry-after window so
// an outage does not cost every reader a full refresh.
func (c *Cache) Models(ctx context.Context) (map[provider.ID][]ModelDescriptor, error) {
	if s := c.snap.Load(); s != nil && s.Fresh(c.now()) {
		return copyModels(s.Models), nil
	}
	s, err := c.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return copyModels(s.Models), nil
}

// Refresh forces a refetch regardless of freshness.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	return c.refresh(ctx)
}

// RefreshBackground runs Refresh in a goroutine. onDone, when set, is called
// after the refresh completes, whether it succeeded or not.
func (c *Cache) RefreshBackground(onDone func(error)) {
	go func() {
		_, err := c.refresh(context.Background())
		if onDone != nil {
			onDone(err)
		}
	}()
}

// Invalidate drops the current snapshot so the next read refetches.
func (c *Cache) Invalidate() {
	c.snap.Store(nil)
}

func (c *Cache) refresh(ctx context.Context) (*Snapshot, error) {
	// The shared refresh must not die with whichever caller started it.
	ctx = context.WithoutCancel(ctx)
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *Cache) doRefresh(ctx context.Context) (*Snapshot, error) {
	res := c.source.Fetch(ctx)
	prev := c.snap.Load()

	if res.AllFailed() {
		if prev != nil {
			s := &Snapshot{
				Models:    prev.Models,
				FetchedAt: c.now(),
				TTL:       c.retryAfter,
				Degraded:  res.Degraded,
				Stale:     true,
			}
			c.snap.Store(s)
			c.logger.Warn().
				Time("previous_fetch", prev.FetchedAt).
				Int("providers", res.Providers).
				Dur("retry_after", c.retryAfter).
				Msg("catalog refresh failed, serving stale snapshot")
			return s, nil
		}
		return nil, noModelsError(res)
	}

	s := &Snapshot{
		Models:    res.Models,
		FetchedAt: c.now(),
		TTL:       c.ttl,
		Degraded:  res.Degraded,
	}
	c.snap.Store(s)

	c.logger.Info().
		Int("models", s.Count()).
		Int("providers", len(s.Models)).
		Int("degraded", len(s.Degraded)).
		Msg("catalog refreshed")
	return s, nil
}

func noModelsError(res FetchResult) error {
	if res.Providers == 0 {
		return fmt.Errorf("%w: no provider API keys configured", ErrNoModelsAvailable)
	}
	ids := make([]string, 0, len(res.Degraded))
	for id := range res.Degraded {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, res.Degraded[provider.ID(id)]))
	}
	return fmt.Errorf("%w: every provider failed (%s)", ErrNoModelsAvailable, strings.Join(parts, "; "))
}

func copyModels(in map[provider.ID][]ModelDescriptor) map[provider.ID][]ModelDescriptor {
	out := make(map[provider.ID][]ModelDescriptor, len(in))
	for id, ms := range in {
		out[id] = ms
	}
	return out
}
