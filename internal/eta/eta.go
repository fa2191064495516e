package eta

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/ride-coordinator/internal/geo"
)

// Client returns the driving time between two points.
type Client interface {
	EstimateSeconds(ctx context.Context, from, to geo.Coordinate) (float64, error)
}

// minSweep is the store size at which Set first sweeps expired entries.
const minSweep = 1024

// Cache is a small in-memory TTL cache of travel times keyed by endpoints.
// Expired entries are dropped when read and swept by Set whenever the store
// doubles past its last swept size.
type Cache struct {
	mu      sync.RWMutex
	store   map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
	sweepAt int
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, now: time.Now, sweepAt: minSweep}
}

func keyFor(a, b geo.Coordinate) string {
	return a.String() + "->" + b.String()
}

// Get returns the cached seconds if present and not expired.
func (c *Cache) Get(a, b geo.Coordinate) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b geo.Coordinate, seconds float64) {
	k := keyFor(a, b)
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[k] = cacheEntry{v: seconds, ts: now}
	if len(c.store) >= c.sweepAt {
		c.sweepLocked(now)
		c.sweepAt = max(minSweep, 2*len(c.store))
	}
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(now)
}

func (c *Cache) sweepLocked(now time.Time) int {
	n := 0
	for k, e := range c.store {
		if now.Sub(e.ts) > c.ttl {
			delete(c.store, k)
			n++
		}
	}
	return n
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Estimator answers "how many minutes until the driver reaches the pickup".
// It tries the cache, then the routing client, then straight-line distance
// at AvgSpeedKmh. Client and Cache are optional.
type Estimator struct {
	Client      Client
	Cache       *Cache
	AvgSpeedKmh float64
	Logger      *slog.Logger
}

// Minutes never returns less than one minute.
func (e *Estimator) Minutes(ctx context.Context, from, to geo.Coordinate) int {
	secs := e.seconds(ctx, from, to)
	m := int(math.Round(secs / 60))
	if m < 1 {
		m = 1
	}
	return m
}

func (e *Estimator) seconds(ctx context.Context, from, to geo.Coordinate) float64 {
	if e.Cache != nil {
		if v, ok := e.Cache.Get(from, to); ok {
			return v
		}
	}
	if e.Client != nil {
		v, err := e.Client.EstimateSeconds(ctx, from, to)
		if err == nil {
			if e.Cache != nil {
				e.Cache.Set(from, to, v)
			}
			return v
		}
		if e.Logger != nil {
			e.Logger.Warn("eta lookup failed, using straight-line estimate", "error", err)
		}
	}
	return naiveSeconds(from, to, e.AvgSpeedKmh)
}

func naiveSeconds(from, to geo.Coordinate, speedKmh float64) float64 {
	if speedKmh <= 0 {
		speedKmh = geo.DefaultAvgSpeedKmh
	}
	return geo.DistanceKm(from, to) / speedKmh * 3600
}
