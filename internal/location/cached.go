package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-coordinator/internal/geo"
)

// KV is the subset of redis used by CachedResolver. A miss is reported as
// redis.Nil, matching go-redis.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type redisKV struct{ c *redis.Client }

// NewRedisKV wraps a go-redis client.
func NewRedisKV(c *redis.Client) KV { return &redisKV{c: c} }

func (r *redisKV) Get(ctx context.Context, key string) (string, error) {
	return r.c.Get(ctx, key).Result()
}

func (r *redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

const (
	forwardPrefix = "geo:resolve:"
	reversePrefix = "geo:reverse:"
)

// CachedResolver puts a redis cache in front of another Resolver. Cache
// failures fall through to the inner resolver; misses are not cached.
type CachedResolver struct {
	inner  Resolver
	kv     KV
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedResolver(inner Resolver, kv KV, ttl time.Duration, logger *slog.Logger) *CachedResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedResolver{inner: inner, kv: kv, ttl: ttl, logger: logger}
}

func (c *CachedResolver) Resolve(ctx context.Context, text string) (geo.Coordinate, bool, error) {
	key := forwardPrefix + normalize(text)
	if v, err := c.kv.Get(ctx, key); err == nil {
		if coord, perr := parseCoord(v); perr == nil {
			return coord, true, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("resolve cache read failed", "error", err)
	}

	coord, ok, err := c.inner.Resolve(ctx, text)
	if err != nil || !ok {
		return coord, ok, err
	}
	if err := c.kv.Set(ctx, key, formatCoord(coord), c.ttl); err != nil {
		c.logger.Warn("resolve cache write failed", "error", err)
	}
	return coord, true, nil
}

func (c *CachedResolver) Reverse(ctx context.Context, coord geo.Coordinate) (string, bool, error) {
	key := reversePrefix + formatCoord(coord)
	if v, err := c.kv.Get(ctx, key); err == nil {
		return v, true, nil
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("reverse cache read failed", "error", err)
	}

	addr, ok, err := c.inner.Reverse(ctx, coord)
	if err != nil || !ok {
		return addr, ok, err
	}
	if err := c.kv.Set(ctx, key, addr, c.ttl); err != nil {
		c.logger.Warn("reverse cache write failed", "error", err)
	}
	return addr, true, nil
}

func formatCoord(c geo.Coordinate) string {
	return strconv.FormatFloat(c.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lon, 'f', 6, 64)
}

func parseCoord(v string) (geo.Coordinate, error) {
	lat, lon, ok := strings.Cut(v, ",")
	if !ok {
		return geo.Coordinate{}, fmt.Errorf("bad cached coordinate %q", v)
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return geo.Coordinate{}, err
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return geo.Coordinate{}, err
	}
	return geo.Coordinate{Lat: la, Lon: lo}, nil
}
