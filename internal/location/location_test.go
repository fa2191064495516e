package location

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"googlemaps.github.io/maps"

	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/models"
)

var lekki = geo.Coordinate{Lat: 6.45, Lon: 3.4}

type fakeKV struct {
	data    map[string]string
	failGet bool
	sets    int
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	if f.failGet {
		return "", errors.New("connection refused")
	}
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.sets++
	f.data[key] = value
	return nil
}

type countingResolver struct {
	Resolver
	resolves, reverses int
}

func (c *countingResolver) Resolve(ctx context.Context, text string) (geo.Coordinate, bool, error) {
	c.resolves++
	return c.Resolver.Resolve(ctx, text)
}

func (c *countingResolver) Reverse(ctx context.Context, coord geo.Coordinate) (string, bool, error) {
	c.reverses++
	return c.Resolver.Reverse(ctx, coord)
}

func quiet() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func TestStaticResolverNormalizesText(t *testing.T) {
	r := NewStaticResolver(map[string]geo.Coordinate{"Lekki Phase 1": lekki})
	c, ok, err := r.Resolve(context.Background(), "  lekki   PHASE 1 ")
	if err != nil || !ok || c != lekki {
		t.Fatalf("resolve = %v %v %v", c, ok, err)
	}
	name, ok, _ := r.Reverse(context.Background(), lekki)
	if !ok || name != "Lekki Phase 1" {
		t.Fatalf("reverse = %q %v", name, ok)
	}
	if _, ok, _ := r.Resolve(context.Background(), "Ikeja"); ok {
		t.Fatal("unexpected match")
	}
}

func TestCachedResolverCachesHits(t *testing.T) {
	inner := &countingResolver{Resolver: NewStaticResolver(map[string]geo.Coordinate{"Lekki": lekki})}
	kv := &fakeKV{data: map[string]string{}}
	c := NewCachedResolver(inner, kv, time.Hour, quiet())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, ok, err := c.Resolve(ctx, "Lekki")
		if err != nil || !ok || got != lekki {
			t.Fatalf("resolve = %v %v %v", got, ok, err)
		}
	}
	if inner.resolves != 1 {
		t.Fatalf("inner called %d times, want 1", inner.resolves)
	}
	if _, ok, _ := c.Resolve(ctx, "nowhere"); ok {
		t.Fatal("unexpected match")
	}
	if kv.sets != 1 {
		t.Fatalf("misses must not be cached, sets = %d", kv.sets)
	}

	for i := 0; i < 2; i++ {
		if name, ok, _ := c.Reverse(ctx, lekki); !ok || name != "Lekki" {
			t.Fatalf("reverse = %q %v", name, ok)
		}
	}
	if inner.reverses != 1 {
		t.Fatalf("inner reverse called %d times, want 1", inner.reverses)
	}
}

func TestCachedResolverSurvivesCacheOutage(t *testing.T) {
	inner := NewStaticResolver(map[string]geo.Coordinate{"Lekki": lekki})
	c := NewCachedResolver(inner, &fakeKV{data: map[string]string{}, failGet: true}, time.Hour, quiet())
	if got, ok, err := c.Resolve(context.Background(), "Lekki"); err != nil || !ok || got != lekki {
		t.Fatalf("resolve = %v %v %v", got, ok, err)
	}
}

func TestResolvePlace(t *testing.T) {
	r := NewStaticResolver(map[string]geo.Coordinate{"Lekki": lekki})
	ctx := context.Background()

	p, err := ResolvePlace(ctx, r, &models.Place{Name: "Lekki"})
	if err != nil || !p.Resolved() || *p.Coordinate != lekki {
		t.Fatalf("resolve by name = %+v %v", p, err)
	}
	if _, err := ResolvePlace(ctx, r, &models.Place{Name: "Atlantis"}); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
	given := geo.Coordinate{Lat: 1, Lon: 2}
	p, _ = ResolvePlace(ctx, r, &models.Place{Name: "Lekki", Coordinate: &given})
	if *p.Coordinate != given {
		t.Fatal("resolved place must not be re-resolved")
	}
}

type fakeGeocoder struct {
	fwd, rev []maps.GeocodingResult
	req      *maps.GeocodingRequest
}

func (f *fakeGeocoder) Geocode(_ context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error) {
	f.req = r
	return f.fwd, nil
}

func (f *fakeGeocoder) ReverseGeocode(_ context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error) {
	f.req = r
	return f.rev, nil
}

func TestGoogleResolver(t *testing.T) {
	fg := &fakeGeocoder{
		fwd: []maps.GeocodingResult{{Geometry: maps.AddressGeometry{Location: maps.LatLng{Lat: 6.45, Lng: 3.4}}}},
		rev: []maps.GeocodingResult{{FormattedAddress: "Lekki, Lagos, Nigeria"}},
	}
	g := &GoogleResolver{client: fg, Region: "ng"}
	c, ok, err := g.Resolve(context.Background(), "Lekki")
	if err != nil || !ok || c != lekki {
		t.Fatalf("resolve = %v %v %v", c, ok, err)
	}
	if fg.req.Address != "Lekki" || fg.req.Region != "ng" {
		t.Fatalf("request = %+v", fg.req)
	}
	addr, ok, err := g.Reverse(context.Background(), lekki)
	if err != nil || !ok || addr != "Lekki, Lagos, Nigeria" {
		t.Fatalf("reverse = %q %v %v", addr, ok, err)
	}
	if fg.req.LatLng == nil || fg.req.LatLng.Lng != 3.4 {
		t.Fatalf("reverse request = %+v", fg.req)
	}

	fg.fwd = nil
	if _, ok, err := g.Resolve(context.Background(), "nowhere"); ok || err != nil {
		t.Fatal("expected clean miss")
	}
}
