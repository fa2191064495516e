package eta

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/ride-coordinator/internal/geo"
)

var (
	pickup = geo.Coordinate{Lat: 6.5244, Lon: 3.3792}
	driver = geo.Coordinate{Lat: 6.4500, Lon: 3.4000}
)

type stubClient struct {
	secs  float64
	err   error
	calls int
}

func (s *stubClient) EstimateSeconds(context.Context, geo.Coordinate, geo.Coordinate) (float64, error) {
	s.calls++
	return s.secs, s.err
}

func TestEstimatorPrefersCacheThenClient(t *testing.T) {
	c := &stubClient{secs: 420}
	e := &Estimator{Client: c, Cache: NewCache(time.Minute)}
	if got := e.Minutes(context.Background(), driver, pickup); got != 7 {
		t.Fatalf("minutes = %d, want 7", got)
	}
	if got := e.Minutes(context.Background(), driver, pickup); got != 7 {
		t.Fatalf("cached minutes = %d, want 7", got)
	}
	if c.calls != 1 {
		t.Fatalf("client called %d times, want 1", c.calls)
	}
}

func TestEstimatorFallsBackToStraightLine(t *testing.T) {
	e := &Estimator{Client: &stubClient{err: errors.New("down")}, AvgSpeedKmh: 50}
	// 8.586 km at 50 km/h
	if got := e.Minutes(context.Background(), driver, pickup); got != 10 {
		t.Fatalf("minutes = %d, want 10", got)
	}
}

func TestEstimatorNeverBelowOneMinute(t *testing.T) {
	e := &Estimator{}
	if got := e.Minutes(context.Background(), pickup, pickup); got != 1 {
		t.Fatalf("minutes = %d, want 1", got)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	c.Set(pickup, driver, 60)
	if _, ok := c.Get(pickup, driver); !ok {
		t.Fatal("expected hit")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(pickup, driver); ok {
		t.Fatal("expected expiry")
	}
}

func TestCacheSweepsUnreadEntries(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }

	for i := 0; i < minSweep-1; i++ {
		c.Set(geo.Coordinate{Lat: 6 + float64(i)*0.001, Lon: 3.4}, pickup, 60)
	}
	if c.Len() != minSweep-1 {
		t.Fatalf("len = %d", c.Len())
	}

	// none of the old keys is ever read again
	now = now.Add(2 * time.Minute)
	c.Set(driver, pickup, 90)
	if c.Len() != 1 {
		t.Fatalf("len after sweep = %d, want 1", c.Len())
	}
	if v, ok := c.Get(driver, pickup); !ok || v != 90 {
		t.Fatalf("live entry lost: %v %v", v, ok)
	}

	c.Set(pickup, driver, 30)
	now = now.Add(2 * time.Minute)
	if n := c.Sweep(); n != 2 || c.Len() != 0 {
		t.Fatalf("swept %d, len %d", n, c.Len())
	}
}

func TestOSRMClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/route/v1/driving/3.400000,6.450000;3.379200,6.524400") {
			http.Error(w, "bad path "+r.URL.Path, http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"code":"Ok","routes":[{"duration":612.5}]}`)
	}))
	defer srv.Close()

	got, err := NewOSRMClient(srv.URL+"/").EstimateSeconds(context.Background(), driver, pickup)
	if err != nil {
		t.Fatal(err)
	}
	if got != 612.5 {
		t.Fatalf("duration = %v", got)
	}
}

func TestOSRMClientNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"NoRoute","routes":[]}`)
	}))
	defer srv.Close()
	if _, err := NewOSRMClient(srv.URL).EstimateSeconds(context.Background(), driver, pickup); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestOSRMClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":"InvalidQuery"}`)
	}))
	defer srv.Close()
	c := NewOSRMClient(srv.URL)
	c.Profile = "foot"
	_, err := c.EstimateSeconds(context.Background(), driver, pickup)
	if err == nil || errors.Is(err, ErrNoRoute) || !strings.Contains(err.Error(), "InvalidQuery") {
		t.Fatalf("err = %v", err)
	}
}
