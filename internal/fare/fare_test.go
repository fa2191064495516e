package fare

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/example/ride-coordinator/internal/booking"
	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/models"
)

var (
	lagosIsland = geo.Coordinate{Lat: 6.5244, Lon: 3.3792}
	lekki       = geo.Coordinate{Lat: 6.4500, Lon: 3.4000}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestQuoteLagosScenario(t *testing.T) {
	q := NewEngine().Quote(lagosIsland, lekki, false)
	if math.Abs(q.DistanceKm-8.586) > 0.001 {
		t.Fatalf("distance = %f, want ≈8.586", q.DistanceKm)
	}
	// 2.50 + 8.586147...*1.25 = 13.2326... -> 13.23
	if !q.OutboundFare.Equal(dec("13.23")) {
		t.Fatalf("outbound = %s, want 13.23", q.OutboundFare)
	}
	if !q.ReturnFare.IsZero() {
		t.Fatalf("one-way return fare = %s, want 0", q.ReturnFare)
	}
	if !q.TotalFare.Equal(dec("13.23")) {
		t.Fatalf("total = %s, want 13.23", q.TotalFare)
	}
	if q.EstimatedMinutes != 10 {
		t.Fatalf("minutes = %d, want 10", q.EstimatedMinutes)
	}
}

func TestLegFareRoundsHalfAwayFromZero(t *testing.T) {
	e := NewEngine()
	cases := []struct {
		km   float64
		want string
	}{
		{9.86, "14.83"}, // 14.825
		{0, "2.5"},
		{1, "3.75"},
		{0.004, "2.51"}, // 2.505
		{0.003, "2.5"},  // 2.50375
		{-3, "2.5"},
	}
	for _, tc := range cases {
		if got := e.LegFare(tc.km); !got.Equal(dec(tc.want)) {
			t.Errorf("LegFare(%v) = %s, want %s", tc.km, got, tc.want)
		}
	}
}

func TestRoundTripDoubling(t *testing.T) {
	e := NewEngine()
	pairs := [][2]geo.Coordinate{
		{lagosIsland, lekki},
		{{Lat: 25.033, Lon: 121.565}, {Lat: 25.0478, Lon: 121.5318}},
		{{Lat: 40.7128, Lon: -74.0060}, {Lat: 40.6413, Lon: -73.7781}},
	}
	for _, p := range pairs {
		one := e.Quote(p[0], p[1], false)
		both := e.Quote(p[0], p[1], true)
		if !both.TotalFare.Equal(one.OutboundFare.Mul(decimal.NewFromInt(2))) {
			t.Errorf("round trip total %s != 2 x %s", both.TotalFare, one.OutboundFare)
		}
		if !both.TotalFare.Equal(both.OutboundFare.Add(both.ReturnFare)) {
			t.Errorf("total %s is not the sum of legs", both.TotalFare)
		}
	}
}

func TestFareMonotonicInDistance(t *testing.T) {
	e := NewEngine()
	prev := e.LegFare(0)
	for km := 0.0; km <= 200; km += 0.137 {
		cur := e.LegFare(km)
		if cur.LessThan(prev) {
			t.Fatalf("fare decreased at %.3f km: %s < %s", km, cur, prev)
		}
		prev = cur
	}
}

func TestCustomRates(t *testing.T) {
	e := &Engine{BaseFare: dec("1.00"), PerKmRate: dec("0.333"), AvgSpeedKmh: 30}
	q := e.Quote(lagosIsland, lagosIsland, true)
	if !q.TotalFare.Equal(dec("2.00")) || q.DistanceKm != 0 || q.EstimatedMinutes != 0 {
		t.Fatalf("zero-distance round trip = %+v", q)
	}
}

func TestQuoteDraftRequiresResolvedPlaces(t *testing.T) {
	e := NewEngine()
	s := booking.Snapshot{
		Origin:      &models.Place{Name: "Home"},
		Destination: &models.Place{Name: "Lekki", Coordinate: &lekki},
	}
	_, err := e.QuoteDraft(s)
	if !errors.Is(err, models.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	var pe *models.PreconditionError
	if !errors.As(err, &pe) || len(pe.Missing) != 1 || pe.Missing[0] != "origin coordinate" {
		t.Fatalf("unexpected precondition detail: %v", err)
	}

	s.Origin.Coordinate = &lagosIsland
	s.RoundTrip = true
	q, err := e.QuoteDraft(s)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.TotalFare.Equal(dec("26.46")) {
		t.Fatalf("round trip total = %s, want 26.46", q.TotalFare)
	}
}

func TestCents(t *testing.T) {
	if got := Cents(dec("13.23")); got != 1323 {
		t.Fatalf("Cents = %d", got)
	}
	if got := Cents(dec("26.46")); got != 2646 {
		t.Fatalf("Cents = %d", got)
	}
}
