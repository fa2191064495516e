// Package fare prices a trip from its resolved endpoints.
//
// Currency values are decimals rounded half away from zero to two places,
// once per leg. A round trip is two identical legs, so TotalFare is always
// the exact sum of already-rounded legs.
package fare

import (
	"github.com/shopspring/decimal"

	"github.com/example/ride-coordinator/internal/booking"
	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/models"
)

var (
	DefaultBaseFare  = decimal.RequireFromString("2.50")
	DefaultPerKmRate = decimal.RequireFromString("1.25")
)

// TripQuote is derived from a draft and never stored on it.
type TripQuote struct {
	DistanceKm       float64         `json:"distance_km"`
	EstimatedMinutes int             `json:"estimated_minutes"`
	OutboundFare     decimal.Decimal `json:"outbound_fare"`
	ReturnFare       decimal.Decimal `json:"return_fare"`
	TotalFare        decimal.Decimal `json:"total_fare"`
}

// Engine holds pricing parameters only; it is safe for concurrent use.
type Engine struct {
	BaseFare    decimal.Decimal
	PerKmRate   decimal.Decimal
	AvgSpeedKmh float64
}

func NewEngine() *Engine {
	return &Engine{BaseFare: DefaultBaseFare, PerKmRate: DefaultPerKmRate, AvgSpeedKmh: geo.DefaultAvgSpeedKmh}
}

// Quote prices a trip between two resolved coordinates.
func (e *Engine) Quote(origin, destination geo.Coordinate, roundTrip bool) TripQuote {
	km := geo.DistanceKm(origin, destination)
	leg := e.LegFare(km)
	q := TripQuote{
		DistanceKm:       km,
		EstimatedMinutes: geo.EstimatedMinutes(km, e.AvgSpeedKmh),
		OutboundFare:     leg,
		ReturnFare:       decimal.Zero,
	}
	// same route both ways; see DESIGN.md open question on return legs
	if roundTrip {
		q.ReturnFare = leg
	}
	q.TotalFare = q.OutboundFare.Add(q.ReturnFare)
	return q
}

// QuoteDraft prices a draft. Both endpoints must be present and resolved.
func (e *Engine) QuoteDraft(s booking.Snapshot) (TripQuote, error) {
	var missing []string
	if !s.Origin.Resolved() {
		missing = append(missing, "origin coordinate")
	}
	if !s.Destination.Resolved() {
		missing = append(missing, "destination coordinate")
	}
	if len(missing) > 0 {
		return TripQuote{}, &models.PreconditionError{Op: "fare.Quote", Missing: missing}
	}
	return e.Quote(*s.Origin.Coordinate, *s.Destination.Coordinate, s.RoundTrip), nil
}

// LegFare is round2(base + km*perKm), never negative.
func (e *Engine) LegFare(distanceKm float64) decimal.Decimal {
	if distanceKm < 0 {
		distanceKm = 0
	}
	v := e.BaseFare.Add(decimal.NewFromFloat(distanceKm).Mul(e.PerKmRate)).Round(2)
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// Cents converts a fare to integer minor units for payment processors.
func Cents(v decimal.Decimal) int64 {
	return v.Shift(2).Round(0).IntPart()
}
