package booking

import (
	"github.com/example/ride-coordinator/internal/models"
)

const (
	MinSeats = 1
	MaxSeats = 10
)

// Draft is an in-progress booking request. It has no lock of its own: the
// owning session serializes access, and concurrent updates routed through
// the session are last-write-wins per field.
type Draft struct {
	origin          *models.Place
	destination     *models.Place
	date            *Date
	departTime      *Clock
	returnTime      *Clock
	seats           int
	roundTrip       bool
	paymentMethodID *string
}

// Patch carries the fields to merge. Nil pointers leave the draft untouched.
type Patch struct {
	Origin          *models.Place `json:"origin,omitempty"`
	Destination     *models.Place `json:"destination,omitempty"`
	Date            *Date         `json:"date,omitempty"`
	DepartTime      *Clock        `json:"depart_time,omitempty"`
	ReturnTime      *Clock        `json:"return_time,omitempty"`
	Seats           *int          `json:"seats,omitempty"`
	RoundTrip       *bool         `json:"round_trip,omitempty"`
	PaymentMethodID *string       `json:"payment_method_id,omitempty"`
}

// Snapshot is a detached, read-only copy of a draft.
type Snapshot struct {
	Origin          *models.Place `json:"origin"`
	Destination     *models.Place `json:"destination"`
	Date            *Date         `json:"date"`
	DepartTime      *Clock        `json:"depart_time"`
	ReturnTime      *Clock        `json:"return_time,omitempty"`
	Seats           int           `json:"seats"`
	RoundTrip       bool          `json:"round_trip"`
	PaymentMethodID *string       `json:"payment_method_id"`
}

func NewDraft() *Draft {
	return &Draft{seats: MinSeats}
}

// Update merges p into the draft. Seats are clamped to [MinSeats, MaxSeats];
// nothing else is validated here.
func (d *Draft) Update(p Patch) {
	if p.Origin != nil {
		d.origin = p.Origin.Clone()
	}
	if p.Destination != nil {
		d.destination = p.Destination.Clone()
	}
	if p.Date != nil {
		// "date": "" decodes to the zero date and clears the field
		if p.Date.IsZero() {
			d.date = nil
		} else {
			v := *p.Date
			d.date = &v
		}
	}
	if p.DepartTime != nil {
		v := *p.DepartTime
		d.departTime = &v
	}
	if p.ReturnTime != nil {
		v := *p.ReturnTime
		d.returnTime = &v
	}
	if p.Seats != nil {
		d.seats = ClampSeats(*p.Seats)
	}
	if p.RoundTrip != nil {
		d.roundTrip = *p.RoundTrip
	}
	if p.PaymentMethodID != nil {
		v := *p.PaymentMethodID
		d.paymentMethodID = &v
	}
}

// IsConfirmable reports whether every field required to start a ride is set.
func (d *Draft) IsConfirmable() bool {
	return len(d.Missing()) == 0
}

// Missing lists the required fields that are still empty.
func (d *Draft) Missing() []string {
	var out []string
	if d.origin == nil {
		out = append(out, "origin")
	}
	if d.destination == nil {
		out = append(out, "destination")
	}
	if d.date == nil || d.date.IsZero() {
		out = append(out, "date")
	}
	if d.departTime == nil {
		out = append(out, "depart_time")
	}
	if d.paymentMethodID == nil || *d.paymentMethodID == "" {
		out = append(out, "payment_method_id")
	}
	return out
}

// SwapOriginDestination exchanges the two places. An empty side is swapped
// like any other value, so a lone origin becomes the destination.
func (d *Draft) SwapOriginDestination() {
	d.origin, d.destination = d.destination, d.origin
}

func (d *Draft) Reset() {
	*d = Draft{seats: MinSeats}
}

func (d *Draft) Snapshot() Snapshot {
	s := Snapshot{
		Origin:      d.origin.Clone(),
		Destination: d.destination.Clone(),
		Seats:       d.seats,
		RoundTrip:   d.roundTrip,
	}
	if d.date != nil {
		v := *d.date
		s.Date = &v
	}
	if d.departTime != nil {
		v := *d.departTime
		s.DepartTime = &v
	}
	if d.returnTime != nil {
		v := *d.returnTime
		s.ReturnTime = &v
	}
	if d.paymentMethodID != nil {
		v := *d.paymentMethodID
		s.PaymentMethodID = &v
	}
	return s
}

// TouchesRoute reports whether p changes any input of the fare quote.
func (p Patch) TouchesRoute() bool {
	return p.Origin != nil || p.Destination != nil || p.RoundTrip != nil
}

func ClampSeats(n int) int {
	switch {
	case n < MinSeats:
		return MinSeats
	case n > MaxSeats:
		return MaxSeats
	default:
		return n
	}
}
