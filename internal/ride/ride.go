package ride

import (
	"time"

	"github.com/example/ride-coordinator/internal/booking"
	"github.com/example/ride-coordinator/internal/fare"
	"github.com/example/ride-coordinator/internal/models"
)

// Assignment names the driver that accepted the booking.
type Assignment struct {
	DriverID    string `json:"driver_id"`
	DriverName  string `json:"driver_name"`
	VehicleInfo string `json:"vehicle_info"`
}

// ActiveRide is a confirmed trip. Values handed out by the session are
// copies; only the session mutates the original.
type ActiveRide struct {
	ID               string         `json:"id"`
	SessionID        string         `json:"session_id"`
	DriverID         string         `json:"driver_id"`
	DriverName       string         `json:"driver_name"`
	VehicleInfo      string         `json:"vehicle_info"`
	Status           Status         `json:"status"`
	Origin           models.Place   `json:"origin"`
	Destination      models.Place   `json:"destination"`
	Date             booking.Date   `json:"date"`
	Time             booking.Clock  `json:"time"`
	ReturnTime       *booking.Clock `json:"return_time,omitempty"`
	Seats            int            `json:"seats"`
	RoundTrip        bool           `json:"round_trip"`
	PaymentMethodID  string         `json:"payment_method_id"`
	Quote            fare.TripQuote `json:"quote"`
	VerificationCode *string        `json:"verification_code,omitempty"`
	EtaMinutes       *int           `json:"eta_minutes,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Clone returns a deep copy.
func (r ActiveRide) Clone() ActiveRide {
	c := r
	if o := r.Origin.Clone(); o != nil {
		c.Origin = *o
	}
	if d := r.Destination.Clone(); d != nil {
		c.Destination = *d
	}
	if r.ReturnTime != nil {
		v := *r.ReturnTime
		c.ReturnTime = &v
	}
	if r.VerificationCode != nil {
		v := *r.VerificationCode
		c.VerificationCode = &v
	}
	if r.EtaMinutes != nil {
		v := *r.EtaMinutes
		c.EtaMinutes = &v
	}
	return c
}

// Update is emitted for every change of an active ride: creation, each
// transition, and cancellation.
type Update struct {
	RideID    string     `json:"ride_id"`
	SessionID string     `json:"session_id"`
	Event     Event      `json:"event,omitempty"`
	From      Status     `json:"from,omitempty"`
	Status    Status     `json:"status"`
	Ride      ActiveRide `json:"ride"`
	Source    string     `json:"source,omitempty"`
	Cancelled bool       `json:"cancelled,omitempty"`
	// Feedback tells the UI to start the rating flow.
	Feedback bool      `json:"feedback,omitempty"`
	At       time.Time `json:"at"`
}

// Created reports whether the update announces a new ride.
func (u Update) Created() bool { return u.Event == "" && !u.Cancelled }
