package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/ride-coordinator/internal/booking"
	"github.com/example/ride-coordinator/internal/fare"
	"github.com/example/ride-coordinator/internal/models"
	"github.com/example/ride-coordinator/internal/observability"
	"github.com/example/ride-coordinator/internal/ride"
)

// Session is one passenger's state: a booking draft and at most one active
// ride. All methods are safe for concurrent use; calls are serialized on
// the session's own mutex.
type Session struct {
	id  string
	reg *Registry

	// lastSeen is the registry clock in unix nanos at the last Session lookup.
	lastSeen atomic.Int64

	mu        sync.Mutex
	draft     *booking.Draft
	active    *ride.ActiveRide
	lifecycle *ride.Lifecycle
}

// DraftView is the draft as presented to clients.
type DraftView struct {
	Draft       booking.Snapshot `json:"draft"`
	Confirmable bool             `json:"confirmable"`
	Missing     []string         `json:"missing,omitempty"`
	Quote       *fare.TripQuote  `json:"quote,omitempty"`
}

func newSession(id string, reg *Registry) *Session {
	return &Session{id: id, reg: reg, draft: booking.NewDraft()}
}

func (s *Session) ID() string { return s.id }

func (s *Session) touch(now time.Time) { s.lastSeen.Store(now.UnixNano()) }

// View returns the draft with its confirmability and, when both places are
// resolved, a fresh quote.
func (s *Session) View() DraftView {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.draft.Snapshot()
	v := DraftView{Draft: snap, Confirmable: s.draft.IsConfirmable(), Missing: s.draft.Missing()}
	if q, err := s.reg.engine.QuoteDraft(snap); err == nil {
		v.Quote = &q
	}
	return v
}

// UpdateDraft merges p. The returned quote is non-nil only when p changed
// the route and both places are resolved.
func (s *Session) UpdateDraft(p booking.Patch) (booking.Snapshot, *fare.TripQuote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Update(p)
	snap := s.draft.Snapshot()
	if !p.TouchesRoute() {
		return snap, nil
	}
	return snap, s.requoteLocked(snap)
}

// SwapPlaces exchanges origin and destination and requotes.
func (s *Session) SwapPlaces() (booking.Snapshot, *fare.TripQuote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.SwapOriginDestination()
	snap := s.draft.Snapshot()
	return snap, s.requoteLocked(snap)
}

func (s *Session) ResetDraft() booking.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Reset()
	return s.draft.Snapshot()
}

// Quote prices the current draft.
func (s *Session) Quote() (fare.TripQuote, error) {
	s.mu.Lock()
	snap := s.draft.Snapshot()
	s.mu.Unlock()
	q, err := s.reg.engine.QuoteDraft(snap)
	if err != nil {
		return fare.TripQuote{}, err
	}
	observability.QuotesComputed.Inc()
	return q, nil
}

func (s *Session) requoteLocked(snap booking.Snapshot) *fare.TripQuote {
	q, err := s.reg.engine.QuoteDraft(snap)
	if err != nil {
		return nil
	}
	observability.QuotesComputed.Inc()
	return &q
}

// StartRide turns the draft into an accepted ride assigned to a. The draft
// is cleared on success.
func (s *Session) StartRide(ctx context.Context, a ride.Assignment) (ride.ActiveRide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return ride.ActiveRide{}, ErrConflict
	}
	if missing := s.draft.Missing(); len(missing) > 0 {
		return ride.ActiveRide{}, &models.PreconditionError{Op: "session.StartRide", Missing: missing}
	}
	snap := s.draft.Snapshot()
	quote, err := s.reg.engine.QuoteDraft(snap)
	if err != nil {
		return ride.ActiveRide{}, err
	}

	id := s.reg.newID()
	code, err := s.reg.issuer.IssueCode(ctx, id)
	if err != nil {
		return ride.ActiveRide{}, fmt.Errorf("start ride: %w", err)
	}

	now := s.reg.now()
	lc := ride.NewLifecycle()
	r := &ride.ActiveRide{
		ID:               id,
		SessionID:        s.id,
		DriverID:         a.DriverID,
		DriverName:       a.DriverName,
		VehicleInfo:      a.VehicleInfo,
		Status:           lc.Status(),
		Origin:           *snap.Origin,
		Destination:      *snap.Destination,
		Date:             *snap.Date,
		Time:             *snap.DepartTime,
		ReturnTime:       snap.ReturnTime,
		Seats:            snap.Seats,
		RoundTrip:        snap.RoundTrip,
		PaymentMethodID:  *snap.PaymentMethodID,
		Quote:            quote,
		VerificationCode: &code,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.active = r
	s.lifecycle = lc
	s.draft.Reset()
	s.reg.index(id, s)

	observability.RidesStarted.Inc()
	observability.ActiveRides.Inc()
	s.reg.logger.Info("ride started", "ride_id", id, "session_id", s.id, "driver_id", a.DriverID)

	out := r.Clone()
	s.reg.notify(ctx, ride.Update{
		RideID:    id,
		SessionID: s.id,
		Status:    r.Status,
		Ride:      out,
		At:        now,
	})
	return out, nil
}

// CurrentRide returns a copy of the active ride, if any.
func (s *Session) CurrentRide() (ride.ActiveRide, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ride.ActiveRide{}, false
	}
	return s.active.Clone(), true
}

// WithCurrentRide calls fn with the active ride while holding the session
// lock, so nothing fn sends can interleave with an update being notified.
// It reports whether there was a ride.
func (s *Session) WithCurrentRide(fn func(ride.ActiveRide)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return false
	}
	fn(s.active.Clone())
	return true
}

// ApplyTransition feeds one lifecycle event to the active ride. Reaching
// completed releases the ride from the session.
func (s *Session) ApplyTransition(ctx context.Context, t ride.Trigger) (ride.Status, error) {
	return s.apply(ctx, "", nil, t)
}

// CancelRide drops the active ride without completing it.
func (s *Session) CancelRide(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ErrNoActiveRide
	}
	r := s.active
	now := s.reg.now()
	r.UpdatedAt = now
	r.EtaMinutes = nil
	s.releaseLocked()

	observability.RidesCancelled.Inc()
	s.reg.logger.Info("ride cancelled", "ride_id", r.ID, "session_id", s.id, "status", r.Status)
	s.reg.notify(ctx, ride.Update{
		RideID:    r.ID,
		SessionID: s.id,
		Status:    r.Status,
		Ride:      r.Clone(),
		Cancelled: true,
		At:        now,
	})
	return nil
}

// apply runs t against the active ride. A non-empty rideID must match the
// held ride; a non-nil expect must match its status. Mismatches from the
// registry path are reported as ErrStale or ErrNotFound.
func (s *Session) apply(ctx context.Context, rideID string, expect *ride.Status, t ride.Trigger) (ride.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || (rideID != "" && s.active.ID != rideID) {
		switch {
		case expect != nil:
			return "", ErrStale
		case rideID != "":
			return "", ErrNotFound
		default:
			return "", ErrNoActiveRide
		}
	}
	from := s.lifecycle.Status()
	if expect != nil && from != *expect {
		return from, ErrStale
	}

	to, err := s.lifecycle.Apply(t)
	if err != nil {
		observability.Transitions.WithLabelValues(string(t.Event), "rejected").Inc()
		s.reg.logger.Warn("ride transition rejected", "ride_id", s.active.ID, "status", from, "event", t.Event, "source", t.Source)
		return to, err
	}
	observability.Transitions.WithLabelValues(string(t.Event), "applied").Inc()

	r := s.active
	now := s.reg.now()
	r.Status = to
	r.UpdatedAt = now
	r.EtaMinutes = nil
	if eta, ok := s.lifecycle.EtaMinutes(); ok {
		r.EtaMinutes = &eta
	}
	if to.Terminal() {
		s.releaseLocked()
	}

	s.reg.logger.Info("ride transition", "ride_id", r.ID, "from", from, "to", to, "event", t.Event, "source", t.Source)
	s.reg.notify(ctx, ride.Update{
		RideID:    r.ID,
		SessionID: s.id,
		Event:     t.Event,
		From:      from,
		Status:    to,
		Ride:      r.Clone(),
		Source:    t.Source,
		Feedback:  to == ride.StatusCompleted,
		At:        now,
	})
	return to, nil
}

func (s *Session) releaseLocked() {
	id := s.active.ID
	s.active = nil
	s.lifecycle = nil
	s.reg.unindex(id)
	observability.ActiveRides.Dec()
}
