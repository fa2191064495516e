// Package trigger produces lifecycle events for active rides. The
// simulator stands in for a real driver app; the Kafka source reads one.
package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-coordinator/internal/observability"
	"github.com/example/ride-coordinator/internal/ride"
	"github.com/example/ride-coordinator/internal/session"
)

// Sink is where events are delivered. *session.Registry implements it.
type Sink interface {
	Apply(ctx context.Context, rideID string, t ride.Trigger) (ride.Status, error)
	ApplyIfCurrent(ctx context.Context, rideID string, expect ride.Status, t ride.Trigger) (ride.Status, error)
	Ride(rideID string) (ride.ActiveRide, bool)
}

// Delays configures how long the simulated driver waits in each status.
// A zero delay disables that step, leaving it to another source.
type Delays struct {
	Depart     time.Duration
	Arrive     time.Duration
	Start      time.Duration
	End        time.Duration
	EtaMinutes int
}

func DefaultDelays() Delays {
	return Delays{
		Depart:     3 * time.Second,
		Arrive:     5 * time.Second,
		Start:      3 * time.Second,
		End:        10 * time.Second,
		EtaMinutes: 5,
	}
}

const simulatorSource = "simulator"

// Simulator schedules the next event whenever a ride changes status. It is
// a session.Observer; each update cancels the ride's pending timer so only
// one timer per ride is ever armed.
type Simulator struct {
	sink   Sink
	delays Delays
	logger *slog.Logger

	mu      sync.Mutex
	timers  map[string]pending
	seq     uint64
	stopped bool
}

type pending struct {
	timer *time.Timer
	seq   uint64
}

var _ session.Observer = (*Simulator)(nil)

func NewSimulator(sink Sink, d Delays, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{sink: sink, delays: d, logger: logger, timers: make(map[string]pending)}
}

func (s *Simulator) OnRideUpdate(_ context.Context, u ride.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.timers[u.RideID]; ok {
		p.timer.Stop()
		delete(s.timers, u.RideID)
	}
	if s.stopped || u.Cancelled || u.Status.Terminal() {
		return
	}
	tr, delay := s.next(u.Status)
	if delay <= 0 {
		return
	}
	s.seq++
	rideID, expect, seq := u.RideID, u.Status, s.seq
	s.timers[rideID] = pending{
		timer: time.AfterFunc(delay, func() { s.fire(rideID, expect, tr, seq) }),
		seq:   seq,
	}
}

func (s *Simulator) next(st ride.Status) (ride.Trigger, time.Duration) {
	tr := ride.Trigger{Source: simulatorSource}
	switch st {
	case ride.StatusAccepted:
		tr.Event, tr.EtaMinutes = ride.EventDriverDeparts, s.delays.EtaMinutes
		return tr, s.delays.Depart
	case ride.StatusEnRoute:
		tr.Event = ride.EventDriverArrives
		return tr, s.delays.Arrive
	case ride.StatusArrived:
		tr.Event = ride.EventTripStarts
		return tr, s.delays.Start
	case ride.StatusInTrip:
		tr.Event = ride.EventTripEnds
		return tr, s.delays.End
	}
	return tr, 0
}

func (s *Simulator) fire(rideID string, expect ride.Status, tr ride.Trigger, seq uint64) {
	s.mu.Lock()
	if p, ok := s.timers[rideID]; ok && p.seq == seq {
		delete(s.timers, rideID)
	}
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	_, err := s.sink.ApplyIfCurrent(context.Background(), rideID, expect, tr)
	switch {
	case err == nil:
		observability.TriggerEvents.WithLabelValues(simulatorSource, "applied").Inc()
	case errors.Is(err, session.ErrStale):
		observability.TriggerEvents.WithLabelValues(simulatorSource, "stale").Inc()
		s.logger.Debug("simulated event skipped", "ride_id", rideID, "event", tr.Event)
	default:
		observability.TriggerEvents.WithLabelValues(simulatorSource, "error").Inc()
		s.logger.Error("simulated event failed", "ride_id", rideID, "event", tr.Event, "error", err)
	}
}

// Pending reports how many rides have an armed timer.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels all pending timers. Later updates are ignored.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, id)
	}
}
