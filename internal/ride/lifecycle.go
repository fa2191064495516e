package ride

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusEnRoute   Status = "enRoute"
	StatusArrived   Status = "arrived"
	StatusInTrip    Status = "inTrip"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no further events are accepted.
func (s Status) Terminal() bool { return s == StatusCompleted }

type Event string

const (
	EventDriverDeparts Event = "driverDeparts"
	EventDriverArrives Event = "driverArrives"
	EventTripStarts    Event = "tripStarts"
	EventTripEnds      Event = "tripEnds"
)

// ParseEvent accepts the camelCase event names used on the wire.
func ParseEvent(s string) (Event, error) {
	switch e := Event(s); e {
	case EventDriverDeparts, EventDriverArrives, EventTripStarts, EventTripEnds:
		return e, nil
	}
	return "", fmt.Errorf("unknown ride event %q", s)
}

type edge struct {
	from Status
	to   Status
}

// transitions is the whole state machine. Anything not listed is rejected.
var transitions = map[Event]edge{
	EventDriverDeparts: {from: StatusAccepted, to: StatusEnRoute},
	EventDriverArrives: {from: StatusEnRoute, to: StatusArrived},
	EventTripStarts:    {from: StatusArrived, to: StatusInTrip},
	EventTripEnds:      {from: StatusInTrip, to: StatusCompleted},
}

// Next returns the status e leads to from s, if the pair is in the table.
func Next(s Status, e Event) (Status, bool) {
	t, ok := transitions[e]
	if !ok || t.from != s {
		return s, false
	}
	return t.to, true
}

var ErrInvalidTransition = errors.New("invalid ride transition")

type InvalidTransitionError struct {
	From  Status
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid ride transition: %s not allowed in %s", e.Event, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// Trigger is one lifecycle event with its payload. EtaMinutes is only read
// for EventDriverDeparts.
type Trigger struct {
	Event      Event
	EtaMinutes int
	Source     string
}

// Lifecycle is the per-ride state machine. It is not safe for concurrent
// use; the owning session serializes access.
type Lifecycle struct {
	status     Status
	etaMinutes *int
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{status: StatusAccepted}
}

func (l *Lifecycle) Status() Status { return l.status }

// EtaMinutes is set only while the driver is en route.
func (l *Lifecycle) EtaMinutes() (int, bool) {
	if l.etaMinutes == nil {
		return 0, false
	}
	return *l.etaMinutes, true
}

func (l *Lifecycle) DriverDeparts(etaMinutes int) (Status, error) {
	return l.Apply(Trigger{Event: EventDriverDeparts, EtaMinutes: etaMinutes})
}

func (l *Lifecycle) DriverArrives() (Status, error) {
	return l.Apply(Trigger{Event: EventDriverArrives})
}

func (l *Lifecycle) TripStarts() (Status, error) {
	return l.Apply(Trigger{Event: EventTripStarts})
}

func (l *Lifecycle) TripEnds() (Status, error) {
	return l.Apply(Trigger{Event: EventTripEnds})
}

// Apply advances the machine. An event that is not valid for the current
// status leaves everything unchanged and returns *InvalidTransitionError.
func (l *Lifecycle) Apply(t Trigger) (Status, error) {
	next, ok := Next(l.status, t.Event)
	if !ok {
		return l.status, &InvalidTransitionError{From: l.status, Event: t.Event}
	}
	l.etaMinutes = nil
	if next == StatusEnRoute {
		eta := t.EtaMinutes
		if eta < 0 {
			eta = 0
		}
		l.etaMinutes = &eta
	}
	l.status = next
	return next, nil
}
