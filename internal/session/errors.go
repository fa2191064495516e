package session

import "errors"

var (
	// ErrConflict is returned when a session already holds an active ride.
	ErrConflict = errors.New("session already has an active ride")
	// ErrNoActiveRide is returned by ride operations on an idle session.
	ErrNoActiveRide = errors.New("no active ride")
	// ErrNotFound is returned when a ride id is not held by any session.
	ErrNotFound = errors.New("ride not found")
	// ErrStale is returned by ApplyIfCurrent when the ride has moved on.
	ErrStale = errors.New("stale ride event")
)
