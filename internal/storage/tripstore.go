package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ride-coordinator/internal/ride"
)

// maxHistory caps how many rides ListRides returns.
const maxHistory = 100

// RideRecord is a stored ride as read back for the trip history.
type RideRecord struct {
	Ride      ride.ActiveRide
	Cancelled bool
}

// State is the ride status with cancellation folded in.
func (r RideRecord) State() string {
	if r.Cancelled {
		return "cancelled"
	}
	return string(r.Ride.Status)
}

// RideHistory lists a session's past and current rides, newest first.
type RideHistory interface {
	ListRides(ctx context.Context, sessionID string) ([]RideRecord, error)
}

// RideStore persists rides and their lifecycle history.
type RideStore interface {
	RideHistory
	SaveRide(ctx context.Context, r ride.ActiveRide) error
	UpdateRide(ctx context.Context, r ride.ActiveRide) error
	AppendEvent(ctx context.Context, u ride.Update) error
}

type MemoryStore struct {
	mu        sync.RWMutex
	rides     map[string]ride.ActiveRide
	events    map[string][]ride.Update
	cancelled map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:     make(map[string]ride.ActiveRide),
		events:    make(map[string][]ride.Update),
		cancelled: make(map[string]bool),
	}
}

func (m *MemoryStore) SaveRide(_ context.Context, r ride.ActiveRide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, r ride.ActiveRide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return ErrRideNotFound
	}
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, u ride.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[u.RideID] = append(m.events[u.RideID], u)
	if u.Cancelled {
		m.cancelled[u.RideID] = true
	}
	return nil
}

func (m *MemoryStore) ListRides(_ context.Context, sessionID string) ([]RideRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RideRecord
	for id, r := range m.rides {
		if r.SessionID == sessionID {
			out = append(out, RideRecord{Ride: r.Clone(), Cancelled: m.cancelled[id]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Ride, out[j].Ride
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	if len(out) > maxHistory {
		out = out[:maxHistory]
	}
	return out, nil
}

func (m *MemoryStore) Get(id string) (ride.ActiveRide, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return ride.ActiveRide{}, false
	}
	return r.Clone(), true
}

// Events returns the recorded updates for a ride, oldest first.
func (m *MemoryStore) Events(id string) []ride.Update {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ride.Update(nil), m.events[id]...)
}
