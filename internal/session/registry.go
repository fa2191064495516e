package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-coordinator/internal/fare"
	"github.com/example/ride-coordinator/internal/ride"
)

// Observer receives every ride update in the order it happened. It is
// called with the owning session locked and must not call back into that
// session synchronously.
type Observer interface {
	OnRideUpdate(ctx context.Context, u ride.Update)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(ctx context.Context, u ride.Update)

func (f ObserverFunc) OnRideUpdate(ctx context.Context, u ride.Update) { f(ctx, u) }

// Registry owns every passenger session in the process and indexes active
// rides by id. Sessions lock independently; the registry lock only guards
// the two maps and is never held while a session lock is taken.
type Registry struct {
	engine *fare.Engine
	issuer CodeIssuer
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu        sync.RWMutex
	sessions  map[string]*Session
	rides     map[string]*Session
	observers []Observer
}

type Option func(*Registry)

func WithCodeIssuer(ci CodeIssuer) Option {
	return func(r *Registry) { r.issuer = ci }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

func NewRegistry(engine *fare.Engine, logger *slog.Logger, opts ...Option) *Registry {
	if engine == nil {
		engine = fare.NewEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		engine:   engine,
		issuer:   RandomCodeIssuer{},
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
		rides:    make(map[string]*Session),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Subscribe adds an observer. Updates already delivered are not replayed.
func (r *Registry) Subscribe(o Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

// Session returns the session for id, creating an empty one on first use.
// Each call marks the session as seen for Prune.
func (r *Registry) Session(id string) *Session {
	now := r.now()
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		s.touch(now)
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.sessions[id]; ok {
		s.touch(now)
		return s
	}
	s = newSession(id, r)
	s.touch(now)
	r.sessions[id] = s
	return s
}

// Prune drops sessions that hold no ride and have not been returned by
// Session within idle. Their drafts are discarded. It returns the number
// removed.
func (r *Registry) Prune(idle time.Duration) int {
	cutoff := r.now().Add(-idle).UnixNano()
	r.mu.Lock()
	defer r.mu.Unlock()
	busy := make(map[*Session]bool, len(r.rides))
	for _, s := range r.rides {
		busy[s] = true
	}
	n := 0
	for id, s := range r.sessions {
		if busy[s] || s.lastSeen.Load() > cutoff {
			continue
		}
		delete(r.sessions, id)
		n++
	}
	return n
}

// Janitor calls Prune every interval until ctx is done.
func (r *Registry) Janitor(ctx context.Context, interval, idle time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Prune(idle); n > 0 {
				r.logger.Debug("pruned idle sessions", "count", n)
			}
		}
	}
}

// Lookup returns an existing session without creating one.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Ride returns a copy of the active ride with the given id.
func (r *Registry) Ride(rideID string) (ride.ActiveRide, bool) {
	s, ok := r.sessionForRide(rideID)
	if !ok {
		return ride.ActiveRide{}, false
	}
	cur, ok := s.CurrentRide()
	if !ok || cur.ID != rideID {
		return ride.ActiveRide{}, false
	}
	return cur, true
}

// ActiveRides counts rides currently held by sessions.
func (r *Registry) ActiveRides() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rides)
}

// Apply routes a lifecycle event to the session holding rideID.
func (r *Registry) Apply(ctx context.Context, rideID string, t ride.Trigger) (ride.Status, error) {
	s, ok := r.sessionForRide(rideID)
	if !ok {
		return "", ErrNotFound
	}
	return s.apply(ctx, rideID, nil, t)
}

// ApplyIfCurrent applies t only if the ride still exists and is in expect.
// Otherwise it does nothing and returns ErrStale.
func (r *Registry) ApplyIfCurrent(ctx context.Context, rideID string, expect ride.Status, t ride.Trigger) (ride.Status, error) {
	s, ok := r.sessionForRide(rideID)
	if !ok {
		return "", ErrStale
	}
	return s.apply(ctx, rideID, &expect, t)
}

func (r *Registry) sessionForRide(rideID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rides[rideID]
	return s, ok
}

func (r *Registry) index(rideID string, s *Session) {
	r.mu.Lock()
	r.rides[rideID] = s
	// a session pruned while its request was in flight comes back with its ride
	if _, ok := r.sessions[s.id]; !ok {
		r.sessions[s.id] = s
	}
	r.mu.Unlock()
}

func (r *Registry) unindex(rideID string) {
	r.mu.Lock()
	delete(r.rides, rideID)
	r.mu.Unlock()
}

func (r *Registry) notify(ctx context.Context, u ride.Update) {
	r.mu.RLock()
	obs := make([]Observer, len(r.observers))
	copy(obs, r.observers)
	r.mu.RUnlock()
	for _, o := range obs {
		o.OnRideUpdate(ctx, u)
	}
}
