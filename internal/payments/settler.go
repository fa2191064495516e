package payments

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-coordinator/internal/fare"
	"github.com/example/ride-coordinator/internal/observability"
	"github.com/example/ride-coordinator/internal/ride"
)

// Settler reserves the quoted fare when a ride is created, captures it on
// completion and releases it on cancellation. Gateway calls run on a
// single worker so the session lock is never held across a network call.
type Settler struct {
	gateway Gateway
	logger  *slog.Logger
	timeout time.Duration

	jobs chan ride.Update
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	intents map[string]string
}

func NewSettler(g Gateway, logger *slog.Logger) *Settler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Settler{
		gateway: g,
		logger:  logger,
		timeout: 10 * time.Second,
		jobs:    make(chan ride.Update, 256),
		done:    make(chan struct{}),
		intents: make(map[string]string),
	}
}

func (s *Settler) OnRideUpdate(_ context.Context, u ride.Update) {
	if !u.Created() && !u.Cancelled && u.Status != ride.StatusCompleted {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	// the caller holds a session lock, so a full queue drops rather than waits
	select {
	case s.jobs <- u:
	default:
		observability.ObserverErrors.WithLabelValues("payments").Inc()
		s.logger.Error("payment queue full, update dropped", "ride_id", u.RideID, "status", u.Status, "cancelled", u.Cancelled)
	}
}

// Run processes updates until ctx is done or Close is called. Once ctx is
// done the settler is closed and later updates are ignored.
func (s *Settler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case u := <-s.jobs:
			s.handle(ctx, u)
		}
	}
}

func (s *Settler) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Settler) handle(ctx context.Context, u ride.Update) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	switch {
	case u.Created():
		amount := fare.Cents(u.Ride.Quote.TotalFare)
		id, err := s.gateway.Hold(ctx, u.RideID, amount, u.Ride.PaymentMethodID)
		if err != nil {
			s.fail("hold", u, err)
			return
		}
		s.mu.Lock()
		s.intents[u.RideID] = id
		s.mu.Unlock()
		s.logger.Info("fare held", "ride_id", u.RideID, "intent_id", id, "amount_cents", amount)

	case u.Cancelled, u.Status == ride.StatusCompleted:
		id, ok := s.takeIntent(u.RideID)
		if !ok {
			s.logger.Warn("no payment hold for ride", "ride_id", u.RideID)
			return
		}
		op, call := "capture", s.gateway.Capture
		if u.Cancelled {
			op, call = "cancel", s.gateway.Cancel
		}
		if err := call(ctx, id); err != nil {
			s.fail(op, u, err)
			return
		}
		s.logger.Info("payment settled", "ride_id", u.RideID, "intent_id", id, "op", op)
	}
}

func (s *Settler) takeIntent(rideID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.intents[rideID]
	delete(s.intents, rideID)
	return id, ok
}

func (s *Settler) fail(op string, u ride.Update, err error) {
	observability.ObserverErrors.WithLabelValues("payments").Inc()
	s.logger.Error("payment "+op+" failed", "ride_id", u.RideID, "error", err)
}
