package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ride-coordinator/internal/observability"
	"github.com/example/ride-coordinator/internal/ride"
)

// Notifier delivers a ride update to the passenger through one channel.
type Notifier interface {
	Notify(ctx context.Context, u ride.Update) error
}

var ErrNoSession = errors.New("no client connected for session")

// Fanout hands each update to every notifier. A session with no connected
// client is not an error.
type Fanout struct {
	notifiers []namedNotifier
	logger    *slog.Logger
}

type namedNotifier struct {
	name string
	n    Notifier
}

func NewFanout(logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{logger: logger}
}

// Add registers a notifier under a name used in logs and metrics.
func (f *Fanout) Add(name string, n Notifier) *Fanout {
	f.notifiers = append(f.notifiers, namedNotifier{name: name, n: n})
	return f
}

func (f *Fanout) OnRideUpdate(ctx context.Context, u ride.Update) {
	ctx = context.WithoutCancel(ctx)
	for _, nn := range f.notifiers {
		err := nn.n.Notify(ctx, u)
		if err == nil || errors.Is(err, ErrNoSession) {
			continue
		}
		observability.ObserverErrors.WithLabelValues(nn.name).Inc()
		f.logger.Warn("notify failed", "notifier", nn.name, "ride_id", u.RideID, "session_id", u.SessionID, "error", err)
	}
}
