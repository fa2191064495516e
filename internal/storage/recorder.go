package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-coordinator/internal/observability"
	"github.com/example/ride-coordinator/internal/ride"
)

// Recorder persists every ride update. Failures are logged and counted;
// they never reach the lifecycle.
type Recorder struct {
	store   RideStore
	logger  *slog.Logger
	timeout time.Duration
}

func NewRecorder(store RideStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, timeout: 3 * time.Second}
}

func (rec *Recorder) OnRideUpdate(ctx context.Context, u ride.Update) {
	// outlive the request that caused the update
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rec.timeout)
	defer cancel()

	var err error
	if u.Created() {
		err = rec.store.SaveRide(ctx, u.Ride)
	} else {
		err = rec.store.UpdateRide(ctx, u.Ride)
	}
	if err == nil {
		err = rec.store.AppendEvent(ctx, u)
	}
	if err != nil {
		observability.ObserverErrors.WithLabelValues("storage").Inc()
		rec.logger.Error("persist ride update failed", "ride_id", u.RideID, "status", u.Status, "error", err)
	}
}
