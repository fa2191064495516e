package trigger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-coordinator/internal/booking"
	"github.com/example/ride-coordinator/internal/eta"
	"github.com/example/ride-coordinator/internal/fare"
	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/models"
	"github.com/example/ride-coordinator/internal/ride"
	"github.com/example/ride-coordinator/internal/session"
)

var quiet = slog.New(slog.NewJSONHandler(io.Discard, nil))

func ptr[T any](v T) *T { return &v }

type statusLog struct {
	mu   sync.Mutex
	seen []ride.Status
	done chan struct{}
}

func newStatusLog() *statusLog { return &statusLog{done: make(chan struct{})} }

func (l *statusLog) OnRideUpdate(_ context.Context, u ride.Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, u.Status)
	if u.Status == ride.StatusCompleted || u.Cancelled {
		close(l.done)
	}
}

func (l *statusLog) statuses() []ride.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ride.Status(nil), l.seen...)
}

func startRide(t *testing.T, reg *session.Registry) ride.ActiveRide {
	t.Helper()
	s := reg.Session("p1")
	s.UpdateDraft(booking.Patch{
		Origin:          &models.Place{Name: "A", Coordinate: &geo.Coordinate{Lat: 6.5244, Lon: 3.3792}},
		Destination:     &models.Place{Name: "B", Coordinate: &geo.Coordinate{Lat: 6.45, Lon: 3.4}},
		Date:            &booking.Date{Year: 2024, Month: 5, Day: 2},
		DepartTime:      &booking.Clock{Hour: 9},
		PaymentMethodID: ptr("pm"),
	})
	r, err := s.StartRide(context.Background(), ride.Assignment{DriverID: "d1"})
	if err != nil {
		t.Fatalf("start ride: %v", err)
	}
	return r
}

func fastDelays() Delays {
	return Delays{
		Depart:     5 * time.Millisecond,
		Arrive:     5 * time.Millisecond,
		Start:      5 * time.Millisecond,
		End:        5 * time.Millisecond,
		EtaMinutes: 4,
	}
}

func TestSimulatorDrivesRideToCompletion(t *testing.T) {
	reg := session.NewRegistry(fare.NewEngine(), quiet)
	sim := NewSimulator(reg, fastDelays(), quiet)
	defer sim.Stop()
	log := newStatusLog()
	reg.Subscribe(sim)
	reg.Subscribe(log)

	startRide(t, reg)

	select {
	case <-log.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ride did not complete, saw %v", log.statuses())
	}
	want := []ride.Status{ride.StatusAccepted, ride.StatusEnRoute, ride.StatusArrived, ride.StatusInTrip, ride.StatusCompleted}
	got := log.statuses()
	if len(got) != len(want) {
		t.Fatalf("statuses = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v", got)
		}
	}
	if sim.Pending() != 0 {
		t.Fatalf("pending timers = %d", sim.Pending())
	}
}

func TestSimulatorZeroDelayDisablesStep(t *testing.T) {
	reg := session.NewRegistry(fare.NewEngine(), quiet)
	d := fastDelays()
	d.Start = 0
	sim := NewSimulator(reg, d, quiet)
	defer sim.Stop()
	reg.Subscribe(sim)

	r := startRide(t, reg)
	deadline := time.Now().Add(2 * time.Second)
	for {
		cur, _ := reg.Ride(r.ID)
		if cur.Status == ride.StatusArrived {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ride stuck in %s", cur.Status)
		}
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(30 * time.Millisecond)
	if cur, _ := reg.Ride(r.ID); cur.Status != ride.StatusArrived {
		t.Fatalf("disabled step fired: %s", cur.Status)
	}
	if sim.Pending() != 0 {
		t.Fatal("no timer expected for a disabled step")
	}
}

func TestSimulatorTimerIsCancelledByExternalEvent(t *testing.T) {
	reg := session.NewRegistry(fare.NewEngine(), quiet)
	d := fastDelays()
	d.Depart = time.Hour
	sim := NewSimulator(reg, d, quiet)
	defer sim.Stop()
	reg.Subscribe(sim)

	r := startRide(t, reg)
	if sim.Pending() != 1 {
		t.Fatalf("pending = %d", sim.Pending())
	}
	s, _ := reg.Lookup("p1")
	if err := s.CancelRide(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sim.Pending() != 0 {
		t.Fatal("cancel must clear the timer")
	}
	if _, ok := reg.Ride(r.ID); ok {
		t.Fatal("ride still active")
	}
}

func TestSimulatorStaleFireIsNoop(t *testing.T) {
	sink := &fakeSink{applyIfErr: session.ErrStale}
	sim := NewSimulator(sink, fastDelays(), quiet)
	sim.fire("r1", ride.StatusAccepted, ride.Trigger{Event: ride.EventDriverDeparts}, 99)
	if sink.ifCalls != 1 || sink.applyCalls != 0 {
		t.Fatalf("unexpected sink calls: %+v", sink)
	}
}

type fakeSink struct {
	mu         sync.Mutex
	applied    []ride.Trigger
	rideIDs    []string
	applyErr   error
	applyIfErr error
	applyCalls int
	ifCalls    int
	rides      map[string]ride.ActiveRide
}

func (f *fakeSink) Apply(_ context.Context, rideID string, t ride.Trigger) (ride.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyCalls++
	if f.applyErr != nil {
		return "", f.applyErr
	}
	f.applied = append(f.applied, t)
	f.rideIDs = append(f.rideIDs, rideID)
	return ride.StatusEnRoute, nil
}

func (f *fakeSink) ApplyIfCurrent(_ context.Context, _ string, _ ride.Status, _ ride.Trigger) (ride.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ifCalls++
	return "", f.applyIfErr
}

func (f *fakeSink) Ride(id string) (ride.ActiveRide, bool) {
	r, ok := f.rides[id]
	return r, ok
}

func TestKafkaSourceHandle(t *testing.T) {
	origin := geo.Coordinate{Lat: 6.5244, Lon: 3.3792}
	sink := &fakeSink{rides: map[string]ride.ActiveRide{
		"r1": {ID: "r1", Origin: models.Place{Name: "A", Coordinate: &origin}},
	}}
	src := NewKafkaSourceWithReader(nil, sink, &eta.Estimator{AvgSpeedKmh: 50}, quiet)
	ctx := context.Background()

	cases := []struct {
		name    string
		payload string
		wantErr bool
		wantEta int
	}{
		{name: "explicit eta", payload: `{"ride_id":"r1","event":"driverDeparts","eta_minutes":7}`, wantEta: 7},
		{name: "eta from position", payload: `{"ride_id":"r1","event":"driverDeparts","driver_lat":6.45,"driver_lon":3.4}`, wantEta: 10},
		{name: "no eta data", payload: `{"ride_id":"r1","event":"driverDeparts"}`, wantEta: 0},
		{name: "other event", payload: `{"ride_id":"r1","event":"driverArrives"}`},
		{name: "unknown event", payload: `{"ride_id":"r1","event":"honk"}`, wantErr: true},
		{name: "no ride", payload: `{"event":"tripEnds"}`, wantErr: true},
		{name: "garbage", payload: `{`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := len(sink.applied)
			err := src.Handle(ctx, []byte(tc.payload))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if len(sink.applied) != before {
					t.Fatal("bad event reached the sink")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			got := sink.applied[len(sink.applied)-1]
			if got.Source != kafkaSource || got.EtaMinutes != tc.wantEta {
				t.Fatalf("trigger = %+v, want eta %d", got, tc.wantEta)
			}
		})
	}
}

func TestKafkaSourceHandlePropagatesSinkErrors(t *testing.T) {
	sink := &fakeSink{applyErr: ride.ErrInvalidTransition}
	src := NewKafkaSourceWithReader(nil, sink, nil, quiet)
	err := src.Handle(context.Background(), []byte(`{"ride_id":"r1","event":"tripEnds"}`))
	if !errors.Is(err, ride.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	failFirst int
	committed int
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst > 0 {
		f.failFirst--
		return kafka.Message{}, errors.New("broker unavailable")
	}
	if len(f.msgs) == 0 {
		f.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	f.committed += len(msgs)
	f.mu.Unlock()
	return nil
}

func (f *fakeReader) Close() error { return nil }

func TestKafkaSourceRunCommitsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReader{
		msgs: []kafka.Message{
			{Value: []byte(`{"ride_id":"r1","event":"driverArrives"}`)},
			{Value: []byte(`not json`)},
			{Value: []byte(`{"ride_id":"r1","event":"tripStarts"}`)},
		},
		failFirst: 1,
		cancel:    cancel,
	}
	sink := &fakeSink{}
	src := NewKafkaSourceWithReader(r, sink, nil, quiet)
	src.maxBackoff = time.Millisecond

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if r.committed != 3 {
		t.Fatalf("committed = %d, want 3", r.committed)
	}
	if len(sink.applied) != 2 {
		t.Fatalf("applied = %d, want 2", len(sink.applied))
	}
}
