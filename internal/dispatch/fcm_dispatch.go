package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"

	"github.com/example/ride-coordinator/internal/ride"
)

// MessageSender is the part of *messaging.Client we use.
type MessageSender interface {
	Send(ctx context.Context, m *messaging.Message) (string, error)
}

// DeviceTokens maps passenger sessions to FCM registration tokens.
type DeviceTokens struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewDeviceTokens() *DeviceTokens { return &DeviceTokens{tokens: make(map[string]string)} }

func (d *DeviceTokens) Set(sessionID, token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if token == "" {
		delete(d.tokens, sessionID)
		return
	}
	d.tokens[sessionID] = token
}

func (d *DeviceTokens) Get(sessionID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tokens[sessionID]
	return t, ok
}

// FCMNotifier pushes status changes to the passenger's phone.
type FCMNotifier struct {
	sender MessageSender
	tokens *DeviceTokens
}

func NewFCMNotifier(ctx context.Context, app *firebase.App, tokens *DeviceTokens) (*FCMNotifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	return NewFCMNotifierWithSender(client, tokens), nil
}

func NewFCMNotifierWithSender(s MessageSender, tokens *DeviceTokens) *FCMNotifier {
	return &FCMNotifier{sender: s, tokens: tokens}
}

func (f *FCMNotifier) Notify(ctx context.Context, u ride.Update) error {
	token, ok := f.tokens.Get(u.SessionID)
	if !ok {
		return ErrNoSession
	}
	title, body := pushText(u)
	data := map[string]string{
		"ride_id": u.RideID,
		"status":  string(u.Status),
	}
	if u.Ride.EtaMinutes != nil {
		data["eta_minutes"] = strconv.Itoa(*u.Ride.EtaMinutes)
	}
	if u.Cancelled {
		data["cancelled"] = "true"
	}
	if u.Feedback {
		data["feedback"] = "true"
	}
	_, err := f.sender.Send(ctx, &messaging.Message{
		Token:        token,
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         data,
	})
	return err
}

func pushText(u ride.Update) (string, string) {
	driver := u.Ride.DriverName
	if driver == "" {
		driver = "Your driver"
	}
	if u.Cancelled {
		return "Ride cancelled", "Your ride has been cancelled."
	}
	switch u.Status {
	case ride.StatusAccepted:
		return "Booking accepted", driver + " accepted your ride."
	case ride.StatusEnRoute:
		if u.Ride.EtaMinutes != nil {
			return "Driver on the way", fmt.Sprintf("%s arrives in %d min.", driver, *u.Ride.EtaMinutes)
		}
		return "Driver on the way", driver + " is on the way."
	case ride.StatusArrived:
		return "Driver arrived", driver + " is waiting at the pickup point."
	case ride.StatusInTrip:
		return "Trip started", "Enjoy your ride."
	case ride.StatusCompleted:
		return "Trip completed", "How was your ride? Leave a rating."
	}
	return "Ride update", string(u.Status)
}
