package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-coordinator/internal/ride"
)

// WebhookNotifier POSTs every update as JSON to a fixed endpoint.
type WebhookNotifier struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhookNotifier(endpoint string) *WebhookNotifier {
	return &WebhookNotifier{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (w *WebhookNotifier) Notify(ctx context.Context, u ride.Update) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
