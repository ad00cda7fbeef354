package notifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"volunteerattendance/internal/queue"
)

// Receipt is the dispatcher's acknowledgement of a notification.
type Receipt struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// Client calls the notification dispatcher service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Dispatch forwards one terminal-transition notification. The dispatcher is
// expected to deduplicate on the notification id.
func (c *Client) Dispatch(ctx context.Context, n queue.Notification) (*Receipt, error) {
	if c.Skip {
		return &Receipt{ID: n.ID, Accepted: true, Message: "dispatched (mock)"}, nil
	}
	if n.ID == "" {
		return nil, fmt.Errorf("notification id required")
	}

	body, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.ID)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notify service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("notify service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out Receipt
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.ID == "" {
		out.ID = n.ID
	}
	return &out, nil
}

// Health checks if the notify service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("notify service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify service unhealthy: %s", resp.Status)
	}

	return nil
}
