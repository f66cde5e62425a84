// Package webhook delivers terminal job callbacks to client-supplied
// URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wendelpaco/nfce-scraper-service/internal/metrics"
	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

const defaultTimeout = 10 * time.Second

// Notifier posts webhook payloads over HTTP. Delivery is best effort:
// callers log a returned error and move on, job status is never
// changed because of it.
type Notifier struct {
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// Option adjusts Notifier construction.
type Option func(*Notifier)

// WithClient swaps the underlying HTTP client.
func WithClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithTimeout bounds a single delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

// NewNotifier constructs a Notifier.
func NewNotifier(logger *zap.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		client:  &http.Client{},
		timeout: defaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Deliver posts the payload to its webhook URL. An empty WebhookURL is
// a no-op.
func (n *Notifier) Deliver(ctx context.Context, payload nfce.WebhookPayload) error {
	if payload.WebhookURL == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.ObserveWebhookDelivery("error")
		return fmt.Errorf("delivering webhook to %s: %w", payload.WebhookURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveWebhookDelivery("error")
		return fmt.Errorf("webhook %s answered %d", payload.WebhookURL, resp.StatusCode)
	}

	metrics.ObserveWebhookDelivery("ok")
	n.logger.Debug("webhook delivered",
		zap.String("url", payload.WebhookURL),
		zap.String("job_id", payload.URLQueueID),
		zap.String("status", string(payload.Status)))
	return nil
}
