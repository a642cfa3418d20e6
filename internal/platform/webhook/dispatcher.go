// Package webhook delivers outbound integration events to third-party URLs
// with HMAC-SHA256 signing, a single retry for transient failures, and an
// in-memory delivery log for the admin surface.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

// Event is the payload delivered to an integration URL.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	LeadID    string          `json:"lead_id,omitempty"`
	RuleID    string          `json:"rule_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Delivery records one delivery attempt.
type Delivery struct {
	ID         string        `json:"id"`
	URL        string        `json:"url"`
	EventID    string        `json:"event_id"`
	EventType  string        `json:"event_type"`
	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration_ns"`
	Attempts   int           `json:"attempts"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SignPayload computes an HMAC-SHA256 signature of the payload using the given
// secret, returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the
// HMAC-SHA256 of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ValidateURL checks that the URL is non-empty and uses http or https.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return errs.Validation("url", "is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return errs.Validation("url", err.Error())
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return errs.Validation("url", fmt.Sprintf("scheme must be http or https, got %q", u.Scheme))
	}
	return nil
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetryDelay sets the pause before the single transient-failure retry.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelay = delay }
}

// WithLogSize caps the in-memory delivery log.
func WithLogSize(n int) Option {
	return func(d *Dispatcher) { d.logSize = n }
}

// Dispatcher posts signed events to integration URLs.
type Dispatcher struct {
	client     *http.Client
	secret     string
	retryDelay time.Duration
	logSize    int
	log        zerolog.Logger

	mu         sync.Mutex
	deliveries []*Delivery
}

// NewDispatcher creates a Dispatcher. The secret signs every payload; an
// empty secret disables signing.
func NewDispatcher(secret string, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:     &http.Client{Timeout: 10 * time.Second},
		secret:     secret,
		retryDelay: time.Second,
		logSize:    200,
		log:        log.With().Str("component", "webhook").Logger(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch signs and POSTs the event to rawURL. Connection failures and 5xx
// responses are retried once; the returned error is a TransientDeliveryError
// when the final attempt still failed that way.
func (d *Dispatcher) Dispatch(ctx context.Context, rawURL string, event Event) (*Delivery, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	delivery := &Delivery{
		ID:        uuid.New().String(),
		URL:       rawURL,
		EventID:   event.ID,
		EventType: event.Type,
		CreatedAt: time.Now(),
	}

	start := time.Now()
	statusCode, attemptErr := d.post(ctx, rawURL, payload, event.Timestamp)
	delivery.Attempts = 1

	if retryable(statusCode, attemptErr) {
		select {
		case <-ctx.Done():
			attemptErr = ctx.Err()
		case <-time.After(d.retryDelay):
			statusCode, attemptErr = d.post(ctx, rawURL, payload, event.Timestamp)
			delivery.Attempts = 2
		}
	}

	delivery.Duration = time.Since(start)
	delivery.StatusCode = statusCode

	switch {
	case attemptErr != nil:
		delivery.Error = attemptErr.Error()
	case statusCode < 200 || statusCode >= 300:
		delivery.Error = fmt.Sprintf("non-2xx response: %d", statusCode)
	default:
		delivery.Success = true
	}
	d.record(delivery)

	if delivery.Success {
		d.log.Debug().Str("url", rawURL).Str("event", event.Type).Msg("webhook delivered")
		return delivery, nil
	}

	d.log.Warn().Str("url", rawURL).Str("event", event.Type).
		Int("status", statusCode).Str("error", delivery.Error).Msg("webhook delivery failed")
	if retryable(statusCode, attemptErr) {
		return delivery, errs.TransientDelivery("webhook", fmt.Errorf("%s", delivery.Error))
	}
	return delivery, fmt.Errorf("webhook delivery to %s failed: %s", rawURL, delivery.Error)
}

func retryable(statusCode int, err error) bool {
	return err != nil || statusCode >= 500
}

func (d *Dispatcher) post(ctx context.Context, rawURL string, payload []byte, ts time.Time) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Timestamp", ts.UTC().Format(time.RFC3339))
	if d.secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, d.secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, nil
}

func (d *Dispatcher) record(delivery *Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery)
	if len(d.deliveries) > d.logSize {
		d.deliveries = d.deliveries[len(d.deliveries)-d.logSize:]
	}
}

// Deliveries returns a copy of the delivery log, oldest first.
func (d *Dispatcher) Deliveries() []*Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Delivery, len(d.deliveries))
	copy(out, d.deliveries)
	return out
}
