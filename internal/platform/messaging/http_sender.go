package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

// HTTPSender delivers messages by POSTing to a messaging gateway. The gateway
// owns the provider-specific wire formats; this client only speaks the
// gateway's JSON envelope.
type HTTPSender struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

// NewHTTPSender builds a sender with an explicit request timeout. The timeout
// bounds every Send call, independent of the caller's context.
func NewHTTPSender(baseURL, token string, timeout time.Duration, log zerolog.Logger) *HTTPSender {
	return &HTTPSender{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "messaging").Logger(),
	}
}

type gatewayRequest struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Type    string `json:"type"`
	Text    string `json:"text"`
}

type gatewayResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

func (s *HTTPSender) Send(ctx context.Context, channel Channel, recipient, text string) (string, error) {
	if !validChannels[channel] {
		return "", errs.Validation("channel", fmt.Sprintf("unknown channel %q", channel))
	}
	if recipient == "" {
		return "", errs.Validation("recipient", "is required")
	}
	if text == "" {
		return "", errs.Validation("text", "is required")
	}

	body, err := json.Marshal(gatewayRequest{
		Channel: string(channel),
		To:      recipient,
		Type:    "text",
		Text:    text,
	})
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable.
		return "", errs.TransientDelivery(string(channel), err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var gr gatewayResponse
		if err := json.Unmarshal(raw, &gr); err == nil && gr.MessageID != "" {
			s.log.Debug().Str("channel", string(channel)).Str("message_id", gr.MessageID).Msg("message accepted")
		}
		return gr.MessageID, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", errs.TransientDelivery(string(channel),
			fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(raw)))
	default:
		return "", errs.Validationf("gateway rejected message (%d): %s", resp.StatusCode, string(raw))
	}
}
