// Package messaging provides the outbound message port used by automation
// actions and the no-show recovery protocol. The concrete sender posts to a
// messaging gateway over HTTP; tests use the in-memory fake.
package messaging

import (
	"context"
	"strings"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelFacebook  Channel = "facebook"
	ChannelInstagram Channel = "instagram"
)

var validChannels = map[Channel]bool{
	ChannelWhatsApp:  true,
	ChannelFacebook:  true,
	ChannelInstagram: true,
}

// ParseChannel normalizes and validates a channel name.
func ParseChannel(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !validChannels[ch] {
		return "", errs.Validation("channel", "must be one of whatsapp, facebook, instagram")
	}
	return ch, nil
}

// IsSocial reports whether the channel is subject to the platform messaging
// window (Facebook and Instagram limit outbound messages after a period of
// customer inactivity).
func (c Channel) IsSocial() bool {
	return c == ChannelFacebook || c == ChannelInstagram
}

// Message is a single outbound text message.
type Message struct {
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`
	Text      string  `json:"text"`
}

// Port sends messages through a delivery channel and returns the provider's
// message id. Implementations must honor ctx cancellation and return
// TransientDeliveryError for retryable failures.
type Port interface {
	Send(ctx context.Context, channel Channel, recipient, text string) (string, error)
}
