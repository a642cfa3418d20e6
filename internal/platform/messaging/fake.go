package messaging

import (
	"context"
	"fmt"
	"sync"
)

// FakeSender records sent messages in memory. Used in tests and in
// development mode when no gateway is configured.
type FakeSender struct {
	mu   sync.Mutex
	sent []Message

	// FailNext causes the next Send to return this error, then resets.
	FailNext error
	// FailAll causes every Send to return this error.
	FailAll error
}

func NewFakeSender() *FakeSender {
	return &FakeSender{}
}

func (f *FakeSender) Send(ctx context.Context, channel Channel, recipient, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailAll != nil {
		return "", f.FailAll
	}
	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return "", err
	}

	f.sent = append(f.sent, Message{Channel: channel, Recipient: recipient, Text: text})
	return fmt.Sprintf("fake-%d", len(f.sent)), nil
}

// Sent returns a copy of all recorded messages.
func (f *FakeSender) Sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.sent))
	copy(out, f.sent)
	return out
}

// Reset clears recorded messages and failure modes.
func (f *FakeSender) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.FailNext = nil
	f.FailAll = nil
}
