// Package notify delivers booking confirmations over prioritized channels
// with bounded retries, fallback, and per-channel circuit breaking.
package notify

import (
	"context"

	"github.com/clinicflow/appointment-engine/pkg/logging"
)

// Channel names a delivery transport.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// ParseChannels converts config strings into channels, dropping unknowns.
func ParseChannels(names []string) []Channel {
	var out []Channel
	for _, n := range names {
		switch Channel(n) {
		case ChannelSMS, ChannelEmail:
			out = append(out, Channel(n))
		}
	}
	return out
}

// Message is the channel-agnostic notification payload. Recipients maps each
// channel to its address (phone number, email).
type Message struct {
	Subject    string
	Body       string
	Recipients map[Channel]string
}

// Sender is the uniform gateway contract: one synchronous send per call.
type Sender interface {
	Send(ctx context.Context, recipient string, msg Message) error
}

// StubSender logs instead of sending; used in tests and for disabled channels.
type StubSender struct {
	logger *logging.Logger
}

// NewStubSender creates a no-op sender.
func NewStubSender(logger *logging.Logger) *StubSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSender{logger: logger}
}

var _ Sender = (*StubSender)(nil)

// Send logs but doesn't send.
func (s *StubSender) Send(ctx context.Context, recipient string, msg Message) error {
	s.logger.Info("stub sender: would send", "to", recipient, "subject", msg.Subject)
	return nil
}
