package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/clinicflow/appointment-engine/internal/apperr"
	"github.com/clinicflow/appointment-engine/pkg/logging"
)

// SendGridConfig holds configuration for the email gateway.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridSender sends email via the SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// NewSendGridSender creates a new SendGrid email sender. Returns nil when no
// API key is configured so callers can leave the channel unwired.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Clinic Assistant"
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

var _ Sender = (*SendGridSender)(nil)

// Send delivers one email. Transport errors and 5xx responses are transient.
func (s *SendGridSender) Send(ctx context.Context, recipient string, msg Message) error {
	if s.client == nil {
		return apperr.Fatal("", fmt.Errorf("notify: sendgrid client not configured"))
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", recipient)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, msg.Body)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return apperr.Transientf("notify: sendgrid send: %w", err)
	}
	if response.StatusCode >= 500 {
		return apperr.Transientf("notify: sendgrid returned %d", response.StatusCode)
	}
	if response.StatusCode >= 400 {
		return apperr.Fatal("", fmt.Errorf("notify: sendgrid returned %d: %s", response.StatusCode, response.Body))
	}

	s.logger.Info("email sent", "to", recipient, "subject", msg.Subject, "status", response.StatusCode)
	return nil
}
