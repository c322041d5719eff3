package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clinicflow/appointment-engine/internal/apperr"
	"github.com/clinicflow/appointment-engine/pkg/logging"
)

const (
	twilioDefaultBaseURL = "https://api.twilio.com"
	twilioUserAgent      = "clinicflow-appointment-engine/0.1"
)

// TwilioConfig controls the SMS gateway client.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// TwilioSMSSender sends SMS through the Twilio Messages REST endpoint.
type TwilioSMSSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTwilioSMSSender creates a configured sender with sane defaults.
func NewTwilioSMSSender(cfg TwilioConfig, logger *logging.Logger) (*TwilioSMSSender, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("notify: twilio account sid and auth token are required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, errors.New("notify: twilio from number is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = twilioDefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSMSSender{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.FromNumber,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

var _ Sender = (*TwilioSMSSender)(nil)

// Send posts one message to the Twilio API. 5xx and transport failures are
// transient; 4xx responses are not retried.
func (s *TwilioSMSSender) Send(ctx context.Context, recipient string, msg Message) error {
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", s.from)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return apperr.Fatal("", fmt.Errorf("notify: build twilio request: %w", err))
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", twilioUserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperr.Transientf("notify: twilio send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.Info("sms sent", "to", recipient, "sid", twilioMessageSID(body))
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return apperr.Transientf("notify: twilio returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		return apperr.Fatal("", fmt.Errorf("notify: twilio returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
}

func twilioMessageSID(body []byte) string {
	var payload struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.SID
}
