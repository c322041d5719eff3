package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/appointment-engine/internal/apperr"
	"github.com/clinicflow/appointment-engine/internal/retry"
	"github.com/clinicflow/appointment-engine/pkg/logging"
)

// ErrAllChannelsFailed marks a job whose every channel was exhausted or
// skipped. The caller escalates it to a human operator.
var ErrAllChannelsFailed = errors.New("notify: all channels failed")

// AttemptStatus tracks one channel attempt within a job.
type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSent    AttemptStatus = "sent"
	AttemptFailed  AttemptStatus = "failed"
	AttemptSkipped AttemptStatus = "skipped"
)

// Attempt records the terminal status of one channel within a job. Statuses
// move Pending -> Sent|Failed|Skipped and never regress.
type Attempt struct {
	Channel      Channel
	Status       AttemptStatus
	AttemptCount int
	LastError    string
}

// Outcome reports which channel, if any, delivered the job.
type Outcome struct {
	AppointmentID uuid.UUID
	Delivered     Channel
	Attempts      []Attempt
}

// Succeeded reports whether any channel delivered the message.
func (o Outcome) Succeeded() bool { return o.Delivered != "" }

// DispatcherConfig tunes per-channel retries and the circuit breaker.
type DispatcherConfig struct {
	// Retry bounds calls per channel; MaxAttempts is total calls, not re-calls.
	Retry retry.Policy
	// CallTimeout bounds each gateway send.
	CallTimeout time.Duration
	// OnCircuitOpen is invoked once per circuit trip, for metrics.
	OnCircuitOpen func(Channel)
}

// Dispatcher walks channels in caller-supplied priority order. At most one
// channel ever delivers a given job; once a send succeeds the remaining
// channels are never attempted.
type Dispatcher struct {
	senders map[Channel]Sender
	health  *HealthRegistry
	cfg     DispatcherConfig
	logger  *logging.Logger
}

// NewDispatcher builds a dispatcher over the given channel senders.
func NewDispatcher(senders map[Channel]Sender, health *HealthRegistry, cfg DispatcherConfig, logger *logging.Logger) *Dispatcher {
	if health == nil {
		health = NewHealthRegistry(0, 0)
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Policy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Dispatcher{senders: senders, health: health, cfg: cfg, logger: logger}
}

// Health exposes the shared registry for diagnostics.
func (d *Dispatcher) Health() *HealthRegistry { return d.health }

// Dispatch attempts delivery over each channel in order. A channel whose
// circuit is open is skipped without consuming any retry attempt. Within a
// channel, transient failures are retried up to the policy bound before
// falling through to the next channel.
func (d *Dispatcher) Dispatch(ctx context.Context, appointmentID uuid.UUID, msg Message, order []Channel) (Outcome, error) {
	out := Outcome{AppointmentID: appointmentID}
	if len(order) == 0 {
		return out, apperr.Invalid("", errors.New("notify: empty channel order"))
	}

	for _, ch := range order {
		attempt := Attempt{Channel: ch, Status: AttemptPending}

		sender, ok := d.senders[ch]
		recipient := msg.Recipients[ch]
		if !ok || sender == nil || recipient == "" {
			attempt.Status = AttemptSkipped
			attempt.LastError = "channel not configured"
			out.Attempts = append(out.Attempts, attempt)
			continue
		}

		if d.health.Open(ch) {
			d.logger.Warn("channel circuit open; skipping", "channel", ch, "appointment_id", appointmentID)
			attempt.Status = AttemptSkipped
			attempt.LastError = string(apperr.KindCircuitOpen)
			out.Attempts = append(out.Attempts, attempt)
			continue
		}

		sent, lastErr := d.tryChannel(ctx, ch, sender, recipient, msg, &attempt)
		if sent {
			attempt.Status = AttemptSent
			out.Attempts = append(out.Attempts, attempt)
			out.Delivered = ch
			d.logger.Info("notification delivered", "channel", ch, "appointment_id", appointmentID, "attempts", attempt.AttemptCount)
			return out, nil
		}

		attempt.Status = AttemptFailed
		if lastErr != nil {
			attempt.LastError = lastErr.Error()
		}
		out.Attempts = append(out.Attempts, attempt)
		if ctx.Err() != nil {
			return out, apperr.Transientf("notify: dispatch interrupted: %w", ctx.Err())
		}
		d.logger.Warn("channel exhausted; falling through", "channel", ch, "appointment_id", appointmentID, "error", attempt.LastError)
	}

	d.logger.Error("notification job terminal without delivery", "appointment_id", appointmentID)
	return out, ErrAllChannelsFailed
}

// tryChannel runs the bounded retry loop for one channel.
func (d *Dispatcher) tryChannel(ctx context.Context, ch Channel, sender Sender, recipient string, msg Message, attempt *Attempt) (bool, error) {
	var lastErr error
	for i := 1; i <= d.cfg.Retry.MaxAttempts; i++ {
		attempt.AttemptCount++

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		err := sender.Send(callCtx, recipient, msg)
		cancel()

		if err == nil {
			d.health.RecordSuccess(ch)
			return true, nil
		}
		lastErr = err

		if tripped := d.health.RecordFailure(ch); tripped {
			d.logger.Error("channel circuit opened", "channel", ch, "failures", d.health.Snapshot(ch).ConsecutiveFailures)
			if d.cfg.OnCircuitOpen != nil {
				d.cfg.OnCircuitOpen(ch)
			}
		}
		if !apperr.Retryable(err) {
			break
		}
		if i == d.cfg.Retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("notify: wait before retry: %w", ctx.Err())
		case <-time.After(d.cfg.Retry.Delay(i)):
		}
	}
	return false, lastErr
}
