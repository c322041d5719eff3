package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicflow/appointment-engine/internal/apperr"
	"github.com/clinicflow/appointment-engine/internal/locks"
	"github.com/clinicflow/appointment-engine/internal/retry"
	"github.com/clinicflow/appointment-engine/pkg/logging"
)

var bookingTracer = otel.Tracer("clinicflow.internal.appointments")

// SlotStore is the persistence contract Book depends on.
type SlotStore interface {
	ReserveIfFree(ctx context.Context, req BookingRequest) (*Appointment, error)
	ListAppointments(ctx context.Context, doctorID string, from, to time.Time) ([]Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// ServiceConfig tunes the booking core.
type ServiceConfig struct {
	// PastTolerance lets a request start slightly in the past.
	PastTolerance time.Duration
	// LockTTL bounds how long a crashed process can hold a doctor lock.
	LockTTL time.Duration
	// StoreTimeout bounds each slot-store call.
	StoreTimeout time.Duration
	// Retry drives transient-failure retries against the store.
	Retry retry.Policy
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Service validates booking requests and commits them against the slot store
// under a per-doctor lock.
type Service struct {
	store  SlotStore
	locker locks.DoctorLocker
	logger *logging.Logger
	cfg    ServiceConfig
}

// NewService constructs the booking core.
func NewService(store SlotStore, locker locks.DoctorLocker, cfg ServiceConfig, logger *logging.Logger) *Service {
	if store == nil {
		panic("appointments: slot store required")
	}
	if locker == nil {
		locker = locks.NewMemoryLocker()
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{store: store, locker: locker, logger: logger, cfg: cfg}
}

// Book validates the request and reserves the slot. The per-doctor lock plus
// the store's transactional check-then-insert serialize racing bookings for
// the same doctor; disjoint doctors proceed independently. Transient store
// failures are retried per the policy before surfacing.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	ctx, span := bookingTracer.Start(ctx, "appointments.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicflow.doctor_id", req.DoctorID),
		attribute.String("clinicflow.patient_id", req.PatientID),
	)

	// Re-validate: a BookingRequest assembled elsewhere must satisfy the same
	// preconditions as one built through NewBookingRequest.
	if _, err := NewBookingRequest(req.PatientID, req.DoctorID, req.Start, req.End, s.cfg.Now(), s.cfg.PastTolerance); err != nil {
		span.RecordError(err)
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, req.DoctorID, s.cfg.LockTTL)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer release()

	var appt *Appointment
	err = s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		defer cancel()
		var reserveErr error
		appt, reserveErr = s.store.ReserveIfFree(callCtx, req)
		return reserveErr
	})
	if err != nil {
		span.RecordError(err)
		if apperr.KindOf(err) == apperr.KindSlotUnavailable {
			s.logger.Info("booking conflict", "doctor_id", req.DoctorID, "start", req.Start)
		} else {
			s.logger.Error("booking failed", "error", err, "doctor_id", req.DoctorID)
		}
		return nil, err
	}

	s.logger.Info("booking confirmed",
		"appointment_id", appt.ID,
		"doctor_id", appt.DoctorID,
		"patient_id", appt.PatientID,
		"start", appt.Start,
	)
	return appt, nil
}

// Cancel transitions a confirmed appointment to cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.store.Cancel(callCtx, id); err != nil {
		s.logger.Error("cancel failed", "error", err, "appointment_id", id)
		return err
	}
	s.logger.Info("appointment cancelled", "appointment_id", id)
	return nil
}
