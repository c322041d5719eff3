package appointments

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/appointment-engine/internal/apperr"
)

// Status is the lifecycle state of a persisted appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Appointment is a persisted calendar reservation.
type Appointment struct {
	ID        uuid.UUID
	PatientID string
	DoctorID  string
	Start     time.Time
	End       time.Time
	Status    Status
	CreatedAt time.Time
}

// BookingRequest is an immutable, fully collected booking intent. Build one
// through NewBookingRequest so a request can never exist with missing fields.
type BookingRequest struct {
	PatientID string
	DoctorID  string
	Start     time.Time
	End       time.Time
}

var (
	patientIDPattern = regexp.MustCompile(`^PAT-\d{4}$`)
	doctorIDPattern  = regexp.MustCompile(`^DR-\d{3}$`)
)

// ValidPatientID reports whether id matches the PAT-XXXX format.
func ValidPatientID(id string) bool { return patientIDPattern.MatchString(id) }

// ValidDoctorID reports whether id matches the DR-XXX format.
func ValidDoctorID(id string) bool { return doctorIDPattern.MatchString(id) }

// NewBookingRequest validates the collected fields and returns an immutable
// request. pastTolerance allows a small grace window for "right now" bookings.
func NewBookingRequest(patientID, doctorID string, start, end time.Time, now time.Time, pastTolerance time.Duration) (BookingRequest, error) {
	if !ValidPatientID(patientID) || !ValidDoctorID(doctorID) {
		return BookingRequest{}, apperr.Invalid(
			"Invalid ID format. Patient IDs must be PAT-XXXX, Doctor IDs DR-XXX.",
			fmt.Errorf("appointments: invalid ids patient=%q doctor=%q", patientID, doctorID),
		)
	}
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return BookingRequest{}, apperr.Invalid(
			"The appointment window looks wrong: the start must come before the end.",
			fmt.Errorf("appointments: invalid window start=%s end=%s", start, end),
		)
	}
	if start.Before(now.Add(-pastTolerance)) {
		return BookingRequest{}, apperr.Invalid(
			"That time is in the past. Please pick an upcoming slot.",
			fmt.Errorf("appointments: start %s is before now %s", start, now),
		)
	}
	return BookingRequest{PatientID: patientID, DoctorID: doctorID, Start: start.UTC(), End: end.UTC()}, nil
}
