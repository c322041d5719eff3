package session

import (
	"time"

	"github.com/clinicflow/appointment-engine/internal/appointments"
)

// State is the dialogue position of one conversation.
type State string

const (
	StateIdle                 State = "idle"
	StateCollectingInfo       State = "collecting_info"
	StateAwaitingSlotChoice   State = "awaiting_slot_choice"
	StateValidating           State = "validating"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateBooking              State = "booking"
	StateRetrievingKnowledge  State = "retrieving_knowledge"
	StateBooked               State = "booked"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateBooked, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Fields are the slot-candidate values accumulated across turns. Each is
// optional until confirmation; zero values mean "not collected yet".
type Fields struct {
	PatientID string
	DoctorID  string
	Start     time.Time
	End       time.Time
}

// Complete reports whether every field required for a booking is present.
func (f Fields) Complete() bool {
	return f.PatientID != "" && f.DoctorID != "" && !f.Start.IsZero() && !f.End.IsZero()
}

// merge overlays any newly extracted values onto the accumulated set.
func (f Fields) merge(extracted Fields) Fields {
	if extracted.PatientID != "" {
		f.PatientID = extracted.PatientID
	}
	if extracted.DoctorID != "" {
		f.DoctorID = extracted.DoctorID
	}
	if !extracted.Start.IsZero() {
		f.Start = extracted.Start
		f.End = extracted.End
	}
	return f
}

// Session is one conversation's complete dialogue state. The orchestrator
// owns the authoritative copy; Transition works on value copies only.
type Session struct {
	ID     string
	State  State
	Fields Fields

	// Passages holds the last knowledge snippets, kept for grounding replies.
	Passages []string

	// saved scheduling states to return to after knowledge detours
	Returns []State

	ValidationFailures int

	Appointment *appointments.Appointment

	CreatedAt    time.Time
	LastActivity time.Time
}

// New creates an idle session.
func New(id string, now time.Time) Session {
	return Session{ID: id, State: StateIdle, CreatedAt: now, LastActivity: now}
}

// clone deep-copies the slices so Transition never aliases caller state.
func (s Session) clone() Session {
	out := s
	out.Passages = append([]string(nil), s.Passages...)
	out.Returns = append([]State(nil), s.Returns...)
	if s.Appointment != nil {
		appt := *s.Appointment
		out.Appointment = &appt
	}
	return out
}

// pushReturn records the state to resume after a knowledge detour.
func (s *Session) pushReturn(state State) {
	s.Returns = append(s.Returns, state)
}

// popReturn resumes the most recent saved state, defaulting to Idle.
func (s *Session) popReturn() State {
	if len(s.Returns) == 0 {
		return StateIdle
	}
	state := s.Returns[len(s.Returns)-1]
	s.Returns = s.Returns[:len(s.Returns)-1]
	return state
}
