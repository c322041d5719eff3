package session

import (
	"github.com/google/uuid"

	"github.com/clinicflow/appointment-engine/internal/appointments"
	"github.com/clinicflow/appointment-engine/internal/knowledge"
	"github.com/clinicflow/appointment-engine/internal/notify"
)

// TurnKind distinguishes user input from effect results fed back by the
// orchestrator.
type TurnKind string

const (
	TurnUser      TurnKind = "user"
	TurnBooked    TurnKind = "booking_result"
	TurnRetrieved TurnKind = "retrieval_result"
	TurnNotified  TurnKind = "dispatch_result"
)

// Turn is one input to the transition function. Exactly one payload is set,
// matching Kind.
type Turn struct {
	Kind  TurnKind
	Input string

	Booking   *BookingResult
	Retrieval *RetrievalResult
	Dispatch  *DispatchResult
}

// UserTurn wraps raw user text.
func UserTurn(input string) Turn { return Turn{Kind: TurnUser, Input: input} }

// BookingResult is the outcome of executing a BookEffect.
type BookingResult struct {
	Appointment *appointments.Appointment
	Err         error
}

// RetrievalResult is the outcome of executing a RetrieveEffect.
type RetrievalResult struct {
	Passages []knowledge.Passage
	Err      error
}

// DispatchResult is the outcome of executing a NotifyEffect.
type DispatchResult struct {
	Outcome notify.Outcome
	Err     error
}

// Effect is a pending side effect emitted by a transition. The orchestrator
// executes it and feeds the result back as a synthetic turn.
type Effect interface{ effect() }

// BookEffect asks the orchestrator to commit a booking.
type BookEffect struct {
	Request appointments.BookingRequest
}

// RetrieveEffect asks the orchestrator to query the knowledge retriever.
type RetrieveEffect struct {
	Query string
	TopK  int
}

// NotifyEffect asks the orchestrator to dispatch a booking confirmation.
type NotifyEffect struct {
	AppointmentID uuid.UUID
	Appointment   appointments.Appointment
}

func (BookEffect) effect()     {}
func (RetrieveEffect) effect() {}
func (NotifyEffect) effect()   {}

// Reply is the structured result returned to the transport layer. Kind is
// empty on the happy path; otherwise it names the error class so the caller
// can render an actionable message.
type Reply struct {
	Text        string
	State       State
	Kind        string
	Appointment *appointments.Appointment
}
