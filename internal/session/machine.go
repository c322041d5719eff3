package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/clinicflow/appointment-engine/internal/apperr"
	"github.com/clinicflow/appointment-engine/internal/appointments"
)

// Config tunes the transition function. Zero values fall back to defaults.
type Config struct {
	SlotDuration          time.Duration
	PastTolerance         time.Duration
	MaxValidationFailures int
	RetrievalTopK         int
}

func (c Config) withDefaults() Config {
	if c.SlotDuration <= 0 {
		c.SlotDuration = DefaultSlotDuration
	}
	if c.PastTolerance < 0 {
		c.PastTolerance = 0
	}
	if c.MaxValidationFailures <= 0 {
		c.MaxValidationFailures = 3
	}
	if c.RetrievalTopK <= 0 {
		c.RetrievalTopK = 3
	}
	return c
}

// Machine is the per-session dialogue state machine. Transition is pure: it
// never blocks and never touches a store or gateway; pending work comes back
// as effects for the orchestrator to run.
type Machine struct {
	cfg Config
}

// NewMachine builds a machine with the given policy.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg.withDefaults()}
}

// Transition applies one turn to a session copy and returns the new session,
// any side effects to execute, and the reply for the caller. Effect results
// re-enter through synthetic turns until a turn produces no effects.
func (m *Machine) Transition(sess Session, turn Turn, now time.Time) (Session, []Effect, Reply) {
	s := sess.clone()
	s.LastActivity = now

	if s.State.Terminal() && turn.Kind == TurnUser {
		return s, nil, m.reply(s, "This conversation has ended. Please start a new session to book another appointment.", "")
	}

	switch turn.Kind {
	case TurnBooked:
		return m.applyBookingResult(s, turn.Booking, now)
	case TurnRetrieved:
		return m.applyRetrievalResult(s, turn.Retrieval)
	case TurnNotified:
		return m.applyDispatchResult(s, turn.Dispatch)
	}

	// A user turn arriving mid-detour resumes the saved scheduling state.
	if s.State == StateRetrievingKnowledge {
		s.State = s.popReturn()
	}

	extracted := extractFields(turn.Input, now, m.cfg.SlotDuration)
	awaitingYesNo := s.State == StateAwaitingConfirmation

	switch classify(turn.Input, extracted, awaitingYesNo) {
	case intentCancel:
		s.State = StateCancelled
		return s, nil, m.reply(s, "Okay, I've cancelled this booking conversation. Nothing was scheduled.", "")

	case intentConfirm:
		return m.beginBooking(s, now)

	case intentDeny:
		s.State = StateAwaitingSlotChoice
		s.Fields.Start, s.Fields.End = time.Time{}, time.Time{}
		return s, nil, m.reply(s, "No problem. What day and time would work instead?", "")

	case intentKnowledge:
		s.pushReturn(s.State)
		s.State = StateRetrievingKnowledge
		effect := RetrieveEffect{Query: turn.Input, TopK: m.cfg.RetrievalTopK}
		return s, []Effect{effect}, m.reply(s, "Let me look that up.", "")
	}

	return m.advanceScheduling(s, extracted, turn.Input, now)
}

// advanceScheduling merges newly extracted fields and moves the booking
// forward: prompt for what is missing, validate, then either confirm or book.
func (m *Machine) advanceScheduling(s Session, extracted Fields, input string, now time.Time) (Session, []Effect, Reply) {
	s.Fields = s.Fields.merge(extracted)

	if missing := missingFields(s.Fields); len(missing) > 0 {
		s.State = StateCollectingInfo
		text := fmt.Sprintf("I still need: %s. Patient IDs look like PAT-1234 and doctor IDs like DR-001.", strings.Join(missing, ", "))
		return s, nil, m.reply(s, text, "")
	}

	s.State = StateValidating
	req, err := appointments.NewBookingRequest(s.Fields.PatientID, s.Fields.DoctorID, s.Fields.Start, s.Fields.End, now, m.cfg.PastTolerance)
	if err != nil {
		return m.applyValidationFailure(s, err)
	}
	s.ValidationFailures = 0

	if containsAny(strings.ToLower(input), bookingWords) {
		s.State = StateBooking
		return s, []Effect{BookEffect{Request: req}}, m.reply(s, "Booking your appointment now.", "")
	}

	s.State = StateAwaitingConfirmation
	text := fmt.Sprintf("To confirm: %s with %s, %s until %s. Shall I book it?",
		s.Fields.PatientID, s.Fields.DoctorID,
		s.Fields.Start.Format("Mon Jan 2 3:04 PM"), s.Fields.End.Format("3:04 PM"))
	return s, nil, m.reply(s, text, "")
}

// beginBooking revalidates the collected fields and emits the book effect.
func (m *Machine) beginBooking(s Session, now time.Time) (Session, []Effect, Reply) {
	if !s.Fields.Complete() {
		return m.advanceScheduling(s, Fields{}, "", now)
	}
	req, err := appointments.NewBookingRequest(s.Fields.PatientID, s.Fields.DoctorID, s.Fields.Start, s.Fields.End, now, m.cfg.PastTolerance)
	if err != nil {
		return m.applyValidationFailure(s, err)
	}
	s.State = StateBooking
	return s, []Effect{BookEffect{Request: req}}, m.reply(s, "Booking your appointment now.", "")
}

// applyValidationFailure returns the session to CollectingInfo with a hint,
// or fails it once the consecutive-failure bound is hit.
func (m *Machine) applyValidationFailure(s Session, err error) (Session, []Effect, Reply) {
	s.ValidationFailures++
	kind := apperr.KindOf(err)
	hint := apperr.HintOf(err)
	if hint == "" {
		hint = "That request doesn't look right. Could you rephrase it?"
	}

	if s.ValidationFailures >= m.cfg.MaxValidationFailures {
		s.State = StateFailed
		return s, nil, m.reply(s, "I couldn't build a valid booking from this conversation. Please contact the clinic directly.", string(apperr.KindInvalidRequest))
	}

	s.State = StateCollectingInfo
	s.Fields.Start, s.Fields.End = time.Time{}, time.Time{}
	return s, nil, m.reply(s, hint, string(kind))
}

// applyBookingResult folds the booking outcome back into the dialogue.
func (m *Machine) applyBookingResult(s Session, res *BookingResult, now time.Time) (Session, []Effect, Reply) {
	if res == nil {
		s.State = StateFailed
		return s, nil, m.reply(s, "Something went wrong on our side. Please contact the clinic directly.", string(apperr.KindFatal))
	}

	if res.Err == nil && res.Appointment != nil {
		appt := *res.Appointment
		s.State = StateBooked
		s.Appointment = &appt
		s.ValidationFailures = 0
		effect := NotifyEffect{AppointmentID: appt.ID, Appointment: appt}
		text := fmt.Sprintf("You're booked: %s with %s on %s. Sending your confirmation now.",
			appt.PatientID, appt.DoctorID, appt.Start.Format("Mon Jan 2 3:04 PM"))
		return s, []Effect{effect}, m.reply(s, text, "")
	}

	switch apperr.KindOf(res.Err) {
	case apperr.KindSlotUnavailable:
		s.State = StateAwaitingSlotChoice
		s.Fields.Start, s.Fields.End = time.Time{}, time.Time{}
		return s, nil, m.reply(s, "That slot is already taken. What other day and time would work?", string(apperr.KindSlotUnavailable))
	case apperr.KindInvalidRequest:
		return m.applyValidationFailure(s, res.Err)
	case apperr.KindTransient:
		s.State = StateAwaitingConfirmation
		return s, nil, m.reply(s, "I couldn't reach the scheduling system just now. Say \"yes\" to try again in a moment.", string(apperr.KindTransient))
	default:
		s.State = StateFailed
		return s, nil, m.reply(s, "Something went wrong on our side. Please contact the clinic directly.", string(apperr.KindFatal))
	}
}

// applyRetrievalResult answers the knowledge question and resumes the saved
// scheduling state. Retrieval failures degrade to a generic reply; they never
// break scheduling progress.
func (m *Machine) applyRetrievalResult(s Session, res *RetrievalResult) (Session, []Effect, Reply) {
	s.State = s.popReturn()

	var text string
	if res == nil || res.Err != nil || len(res.Passages) == 0 {
		text = "I couldn't find anything about that in our clinic materials. Our staff can help when you come in."
	} else {
		s.Passages = s.Passages[:0]
		for _, p := range res.Passages {
			s.Passages = append(s.Passages, p.Content)
		}
		text = res.Passages[0].Content
	}

	if cont := continuationPrompt(s); cont != "" {
		text += " " + cont
	}
	return s, nil, m.reply(s, text, "")
}

// applyDispatchResult reports confirmation delivery. The appointment is
// already committed; delivery failure only changes the wording.
func (m *Machine) applyDispatchResult(s Session, res *DispatchResult) (Session, []Effect, Reply) {
	if res == nil || res.Err != nil || !res.Outcome.Succeeded() {
		return s, nil, m.reply(s, "Your appointment is booked, but I couldn't send a confirmation message. Our staff will contact you to confirm.", "")
	}
	text := fmt.Sprintf("Your confirmation was sent by %s. See you then!", res.Outcome.Delivered)
	return s, nil, m.reply(s, text, "")
}

func (m *Machine) reply(s Session, text, kind string) Reply {
	return Reply{Text: text, State: s.State, Kind: kind, Appointment: s.Appointment}
}

func missingFields(f Fields) []string {
	var missing []string
	if f.PatientID == "" {
		missing = append(missing, "your patient ID")
	}
	if f.DoctorID == "" {
		missing = append(missing, "the doctor's ID")
	}
	if f.Start.IsZero() {
		missing = append(missing, "a day and time")
	}
	return missing
}

func continuationPrompt(s Session) string {
	switch s.State {
	case StateCollectingInfo:
		if missing := missingFields(s.Fields); len(missing) > 0 {
			return fmt.Sprintf("Back to your booking: I still need %s.", strings.Join(missing, ", "))
		}
	case StateAwaitingSlotChoice:
		return "Back to your booking: what day and time would you like?"
	case StateAwaitingConfirmation:
		return "Back to your booking: shall I book the slot we discussed?"
	}
	return ""
}
