package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/appointment-engine/internal/apperr"
	"github.com/clinicflow/appointment-engine/internal/appointments"
	"github.com/clinicflow/appointment-engine/internal/knowledge"
	"github.com/clinicflow/appointment-engine/internal/notify"
	"github.com/clinicflow/appointment-engine/internal/session"
)

var testNow = time.Date(2025, 3, 27, 10, 0, 0, 0, time.UTC)

// fakeBooker emulates the booking core with naive in-memory overlap checks,
// serialized by its own mutex.
type fakeBooker struct {
	mu     sync.Mutex
	calls  int
	booked []appointments.Appointment
	err    error
}

func (b *fakeBooker) Book(ctx context.Context, req appointments.BookingRequest) (*appointments.Appointment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	for _, a := range b.booked {
		if a.DoctorID == req.DoctorID && req.Start.Before(a.End) && a.Start.Before(req.End) {
			return nil, apperr.Unavailable("That slot is already taken.", nil)
		}
	}
	appt := appointments.Appointment{
		ID:        uuid.New(),
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Start:     req.Start,
		End:       req.End,
		Status:    appointments.StatusConfirmed,
	}
	b.booked = append(b.booked, appt)
	return &appt, nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, appointmentID uuid.UUID, msg notify.Message, order []notify.Channel) (notify.Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, appointmentID)
	if d.err != nil {
		return notify.Outcome{AppointmentID: appointmentID}, d.err
	}
	return notify.Outcome{AppointmentID: appointmentID, Delivered: order[0]}, nil
}

type fakeRetriever struct {
	calls       int
	passages    []knowledge.Passage
	deadline    time.Time
	hasDeadline bool
}

func (r *fakeRetriever) Query(ctx context.Context, text string, topK int) ([]knowledge.Passage, error) {
	r.calls++
	r.deadline, r.hasDeadline = ctx.Deadline()
	return r.passages, nil
}

func newTestEngine(booker *fakeBooker, dispatcher *fakeDispatcher, retriever *fakeRetriever) *Engine {
	machine := session.NewMachine(session.Config{})
	var d Dispatcher
	if dispatcher != nil {
		d = dispatcher
	}
	var r knowledge.Retriever
	if retriever != nil {
		r = retriever
	}
	e := New(machine, booker, d, r, StaticDirectory{
		notify.ChannelSMS:   "+15550100",
		notify.ChannelEmail: "frontdesk@clinic.example",
	}, Config{SessionTTL: 30 * time.Minute}, nil, nil)
	return e.WithClock(func() time.Time { return testNow })
}

const bookingInput = "book DR-001 tomorrow 3pm for patient PAT-1234"

func TestHandleTurnEndToEndBooking(t *testing.T) {
	booker := &fakeBooker{}
	dispatcher := &fakeDispatcher{}
	e := newTestEngine(booker, dispatcher, nil)

	reply, err := e.HandleTurn(context.Background(), "s1", bookingInput)
	require.NoError(t, err)

	assert.Equal(t, session.StateBooked, reply.State)
	require.NotNil(t, reply.Appointment)
	assert.Equal(t, appointments.StatusConfirmed, reply.Appointment.Status)
	assert.Contains(t, reply.Text, "sms")

	assert.Equal(t, 1, booker.calls, "exactly one confirmed appointment")
	assert.Len(t, dispatcher.calls, 1, "exactly one dispatched notification")
}

func TestHandleTurnSameSlotConflict(t *testing.T) {
	booker := &fakeBooker{}
	e := newTestEngine(booker, &fakeDispatcher{}, nil)

	_, err := e.HandleTurn(context.Background(), "s1", bookingInput)
	require.NoError(t, err)

	reply, err := e.HandleTurn(context.Background(), "s2", bookingInput)
	require.NoError(t, err)
	assert.Equal(t, session.StateAwaitingSlotChoice, reply.State)
	assert.Equal(t, string(apperr.KindSlotUnavailable), reply.Kind)
	assert.Len(t, booker.booked, 1, "the store still holds exactly one appointment")
}

func TestHandleTurnReplayDoesNotDuplicate(t *testing.T) {
	booker := &fakeBooker{}
	dispatcher := &fakeDispatcher{}
	e := newTestEngine(booker, dispatcher, nil)

	first, err := e.HandleTurn(context.Background(), "s1", bookingInput)
	require.NoError(t, err)
	require.NotNil(t, first.Appointment)

	replayed, err := e.HandleTurn(context.Background(), "s1", bookingInput)
	require.NoError(t, err)

	assert.Equal(t, first, replayed, "replay returns the cached reply")
	assert.Equal(t, 1, booker.calls, "no duplicate booking")
	assert.Len(t, dispatcher.calls, 1, "no duplicate notification job")
}

func TestHandleTurnKnowledgeDetour(t *testing.T) {
	booker := &fakeBooker{}
	retriever := &fakeRetriever{passages: []knowledge.Passage{{Content: "Parking is behind the building."}}}
	e := newTestEngine(booker, &fakeDispatcher{}, retriever)

	_, err := e.HandleTurn(context.Background(), "s1", "I'm PAT-1234, seeing DR-001")
	require.NoError(t, err)

	reply, err := e.HandleTurn(context.Background(), "s1", "where can I park?")
	require.NoError(t, err)
	assert.Equal(t, 1, retriever.calls)
	assert.Contains(t, reply.Text, "Parking is behind the building.")
	assert.Equal(t, session.StateCollectingInfo, reply.State, "detour resumes scheduling")

	snap, ok := e.SessionSnapshot("s1")
	require.True(t, ok)
	assert.Equal(t, "PAT-1234", snap.Fields.PatientID, "collected fields survive the detour")
	assert.Zero(t, booker.calls)
}

func TestHandleTurnBoundsRetrieverCall(t *testing.T) {
	retriever := &fakeRetriever{passages: []knowledge.Passage{{Content: "Open 9 to 5 on weekdays."}}}
	machine := session.NewMachine(session.Config{})
	e := New(machine, &fakeBooker{}, nil, retriever, nil, Config{RetrievalTimeout: 5 * time.Second}, nil, nil)

	before := time.Now()
	_, err := e.HandleTurn(context.Background(), "s1", "what are your opening hours?")
	require.NoError(t, err)

	require.Equal(t, 1, retriever.calls)
	require.True(t, retriever.hasDeadline, "retriever call must carry a deadline")
	remaining := retriever.deadline.Sub(before)
	assert.Positive(t, remaining)
	assert.LessOrEqual(t, remaining, 5*time.Second)
}

func TestHandleTurnDispatchFailureStillBooks(t *testing.T) {
	booker := &fakeBooker{}
	dispatcher := &fakeDispatcher{err: notify.ErrAllChannelsFailed}
	e := newTestEngine(booker, dispatcher, nil)

	reply, err := e.HandleTurn(context.Background(), "s1", bookingInput)
	require.NoError(t, err)
	assert.Equal(t, session.StateBooked, reply.State)
	assert.Contains(t, reply.Text, "staff will contact you")
	assert.Len(t, booker.booked, 1)
}

func TestHandleTurnConcurrentSessionsDisjointSlots(t *testing.T) {
	booker := &fakeBooker{}
	e := newTestEngine(booker, &fakeDispatcher{}, nil)

	inputs := map[string]string{
		"s1": "book DR-001 tomorrow 3pm for patient PAT-1234",
		"s2": "book DR-002 tomorrow 3pm for patient PAT-5678",
		"s3": "book DR-001 tomorrow 4pm for patient PAT-9999",
	}
	var wg sync.WaitGroup
	replies := make(map[string]session.Reply)
	var mu sync.Mutex
	for id, input := range inputs {
		wg.Add(1)
		go func(id, input string) {
			defer wg.Done()
			reply, err := e.HandleTurn(context.Background(), id, input)
			require.NoError(t, err)
			mu.Lock()
			replies[id] = reply
			mu.Unlock()
		}(id, input)
	}
	wg.Wait()

	for id, reply := range replies {
		assert.Equal(t, session.StateBooked, reply.State, "session %s should book: disjoint slots never contend", id)
	}
	assert.Len(t, booker.booked, 3)
}

func TestHandleTurnEmptySessionID(t *testing.T) {
	e := newTestEngine(&fakeBooker{}, nil, nil)
	_, err := e.HandleTurn(context.Background(), "", "hello")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidRequest, apperr.KindOf(err))
}

func TestCloseSessionAndSnapshot(t *testing.T) {
	e := newTestEngine(&fakeBooker{}, nil, nil)
	_, err := e.HandleTurn(context.Background(), "s1", "hello")
	require.NoError(t, err)

	_, ok := e.SessionSnapshot("s1")
	assert.True(t, ok)

	e.CloseSession("s1")
	_, ok = e.SessionSnapshot("s1")
	assert.False(t, ok)

	e.CloseSession("unknown")
}

func TestReaperExpiresIdleSessions(t *testing.T) {
	clock := testNow
	e := newTestEngine(&fakeBooker{}, nil, nil).WithClock(func() time.Time { return clock })

	_, err := e.HandleTurn(context.Background(), "stale", "hello")
	require.NoError(t, err)

	clock = clock.Add(31 * time.Minute)
	_, err = e.HandleTurn(context.Background(), "fresh", "hello")
	require.NoError(t, err)

	e.reapIdle()

	_, ok := e.SessionSnapshot("stale")
	assert.False(t, ok, "idle session past TTL is reaped")
	_, ok = e.SessionSnapshot("fresh")
	assert.True(t, ok)
}
