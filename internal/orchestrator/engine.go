package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/appointment-engine/internal/apperr"
	"github.com/clinicflow/appointment-engine/internal/appointments"
	"github.com/clinicflow/appointment-engine/internal/knowledge"
	"github.com/clinicflow/appointment-engine/internal/notify"
	"github.com/clinicflow/appointment-engine/internal/observability/metrics"
	"github.com/clinicflow/appointment-engine/internal/session"
	"github.com/clinicflow/appointment-engine/pkg/logging"
)

// Booker commits a fully validated booking request.
type Booker interface {
	Book(ctx context.Context, req appointments.BookingRequest) (*appointments.Appointment, error)
}

// Dispatcher delivers one confirmation message over ordered channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, appointmentID uuid.UUID, msg notify.Message, order []notify.Channel) (notify.Outcome, error)
}

// Directory resolves a patient's reachable addresses per channel.
type Directory interface {
	Recipients(patientID string) map[notify.Channel]string
}

// StaticDirectory returns the same deployment-configured addresses for every
// patient, matching setups where confirmations go to a clinic-managed inbox.
type StaticDirectory map[notify.Channel]string

func (d StaticDirectory) Recipients(string) map[notify.Channel]string { return d }

// Config tunes the engine.
type Config struct {
	// MaxEffectsPerTurn bounds the effect-resolution loop for one turn.
	MaxEffectsPerTurn int
	// SessionTTL expires idle sessions via the reaper.
	SessionTTL time.Duration
	// ReapInterval is how often the reaper scans.
	ReapInterval time.Duration
	// ChannelOrder is the deployment-default notification priority.
	ChannelOrder []notify.Channel
	// RetrievalTopK passages per knowledge query.
	RetrievalTopK int
	// RetrievalTimeout bounds each retriever call so a hung embedding
	// backend cannot wedge the session's turn lock.
	RetrievalTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxEffectsPerTurn <= 0 {
		c.MaxEffectsPerTurn = 8
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = time.Minute
	}
	if len(c.ChannelOrder) == 0 {
		c.ChannelOrder = []notify.Channel{notify.ChannelSMS, notify.ChannelEmail}
	}
	if c.RetrievalTopK <= 0 {
		c.RetrievalTopK = 3
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = 10 * time.Second
	}
	return c
}

type sessionEntry struct {
	mu   sync.Mutex
	sess session.Session

	lastInput string
	lastReply session.Reply
	hasReply  bool
}

// Engine owns the session registry and is the single entry point the
// transport layer calls. Each session processes at most one turn at a time;
// different sessions proceed in parallel.
type Engine struct {
	machine    *session.Machine
	booker     Booker
	dispatcher Dispatcher
	retriever  knowledge.Retriever
	directory  Directory
	cfg        Config
	logger     *logging.Logger
	metrics    *metrics.EngineMetrics
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry

	dispatchMu sync.Mutex
	dispatched map[uuid.UUID]notify.Outcome

	reaperStop chan struct{}
	reaperOnce sync.Once
}

// New creates an engine. booker is required; dispatcher, retriever and
// directory may be nil, degrading those effects to failure results the state
// machine knows how to phrase.
func New(machine *session.Machine, booker Booker, dispatcher Dispatcher, retriever knowledge.Retriever, directory Directory, cfg Config, logger *logging.Logger, m *metrics.EngineMetrics) *Engine {
	if machine == nil {
		panic("orchestrator: machine cannot be nil")
	}
	if booker == nil {
		panic("orchestrator: booker cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		machine:    machine,
		booker:     booker,
		dispatcher: dispatcher,
		retriever:  retriever,
		directory:  directory,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		sessions:   make(map[string]*sessionEntry),
		dispatched: make(map[uuid.UUID]notify.Outcome),
		reaperStop: make(chan struct{}),
	}
}

// WithClock overrides the time source for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// HandleTurn processes one user turn for the session, executing any side
// effects the state machine emits and looping their results back until the
// turn settles. Turns on the same session are strictly serialized.
func (e *Engine) HandleTurn(ctx context.Context, sessionID, input string) (session.Reply, error) {
	if sessionID == "" {
		return session.Reply{}, apperr.Invalid("A session id is required.", fmt.Errorf("orchestrator: empty session id"))
	}
	started := e.now()

	entry := e.entry(sessionID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Replay safety: a transport retry of the same input after the turn
	// already advanced the session must not re-run booking or dispatch.
	if entry.hasReply && input == entry.lastInput && entry.lastReply.State == entry.sess.State &&
		(entry.sess.State.Terminal() || entry.lastReply.Appointment != nil) {
		e.logger.Info("replayed turn served from cache", "session_id", sessionID)
		return entry.lastReply, nil
	}

	sess := entry.sess
	turn := session.UserTurn(input)
	var reply session.Reply

	for i := 0; ; i++ {
		var effects []session.Effect
		sess, effects, reply = e.machine.Transition(sess, turn, e.now())
		if len(effects) == 0 {
			break
		}
		if i >= e.cfg.MaxEffectsPerTurn {
			e.logger.Error("effect loop bound exceeded", "session_id", sessionID, "state", sess.State)
			reply = session.Reply{
				Text:  "I'm having trouble completing that right now. Please try again in a moment.",
				State: sess.State,
				Kind:  string(apperr.KindTransient),
			}
			break
		}
		turn = e.execute(ctx, effects[0])
	}

	entry.sess = sess
	entry.lastInput = input
	entry.lastReply = reply
	entry.hasReply = true

	e.metrics.ObserveTurn(string(sess.State), reply.Kind, e.now().Sub(started).Seconds())
	return reply, nil
}

// execute runs one side effect and wraps its result as a synthetic turn.
func (e *Engine) execute(ctx context.Context, effect session.Effect) session.Turn {
	switch eff := effect.(type) {
	case session.BookEffect:
		appt, err := e.booker.Book(ctx, eff.Request)
		e.metrics.ObserveBooking(bookingResultLabel(err))
		if err != nil {
			e.logger.Warn("booking effect failed", "doctor_id", eff.Request.DoctorID, "error", err)
		}
		return session.Turn{Kind: session.TurnBooked, Booking: &session.BookingResult{Appointment: appt, Err: err}}

	case session.RetrieveEffect:
		if e.retriever == nil {
			return session.Turn{Kind: session.TurnRetrieved, Retrieval: &session.RetrievalResult{Err: apperr.Transientf("orchestrator: no retriever configured")}}
		}
		topK := eff.TopK
		if topK <= 0 {
			topK = e.cfg.RetrievalTopK
		}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.RetrievalTimeout)
		passages, err := e.retriever.Query(callCtx, eff.Query, topK)
		cancel()
		if err != nil {
			e.logger.Warn("knowledge query failed", "error", err)
		}
		return session.Turn{Kind: session.TurnRetrieved, Retrieval: &session.RetrievalResult{Passages: passages, Err: err}}

	case session.NotifyEffect:
		outcome, err := e.dispatchOnce(ctx, eff)
		return session.Turn{Kind: session.TurnNotified, Dispatch: &session.DispatchResult{Outcome: outcome, Err: err}}
	}

	return session.Turn{Kind: session.TurnBooked, Booking: &session.BookingResult{Err: apperr.Fatal("", fmt.Errorf("orchestrator: unknown effect %T", effect))}}
}

// dispatchOnce guarantees a single dispatch per confirmed booking, keyed on
// appointment id. Replays get the recorded outcome.
func (e *Engine) dispatchOnce(ctx context.Context, eff session.NotifyEffect) (notify.Outcome, error) {
	e.dispatchMu.Lock()
	if outcome, done := e.dispatched[eff.AppointmentID]; done {
		e.dispatchMu.Unlock()
		return outcome, nil
	}
	// Reserve the key before releasing the lock so a concurrent replay
	// cannot start a second dispatch for the same appointment.
	e.dispatched[eff.AppointmentID] = notify.Outcome{AppointmentID: eff.AppointmentID}
	e.dispatchMu.Unlock()

	if e.dispatcher == nil {
		return notify.Outcome{AppointmentID: eff.AppointmentID}, notify.ErrAllChannelsFailed
	}

	msg := confirmationMessage(eff.Appointment, e.recipients(eff.Appointment.PatientID))
	outcome, err := e.dispatcher.Dispatch(ctx, eff.AppointmentID, msg, e.cfg.ChannelOrder)
	e.metrics.ObserveDispatch(string(outcome.Delivered), dispatchResultLabel(err))

	e.dispatchMu.Lock()
	e.dispatched[eff.AppointmentID] = outcome
	e.dispatchMu.Unlock()
	return outcome, err
}

func (e *Engine) recipients(patientID string) map[notify.Channel]string {
	if e.directory == nil {
		return nil
	}
	return e.directory.Recipients(patientID)
}

func confirmationMessage(appt appointments.Appointment, recipients map[notify.Channel]string) notify.Message {
	return notify.Message{
		Subject: "Appointment confirmed",
		Body: fmt.Sprintf("Appointment confirmed for %s with %s on %s.",
			appt.PatientID, appt.DoctorID, appt.Start.Format("Mon Jan 2 3:04 PM")),
		Recipients: recipients,
	}
}

func bookingResultLabel(err error) string {
	if err == nil {
		return "confirmed"
	}
	return string(apperr.KindOf(err))
}

func dispatchResultLabel(err error) string {
	if err == nil {
		return "sent"
	}
	return "failed"
}

func (e *Engine) entry(sessionID string) *sessionEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.sessions[sessionID]
	if !ok {
		entry = &sessionEntry{sess: session.New(sessionID, e.now())}
		e.sessions[sessionID] = entry
		e.metrics.SetActiveSessions(len(e.sessions))
	}
	return entry
}

// SessionSnapshot returns a copy of the session for diagnostics/resumption.
func (e *Engine) SessionSnapshot(sessionID string) (session.Session, bool) {
	e.mu.Lock()
	entry, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return session.Session{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.sess, true
}

// CloseSession removes the session from the registry. Closing an unknown
// session is a no-op.
func (e *Engine) CloseSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
	e.metrics.SetActiveSessions(len(e.sessions))
}

// StartReaper launches the idle-session reaper. It stops when ctx is done or
// Close is called.
func (e *Engine) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.cfg.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.reaperStop:
				return
			case <-ticker.C:
				e.reapIdle()
			}
		}
	}()
}

// Close stops the reaper.
func (e *Engine) Close() {
	e.reaperOnce.Do(func() { close(e.reaperStop) })
}

func (e *Engine) reapIdle() {
	cutoff := e.now().Add(-e.cfg.SessionTTL)

	e.mu.Lock()
	candidates := make(map[string]*sessionEntry, len(e.sessions))
	for id, entry := range e.sessions {
		candidates[id] = entry
	}
	e.mu.Unlock()

	var stale []string
	for id, entry := range candidates {
		entry.mu.Lock()
		idle := entry.sess.LastActivity.Before(cutoff)
		entry.mu.Unlock()
		if idle {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return
	}

	e.mu.Lock()
	for _, id := range stale {
		delete(e.sessions, id)
	}
	e.metrics.SetActiveSessions(len(e.sessions))
	e.mu.Unlock()

	e.logger.Info("idle sessions reaped", "count", len(stale))
}
