package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinicflow/appointment-engine/internal/apperr"
	"github.com/clinicflow/appointment-engine/internal/session"
	"github.com/clinicflow/appointment-engine/pkg/logging"
)

// Engine is the workflow surface the transport layer drives.
type Engine interface {
	HandleTurn(ctx context.Context, sessionID, input string) (session.Reply, error)
	CloseSession(sessionID string)
	SessionSnapshot(sessionID string) (session.Session, bool)
}

// Pinger reports backing-service liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Handler exposes the engine over HTTP.
type Handler struct {
	engine   Engine
	logger   *logging.Logger
	version  string
	services map[string]Pinger
}

// NewHandler creates the HTTP handler. services maps a display name to a
// liveness check included in the health payload; nil entries are skipped.
func NewHandler(engine Engine, version string, services map[string]Pinger, logger *logging.Logger) *Handler {
	if engine == nil {
		panic("api: engine cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if version == "" {
		version = "dev"
	}
	return &Handler{engine: engine, logger: logger, version: version, services: services}
}

type turnRequest struct {
	Input string `json:"input"`
}

type turnResponse struct {
	SessionID   string           `json:"session_id"`
	Text        string           `json:"text"`
	State       string           `json:"state"`
	Kind        string           `json:"kind,omitempty"`
	Appointment *appointmentView `json:"appointment,omitempty"`
}

type appointmentView struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	DoctorID  string    `json:"doctor_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Status    string    `json:"status"`
}

// HandleTurn processes POST /v1/sessions/{sessionID}/turns.
func (h *Handler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON with an input field")
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "input must not be empty")
		return
	}

	reply, err := h.engine.HandleTurn(r.Context(), sessionID, req.Input)
	if err != nil {
		h.replyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTurnResponse(sessionID, reply))
}

// GetSession returns the session snapshot for diagnostics/resumption.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	snap, ok := h.engine.SessionSnapshot(sessionID)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "unknown session")
		return
	}

	payload := map[string]any{
		"session_id":    snap.ID,
		"state":         string(snap.State),
		"created_at":    snap.CreatedAt,
		"last_activity": snap.LastActivity,
		"fields": map[string]any{
			"patient_id": snap.Fields.PatientID,
			"doctor_id":  snap.Fields.DoctorID,
			"start":      snap.Fields.Start,
			"end":        snap.Fields.End,
		},
	}
	if snap.Appointment != nil {
		payload["appointment"] = toAppointmentView(snap)
	}
	h.writeJSON(w, http.StatusOK, payload)
}

// CloseSession removes the session.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	h.engine.CloseSession(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck reports process and backing-service status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	services := make(map[string]string, len(h.services))
	overall := "ok"
	for name, pinger := range h.services {
		if pinger == nil {
			continue
		}
		if err := pinger.Ping(ctx); err != nil {
			services[name] = "down"
			overall = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		services[name] = "ok"
	}

	h.writeJSON(w, status, map[string]any{
		"status":   overall,
		"version":  h.version,
		"services": services,
	})
}

func toTurnResponse(sessionID string, reply session.Reply) turnResponse {
	resp := turnResponse{
		SessionID: sessionID,
		Text:      reply.Text,
		State:     string(reply.State),
		Kind:      reply.Kind,
	}
	if reply.Appointment != nil {
		appt := reply.Appointment
		resp.Appointment = &appointmentView{
			ID:        appt.ID.String(),
			PatientID: appt.PatientID,
			DoctorID:  appt.DoctorID,
			Start:     appt.Start,
			End:       appt.End,
			Status:    string(appt.Status),
		}
	}
	return resp
}

func toAppointmentView(snap session.Session) *appointmentView {
	appt := snap.Appointment
	return &appointmentView{
		ID:        appt.ID.String(),
		PatientID: appt.PatientID,
		DoctorID:  appt.DoctorID,
		Start:     appt.Start,
		End:       appt.End,
		Status:    string(appt.Status),
	}
}

func (h *Handler) replyError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind == apperr.KindInvalidRequest {
		h.writeError(w, http.StatusBadRequest, string(appErr.Kind), apperr.HintOf(err))
		return
	}
	h.logger.Error("turn failed", "error", err)
	h.writeError(w, http.StatusInternalServerError, "internal", "something went wrong")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("response encode failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind, hint string) {
	h.writeJSON(w, status, map[string]string{"error": kind, "hint": hint})
}
