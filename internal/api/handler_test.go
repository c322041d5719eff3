package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/appointment-engine/internal/api"
	"github.com/clinicflow/appointment-engine/internal/api/router"
	"github.com/clinicflow/appointment-engine/internal/appointments"
	"github.com/clinicflow/appointment-engine/internal/session"
)

type fakeEngine struct {
	reply    session.Reply
	err      error
	closed   []string
	snapshot session.Session
	hasSnap  bool

	gotSessionID string
	gotInput     string
}

func (f *fakeEngine) HandleTurn(ctx context.Context, sessionID, input string) (session.Reply, error) {
	f.gotSessionID = sessionID
	f.gotInput = input
	return f.reply, f.err
}

func (f *fakeEngine) CloseSession(sessionID string) { f.closed = append(f.closed, sessionID) }

func (f *fakeEngine) SessionSnapshot(sessionID string) (session.Session, bool) {
	return f.snapshot, f.hasSnap
}

func newTestServer(t *testing.T, engine api.Engine, services map[string]api.Pinger) *httptest.Server {
	t.Helper()
	handler := api.NewHandler(engine, "test", services, nil)
	srv := httptest.NewServer(router.New(&router.Config{
		Handler:     handler,
		ChatHandler: api.NewChatHandler(engine, nil),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleTurnEndpoint(t *testing.T) {
	appt := &appointments.Appointment{
		ID:        uuid.New(),
		PatientID: "PAT-1234",
		DoctorID:  "DR-001",
		Start:     time.Date(2025, 3, 28, 15, 0, 0, 0, time.UTC),
		End:       time.Date(2025, 3, 28, 15, 30, 0, 0, time.UTC),
		Status:    appointments.StatusConfirmed,
	}
	engine := &fakeEngine{reply: session.Reply{Text: "You're booked", State: session.StateBooked, Appointment: appt}}
	srv := newTestServer(t, engine, nil)

	body, _ := json.Marshal(map[string]string{"input": "book DR-001 tomorrow 3pm for PAT-1234"})
	resp, err := http.Post(srv.URL+"/v1/sessions/s1/turns", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out api.TurnResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "s1", out.SessionID)
	assert.Equal(t, "booked", out.State)
	require.NotNil(t, out.Appointment)
	assert.Equal(t, "PAT-1234", out.Appointment.PatientID)

	assert.Equal(t, "s1", engine.gotSessionID)
	assert.Equal(t, "book DR-001 tomorrow 3pm for PAT-1234", engine.gotInput)
}

func TestHandleTurnEndpointRejectsEmptyInput(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)

	resp, err := http.Post(srv.URL+"/v1/sessions/s1/turns", "application/json", bytes.NewReader([]byte(`{"input":"  "}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/sessions/s1/turns", "application/json", bytes.NewReader([]byte(`not-json`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleTurnEndpointInternalError(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{err: errors.New("boom")}, nil)

	resp, err := http.Post(srv.URL+"/v1/sessions/s1/turns", "application/json", bytes.NewReader([]byte(`{"input":"hi"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestGetSessionEndpoint(t *testing.T) {
	snap := session.New("s1", time.Now())
	snap.Fields.PatientID = "PAT-1234"
	engine := &fakeEngine{snapshot: snap, hasSnap: true}
	srv := newTestServer(t, engine, nil)

	resp, err := http.Get(srv.URL + "/v1/sessions/s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "idle", payload["state"])
	fields, ok := payload["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PAT-1234", fields["patient_id"])
}

func TestGetSessionEndpointNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	resp, err := http.Get(srv.URL + "/v1/sessions/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCloseSessionEndpoint(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, nil)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/sessions/s1", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"s1"}, engine.closed)
}

func TestHealthEndpoint(t *testing.T) {
	services := map[string]api.Pinger{
		"database": api.PingerFunc(func(ctx context.Context) error { return nil }),
		"redis":    api.PingerFunc(func(ctx context.Context) error { return nil }),
	}
	srv := newTestServer(t, &fakeEngine{}, services)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Status   string            `json:"status"`
		Version  string            `json:"version"`
		Services map[string]string `json:"services"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "ok", payload.Status)
	assert.Equal(t, "test", payload.Version)
	assert.Equal(t, "ok", payload.Services["database"])
}

func TestHealthEndpointDegraded(t *testing.T) {
	services := map[string]api.Pinger{
		"database": api.PingerFunc(func(ctx context.Context) error { return errors.New("down") }),
	}
	srv := newTestServer(t, &fakeEngine{}, services)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
