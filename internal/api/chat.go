package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/clinicflow/appointment-engine/pkg/logging"
)

// ChatHandler serves the websocket chat transport. Each connection owns one
// session; frames are JSON in both directions.
type ChatHandler struct {
	engine Engine
	logger *logging.Logger
}

// NewChatHandler creates the websocket handler.
func NewChatHandler(engine Engine, logger *logging.Logger) *ChatHandler {
	if engine == nil {
		panic("api: engine cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatHandler{engine: engine, logger: logger}
}

// ChatInbound is what the client sends.
type ChatInbound struct {
	Type      string `json:"type"` // "message", "ping", "close"
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// ChatOutbound is what we send to the client.
type ChatOutbound struct {
	Type        string           `json:"type"` // "reply", "session", "pong", "error"
	SessionID   string           `json:"session_id,omitempty"`
	Text        string           `json:"text,omitempty"`
	State       string           `json:"state,omitempty"`
	Kind        string           `json:"kind,omitempty"`
	Appointment *appointmentView `json:"appointment,omitempty"`
	Timestamp   string           `json:"timestamp,omitempty"`
}

// ServeHTTP upgrades to a websocket and pumps turns through the engine.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serve(conn)
	}).ServeHTTP(w, r)
}

func (h *ChatHandler) serve(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	sessionID := uuid.NewString()
	h.send(conn, ChatOutbound{Type: "session", SessionID: sessionID, Timestamp: timestamp()})
	h.logger.Info("chat connected", "session_id", sessionID)

	for {
		var raw string
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if err != io.EOF {
				h.logger.Warn("chat receive failed", "session_id", sessionID, "error", err)
			}
			break
		}

		var in ChatInbound
		if err := json.Unmarshal([]byte(raw), &in); err != nil {
			h.send(conn, ChatOutbound{Type: "error", Text: "frames must be JSON", Timestamp: timestamp()})
			continue
		}
		// Clients may resume a previous session by pinning its id.
		if in.SessionID != "" {
			sessionID = in.SessionID
		}

		switch in.Type {
		case "ping":
			h.send(conn, ChatOutbound{Type: "pong", SessionID: sessionID, Timestamp: timestamp()})
		case "close":
			h.engine.CloseSession(sessionID)
			return
		case "message", "":
			if strings.TrimSpace(in.Text) == "" {
				h.send(conn, ChatOutbound{Type: "error", SessionID: sessionID, Text: "empty message", Timestamp: timestamp()})
				continue
			}
			reply, err := h.engine.HandleTurn(conn.Request().Context(), sessionID, in.Text)
			if err != nil {
				h.logger.Error("chat turn failed", "session_id", sessionID, "error", err)
				h.send(conn, ChatOutbound{Type: "error", SessionID: sessionID, Text: "something went wrong", Timestamp: timestamp()})
				continue
			}
			out := ChatOutbound{
				Type:      "reply",
				SessionID: sessionID,
				Text:      reply.Text,
				State:     string(reply.State),
				Kind:      reply.Kind,
				Timestamp: timestamp(),
			}
			if reply.Appointment != nil {
				appt := reply.Appointment
				out.Appointment = &appointmentView{
					ID:        appt.ID.String(),
					PatientID: appt.PatientID,
					DoctorID:  appt.DoctorID,
					Start:     appt.Start,
					End:       appt.End,
					Status:    string(appt.Status),
				}
			}
			h.send(conn, out)
		default:
			h.send(conn, ChatOutbound{Type: "error", SessionID: sessionID, Text: "unknown frame type", Timestamp: timestamp()})
		}
	}

	h.logger.Info("chat disconnected", "session_id", sessionID)
}

func (h *ChatHandler) send(conn *websocket.Conn, msg ChatOutbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("chat encode failed", "error", err)
		return
	}
	if err := websocket.Message.Send(conn, string(data)); err != nil {
		h.logger.Warn("chat send failed", "error", err)
	}
}

func timestamp() string { return time.Now().UTC().Format(time.RFC3339) }
