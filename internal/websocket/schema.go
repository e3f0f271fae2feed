package websocket

import "github.com/staffdeck/assess-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave   Action = "autosave"
	ActionSignal     Action = "signal"
	ActionFullscreen Action = "fullscreen"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
)

// RequestPayload carries every client action. Unused fields are left
// empty; Action decides which ones matter.
type RequestPayload struct {
	Action Action `json:"action"`

	// Autosave fields.
	QID    string             `json:"q_id,omitempty"`
	Answer *model.AnswerValue `json:"answer,omitempty"`

	// Signal fields: "visibility" or "blur".
	Source string `json:"source,omitempty"`

	// Fullscreen fields.
	Active *bool `json:"active,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSaved   Event = "saved"
	EventPong    Event = "pong"
	EventSession Event = "session"
)

// SavedResponse acknowledges an autosave action.
type SavedResponse struct {
	Event Event  `json:"event"`
	QID   string `json:"q_id"`
}

// SessionEvent wraps an engine notification for the wire. Payload is the
// engine event serialized as-is.
type SessionEvent struct {
	Event   Event       `json:"event"`
	Payload interface{} `json:"payload"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
