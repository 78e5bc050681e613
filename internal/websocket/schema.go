package websocket

import "github.com/stemsi/drivertest-bot/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is the only client message shape.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSession Event = "session"
	EventPong    Event = "pong"
)

// SessionMessage relays one session lifecycle event.
type SessionMessage struct {
	Event   Event              `json:"event"`
	Session model.SessionEvent `json:"session"`
}

// PongResponse answers a ping.
type PongResponse struct {
	Event Event `json:"event"`
}

// ErrorResponse reports a protocol problem.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}
