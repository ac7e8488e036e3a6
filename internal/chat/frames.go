// Package chat owns the bidirectional streaming channel: one connection,
// sequential turns, proactive delivery on connect.
package chat

// Inbound frame types.
const (
	frameTypePing           = "ping"
	frameTypeSkipOnboarding = "skip_onboarding"
	frameTypeMessage        = "message"
)

// Outbound frame types.
const (
	frameTypePong      = "pong"
	frameTypeProactive = "proactive"
	frameTypeStep      = "step"
	frameTypeFinal     = "final"
	frameTypeError     = "error"
)

// clientFrame is one message from the client. SessionID may be null to
// start a fresh session.
type clientFrame struct {
	Type      string  `json:"type"`
	Message   string  `json:"message,omitempty"`
	SessionID *string `json:"session_id,omitempty"`
}

// serverFrame is one message to the client.
type serverFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
	Step      int    `json:"step,omitempty"`
}
