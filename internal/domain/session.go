// Package domain defines the core data types shared across the backend.
package domain

import (
	"time"
)

// DefaultSessionTitle is the sentinel title given to sessions until they
// are renamed or a title is generated.
const DefaultSessionTitle = "New Conversation"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleStep      = "step"
)

// Session is one persistent conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one entry in a session's log. Step messages record
// intermediate agent activity and are excluded from history rendering.
type Message struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	StepNumber *int      `json:"step_number,omitempty"`
	ToolUsed   string    `json:"tool_used,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionSummary is the list-view projection of a session.
type SessionSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	LastMessage string `json:"last_message,omitempty"`
}
