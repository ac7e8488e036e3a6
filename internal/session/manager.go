// Package session manages persistent conversation sessions.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neurion-ai/seraph/internal/domain"
	"github.com/neurion-ai/seraph/internal/llm"
	"github.com/neurion-ai/seraph/internal/store"
)

// historyForTitle bounds how much conversation is sent to the model when
// generating a title.
const historyForTitle = 6

// Manager provides session and message operations on top of the repository.
// The durable store is the single source of truth; the manager holds no
// session cache.
type Manager struct {
	repo store.Repository
	llm  llm.Client
}

// NewManager creates a session manager.
func NewManager(repo store.Repository, client llm.Client) *Manager {
	return &Manager{repo: repo, llm: client}
}

// GetOrCreate returns the session with the given id, creating it if
// unknown. An empty id gets a freshly generated one.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	return m.repo.CreateSessionIfAbsent(ctx, id)
}

// Get returns a session or nil when unknown.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, error) {
	return m.repo.GetSession(ctx, id)
}

// AddMessage appends a message to a session's log.
func (m *Manager) AddMessage(ctx context.Context, sessionID, role, content string, stepNumber *int, toolUsed string) (*domain.Message, error) {
	return m.repo.AddMessage(ctx, sessionID, role, content, stepNumber, toolUsed)
}

// HistoryText renders the conversation for agent context: one
// "<Role>: <content>" line per user/assistant message in insertion order.
// Step messages are excluded.
func (m *Manager) HistoryText(ctx context.Context, sessionID string) (string, error) {
	messages, err := m.repo.ListMessages(ctx, sessionID, 0, 0)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, msg := range messages {
		if msg.Role == domain.RoleStep {
			continue
		}
		lines = append(lines, capitalize(msg.Role)+": "+msg.Content)
	}
	return strings.Join(lines, "\n"), nil
}

// Messages returns a page of the full log, step rows included.
func (m *Manager) Messages(ctx context.Context, sessionID string, limit, offset int) ([]domain.Message, error) {
	return m.repo.ListMessages(ctx, sessionID, limit, offset)
}

// List returns one summary per session.
func (m *Manager) List(ctx context.Context) ([]domain.SessionSummary, error) {
	return m.repo.ListSessions(ctx)
}

// UpdateTitle renames a session. Returns false for unknown ids.
func (m *Manager) UpdateTitle(ctx context.Context, sessionID, title string) (bool, error) {
	return m.repo.UpdateSessionTitle(ctx, sessionID, title)
}

// Delete removes a session and its messages. Returns false for unknown ids.
func (m *Manager) Delete(ctx context.Context, sessionID string) (bool, error) {
	return m.repo.DeleteSession(ctx, sessionID)
}

// CountMessages counts user and assistant messages.
func (m *Manager) CountMessages(ctx context.Context, sessionID string) (int, error) {
	return m.repo.CountConversationMessages(ctx, sessionID)
}

// GenerateTitle asks the model for a short title based on the first turns.
// Sessions that already have a custom title are returned unchanged without
// a model call.
func (m *Manager) GenerateTitle(ctx context.Context, sessionID string) (string, error) {
	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", store.ErrSessionNotFound
	}
	if sess.Title != domain.DefaultSessionTitle {
		return sess.Title, nil
	}

	messages, err := m.repo.ListMessages(ctx, sessionID, historyForTitle, 0)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, msg := range messages {
		if msg.Role == domain.RoleStep {
			continue
		}
		lines = append(lines, capitalize(msg.Role)+": "+msg.Content)
	}

	prompt := fmt.Sprintf(
		"Generate a short title (at most 5 words) for this conversation. "+
			"Reply with the title only, no quotes.\n\n%s",
		strings.Join(lines, "\n"))

	title, err := m.llm.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	title = strings.Trim(strings.TrimSpace(title), `"`)
	if title == "" {
		return sess.Title, nil
	}

	if _, err := m.repo.UpdateSessionTitle(ctx, sessionID, title); err != nil {
		return "", err
	}
	return title, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
