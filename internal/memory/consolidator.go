package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neurion-ai/seraph/internal/llm"
)

// HistoryProvider reads a session's conversation for extraction.
type HistoryProvider interface {
	HistoryText(ctx context.Context, sessionID string) (string, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)
}

// MemoryAdder persists one durable fact.
type MemoryAdder interface {
	AddMemory(ctx context.Context, content string) error
}

// SoulUpdater replaces one section of the identity document.
type SoulUpdater interface {
	UpdateSection(name, content string) (string, error)
}

// extraction is the structured result requested from the model.
type extraction struct {
	Facts       []string          `json:"facts"`
	Patterns    []string          `json:"patterns"`
	Goals       []string          `json:"goals"`
	Reflections []string          `json:"reflections"`
	SoulUpdates map[string]string `json:"soul_updates"`
}

const extractionPrompt = `Analyze this conversation and extract durable knowledge about the user.

Respond with exactly one JSON object:
{
  "facts": ["specific facts about the user"],
  "patterns": ["recurring behaviors or preferences"],
  "goals": ["goals the user stated or implied"],
  "reflections": ["observations worth remembering"],
  "soul_updates": {"Section Name": "replacement text for that section"}
}

Only include entries you are confident about. Empty lists are fine.

Conversation:
%s`

// Consolidator extracts durable facts and identity updates from recent
// history. It runs in the background and never raises into its caller:
// every failure is logged and swallowed.
type Consolidator struct {
	history  HistoryProvider
	llm      llm.Client
	memories MemoryAdder
	soul     SoulUpdater
	minTurns int
}

// NewConsolidator creates a consolidation worker.
func NewConsolidator(history HistoryProvider, client llm.Client, memories MemoryAdder, soul SoulUpdater, minTurns int) *Consolidator {
	if minTurns <= 0 {
		minTurns = 2
	}
	return &Consolidator{
		history:  history,
		llm:      client,
		memories: memories,
		soul:     soul,
		minTurns: minTurns,
	}
}

// ConsolidateSession runs one extraction pass over a session. Sessions
// below the minimum turn count are skipped without a model call.
func (c *Consolidator) ConsolidateSession(ctx context.Context, sessionID string) {
	count, err := c.history.CountMessages(ctx, sessionID)
	if err != nil {
		slog.Error("Consolidation could not count messages", "session_id", sessionID, "error", err)
		return
	}
	if count < c.minTurns {
		slog.Debug("Consolidation skipped, history too short", "session_id", sessionID, "messages", count)
		return
	}

	text, err := c.history.HistoryText(ctx, sessionID)
	if err != nil {
		slog.Error("Consolidation could not read history", "session_id", sessionID, "error", err)
		return
	}

	out, err := c.llm.Complete(ctx, fmt.Sprintf(extractionPrompt, text))
	if err != nil {
		slog.Error("Consolidation model call failed", "session_id", sessionID, "error", err)
		return
	}

	result, err := parseExtraction(out)
	if err != nil {
		slog.Error("Consolidation output unparseable", "session_id", sessionID, "error", err)
		return
	}

	stored := 0
	for _, group := range [][]string{result.Facts, result.Patterns, result.Goals, result.Reflections} {
		for _, entry := range group {
			if strings.TrimSpace(entry) == "" {
				continue
			}
			if err := c.memories.AddMemory(ctx, entry); err != nil {
				slog.Error("Consolidation failed to store memory", "session_id", sessionID, "error", err)
				continue
			}
			stored++
		}
	}

	updated := 0
	for section, content := range result.SoulUpdates {
		if _, err := c.soul.UpdateSection(section, content); err != nil {
			slog.Error("Consolidation failed to update soul section",
				"session_id", sessionID, "section", section, "error", err)
			continue
		}
		updated++
	}

	slog.Info("Consolidated session", "session_id", sessionID, "memories", stored, "soul_sections", updated)
}

// parseExtraction decodes the model output, tolerating a markdown fence
// around the JSON.
func parseExtraction(out string) (*extraction, error) {
	text := strings.TrimSpace(out)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var result extraction
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	return &result, nil
}
