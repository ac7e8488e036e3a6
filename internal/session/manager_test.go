package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neurion-ai/seraph/internal/domain"
	"github.com/neurion-ai/seraph/internal/store"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
	prompts  []string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newTestManager(t *testing.T, client *fakeLLM) *Manager {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewManager(repo, client)
}

func TestGetOrCreateGeneratesID(t *testing.T) {
	m := newTestManager(t, &fakeLLM{})
	ctx := context.Background()

	sess, err := m.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("Expected generated id")
	}
	if sess.Title != domain.DefaultSessionTitle {
		t.Errorf("Expected default title, got %q", sess.Title)
	}

	again, err := m.GetOrCreate(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if again.ID != sess.ID {
		t.Errorf("Expected same session, got %s vs %s", again.ID, sess.ID)
	}
}

func TestHistoryTextExcludesSteps(t *testing.T) {
	m := newTestManager(t, &fakeLLM{})
	ctx := context.Background()

	sess, err := m.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	step := 1
	if _, err := m.AddMessage(ctx, sess.ID, domain.RoleUser, "hello", nil, ""); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if _, err := m.AddMessage(ctx, sess.ID, domain.RoleStep, "Calling web_search", &step, "web_search"); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if _, err := m.AddMessage(ctx, sess.ID, domain.RoleAssistant, "hi there", nil, ""); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	history, err := m.HistoryText(ctx, sess.ID)
	if err != nil {
		t.Fatalf("HistoryText failed: %v", err)
	}
	want := "User: hello\nAssistant: hi there"
	if history != want {
		t.Errorf("Expected %q, got %q", want, history)
	}
}

func TestGenerateTitle(t *testing.T) {
	client := &fakeLLM{response: "  \"Travel Plans\"  "}
	m := newTestManager(t, client)
	ctx := context.Background()

	sess, err := m.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := m.AddMessage(ctx, sess.ID, domain.RoleUser, "plan a trip", nil, ""); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	title, err := m.GenerateTitle(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GenerateTitle failed: %v", err)
	}
	if title != "Travel Plans" {
		t.Errorf("Expected trimmed title, got %q", title)
	}
	if client.calls != 1 {
		t.Errorf("Expected 1 model call, got %d", client.calls)
	}
	if len(client.prompts) != 1 || !strings.Contains(client.prompts[0], "User: plan a trip") {
		t.Errorf("Prompt missing history: %v", client.prompts)
	}

	stored, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Title != "Travel Plans" {
		t.Errorf("Title not persisted, got %q", stored.Title)
	}
}

func TestGenerateTitleSkipsCustomTitle(t *testing.T) {
	client := &fakeLLM{response: "Should Not Appear"}
	m := newTestManager(t, client)
	ctx := context.Background()

	sess, err := m.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := m.UpdateTitle(ctx, sess.ID, "Renamed"); err != nil {
		t.Fatalf("UpdateTitle failed: %v", err)
	}

	title, err := m.GenerateTitle(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GenerateTitle failed: %v", err)
	}
	if title != "Renamed" {
		t.Errorf("Expected existing title, got %q", title)
	}
	if client.calls != 0 {
		t.Errorf("Expected no model calls, got %d", client.calls)
	}
}

func TestGenerateTitleUnknownSession(t *testing.T) {
	m := newTestManager(t, &fakeLLM{})

	_, err := m.GenerateTitle(context.Background(), "nope")
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestGenerateTitleModelFailure(t *testing.T) {
	client := &fakeLLM{err: errors.New("model offline")}
	m := newTestManager(t, client)
	ctx := context.Background()

	sess, err := m.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := m.AddMessage(ctx, sess.ID, domain.RoleUser, "hi", nil, ""); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	if _, err := m.GenerateTitle(ctx, sess.ID); err == nil {
		t.Fatal("Expected error from model failure")
	}

	stored, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Title != domain.DefaultSessionTitle {
		t.Errorf("Title should be unchanged on failure, got %q", stored.Title)
	}
}
