package chat

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/neurion-ai/seraph/internal/agent"
	"github.com/neurion-ai/seraph/internal/domain"
	"github.com/neurion-ai/seraph/internal/insight"
	"github.com/neurion-ai/seraph/internal/onboarding"
	"github.com/neurion-ai/seraph/internal/session"
	"github.com/neurion-ai/seraph/internal/store"
)

type fakeLLM struct {
	response string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.response, nil
}

// scriptedEngine replays canned events, then optionally fails.
type scriptedEngine struct {
	events []agent.StepEvent
	err    error
}

func (e *scriptedEngine) Run(ctx context.Context, message string) iter.Seq2[agent.StepEvent, error] {
	return func(yield func(agent.StepEvent, error) bool) {
		for _, ev := range e.events {
			if !yield(ev, nil) {
				return
			}
		}
		if e.err != nil {
			yield(agent.StepEvent{}, e.err)
		}
	}
}

func finalOnly(text string) *scriptedEngine {
	return &scriptedEngine{events: []agent.StepEvent{{Kind: agent.StepFinalAnswer, Text: text}}}
}

// engineScript hands out one scripted engine per turn, falling back to a
// plain answer once exhausted.
type engineScript struct {
	mu      sync.Mutex
	engines []agent.Engine
}

func (s *engineScript) push(engines ...agent.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engines = append(s.engines, engines...)
}

func (s *engineScript) builder() agent.Builder {
	return func(bctx agent.BuildContext) agent.Engine {
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.engines) == 0 {
			return finalOnly("ok")
		}
		eng := s.engines[0]
		s.engines = s.engines[1:]
		return eng
	}
}

type recordingConsolidator struct {
	mu       sync.Mutex
	sessions []string
}

func (r *recordingConsolidator) ConsolidateSession(ctx context.Context, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, sessionID)
}

func (r *recordingConsolidator) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sessions...)
}

type stubSoul struct{ doc string }

func (s *stubSoul) Read() (string, error) { return s.doc, nil }

type fixture struct {
	handler      *WebSocketHandler
	repo         store.Repository
	sessions     *session.Manager
	queue        *insight.Queue
	gate         *onboarding.Gate
	engines      *engineScript
	consolidator *recordingConsolidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engines := &engineScript{}
	sessions := session.NewManager(repo, &fakeLLM{response: "Chat Title"})
	queue := insight.NewQueue(repo, insight.DefaultExpiry)
	gate := onboarding.NewGate(repo, engines.builder(), engines.builder())
	consolidator := &recordingConsolidator{}

	// Tasks run inline so assertions never race the background work.
	track := func(name string, fn func(ctx context.Context) error) {
		if err := fn(context.Background()); err != nil {
			t.Logf("Background task %s failed: %v", name, err)
		}
	}

	handler := NewWebSocketHandler(
		sessions, queue, gate, &stubSoul{doc: "# Soul"}, repo, consolidator,
		track, 6, "", true,
	)
	return &fixture{
		handler:      handler,
		repo:         repo,
		sessions:     sessions,
		queue:        queue,
		gate:         gate,
		engines:      engines,
		consolidator: consolidator,
	}
}

func dial(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.handler.ServeHTTP))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(data)); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame clientFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("Failed to marshal frame: %v", err)
	}
	sendRaw(t, conn, string(data))
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Failed to decode frame %q: %v", string(data), err)
	}
	return frame
}

func sessionID(id string) *string { return &id }

func TestPingPong(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)

	sendFrame(t, conn, clientFrame{Type: "ping"})
	frame := readFrame(t, conn)
	if frame.Type != frameTypePong || frame.Content != "pong" {
		t.Errorf("Expected pong, got %+v", frame)
	}
}

func TestInvalidFrameKeepsConnectionUsable(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)

	sendRaw(t, conn, "not json")
	frame := readFrame(t, conn)
	if frame.Type != frameTypeError || !strings.Contains(frame.Content, "Invalid message") {
		t.Errorf("Expected invalid-message error, got %+v", frame)
	}

	sendFrame(t, conn, clientFrame{Type: "ping"})
	if frame := readFrame(t, conn); frame.Type != frameTypePong {
		t.Errorf("Connection unusable after bad frame: %+v", frame)
	}
}

func TestUnknownFrameType(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)

	sendFrame(t, conn, clientFrame{Type: "shout"})
	frame := readFrame(t, conn)
	if frame.Type != frameTypeError || !strings.Contains(frame.Content, "unknown type") {
		t.Errorf("Expected unknown-type error, got %+v", frame)
	}
}

func TestProactiveDeliveryOnConnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.queue.Enqueue(ctx, "low priority tip", "", 1, ""); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := f.queue.Enqueue(ctx, "urgent warning", domain.InterventionWarning, 5, ""); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	conn := dial(t, f)
	frame := readFrame(t, conn)
	if frame.Type != frameTypeProactive {
		t.Fatalf("Expected proactive frame first, got %+v", frame)
	}
	if frame.Content != "urgent warning\n\nlow priority tip" {
		t.Errorf("Expected urgency-ordered bundle, got %q", frame.Content)
	}

	count, err := f.queue.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected queue drained, got %d", count)
	}
}

func TestNoProactiveFrameWhenQueueEmpty(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)

	// The first frame after connect must be the pong, not a proactive frame.
	sendFrame(t, conn, clientFrame{Type: "ping"})
	if frame := readFrame(t, conn); frame.Type != frameTypePong {
		t.Errorf("Expected pong as first frame, got %+v", frame)
	}
}

func TestSkipOnboardingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)

	for i := 0; i < 2; i++ {
		sendFrame(t, conn, clientFrame{Type: "skip_onboarding"})
		frame := readFrame(t, conn)
		if frame.Type != frameTypeFinal || !strings.Contains(frame.Content, "skipped") {
			t.Errorf("Skip %d: expected skip acknowledgment, got %+v", i+1, frame)
		}
	}

	profile, err := f.gate.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if !profile.OnboardingCompleted {
		t.Error("Expected onboarding completed after skip")
	}
}

func TestMessageTurnStreamsStepsAndFinal(t *testing.T) {
	f := newFixture(t)
	if err := f.gate.Skip(context.Background()); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	f.engines.push(&scriptedEngine{events: []agent.StepEvent{
		{Kind: agent.StepToolCall, Tool: "echo", Arguments: `{"text":"hi"}`},
		{Kind: agent.StepObservation, Text: "echo: hi"},
		{Kind: agent.StepFinalAnswer, Text: "All done."},
	}})

	conn := dial(t, f)
	sendFrame(t, conn, clientFrame{Type: "message", Message: "say hi", SessionID: sessionID("s1")})

	first := readFrame(t, conn)
	if first.Type != frameTypeStep || first.Step != 1 || !strings.Contains(first.Content, "Calling echo") {
		t.Errorf("Expected tool-call step, got %+v", first)
	}
	second := readFrame(t, conn)
	if second.Type != frameTypeStep || second.Step != 2 || second.Content != "echo: hi" {
		t.Errorf("Expected observation step, got %+v", second)
	}
	final := readFrame(t, conn)
	if final.Type != frameTypeFinal || final.Content != "All done." || final.SessionID != "s1" {
		t.Errorf("Expected final frame, got %+v", final)
	}

	// The log holds the user message, both step rows, and the answer; the
	// answer appears only in the final frame, never as a step.
	msgs, err := f.sessions.Messages(context.Background(), "s1", 0, 0)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("Expected 4 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != domain.RoleUser || msgs[3].Role != domain.RoleAssistant {
		t.Errorf("Unexpected log shape: %+v", msgs)
	}
	if msgs[1].Role != domain.RoleStep || msgs[1].ToolUsed != "echo" {
		t.Errorf("Tool step not persisted: %+v", msgs[1])
	}
}

func TestAgentFailureLeavesSessionUsable(t *testing.T) {
	f := newFixture(t)
	if err := f.gate.Skip(context.Background()); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	f.engines.push(
		&scriptedEngine{err: context.DeadlineExceeded},
		finalOnly("recovered"),
	)

	conn := dial(t, f)
	sendFrame(t, conn, clientFrame{Type: "message", Message: "first", SessionID: sessionID("s1")})
	frame := readFrame(t, conn)
	if frame.Type != frameTypeError || !strings.Contains(frame.Content, "Agent error") {
		t.Fatalf("Expected agent error frame, got %+v", frame)
	}

	// No assistant message for the failed turn, only the user's.
	msgs, err := f.sessions.Messages(context.Background(), "s1", 0, 0)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Errorf("Expected only the user message, got %+v", msgs)
	}

	sendFrame(t, conn, clientFrame{Type: "message", Message: "second", SessionID: sessionID("s1")})
	if frame := readFrame(t, conn); frame.Type != frameTypeFinal || frame.Content != "recovered" {
		t.Errorf("Expected next turn to succeed, got %+v", frame)
	}
}

func TestOnboardingMarkerCompletesGate(t *testing.T) {
	f := newFixture(t)
	f.engines.push(finalOnly("Welcome aboard! " + agent.OnboardingCompleteMarker))

	conn := dial(t, f)
	sendFrame(t, conn, clientFrame{Type: "message", Message: "hello", SessionID: sessionID("s1")})

	frame := readFrame(t, conn)
	if frame.Type != frameTypeFinal {
		t.Fatalf("Expected final frame, got %+v", frame)
	}
	if strings.Contains(frame.Content, agent.OnboardingCompleteMarker) {
		t.Errorf("Marker leaked to the client: %q", frame.Content)
	}
	if frame.Content != "Welcome aboard!" {
		t.Errorf("Expected trimmed answer, got %q", frame.Content)
	}

	profile, err := f.gate.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if !profile.OnboardingCompleted {
		t.Error("Expected onboarding completed after marker")
	}
}

func TestConsolidationScheduledAtThreshold(t *testing.T) {
	f := newFixture(t)
	if err := f.gate.Skip(context.Background()); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}

	conn := dial(t, f)
	for i := 0; i < 3; i++ {
		sendFrame(t, conn, clientFrame{Type: "message", Message: "turn", SessionID: sessionID("s1")})
		if frame := readFrame(t, conn); frame.Type != frameTypeFinal {
			t.Fatalf("Turn %d: expected final frame, got %+v", i+1, frame)
		}
	}

	// Three turns put six user/assistant rows in the log, hitting the
	// threshold exactly once.
	calls := f.consolidator.calls()
	if len(calls) != 1 || calls[0] != "s1" {
		t.Errorf("Expected one consolidation for s1, got %v", calls)
	}

	// Title generation ran after the first turn.
	sess, err := f.sessions.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.Title != "Chat Title" {
		t.Errorf("Expected generated title, got %q", sess.Title)
	}
}

func TestFreshSessionAssignedWhenIDOmitted(t *testing.T) {
	f := newFixture(t)
	if err := f.gate.Skip(context.Background()); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}

	conn := dial(t, f)
	sendFrame(t, conn, clientFrame{Type: "message", Message: "hi"})

	frame := readFrame(t, conn)
	if frame.Type != frameTypeFinal || frame.SessionID == "" {
		t.Errorf("Expected final frame with generated session id, got %+v", frame)
	}

	sess, err := f.sessions.Get(context.Background(), frame.SessionID)
	if err != nil || sess == nil {
		t.Errorf("Generated session not persisted: %v %v", sess, err)
	}
}
