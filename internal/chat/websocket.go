package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/neurion-ai/seraph/internal/agent"
	"github.com/neurion-ai/seraph/internal/domain"
	"github.com/neurion-ai/seraph/internal/insight"
	"github.com/neurion-ai/seraph/internal/onboarding"
	"github.com/neurion-ai/seraph/internal/session"
)

// maxQueuedTurns bounds how many message frames can wait behind the
// running turn on one connection.
const maxQueuedTurns = 16

// memoryContextLimit is how many recent memories are folded into the
// agent's context per turn.
const memoryContextLimit = 10

// Consolidator is the background extraction collaborator.
type Consolidator interface {
	ConsolidateSession(ctx context.Context, sessionID string)
}

// SoulReader provides identity context for agent builds.
type SoulReader interface {
	Read() (string, error)
}

// MemoryLister provides recent long-term memories for agent builds.
type MemoryLister interface {
	ListMemories(ctx context.Context, limit int) ([]domain.Memory, error)
}

// WebSocketHandler drives the streaming chat protocol for one connection
// at a time: drain-and-deliver on connect, then a sequential frame loop
// with turns executed off the reader goroutine.
type WebSocketHandler struct {
	sessions      *session.Manager
	queue         *insight.Queue
	gate          *onboarding.Gate
	soul          SoulReader
	memories      MemoryLister
	consolidator  Consolidator
	track         func(name string, fn func(ctx context.Context) error)
	threshold     int
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates the streaming handler.
func NewWebSocketHandler(
	sessions *session.Manager,
	queue *insight.Queue,
	gate *onboarding.Gate,
	soul SoulReader,
	memories MemoryLister,
	consolidator Consolidator,
	track func(name string, fn func(ctx context.Context) error),
	consolidationThreshold int,
	allowedOrigin string,
	isDev bool,
) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:      sessions,
		queue:         queue,
		gate:          gate,
		soul:          soul,
		memories:      memories,
		consolidator:  consolidator,
		track:         track,
		threshold:     consolidationThreshold,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsConn serializes frame writes; the reader and the turn runner share the
// connection.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(frame serverFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// The websocket library tracks its own connection state; writes after
	// close fail fast without needing the request context.
	return c.ws.Write(context.Background(), websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	conn := &wsConn{ws: ws}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.deliverQueued(ctx, conn)

	// Turns run on their own goroutine so the reader keeps answering pings
	// while the agent works. Frames queue in order behind the running turn.
	turnCh := make(chan clientFrame, maxQueuedTurns)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for frame := range turnCh {
			if ctx.Err() != nil {
				// Client is gone; drop turns that never started. The turn
				// already in flight when the disconnect happened has run to
				// completion by the time we see the next frame here.
				continue
			}
			h.runTurn(context.WithoutCancel(ctx), conn, frame)
		}
	}()

	h.readLoop(ctx, conn, turnCh)

	cancel()
	close(turnCh)
	wg.Wait()
	slog.Info("Chat connection closed")
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// deliverQueued drains the insight queue and sends one proactive frame when
// anything fresh came out. Delivery happens before any client frame is
// processed.
func (h *WebSocketHandler) deliverQueued(ctx context.Context, conn *wsConn) {
	insights, err := h.queue.Drain(ctx)
	if err != nil {
		slog.Error("Failed to drain insight queue on connect", "error", err)
		return
	}
	if len(insights) == 0 {
		return
	}

	parts := make([]string, 0, len(insights))
	for _, ins := range insights {
		parts = append(parts, ins.Content)
	}
	if err := conn.send(serverFrame{Type: frameTypeProactive, Content: strings.Join(parts, "\n\n")}); err != nil {
		slog.Debug("Failed to send proactive frame", "error", err)
	}
}

func (h *WebSocketHandler) readLoop(ctx context.Context, conn *wsConn, turnCh chan<- clientFrame) {
	for {
		_, data, err := conn.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(conn, "", fmt.Sprintf("Invalid message: %v", err))
			continue
		}

		switch frame.Type {
		case frameTypePing:
			if err := conn.send(serverFrame{Type: frameTypePong, Content: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case frameTypeSkipOnboarding:
			h.handleSkip(ctx, conn)
		case frameTypeMessage:
			select {
			case turnCh <- frame:
			default:
				h.sendError(conn, "", "Too many pending messages")
			}
		default:
			h.sendError(conn, "", fmt.Sprintf("Invalid message: unknown type %q", frame.Type))
		}
	}
}

// handleSkip completes onboarding. Repeating it returns the same
// acknowledgment; the flag just stays set.
func (h *WebSocketHandler) handleSkip(ctx context.Context, conn *wsConn) {
	if err := h.gate.Skip(ctx); err != nil {
		slog.Error("Failed to skip onboarding", "error", err)
		h.sendError(conn, "", "Could not skip onboarding")
		return
	}
	if err := conn.send(serverFrame{Type: frameTypeFinal, Content: "Onboarding skipped. Ask me anything."}); err != nil {
		slog.Debug("Failed to send skip acknowledgment", "error", err)
	}
}

// runTurn executes one full turn: persist the user message, stream agent
// steps, persist and send the final answer. A failed turn sends one error
// frame and leaves the session usable.
func (h *WebSocketHandler) runTurn(ctx context.Context, conn *wsConn, frame clientFrame) {
	requested := ""
	if frame.SessionID != nil {
		requested = *frame.SessionID
	}

	sess, err := h.sessions.GetOrCreate(ctx, requested)
	if err != nil {
		slog.Error("Failed to resolve session", "error", err)
		h.sendError(conn, requested, "Session unavailable")
		return
	}

	if _, err := h.sessions.AddMessage(ctx, sess.ID, domain.RoleUser, frame.Message, nil, ""); err != nil {
		slog.Error("Failed to persist user message", "session_id", sess.ID, "error", err)
		h.sendError(conn, sess.ID, "Could not store message")
		return
	}

	bctx, err := h.buildContext(ctx, sess.ID)
	if err != nil {
		slog.Error("Failed to assemble agent context", "session_id", sess.ID, "error", err)
		h.sendError(conn, sess.ID, "Could not load conversation context")
		return
	}

	eng, isOnboarding, err := h.gate.SelectAgent(ctx, bctx)
	if err != nil {
		slog.Error("Failed to select agent", "session_id", sess.ID, "error", err)
		h.sendError(conn, sess.ID, "Agent unavailable")
		return
	}

	finalText, ok := h.streamSteps(ctx, conn, sess.ID, eng, frame.Message)
	if !ok {
		return
	}

	if isOnboarding && strings.Contains(finalText, agent.OnboardingCompleteMarker) {
		finalText = strings.TrimSpace(strings.ReplaceAll(finalText, agent.OnboardingCompleteMarker, ""))
		if err := h.gate.Complete(ctx); err != nil {
			slog.Error("Failed to record onboarding completion", "error", err)
		}
	}

	if _, err := h.sessions.AddMessage(ctx, sess.ID, domain.RoleAssistant, finalText, nil, ""); err != nil {
		slog.Error("Failed to persist assistant message", "session_id", sess.ID, "error", err)
		h.sendError(conn, sess.ID, "Could not store response")
		return
	}

	if err := conn.send(serverFrame{Type: frameTypeFinal, Content: finalText, SessionID: sess.ID}); err != nil {
		slog.Debug("Failed to send final frame", "error", err)
	}

	h.afterTurn(ctx, sess.ID)
}

// streamSteps consumes the engine run, forwarding tool calls and
// observations as step frames. The FinalAnswer variant is never emitted as
// a step; it becomes the final frame, so the answer is not sent twice.
func (h *WebSocketHandler) streamSteps(ctx context.Context, conn *wsConn, sessionID string, eng agent.Engine, message string) (string, bool) {
	stepNum := 0
	finalText := ""
	sawFinal := false

	for ev, err := range eng.Run(ctx, message) {
		if err != nil {
			slog.Error("Agent run failed", "session_id", sessionID, "error", err)
			h.sendError(conn, sessionID, fmt.Sprintf("Agent error: %v", err))
			return "", false
		}

		switch ev.Kind {
		case agent.StepFinalAnswer:
			finalText = ev.Text
			sawFinal = true

		case agent.StepToolCall:
			stepNum++
			content := fmt.Sprintf("Calling %s with %s", ev.Tool, ev.Arguments)
			h.persistStep(ctx, sessionID, content, stepNum, ev.Tool)
			if err := conn.send(serverFrame{Type: frameTypeStep, Content: content, SessionID: sessionID, Step: stepNum}); err != nil {
				slog.Debug("Failed to send step frame", "error", err)
			}

		case agent.StepObservation:
			stepNum++
			h.persistStep(ctx, sessionID, ev.Text, stepNum, "")
			if err := conn.send(serverFrame{Type: frameTypeStep, Content: ev.Text, SessionID: sessionID, Step: stepNum}); err != nil {
				slog.Debug("Failed to send step frame", "error", err)
			}
		}
	}

	if !sawFinal {
		slog.Error("Agent run ended without a final answer", "session_id", sessionID)
		h.sendError(conn, sessionID, "Agent error: run produced no answer")
		return "", false
	}
	return finalText, true
}

func (h *WebSocketHandler) persistStep(ctx context.Context, sessionID, content string, stepNum int, tool string) {
	if _, err := h.sessions.AddMessage(ctx, sessionID, domain.RoleStep, content, &stepNum, tool); err != nil {
		slog.Warn("Failed to persist step message", "session_id", sessionID, "step", stepNum, "error", err)
	}
}

func (h *WebSocketHandler) buildContext(ctx context.Context, sessionID string) (agent.BuildContext, error) {
	history, err := h.sessions.HistoryText(ctx, sessionID)
	if err != nil {
		return agent.BuildContext{}, err
	}

	soulText := ""
	if h.soul != nil {
		if soulText, err = h.soul.Read(); err != nil {
			slog.Warn("Failed to read soul document", "error", err)
			soulText = ""
		}
	}

	memoryText := ""
	if h.memories != nil {
		memories, err := h.memories.ListMemories(ctx, memoryContextLimit)
		if err != nil {
			slog.Warn("Failed to load memories", "error", err)
		} else {
			var lines []string
			for _, mem := range memories {
				lines = append(lines, "- "+mem.Content)
			}
			memoryText = strings.Join(lines, "\n")
		}
	}

	return agent.BuildContext{History: history, Soul: soulText, Memories: memoryText}, nil
}

// afterTurn schedules consolidation and title generation. Both run through
// the task registry; neither can fail the turn that triggered them.
func (h *WebSocketHandler) afterTurn(ctx context.Context, sessionID string) {
	count, err := h.sessions.CountMessages(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to count messages after turn", "session_id", sessionID, "error", err)
		return
	}

	if count == 2 {
		h.track("generate-title:"+sessionID, func(ctx context.Context) error {
			_, err := h.sessions.GenerateTitle(ctx, sessionID)
			return err
		})
	}

	if h.consolidator != nil && count >= h.threshold {
		h.track("consolidate:"+sessionID, func(ctx context.Context) error {
			h.consolidator.ConsolidateSession(ctx, sessionID)
			return nil
		})
	}
}

func (h *WebSocketHandler) sendError(conn *wsConn, sessionID, message string) {
	if err := conn.send(serverFrame{Type: frameTypeError, Content: message, SessionID: sessionID}); err != nil {
		slog.Debug("Failed to send error frame", "error", err)
	}
}
