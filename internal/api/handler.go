// Package api provides the HTTP handlers around the chat core.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/neurion-ai/seraph/internal/agent"
	"github.com/neurion-ai/seraph/internal/domain"
	"github.com/neurion-ai/seraph/internal/insight"
	"github.com/neurion-ai/seraph/internal/onboarding"
	"github.com/neurion-ai/seraph/internal/session"
)

// maxRequestBodySize bounds request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Handler serves the REST surface: synchronous chat, session CRUD,
// onboarding profile, and the insight queue.
type Handler struct {
	sessions *session.Manager
	queue    *insight.Queue
	gate     *onboarding.Gate
}

// NewHandler creates the REST handler.
func NewHandler(sessions *session.Manager, queue *insight.Queue, gate *onboarding.Gate) *Handler {
	return &Handler{sessions: sessions, queue: queue, gate: gate}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes mounts all REST endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.handleChat)

		r.Get("/sessions", h.handleListSessions)
		r.Get("/sessions/{id}/messages", h.handleGetMessages)
		r.Patch("/sessions/{id}", h.handleUpdateTitle)
		r.Delete("/sessions/{id}", h.handleDeleteSession)

		r.Get("/user/profile", h.handleGetProfile)
		r.Post("/user/onboarding/skip", h.handleSkipOnboarding)
		r.Post("/user/onboarding/restart", h.handleRestartOnboarding)

		r.Get("/insights", h.handlePeekInsights)
		r.Post("/insights", h.handleEnqueueInsight)
	})
}

type chatRequest struct {
	Message   string  `json:"message"`
	SessionID *string `json:"session_id"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// handleChat runs one synchronous turn: persist the user message, run the
// selected agent to completion, persist and return the answer.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx := r.Context()
	requested := ""
	if req.SessionID != nil {
		requested = *req.SessionID
	}

	sess, err := h.sessions.GetOrCreate(ctx, requested)
	if err != nil {
		slog.Error("Failed to resolve session", "error", err)
		Error(w, http.StatusInternalServerError, "session unavailable")
		return
	}

	if _, err := h.sessions.AddMessage(ctx, sess.ID, domain.RoleUser, req.Message, nil, ""); err != nil {
		slog.Error("Failed to persist user message", "session_id", sess.ID, "error", err)
		Error(w, http.StatusInternalServerError, "could not store message")
		return
	}

	history, err := h.sessions.HistoryText(ctx, sess.ID)
	if err != nil {
		slog.Error("Failed to render history", "session_id", sess.ID, "error", err)
		Error(w, http.StatusInternalServerError, "could not load history")
		return
	}

	eng, _, err := h.gate.SelectAgent(ctx, agent.BuildContext{History: history})
	if err != nil {
		slog.Error("Failed to select agent", "session_id", sess.ID, "error", err)
		Error(w, http.StatusInternalServerError, "agent unavailable")
		return
	}

	answer, err := runToCompletion(ctx, eng, req.Message)
	if err != nil {
		slog.Error("Agent execution failed", "session_id", sess.ID, "error", err)
		Error(w, http.StatusInternalServerError, fmt.Sprintf("Agent error: %v", err))
		return
	}

	if _, err := h.sessions.AddMessage(ctx, sess.ID, domain.RoleAssistant, answer, nil, ""); err != nil {
		slog.Error("Failed to persist assistant message", "session_id", sess.ID, "error", err)
		Error(w, http.StatusInternalServerError, "could not store response")
		return
	}

	JSON(w, http.StatusOK, chatResponse{Response: answer, SessionID: sess.ID})
}

// runToCompletion consumes an engine run and returns the final answer,
// discarding intermediate steps.
func runToCompletion(ctx context.Context, eng agent.Engine, message string) (string, error) {
	answer := ""
	sawFinal := false
	for ev, err := range eng.Run(ctx, message) {
		if err != nil {
			return "", err
		}
		if ev.Kind == agent.StepFinalAnswer {
			answer = ev.Text
			sawFinal = true
		}
	}
	if !sawFinal {
		return "", errors.New("run produced no answer")
	}
	return answer, nil
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.sessions.List(r.Context())
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	if summaries == nil {
		summaries = []domain.SessionSummary{}
	}
	JSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load session", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "could not load session")
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	messages, err := h.sessions.Messages(r.Context(), id, limit, offset)
	if err != nil {
		slog.Error("Failed to load messages", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "could not load messages")
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	JSON(w, http.StatusOK, messages)
}

func (h *Handler) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Title string `json:"title"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}

	updated, err := h.sessions.UpdateTitle(r.Context(), id, req.Title)
	if err != nil {
		slog.Error("Failed to update title", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "could not update title")
		return
	}
	if !updated {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"id": id, "title": req.Title})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.sessions.Delete(r.Context(), id)
	if err != nil {
		slog.Error("Failed to delete session", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "could not delete session")
		return
	}
	if !deleted {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.gate.Profile(r.Context())
	if err != nil {
		slog.Error("Failed to load profile", "error", err)
		Error(w, http.StatusInternalServerError, "could not load profile")
		return
	}
	JSON(w, http.StatusOK, profile)
}

func (h *Handler) handleSkipOnboarding(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Skip(r.Context()); err != nil {
		slog.Error("Failed to skip onboarding", "error", err)
		Error(w, http.StatusInternalServerError, "could not skip onboarding")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"onboarding_completed": true})
}

func (h *Handler) handleRestartOnboarding(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Restart(r.Context()); err != nil {
		slog.Error("Failed to restart onboarding", "error", err)
		Error(w, http.StatusInternalServerError, "could not restart onboarding")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"onboarding_completed": false})
}

func (h *Handler) handlePeekInsights(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 5)
	insights, err := h.queue.Peek(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to peek insights", "error", err)
		Error(w, http.StatusInternalServerError, "could not read insights")
		return
	}
	if insights == nil {
		insights = []domain.QueuedInsight{}
	}
	JSON(w, http.StatusOK, insights)
}

type enqueueInsightRequest struct {
	Content          string `json:"content"`
	InterventionType string `json:"intervention_type"`
	Urgency          int    `json:"urgency"`
	Reasoning        string `json:"reasoning"`
}

func (h *Handler) handleEnqueueInsight(w http.ResponseWriter, r *http.Request) {
	var req enqueueInsightRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Urgency == 0 {
		req.Urgency = 3
	}

	stored, err := h.queue.Enqueue(r.Context(), req.Content, req.InterventionType, req.Urgency, req.Reasoning)
	if err != nil {
		slog.Error("Failed to enqueue insight", "error", err)
		Error(w, http.StatusInternalServerError, "could not enqueue insight")
		return
	}
	JSON(w, http.StatusCreated, stored)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
