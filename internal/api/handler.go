// Package api provides HTTP handlers for the agent API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pascalcad/pascal-agent/internal/conversation"
	"github.com/pascalcad/pascal-agent/internal/domain"
	"github.com/pascalcad/pascal-agent/internal/schema"
	"github.com/pascalcad/pascal-agent/internal/store"
)

const (
	maxTurnBodyBytes  = 1 << 20
	rateLimitRequests = 20
	rateLimitWindow   = time.Minute
)

// TurnService is the conversation surface the API needs.
type TurnService interface {
	Turn(ctx context.Context, req conversation.TurnRequest) (*schema.AgentReply, error)
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
	Reset(ctx context.Context, sessionID string) error
}

// HostStatus reports whether a CAD host is attached.
type HostStatus interface {
	Connected() bool
}

// Handler provides the session and turn endpoints.
type Handler struct {
	svc         TurnService
	repo        store.Repository
	host        HostStatus
	rateLimiter *RateLimiter
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(svc TurnService, repo store.Repository, host HostStatus) *Handler {
	return &Handler{
		svc:         svc,
		repo:        repo,
		host:        host,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
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

// Routes mounts the API endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.CreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/turn", h.Turn)
		r.Post("/reset", h.ResetSession)
	})
	r.Get("/health", h.Health)
}

type createSessionResponse struct {
	SessionID string             `json:"session_id"`
	Reply     *schema.AgentReply `json:"reply"`
}

// CreateSession mints a new session id. No state is persisted until the
// first turn arrives.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusCreated, createSessionResponse{
		SessionID: uuid.NewString(),
		Reply: &schema.AgentReply{
			Status:  schema.StatusNeedClarification,
			Message: conversation.WelcomeMessage,
		},
	})
}

// GetSession returns the stored conversation state, or the first-turn
// default for an unknown id.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session id is required")
		return
	}

	sess, err := h.svc.Session(r.Context(), sessionID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	JSON(w, http.StatusOK, sess)
}

type turnRequest struct {
	UserText  string `json:"user_text"`
	Confirmed bool   `json:"confirmed"`
}

type turnResponse struct {
	SessionID string             `json:"session_id"`
	Reply     *schema.AgentReply `json:"reply"`
}

// Turn submits one user message to a session.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session id is required")
		return
	}

	if !h.rateLimiter.Allow(sessionID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded, slow down")
		return
	}

	var req turnRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxTurnBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.svc.Turn(r.Context(), conversation.TurnRequest{
		SessionID: sessionID,
		UserText:  req.UserText,
		Confirmed: req.Confirmed,
	})

	status := http.StatusOK
	switch {
	case errors.Is(err, conversation.ErrSessionBusy):
		status = http.StatusConflict
	case err != nil:
		var storageErr *store.StorageError
		if errors.As(err, &storageErr) {
			status = http.StatusInternalServerError
		}
	}

	if reply == nil {
		Error(w, http.StatusInternalServerError, "turn failed")
		return
	}
	JSON(w, status, turnResponse{SessionID: sessionID, Reply: reply})
}

// ResetSession discards the stored conversation.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session id is required")
		return
	}

	if err := h.svc.Reset(r.Context(), sessionID); err != nil {
		if errors.Is(err, conversation.ErrSessionBusy) {
			Error(w, http.StatusConflict, "a turn is in progress, try again shortly")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "reset"})
}

// Health reports storage and CAD host availability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dbOK := h.repo.Ping(r.Context()) == nil
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, map[string]any{
		"database":       dbOK,
		"host_connected": h.host.Connected(),
	})
}
