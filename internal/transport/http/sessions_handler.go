package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
)

// SessionsHandler is the small REST surface for hosts: create, list, delete.
// Starting and ending go through the websocket so the broadcast and the
// status flip stay one logical operation per connection.
type SessionsHandler struct {
	store app.SessionStore
	host  *app.HostControl
}

func NewSessionsHandler(store app.SessionStore, host *app.HostControl) *SessionsHandler {
	return &SessionsHandler{store: store, host: host}
}

type createSessionRequest struct {
	QuizID         string     `json:"quizId"`
	HostID         string     `json:"hostId"`
	ScheduledStart *time.Time `json:"scheduledStart,omitempty"`
	ScheduledEnd   *time.Time `json:"scheduledEnd,omitempty"`
	IsPrivate      bool       `json:"isPrivate"`
}

type sessionResponse struct {
	ID              string     `json:"id"`
	QuizID          string     `json:"quizId"`
	HostID          string     `json:"hostId"`
	Status          string     `json:"status"`
	Phase           string     `json:"phase"`
	ScheduledStart  *time.Time `json:"scheduledStart,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduledEnd,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	IsPrivate       bool       `json:"isPrivate"`
	JoinCode        *string    `json:"joinCode,omitempty"`
	PrivateJoinCode *string    `json:"privateJoinCode,omitempty"`
}

// toResponse keeps the privacy invariant visible at the boundary: only the
// code matching the session's mode is ever serialized.
func toResponse(s domain.LiveSession, now time.Time) sessionResponse {
	resp := sessionResponse{
		ID:             s.ID,
		QuizID:         s.QuizID,
		HostID:         s.HostID,
		Status:         string(s.Status),
		Phase:          app.ComputePhase(s, now).String(),
		ScheduledStart: s.ScheduledStart,
		ScheduledEnd:   s.ScheduledEnd,
		StartedAt:      s.StartedAt,
		EndedAt:        s.EndedAt,
		IsPrivate:      s.IsPrivate,
	}
	if s.IsPrivate {
		resp.PrivateJoinCode = s.PrivateJoinCode
	} else {
		resp.JoinCode = s.JoinCode
	}
	return resp
}

func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.QuizID == "" || req.HostID == "" {
		http.Error(w, "quizId and hostId are required", http.StatusBadRequest)
		return
	}

	session, err := h.host.CreateSession(r.Context(), app.CreateSessionParams{
		QuizID:         req.QuizID,
		HostID:         req.HostID,
		ScheduledStart: req.ScheduledStart,
		ScheduledEnd:   req.ScheduledEnd,
		IsPrivate:      req.IsPrivate,
	})
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			log.Printf("sessions: create failed: %v", err)
			http.Error(w, "temporary problem, please try again", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(session, time.Now()))
}

func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessions, err := h.store.ListActive(r.Context())
	if err != nil {
		log.Printf("sessions: list failed: %v", err)
		http.Error(w, "temporary problem, please try again", http.StatusServiceUnavailable)
		return
	}
	now := time.Now()
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toResponse(s, now))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	hostID := r.URL.Query().Get("hostId")
	if sessionID == "" || hostID == "" {
		http.Error(w, "sessionId and hostId are required", http.StatusBadRequest)
		return
	}

	err := h.host.DeleteSession(r.Context(), sessionID, hostID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrSessionNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNotHost):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, domain.ErrSessionNotWaiting):
		http.Error(w, "session already started", http.StatusConflict)
	default:
		log.Printf("sessions: delete failed: %v", err)
		http.Error(w, "temporary problem, please try again", http.StatusServiceUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("sessions: encode response: %v", err)
	}
}
