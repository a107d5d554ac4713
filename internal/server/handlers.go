package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/seekerhq/seeker/pkg/access"
	"github.com/seekerhq/seeker/pkg/credits"
	"github.com/seekerhq/seeker/pkg/session"
)

// WebhookSecretHeader authenticates billing settlement calls.
const WebhookSecretHeader = "x-webhook-secret"

type createSessionRequest struct {
	UserID         uuid.UUID            `json:"user_id"`
	OrganizationID *uuid.UUID           `json:"organization_id,omitempty"`
	Instruction    string               `json:"instruction"`
	Attachments    []session.Attachment `json:"attachments,omitempty"`

	// TimeLimit is a Go duration string ("10m"). Empty keeps the
	// default.
	TimeLimit         string `json:"time_limit,omitempty"`
	TokenThreshold    int    `json:"token_threshold,omitempty"`
	PreserveExchanges int    `json:"preserve_exchanges,omitempty"`
}

type sessionResponse struct {
	ID             uuid.UUID                    `json:"id"`
	UserID         uuid.UUID                    `json:"user_id"`
	OrganizationID *uuid.UUID                   `json:"organization_id,omitempty"`
	Status         session.Status               `json:"status"`
	CreatedAt      time.Time                    `json:"created_at"`
	History        []session.Message            `json:"history"`
	Context        []session.ContextEntry       `json:"context"`
	Attachments    []session.Attachment         `json:"attachments,omitempty"`
	FinalAnswer    *session.FinalAnswerResponse `json:"final_answer,omitempty"`
	LastError      string                       `json:"last_error,omitempty"`
}

func toSessionResponse(s *session.Session) sessionResponse {
	return sessionResponse{
		ID:             s.ID,
		UserID:         s.UserID,
		OrganizationID: s.OrganizationID,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
		History:        s.History,
		Context:        s.Context,
		Attachments:    s.Attachments,
		FinalAnswer:    s.FinalAnswer,
		LastError:      s.LastError,
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == uuid.Nil {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Instruction == "" {
		http.Error(w, "instruction is required", http.StatusBadRequest)
		return
	}

	cfg := session.Config{
		TokenThreshold:     req.TokenThreshold,
		PreserveExchanges:  req.PreserveExchanges,
		InitialInstruction: req.Instruction,
	}
	if req.TimeLimit != "" {
		limit, err := time.ParseDuration(req.TimeLimit)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid time_limit: %v", err), http.StatusBadRequest)
			return
		}
		cfg.TimeLimit = limit
	}

	sess, err := s.cfg.Sessions.CreateSession(r.Context(), session.CreateParams{
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		Config:         cfg,
		Attachments:    req.Attachments,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.cfg.Sessions.Submit(r.Context(), sess.ID, req.Instruction); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.startRun(sess.ID)

	sess, err = s.cfg.Sessions.Get(r.Context(), sess.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// startRun kicks off the agent loop in the background. The per-session
// lane serializes concurrent kicks, so a duplicate is harmless.
func (s *Server) startRun(id uuid.UUID) {
	go func() {
		if _, err := s.cfg.Runner.Run(context.Background(), id); err != nil {
			s.log.Error().Err(err).Stringer("session_id", id).Msg("background run failed")
		}
	}()
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.cfg.Sessions.Get(r.Context(), id)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Server) submitInput(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	if err := s.cfg.Sessions.Submit(r.Context(), id, req.Text); err != nil {
		s.sessionError(w, err)
		return
	}
	s.startRun(id)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) interruptSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	if err := s.cfg.Sessions.Interrupt(r.Context(), id); err != nil {
		s.sessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "interrupted"})
}

func (s *Server) finalAnswer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	answer, err := s.cfg.Sessions.FinalAnswer(r.Context(), id)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, answer)
}

func (s *Server) checkAccess(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err := uuid.Parse(q.Get("user_id"))
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}
	objectID, err := uuid.Parse(q.Get("object_id"))
	if err != nil {
		http.Error(w, "invalid object_id", http.StatusBadRequest)
		return
	}
	objectType := access.ObjectType(q.Get("object_type"))
	if objectType == "" {
		http.Error(w, "object_type is required", http.StatusBadRequest)
		return
	}

	action := access.ActionRead
	switch q.Get("action") {
	case "", "read":
	case "write":
		action = access.ActionWrite
	default:
		http.Error(w, "action must be read or write", http.StatusBadRequest)
		return
	}

	allowed, err := s.cfg.Access.Can(r.Context(), userID, action, access.Object{ID: objectID, Type: objectType})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (s *Server) billingWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebhookSecret == "" || r.Header.Get(WebhookSecretHeader) != s.cfg.WebhookSecret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Transactions []credits.BillingTransactionRecord `json:"transactions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.cfg.Ledger.BulkDeduct(r.Context(), req.Transactions)
	if err != nil {
		// 5xx so the billing system redelivers; BulkDeduct skips
		// already-settled entries on retry.
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrTerminal), errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrNotCompleted):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("write response")
	}
}
