package research

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OrganizationHeader selects the billing scope of a queued run.
const OrganizationHeader = "x-organization-id"

// Handler serves the internal endpoints the task queue invokes.
type Handler struct {
	executor *Executor
	secret   []byte
	log      zerolog.Logger
}

func NewHandler(executor *Executor, secret []byte, logger zerolog.Logger) *Handler {
	return &Handler{
		executor: executor,
		secret:   secret,
		log:      logger.With().Str("component", "research_handler").Logger(),
	}
}

// Register adds the queue-facing endpoints to the router, which the
// caller mounts under /api/internal.
func (h *Handler) Register(r chi.Router) {
	r.Post("/run-one-time-research/{id}", h.runOneTime)
	r.Post("/run-infinite-research/{id}", h.runInfinite)
}

func (h *Handler) runOneTime(w http.ResponseWriter, r *http.Request) {
	id, orgID, ok := h.authorize(w, r, func(c *TaskClaims) *uuid.UUID { return c.OneTimeResearchID })
	if !ok {
		return
	}

	executed, err := h.executor.ExecuteOneTime(r.Context(), id, orgID)
	h.respond(w, executed, err)
}

func (h *Handler) runInfinite(w http.ResponseWriter, r *http.Request) {
	id, orgID, ok := h.authorize(w, r, func(c *TaskClaims) *uuid.UUID { return c.InfiniteResearchID })
	if !ok {
		return
	}

	executed, err := h.executor.ExecuteRecurring(r.Context(), id, orgID)
	h.respond(w, executed, err)
}

// authorize verifies the task JWT and checks that its claim ID matches
// the path ID.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, claimID func(*TaskClaims) *uuid.UUID) (uuid.UUID, *uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		http.Error(w, "missing task token", http.StatusUnauthorized)
		return uuid.Nil, nil, false
	}
	claims, err := VerifyTaskToken(h.secret, raw)
	if err != nil {
		h.log.Warn().Err(err).Msg("task token rejected")
		http.Error(w, "invalid task token", http.StatusUnauthorized)
		return uuid.Nil, nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return uuid.Nil, nil, false
	}

	claimed := claimID(claims)
	if claimed == nil || *claimed != id {
		h.log.Warn().Str("task_id", id.String()).Msg("task token does not match path")
		http.Error(w, "token does not grant this task", http.StatusForbidden)
		return uuid.Nil, nil, false
	}

	var orgID *uuid.UUID
	if header := r.Header.Get(OrganizationHeader); header != "" {
		parsed, err := uuid.Parse(header)
		if err != nil {
			http.Error(w, "invalid organization id", http.StatusBadRequest)
			return uuid.Nil, nil, false
		}
		orgID = &parsed
	}
	return id, orgID, true
}

func (h *Handler) respond(w http.ResponseWriter, executed bool, err error) {
	if err != nil {
		// A failed state update must surface as 5xx so the queue
		// retries the invocation.
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	status := "ok"
	if !executed {
		status = "skipped"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
