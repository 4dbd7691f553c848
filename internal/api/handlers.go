package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ordo/internal/organizer"
)

// Handler holds API route handlers.
type Handler struct {
	svc *organizer.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *organizer.Service) *Handler {
	return &Handler{svc: svc}
}

// ListSessions handles GET /api/sessions.
//
//	@Summary		List journaled sessions, oldest first
//	@Tags			sessions
//	@Produce		json
//	@Success		200		{object}	SessionListResponse
//	@Security		BearerAuth
//	@Router			/sessions [get]
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Sessions(r.Context())
	if err != nil {
		writeServiceError(w, "list sessions", err)
		return
	}
	if items == nil {
		items = []SessionSummary{}
	}
	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: items, Total: len(items)})
}

// GetSession handles GET /api/sessions/{id}.
//
//	@Summary		Get one session with its journal records
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	SessionDetail
//	@Failure		404	{object}	errResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := h.svc.Session(r.Context(), id)
	if err != nil {
		writeServiceError(w, "get session "+id, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Plan handles GET /api/plan.
//
//	@Summary		Dry-run the rules over the root
//	@Tags			plan
//	@Produce		json
//	@Success		200	{object}	PlanResponse
//	@Security		BearerAuth
//	@Router			/plan [get]
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Plan(r.Context())
	if err != nil {
		writeServiceError(w, "plan", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
