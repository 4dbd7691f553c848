package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ordo/internal/organizer"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *organizer.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Journal.
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{id}", h.GetSession)

	// Dry run of the whole root.
	r.Get("/plan", h.Plan)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
