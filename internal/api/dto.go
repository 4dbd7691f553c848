package api

import (
	"github.com/starford/ordo/internal/engine"
	"github.com/starford/ordo/internal/journal"
	"github.com/starford/ordo/internal/organizer"
)

// SessionSummary is one row of the session list (aliased from the journal).
type SessionSummary = journal.Summary

// SessionDetail is a session with its records (aliased from the domain layer).
type SessionDetail = organizer.SessionDetail

// SessionListResponse wraps the session list.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions" validate:"required"`
	Total    int              `json:"total" example:"3" validate:"required"`
}

// PlanResponse is the dry-run report.
type PlanResponse = engine.Report
