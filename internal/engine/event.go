package engine

import "github.com/starford/ordo/internal/models"

// EventType names a progress event.
type EventType string

const (
	EventCandidateProcessed EventType = "candidate_processed"
	EventActionTaken        EventType = "action_taken"
	EventSummary            EventType = "summary"
)

// Event is one entry of the progress stream.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	DryRun    bool           `json:"dry_run,omitempty"`
	Path      string         `json:"path,omitempty"`
	State     string         `json:"state,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Action    *models.Action `json:"action,omitempty"`
	Summary   *Totals        `json:"summary,omitempty"`
}

// Observer receives progress events. Observe is called from the commit
// goroutine and must not block for long.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }
