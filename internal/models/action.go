package models

import "fmt"

// ActionKind is the planned operation for a matched candidate.
type ActionKind string

const (
	ActionMove     ActionKind = "move"
	ActionHardLink ActionKind = "hardlink"
	ActionSkip     ActionKind = "skip"
)

// Action describes one planned filesystem mutation.
type Action struct {
	Kind        ActionKind `json:"kind"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	// Canonical is the existing path a HardLink points at.
	Canonical string `json:"canonical,omitempty"`
	Rule      string `json:"rule,omitempty"`
}

func (a Action) String() string {
	switch a.Kind {
	case ActionHardLink:
		return fmt.Sprintf("hardlink %s -> %s (canonical %s)", a.Source, a.Destination, a.Canonical)
	case ActionSkip:
		return fmt.Sprintf("skip %s", a.Source)
	default:
		return fmt.Sprintf("move %s -> %s", a.Source, a.Destination)
	}
}
