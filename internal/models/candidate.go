// Package models defines the domain types shared across the organizer pipeline.
package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Kind is the coarse content classification of a file.
type Kind string

const (
	KindImage      Kind = "image"
	KindDocument   Kind = "document"
	KindArchive    Kind = "archive"
	KindExecutable Kind = "executable"
	KindText       Kind = "text"
	KindUnknown    Kind = "unknown"
)

// Kinds lists every classification in a stable order.
var Kinds = []Kind{KindImage, KindDocument, KindArchive, KindExecutable, KindText, KindUnknown}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == strings.ToLower(s) {
			return k, true
		}
	}
	return "", false
}

// Classification is the result of content inspection.
type Classification struct {
	Kind Kind   `json:"kind"`
	MIME string `json:"mime"`
	// Source records which stage produced the result: "signature", "library", "text" or "extension".
	Source string `json:"source"`
}

// State is a step in the candidate lifecycle.
type State int

const (
	StateDiscovered State = iota
	StateClassified
	StateMatched
	StateUnmatched
	StatePlanned
	StateSkipped
	StateJournaled
	StateCommitted
	StateFailed
)

var stateNames = map[State]string{
	StateDiscovered: "discovered",
	StateClassified: "classified",
	StateMatched:    "matched",
	StateUnmatched:  "unmatched",
	StatePlanned:    "planned",
	StateSkipped:    "skipped",
	StateJournaled:  "journaled",
	StateCommitted:  "committed",
	StateFailed:     "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateUnmatched, StateSkipped, StateCommitted, StateFailed:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateDiscovered: {StateClassified, StateFailed},
	StateClassified: {StateMatched, StateUnmatched, StateFailed},
	StateMatched:    {StatePlanned, StateUnmatched, StateFailed},
	StatePlanned:    {StateSkipped, StateJournaled, StateFailed},
	StateJournaled:  {StateCommitted, StateFailed},
}

// Candidate is a file under consideration in one pipeline pass.
// It is owned by a single goroutine at a time.
type Candidate struct {
	Path    string
	Size    int64
	ModTime time.Time

	state          State
	classification *Classification
	hash           string
	reason         string
}

// NewCandidate returns a candidate in the Discovered state.
func NewCandidate(path string, size int64, modTime time.Time) *Candidate {
	return &Candidate{Path: path, Size: size, ModTime: modTime}
}

// State returns the current lifecycle state.
func (c *Candidate) State() State { return c.state }

// Reason returns the diagnostic recorded with the last terminal transition, if any.
func (c *Candidate) Reason() string { return c.reason }

// Advance moves the candidate to next, rejecting transitions the lifecycle does not allow.
func (c *Candidate) Advance(next State) error {
	for _, allowed := range transitions[c.state] {
		if allowed == next {
			c.state = next
			return nil
		}
	}
	return fmt.Errorf("models: invalid transition %s -> %s for %s", c.state, next, c.Path)
}

// Finish moves the candidate to a terminal state and records why.
func (c *Candidate) Finish(next State, reason string) error {
	if !next.Terminal() {
		return fmt.Errorf("models: %s is not terminal", next)
	}
	if err := c.Advance(next); err != nil {
		return err
	}
	c.reason = reason
	return nil
}

// Classification returns the cached classification, or nil before inspection.
func (c *Candidate) Classification() *Classification { return c.classification }

// SetClassification caches the inspection result and advances to Classified.
func (c *Candidate) SetClassification(cl Classification) error {
	if err := c.Advance(StateClassified); err != nil {
		return err
	}
	c.classification = &cl
	return nil
}

// Hash returns the cached content hash, or "" when not yet computed.
func (c *Candidate) Hash() string { return c.hash }

// SetHash caches the content hash.
func (c *Candidate) SetHash(h string) { c.hash = h }

// Name returns the base file name.
func (c *Candidate) Name() string { return filepath.Base(c.Path) }

// Ext returns the extension without the leading dot.
func (c *Candidate) Ext() string { return strings.TrimPrefix(filepath.Ext(c.Path), ".") }

// Stem returns the file name without its extension.
func (c *Candidate) Stem() string {
	name := c.Name()
	return strings.TrimSuffix(name, filepath.Ext(name))
}
