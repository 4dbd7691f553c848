package models

import (
	"testing"
	"time"
)

func TestCandidateHappyPath(t *testing.T) {
	c := NewCandidate("/root/in/photo.JPG", 10, time.Now())
	steps := []State{StateClassified, StateMatched, StatePlanned, StateJournaled, StateCommitted}
	for _, s := range steps {
		if err := c.Advance(s); err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}
	if !c.State().Terminal() {
		t.Error("committed should be terminal")
	}
	if err := c.Advance(StateFailed); err == nil {
		t.Error("no transition allowed out of a terminal state")
	}
}

func TestCandidateInvalidTransition(t *testing.T) {
	c := NewCandidate("a.txt", 1, time.Now())
	if err := c.Advance(StateJournaled); err == nil {
		t.Fatal("discovered -> journaled must be rejected")
	}
	if c.State() != StateDiscovered {
		t.Errorf("state changed on rejected transition: %s", c.State())
	}
}

func TestCandidateFinish(t *testing.T) {
	c := NewCandidate("a.txt", 1, time.Now())
	_ = c.SetClassification(Classification{Kind: KindText, MIME: "text/plain"})
	if err := c.Finish(StateMatched, "x"); err == nil {
		t.Error("Finish requires a terminal state")
	}
	if err := c.Finish(StateUnmatched, "no rule"); err != nil {
		t.Fatal(err)
	}
	if c.Reason() != "no rule" {
		t.Errorf("reason = %q", c.Reason())
	}
}

func TestCandidateNameParts(t *testing.T) {
	c := NewCandidate("/a/b/report.final.pdf", 1, time.Now())
	if c.Name() != "report.final.pdf" || c.Ext() != "pdf" || c.Stem() != "report.final" {
		t.Errorf("got name=%q ext=%q stem=%q", c.Name(), c.Ext(), c.Stem())
	}
}

func TestParseKind(t *testing.T) {
	if k, ok := ParseKind("Image"); !ok || k != KindImage {
		t.Errorf("ParseKind(Image) = %q %v", k, ok)
	}
	if _, ok := ParseKind("video"); ok {
		t.Error("video is not a kind")
	}
}
