package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/starford/ordo/internal/models"
)

// PredicateKind tags the closed set of predicate variants.
type PredicateKind int

const (
	PredicateExtension PredicateKind = iota + 1
	PredicateMime
	PredicateType
	PredicateRegex
	PredicateAge
	PredicateMinSize
)

func (k PredicateKind) String() string {
	switch k {
	case PredicateExtension:
		return "extension"
	case PredicateMime:
		return "mime"
	case PredicateType:
		return "type"
	case PredicateRegex:
		return "regex"
	case PredicateAge:
		return "age"
	case PredicateMinSize:
		return "min_size"
	}
	return fmt.Sprintf("predicate(%d)", int(k))
}

// Predicate is one compiled condition. Only the field matching Kind is set.
type Predicate struct {
	Kind PredicateKind

	extensions map[string]struct{}
	glob       string
	kind       models.Kind
	regex      *regexp.Regexp
	age        time.Duration
	minSize    int64
}

// Rule is a compiled rule.
type Rule struct {
	Name       string
	Predicates []Predicate
	Target     string
	Conflict   string
	Extract    map[string]string
}

// Subject is what predicates are evaluated against.
type Subject struct {
	Name           string
	Size           int64
	ModTime        time.Time
	Classification models.Classification
}

// SubjectOf builds a Subject from a classified candidate.
func SubjectOf(c *models.Candidate, cl models.Classification) Subject {
	return Subject{Name: c.Name(), Size: c.Size, ModTime: c.ModTime, Classification: cl}
}

// Holds evaluates p against s at time now.
func (p Predicate) Holds(s Subject, now time.Time) bool {
	switch p.Kind {
	case PredicateExtension:
		ext := s.Name
		if i := strings.LastIndexByte(ext, '.'); i >= 0 {
			ext = ext[i+1:]
		} else {
			ext = ""
		}
		_, ok := p.extensions[strings.ToLower(ext)]
		return ok
	case PredicateMime:
		if p.glob == string(s.Classification.Kind) {
			return true
		}
		ok, err := doublestar.Match(p.glob, strings.ToLower(s.Classification.MIME))
		return err == nil && ok
	case PredicateType:
		return s.Classification.Kind == p.kind
	case PredicateRegex:
		return p.regex.MatchString(s.Name)
	case PredicateAge:
		return now.Sub(s.ModTime) >= p.age
	case PredicateMinSize:
		return s.Size >= p.minSize
	default:
		panic(fmt.Sprintf("rules: unhandled predicate kind %d", int(p.Kind)))
	}
}

// Matches reports whether every predicate of r holds for s.
func (r *Rule) Matches(s Subject, now time.Time) bool {
	for _, p := range r.Predicates {
		if !p.Holds(s, now) {
			return false
		}
	}
	return true
}

// Set is an ordered, immutable collection of compiled rules.
type Set struct {
	rules []Rule
}

// Len returns the number of rules.
func (s *Set) Len() int { return len(s.rules) }

// Rules returns the rules in evaluation order.
func (s *Set) Rules() []Rule { return s.rules }

// Lookup returns the rule named name.
func (s *Set) Lookup(name string) (*Rule, bool) {
	for i := range s.rules {
		if s.rules[i].Name == name {
			return &s.rules[i], true
		}
	}
	return nil, false
}

// Match returns the first rule whose predicates all hold. No match is not an error.
func (s *Set) Match(sub Subject, now time.Time) (*Rule, bool) {
	for i := range s.rules {
		if s.rules[i].Matches(sub, now) {
			return &s.rules[i], true
		}
	}
	return nil, false
}
