package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/ordo/internal/models"
)

// Totals are the counters of one run.
type Totals struct {
	Scanned   int `json:"scanned"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Skipped   int `json:"skipped"`
	Planned   int `json:"planned"`
	Committed int `json:"committed"`
	Failed    int `json:"failed"`
	// BytesSaved counts the content that hard links avoid storing twice.
	BytesSaved int64 `json:"bytes_saved"`
	// Conflicts counts occupied destinations per policy.
	Conflicts map[string]int `json:"conflicts,omitempty"`
}

// PlannedAction is one action with the context it was chosen in.
type PlannedAction struct {
	models.Action
	Size int64 `json:"size"`
	// Policy is set when the destination was occupied.
	Policy string `json:"policy,omitempty"`
}

// Note is a per-candidate diagnostic.
type Note struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report describes a run: what was planned in a dry run, what happened otherwise.
type Report struct {
	Root      string `json:"root"`
	SessionID string `json:"session_id,omitempty"`
	DryRun    bool   `json:"dry_run"`
	Totals
	Actions     []PlannedAction `json:"actions"`
	Failures    []Note          `json:"failures,omitempty"`
	Diagnostics []Note          `json:"diagnostics,omitempty"`
}

func newReport(root string, dryRun bool) *Report {
	return &Report{Root: root, DryRun: dryRun, Totals: Totals{Conflicts: map[string]int{}}}
}

func (r *Report) conflict(policy string) {
	r.Conflicts[policy]++
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText renders the report for a terminal. Paths are shown relative to the root.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	if r.DryRun {
		b.WriteString("Plan (dry run, nothing was changed)\n")
	} else {
		fmt.Fprintf(&b, "Session %s\n", orDash(r.SessionID))
	}
	fmt.Fprintf(&b, "Root: %s\n\n", r.Root)

	if len(r.Actions) == 0 {
		b.WriteString("No actions.\n")
	}
	for _, a := range r.Actions {
		src := r.rel(a.Source)
		switch a.Kind {
		case models.ActionSkip:
			fmt.Fprintf(&b, "  %-9s %s (%s occupied)\n", a.Kind, src, r.rel(a.Destination))
		case models.ActionHardLink:
			fmt.Fprintf(&b, "  %-9s %s -> %s (same as %s)\n", a.Kind, src, r.rel(a.Destination), r.rel(a.Canonical))
		default:
			fmt.Fprintf(&b, "  %-9s %s -> %s\n", a.Kind, src, r.rel(a.Destination))
		}
	}

	if len(r.Failures) > 0 {
		b.WriteString("\nFailures:\n")
		for _, n := range r.Failures {
			fmt.Fprintf(&b, "  %s: %s\n", r.rel(n.Path), n.Reason)
		}
	}
	if len(r.Diagnostics) > 0 {
		b.WriteString("\nUnmatched:\n")
		for _, n := range r.Diagnostics {
			fmt.Fprintf(&b, "  %s: %s\n", r.rel(n.Path), n.Reason)
		}
	}

	t := r.Totals
	fmt.Fprintf(&b, "\nScanned %d, matched %d, unmatched %d, skipped %d, failed %d\n",
		t.Scanned, t.Matched, t.Unmatched, t.Skipped, t.Failed)
	if r.DryRun {
		fmt.Fprintf(&b, "Planned %d, bytes saved by hard links %s\n", t.Planned, formatBytes(t.BytesSaved))
	} else {
		fmt.Fprintf(&b, "Committed %d, bytes saved by hard links %s\n", t.Committed, formatBytes(t.BytesSaved))
	}
	if len(t.Conflicts) > 0 {
		policies := make([]string, 0, len(t.Conflicts))
		for p := range t.Conflicts {
			policies = append(policies, p)
		}
		sort.Strings(policies)
		parts := make([]string, 0, len(policies))
		for _, p := range policies {
			parts = append(parts, fmt.Sprintf("%s=%d", p, t.Conflicts[p]))
		}
		fmt.Fprintf(&b, "Conflicts: %s\n", strings.Join(parts, ", "))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (r *Report) rel(p string) string {
	if r.Root == "" {
		return p
	}
	rel, err := filepath.Rel(r.Root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	return filepath.ToSlash(rel)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
