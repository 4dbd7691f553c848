package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/ordo/internal/apperr"
)

// Session is a parsed session journal with the latest status of each entry.
type Session struct {
	ID      string
	Path    string
	Started time.Time
	// Entries are ordered by sequence number.
	Entries []Entry
	// Torn is true when a partial final line was ignored.
	Torn bool
}

// Summary describes a session without its entries.
type Summary struct {
	ID         string    `json:"id"`
	Started    time.Time `json:"started"`
	Entries    int       `json:"entries"`
	Pending    int       `json:"pending"`
	Committed  int       `json:"committed"`
	RolledBack int       `json:"rolled_back"`
}

// Summary counts the entries of s by status.
func (s *Session) Summary() Summary {
	sum := Summary{ID: s.ID, Started: s.Started, Entries: len(s.Entries)}
	for _, e := range s.Entries {
		switch e.Status {
		case StatusPending:
			sum.Pending++
		case StatusCommitted:
			sum.Committed++
		case StatusRolledBack:
			sum.RolledBack++
		}
	}
	return sum
}

// LastSeq returns the highest sequence number in the session.
func (s *Session) LastSeq() uint64 {
	if len(s.Entries) == 0 {
		return 0
	}
	return s.Entries[len(s.Entries)-1].Seq
}

// Pending returns the entries still awaiting a terminal status.
func (s *Session) Pending() []Entry {
	var out []Entry
	for _, e := range s.Entries {
		if e.Status == StatusPending {
			out = append(out, e)
		}
	}
	return out
}

// UndoPlan is a session's committed entries in reverse sequence order.
type UndoPlan []Entry

// UndoPlan returns the entries an undo must revert, newest first.
func (s *Session) UndoPlan() UndoPlan {
	var plan UndoPlan
	for i := len(s.Entries) - 1; i >= 0; i-- {
		if s.Entries[i].Status == StatusCommitted {
			plan = append(plan, s.Entries[i])
		}
	}
	return plan
}

// Load parses the session file for id in dir.
func Load(dir, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.New(apperr.KindIO, "load session", id, apperr.ErrNotFound)
	}
	path := filepath.Join(dir, id+".jsonl")
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.New(apperr.KindIO, "load session", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.New(apperr.KindIO, "load session", path, err)
	}
	defer f.Close()

	s, err := parse(f, id, path)
	if err != nil {
		return nil, err
	}
	s.Started = sessionTime(id)
	return s, nil
}

// parse reads JSON lines where the last line for a sequence number wins.
// A final line without a newline is a write cut short by a crash and is dropped.
func parse(r io.Reader, id, path string) (*Session, error) {
	s := &Session{ID: id, Path: path}
	latest := make(map[uint64]int)
	br := bufio.NewReader(r)
	lineNo := 0

	for {
		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(line)) > 0 {
				s.Torn = true
			}
			break
		}
		if err != nil {
			return nil, apperr.New(apperr.KindIO, "read journal", path, err)
		}
		lineNo++
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, apperr.Newf(apperr.KindJournalCorruption, "parse", path, "line %d: %v", lineNo, err)
		}
		if err := validate(e, id); err != nil {
			return nil, apperr.Newf(apperr.KindJournalCorruption, "parse", path, "line %d: %v", lineNo, err)
		}
		if i, ok := latest[e.Seq]; ok {
			s.Entries[i] = e
			continue
		}
		latest[e.Seq] = len(s.Entries)
		s.Entries = append(s.Entries, e)
	}

	sort.SliceStable(s.Entries, func(a, b int) bool { return s.Entries[a].Seq < s.Entries[b].Seq })
	return s, nil
}

func validate(e Entry, id string) error {
	if e.SessionID != id {
		return fmt.Errorf("session id %q does not match file %q", e.SessionID, id)
	}
	if e.Seq == 0 {
		return errors.New("missing sequence number")
	}
	switch e.Op {
	case OpMove, OpHardLink:
	default:
		return fmt.Errorf("unknown op %q", e.Op)
	}
	switch e.Status {
	case StatusPending, StatusCommitted, StatusRolledBack:
	default:
		return fmt.Errorf("unknown status %q", e.Status)
	}
	if e.Src == "" || e.Dst == "" {
		return errors.New("missing src or dst")
	}
	if e.Op == OpHardLink && e.Canonical == "" {
		return errors.New("hardlink without canonical")
	}
	return nil
}

// IDs lists the session ids in dir, oldest first.
func IDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.KindIO, "list sessions", dir, err)
	}
	var ids []string
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(name, ".jsonl")
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	// Version 7 ids sort by creation time.
	sort.Strings(ids)
	return ids, nil
}

func sessionTime(id string) time.Time {
	u, err := uuid.Parse(id)
	if err != nil || u.Version() != 7 {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec).UTC()
}
