// Package journal records every mutation durably before it happens so runs can be undone and crashes recovered.
package journal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/ordo/internal/apperr"
)

// Op is the journaled filesystem operation.
type Op string

const (
	OpMove     Op = "move"
	OpHardLink Op = "hardlink"
)

// Status is the lifecycle state of a journal entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
)

// PriorState holds everything needed to reverse an entry.
type PriorState struct {
	SrcHash    string      `json:"src_hash"`
	Size       int64       `json:"size"`
	Mode       os.FileMode `json:"mode"`
	ModTime    time.Time   `json:"mtime"`
	DstExisted bool        `json:"dst_existed"`
	// Displaced is where the previous occupant of Dst was moved for the overwrite policy.
	Displaced     string `json:"displaced,omitempty"`
	DisplacedHash string `json:"displaced_hash,omitempty"`
}

// Entry is one line of a session journal.
type Entry struct {
	SessionID string     `json:"session_id"`
	Seq       uint64     `json:"seq"`
	Op        Op         `json:"op"`
	Src       string     `json:"src"`
	Dst       string     `json:"dst"`
	Canonical string     `json:"canonical,omitempty"`
	Rule      string     `json:"rule,omitempty"`
	Prior     PriorState `json:"prior_state"`
	Status    Status     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Error     string     `json:"error,omitempty"`
}

type appendReq struct {
	entry  Entry
	assign bool
	reply  chan appendResp
}

type appendResp struct {
	entry Entry
	err   error
}

// Journal appends entries to one session file.
//
// A single writer goroutine owns the file and the sequence counter. Callers
// reach it over a channel, so appends are totally ordered without a mutex.
// A failed write poisons the journal: every later append fails too.
type Journal struct {
	id   string
	path string

	appendCh chan appendReq
	stopCh   chan struct{}
	stopped  chan struct{}
	closed   atomic.Bool
}

// Create starts a new session file under dir with a time-ordered id.
func Create(dir string) (*Journal, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.New(apperr.KindJournalWrite, "session id", dir, err)
	}
	id := u.String()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.New(apperr.KindJournalWrite, "mkdir", dir, err)
	}
	path := filepath.Join(dir, id+".jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0o644)
	if err != nil {
		return nil, apperr.New(apperr.KindJournalWrite, "create", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, apperr.New(apperr.KindJournalWrite, "fsync", path, err)
	}
	if err := syncDir(dir); err != nil {
		f.Close()
		return nil, err
	}
	return start(id, path, f, 0), nil
}

// reopen continues an existing session file after its last sequence number.
func reopen(dir, id string, lastSeq uint64) (*Journal, error) {
	path := filepath.Join(dir, id+".jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, apperr.New(apperr.KindJournalWrite, "reopen", path, err)
	}
	return start(id, path, f, lastSeq), nil
}

func start(id, path string, f *os.File, seq uint64) *Journal {
	j := &Journal{
		id:       id,
		path:     path,
		appendCh: make(chan appendReq),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go j.run(f, seq)
	return j
}

// ID returns the session id.
func (j *Journal) ID() string { return j.id }

// Path returns the session file path.
func (j *Journal) Path() string { return j.path }

func (j *Journal) run(f *os.File, seq uint64) {
	defer close(j.stopped)
	defer f.Close()

	var broken error
	write := func(e Entry) error {
		if broken != nil {
			return broken
		}
		line, err := json.Marshal(e)
		if err != nil {
			return apperr.New(apperr.KindJournalWrite, "encode", j.path, err)
		}
		line = append(line, '\n')
		if _, err := f.Write(line); err != nil {
			broken = apperr.New(apperr.KindJournalWrite, "append", j.path, err)
			return broken
		}
		if err := f.Sync(); err != nil {
			broken = apperr.New(apperr.KindJournalWrite, "fsync", j.path, err)
			return broken
		}
		return nil
	}

	for {
		select {
		case <-j.stopCh:
			return
		case req := <-j.appendCh:
			e := req.entry
			e.SessionID = j.id
			if req.assign {
				seq++
				e.Seq = seq
			}
			if e.Timestamp.IsZero() {
				e.Timestamp = time.Now().UTC()
			}
			err := write(e)
			if err != nil && req.assign {
				seq--
			}
			req.reply <- appendResp{entry: e, err: err}
		}
	}
}

func (j *Journal) send(e Entry, assign bool) (Entry, error) {
	if j.closed.Load() {
		return Entry{}, apperr.New(apperr.KindJournalWrite, "append", j.path, errClosed)
	}
	req := appendReq{entry: e, assign: assign, reply: make(chan appendResp, 1)}
	select {
	case j.appendCh <- req:
	case <-j.stopped:
		return Entry{}, apperr.New(apperr.KindJournalWrite, "append", j.path, errClosed)
	}
	resp := <-req.reply
	return resp.entry, resp.err
}

var errClosed = errors.New("journal closed")

// Begin appends e as a new Pending entry and returns it with its sequence number.
// It returns only after the line is fsynced.
func (j *Journal) Begin(e Entry) (Entry, error) {
	e.Status = StatusPending
	e.Timestamp = time.Time{}
	e.Error = ""
	return j.send(e, true)
}

// Commit appends the Committed record for e.
func (j *Journal) Commit(e Entry) error {
	e.Status = StatusCommitted
	e.Timestamp = time.Time{}
	e.Error = ""
	_, err := j.send(e, false)
	return err
}

// Rollback appends the RolledBack record for e. cause may be nil.
func (j *Journal) Rollback(e Entry, cause error) error {
	e.Status = StatusRolledBack
	e.Timestamp = time.Time{}
	e.Error = ""
	if cause != nil {
		e.Error = cause.Error()
	}
	_, err := j.send(e, false)
	return err
}

// Close stops the writer and closes the file. It is safe to call more than once.
func (j *Journal) Close() error {
	if j.closed.CompareAndSwap(false, true) {
		close(j.stopCh)
	}
	<-j.stopped
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return apperr.New(apperr.KindJournalWrite, "open dir", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return apperr.New(apperr.KindJournalWrite, "fsync dir", dir, err)
	}
	return nil
}
