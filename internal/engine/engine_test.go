package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ordo/internal/apperr"
	"github.com/starford/ordo/internal/checksum"
	"github.com/starford/ordo/internal/dedup"
	"github.com/starford/ordo/internal/journal"
	"github.com/starford/ordo/internal/models"
	"github.com/starford/ordo/internal/resolver"
	"github.com/starford/ordo/internal/rules"
	"github.com/starford/ordo/internal/scan"
	"github.com/starford/ordo/internal/storage"
)

const jpegBytes = "\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00"

var when = time.Date(2023, 6, 1, 12, 0, 0, 0, time.Local)

type env struct {
	root     string
	fs       *storage.FS
	journals *journal.Dir
	index    *dedup.Index
	engine   *Engine
}

func newEnv(t *testing.T, cfgs []rules.Config, opts ...Option) *env {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for i := range cfgs {
		require.NoError(t, cfgs[i].Validate())
	}
	set, err := rules.Compile(cfgs)
	require.NoError(t, err)

	ix := dedup.NewIndex(nil, logger)
	journals, err := journal.NewDir(filepath.Join(t.TempDir(), "state"), fs, ix, logger)
	require.NoError(t, err)
	res, err := resolver.New(fs.Root(), nil)
	require.NoError(t, err)

	base := []Option{WithLogger(logger), WithWorkers(4), WithIndex(ix)}
	eng, err := New(set, fs, journals, res, append(base, opts...)...)
	require.NoError(t, err)
	return &env{root: fs.Root(), fs: fs, journals: journals, index: ix, engine: eng}
}

func (e *env) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(p, when, when))
	return p
}

func (e *env) read(t *testing.T, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(b)
}

func (e *env) exists(rel string) bool {
	_, err := os.Lstat(filepath.Join(e.root, filepath.FromSlash(rel)))
	return err == nil
}

func (e *env) run(t *testing.T, opts RunOptions, depth int) *Report {
	t.Helper()
	rep, err := e.engine.Run(context.Background(), scan.Walk(e.root, scan.Options{MaxDepth: depth}), opts)
	require.NoError(t, err)
	return rep
}

func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		out[filepath.ToSlash(rel)] = string(b)
		return nil
	}))
	return out
}

func kinds(rep *Report) []models.ActionKind {
	var out []models.ActionKind
	for _, a := range rep.Actions {
		out = append(out, a.Kind)
	}
	return out
}

var txtRule = rules.Config{Name: "texts", Extensions: []string{"txt"}, Target: "T"}

func TestPictureLandsInYearFolder(t *testing.T) {
	e := newEnv(t, []rules.Config{{Name: "pics", Type: "image", Target: "Pictures/${year}"}})
	e.write(t, "a.jpg", jpegBytes)

	rep := e.run(t, RunOptions{}, 1)

	assert.Equal(t, 1, rep.Committed)
	assert.False(t, e.exists("a.jpg"))
	assert.Equal(t, jpegBytes, e.read(t, "Pictures/2023/a.jpg"))

	s, err := e.engine.Session(rep.SessionID)
	require.NoError(t, err)
	require.Len(t, s.Entries, 1)
	assert.Equal(t, journal.StatusCommitted, s.Entries[0].Status)
	assert.Equal(t, journal.OpMove, s.Entries[0].Op)
}

func TestDuplicateBecomesHardLink(t *testing.T) {
	e := newEnv(t, []rules.Config{txtRule})
	e.write(t, "x.txt", "same")
	e.write(t, "y.txt", "same")

	rep := e.run(t, RunOptions{}, 1)

	assert.Equal(t, []models.ActionKind{models.ActionMove, models.ActionHardLink}, kinds(rep))
	x, y := filepath.Join(e.root, "T", "x.txt"), filepath.Join(e.root, "T", "y.txt")
	assert.True(t, e.fs.SameFile(x, y))
	assert.Equal(t, x, rep.Actions[1].Canonical)
	assert.Equal(t, int64(4), rep.BytesSaved)
	assert.False(t, e.exists("x.txt"))
	assert.False(t, e.exists("y.txt"))
}

func TestManyDuplicatesShareOneCanonical(t *testing.T) {
	e := newEnv(t, []rules.Config{txtRule})
	const n = 6
	for i := 0; i < n; i++ {
		e.write(t, fmt.Sprintf("d%d.txt", i), "payload")
	}

	rep := e.run(t, RunOptions{}, 1)
	require.Len(t, rep.Actions, n)

	canon := filepath.Join(e.root, "T", "d0.txt")
	assert.Equal(t, models.ActionMove, rep.Actions[0].Kind)
	for _, a := range rep.Actions[1:] {
		assert.Equal(t, models.ActionHardLink, a.Kind)
		assert.Equal(t, canon, a.Canonical)
		assert.True(t, e.fs.SameFile(canon, a.Destination))
	}

	// Links keep the content after the canonical is deleted.
	require.NoError(t, os.Remove(canon))
	for i := 1; i < n; i++ {
		assert.Equal(t, "payload", e.read(t, fmt.Sprintf("T/d%d.txt", i)))
	}
}

func TestRenameNeverOverwrites(t *testing.T) {
	e := newEnv(t, []rules.Config{txtRule})
	e.write(t, "T/a.txt", "old")
	e.write(t, "a.txt", "new")

	rep := e.run(t, RunOptions{}, 1)

	assert.Equal(t, "old", e.read(t, "T/a.txt"))
	assert.Equal(t, "new", e.read(t, "T/a (1).txt"))
	assert.Equal(t, map[string]int{rules.PolicyRename: 1}, rep.Conflicts)
}

func TestSkipPolicyLeavesSource(t *testing.T) {
	e := newEnv(t, []rules.Config{{Name: "t", Extensions: []string{"txt"}, Target: "T", Conflict: rules.PolicySkip}})
	e.write(t, "T/a.txt", "old")
	e.write(t, "a.txt", "new")

	rep := e.run(t, RunOptions{}, 1)

	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, "new", e.read(t, "a.txt"))
	assert.Equal(t, "old", e.read(t, "T/a.txt"))
	assert.Empty(t, rep.SessionID, "no session without mutations")
}

func TestOverwriteDisplacesAndUndoRestores(t *testing.T) {
	e := newEnv(t, []rules.Config{{Name: "t", Extensions: []string{"txt"}, Target: "T", Conflict: rules.PolicyOverwrite}})
	e.write(t, "T/a.txt", "old")
	e.write(t, "a.txt", "new")
	before := snapshot(t, e.root)

	rep := e.run(t, RunOptions{}, 1)
	assert.Equal(t, "new", e.read(t, "T/a.txt"))

	s, err := e.engine.Session(rep.SessionID)
	require.NoError(t, err)
	require.Len(t, s.Entries, 1)
	assert.True(t, s.Entries[0].Prior.DstExisted)
	assert.Equal(t, checksum.Sum([]byte("old")), s.Entries[0].Prior.DisplacedHash)

	_, err = e.engine.Undo(context.Background(), rep.SessionID)
	require.NoError(t, err)
	assert.Equal(t, before, snapshot(t, e.root))
}

func TestUndoOlderSessionRefusedAfterOverwrite(t *testing.T) {
	e := newEnv(t, []rules.Config{{Name: "t", Extensions: []string{"txt"}, Target: "T", Conflict: rules.PolicyOverwrite}})
	e.write(t, "a.txt", "v1")
	original := snapshot(t, e.root)
	first := e.run(t, RunOptions{}, 1)
	e.write(t, "a.txt", "v2")
	second := e.run(t, RunOptions{}, 1)
	require.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, "v2", e.read(t, "T/a.txt"))
	afterSecond := snapshot(t, e.root)

	_, err := e.engine.Undo(context.Background(), first.SessionID)
	require.ErrorIs(t, err, apperr.ErrConflictUnresolved)
	assert.Equal(t, afterSecond, snapshot(t, e.root), "refused undo moves nothing")

	// Newest first restores the original tree.
	_, err = e.engine.Undo(context.Background(), second.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "v1", e.read(t, "T/a.txt"))
	_, err = e.engine.Undo(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, original, snapshot(t, e.root))
}

func TestUndoRestoresOriginalTree(t *testing.T) {
	e := newEnv(t, []rules.Config{
		{Name: "pics", Type: "image", Target: "Pictures/${year}"},
		txtRule,
	})
	e.write(t, "a.jpg", jpegBytes)
	e.write(t, "x.txt", "same")
	e.write(t, "y.txt", "same")
	e.write(t, "z.txt", "other")
	e.write(t, "notes.md", "# unmatched")
	before := snapshot(t, e.root)

	rep := e.run(t, RunOptions{}, 1)
	assert.Equal(t, 4, rep.Committed)
	assert.Equal(t, 1, rep.Unmatched)

	res, err := e.engine.Undo(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Reverted)
	assert.Equal(t, before, snapshot(t, e.root))
	assert.False(t, e.fs.SameFile(filepath.Join(e.root, "x.txt"), filepath.Join(e.root, "y.txt")))

	// Undo is idempotent.
	res, err = e.engine.Undo(context.Background(), rep.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Reverted)
	assert.Equal(t, before, snapshot(t, e.root))

	// After undo the dedup index no longer points at the removed canonical.
	_, ok, err := e.index.Lookup(context.Background(), checksum.Sum([]byte("same")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDryRunChangesNothing(t *testing.T) {
	e := newEnv(t, []rules.Config{txtRule})
	e.write(t, "a/x.txt", "one")
	e.write(t, "b/x.txt", "two")
	e.write(t, "c/x.txt", "one")
	before := snapshot(t, e.root)

	rep := e.run(t, RunOptions{DryRun: true}, 0)

	assert.Equal(t, before, snapshot(t, e.root))
	assert.True(t, rep.DryRun)
	assert.Equal(t, 3, rep.Planned)
	assert.Equal(t, []models.ActionKind{models.ActionMove, models.ActionMove, models.ActionHardLink}, kinds(rep))
	assert.Equal(t, filepath.Join(e.root, "T", "x (1).txt"), rep.Actions[1].Destination)
	assert.Equal(t, filepath.Join(e.root, "T", "x (2).txt"), rep.Actions[2].Destination)
	assert.Equal(t, filepath.Join(e.root, "T", "x.txt"), rep.Actions[2].Canonical)
	assert.Equal(t, int64(3), rep.BytesSaved)
	assert.Equal(t, 2, rep.Conflicts[rules.PolicyRename])

	sessions, err := e.engine.Sessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestUnmatchedAndAlreadyInPlace(t *testing.T) {
	e := newEnv(t, []rules.Config{
		{Name: "keep", Extensions: []string{"md"}, Target: "${filename}"},
		{Name: "ghost", Extensions: []string{"log"}, Target: "logs/${author}"},
	})
	e.write(t, "keep.md", "k")
	e.write(t, "other.bin", "\x00\x01")
	e.write(t, "app.log", "line")

	rep := e.run(t, RunOptions{}, 1)

	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 2, rep.Unmatched)
	require.Len(t, rep.Diagnostics, 1)
	assert.Contains(t, rep.Diagnostics[0].Reason, "ghost")
	assert.True(t, e.exists("keep.md"))
	assert.True(t, e.exists("app.log"))
}

func TestFailureIsIsolated(t *testing.T) {
	e := newEnv(t, []rules.Config{txtRule})
	good := e.write(t, "good.txt", "fine")
	ghost := filepath.Join(e.root, "ghost.txt")
	source := slices.Values([]scan.Entry{
		{Path: ghost, Size: 1, ModTime: when},
		scan.Stat(good),
		{Path: filepath.Join(e.root, "broken.txt"), Err: errors.New("permission denied")},
	})

	rep, err := e.engine.Run(context.Background(), source, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, 1, rep.Committed)
	assert.Equal(t, "fine", e.read(t, "T/good.txt"))
}

func TestJournalWriteErrorAbortsRun(t *testing.T) {
	e := newEnv(t, []rules.Config{txtRule})
	e.write(t, "a.txt", "a")
	e.write(t, "b.txt", "b")
	e.engine.createJournal = func() (*journal.Journal, error) {
		j, err := journal.Create(e.journals.Path())
		if err != nil {
			return nil, err
		}
		_ = j.Close()
		return j, nil
	}

	rep, err := e.engine.Run(context.Background(), scan.Walk(e.root, scan.Options{MaxDepth: 1}), RunOptions{})
	require.Error(t, err)
	assert.True(t, apperr.IsFatal(err))
	assert.Equal(t, 0, rep.Committed)
	assert.True(t, e.exists("a.txt"), "no mutation without a durable entry")
	assert.True(t, e.exists("b.txt"))
}

func TestStaleIndexRecordNeverLinked(t *testing.T) {
	for _, paranoid := range []bool{false, true} {
		t.Run(fmt.Sprintf("paranoid=%v", paranoid), func(t *testing.T) {
			e := newEnv(t, []rules.Config{txtRule}, WithParanoid(paranoid))
			impostor := e.write(t, "elsewhere/z.bin", "AAAA")
			info, err := os.Stat(impostor)
			require.NoError(t, err)
			y := e.write(t, "y.txt", "BBBB")
			hash := checksum.Sum([]byte("BBBB"))
			// Pretend z.bin still has y.txt's hash.
			e.index.Register(context.Background(), dedup.Record{
				Hash: hash, Path: impostor, Size: info.Size(), ModTime: info.ModTime(),
			})

			rep := e.run(t, RunOptions{}, 1)
			require.Len(t, rep.Actions, 1)
			assert.Equal(t, models.ActionMove, rep.Actions[0].Kind)
			assert.Equal(t, "BBBB", e.read(t, "T/y.txt"))
			assert.Equal(t, "AAAA", e.read(t, "elsewhere/z.bin"))
			assert.NoFileExists(t, y)

			rec, ok, err := e.index.Lookup(context.Background(), hash)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, filepath.Join(e.root, "T", "y.txt"), rec.Path, "stale record replaced")
		})
	}
}

func TestEditedCanonicalIsNotLinked(t *testing.T) {
	for _, paranoid := range []bool{false, true} {
		t.Run(fmt.Sprintf("paranoid=%v", paranoid), func(t *testing.T) {
			e := newEnv(t, []rules.Config{txtRule}, WithParanoid(paranoid))
			e.write(t, "a.txt", "original")
			rep := e.run(t, RunOptions{}, 1)
			require.Equal(t, []models.ActionKind{models.ActionMove}, kinds(rep))

			// Same size and mtime: only the content moved.
			e.write(t, "T/a.txt", "edited!!")
			e.write(t, "b.txt", "original")

			rep = e.run(t, RunOptions{}, 1)
			require.Equal(t, []models.ActionKind{models.ActionMove}, kinds(rep))
			assert.Equal(t, "original", e.read(t, "T/b.txt"))
			assert.Equal(t, "edited!!", e.read(t, "T/a.txt"))
			assert.False(t, e.fs.SameFile(filepath.Join(e.root, "T", "a.txt"), filepath.Join(e.root, "T", "b.txt")))
		})
	}
}

func TestSymlinkedTargetOutsideRootNotFollowed(t *testing.T) {
	e := newEnv(t, []rules.Config{txtRule})
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(e.root, "T")))
	e.write(t, "a.txt", "a")

	rep := e.run(t, RunOptions{}, 1)
	assert.Equal(t, 0, rep.Committed)
	assert.Equal(t, 1, rep.Unmatched)
	assert.Equal(t, "a", e.read(t, "a.txt"))
	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDedupDisabled(t *testing.T) {
	e := newEnv(t, []rules.Config{txtRule}, WithDedup(false))
	e.write(t, "x.txt", "same")
	e.write(t, "y.txt", "same")

	rep := e.run(t, RunOptions{}, 1)
	assert.Equal(t, []models.ActionKind{models.ActionMove, models.ActionMove}, kinds(rep))
	assert.False(t, e.fs.SameFile(filepath.Join(e.root, "T", "x.txt"), filepath.Join(e.root, "T", "y.txt")))
}

func TestCancelledRunMutatesNothing(t *testing.T) {
	e := newEnv(t, []rules.Config{txtRule})
	e.write(t, "a.txt", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.engine.Run(ctx, scan.Walk(e.root, scan.Options{MaxDepth: 1}), RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, e.exists("a.txt"))
}

func TestEventsCoverEveryCandidate(t *testing.T) {
	e := newEnv(t, []rules.Config{txtRule})
	e.write(t, "a.txt", "a")
	e.write(t, "b.txt", "a")
	e.write(t, "c.md", "c")

	var (
		mu     sync.Mutex
		events []Event
	)
	e.engine.Subscribe(ObserverFunc(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	rep := e.run(t, RunOptions{}, 1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 4)
	counts := map[EventType]int{}
	for _, ev := range events {
		counts[ev.Type]++
	}
	assert.Equal(t, 2, counts[EventActionTaken])
	assert.Equal(t, 1, counts[EventCandidateProcessed])
	last := events[len(events)-1]
	assert.Equal(t, EventSummary, last.Type)
	assert.Equal(t, rep.SessionID, last.SessionID)
	assert.Equal(t, 3, last.Summary.Scanned)
}

func TestRecoverThroughEngine(t *testing.T) {
	e := newEnv(t, []rules.Config{txtRule})
	src := e.write(t, "a.txt", "a")

	j, err := e.journals.Create()
	require.NoError(t, err)
	sum, _ := checksum.SumFile(src)
	_, err = j.Begin(journal.Entry{Op: journal.OpMove, Src: src, Dst: filepath.Join(e.root, "T", "a.txt"), Prior: journal.PriorState{SrcHash: sum}})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	res, err := e.engine.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.RolledBack)
	assert.True(t, e.exists("a.txt"))
}
