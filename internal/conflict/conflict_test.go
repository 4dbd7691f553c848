package conflict

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ordo/internal/apperr"
	"github.com/starford/ordo/internal/rules"
	"github.com/starford/ordo/internal/storage"
)

type planned map[string]bool

func (p planned) Occupied(path string) bool { return p[path] }

func newResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	return New(fs), fs.Root()
}

func touch(t *testing.T, p string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
}

func TestRenamed(t *testing.T) {
	cases := map[string]string{
		"/a/b.jpg":          "/a/b (3).jpg",
		"/a/archive.tar.gz": "/a/archive.tar (3).gz",
		"/a/Makefile":       "/a/Makefile (3)",
		"/a/.bashrc":        "/a/.bashrc (3)",
	}
	for in, want := range cases {
		assert.Equal(t, filepath.FromSlash(want), Renamed(filepath.FromSlash(in), 3), in)
	}
}

func TestResolveFreeDestination(t *testing.T) {
	r, root := newResolver(t)
	dst := filepath.Join(root, "a.txt")
	out, err := r.Resolve(dst, rules.PolicyRename, nil)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Destination: dst}, out)
}

func TestResolveRenameNeverOverwrites(t *testing.T) {
	r, root := newResolver(t)
	dst := filepath.Join(root, "a.txt")
	touch(t, dst)
	touch(t, Renamed(dst, 1))

	out, err := r.Resolve(dst, rules.PolicyRename, planned{Renamed(dst, 2): true})
	require.NoError(t, err)
	assert.True(t, out.Conflict)
	assert.Equal(t, Renamed(dst, 3), out.Destination)
}

func TestResolveRenameExhausted(t *testing.T) {
	r, root := newResolver(t)
	dst := filepath.Join(root, "a.txt")
	all := planned{dst: true}
	for n := 1; n <= MaxRenameAttempts; n++ {
		all[Renamed(dst, n)] = true
	}
	_, err := r.Resolve(dst, rules.PolicyRename, all)
	assert.True(t, errors.Is(err, apperr.ErrConflictUnresolved))
}

func TestResolveSkipAndOverwrite(t *testing.T) {
	r, root := newResolver(t)
	dst := filepath.Join(root, "a.txt")
	touch(t, dst)

	out, err := r.Resolve(dst, rules.PolicySkip, nil)
	require.NoError(t, err)
	assert.True(t, out.Skip)

	out, err = r.Resolve(dst, rules.PolicyOverwrite, nil)
	require.NoError(t, err)
	assert.True(t, out.Displace)
	assert.Equal(t, dst, out.Destination)
}

func TestBackupPathUnique(t *testing.T) {
	a := BackupPath("/state/displaced/s", "/root/x.txt")
	b := BackupPath("/state/displaced/s", "/root/x.txt")
	assert.NotEqual(t, a, b)
	assert.Equal(t, filepath.FromSlash("/state/displaced/s"), filepath.Dir(a))
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()
	var (
		wg     sync.WaitGroup
		inside atomic.Int32
		peak   atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("same")
			n := inside.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked by a")
	}
	unlockA()
}
