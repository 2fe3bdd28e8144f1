package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdftools/internal/apperr"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) *FSStore {
	t.Helper()
	root := filepath.Join(t.TempDir(), "uploads")
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	s, err := NewFSStore(root, opts...)
	require.NoError(t, err)
	require.NoError(t, s.EnsureRoot())
	return s
}

func makeDirAged(t *testing.T, root, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.pdf"), []byte("%PDF"), 0o644))
	mtime := fixedNow.Add(-age)
	require.NoError(t, os.Chtimes(dir, mtime, mtime))
	return dir
}

func TestEnsureRootIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "b")
	s, err := NewFSStore(root)
	require.NoError(t, err)

	require.NoError(t, s.EnsureRoot())
	require.NoError(t, s.EnsureRoot())

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureRootOnFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	s, err := NewFSStore(path)
	require.NoError(t, err)
	err = s.EnsureRoot()
	require.Error(t, err)
	assert.Equal(t, apperr.KindIO, apperr.KindOf(err))
}

func TestNewFSStoreEmptyRoot(t *testing.T) {
	_, err := NewFSStore("  ")
	require.Error(t, err)
}

func TestCreateWorkspaceDistinct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, err := s.CreateWorkspace(ctx)
			assert.NoError(t, err)
			mu.Lock()
			seen[ws.Dir] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 16)
	for dir := range seen {
		assert.Equal(t, s.Root(), filepath.Dir(dir))
	}
}

func TestCreateWorkspaceCancelled(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.CreateWorkspace(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteFileOverwritesAndSanitizes(t *testing.T) {
	s := newTestStore(t)
	ws, err := s.CreateWorkspace(context.Background())
	require.NoError(t, err)

	p1, err := s.WriteFile(ws, "../../etc/report.pdf", strings.NewReader("first"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir, "report.pdf"), p1)

	p2, err := s.WriteFile(ws, "report.pdf", strings.NewReader("second"))
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	got, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	_, err = s.WriteFile(ws, "..", strings.NewReader("x"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"scan.pdf", "scan.pdf", false},
		{"dir/scan.pdf", "scan.pdf", false},
		{`C:\Users\me\scan.pdf`, "scan.pdf", false},
		{"", "", true},
		{"..", "", true},
		{"/", "", true},
	}
	for _, tt := range tests {
		got, err := SanitizeName(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestRemoveWorkspace(t *testing.T) {
	s := newTestStore(t)
	ws, err := s.CreateWorkspace(context.Background())
	require.NoError(t, err)
	_, err = s.WriteFile(ws, "a.pdf", strings.NewReader("x"))
	require.NoError(t, err)

	s.Remove(ws)

	_, err = os.Stat(ws.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestSweepAgeThreshold(t *testing.T) {
	s := newTestStore(t)
	maxAge := 30 * time.Minute

	stale := makeDirAged(t, s.Root(), "stale", maxAge+time.Second)
	fresh := makeDirAged(t, s.Root(), "fresh", maxAge-time.Second)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "stray.txt"), []byte("x"), 0o644))
	old := fixedNow.Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.Root(), "stray.txt"), old, old))

	report, err := s.Sweep(context.Background(), maxAge)
	require.NoError(t, err)

	assert.Equal(t, SweepReport{Scanned: 2, Deleted: 1, Kept: 1}, report)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.FileExists(t, filepath.Join(s.Root(), "stray.txt"))
}

func TestSweepPartialFailure(t *testing.T) {
	var root string
	s := newTestStore(t, WithRemoveAll(func(path string) error {
		if filepath.Base(path) == "locked" {
			return errors.New("permission denied")
		}
		return os.RemoveAll(path)
	}))
	root = s.Root()

	locked := makeDirAged(t, root, "locked", time.Hour)
	other := makeDirAged(t, root, "other", time.Hour)

	report, err := s.Sweep(context.Background(), 30*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.Failed)
	assert.DirExists(t, locked)
	assert.NoDirExists(t, other)
}

func TestSweepIdempotent(t *testing.T) {
	s := newTestStore(t)
	makeDirAged(t, s.Root(), "stale", time.Hour)
	fresh := makeDirAged(t, s.Root(), "fresh", time.Minute)

	first, err := s.Sweep(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Deleted)

	second, err := s.Sweep(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 1, Kept: 1}, second)
	assert.DirExists(t, fresh)
}

func TestSweepMissingRoot(t *testing.T) {
	s, err := NewFSStore(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)

	report, err := s.Sweep(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)
}

func TestSweepRejectsNonPositiveAge(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Sweep(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
