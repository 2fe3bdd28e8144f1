// Package artifact owns the on-disk layout of conversion workspaces: one
// uuid-named directory per request under a single root, plus the age-based
// sweep that removes stale ones.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftools/internal/apperr"
)

// Workspace is a request-private directory under the store root.
type Workspace struct {
	ID  string
	Dir string
}

// SweepReport summarises one pass over the store root.
type SweepReport struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
	Kept    int `json:"kept"`
}

// Store is the storage capability handed to conversion operations.
type Store interface {
	EnsureRoot() error
	CreateWorkspace(ctx context.Context) (Workspace, error)
	WriteFile(ws Workspace, name string, r io.Reader) (string, error)
	Path(ws Workspace, name string) (string, error)
	Remove(ws Workspace)
	Sweep(ctx context.Context, maxAge time.Duration) (SweepReport, error)
	Root() string
}

// FSStore is a directory-backed Store.
type FSStore struct {
	root      string
	now       func() time.Time
	removeAll func(string) error
	newID     func() string
}

var _ Store = (*FSStore)(nil)

// Option customises an FSStore.
type Option func(*FSStore)

// WithClock overrides the time source used for age computation.
func WithClock(now func() time.Time) Option {
	return func(s *FSStore) { s.now = now }
}

// WithRemoveAll overrides recursive directory removal.
func WithRemoveAll(fn func(string) error) Option {
	return func(s *FSStore) { s.removeAll = fn }
}

// NewFSStore creates a store rooted at root. The directory is not created
// until EnsureRoot is called.
func NewFSStore(root string, opts ...Option) (*FSStore, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("artifact store root is empty")
	}
	s := &FSStore{
		root:      filepath.Clean(trimmed),
		now:       time.Now,
		removeAll: os.RemoveAll,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the store root directory.
func (s *FSStore) Root() string { return s.root }

// EnsureRoot creates the root directory if it does not exist.
func (s *FSStore) EnsureRoot() error {
	info, err := os.Stat(s.root)
	switch {
	case err == nil && !info.IsDir():
		return apperr.IO("store", fmt.Sprintf("store root %q is not a directory", s.root), nil)
	case err == nil:
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return apperr.IO("store", "stat store root", err)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return apperr.IO("store", "create store root", err)
	}
	log.Info().Str("root", s.root).Msg("created artifact store root")
	return nil
}

// CreateWorkspace makes a fresh uuid-named directory under the root.
func (s *FSStore) CreateWorkspace(ctx context.Context) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	id := s.newID()
	dir := filepath.Join(s.root, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return Workspace{}, apperr.IO("store", "create workspace", err)
	}
	return Workspace{ID: id, Dir: dir}, nil
}

// WriteFile copies r into the workspace under the sanitised name, replacing
// any existing file, and returns the written path.
func (s *FSStore) WriteFile(ws Workspace, name string, r io.Reader) (string, error) {
	path, err := s.Path(ws, name)
	if err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", apperr.IO("store", "create file", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", apperr.IO("store", "write file", err)
	}
	if err := f.Close(); err != nil {
		return "", apperr.IO("store", "close file", err)
	}
	return path, nil
}

// Path resolves name inside ws.
func (s *FSStore) Path(ws Workspace, name string) (string, error) {
	if err := validateName(ws.ID); err != nil {
		return "", apperr.Validation("store", "invalid workspace id")
	}
	clean, err := SanitizeName(name)
	if err != nil {
		return "", apperr.Validation("store", err.Error())
	}
	return filepath.Join(s.root, ws.ID, clean), nil
}

// Remove deletes a workspace, logging failures instead of returning them.
func (s *FSStore) Remove(ws Workspace) {
	if validateName(ws.ID) != nil {
		return
	}
	if err := s.removeAll(filepath.Join(s.root, ws.ID)); err != nil {
		log.Warn().Err(err).Str("workspace", ws.ID).Msg("failed to remove workspace")
	}
}

// Sweep removes root children that are directories older than maxAge.
// Per-entry failures are logged and counted; they never abort the pass.
func (s *FSStore) Sweep(ctx context.Context, maxAge time.Duration) (SweepReport, error) {
	report := SweepReport{}
	if maxAge <= 0 {
		return report, apperr.Validation("sweep", "max age must be positive")
	}
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return report, nil
	}
	if err != nil {
		return report, apperr.IO("sweep", "read store root", err)
	}

	now := s.now()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}
		report.Scanned++

		info, err := entry.Info()
		if err != nil {
			// vanished between ReadDir and Info
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			log.Warn().Err(err).Str("workspace", entry.Name()).Msg("stat workspace failed")
			report.Failed++
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			report.Kept++
			continue
		}

		path := filepath.Join(s.root, entry.Name())
		if err := s.removeAll(path); err != nil {
			log.Warn().Err(err).Str("workspace", entry.Name()).Msg("failed to remove stale workspace")
			report.Failed++
			continue
		}
		log.Debug().Str("workspace", entry.Name()).Dur("age", now.Sub(info.ModTime())).Msg("removed stale workspace")
		report.Deleted++
	}
	return report, nil
}

// SanitizeName reduces an uploaded filename to a safe base name.
func SanitizeName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if err := validateName(base); err != nil {
		return "", err
	}
	return base, nil
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("name is empty")
	}
	if trimmed == "." || trimmed == ".." || trimmed == "/" {
		return fmt.Errorf("name %q is invalid", name)
	}
	if strings.ContainsAny(trimmed, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", name)
	}
	return nil
}
