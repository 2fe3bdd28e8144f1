// Package convert runs the conversion pipeline: validate input, persist
// uploads into a fresh workspace, invoke the document library, persist the
// result, and hand back the artifact.
package convert

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"

	"github.com/local/pdftools/internal/apperr"
	"github.com/local/pdftools/internal/artifact"
	"github.com/local/pdftools/internal/filetype"
	"github.com/local/pdftools/internal/metrics"
	"github.com/local/pdftools/internal/pdfops"
	"github.com/local/pdftools/internal/store"
)

// Operation names a conversion.
type Operation string

const (
	OpMerge     Operation = "merge"
	OpCompress  Operation = "compress"
	OpSplit     Operation = "split"
	OpRasterize Operation = "rasterize"
	OpAssemble  Operation = "image-assemble"
)

// Artifact is the downloadable result of a conversion.
type Artifact struct {
	ConversionID string
	Operation    Operation
	Name         string
	Path         string
	ContentType  string
	Size         int64
	Digest       string
	ArchiveURL   string
}

// Recorder persists conversion lifecycle records.
type Recorder interface {
	Begin(ctx context.Context, id, operation string, inputs []string) error
	Finish(ctx context.Context, id string, out store.Outcome) error
	Fail(ctx context.Context, id, kind, message string) error
}

// Archiver mirrors an artifact to long-term storage and returns its URL.
type Archiver interface {
	Archive(ctx context.Context, operation, id, localPath, contentType string) (string, error)
}

// Options configures a Service. Zero limits fall back to defaults.
type Options struct {
	Store         artifact.Store
	Renderer      pdfops.Renderer
	Detector      *filetype.Detector
	Recorder      Recorder
	Archiver      Archiver
	MaxConcurrent int
	RasterDPI     int
	JPEGQuality   int
	MinDPI        int
	MaxDPI        int
}

// Service executes conversions with bounded concurrency.
type Service struct {
	store    artifact.Store
	renderer pdfops.Renderer
	detector *filetype.Detector
	recorder Recorder
	archiver Archiver
	sem      chan struct{}

	rasterDPI   int
	jpegQuality int
	minDPI      int
	maxDPI      int
}

// New creates a Service.
func New(opts Options) *Service {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.RasterDPI <= 0 {
		opts.RasterDPI = 150
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 75
	}
	if opts.MinDPI <= 0 {
		opts.MinDPI = 1
	}
	if opts.MaxDPI < opts.MinDPI {
		opts.MaxDPI = 600
	}
	if opts.Detector == nil {
		opts.Detector = filetype.New()
	}
	if opts.Recorder == nil {
		opts.Recorder = store.Nop{}
	}
	return &Service{
		store:       opts.Store,
		renderer:    opts.Renderer,
		detector:    opts.Detector,
		recorder:    opts.Recorder,
		archiver:    opts.Archiver,
		sem:         make(chan struct{}, opts.MaxConcurrent),
		rasterDPI:   opts.RasterDPI,
		jpegQuality: opts.JPEGQuality,
		minDPI:      opts.MinDPI,
		maxDPI:      opts.MaxDPI,
	}
}

// DPIRange returns the accepted compress quality bounds.
func (s *Service) DPIRange() (int, int) { return s.minDPI, s.maxDPI }

type stepFunc func(ctx context.Context, ws artifact.Workspace, lg zerolog.Logger) (string, error)

// run is the shared pipeline. step returns the path of the result artifact
// inside ws.
func (s *Service) run(ctx context.Context, op Operation, inputs []string, step stepFunc) (*Artifact, error) {
	start := time.Now()

	if err := s.acquire(ctx); err != nil {
		metrics.ObserveConversion(string(op), "cancelled", time.Since(start))
		return nil, err
	}
	defer s.release()

	ws, err := s.store.CreateWorkspace(ctx)
	if err != nil {
		metrics.ObserveConversion(string(op), string(apperr.KindOf(err)), time.Since(start))
		return nil, err
	}

	lg := log.With().Str("conversion_id", ws.ID).Str("operation", string(op)).Logger()
	lg.Info().Strs("inputs", inputs).Msg("conversion started")
	if err := s.recorder.Begin(ctx, ws.ID, string(op), inputs); err != nil {
		lg.Warn().Err(err).Msg("record begin failed")
	}

	out, err := step(ctx, ws, lg)
	if err != nil {
		s.fail(ctx, op, ws, lg, err, start)
		return nil, err
	}

	art, err := s.describe(op, ws, out)
	if err != nil {
		s.fail(ctx, op, ws, lg, err, start)
		return nil, err
	}

	if s.archiver != nil {
		url, err := s.archiver.Archive(ctx, string(op), ws.ID, art.Path, art.ContentType)
		if err != nil {
			lg.Warn().Err(err).Msg("archive upload failed")
			metrics.IncArchive("error")
		} else {
			art.ArchiveURL = url
			metrics.IncArchive("success")
		}
	}

	if err := s.recorder.Finish(ctx, ws.ID, store.Outcome{
		Artifact:   art.Name,
		Size:       art.Size,
		Digest:     art.Digest,
		ArchiveURL: art.ArchiveURL,
	}); err != nil {
		lg.Warn().Err(err).Msg("record finish failed")
	}

	dur := time.Since(start)
	metrics.ObserveConversion(string(op), "success", dur)
	lg.Info().
		Str("artifact", art.Name).
		Int64("size", art.Size).
		Dur("took", dur).
		Msg("conversion completed")
	return art, nil
}

func (s *Service) fail(ctx context.Context, op Operation, ws artifact.Workspace, lg zerolog.Logger, err error, start time.Time) {
	kind := apperr.KindOf(err)
	ev := lg.Error()
	if kind == apperr.KindValidation {
		ev = lg.Info()
	}
	ev.Err(err).Str("kind", string(kind)).Msg("conversion failed")

	s.store.Remove(ws)
	if rerr := s.recorder.Fail(ctx, ws.ID, string(kind), apperr.Message(err)); rerr != nil {
		lg.Warn().Err(rerr).Msg("record fail failed")
	}
	metrics.ObserveConversion(string(op), string(kind), time.Since(start))
}

func (s *Service) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) release() { <-s.sem }

func (s *Service) describe(op Operation, ws artifact.Workspace, path string) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.IO(string(op), "result artifact missing", err)
	}
	digest, err := fileDigest(path)
	if err != nil {
		return nil, apperr.IO(string(op), "digest artifact", err)
	}
	return &Artifact{
		ConversionID: ws.ID,
		Operation:    op,
		Name:         filepath.Base(path),
		Path:         path,
		ContentType:  contentType(path),
		Size:         info.Size(),
		Digest:       digest,
	}, nil
}

// fileDigest returns the hex BLAKE2b-256 of the file at path.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// persist writes an upload into ws under name and checks that it sniffs as
// want.
func (s *Service) persist(op Operation, ws artifact.Workspace, u Upload, name string, want filetype.Class) (string, error) {
	rc, err := u.Open()
	if err != nil {
		return "", apperr.IO(string(op), fmt.Sprintf("read upload %q", u.Filename), err)
	}
	defer rc.Close()

	path, err := s.store.WriteFile(ws, name, rc)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", apperr.IO(string(op), "stat upload", err)
	}
	if info.Size() == 0 {
		return "", apperr.Validationf(string(op), "upload %q is empty", u.Filename)
	}
	metrics.AddUploadBytes(string(op), info.Size())

	ft, err := s.detector.Detect(path)
	if err != nil {
		return "", apperr.IO(string(op), "detect upload type", err)
	}
	switch {
	case want == filetype.ClassPDF && ft.IsPDF():
		if err := pdfops.Validate(path); err != nil {
			return "", fmt.Errorf("upload %q: %w", u.Filename, err)
		}
	case want == filetype.ClassImage && ft.IsImage():
		// the PDF builder keys off the extension
		if !strings.EqualFold(filepath.Ext(path), ft.Extension) {
			renamed := path + ft.Extension
			if err := os.Rename(path, renamed); err != nil {
				return "", apperr.IO(string(op), "rename upload", err)
			}
			path = renamed
		}
	default:
		return "", apperr.Validationf(string(op), "upload %q is %s, expected %s", u.Filename, ft.MIMEType, want)
	}
	return path, nil
}
