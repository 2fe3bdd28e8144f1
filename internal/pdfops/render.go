package pdfops

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftools/internal/apperr"
)

// PageFunc receives each rendered page, 1-based.
type PageFunc func(page int, img image.Image) error

// Renderer rasterizes every page of a PDF at a given DPI.
type Renderer interface {
	Name() string
	// Available reports an environment error when the backend cannot run.
	Available() error
	Render(ctx context.Context, pdfPath string, dpi int, fn PageFunc) (int, error)
}

// NewRenderer returns the backend named by backend ("fitz" or "mutool").
func NewRenderer(backend, mutoolPath string) (Renderer, error) {
	switch backend {
	case "", "fitz":
		return &FitzRenderer{}, nil
	case "mutool":
		return NewMutoolRenderer(mutoolPath), nil
	default:
		return nil, fmt.Errorf("unknown raster backend %q", backend)
	}
}

// FitzRenderer uses go-fitz (embedded MuPDF); no external tools needed.
type FitzRenderer struct{}

func (f *FitzRenderer) Name() string { return "fitz" }

// Available always returns nil since go-fitz is embedded
func (f *FitzRenderer) Available() error { return nil }

func (f *FitzRenderer) Render(ctx context.Context, pdfPath string, dpi int, fn PageFunc) (int, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return 0, apperr.Processing("render", "failed to open PDF", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		// go-fitz uses 0-based indexing
		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return i, apperr.Processing("render", fmt.Sprintf("failed to render page %d", i+1), err)
		}
		if err := fn(i+1, img); err != nil {
			return i, err
		}
	}
	return n, nil
}

// MutoolRenderer shells out to `mutool draw`, one PNG per page.
type MutoolRenderer struct {
	path     string
	lookPath func(string) (string, error)
}

// NewMutoolRenderer creates a renderer for the binary at path.
func NewMutoolRenderer(path string) *MutoolRenderer {
	if path == "" {
		path = "mutool"
	}
	return &MutoolRenderer{path: path, lookPath: exec.LookPath}
}

func (m *MutoolRenderer) Name() string { return "mutool" }

// Available checks if the mutool binary can be found.
func (m *MutoolRenderer) Available() error {
	if _, err := m.lookPath(m.path); err != nil {
		return apperr.Environment("render", "mutool binary not found", err)
	}
	return nil
}

func (m *MutoolRenderer) Render(ctx context.Context, pdfPath string, dpi int, fn PageFunc) (int, error) {
	if err := m.Available(); err != nil {
		return 0, err
	}
	n, err := PageCount(pdfPath)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(pdfPath)
	for page := 1; page <= n; page++ {
		img, err := m.renderPage(ctx, pdfPath, dir, page, dpi)
		if err != nil {
			return page - 1, err
		}
		if err := fn(page, img); err != nil {
			return page - 1, err
		}
	}
	return n, nil
}

func (m *MutoolRenderer) renderPage(ctx context.Context, pdfPath, dir string, page, dpi int) (image.Image, error) {
	out := filepath.Join(dir, fmt.Sprintf(".mutool_page_%d.png", page))
	defer os.Remove(out)

	cmd := exec.CommandContext(ctx, m.path, "draw", "-q",
		"-r", strconv.Itoa(dpi),
		"-F", "png",
		"-o", out,
		pdfPath, strconv.Itoa(page))
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, apperr.Environment("render", "mutool could not be started", err)
		}
		log.Warn().Err(err).Int("page", page).Str("output", string(output)).Msg("mutool draw failed")
		return nil, apperr.Processing("render", fmt.Sprintf("failed to render page %d", page), err)
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, apperr.IO("render", "open rendered page", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, apperr.Processing("render", fmt.Sprintf("decode rendered page %d", page), err)
	}
	return img, nil
}
