package convert

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/local/pdftools/internal/apperr"
	"github.com/local/pdftools/internal/artifact"
	"github.com/local/pdftools/internal/filetype"
	"github.com/local/pdftools/internal/pdfops"
)

// Result file names, one per operation.
const (
	MergedName     = "merged.pdf"
	CompressedName = "compressed.pdf"
	SplitName      = "splitted.pdf"
	ImagesZipName  = "converted_images.zip"
	AssembledName  = "converted.pdf"
)

// Upload is one uploaded file; Open is called once.
type Upload struct {
	Filename string
	Open     func() (io.ReadCloser, error)
}

// Merge concatenates pdfs in upload order into merged.pdf.
func (s *Service) Merge(ctx context.Context, pdfs []Upload) (*Artifact, error) {
	if len(pdfs) == 0 {
		return nil, apperr.Validation(string(OpMerge), "at least one PDF is required")
	}
	return s.run(ctx, OpMerge, filenames(pdfs), func(ctx context.Context, ws artifact.Workspace, lg zerolog.Logger) (string, error) {
		paths := make([]string, 0, len(pdfs))
		for i, u := range pdfs {
			p, err := s.persist(OpMerge, ws, u, inputName(i, u.Filename, ".pdf"), filetype.ClassPDF)
			if err != nil {
				return "", err
			}
			paths = append(paths, p)
		}
		out := filepath.Join(ws.Dir, MergedName)
		if err := pdfops.Merge(ctx, paths, out); err != nil {
			return "", err
		}
		return out, nil
	})
}

// Compress re-renders every page of pdf at dpi and rebuilds the document
// from the JPEG images.
func (s *Service) Compress(ctx context.Context, pdf Upload, dpi int) (*Artifact, error) {
	if dpi < s.minDPI || dpi > s.maxDPI {
		return nil, apperr.Validationf(string(OpCompress), "quality must be between %d and %d dpi, got %d", s.minDPI, s.maxDPI, dpi)
	}
	if err := s.rendererReady(OpCompress); err != nil {
		return nil, err
	}
	return s.run(ctx, OpCompress, filenames([]Upload{pdf}), func(ctx context.Context, ws artifact.Workspace, lg zerolog.Logger) (string, error) {
		in, err := s.persist(OpCompress, ws, pdf, inputName(0, pdf.Filename, ".pdf"), filetype.ClassPDF)
		if err != nil {
			return "", err
		}
		out := filepath.Join(ws.Dir, CompressedName)
		n, err := pdfops.Compress(ctx, s.renderer, in, out, ws.Dir, dpi, s.jpegQuality)
		if err != nil {
			return "", err
		}
		lg.Debug().Int("pages", n).Int("dpi", dpi).Msg("compressed pdf")
		return out, nil
	})
}

// Split extracts pages start..end (1-based, inclusive).
func (s *Service) Split(ctx context.Context, pdf Upload, start, end int) (*Artifact, error) {
	if start < 1 {
		return nil, apperr.Validationf(string(OpSplit), "start page must be at least 1, got %d", start)
	}
	if end < start {
		return nil, apperr.Validationf(string(OpSplit), "end page %d is before start page %d", end, start)
	}
	return s.run(ctx, OpSplit, filenames([]Upload{pdf}), func(ctx context.Context, ws artifact.Workspace, lg zerolog.Logger) (string, error) {
		in, err := s.persist(OpSplit, ws, pdf, inputName(0, pdf.Filename, ".pdf"), filetype.ClassPDF)
		if err != nil {
			return "", err
		}
		out := filepath.Join(ws.Dir, SplitName)
		if err := pdfops.Split(ctx, in, out, start, end); err != nil {
			return "", err
		}
		return out, nil
	})
}

// Rasterize renders every page to page_<n>.jpg and zips them.
func (s *Service) Rasterize(ctx context.Context, pdf Upload) (*Artifact, error) {
	if err := s.rendererReady(OpRasterize); err != nil {
		return nil, err
	}
	return s.run(ctx, OpRasterize, filenames([]Upload{pdf}), func(ctx context.Context, ws artifact.Workspace, lg zerolog.Logger) (string, error) {
		in, err := s.persist(OpRasterize, ws, pdf, inputName(0, pdf.Filename, ".pdf"), filetype.ClassPDF)
		if err != nil {
			return "", err
		}
		pages, err := pdfops.RasterizeToJPEG(ctx, s.renderer, in, ws.Dir, s.rasterDPI, s.jpegQuality)
		if err != nil {
			return "", err
		}
		out := filepath.Join(ws.Dir, ImagesZipName)
		if err := pdfops.ZipFiles(out, pages); err != nil {
			return "", err
		}
		lg.Debug().Int("pages", len(pages)).Msg("packaged page images")
		return out, nil
	})
}

// AssembleImages builds one PDF page per image, arranged by order
// (a permutation such as "2,0,1").
func (s *Service) AssembleImages(ctx context.Context, images []Upload, order string) (*Artifact, error) {
	if len(images) == 0 {
		return nil, apperr.Validation(string(OpAssemble), "at least one image is required")
	}
	perm, err := pdfops.ParseOrder(order, len(images))
	if err != nil {
		return nil, err
	}
	return s.run(ctx, OpAssemble, filenames(images), func(ctx context.Context, ws artifact.Workspace, lg zerolog.Logger) (string, error) {
		paths := make([]string, 0, len(images))
		for i, u := range images {
			p, err := s.persist(OpAssemble, ws, u, inputName(i, u.Filename, ".img"), filetype.ClassImage)
			if err != nil {
				return "", err
			}
			paths = append(paths, p)
		}
		out := filepath.Join(ws.Dir, AssembledName)
		if err := pdfops.AssembleImages(ctx, pdfops.Reorder(paths, perm), out); err != nil {
			return "", err
		}
		return out, nil
	})
}

func (s *Service) rendererReady(op Operation) error {
	if s.renderer == nil {
		return apperr.Environment(string(op), "no rasterizer configured", nil)
	}
	if err := s.renderer.Available(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// inputName prefixes the sanitised upload name with its position so that
// uploads never collide with each other or with result names.
func inputName(i int, filename, fallbackExt string) string {
	base, err := artifact.SanitizeName(filename)
	if err != nil {
		base = "upload" + fallbackExt
	}
	return fmt.Sprintf("in_%02d_%s", i, base)
}

func filenames(us []Upload) []string {
	out := make([]string, 0, len(us))
	for _, u := range us {
		out = append(out, strings.TrimSpace(u.Filename))
	}
	return out
}
