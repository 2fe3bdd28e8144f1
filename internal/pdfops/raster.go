package pdfops

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftools/internal/apperr"
)

// PageImageName is the file name used for a rendered page, 1-based.
func PageImageName(page int) string { return fmt.Sprintf("page_%d.jpg", page) }

// RasterizeToJPEG renders every page of pdfPath at dpi and writes
// page_<n>.jpg files into dir. Returns the paths in page order.
func RasterizeToJPEG(ctx context.Context, r Renderer, pdfPath, dir string, dpi, quality int) ([]string, error) {
	if dpi <= 0 {
		return nil, apperr.Validationf("rasterize", "dpi must be positive, got %d", dpi)
	}
	if err := r.Available(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.IO("rasterize", "create image dir", err)
	}

	var paths []string
	n, err := r.Render(ctx, pdfPath, dpi, func(page int, img image.Image) error {
		p := filepath.Join(dir, PageImageName(page))
		if err := writeJPEG(p, img, quality); err != nil {
			return err
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rasterize %s: %w", filepath.Base(pdfPath), err)
	}
	if n == 0 {
		return nil, apperr.Processing("rasterize", "document has no pages", nil)
	}

	log.Debug().
		Str("backend", r.Name()).
		Int("pages", n).
		Int("dpi", dpi).
		Int("quality", quality).
		Msg("rasterized pdf to jpeg")
	return paths, nil
}

func writeJPEG(path string, img image.Image, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return apperr.IO("rasterize", "create page image", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		_ = f.Close()
		return apperr.Processing("rasterize", "failed to encode JPEG", err)
	}
	if err := f.Close(); err != nil {
		return apperr.IO("rasterize", "close page image", err)
	}
	return nil
}

// ZipFiles packages files into a ZIP at out, each stored under its base name.
func ZipFiles(out string, files []string) error {
	f, err := os.Create(out)
	if err != nil {
		return apperr.IO("archive", "create zip", err)
	}
	zw := zip.NewWriter(f)
	for _, p := range files {
		if err := addZipEntry(zw, p); err != nil {
			_ = zw.Close()
			_ = f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return apperr.IO("archive", "finalize zip", err)
	}
	if err := f.Close(); err != nil {
		return apperr.IO("archive", "close zip", err)
	}
	return nil
}

func addZipEntry(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return apperr.IO("archive", "open entry", err)
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   filepath.Base(path),
		Method: zip.Deflate,
	})
	if err != nil {
		return apperr.IO("archive", "create entry", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return apperr.IO("archive", "write entry", err)
	}
	return nil
}
