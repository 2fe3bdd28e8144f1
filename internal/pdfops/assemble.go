package pdfops

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftools/internal/apperr"
)

// AssembleImages builds a PDF at out with one page per image, in the given
// order. Each page takes the dimensions of its image.
func AssembleImages(ctx context.Context, images []string, out string) error {
	if len(images) == 0 {
		return apperr.Validation("assemble", "at least one image is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// ImportImagesFile appends when out exists.
	if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
		return apperr.IO("assemble", "remove stale output", err)
	}

	imp := pdfcpu.DefaultImportConfig()
	imp.Pos = types.Full
	if err := api.ImportImagesFile(images, out, imp, newConf()); err != nil {
		return apperr.Processing("assemble", "image import failed", err)
	}
	log.Debug().Int("images", len(images)).Str("out", filepath.Base(out)).Msg("assembled images into pdf")
	return nil
}

// Compress rebuilds in as an image-only PDF: each page is rendered at dpi,
// encoded as JPEG into workDir and imported as a full page into out.
func Compress(ctx context.Context, r Renderer, in, out, workDir string, dpi, quality int) (int, error) {
	pages, err := RasterizeToJPEG(ctx, r, in, workDir, dpi, quality)
	if err != nil {
		return 0, err
	}
	if err := AssembleImages(ctx, pages, out); err != nil {
		return 0, err
	}
	return len(pages), nil
}
