// Package pdfops wraps the document libraries behind the conversion
// operations: pdfcpu for document structure and a pluggable renderer
// (go-fitz or mutool) for rasterizing pages.
package pdfops

import (
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftools/internal/apperr"
)

func init() {
	// pdfcpu would otherwise create a config dir under $HOME on first use.
	api.DisableConfigDir()
}

func newConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Validate checks that path parses as a PDF.
func Validate(path string) error {
	if err := api.ValidateFile(path, newConf()); err != nil {
		return apperr.Processing("validate", "file is not a readable PDF", err)
	}
	return nil
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, apperr.Processing("pagecount", "pdf page count failed", err)
	}
	return n, nil
}

// Merge concatenates inputs, in order, into out.
func Merge(ctx context.Context, inputs []string, out string) error {
	if len(inputs) == 0 {
		return apperr.Validation("merge", "at least one PDF is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := api.MergeCreateFile(inputs, out, false, newConf()); err != nil {
		return apperr.Processing("merge", "merge failed", err)
	}
	log.Debug().Int("inputs", len(inputs)).Str("out", out).Msg("merged pdfs")
	return nil
}

// Split writes pages start..end (1-based, inclusive) of in to out.
func Split(ctx context.Context, in, out string, start, end int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	total, err := PageCount(in)
	if err != nil {
		return err
	}
	if err := ValidateRange(start, end, total); err != nil {
		return err
	}
	sel := []string{fmt.Sprintf("%d-%d", start, end)}
	if start == end {
		sel = []string{fmt.Sprintf("%d", start)}
	}
	if err := api.TrimFile(in, out, sel, newConf()); err != nil {
		return apperr.Processing("split", "split failed", err)
	}
	log.Debug().Int("start", start).Int("end", end).Int("total", total).Msg("split pdf")
	return nil
}

// ValidateRange checks a 1-based inclusive page range against total.
func ValidateRange(start, end, total int) error {
	switch {
	case start < 1:
		return apperr.Validationf("split", "start page must be at least 1, got %d", start)
	case end < start:
		return apperr.Validationf("split", "end page %d is before start page %d", end, start)
	case end > total:
		return apperr.Validationf("split", "end page %d exceeds page count %d", end, total)
	}
	return nil
}
