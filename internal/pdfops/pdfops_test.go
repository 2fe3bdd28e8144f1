package pdfops

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdftools/internal/apperr"
)

// writeImages writes n JPEGs whose widths grow with their index.
func writeImages(t *testing.T, dir string, n int) []string {
	t.Helper()
	var paths []string
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 40+20*i, 60))
		for x := 0; x < img.Bounds().Dx(); x++ {
			img.Set(x, x%60, color.RGBA{B: 200, A: 255})
		}
		var buf bytes.Buffer
		require.NoError(t, jpeg.Encode(&buf, img, nil))
		p := filepath.Join(dir, fmt.Sprintf("img_%d.jpg", i))
		require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
		paths = append(paths, p)
	}
	return paths
}

// makePDF builds an n-page PDF fixture from generated images.
func makePDF(t *testing.T, dir, name string, n int) string {
	t.Helper()
	imgDir := filepath.Join(dir, name+"_imgs")
	require.NoError(t, os.MkdirAll(imgDir, 0o755))
	out := filepath.Join(dir, name)
	require.NoError(t, AssembleImages(context.Background(), writeImages(t, imgDir, n), out))
	return out
}

func pageWidths(t *testing.T, path string) []float64 {
	t.Helper()
	dims, err := api.PageDimsFile(path)
	require.NoError(t, err)
	var w []float64
	for _, d := range dims {
		w = append(w, d.Width)
	}
	return w
}

func TestMergePageCountAndOrder(t *testing.T) {
	dir := t.TempDir()
	a := makePDF(t, dir, "a.pdf", 2)
	b := makePDF(t, dir, "b.pdf", 3)
	out := filepath.Join(dir, "merged.pdf")

	require.NoError(t, Merge(context.Background(), []string{b, a}, out))

	n, err := PageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	widths := pageWidths(t, out)
	require.Len(t, widths, 5)
	// b contributes widths w0<w1<w2, then a restarts at w0.
	assert.Less(t, widths[0], widths[2])
	assert.Greater(t, widths[2], widths[3])
	assert.Equal(t, widths[0], widths[3])
}

func TestMergeRequiresInput(t *testing.T) {
	err := Merge(context.Background(), nil, filepath.Join(t.TempDir(), "x.pdf"))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestMergeRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.pdf")
	require.NoError(t, os.WriteFile(bad, []byte("not a pdf"), 0o644))
	err := Merge(context.Background(), []string{bad}, filepath.Join(dir, "out.pdf"))
	assert.Equal(t, apperr.KindProcessing, apperr.KindOf(err))
}

func TestSplitRange(t *testing.T) {
	dir := t.TempDir()
	in := makePDF(t, dir, "ten.pdf", 10)
	out := filepath.Join(dir, "splitted.pdf")

	require.NoError(t, Split(context.Background(), in, out, 3, 7))

	n, err := PageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	all := pageWidths(t, in)
	assert.Equal(t, all[2:7], pageWidths(t, out))
}

func TestSplitSinglePage(t *testing.T) {
	dir := t.TempDir()
	in := makePDF(t, dir, "three.pdf", 3)
	out := filepath.Join(dir, "one.pdf")

	require.NoError(t, Split(context.Background(), in, out, 2, 2))
	n, err := PageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSplitInvalidRange(t *testing.T) {
	dir := t.TempDir()
	in := makePDF(t, dir, "four.pdf", 4)
	for _, r := range [][2]int{{0, 2}, {3, 2}, {2, 5}} {
		err := Split(context.Background(), in, filepath.Join(dir, "out.pdf"), r[0], r[1])
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "range %v", r)
	}
}

func TestAssembleImagesPermutation(t *testing.T) {
	dir := t.TempDir()
	imgs := writeImages(t, dir, 3)
	order, err := ParseOrder("2,0,1", 3)
	require.NoError(t, err)

	out := filepath.Join(dir, "converted.pdf")
	require.NoError(t, AssembleImages(context.Background(), Reorder(imgs, order), out))

	widths := pageWidths(t, out)
	require.Len(t, widths, 3)
	// image widths are 40, 60, 80; expected page order 80, 40, 60.
	assert.Greater(t, widths[0], widths[2])
	assert.Greater(t, widths[2], widths[1])
}

func TestAssembleImagesReplacesExistingOutput(t *testing.T) {
	dir := t.TempDir()
	imgs := writeImages(t, dir, 2)
	out := filepath.Join(dir, "converted.pdf")

	require.NoError(t, AssembleImages(context.Background(), imgs, out))
	require.NoError(t, AssembleImages(context.Background(), imgs, out))

	n, err := PageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

type fakeRenderer struct {
	pages int
	err   error
}

func (f *fakeRenderer) Name() string     { return "fake" }
func (f *fakeRenderer) Available() error { return f.err }
func (f *fakeRenderer) Render(ctx context.Context, pdfPath string, dpi int, fn PageFunc) (int, error) {
	for i := 1; i <= f.pages; i++ {
		img := image.NewGray(image.Rect(0, 0, dpi/10+i, dpi/10))
		if err := fn(i, img); err != nil {
			return i - 1, err
		}
	}
	return f.pages, nil
}

func TestRasterizeArchiveCompleteness(t *testing.T) {
	dir := t.TempDir()
	pages, err := RasterizeToJPEG(context.Background(), &fakeRenderer{pages: 4}, filepath.Join(dir, "in.pdf"), dir, 150, 75)
	require.NoError(t, err)
	require.Len(t, pages, 4)

	zipPath := filepath.Join(dir, "converted_images.zip")
	require.NoError(t, ZipFiles(zipPath, pages))

	zr, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		_, err = jpeg.Decode(rc)
		rc.Close()
		require.NoError(t, err, f.Name)
	}
	assert.Equal(t, []string{"page_1.jpg", "page_2.jpg", "page_3.jpg", "page_4.jpg"}, names)
}

func TestRasterizeUnavailableBackend(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRenderer{pages: 1, err: apperr.Environment("render", "mutool binary not found", nil)}
	_, err := RasterizeToJPEG(context.Background(), r, filepath.Join(dir, "in.pdf"), dir, 150, 75)
	assert.Equal(t, apperr.KindEnvironment, apperr.KindOf(err))
}

func TestRasterizeRejectsBadDPI(t *testing.T) {
	_, err := RasterizeToJPEG(context.Background(), &fakeRenderer{pages: 1}, "in.pdf", t.TempDir(), 0, 75)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCompressWithFakeRenderer(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "compressed.pdf")

	n, err := Compress(context.Background(), &fakeRenderer{pages: 3}, filepath.Join(dir, "in.pdf"), out, filepath.Join(dir, "pages"), 72, 60)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := PageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRoundTripImagesPDFImages(t *testing.T) {
	dir := t.TempDir()
	pdf := makePDF(t, dir, "roundtrip.pdf", 3)

	pages, err := RasterizeToJPEG(context.Background(), &FitzRenderer{}, pdf, filepath.Join(dir, "out"), 72, 75)
	if apperr.KindOf(err) == apperr.KindProcessing {
		t.Skipf("MuPDF backend unavailable: %v", err)
	}
	require.NoError(t, err)
	assert.Len(t, pages, 3)
}

func TestMutoolUnavailable(t *testing.T) {
	r := NewMutoolRenderer(filepath.Join(t.TempDir(), "no-such-mutool"))
	err := r.Available()
	assert.Equal(t, apperr.KindEnvironment, apperr.KindOf(err))

	_, err = r.Render(context.Background(), "in.pdf", 72, func(int, image.Image) error { return nil })
	assert.Equal(t, apperr.KindEnvironment, apperr.KindOf(err))
}

func TestNewRenderer(t *testing.T) {
	r, err := NewRenderer("fitz", "")
	require.NoError(t, err)
	assert.Equal(t, "fitz", r.Name())

	r, err = NewRenderer("mutool", "/opt/mutool")
	require.NoError(t, err)
	assert.Equal(t, "mutool", r.Name())

	_, err = NewRenderer("ghostscript", "")
	assert.Error(t, err)
}
