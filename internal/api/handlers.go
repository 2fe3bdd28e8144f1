package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftools/internal/apperr"
	"github.com/local/pdftools/internal/convert"
)

const (
	headerConversionID = "X-Conversion-ID"
	headerDigest       = "X-Artifact-Digest"

	// multipart parts above this are spooled to disk
	formMemory = 32 << 20
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseForm(w, r, "merge")
	if !ok {
		return
	}
	art, err := s.conv.Merge(r.Context(), uploads(form, "pdfs"))
	s.respondArtifact(w, r, art, err)
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseForm(w, r, "compress")
	if !ok {
		return
	}
	pdf, err := singleUpload(form, "compress", "pdf")
	if err != nil {
		writeError(w, err)
		return
	}
	dpi, err := intField(form, "compress", "quality")
	if err != nil {
		writeError(w, err)
		return
	}
	art, err := s.conv.Compress(r.Context(), pdf, dpi)
	s.respondArtifact(w, r, art, err)
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseForm(w, r, "split")
	if !ok {
		return
	}
	pdf, err := singleUpload(form, "split", "pdf")
	if err != nil {
		writeError(w, err)
		return
	}
	start, err := intField(form, "split", "start")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := intField(form, "split", "end")
	if err != nil {
		writeError(w, err)
		return
	}
	art, err := s.conv.Split(r.Context(), pdf, start, end)
	s.respondArtifact(w, r, art, err)
}

func (s *Server) handleRasterize(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseForm(w, r, "rasterize")
	if !ok {
		return
	}
	pdf, err := singleUpload(form, "rasterize", "pdf")
	if err != nil {
		writeError(w, err)
		return
	}
	art, err := s.conv.Rasterize(r.Context(), pdf)
	s.respondArtifact(w, r, art, err)
}

func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseForm(w, r, "image-assemble")
	if !ok {
		return
	}
	art, err := s.conv.AssembleImages(r.Context(), uploads(form, "images"), formValue(form, "order"))
	s.respondArtifact(w, r, art, err)
}

func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok, err := s.records.Get(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("conversion_id", id).Msg("record lookup failed")
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "record lookup failed", Kind: string(apperr.KindInternal)})
		return
	}
	if !ok {
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "conversion not found", Kind: string(apperr.KindValidation)})
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// parseForm reads the multipart body, capped at the configured upload size.
// On failure it writes the response and returns false.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request, op string) (*multipart.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: "upload exceeds " + strconv.FormatInt(tooLarge.Limit>>20, 10) + " MB",
				Kind:  string(apperr.KindValidation),
			})
			return nil, false
		}
		writeError(w, apperr.Validation(op, "invalid multipart form"))
		return nil, false
	}
	return r.MultipartForm, true
}

func uploads(form *multipart.Form, field string) []convert.Upload {
	files := form.File[field]
	out := make([]convert.Upload, 0, len(files))
	for _, fh := range files {
		out = append(out, convert.Upload{
			Filename: fh.Filename,
			Open:     func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	return out
}

func singleUpload(form *multipart.Form, op, field string) (convert.Upload, error) {
	us := uploads(form, field)
	if len(us) == 0 {
		return convert.Upload{}, apperr.Validationf(op, "missing file field %q", field)
	}
	return us[0], nil
}

func formValue(form *multipart.Form, field string) string {
	if vs := form.Value[field]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

func intField(form *multipart.Form, op, field string) (int, error) {
	v := formValue(form, field)
	if v == "" {
		return 0, apperr.Validationf(op, "missing field %q", field)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validationf(op, "field %q must be an integer, got %q", field, v)
	}
	return n, nil
}

func (s *Server) respondArtifact(w http.ResponseWriter, r *http.Request, art *convert.Artifact, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		writeError(w, apperr.IO(string(art.Operation), "open artifact", err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, apperr.IO(string(art.Operation), "stat artifact", err))
		return
	}

	h := w.Header()
	h.Set("Content-Type", art.ContentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Name}))
	h.Set(headerConversionID, art.ConversionID)
	h.Set(headerDigest, art.Digest)
	http.ServeContent(w, r, art.Name, info.ModTime(), f)
}

func writeError(w http.ResponseWriter, err error) {
	respondJSON(w, apperr.StatusCode(err), errorResponse{
		Error: apperr.Message(err),
		Kind:  string(apperr.KindOf(err)),
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
