// Package api exposes the conversion service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftools/internal/convert"
	"github.com/local/pdftools/internal/statuscheck"
	"github.com/local/pdftools/internal/store"
)

// Converter runs the five conversion operations.
type Converter interface {
	Merge(ctx context.Context, pdfs []convert.Upload) (*convert.Artifact, error)
	Compress(ctx context.Context, pdf convert.Upload, dpi int) (*convert.Artifact, error)
	Split(ctx context.Context, pdf convert.Upload, start, end int) (*convert.Artifact, error)
	Rasterize(ctx context.Context, pdf convert.Upload) (*convert.Artifact, error)
	AssembleImages(ctx context.Context, images []convert.Upload, order string) (*convert.Artifact, error)
}

// RecordGetter looks up conversion records.
type RecordGetter interface {
	Get(ctx context.Context, id string) (store.Record, bool, error)
}

// HealthChecker reports dependency status.
type HealthChecker interface {
	Summary(ctx context.Context) statuscheck.Summary
}

// RouteRegistrar mounts additional routes, such as the HTML pages.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Options configures a Server.
type Options struct {
	Converter      Converter
	Records        RecordGetter
	Health         HealthChecker
	Pages          RouteRegistrar
	Metrics        http.Handler
	MaxUploadBytes int64
	CORSOrigins    []string
}

// Server holds the HTTP handlers.
type Server struct {
	conv        Converter
	records     RecordGetter
	health      HealthChecker
	pages       RouteRegistrar
	metrics     http.Handler
	maxUpload   int64
	corsOrigins []string
}

// New creates a Server. A nil Records answers every lookup with 404.
func New(opts Options) *Server {
	if opts.Records == nil {
		opts.Records = store.Nop{}
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Server{
		conv:        opts.Converter,
		records:     opts.Records,
		health:      opts.Health,
		pages:       opts.Pages,
		metrics:     opts.Metrics,
		maxUpload:   opts.MaxUploadBytes,
		corsOrigins: opts.CORSOrigins,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/health/deps", s.handleHealthDeps)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Post("/pdf-merger", s.handleMerge)
	r.Post("/pdf-compress", s.handleCompress)
	r.Post("/pdf-split", s.handleSplit)
	r.Post("/pdf-to-jpg", s.handleRasterize)
	r.Post("/jpg-to-pdf", s.handleAssemble)
	r.Get("/conversions/{id}", s.handleGetConversion)

	if s.pages != nil {
		s.pages.RegisterRoutes(r)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Requested-With",
		},
		ExposedHeaders: []string{
			"Content-Disposition",
			headerConversionID,
			headerDigest,
		},
		MaxAge: 300,
	})
	return c.Handler(r)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthDeps(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	sum := s.health.Summary(r.Context())
	status := http.StatusOK
	if !sum.Healthy() {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, sum)
}
