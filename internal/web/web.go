package web

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

//go:embed templates/*.html
var templateFS embed.FS

// Field is one input on a tool's upload form.
type Field struct {
	Name     string
	Label    string
	Type     string // "file", "number" or "text"
	Accept   string
	Multiple bool
	Min      int
	Max      int
	Hint     string
}

// Tool describes one conversion page.
type Tool struct {
	Path        string
	Title       string
	Description string
	Fields      []Field
}

// Tools lists the conversion pages in display order, with default limits.
var Tools = []Tool{
	{
		Path:        "/pdf-merger",
		Title:       "Merge PDF",
		Description: "Combine several PDFs into one document, in the order you select them.",
		Fields:      []Field{{Name: "pdfs", Label: "PDF files", Type: "file", Accept: "application/pdf", Multiple: true}},
	},
	{
		Path:        "/pdf-compress",
		Title:       "Compress PDF",
		Description: "Re-render every page at a lower resolution to shrink the file.",
		Fields: []Field{
			{Name: "pdf", Label: "PDF file", Type: "file", Accept: "application/pdf"},
			{Name: "quality", Label: "Quality (DPI)", Type: "number", Min: 1, Max: 600, Hint: "72 is small, 150 is balanced, 300 is print quality"},
		},
	},
	{
		Path:        "/pdf-split",
		Title:       "Split PDF",
		Description: "Extract a range of pages into a new document.",
		Fields: []Field{
			{Name: "pdf", Label: "PDF file", Type: "file", Accept: "application/pdf"},
			{Name: "start", Label: "First page", Type: "number", Min: 1},
			{Name: "end", Label: "Last page", Type: "number", Min: 1},
		},
	},
	{
		Path:        "/pdf-to-jpg",
		Title:       "PDF to JPG",
		Description: "Turn every page into a JPG image, delivered as a ZIP archive.",
		Fields:      []Field{{Name: "pdf", Label: "PDF file", Type: "file", Accept: "application/pdf"}},
	},
	{
		Path:        "/jpg-to-pdf",
		Title:       "JPG to PDF",
		Description: "Build a PDF with one page per image.",
		Fields: []Field{
			{Name: "images", Label: "Images", Type: "file", Accept: "image/*", Multiple: true},
			{Name: "order", Label: "Page order", Type: "text", Hint: "zero-based positions, e.g. 2,0,1"},
		},
	},
}

// Web renders the HTML pages and serves static pass-through files.
type Web struct {
	tpl       *template.Template
	staticDir string
	tools     []Tool
}

// Option adjusts a Web.
type Option func(*Web)

// WithQualityRange sets the DPI bounds shown on the compress form.
func WithQualityRange(minDPI, maxDPI int) Option {
	return func(w *Web) {
		for i, t := range w.tools {
			fields := make([]Field, len(t.Fields))
			copy(fields, t.Fields)
			for j := range fields {
				if fields[j].Name == "quality" {
					fields[j].Min, fields[j].Max = minDPI, maxDPI
				}
			}
			w.tools[i].Fields = fields
		}
	}
}

// New parses the embedded templates.
func New(staticDir string, opts ...Option) (*Web, error) {
	tpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	w := &Web{tpl: tpl, staticDir: staticDir, tools: append([]Tool(nil), Tools...)}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// RegisterRoutes mounts the page routes on r.
func (w *Web) RegisterRoutes(r chi.Router) {
	r.Get("/", w.handleHome)
	for _, t := range w.tools {
		r.Get(t.Path, w.toolHandler(t))
	}
	r.Get("/ads.txt", w.staticFile("ads.txt", "text/plain; charset=utf-8"))
	r.Get("/sitemap.xml", w.staticFile("sitemap.xml", "application/xml"))
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(w.staticDir))))
}

func (w *Web) render(wr http.ResponseWriter, name string, data any) {
	wr.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := w.tpl.ExecuteTemplate(wr, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("render failed")
	}
}

func (w *Web) handleHome(wr http.ResponseWriter, r *http.Request) {
	w.render(wr, "home.html", map[string]any{"Tools": w.tools})
}

func (w *Web) toolHandler(t Tool) http.HandlerFunc {
	return func(wr http.ResponseWriter, r *http.Request) {
		w.render(wr, "tool.html", map[string]any{"Tool": t, "Tools": w.tools})
	}
}

func (w *Web) staticFile(name, contentType string) http.HandlerFunc {
	return func(wr http.ResponseWriter, r *http.Request) {
		p := filepath.Join(w.staticDir, name)
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			http.NotFound(wr, r)
			return
		}
		wr.Header().Set("Content-Type", contentType)
		http.ServeFile(wr, r, p)
	}
}
