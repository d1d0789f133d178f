// Package pages renders the site's HTML pages.
//
// A pages directory holds a shared _layout.html and one file per page. Each
// page file defines a "title" and a "content" template which the layout
// embeds. Page names are matched case-insensitively against the request path.
package pages

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/secure-webapp/internal/api"
	"github.com/eugenenazirov/secure-webapp/internal/requestid"
)

const (
	layoutFile = "_layout.html"
	// IndexPage is served for the site root.
	IndexPage = "Index"
)

// ErrNoPages is returned when a directory contains no page templates.
var ErrNoPages = errors.New("no page templates found")

// Data is passed to every page template.
type Data struct {
	Page        string
	Path        string
	RequestID   string
	FailedPath  string // set when the error page is re-executed for a failed request
	Development bool
	Year        int
}

// Renderer executes page templates.
type Renderer struct {
	pages       map[string]*template.Template
	names       map[string]string
	development bool
	logger      *zap.Logger
	clock       func() time.Time
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithDevelopment exposes development-only details to templates.
func WithDevelopment(enabled bool) Option {
	return func(r *Renderer) {
		r.development = enabled
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Renderer) {
		r.clock = clock
	}
}

// Load parses every page in dir together with the shared layout.
func Load(dir string, logger *zap.Logger, opts ...Option) (*Renderer, error) {
	layout := filepath.Join(dir, layoutFile)

	files, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	r := &Renderer{
		pages:  make(map[string]*template.Template),
		names:  make(map[string]string),
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, file := range files {
		base := filepath.Base(file)
		if strings.HasPrefix(base, "_") {
			continue
		}
		name := strings.TrimSuffix(base, filepath.Ext(base))

		tmpl, err := template.ParseFiles(layout, file)
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
		key := strings.ToLower(name)
		r.pages[key] = tmpl
		r.names[key] = name
	}

	if len(r.pages) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoPages, dir)
	}
	return r, nil
}

// Names returns the loaded page names, sorted.
func (r *Renderer) Names() []string {
	out := make([]string, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Has reports whether a page exists.
func (r *Renderer) Has(name string) bool {
	_, ok := r.pages[strings.ToLower(name)]
	return ok
}

// Render executes a page into w with the given status. Output is buffered so
// a template failure never produces a partial page.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data Data) error {
	tmpl, ok := r.pages[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("page %q not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, layoutFile, data); err != nil {
		return fmt.Errorf("render page %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
	return nil
}

// ServeHTTP dispatches "/" to the index page and "/{name}" to the matching page.
func (r *Renderer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	name, ok := r.pageForPath(req.URL.Path)
	if !ok {
		http.NotFound(w, req)
		return
	}

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	data := Data{
		Page:        name,
		Path:        req.URL.Path,
		RequestID:   requestid.FromContext(req.Context()),
		FailedPath:  api.OriginalPath(req.Context()),
		Development: r.development,
		Year:        r.clock().Year(),
	}
	if err := r.Render(w, http.StatusOK, name, data); err != nil {
		r.logger.Error("page render failed", zap.String("page", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (r *Renderer) pageForPath(path string) (string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		trimmed = IndexPage
	}
	if strings.Contains(trimmed, "/") {
		return "", false
	}

	name, ok := r.names[strings.ToLower(trimmed)]
	return name, ok
}
