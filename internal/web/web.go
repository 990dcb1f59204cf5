// Package web serves the browser shell: a fixed set of pages, one per path.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templates embed.FS

// Page maps a path to a rendered view
type Page struct {
	Name  string
	Path  string
	Title string
	file  string
}

// Pages is the complete route table of the shell
var Pages = []Page{
	{Name: "home", Path: "/", Title: "Home", file: "home.html"},
	{Name: "login", Path: "/login", Title: "Log in", file: "login.html"},
	{Name: "register", Path: "/register", Title: "Register", file: "register.html"},
}

// Shell renders Pages
type Shell struct {
	views map[string]*template.Template
	log   *logrus.Logger
}

func NewShell(log *logrus.Logger) (*Shell, error) {
	views := make(map[string]*template.Template, len(Pages))
	for _, p := range Pages {
		t, err := template.ParseFS(templates, "templates/layout.html", "templates/"+p.file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s page: %w", p.Name, err)
		}
		views[p.Path] = t
	}
	return &Shell{views: views, log: log}, nil
}

// Resolve returns the page mapped to path. Only exact paths match.
func Resolve(path string) (Page, bool) {
	for _, p := range Pages {
		if p.Path == path {
			return p, true
		}
	}
	return Page{}, false
}

// Register routes every page path to the shell
func (s *Shell) Register(r *mux.Router) {
	for _, p := range Pages {
		r.Handle(p.Path, s).Methods(http.MethodGet, http.MethodHead)
	}
}

// ServeHTTP renders the page mapped to the request path. Unmapped paths get a
// plain 404 and no page.
func (s *Shell) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := Resolve(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	var buf bytes.Buffer
	if err := s.views[p.Path].ExecuteTemplate(&buf, "layout", p); err != nil {
		s.log.Errorf("Failed to render %s page: %v", p.Name, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
