package handlers

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/adperception/survey/internal/middleware"
	"github.com/adperception/survey/internal/platform/requestctx"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	pageIntro           = "intro"
	pageParticipant     = "participant"
	pageGenerationError = "generation_error"
	pageRating          = "rating"
	pageComplete        = "complete"
	pageError           = "error"
)

var pageNames = []string{pageIntro, pageParticipant, pageGenerationError, pageRating, pageComplete, pageError}

// views holds one parsed template set per page, each sharing the base layout.
type views struct {
	pages map[string]*template.Template
}

// layoutData is what the base layout sees. Page-specific values live under Page.
type layoutData struct {
	Title     string
	CSRFToken string
	CSRFField string
	Page      any
}

func newViews() (*views, error) {
	base, err := template.New("base.tmpl").ParseFS(templateFS, "templates/base.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse base template: %w", err)
	}
	v := &views{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, err
		}
		page, err := clone.ParseFS(templateFS, "templates/"+name+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		v.pages[name] = page
	}
	return v, nil
}

// render executes the base layout for page. The body is buffered so a template error still
// produces a clean 500.
func (v *views) render(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) {
	tmpl, ok := v.pages[page]
	if !ok {
		http.Error(w, "template not initialized", http.StatusInternalServerError)
		return
	}
	cookie := middleware.SessionFromContext(r.Context())
	layout := layoutData{
		Title:     title,
		CSRFToken: cookie.CSRFToken,
		CSRFField: middleware.CSRFFieldName,
		Page:      data,
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", layout); err != nil {
		requestctx.Logger(r.Context()).Error("template exec error", zap.String("page", page), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
