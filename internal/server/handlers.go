package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/security"
	"github.com/conneroisu/vellum/internal/vars"
	"github.com/conneroisu/vellum/internal/version"
	"github.com/conneroisu/vellum/pkg/view"
)

// templateName maps a request path to a template name: "/" is "index",
// "/blog/" is "blog/index" and "/about" is "about".
func templateName(urlPath string) string {
	name := strings.Trim(urlPath, "/")
	switch {
	case name == "":
		return "index"
	case strings.HasSuffix(urlPath, "/"):
		return name + "/index"
	default:
		return name
	}
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimSuffix(templateName(r.URL.Path), s.engine.Extension())
	path, err := s.engine.Path(name)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	data, err := s.templateVars(r, path)
	if err != nil {
		s.renderFailure(w, r, name, err)
		return
	}

	html, err := s.engine.Render(r.Context(), name, data, view.WithTokens(security.NewRequestTokens(r)))
	if err != nil {
		if errors.HasErrorCode(err, errors.ErrCodeTemplateNotFound) {
			s.errors.Clear(name)
			http.NotFound(w, r)
			return
		}
		s.renderFailure(w, r, name, err)
		return
	}
	s.errors.Clear(name)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, html)
	}
}

// templateVars combines the template's data file with request details.
func (s *Server) templateVars(r *http.Request, templatePath string) (map[string]interface{}, error) {
	data := make(map[string]interface{})
	if file := vars.DataFileFor(templatePath); file != "" {
		loaded, err := vars.LoadFile(file)
		if err != nil {
			return nil, errors.NewIOError(errors.ErrCodeInvalidData, "invalid template data file", err)
		}
		data = loaded
	}
	data["request"] = requestInfo(r)
	return data, nil
}

func requestInfo(r *http.Request) map[string]interface{} {
	query := make(map[string]interface{}, len(r.URL.Query()))
	for key, values := range r.URL.Query() {
		query[key] = values[0]
	}

	form := make(map[string]interface{})
	if r.PostForm != nil {
		for key, values := range r.PostForm {
			if key == security.CSRFFieldName || key == MethodOverrideField {
				continue
			}
			form[key] = values[0]
		}
	}

	return map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
		"query":  query,
		"form":   form,
	}
}

// renderFailure answers a failed render: the error overlay in development,
// a bare 500 otherwise.
func (s *Server) renderFailure(w http.ResponseWriter, r *http.Request, name string, err error) {
	s.logger.Error(r.Context(), err, "Template render failed", "template", name)

	if !s.config.IsDevelopment() || !s.config.Development.ErrorOverlay {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.errors.Add(name, err)

	var page strings.Builder
	page.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>Template error</title></head>\n<body>\n")
	page.WriteString(s.errors.ErrorOverlay())
	page.WriteString(s.liveReloadScript(r))
	page.WriteString("\n</body>\n</html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, page.String())
}

// liveReloadScript renders @hotReload for the overlay so the page recovers
// once the template is fixed.
func (s *Server) liveReloadScript(r *http.Request) string {
	if s.hub == nil {
		return ""
	}
	script, err := view.RenderTemplate(r.Context(), s.reloadScript, nil,
		view.WithEnvironment(s.config),
		view.WithTokens(security.NewRequestTokens(r)),
		view.WithLiveReloadURL(s.config.Development.ReloadPath),
		view.WithLogger(s.logger))
	if err != nil {
		s.logger.Warn(r.Context(), err, "Failed to render live-reload script")
		return ""
	}
	return script
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.errors.HasErrors() {
		status = "degraded"
	}

	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}

	s.writeJSON(r.Context(), w, map[string]interface{}{
		"status":      status,
		"timestamp":   time.Now().UTC(),
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"version":     version.Short(),
		"environment": s.config.Server.Environment,
		"checks": map[string]interface{}{
			"templates": map[string]interface{}{"errors": len(s.errors.GetErrors())},
			"reload":    map[string]interface{}{"enabled": s.hub != nil, "clients": clients},
		},
	})
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	names, err := s.engine.Names()
	if err != nil {
		s.logger.Error(r.Context(), err, "Failed to list templates")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}

	s.writeJSON(r.Context(), w, map[string]interface{}{
		"dir":       s.engine.Dir(),
		"extension": s.engine.Extension(),
		"templates": names,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	recorded := s.errors.GetErrors()
	failures := make([]map[string]interface{}, 0, len(recorded))
	for _, rec := range recorded {
		failures = append(failures, map[string]interface{}{
			"template": rec.Template,
			"type":     rec.Type,
			"message":  rec.Message,
			"line":     rec.Line,
			"column":   rec.Column,
		})
	}

	s.writeJSON(r.Context(), w, map[string]interface{}{
		"cache":      s.engine.Stats(),
		"errors":     failures,
		"directives": s.engine.Registry().Names(),
	})
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn(ctx, err, "Failed to encode JSON response")
	}
}
