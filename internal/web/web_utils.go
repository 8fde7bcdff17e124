package web

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/jieun/windview/internal/config"
	"github.com/jieun/windview/internal/particles"
)

// TemplateData represents common template data
type TemplateData struct {
	Title      string
	AppVersion string
}

// MainPageData represents data for the particle page
type MainPageData struct {
	TemplateData
	Params particles.Params
}

// ErrorPageData represents data for the error page
type ErrorPageData struct {
	TemplateData
	Error      string
	StatusCode int
}

var templateFuncs = template.FuncMap{
	"formatCount": particles.FormatCount,
}

// templateFS returns the template directory from config, or the embedded one
func (s *WebServer) templateFS() (fs.FS, error) {
	if s.Config.TemplateDir != "" {
		return os.DirFS(s.Config.TemplateDir), nil
	}
	return fs.Sub(EmbeddedTemplatesFS, "templates")
}

func (s *WebServer) loadTemplates() (*template.Template, error) {
	fsys, err := s.templateFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open templates: %w", err)
	}
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(fsys, "*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return tmpl, nil
}

// getTemplates returns the parsed templates. In debug mode they are
// re-read from disk on every call so edits show up without a restart.
func (s *WebServer) getTemplates() (*template.Template, error) {
	if s.Config.Debug {
		tmpl, err := s.loadTemplates()
		if err != nil {
			return nil, err
		}
		s.tmplMux.Lock()
		s.templates = tmpl
		s.tmplMux.Unlock()
		return tmpl, nil
	}
	s.tmplMux.RLock()
	defer s.tmplMux.RUnlock()
	return s.templates, nil
}

// getBaseTemplateData creates a TemplateData struct with common information
func (s *WebServer) getBaseTemplateData(title string) TemplateData {
	return TemplateData{
		Title:      title,
		AppVersion: config.AppVersion,
	}
}

// renderPage executes a template into a buffer so a failing template
// never leaves a half written 200 response
func (s *WebServer) renderPage(templateName string, data interface{}) ([]byte, error) {
	tmpl, err := s.getTemplates()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, templateName, data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", templateName, err)
	}
	return buf.Bytes(), nil
}

// renderError renders an error page
func (s *WebServer) renderError(c *gin.Context, statusCode int, message string, errstring string) {
	log.Printf("[WEB]: Error %d: %s - %s", statusCode, message, errstring)

	errorData := ErrorPageData{
		TemplateData: s.getBaseTemplateData("Error"),
		Error:        message,
		StatusCode:   statusCode,
	}

	var buf bytes.Buffer
	s.tmplMux.RLock()
	tmpl := s.templates
	s.tmplMux.RUnlock()
	if tmpl == nil || tmpl.Lookup("error.html") == nil {
		c.String(statusCode, "Error: %s", message)
		return
	}
	if err := tmpl.ExecuteTemplate(&buf, "error.html", errorData); err != nil {
		log.Printf("[WEB]: Error rendering error template: %v", err)
		c.String(statusCode, "Error: %s", message)
		return
	}
	c.Data(statusCode, "text/html; charset=utf-8", buf.Bytes())
}
