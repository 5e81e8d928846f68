package views

import (
	"embed"
	"html/template"
)

//go:embed templates/*
var embedFS embed.FS

// getTemplates parses every page template, each file defines its templates by name
func getTemplates() (*template.Template, error) {
	return template.New("views").ParseFS(embedFS, "templates/*.html")
}
