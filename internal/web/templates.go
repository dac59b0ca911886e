package web

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates は埋め込みのページテンプレートを読み込みます。
func Templates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}
