package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var pageTemplate = template.Must(template.New("page").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"sourceLabel": sourceLabel,
}).Parse(pageShell))

type pageData struct {
	Page
	ContentHTML template.HTML
}

// RenderPageHTML wraps the stored page content in a print shell with a
// version banner. Content is trusted: it is the subject's own published page.
func RenderPageHTML(page Page) (string, error) {
	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, pageData{
		Page:        page,
		ContentHTML: template.HTML(page.Content),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sourceLabel(source string) string {
	switch source {
	case "seed":
		return "Initial content"
	case "edit":
		return "Requested edit"
	case "undo":
		return "Undo"
	case "operator_approval":
		return "Operator approval"
	case "operator_rejection":
		return "Operator rejection"
	default:
		return strings.ReplaceAll(source, "_", " ")
	}
}

const pageShell = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.SubjectName}} v{{.Version}}</title>
  <style>
    .siteeditor-banner { font-family: Arial, sans-serif; font-size: 0.85em; color: #555; border-bottom: 1px solid #ccc; padding-bottom: 0.5rem; margin-bottom: 1.5rem; }
  </style>
</head>
<body>
  <div class="siteeditor-banner">{{.SubjectName}} | version {{.Version}} | {{sourceLabel .Source}}{{if not .CreatedAt.IsZero}} | {{formatDate .CreatedAt "Jan 2, 2006 15:04 MST"}}{{end}}</div>
  {{.ContentHTML}}
</body>
</html>`
