package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

var documentTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}

	documentTemplate = template.Must(template.New("document").Funcs(funcMap).Parse(documentTemplateHTML))
}

// TemplateData holds data for document template rendering
type TemplateData struct {
	FileName    string
	State       string
	Department  string
	Year        string
	Validated   bool
	ValidatedBy string
	GeneratedAt time.Time
	Rows        []TemplateRow
}

// TemplateRow is one rendered display row. Metadata rows carry Label and
// Value, headings carry Label with IsHeading set, narrative rows carry Text,
// table rows carry TableHTML.
type TemplateRow struct {
	Label     string
	Value     string
	Text      string
	IsHeading bool
	TableHTML template.HTML
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const documentTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.FileName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; font-size: 1.4rem; word-break: break-all; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .badge { display: inline-block; padding: 0.1rem 0.5rem; border-radius: 3px; font-size: 0.8em; background: #e8f5e9; color: #256029; }
    .row { margin: 0.75rem 0; }
    .row .label { font-weight: bold; }
    .row .value { margin-left: 0.5rem; }
    .section { font-weight: bold; font-size: 1.1rem; margin-top: 1.5rem; border-bottom: 1px solid #ccc; }
    table { border-collapse: collapse; width: 100%; margin: 0.5rem 0; font-size: 0.9em; }
    table, th, td { border: 1px solid #999; }
    th, td { padding: 0.3rem 0.5rem; text-align: left; }
  </style>
</head>
<body>
  <h1>{{.FileName}}</h1>
  <div class="meta">
    {{if .State}}{{.State}}{{end}}{{if .Department}} | {{.Department}}{{end}}{{if .Year}} | {{.Year}}{{end}}
    | Generated {{formatDate .GeneratedAt "Jan 2, 2006"}}
    {{if .Validated}}<span class="badge">Validated{{if .ValidatedBy}} by {{.ValidatedBy}}{{end}}</span>{{end}}
  </div>
  {{range .Rows}}
  {{if .TableHTML}}
  <div class="row">{{.TableHTML}}</div>
  {{else if .IsHeading}}
  <div class="section">{{.Label}}</div>
  {{else if .Text}}
  <p>{{.Text}}</p>
  {{else}}
  <div class="row"><span class="label">{{.Label}}:</span><span class="value">{{.Value}}</span></div>
  {{end}}
  {{end}}
</body>
</html>`
