package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var topicTemplate = template.Must(template.New("topic.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/topic.html"))

// TemplateData holds data for topic template rendering. ReportHTML is the
// generated report fragment and is trusted.
type TemplateData struct {
	Title        string
	SessionTitle string
	SessionDate  string
	Memo         string
	ReportHTML   template.HTML
	Likes        int
	Comments     int
	ExportedAt   time.Time
}

// RenderTopicHTML renders the topic template with provided data
func RenderTopicHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := topicTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
