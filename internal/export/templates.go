package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/report.html"))

// ReportData holds data for report template rendering
type ReportData struct {
	ShipmentID string
	Lifecycle  string
	Status     string
	CreatedBy  string
	CreatedAt  time.Time
	Stages     []ReportStage
	History    []ReportEvent
}

// ReportStage holds one stage row.
type ReportStage struct {
	Index            int
	Name             string
	Status           string
	Uploaded         []string
	PendingDocuments []string
	Approved         []string
	PendingSigners   []string
}

// ReportEvent holds one history row.
type ReportEvent struct {
	At      string
	Actor   string
	Message string
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
