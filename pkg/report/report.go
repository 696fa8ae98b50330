// Package report renders scan results through Go templates. Built-in
// templates cover CSV, a text summary, and a compliance rollup view;
// custom templates get the same data model plus Sprig functions.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/cloudsentry/cloudsentry/pkg/compliance"
	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/jsonutil"
	"github.com/cloudsentry/cloudsentry/pkg/store"
)

// Config selects the template to render.
type Config struct {
	// TemplatePath is the path to a custom template file.
	TemplatePath string

	// TemplateString is an inline template (alternative to TemplatePath).
	TemplateString string

	// BuiltIn names a built-in template: "csv", "text-summary",
	// "compliance".
	BuiltIn string
}

var builtInTemplates = map[string]string{
	"csv": `CheckID,ResourceID,Service,Severity,Status,Delta,Muted,Detail
{{- range .Findings }}
{{ .CheckID }},{{ escapeCSV .ResourceID }},{{ .Service }},{{ .Severity }},{{ .Status }},{{ .Delta }},{{ .Muted }},{{ escapeCSV .StatusExtended }}
{{- end }}`,

	"text-summary": `Scan Summary
============
Scan:      {{ .Scan.ID }}
Provider:  {{ .Scan.Provider }}{{ if .Scan.Account }} ({{ .Scan.Account }}){{ end }}
Status:    {{ .Scan.Status }}{{ if .Scan.Cause }} ({{ .Scan.Cause }}){{ end }}
Started:   {{ .Scan.StartedAt.Format "2006-01-02 15:04:05 MST" }}
Duration:  {{ printf "%.1f" .DurationSec }}s

Findings:
  Pass:  {{ .Scan.Totals.Pass }} ({{ .Scan.Totals.NewPass }} new)
  Fail:  {{ .Scan.Totals.Fail }} ({{ .Scan.Totals.NewFail }} new)
  Error: {{ .Scan.Totals.Error }}
  Muted: {{ .Scan.Totals.Muted }}
{{ if gt .Scan.Totals.Fail 0 }}
Failures by Severity:
{{- range $sev, $count := .FailBySeverity }}
  {{ severityIcon $sev }} {{ $sev | title }}: {{ $count }}
{{- end }}
{{ end }}`,

	"compliance": `Compliance Rollup for {{ .Scan.ID }}
{{ range .Rollups }}
{{ if .Satisfied }}SATISFIED  {{ else }}UNSATISFIED{{ end }} {{ .Framework }} {{ .Requirement }} (pass={{ .PassCount }} fail={{ .FailCount }} mode={{ .Mode }})
{{- end }}`,
}

// Data is the model handed to templates.
type Data struct {
	Scan        store.ScanRecord
	Findings    []finding.Finding
	Rollups     []compliance.Rollup
	GeneratedAt string
	DurationSec float64

	FailBySeverity map[string]int
	FailByService  map[string]int
}

// Renderer renders one scan report. The template is parsed at
// construction; invalid templates fail fast.
type Renderer struct {
	tmpl *template.Template
}

// New creates a renderer for the configured template.
func New(cfg Config) (*Renderer, error) {
	var content string
	switch {
	case cfg.TemplatePath != "":
		b, err := os.ReadFile(cfg.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("report: read template: %w", err)
		}
		content = string(b)
	case cfg.TemplateString != "":
		content = cfg.TemplateString
	case cfg.BuiltIn != "":
		b, ok := builtInTemplates[cfg.BuiltIn]
		if !ok {
			return nil, fmt.Errorf("report: unknown built-in template: %s (available: csv, text-summary, compliance)", cfg.BuiltIn)
		}
		content = b
	default:
		return nil, fmt.Errorf("report: no template specified")
	}

	funcMap := sprig.TxtFuncMap()
	funcMap["escapeCSV"] = tmplEscapeCSV
	funcMap["severityIcon"] = tmplSeverityIcon
	funcMap["json"] = tmplToJSON

	tmpl, err := template.New("report").Funcs(funcMap).Parse(content)
	if err != nil {
		return nil, fmt.Errorf("report: parse template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render writes the report for one scan to w. Findings are ordered
// failures first, highest severity on top.
func (r *Renderer) Render(w io.Writer, scan store.ScanRecord, findings []finding.Finding, rollups []compliance.Rollup) error {
	data := buildData(scan, findings, rollups)

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("report: execute template: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	return nil
}

func buildData(scan store.ScanRecord, findings []finding.Finding, rollups []compliance.Rollup) *Data {
	data := &Data{
		Scan:           scan,
		Findings:       findings,
		Rollups:        rollups,
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		FailBySeverity: make(map[string]int),
		FailByService:  make(map[string]int),
	}
	if !scan.CompletedAt.IsZero() {
		data.DurationSec = scan.CompletedAt.Sub(scan.StartedAt).Seconds()
	}
	for i := range findings {
		f := &findings[i]
		if f.Status != finding.StatusFail || f.Muted {
			continue
		}
		data.FailBySeverity[string(f.Severity)]++
		data.FailByService[f.Service]++
	}

	sort.SliceStable(data.Findings, func(i, j int) bool {
		a, b := &data.Findings[i], &data.Findings[j]
		if a.Status != b.Status {
			return statusRank(a.Status) < statusRank(b.Status)
		}
		if a.Severity != b.Severity {
			return a.Severity.Score() > b.Severity.Score()
		}
		return a.CheckID < b.CheckID
	})
	return data
}

func statusRank(s finding.Status) int {
	switch s {
	case finding.StatusFail:
		return 0
	case finding.StatusError:
		return 1
	default:
		return 2
	}
}

// tmplEscapeCSV wraps the value in quotes if it contains commas, quotes,
// or newlines.
func tmplEscapeCSV(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, ",\"\n\r") {
		return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
	}
	return s
}

func tmplSeverityIcon(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return "🔴"
	case "high":
		return "🟠"
	case "medium":
		return "🟡"
	case "low":
		return "🟢"
	case "informational":
		return "🔵"
	default:
		return "⚪"
	}
}

func tmplToJSON(v any) string {
	b, err := jsonutil.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(b)
}
