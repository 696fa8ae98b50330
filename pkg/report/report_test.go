package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsentry/cloudsentry/pkg/compliance"
	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/registry"
	"github.com/cloudsentry/cloudsentry/pkg/store"
)

func sampleScan() store.ScanRecord {
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return store.ScanRecord{
		ID:          "scan-1",
		Provider:    "local",
		Account:     "123456789012",
		StartedAt:   started,
		CompletedAt: started.Add(90 * time.Second),
		Status:      store.StatusCompleted,
		Totals:      store.Totals{Pass: 1, Fail: 2, NewFail: 1},
		Partition:   "2026-03-14",
	}
}

func sampleFindings() []finding.Finding {
	return []finding.Finding{
		{ScanID: "scan-1", CheckID: "c_pass", ResourceID: "r1", Status: finding.StatusPass, Severity: finding.Low, Service: "storage"},
		{ScanID: "scan-1", CheckID: "c_fail_low", ResourceID: "r2", Status: finding.StatusFail, Severity: finding.Low, Service: "storage"},
		{ScanID: "scan-1", CheckID: "c_fail_high", ResourceID: "r3", Status: finding.StatusFail, Severity: finding.High, Service: "compute", StatusExtended: "public, unencrypted"},
	}
}

func render(t *testing.T, cfg Config, findings []finding.Finding, rollups []compliance.Rollup) string {
	t.Helper()
	r, err := New(cfg)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, sampleScan(), findings, rollups))
	return buf.String()
}

func TestCSVReport(t *testing.T) {
	out := render(t, Config{BuiltIn: "csv"}, sampleFindings(), nil)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "CheckID,ResourceID,Service,Severity,Status,Delta,Muted,Detail", lines[0])

	// Failures come first, highest severity on top.
	assert.True(t, strings.HasPrefix(lines[1], "c_fail_high,"))
	assert.True(t, strings.HasPrefix(lines[2], "c_fail_low,"))
	assert.True(t, strings.HasPrefix(lines[3], "c_pass,"))

	// A detail containing a comma is quoted.
	assert.Contains(t, lines[1], `"public, unencrypted"`)
}

func TestTextSummaryReport(t *testing.T) {
	out := render(t, Config{BuiltIn: "text-summary"}, sampleFindings(), nil)
	assert.Contains(t, out, "Scan:      scan-1")
	assert.Contains(t, out, "Provider:  local (123456789012)")
	assert.Contains(t, out, "Status:    COMPLETED")
	assert.Contains(t, out, "Duration:  90.0s")
	assert.Contains(t, out, "Fail:  2 (1 new)")
	assert.Contains(t, out, "Failures by Severity:")
	assert.Contains(t, out, "High: 1")
}

func TestComplianceReport(t *testing.T) {
	rollups := []compliance.Rollup{
		{Framework: "CIS-2.0", Requirement: "1.1", Mode: registry.AllPass, PassCount: 3},
		{Framework: "CIS-2.0", Requirement: "1.2", Mode: registry.AllPass, PassCount: 1, FailCount: 2},
	}
	out := render(t, Config{BuiltIn: "compliance"}, nil, rollups)
	assert.Contains(t, out, "SATISFIED")
	assert.Contains(t, out, "UNSATISFIED")
	assert.Contains(t, out, "CIS-2.0 1.1")
	assert.Contains(t, out, "pass=1 fail=2")
}

func TestCustomInlineTemplate(t *testing.T) {
	out := render(t, Config{
		TemplateString: `{{ .Scan.ID }}: {{ len .Findings }} findings, {{ .Scan.Totals.Fail }} failing`,
	}, sampleFindings(), nil)
	assert.Equal(t, "scan-1: 3 findings, 2 failing", out)
}

func TestCustomTemplateSprigFunctions(t *testing.T) {
	out := render(t, Config{
		TemplateString: `{{ .Scan.Provider | upper }} {{ .Scan.ID | replace "scan-" "report-" }}`,
	}, nil, nil)
	assert.Equal(t, "LOCAL report-1", out)
}

func TestMutedFailuresExcludedFromBreakdown(t *testing.T) {
	findings := sampleFindings()
	findings[2].Muted = true
	out := render(t, Config{BuiltIn: "text-summary"}, findings, nil)
	assert.NotContains(t, out, "High: 1")
	assert.Contains(t, out, "Low: 1")
}

func TestUnknownBuiltInRejected(t *testing.T) {
	_, err := New(Config{BuiltIn: "pdf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown built-in template")
}

func TestNoTemplateRejected(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestBadTemplateRejected(t *testing.T) {
	_, err := New(Config{TemplateString: "{{ .Scan.ID "})
	require.Error(t, err)
}
