package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/cloudsentry/cloudsentry/pkg/compliance"
	"github.com/cloudsentry/cloudsentry/pkg/defaults"
	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/store"
)

// PrintBanner writes the tool banner.
func PrintBanner(w io.Writer) {
	Fprintf(w, "%s %s\n\n",
		TitleStyle.Render(defaults.ToolName),
		MutedStyle.Render("v"+defaults.Version))
}

// PrintFinding writes one finding line:
//
//	FAIL [high] aws.s3_bucket_public_access arn:aws:s3:::data (NEW)
func PrintFinding(w io.Writer, f *finding.Finding) {
	line := fmt.Sprintf("%s %s %s %s",
		StatusStyle(string(f.Status)).Render(string(f.Status)),
		SeverityStyle(string(f.Severity)).Render(string(f.Severity)),
		f.CheckID,
		f.ResourceID)
	if f.Delta == finding.DeltaNew {
		line += " " + NewBadgeStyle.Render("NEW")
	}
	if f.Muted {
		line += " " + MutedStyle.Render("muted by "+f.MutedBy)
	}
	Fprintf(w, "%s\n", line)
	if f.StatusExtended != "" {
		Fprintf(w, "     %s\n", MutedStyle.Render(f.StatusExtended))
	}
}

// PrintSummary writes the scan result block.
func PrintSummary(w io.Writer, rec *store.ScanRecord) {
	Fprintf(w, "%s\n", SectionStyle.Render("Scan "+rec.ID))

	row := func(label, value string) {
		Fprintf(w, "%s %s\n", LabelStyle.Render(label), value)
	}
	row("Provider", ValueStyle.Render(rec.Provider))
	if rec.Account != "" {
		row("Account", ValueStyle.Render(rec.Account))
	}
	row("Status", statusBadge(rec.Status))
	if rec.Cause != "" {
		row("Cause", MutedStyle.Render(rec.Cause))
	}
	if !rec.CompletedAt.IsZero() {
		row("Duration", ValueStyle.Render(rec.CompletedAt.Sub(rec.StartedAt).Round(1e7).String()))
	}

	t := rec.Totals
	row("Pass", PassStyle.Render(fmt.Sprintf("%d (%d new)", t.Pass, t.NewPass)))
	row("Fail", FailStyle.Render(fmt.Sprintf("%d (%d new)", t.Fail, t.NewFail)))
	row("Error", ErrorStyle.Render(fmt.Sprintf("%d", t.Error)))
	row("Muted", MutedStyle.Render(fmt.Sprintf("%d", t.Muted)))
}

// PrintRollups writes the compliance rollup block.
func PrintRollups(w io.Writer, rollups []compliance.Rollup) {
	if len(rollups) == 0 {
		return
	}
	Fprintf(w, "%s\n", SectionStyle.Render("Compliance"))
	for i := range rollups {
		r := &rollups[i]
		mark := FailStyle.Render(Icon("✗", "x"))
		if r.Satisfied() {
			mark = PassStyle.Render(Icon("✓", "+"))
		}
		Fprintf(w, "  %s %s %s %s\n",
			mark,
			ValueStyle.Render(r.Framework),
			r.Requirement,
			MutedStyle.Render(fmt.Sprintf("(pass=%d fail=%d)", r.PassCount, r.FailCount)))
	}
}

// Divider writes a horizontal rule.
func Divider(w io.Writer) {
	Fprintf(w, "%s\n", MutedStyle.Render(strings.Repeat("─", 60)))
}

func statusBadge(s store.ScanStatus) string {
	switch s {
	case store.StatusCompleted:
		return PassStyle.Render(string(s))
	case store.StatusFailed:
		return FailStyle.Render(string(s))
	case store.StatusDegraded:
		return ErrorStyle.Render(string(s))
	default:
		return MutedStyle.Render(string(s))
	}
}
