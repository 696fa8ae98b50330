package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudsentry/cloudsentry/pkg/report"
	"github.com/cloudsentry/cloudsentry/pkg/store"
)

var (
	flagReportScan     string
	flagReportFormat   string
	flagReportTemplate string
	flagReportOut      string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a stored scan through a template",
	Long: `Report renders the findings and compliance rollups of a stored scan.
Built-in formats are csv, text-summary, and compliance; --template
renders a custom Go template with Sprig functions.`,
	RunE: runReport,
}

func init() {
	f := reportCmd.Flags()
	f.StringVar(&flagReportScan, "scan", "", "scan id (defaults to the latest scan)")
	f.StringVar(&flagReportFormat, "format", "text-summary", "built-in format: csv, text-summary, compliance")
	f.StringVar(&flagReportTemplate, "template", "", "custom template file (overrides --format)")
	f.StringVarP(&flagReportOut, "output", "o", "", "output file (defaults to stdout)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	buildLogger(cfg)

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := resolveScan(st, cfg.Provider)
	if err != nil {
		return err
	}

	findings, err := st.Findings(rec.ID)
	if err != nil {
		return err
	}
	rollups, err := st.Rollups(rec.ID)
	if err != nil {
		return err
	}

	rcfg := report.Config{BuiltIn: flagReportFormat}
	if flagReportTemplate != "" {
		rcfg = report.Config{TemplatePath: flagReportTemplate}
	}
	renderer, err := report.New(rcfg)
	if err != nil {
		return err
	}

	out := os.Stdout
	if flagReportOut != "" {
		f, err := os.Create(flagReportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return renderer.Render(out, *rec, findings, rollups)
}

func resolveScan(st *store.Store, providerID string) (*store.ScanRecord, error) {
	if flagReportScan != "" {
		return st.GetScan(flagReportScan)
	}
	recs := st.ListScans(providerID, 1)
	if len(recs) == 0 {
		return nil, fmt.Errorf("no scans recorded")
	}
	return &recs[0], nil
}
