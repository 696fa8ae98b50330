package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudsentry/cloudsentry/pkg/delta"
	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/store"
	"github.com/cloudsentry/cloudsentry/pkg/ui"
)

var flagDeltaAll bool

var deltaCmd = &cobra.Command{
	Use:   "delta <baseline-scan> <current-scan>",
	Short: "Compare two stored scans",
	Long: `Delta classifies the current scan's findings against the baseline:
a finding is NEW when its (check, resource) pair is absent from the
baseline or its status changed, UNCHANGED otherwise. Findings present
only in the baseline are reported as resolved.`,
	Args: cobra.ExactArgs(2),
	RunE: runDelta,
}

func init() {
	deltaCmd.Flags().BoolVar(&flagDeltaAll, "all", false, "print unchanged findings too")
	rootCmd.AddCommand(deltaCmd)
}

func runDelta(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	buildLogger(cfg)
	setupUI(cfg)

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()

	baseID, curID := args[0], args[1]
	if _, err := st.GetScan(baseID); err != nil {
		return fmt.Errorf("baseline: %w", err)
	}
	if _, err := st.GetScan(curID); err != nil {
		return fmt.Errorf("current: %w", err)
	}

	baseFindings, err := st.Findings(baseID)
	if err != nil {
		return err
	}
	curFindings, err := st.Findings(curID)
	if err != nil {
		return err
	}
	ix := delta.BuildIndex(baseID, baseFindings)

	seen := make(map[string]bool, len(curFindings))
	var newCount, unchangedCount int
	for i := range curFindings {
		f := curFindings[i]
		seen[f.CheckID+"\x00"+f.ResourceID] = true
		f.Delta = ix.Classify(&f)
		switch f.Delta {
		case finding.DeltaNew:
			newCount++
			ui.PrintFinding(os.Stdout, &f)
		case finding.DeltaUnchanged:
			unchangedCount++
			if flagDeltaAll {
				ui.PrintFinding(os.Stdout, &f)
			}
		}
	}

	var resolved int
	for i := range baseFindings {
		f := &baseFindings[i]
		if !seen[f.CheckID+"\x00"+f.ResourceID] {
			resolved++
			ui.Printf("%s %s %s\n",
				ui.MutedStyle.Render("RESOLVED"),
				f.CheckID,
				ui.MutedStyle.Render(f.ResourceID))
		}
	}

	ui.Divider(os.Stdout)
	ui.Printf("%s → %s: %d new, %d unchanged, %d resolved\n",
		baseID, curID, newCount, unchangedCount, resolved)
	return nil
}
