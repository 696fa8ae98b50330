package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudsentry/cloudsentry/pkg/checks"
	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/registry"
	"github.com/cloudsentry/cloudsentry/pkg/ui"
)

var checksCmd = &cobra.Command{
	Use:   "checks",
	Short: "List the loaded check catalog",
	RunE:  runChecks,
}

func init() {
	rootCmd.AddCommand(checksCmd)
}

func runChecks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	buildLogger(cfg)
	setupUI(cfg)

	snap, err := registry.Load(cfg.ManifestDir, checks.Logic())
	if err != nil {
		return err
	}

	providerID := cfg.Provider
	if providerID == "" {
		providerID = "local"
	}
	filters := registry.Filters{
		MinSeverity: finding.Severity(cfg.Severity),
		Category:    cfg.Category,
		Framework:   cfg.Framework,
		CheckIDs:    cfg.CheckIDs,
	}
	if len(cfg.Services) == 1 {
		filters.Service = cfg.Services[0]
	}

	for _, c := range snap.ChecksFor(providerID, filters) {
		ui.Printf("%s %s %s\n",
			ui.SeverityStyle(string(c.Meta.Severity)).Render(string(c.Meta.Severity)),
			ui.ValueStyle.Render(c.Meta.CheckID),
			ui.MutedStyle.Render(c.Meta.Service))
		if c.Meta.Description != "" {
			ui.Printf("  %s\n", c.Meta.Description)
		}
		for _, m := range c.Meta.Compliance {
			ui.Printf("  %s\n", ui.MutedStyle.Render(m.Framework+" "+m.Requirement))
		}
	}

	if ws := snap.Warnings(); len(ws) > 0 {
		ui.Fprintf(os.Stderr, "\n%d check(s) excluded at load:\n", len(ws))
		for _, w := range ws {
			ui.Fprintf(os.Stderr, "  %s: %s\n", w.CheckID, w.Reason)
		}
	}
	return nil
}
