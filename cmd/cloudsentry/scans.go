package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudsentry/cloudsentry/pkg/store"
	"github.com/cloudsentry/cloudsentry/pkg/ui"
)

var flagScanLimit int

var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "List stored scans, newest first",
	RunE:  runScans,
}

func init() {
	scansCmd.Flags().IntVar(&flagScanLimit, "limit", 20, "maximum scans to list (0 = all)")
	rootCmd.AddCommand(scansCmd)
}

func runScans(cmd *cobra.Command, args []string) error {
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

	recs := st.ListScans(cfg.Provider, flagScanLimit)
	if len(recs) == 0 {
		ui.Printf("no scans recorded\n")
		return nil
	}
	for i := range recs {
		rec := &recs[i]
		ui.PrintSummary(os.Stdout, rec)
		ui.Divider(os.Stdout)
	}
	return nil
}
