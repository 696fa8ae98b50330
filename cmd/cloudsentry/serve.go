package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cloudsentry/cloudsentry/pkg/queue"
	"github.com/cloudsentry/cloudsentry/pkg/ui"
)

var flagInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scans continuously on an interval",
	Long: `Serve enqueues a scan task for the configured provider on every
interval tick and processes tasks from the queue until interrupted.
Failed tasks are redelivered with backoff up to the attempt budget.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&flagInterval, "interval", time.Hour, "time between scheduled scans")
	serveCmd.Flags().StringVar(&flagInventory, "inventory", "", "resource inventory file (local provider)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := buildLogger(cfg)
	setupUI(cfg)
	ui.PrintBanner(os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	enqueue := func() {
		scanID := uuid.NewString()
		if _, err := deps.queue.Enqueue(queue.Task{
			ScanID:   scanID,
			Provider: deps.providerID,
			Account:  cfg.Account,
		}); err != nil {
			log.Error("enqueue failed", "error", err)
			return
		}
		log.Info("scan scheduled", "scan_id", scanID, "provider", deps.providerID)
	}

	go func() {
		enqueue()
		ticker := time.NewTicker(flagInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				deps.queue.Close()
				return
			case <-ticker.C:
				enqueue()
			}
		}
	}()

	log.Info("worker started", "interval", flagInterval.String())
	if err := deps.orch.Serve(ctx, deps.queue); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker: %w", err)
	}

	for _, dead := range deps.queue.Dead() {
		log.Warn("task exhausted redeliveries", "task_id", dead.ID, "scan_id", dead.ScanID)
	}
	return nil
}
