package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cloudsentry/cloudsentry/pkg/checks"
	"github.com/cloudsentry/cloudsentry/pkg/config"
	"github.com/cloudsentry/cloudsentry/pkg/engine"
	"github.com/cloudsentry/cloudsentry/pkg/export"
	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/metrics"
	"github.com/cloudsentry/cloudsentry/pkg/mute"
	"github.com/cloudsentry/cloudsentry/pkg/orchestrator"
	"github.com/cloudsentry/cloudsentry/pkg/provider"
	"github.com/cloudsentry/cloudsentry/pkg/queue"
	"github.com/cloudsentry/cloudsentry/pkg/registry"
	"github.com/cloudsentry/cloudsentry/pkg/retry"
	"github.com/cloudsentry/cloudsentry/pkg/store"
	"github.com/cloudsentry/cloudsentry/pkg/telemetry"
	"github.com/cloudsentry/cloudsentry/pkg/ui"
)

var (
	flagInventory string
	flagScanID    string
	flagVerbose   bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan and print the results",
	Long: `Scan authenticates to the provider, discovers resources, runs the
selected checks, and persists the findings. Exit code is 0 when every
check passed, 1 when unmuted failures exist, and 2 when the scan itself
failed.`,
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringVar(&flagInventory, "inventory", "", "resource inventory file (local provider)")
	f.StringVar(&flagScanID, "scan-id", "", "scan id (defaults to a new UUID; reuse to replay idempotently)")
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "print every finding")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
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

	scanID := flagScanID
	if scanID == "" {
		scanID = uuid.NewString()
	}
	task := queue.Task{
		ID:       uuid.NewString(),
		ScanID:   scanID,
		Provider: deps.providerID,
		Account:  cfg.Account,
	}

	rec, err := deps.orch.Execute(ctx, task)
	if err != nil {
		return fmt.Errorf("scan %s: %w", scanID, err)
	}

	findings, ferr := deps.store.Findings(rec.ID)
	if ferr != nil {
		log.Warn("stored findings unreadable", "scan_id", rec.ID, "error", ferr)
	}
	if flagVerbose {
		for i := range findings {
			ui.PrintFinding(os.Stdout, &findings[i])
		}
		ui.Divider(os.Stdout)
	}
	ui.PrintSummary(os.Stdout, rec)
	if rollups, err := deps.store.Rollups(rec.ID); err == nil {
		ui.PrintRollups(os.Stdout, rollups)
	}

	switch {
	case rec.Status == store.StatusFailed:
		os.Exit(2)
	case unmutedFails(findings) > 0:
		os.Exit(1)
	}
	return nil
}

func unmutedFails(findings []finding.Finding) int {
	n := 0
	for i := range findings {
		if findings[i].Status == finding.StatusFail && !findings[i].Muted {
			n++
		}
	}
	return n
}

// pipeline bundles the wired components behind one Close.
type pipeline struct {
	store      *store.Store
	orch       *orchestrator.Orchestrator
	queue      *queue.Queue
	providerID string

	metrics *metrics.Pipeline
	tel     *telemetry.Telemetry
}

func (p *pipeline) Close() {
	if p.tel != nil {
		if err := p.tel.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "telemetry shutdown:", err)
		}
	}
	if p.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.metrics.Close(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "metrics shutdown:", err)
		}
	}
	if p.store != nil {
		p.store.Close()
	}
}

// buildPipeline wires store, catalog, mute rules, engine, observability,
// and the orchestrator from configuration.
func buildPipeline(cfg *config.Config) (*pipeline, error) {
	p := &pipeline{}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	p.store = st

	snap, err := registry.Load(cfg.ManifestDir, checks.Logic())
	if err != nil {
		p.Close()
		return nil, err
	}
	for _, w := range snap.Warnings() {
		ui.Fprintf(os.Stderr, "%s\n", ui.MutedStyle.Render(
			fmt.Sprintf("catalog: excluded %s (%s): %s", w.CheckID, w.File, w.Reason)))
	}
	reg := registry.NewRegistry(snap)

	rules := mute.Empty()
	if cfg.MuteFile != "" {
		prec := mute.FirstMatch
		if cfg.MutePrecedence == "most-specific" {
			prec = mute.MostSpecific
		}
		rules, err = mute.LoadFile(cfg.MuteFile, prec)
		if err != nil {
			p.Close()
			return nil, err
		}
	}

	prov, err := buildProvider(cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.providerID = prov.Name()

	var engOpts []engine.Option
	orchOpts := []orchestrator.Option{
		orchestrator.WithMuteRules(rules),
		orchestrator.WithBatchSize(cfg.BatchSize),
	}

	if cfg.MetricsPort > 0 {
		m, err := metrics.NewPipeline(metrics.Options{Port: cfg.MetricsPort})
		if err != nil {
			p.Close()
			return nil, err
		}
		p.metrics = m
		engOpts = append(engOpts, engine.WithObserver(m))
		orchOpts = append(orchOpts,
			orchestrator.WithObserver(m),
			orchestrator.WithExportObserver(m))
	}

	if cfg.OTLPEndpoint != "" {
		tel, err := telemetry.New(telemetry.Options{
			Endpoint: cfg.OTLPEndpoint,
			Insecure: cfg.OTLPInsecure,
		})
		if err != nil {
			p.Close()
			return nil, err
		}
		p.tel = tel
		orchOpts = append(orchOpts, orchestrator.WithTracer(tel.Tracer()))
	}

	if cfg.UploadURL != "" {
		orchOpts = append(orchOpts, orchestrator.WithUploader(export.NewUploader(export.UploadConfig{
			URL:   cfg.UploadURL,
			Token: cfg.UploadToken,
		})))
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Retries
	eng := engine.New(engine.Config{
		WorkersPerService: cfg.Workers,
		RateLimit:         cfg.RateLimit,
		RateBurst:         cfg.RateBurst,
		Retry:             retryCfg,
	}, engOpts...)

	filters := registry.Filters{
		MinSeverity: finding.Severity(cfg.Severity),
		Category:    cfg.Category,
		Framework:   cfg.Framework,
		CheckIDs:    cfg.CheckIDs,
	}
	if len(cfg.Services) == 1 {
		filters.Service = cfg.Services[0]
	}

	p.queue = queue.New(queue.Config{})
	p.orch = orchestrator.New(orchestrator.Config{
		ScanTimeout:   cfg.ScanTimeout,
		MaxErrorRatio: cfg.MaxErrorRatio,
		Filters:       filters,
	}, st, reg, eng, map[string]provider.Provider{p.providerID: prov}, orchOpts...)

	return p, nil
}

// buildProvider resolves the provider adapter. The local provider reads
// its inventory from a file; cloud adapters are external modules
// registered here as they land.
func buildProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "", "local":
		if flagInventory == "" {
			return nil, fmt.Errorf("local provider requires --inventory")
		}
		return provider.LoadInventory(flagInventory)
	default:
		return nil, fmt.Errorf("unknown provider %q (available: local)", cfg.Provider)
	}
}
