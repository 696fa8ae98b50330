// Package orchestrator drives scans end to end: it owns the scan state
// machine (PENDING → RUNNING → COMPLETED/FAILED/DEGRADED), feeds the
// execution engine, and runs every raw result through the mute, delta,
// compliance, and persistence stages.
//
// Scan processing is idempotent. Task redelivery re-executes the scan,
// but the write-once finding key means replays converge on the same
// stored outcome instead of duplicating rows.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/cloudsentry/cloudsentry/pkg/compliance"
	"github.com/cloudsentry/cloudsentry/pkg/defaults"
	"github.com/cloudsentry/cloudsentry/pkg/delta"
	"github.com/cloudsentry/cloudsentry/pkg/engine"
	"github.com/cloudsentry/cloudsentry/pkg/export"
	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/mute"
	"github.com/cloudsentry/cloudsentry/pkg/provider"
	"github.com/cloudsentry/cloudsentry/pkg/queue"
	"github.com/cloudsentry/cloudsentry/pkg/registry"
	"github.com/cloudsentry/cloudsentry/pkg/store"
)

// Config holds scan-level policy.
type Config struct {
	// ScanTimeout is the wall-clock budget for one scan.
	ScanTimeout time.Duration

	// MaxErrorRatio degrades a scan whose ERROR share of executed
	// checks exceeds it. Zero disables the policy.
	MaxErrorRatio float64

	// Filters narrows the check selection for every scan.
	Filters registry.Filters
}

// Observer receives scan telemetry. Implemented by metrics.Pipeline.
type Observer interface {
	ObserveScan(providerID, status string, d time.Duration)
}

// Orchestrator executes scan tasks against registered provider adapters.
type Orchestrator struct {
	cfg       Config
	store     *store.Store
	registry  *registry.Registry
	engine    *engine.Engine
	providers map[string]provider.Provider
	rules     *mute.RuleSet
	uploader  *export.Uploader
	batchSize int
	log       *slog.Logger
	obs       Observer
	expObs    export.Observer
	tracer    trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMuteRules installs the suppression rule set.
func WithMuteRules(rs *mute.RuleSet) Option {
	return func(o *Orchestrator) { o.rules = rs }
}

// WithUploader ships persisted findings to object storage after each
// scan. An upload failure degrades the scan but never loses findings.
func WithUploader(u *export.Uploader) Option {
	return func(o *Orchestrator) { o.uploader = u }
}

// WithObserver wires scan telemetry.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.obs = obs }
}

// WithExportObserver wires batch telemetry into the per-scan writers.
func WithExportObserver(obs export.Observer) Option {
	return func(o *Orchestrator) { o.expObs = obs }
}

// WithTracer enables distributed tracing of scan phases.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithBatchSize overrides the findings batch size.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) { o.batchSize = n }
}

// New creates an orchestrator over the given store, check catalog,
// engine, and provider adapters.
func New(cfg Config, st *store.Store, reg *registry.Registry, eng *engine.Engine, providers map[string]provider.Provider, opts ...Option) *Orchestrator {
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = defaults.ScanTimeout
	}
	o := &Orchestrator{
		cfg:       cfg,
		store:     st,
		registry:  reg,
		engine:    eng,
		providers: providers,
		rules:     mute.Empty(),
		batchSize: defaults.FindingsBatchSize,
		log:       slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs one scan task to a terminal state and returns the final
// record. A task whose scan is already terminal returns the stored
// record unchanged; this is the redelivery fast path.
func (o *Orchestrator) Execute(ctx context.Context, task queue.Task) (*store.ScanRecord, error) {
	rec, err := o.claimScan(task)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		o.log.Info("scan already terminal, skipping",
			slog.String("scan_id", rec.ID),
			slog.String("status", string(rec.Status)))
		return rec, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ScanTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "scan",
		trace.WithAttributes(
			attribute.String("scan.id", rec.ID),
			attribute.String("scan.provider", rec.Provider),
		))
	defer span.End()

	start := time.Now()
	final := o.runScan(ctx, rec)
	if final.Status == store.StatusFailed {
		span.SetStatus(codes.Error, final.Cause)
	}
	if err := o.finishScan(final); err != nil {
		return nil, err
	}
	if o.obs != nil {
		o.obs.ObserveScan(final.Provider, string(final.Status), time.Since(start))
	}
	o.log.Info("scan finished",
		slog.String("scan_id", final.ID),
		slog.String("status", string(final.Status)),
		slog.Int("pass", final.Totals.Pass),
		slog.Int("fail", final.Totals.Fail),
		slog.Int("error", final.Totals.Error),
		slog.Int("muted", final.Totals.Muted),
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
	return final, nil
}

// claimScan creates the scan record for a fresh task, or loads the
// existing one on redelivery.
func (o *Orchestrator) claimScan(task queue.Task) (*store.ScanRecord, error) {
	rec := store.ScanRecord{
		ID:        task.ScanID,
		Provider:  task.Provider,
		Account:   task.Account,
		StartedAt: time.Now().UTC(),
		Status:    store.StatusPending,
	}
	err := o.store.CreateScan(rec)
	switch {
	case err == nil:
		return o.store.GetScan(rec.ID)
	case errors.Is(err, store.ErrScanExists):
		return o.store.GetScan(rec.ID)
	default:
		return nil, err
	}
}

func (o *Orchestrator) finishScan(rec *store.ScanRecord) error {
	rec.CompletedAt = time.Now().UTC()
	if err := o.store.UpdateScan(*rec); err != nil {
		// A concurrent consumer already finished this scan; the stored
		// terminal record wins.
		if errors.Is(err, store.ErrTerminal) {
			stored, getErr := o.store.GetScan(rec.ID)
			if getErr != nil {
				return getErr
			}
			*rec = *stored
			return nil
		}
		return err
	}
	return nil
}

// runScan executes the scan phases and returns the record with its
// terminal status and cause set. It never returns a non-terminal record.
func (o *Orchestrator) runScan(ctx context.Context, rec *store.ScanRecord) *store.ScanRecord {
	fail := func(cause string) *store.ScanRecord {
		rec.Status = store.StatusFailed
		rec.Cause = cause
		return rec
	}

	prov, ok := o.providers[rec.Provider]
	if !ok {
		return fail(fmt.Sprintf("no adapter registered for provider %q", rec.Provider))
	}

	rec.Status = store.StatusRunning
	if err := o.store.UpdateScan(*rec); err != nil {
		return fail(fmt.Sprintf("mark running: %v", err))
	}

	authCtx, span := o.tracer.Start(ctx, "authenticate")
	sess, err := prov.Authenticate(authCtx)
	span.End()
	if err != nil {
		return fail(fmt.Sprintf("authenticate: %v", err))
	}
	defer sess.Close()

	snap := o.registry.Snapshot()
	checks := snap.ChecksFor(rec.Provider, o.cfg.Filters)
	if len(checks) == 0 {
		rec.Status = store.StatusCompleted
		rec.Cause = "no checks selected"
		return rec
	}

	discCtx, span := o.tracer.Start(ctx, "discover")
	resources, err := prov.ListResources(discCtx, sess, o.cfg.Filters.Service)
	span.End()
	if err != nil {
		return fail(fmt.Sprintf("list resources: %v", err))
	}

	baseline := o.loadBaseline(rec)

	units := engine.Pair(checks, resources)
	o.log.Info("scan starting",
		slog.String("scan_id", rec.ID),
		slog.String("provider", rec.Provider),
		slog.Int("checks", len(checks)),
		slog.Int("resources", len(resources)),
		slog.Int("units", len(units)))

	execCtx, span := o.tracer.Start(ctx, "execute",
		trace.WithAttributes(attribute.Int("scan.units", len(units))))
	stream := o.engine.Run(execCtx, prov, sess, units)

	writer := export.NewBatchWriter(rec.ID, o.store,
		export.WithLogger(o.log),
		export.WithBatchSize(o.batchSize),
		export.WithObserver(o.expObs))
	mapper := compliance.NewMapper(rec.ID, snap)

	var totals store.Totals
	var persistErr error
	for raw := range stream.Results {
		refs := refsFor(snap, raw.CheckID)
		f := o.rules.Apply(rec.ID, raw, refs)
		f = baseline.Apply(f)
		totals.Add(&f)
		mapper.Add(&f)
		if persistErr == nil {
			persistErr = writer.Write(f)
		}
	}
	if persistErr == nil {
		persistErr = writer.Flush()
	}
	span.End()

	rec.Totals = totals
	streamErr := stream.Err()

	if persistErr != nil {
		return fail(fmt.Sprintf("persist findings: %v", persistErr))
	}
	if streamErr != nil {
		return fail(fmt.Sprintf("execution aborted: %v", streamErr))
	}

	if err := o.store.SaveRollups(rec.ID, mapper.Rollups()); err != nil {
		return fail(fmt.Sprintf("save compliance rollups: %v", err))
	}

	// Findings are fully persisted from here; remaining failures
	// degrade the scan rather than failing it.
	rec.Status = store.StatusCompleted

	if ratio := errorRatio(&totals); o.cfg.MaxErrorRatio > 0 && ratio > o.cfg.MaxErrorRatio {
		rec.Status = store.StatusDegraded
		rec.Cause = fmt.Sprintf("error ratio %.2f exceeds %.2f", ratio, o.cfg.MaxErrorRatio)
	}

	if o.uploader != nil {
		if err := o.upload(ctx, rec); err != nil {
			if o.expObs != nil {
				o.expObs.ObserveExportFailure()
			}
			rec.Status = store.StatusDegraded
			rec.Cause = fmt.Sprintf("upload: %v", err)
		}
	}
	return rec
}

func (o *Orchestrator) loadBaseline(rec *store.ScanRecord) *delta.Index {
	prior, err := o.store.PriorPersisted(rec.Provider, rec.StartedAt)
	if err != nil {
		if !errors.Is(err, store.ErrNoPriorScan) {
			o.log.Warn("baseline lookup failed, treating all findings as new",
				slog.String("scan_id", rec.ID),
				slog.String("error", err.Error()))
		}
		return nil
	}
	findings, err := o.store.Findings(prior.ID)
	if err != nil {
		o.log.Warn("baseline findings unreadable, treating all findings as new",
			slog.String("scan_id", rec.ID),
			slog.String("baseline", prior.ID),
			slog.String("error", err.Error()))
		return nil
	}
	o.log.Debug("delta baseline loaded",
		slog.String("scan_id", rec.ID),
		slog.String("baseline", prior.ID),
		slog.Int("findings", len(findings)))
	return delta.BuildIndex(prior.ID, findings)
}

func (o *Orchestrator) upload(ctx context.Context, rec *store.ScanRecord) error {
	findings, err := o.store.Findings(rec.ID)
	if err != nil {
		return err
	}
	upCtx, span := o.tracer.Start(ctx, "upload",
		trace.WithAttributes(attribute.Int("scan.findings", len(findings))))
	defer span.End()
	return o.uploader.Upload(upCtx, rec.ID, rec.Partition, findings)
}

func refsFor(snap *registry.Snapshot, checkID string) []finding.ComplianceRef {
	c, ok := snap.Get(checkID)
	if !ok {
		return nil
	}
	return c.Meta.Refs()
}

func errorRatio(t *store.Totals) float64 {
	executed := t.Pass + t.Fail + t.Error
	if executed == 0 {
		return 0
	}
	return float64(t.Error) / float64(executed)
}

// Serve consumes scan tasks from the queue until ctx is cancelled or the
// queue is closed and drained. Handled tasks are acked even when the
// scan ends FAILED; only infrastructure errors trigger redelivery.
func (o *Orchestrator) Serve(ctx context.Context, q *queue.Queue) error {
	for {
		task, err := q.Receive(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}

		if _, err := o.Execute(ctx, task); err != nil {
			o.log.Error("task processing failed, releasing for redelivery",
				slog.String("task_id", task.ID),
				slog.String("scan_id", task.ScanID),
				slog.Int("attempt", task.Attempt),
				slog.String("error", err.Error()))
			if nackErr := q.Nack(task.ID); nackErr != nil {
				o.log.Warn("release failed", slog.String("error", nackErr.Error()))
			}
			continue
		}
		if err := q.Ack(task.ID); err != nil {
			o.log.Warn("ack failed", slog.String("error", err.Error()))
		}
	}
}
