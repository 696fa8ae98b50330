// Package engine schedules and runs checks against live provider
// resources with bounded concurrency, per-service rate limiting, and
// transient-error retry.
//
// One Run produces a lazy stream of raw results consumed by the
// downstream pipeline stages as they arrive; nothing is materialized, so
// memory stays bounded under large resource counts. Worker pools are
// sized per provider service, each with its own rate limiter, so one
// throttled service cannot starve the others.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/cloudsentry/cloudsentry/pkg/defaults"
	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/provider"
	"github.com/cloudsentry/cloudsentry/pkg/registry"
	"github.com/cloudsentry/cloudsentry/pkg/retry"
)

// Config holds execution settings.
type Config struct {
	// WorkersPerService bounds the worker pool for one provider service.
	WorkersPerService int

	// RateLimit is the per-service call budget in requests per second.
	RateLimit int

	// RateBurst is the per-service token-bucket burst.
	RateBurst int

	// Retry governs transient provider errors. Zero value takes the
	// pipeline default (5 attempts from 100 ms, exponential).
	Retry retry.Config

	// ResultBuffer is the capacity of the output channel. A full buffer
	// blocks workers, throttling provider calls when downstream stalls.
	ResultBuffer int
}

// Observer receives execution telemetry. Implemented by metrics.Pipeline;
// a nil observer disables collection.
type Observer interface {
	ObserveCheck(providerID, service, status string)
	ObserveRetry(providerID, service string)
	WorkerStarted()
	WorkerDone()
}

// Engine runs checks for one or more scans. It holds no per-scan state;
// each Run owns its session and its stream.
type Engine struct {
	cfg Config
	log *slog.Logger
	obs Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom structured logger for the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithObserver wires execution telemetry.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.obs = o }
}

// New creates an execution engine, applying defaults for invalid config.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.WorkersPerService <= 0 {
		cfg.WorkersPerService = defaults.WorkersPerService
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaults.ServiceRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaults.ServiceRateBurst
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = defaults.ResultBuffer
	}
	e := &Engine{cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Unit is one (check, resource) pair of work.
type Unit struct {
	Check    *registry.Check
	Resource provider.Resource
}

// Stats tracks execution progress with atomic counters.
type Stats struct {
	Total     int64
	Completed atomic.Int64
	Pass      atomic.Int64
	Fail      atomic.Int64
	Errored   atomic.Int64
	Skipped   atomic.Int64 // drained without execution after a fatal session error
}

// Stream is the lazy result sequence of one Run. Results closes when all
// workers are done; Err is valid after that.
type Stream struct {
	Results <-chan finding.RawResult
	Stats   *Stats

	err  atomic.Pointer[error]
	done chan struct{}
}

// Err returns the fatal session-level error that aborted the run, or the
// context error that cancelled it, or nil. Per-unit check errors never
// appear here; they flow through Results as ERROR rows.
func (st *Stream) Err() error {
	<-st.done
	if p := st.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (st *Stream) setErr(err error) {
	if err == nil {
		return
	}
	e := err
	st.err.CompareAndSwap(nil, &e)
}

// Pair builds the (check, resource) cross product for a scan. A check
// pairs with resources of its service whose type matches the check's
// resource-type template (glob syntax; "*" or empty matches all).
func Pair(checks []*registry.Check, resources []provider.Resource) []Unit {
	byService := make(map[string][]provider.Resource)
	for _, r := range resources {
		byService[r.Service] = append(byService[r.Service], r)
	}

	var units []Unit
	for _, c := range checks {
		for _, r := range byService[c.Meta.Service] {
			if !typeMatches(c.Meta.ResourceType, r.Type) {
				continue
			}
			units = append(units, Unit{Check: c, Resource: r})
		}
	}
	return units
}

func typeMatches(template, resourceType string) bool {
	if template == "" || template == "*" {
		return true
	}
	ok, err := path.Match(template, resourceType)
	return err == nil && ok
}

// Run executes the units against the provider session and returns a
// stream of raw results. The session is exclusively owned by this run.
//
// Cancellation semantics: when ctx is cancelled, in-flight units finish
// and their results are still emitted, but no new units are dispatched.
// A session-level authentication failure aborts the run: remaining units
// are drained without execution and Stream.Err reports the cause.
func (e *Engine) Run(ctx context.Context, prov provider.Provider, sess provider.Session, units []Unit) *Stream {
	out := make(chan finding.RawResult, e.cfg.ResultBuffer)
	st := &Stream{
		Results: out,
		Stats:   &Stats{Total: int64(len(units))},
		done:    make(chan struct{}),
	}

	// Independent queue + limiter per service.
	byService := make(map[string][]Unit)
	for _, u := range units {
		byService[u.Check.Meta.Service] = append(byService[u.Check.Meta.Service], u)
	}

	runCtx, cancel := context.WithCancel(ctx)
	call := provider.Bind(prov, sess)

	var aborted atomic.Bool
	abort := func(err error) {
		if aborted.CompareAndSwap(false, true) {
			e.log.Error("fatal session error, draining remaining work",
				slog.String("provider", prov.Name()),
				slog.String("error", err.Error()))
			st.setErr(err)
			cancel()
		}
	}

	var wg sync.WaitGroup
	for service, queue := range byService {
		limiter := rate.NewLimiter(rate.Limit(e.cfg.RateLimit), e.cfg.RateBurst)
		tasks := make(chan Unit)

		workers := e.cfg.WorkersPerService
		if len(queue) < workers {
			workers = len(queue)
		}
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for u := range tasks {
					if aborted.Load() {
						st.Stats.Skipped.Add(1)
						st.Stats.Completed.Add(1)
						continue
					}
					if err := limiter.Wait(runCtx); err != nil {
						st.Stats.Skipped.Add(1)
						st.Stats.Completed.Add(1)
						continue
					}
					res := e.executeUnit(runCtx, prov.Name(), call, u, abort)
					st.Stats.Completed.Add(1)
					switch res.Status {
					case finding.StatusPass:
						st.Stats.Pass.Add(1)
					case finding.StatusFail:
						st.Stats.Fail.Add(1)
					case finding.StatusError:
						st.Stats.Errored.Add(1)
					}
					if e.obs != nil {
						e.obs.ObserveCheck(prov.Name(), service, string(res.Status))
					}
					// Blocks when downstream stalls. Backpressure
					// propagates all the way to provider calls.
					out <- res
				}
			}()
		}

		wg.Add(1)
		go func(queue []Unit) {
			defer wg.Done()
			defer close(tasks)
			for _, u := range queue {
				select {
				case <-runCtx.Done():
					// Drain: count the rest as skipped, dispatch nothing.
					st.Stats.Skipped.Add(1)
					st.Stats.Completed.Add(1)
				case tasks <- u:
				}
			}
		}(queue)
	}

	go func() {
		wg.Wait()
		cancel()
		if err := ctx.Err(); err != nil {
			st.setErr(err)
		}
		close(out)
		close(st.done)
	}()

	return st
}

// executeUnit runs one (check, resource) pair, retrying transient errors
// up to the attempt cap. The returned result always carries the pair's
// identity; errors are encoded as ERROR status, never propagated.
func (e *Engine) executeUnit(ctx context.Context, providerID string, call provider.CallFunc, u Unit, abort func(error)) finding.RawResult {
	if e.obs != nil {
		e.obs.WorkerStarted()
		defer e.obs.WorkerDone()
	}

	meta := &u.Check.Meta
	res := finding.RawResult{
		CheckID:    meta.CheckID,
		ResourceID: u.Resource.ID,
		Severity:   meta.Severity,
		Service:    meta.Service,
		Account:    u.Resource.Account,
		Region:     u.Resource.Region,
		Tags:       u.Resource.Tags,
	}

	var status finding.Status
	var extended string
	attempt := 0

	err := retry.Do(ctx, e.cfg.Retry, func() error {
		if attempt > 0 && e.obs != nil {
			e.obs.ObserveRetry(providerID, meta.Service)
		}
		attempt++

		var logicErr error
		status, extended, logicErr = u.Check.Logic(ctx, call, u.Resource)
		if logicErr == nil {
			return nil
		}
		if provider.IsAuth(logicErr) {
			abort(logicErr)
			return retry.Stop(logicErr)
		}
		if provider.IsTransient(logicErr) {
			return logicErr
		}
		// Permanent and unclassified errors are recorded immediately.
		return retry.Stop(logicErr)
	})

	if err != nil {
		res.Status = finding.StatusError
		res.StatusExtended = fmt.Sprintf("check failed after %d attempt(s): %v", attempt, err)
		e.log.Debug("check errored",
			slog.String("check", meta.CheckID),
			slog.String("resource", u.Resource.ID),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()))
		return res
	}

	res.Status = status
	res.StatusExtended = extended
	return res
}
