// Package metrics exposes pipeline metrics for Prometheus scraping:
// counters for check executions, retries, findings, batch commits, and
// export failures, plus a scan-duration histogram. An optional HTTP
// server serves the registry at /metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline holds the metric instruments for one process. It is safe for
// concurrent use; all instruments are prometheus natives.
type Pipeline struct {
	registry *prometheus.Registry

	checksTotal     *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	findingsTotal   *prometheus.CounterVec
	batchesTotal    prometheus.Counter
	exportFailures  prometheus.Counter
	scansTotal      *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	inflightWorkers prometheus.Gauge

	server *http.Server
	mu     sync.Mutex
	closed bool
}

// Options configures the metrics pipeline.
type Options struct {
	// Port for the metrics server; 0 disables the server and metrics are
	// collection-only (useful in tests).
	Port int

	// Path for the metrics endpoint (default: "/metrics").
	Path string
}

// NewPipeline creates the instruments on a private registry so the
// process's default registry stays clean.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Path == "" {
		opts.Path = "/metrics"
	}

	registry := prometheus.NewRegistry()
	p := &Pipeline{registry: registry}

	p.checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudsentry_checks_total",
			Help: "Check invocations by provider, service, and outcome status",
		},
		[]string{"provider", "service", "status"},
	)
	p.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudsentry_retries_total",
			Help: "Transient-error retries by provider and service",
		},
		[]string{"provider", "service"},
	)
	p.findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudsentry_findings_total",
			Help: "Findings produced by status and delta classification",
		},
		[]string{"status", "delta"},
	)
	p.batchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cloudsentry_batches_committed_total",
		Help: "Finding batches committed to the store",
	})
	p.exportFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cloudsentry_export_failures_total",
		Help: "Object-storage export batches that exhausted retries",
	})
	p.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudsentry_scans_total",
			Help: "Scans by terminal status",
		},
		[]string{"provider", "status"},
	)
	p.scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cloudsentry_scan_duration_seconds",
		Help:    "Wall-clock scan duration",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
	p.inflightWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cloudsentry_inflight_workers",
		Help: "Engine workers currently executing a check",
	})

	collectors := []prometheus.Collector{
		p.checksTotal, p.retriesTotal, p.findingsTotal, p.batchesTotal,
		p.exportFailures, p.scansTotal, p.scanDuration, p.inflightWorkers,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("registering metric: %w", err)
		}
	}

	if opts.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle(opts.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		p.server = &http.Server{
			Addr:         fmt.Sprintf(":%d", opts.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			// Server errors after Close are expected; startup errors
			// surface as a dead endpoint, never a dead scan.
			_ = p.server.ListenAndServe()
		}()
	}

	return p, nil
}

// ObserveCheck records one check invocation outcome.
func (p *Pipeline) ObserveCheck(providerID, service, status string) {
	p.checksTotal.WithLabelValues(providerID, service, status).Inc()
}

// ObserveRetry records one transient-error retry.
func (p *Pipeline) ObserveRetry(providerID, service string) {
	p.retriesTotal.WithLabelValues(providerID, service).Inc()
}

// ObserveFinding records one classified finding.
func (p *Pipeline) ObserveFinding(status, delta string) {
	p.findingsTotal.WithLabelValues(status, delta).Inc()
}

// ObserveBatch records one committed batch.
func (p *Pipeline) ObserveBatch() {
	p.batchesTotal.Inc()
}

// ObserveExportFailure records one export batch that exhausted retries.
func (p *Pipeline) ObserveExportFailure() {
	p.exportFailures.Inc()
}

// ObserveScan records a scan reaching a terminal status.
func (p *Pipeline) ObserveScan(providerID, status string, d time.Duration) {
	p.scansTotal.WithLabelValues(providerID, status).Inc()
	p.scanDuration.Observe(d.Seconds())
}

// WorkerStarted / WorkerDone track in-flight engine workers.
func (p *Pipeline) WorkerStarted() { p.inflightWorkers.Inc() }
func (p *Pipeline) WorkerDone()    { p.inflightWorkers.Dec() }

// Registry exposes the private registry for test gathering.
func (p *Pipeline) Registry() *prometheus.Registry {
	return p.registry
}

// Close shuts the metrics server down, if one was started.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.server != nil {
		return p.server.Shutdown(ctx)
	}
	return nil
}
