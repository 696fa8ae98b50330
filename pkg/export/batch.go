// Package export moves findings out of the pipeline: batched idempotent
// writes into the local store, and optional uploads of the exported
// document to an object-storage HTTP endpoint.
package export

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cloudsentry/cloudsentry/pkg/defaults"
	"github.com/cloudsentry/cloudsentry/pkg/finding"
)

// Sink persists a batch of findings. Implemented by store.Store.
type Sink interface {
	UpsertFindings(scanID string, batch []finding.Finding) (int, error)
}

// Observer receives export telemetry. Implemented by metrics.Pipeline.
type Observer interface {
	ObserveFinding(status, delta string)
	ObserveBatch()
	ObserveExportFailure()
}

// Summary reports what a writer actually persisted.
type Summary struct {
	Written    int // rows inserted by the sink
	Duplicates int // rows the sink already had (idempotent replays)
	Batches    int // flushes issued
}

// BatchWriter buffers findings for one scan and flushes them to the sink
// in fixed-size batches. Writes are idempotent: the sink keeps the first
// row per finding key and reports duplicates back, so re-running a scan
// (or redelivering its task) never multiplies findings.
//
// When the batch size is reached, findings are automatically flushed;
// call Flush before reading the Summary to push the final partial batch.
type BatchWriter struct {
	scanID string
	sink   Sink
	size   int
	log    *slog.Logger
	obs    Observer

	mu      sync.Mutex
	buffer  []finding.Finding
	summary Summary
}

// WriterOption configures a BatchWriter.
type WriterOption func(*BatchWriter)

// WithLogger sets a custom structured logger for the writer.
func WithLogger(l *slog.Logger) WriterOption {
	return func(w *BatchWriter) { w.log = l }
}

// WithObserver wires batch telemetry.
func WithObserver(o Observer) WriterOption {
	return func(w *BatchWriter) { w.obs = o }
}

// WithBatchSize overrides the default batch size.
func WithBatchSize(n int) WriterOption {
	return func(w *BatchWriter) {
		if n > 0 {
			w.size = n
		}
	}
}

// NewBatchWriter creates a batching writer for one scan.
func NewBatchWriter(scanID string, sink Sink, opts ...WriterOption) *BatchWriter {
	w := &BatchWriter{
		scanID: scanID,
		sink:   sink,
		size:   defaults.FindingsBatchSize,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.buffer = make([]finding.Finding, 0, w.size)
	return w
}

// Write buffers one finding, flushing when the batch is full.
func (w *BatchWriter) Write(f finding.Finding) error {
	w.mu.Lock()
	w.buffer = append(w.buffer, f)
	if w.obs != nil {
		w.obs.ObserveFinding(string(f.Status), string(f.Delta))
	}
	if len(w.buffer) < w.size {
		w.mu.Unlock()
		return nil
	}
	batch := w.buffer
	w.buffer = make([]finding.Finding, 0, w.size)
	w.mu.Unlock()

	return w.flush(batch)
}

// Flush pushes any buffered findings to the sink.
func (w *BatchWriter) Flush() error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.buffer
	w.buffer = make([]finding.Finding, 0, w.size)
	w.mu.Unlock()

	return w.flush(batch)
}

// Summary returns the persistence totals accumulated so far.
func (w *BatchWriter) Summary() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.summary
}

func (w *BatchWriter) flush(batch []finding.Finding) error {
	inserted, err := w.sink.UpsertFindings(w.scanID, batch)
	if err != nil {
		return fmt.Errorf("export: persist batch of %d: %w", len(batch), err)
	}

	w.mu.Lock()
	w.summary.Written += inserted
	w.summary.Duplicates += len(batch) - inserted
	w.summary.Batches++
	w.mu.Unlock()

	if w.obs != nil {
		w.obs.ObserveBatch()
	}
	w.log.Debug("findings batch persisted",
		slog.String("scan_id", w.scanID),
		slog.Int("batch", len(batch)),
		slog.Int("inserted", inserted))
	return nil
}
