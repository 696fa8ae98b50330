// Package defaults provides canonical default values for the entire codebase.
// This is the single source of truth for runtime configuration defaults.
//
// Usage:
//
//	cfg.BatchSize = defaults.FindingsBatchSize
//	cfg.Retry.MaxAttempts = defaults.RetryAttempts
//
// Do not hardcode values like `BatchSize: 1000` elsewhere; reference the
// appropriate constant from this package instead.
package defaults

import "time"

// Version is the current cloudsentry version
const Version = "1.3.0"

// ToolName is used for user agents, telemetry service names, and export keys.
const ToolName = "cloudsentry"

// ============================================================================
// CONCURRENCY SETTINGS
// ============================================================================

const (
	// WorkersPerService is the bounded worker-pool size for one provider
	// service. Pools are independent per service so one throttled service
	// cannot starve the others.
	WorkersPerService = 10

	// ResultBuffer is the capacity of the raw-result channel between the
	// execution engine and the downstream pipeline stages. A full buffer
	// blocks the workers, throttling provider calls when persistence stalls.
	ResultBuffer = 256
)

// ============================================================================
// RETRY SETTINGS
// ============================================================================

const (
	// RetryAttempts is the total attempt cap for transient provider errors.
	RetryAttempts = 5

	// RetryInitialDelay is the backoff base before the first retry.
	RetryInitialDelay = 100 * time.Millisecond

	// RetryMaxDelay bounds any single backoff sleep.
	RetryMaxDelay = 30 * time.Second
)

// ============================================================================
// RATE LIMITING
// ============================================================================

const (
	// ServiceRateLimit is the per-service request budget in calls per second.
	ServiceRateLimit = 50

	// ServiceRateBurst is the token-bucket burst for a service limiter.
	ServiceRateBurst = 10
)

// ============================================================================
// PERSISTENCE / EXPORT
// ============================================================================

const (
	// FindingsBatchSize is the maximum findings per store/export batch.
	FindingsBatchSize = 1000

	// ExportTimeout is the per-upload deadline for object-storage exports.
	ExportTimeout = 30 * time.Second

	// PartitionLayout is the date layout for findings partition buckets,
	// keyed by scan start date.
	PartitionLayout = "2006-01-02"
)

// ============================================================================
// TASK QUEUE
// ============================================================================

const (
	// QueueVisibilityTimeout is how long a leased task stays invisible
	// before it is redelivered.
	QueueVisibilityTimeout = 5 * time.Minute

	// QueueMaxAttempts caps redeliveries of one task.
	QueueMaxAttempts = 3

	// QueueRetryDelay is the initial delay before a redelivery.
	QueueRetryDelay = 10 * time.Second
)

// ============================================================================
// SCAN BUDGETS
// ============================================================================

const (
	// ScanTimeout is the overall wall-clock budget for one scan.
	ScanTimeout = 2 * time.Hour

	// MaxErrorRatio is the check-level ERROR ratio above which a scan
	// completes DEGRADED instead of COMPLETED. Zero disables the policy.
	MaxErrorRatio = 0.0
)
