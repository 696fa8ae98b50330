// Package testutil provides shared test helpers: fixture checks and
// resources, fault injection, goroutine leak detection, and concurrency
// harnesses.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/provider"
	"github.com/cloudsentry/cloudsentry/pkg/registry"
)

// ErrFault is the sentinel error returned by fault injection helpers.
var ErrFault = errors.New("injected fault")

// Check builds a catalog check whose logic always returns the given
// status. The check targets every resource of the service.
func Check(providerID, checkID, service string, sev finding.Severity, status finding.Status) registry.Check {
	return registry.Check{
		Meta: Metadata(providerID, checkID, service, sev),
		Logic: func(ctx context.Context, call provider.CallFunc, res provider.Resource) (finding.Status, string, error) {
			return status, string(status) + " by fixture", nil
		},
	}
}

// ErroringCheck builds a check whose logic fails with err on every call.
func ErroringCheck(providerID, checkID, service string, err error) registry.Check {
	return registry.Check{
		Meta: Metadata(providerID, checkID, service, finding.Medium),
		Logic: func(ctx context.Context, call provider.CallFunc, res provider.Resource) (finding.Status, string, error) {
			return "", "", err
		},
	}
}

// FlakyCheck builds a check that fails with err the first failures
// calls, then passes. Call counting is shared across resources.
func FlakyCheck(providerID, checkID, service string, failures int, err error) registry.Check {
	var mu sync.Mutex
	calls := 0
	return registry.Check{
		Meta: Metadata(providerID, checkID, service, finding.Medium),
		Logic: func(ctx context.Context, call provider.CallFunc, res provider.Resource) (finding.Status, string, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n <= failures {
				return "", "", err
			}
			return finding.StatusPass, "recovered", nil
		},
	}
}

// Metadata builds minimal valid check metadata.
func Metadata(providerID, checkID, service string, sev finding.Severity) registry.Metadata {
	return registry.Metadata{
		Provider:     providerID,
		CheckID:      checkID,
		Service:      service,
		Severity:     sev,
		ResourceType: "*",
	}
}

// Resource builds a fixture resource.
func Resource(id, service, region string) provider.Resource {
	return provider.Resource{
		ID:      id,
		Type:    service + "_instance",
		Service: service,
		Account: "123456789012",
		Region:  region,
	}
}

// GoroutineTracker captures goroutine count before/after a test to
// detect leaks.
type GoroutineTracker struct {
	before int
}

// TrackGoroutines snapshots the current goroutine count. Call CheckLeaks
// after.
func TrackGoroutines() *GoroutineTracker {
	runtime.Gosched()
	return &GoroutineTracker{before: runtime.NumGoroutine()}
}

// CheckLeaks waits briefly for goroutines to drain, then fails the test
// if more goroutines are running than when tracking started. tolerance
// allows N extra goroutines for runtime jitter.
func (g *GoroutineTracker) CheckLeaks(t *testing.T, tolerance int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runtime.Gosched()
		if runtime.NumGoroutine() <= g.before+tolerance {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	after := runtime.NumGoroutine()
	if after > g.before+tolerance {
		t.Errorf("goroutine leak: before=%d after=%d tolerance=%d", g.before, after, tolerance)
	}
}

// AssertTimeout runs fn and fails if it doesn't complete within d.
func AssertTimeout(t *testing.T, name string, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s: timed out after %v (possible deadlock)", name, d)
	}
}

// RunConcurrently runs fn count times across goroutines and waits for
// all to finish. Useful for race condition testing.
func RunConcurrently(count int, fn func(i int)) {
	var wg sync.WaitGroup
	start := make(chan struct{})
	wg.Add(count)
	for i := range count {
		go func(idx int) {
			defer wg.Done()
			<-start
			fn(idx)
		}(i)
	}
	close(start)
	wg.Wait()
}

// FailingSink is an export sink that fails after N successful batches.
type FailingSink struct {
	Limit int

	mu      sync.Mutex
	batches int
	rows    int
}

func (s *FailingSink) UpsertFindings(scanID string, batch []finding.Finding) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batches >= s.Limit {
		return 0, fmt.Errorf("%w: batch %d", ErrFault, s.batches+1)
	}
	s.batches++
	s.rows += len(batch)
	return len(batch), nil
}

// Rows reports how many findings the sink accepted.
func (s *FailingSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}
