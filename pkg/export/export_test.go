package export

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/jsonutil"
	"github.com/cloudsentry/cloudsentry/pkg/retry"
	"github.com/cloudsentry/cloudsentry/pkg/testutil"
)

// recordingSink remembers every batch and can simulate idempotent
// duplicate detection by key.
type recordingSink struct {
	mu      sync.Mutex
	batches [][]finding.Finding
	seen    map[finding.Key]bool
}

func (s *recordingSink) UpsertFindings(scanID string, batch []finding.Finding) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[finding.Key]bool)
	}
	s.batches = append(s.batches, batch)
	inserted := 0
	for _, f := range batch {
		if s.seen[f.Key()] {
			continue
		}
		s.seen[f.Key()] = true
		inserted++
	}
	return inserted, nil
}

func fixture(checkID, resourceID string) finding.Finding {
	return finding.Finding{
		ScanID:     "scan-1",
		CheckID:    checkID,
		ResourceID: resourceID,
		Status:     finding.StatusPass,
	}
}

func TestBatchWriterFlushesAtSize(t *testing.T) {
	sink := &recordingSink{}
	w := NewBatchWriter("scan-1", sink, WithBatchSize(2))

	require.NoError(t, w.Write(fixture("c1", "r1")))
	assert.Empty(t, sink.batches, "first write stays buffered")

	require.NoError(t, w.Write(fixture("c1", "r2")))
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 2)

	require.NoError(t, w.Write(fixture("c1", "r3")))
	require.NoError(t, w.Flush())
	require.Len(t, sink.batches, 2)
	assert.Len(t, sink.batches[1], 1)

	sum := w.Summary()
	assert.Equal(t, Summary{Written: 3, Duplicates: 0, Batches: 2}, sum)
}

func TestBatchWriterFlushEmptyNoop(t *testing.T) {
	sink := &recordingSink{}
	w := NewBatchWriter("scan-1", sink, WithBatchSize(10))
	require.NoError(t, w.Flush())
	assert.Empty(t, sink.batches)
	assert.Equal(t, Summary{}, w.Summary())
}

func TestBatchWriterCountsDuplicates(t *testing.T) {
	sink := &recordingSink{}
	w := NewBatchWriter("scan-1", sink, WithBatchSize(2))

	require.NoError(t, w.Write(fixture("c1", "r1")))
	require.NoError(t, w.Write(fixture("c1", "r2")))
	// Replay the same findings, as a redelivered task would.
	require.NoError(t, w.Write(fixture("c1", "r1")))
	require.NoError(t, w.Write(fixture("c1", "r2")))
	require.NoError(t, w.Flush())

	sum := w.Summary()
	assert.Equal(t, 2, sum.Written)
	assert.Equal(t, 2, sum.Duplicates)
	assert.Equal(t, 2, sum.Batches)
}

func TestBatchWriterSinkFailure(t *testing.T) {
	sink := &testutil.FailingSink{Limit: 1}
	w := NewBatchWriter("scan-1", sink, WithBatchSize(2))

	require.NoError(t, w.Write(fixture("c1", "r1")))
	require.NoError(t, w.Write(fixture("c1", "r2")))
	require.Equal(t, 2, sink.Rows())

	require.NoError(t, w.Write(fixture("c1", "r3")))
	err := w.Write(fixture("c1", "r4"))
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrFault)

	sum := w.Summary()
	assert.Equal(t, 2, sum.Written)
	assert.Equal(t, 1, sum.Batches)
}

func uploadRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitDelay: time.Millisecond, MaxDelay: time.Millisecond, Strategy: retry.Constant}
}

func TestUploadSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotDoc exportDocument
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, jsonutil.UnmarshalRead(r.Body, &gotDoc))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	u := NewUploader(UploadConfig{URL: srv.URL + "/findings/", Token: "sekrit", Retry: uploadRetry()})
	findings := []finding.Finding{fixture("c1", "r1")}
	err := u.Upload(context.Background(), "scan-1", "2026-03-14", findings)
	require.NoError(t, err)

	assert.Equal(t, "/findings/2026-03-14/scan-1.json", gotPath)
	assert.Equal(t, "Bearer sekrit", gotAuth)
	assert.Equal(t, "scan-1", gotDoc.ScanID)
	assert.Equal(t, "2026-03-14", gotDoc.Partition)
	assert.Len(t, gotDoc.Findings, 1)
}

func TestUploadClientErrorNoRetry(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "no such bucket", http.StatusForbidden)
	}))
	defer srv.Close()

	u := NewUploader(UploadConfig{URL: srv.URL, Retry: uploadRetry()})
	err := u.Upload(context.Background(), "scan-1", "2026-03-14", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int64(1), hits.Load(), "4xx must not be retried")
}

func TestUploadServerErrorRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "backend busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := NewUploader(UploadConfig{URL: srv.URL, Retry: uploadRetry()})
	err := u.Upload(context.Background(), "scan-1", "2026-03-14", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), hits.Load())
}

func TestUploadServerErrorExhausted(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "backend busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	u := NewUploader(UploadConfig{URL: srv.URL, Retry: uploadRetry()})
	err := u.Upload(context.Background(), "scan-1", "2026-03-14", nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "503"))
	assert.Equal(t, int64(3), hits.Load())
}
