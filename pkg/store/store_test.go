package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsentry/cloudsentry/pkg/compliance"
	"github.com/cloudsentry/cloudsentry/pkg/finding"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func scanRec(id string, started time.Time) ScanRecord {
	return ScanRecord{
		ID:        id,
		Provider:  "local",
		Account:   "123456789012",
		StartedAt: started,
		Status:    StatusPending,
	}
}

func row(scanID, checkID, resourceID string, status finding.Status) finding.Finding {
	return finding.Finding{
		ScanID:         scanID,
		CheckID:        checkID,
		ResourceID:     resourceID,
		Status:         status,
		Severity:       finding.Medium,
		StatusExtended: string(status) + " fixture",
	}
}

func TestCreateGetScan(t *testing.T) {
	s := openStore(t)
	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.CreateScan(scanRec("scan-1", started)))

	got, err := s.GetScan("scan-1")
	require.NoError(t, err)
	assert.Equal(t, "scan-1", got.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "2026-03-14", got.Partition)
}

func TestCreateScanDuplicate(t *testing.T) {
	s := openStore(t)
	rec := scanRec("scan-1", time.Now().UTC())
	require.NoError(t, s.CreateScan(rec))

	err := s.CreateScan(rec)
	assert.ErrorIs(t, err, ErrScanExists)
}

func TestGetScanNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.GetScan("nope")
	assert.ErrorIs(t, err, ErrScanNotFound)
}

func TestUpdateScan(t *testing.T) {
	s := openStore(t)
	rec := scanRec("scan-1", time.Now().UTC())
	require.NoError(t, s.CreateScan(rec))

	rec.Status = StatusRunning
	require.NoError(t, s.UpdateScan(rec))

	got, err := s.GetScan("scan-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.NotEmpty(t, got.Partition, "update must not lose the partition")
}

func TestUpdateTerminalScanRejected(t *testing.T) {
	s := openStore(t)
	rec := scanRec("scan-1", time.Now().UTC())
	require.NoError(t, s.CreateScan(rec))

	rec.Status = StatusCompleted
	require.NoError(t, s.UpdateScan(rec))

	rec.Status = StatusFailed
	err := s.UpdateScan(rec)
	assert.ErrorIs(t, err, ErrTerminal)

	got, err := s.GetScan("scan-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestScanStatusPredicates(t *testing.T) {
	tests := []struct {
		status    ScanStatus
		terminal  bool
		persisted bool
	}{
		{StatusPending, false, false},
		{StatusRunning, false, false},
		{StatusCompleted, true, true},
		{StatusFailed, true, false},
		{StatusDegraded, true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.Equal(t, tt.persisted, tt.status.Persisted())
		})
	}
}

func TestUpsertFindingsIdempotent(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.CreateScan(scanRec("scan-1", time.Now().UTC())))

	batch := []finding.Finding{
		row("scan-1", "c1", "r1", finding.StatusPass),
		row("scan-1", "c1", "r2", finding.StatusFail),
		row("scan-1", "c2", "r1", finding.StatusPass),
	}
	n, err := s.UpsertFindings("scan-1", batch)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Full redelivery inserts nothing.
	n, err = s.UpsertFindings("scan-1", batch)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Partial overlap inserts only the new row.
	n, err = s.UpsertFindings("scan-1", []finding.Finding{
		row("scan-1", "c1", "r1", finding.StatusPass),
		row("scan-1", "c2", "r2", finding.StatusFail),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Findings("scan-1")
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestUpsertDuplicateKeepsFirstWrite(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.CreateScan(scanRec("scan-1", time.Now().UTC())))

	first := row("scan-1", "c1", "r1", finding.StatusPass)
	_, err := s.UpsertFindings("scan-1", []finding.Finding{first})
	require.NoError(t, err)

	// Same key, different payload: the stored row must not change.
	second := row("scan-1", "c1", "r1", finding.StatusPass)
	second.StatusExtended = "rewritten"
	n, err := s.UpsertFindings("scan-1", []finding.Finding{second})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := s.Findings("scan-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, first.StatusExtended, got[0].StatusExtended)
}

func TestUpsertFindingsUnknownScan(t *testing.T) {
	s := openStore(t)
	_, err := s.UpsertFindings("nope", []finding.Finding{row("nope", "c1", "r1", finding.StatusPass)})
	assert.ErrorIs(t, err, ErrScanNotFound)
}

func TestFindingsRoundTrip(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.CreateScan(scanRec("scan-1", time.Now().UTC())))

	f := row("scan-1", "c1", "r1", finding.StatusFail)
	f.Muted = true
	f.MutedBy = "staging-noise"
	f.Delta = finding.DeltaNew
	f.Region = "us-east-1"
	f.Tags = map[string]string{"env": "staging"}
	f.ComplianceRefs = []finding.ComplianceRef{{Framework: "CIS-2.0", Requirement: "1.1"}}

	_, err := s.UpsertFindings("scan-1", []finding.Finding{f})
	require.NoError(t, err)

	got, err := s.Findings("scan-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f, got[0])
}

func TestFindingsEmptyScan(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.CreateScan(scanRec("scan-1", time.Now().UTC())))

	got, err := s.Findings("scan-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListScansNewestFirst(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateScan(scanRec("scan-old", base)))
	require.NoError(t, s.CreateScan(scanRec("scan-mid", base.Add(time.Hour))))
	require.NoError(t, s.CreateScan(scanRec("scan-new", base.Add(2*time.Hour))))

	other := scanRec("scan-other", base.Add(3*time.Hour))
	other.Provider = "aws"
	require.NoError(t, s.CreateScan(other))

	got := s.ListScans("local", 0)
	require.Len(t, got, 3)
	assert.Equal(t, "scan-new", got[0].ID)
	assert.Equal(t, "scan-old", got[2].ID)

	assert.Len(t, s.ListScans("", 0), 4)
	assert.Len(t, s.ListScans("local", 2), 2)
}

func TestPriorPersisted(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	mk := func(id string, started time.Time, status ScanStatus) {
		rec := scanRec(id, started)
		require.NoError(t, s.CreateScan(rec))
		if status != StatusPending {
			rec.Status = status
			require.NoError(t, s.UpdateScan(rec))
		}
	}

	mk("scan-completed", base, StatusCompleted)
	mk("scan-failed", base.Add(time.Hour), StatusFailed)
	mk("scan-degraded", base.Add(2*time.Hour), StatusDegraded)
	mk("scan-running", base.Add(3*time.Hour), StatusRunning)

	// DEGRADED scans have fully persisted findings and beat an older
	// COMPLETED one; FAILED and RUNNING never qualify.
	got, err := s.PriorPersisted("local", base.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "scan-degraded", got.ID)

	// The cutoff excludes scans at or after it.
	got, err = s.PriorPersisted("local", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "scan-completed", got.ID)

	_, err = s.PriorPersisted("local", base)
	assert.ErrorIs(t, err, ErrNoPriorScan)

	_, err = s.PriorPersisted("gcp", base.Add(4*time.Hour))
	assert.ErrorIs(t, err, ErrNoPriorScan)
}

func TestRollupsRoundTrip(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.CreateScan(scanRec("scan-1", time.Now().UTC())))

	rollups := []compliance.Rollup{
		{Framework: "CIS-2.0", Requirement: "1.1", ScanID: "scan-1", PassCount: 2, FailCount: 1},
		{Framework: "SOC2", Requirement: "CC6.1", ScanID: "scan-1", PassCount: 1},
	}
	require.NoError(t, s.SaveRollups("scan-1", rollups))

	got, err := s.Rollups("scan-1")
	require.NoError(t, err)
	assert.Equal(t, rollups, got)
}

func TestRollupsNoneSaved(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.CreateScan(scanRec("scan-1", time.Now().UTC())))

	got, err := s.Rollups("scan-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReopenRecoversIndex(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateScan(scanRec("scan-1", time.Now().UTC())))
	_, err = s.UpsertFindings("scan-1", []finding.Finding{row("scan-1", "c1", "r1", finding.StatusPass)})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	got, err := s2.GetScan("scan-1")
	require.NoError(t, err)
	assert.Equal(t, "scan-1", got.ID)

	rows, err := s2.Findings("scan-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestTotalsAdd(t *testing.T) {
	var tot Totals
	add := func(status finding.Status, delta finding.Delta, muted bool) {
		f := finding.Finding{Status: status, Delta: delta, Muted: muted}
		tot.Add(&f)
	}

	add(finding.StatusPass, finding.DeltaNew, false)
	add(finding.StatusPass, finding.DeltaUnchanged, false)
	add(finding.StatusFail, finding.DeltaNew, true)
	add(finding.StatusFail, finding.DeltaUnchanged, false)
	add(finding.StatusError, finding.DeltaNew, false)

	assert.Equal(t, Totals{
		Pass:     2,
		Fail:     2,
		Error:    1,
		Muted:    1,
		NewPass:  1,
		NewFail:  1,
		NewMuted: 1,
	}, tot)
}
