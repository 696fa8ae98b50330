// Package store provides partitioned, idempotent persistence for scans,
// findings, and compliance rollups.
//
// Findings are routed to a time-bucketed partition keyed by scan start
// date (one directory per bucket, created on first write). Within a
// partition each scan owns one findings file keyed by the write-once
// (scan_id, check_id, resource_id) hash, so re-delivery of an
// already-applied batch is a no-op on the already-written rows.
//
// Data is stored in JSON with atomic temp-file-and-rename writes for
// portability and simplicity. For high-volume production use, consider
// upgrading to a database backend behind the same interface.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cloudsentry/cloudsentry/pkg/compliance"
	"github.com/cloudsentry/cloudsentry/pkg/defaults"
	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/jsonutil"
)

// ScanStatus is the lifecycle state of a scan record.
type ScanStatus string

const (
	StatusPending   ScanStatus = "PENDING"
	StatusRunning   ScanStatus = "RUNNING"
	StatusCompleted ScanStatus = "COMPLETED"
	StatusFailed    ScanStatus = "FAILED"
	StatusDegraded  ScanStatus = "DEGRADED"
)

// Terminal reports whether no further transition may leave the status.
func (s ScanStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDegraded:
		return true
	}
	return false
}

// Persisted reports whether a scan in this state has its findings fully
// and correctly persisted, making it eligible as a delta baseline.
func (s ScanStatus) Persisted() bool {
	return s == StatusCompleted || s == StatusDegraded
}

// Totals is the aggregate classification of a scan's findings. It is
// always recomputable from the findings themselves and never drifts.
type Totals struct {
	Pass     int `json:"pass"`
	Fail     int `json:"fail"`
	Error    int `json:"error"`
	Muted    int `json:"muted"`
	NewPass  int `json:"new_pass"`
	NewFail  int `json:"new_fail"`
	NewMuted int `json:"new_muted"`
}

// Add counts one finding into the totals.
func (t *Totals) Add(f *finding.Finding) {
	switch f.Status {
	case finding.StatusPass:
		t.Pass++
		if f.Delta == finding.DeltaNew {
			t.NewPass++
		}
	case finding.StatusFail:
		t.Fail++
		if f.Delta == finding.DeltaNew {
			t.NewFail++
		}
	case finding.StatusError:
		t.Error++
	}
	if f.Muted {
		t.Muted++
		if f.Delta == finding.DeltaNew {
			t.NewMuted++
		}
	}
}

// ScanRecord is the persisted state of one scan.
type ScanRecord struct {
	ID          string     `json:"id"`
	Provider    string     `json:"provider"`
	Account     string     `json:"account,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
	Status      ScanStatus `json:"status"`
	Totals      Totals     `json:"totals"`
	// Partition is the date bucket the scan's findings live in,
	// derived from StartedAt at creation time.
	Partition string `json:"partition"`
	// Cause records why a scan ended FAILED or DEGRADED.
	Cause string `json:"cause,omitempty"`
}

// Sentinel errors. Callers should use errors.Is() to check for these.
var (
	// ErrScanNotFound indicates an unknown scan id.
	ErrScanNotFound = errors.New("store: scan not found")

	// ErrScanExists indicates a CreateScan for an id already present.
	ErrScanExists = errors.New("store: scan already exists")

	// ErrTerminal indicates an update to a COMPLETED/FAILED/DEGRADED scan.
	ErrTerminal = errors.New("store: scan is terminal")

	// ErrNoPriorScan indicates no eligible delta baseline exists.
	ErrNoPriorScan = errors.New("store: no prior persisted scan")
)

// Store manages scan records and partitioned findings on disk.
type Store struct {
	mu       sync.RWMutex
	basePath string
	index    *scanIndex
}

type scanIndex struct {
	Scans map[string]*ScanRecord `json:"scans"`
}

// Open creates or opens a store rooted at basePath.
func Open(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	s := &Store{
		basePath: basePath,
		index:    &scanIndex{Scans: make(map[string]*ScanRecord)},
	}
	if err := s.loadIndex(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.basePath, "scans.json")
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return err
	}
	return jsonutil.Unmarshal(data, s.index)
}

// saveIndex persists the scan index using an atomic write: temp file
// first, then rename, so a crash never leaves a truncated index.
func (s *Store) saveIndex() error {
	data, err := jsonutil.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.indexPath(), data)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// CreateScan registers a new scan. The partition bucket is derived from
// the scan's start date.
func (s *Store) CreateScan(rec ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index.Scans[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrScanExists, rec.ID)
	}
	if rec.Partition == "" {
		rec.Partition = rec.StartedAt.UTC().Format(defaults.PartitionLayout)
	}
	s.index.Scans[rec.ID] = &rec
	return s.saveIndex()
}

// GetScan returns a copy of the scan record.
func (s *Store) GetScan(id string) (*ScanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.index.Scans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	c := *rec
	return &c, nil
}

// UpdateScan persists new state for a scan. Terminal scans are immutable.
func (s *Store) UpdateScan(rec ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.index.Scans[rec.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScanNotFound, rec.ID)
	}
	if cur.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, rec.ID, cur.Status)
	}
	if rec.Partition == "" {
		rec.Partition = cur.Partition
	}
	s.index.Scans[rec.ID] = &rec
	return s.saveIndex()
}

// ListScans returns scans for a provider sorted newest first. Empty
// provider lists all.
func (s *Store) ListScans(providerID string, limit int) []ScanRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ScanRecord
	for _, rec := range s.index.Scans {
		if providerID != "" && rec.Provider != providerID {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// PriorPersisted returns the most recent scan for the provider whose
// findings are fully persisted (COMPLETED or DEGRADED) and which started
// before the given time. It is the delta baseline lookup.
func (s *Store) PriorPersisted(providerID string, before time.Time) (*ScanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *ScanRecord
	for _, rec := range s.index.Scans {
		if rec.Provider != providerID || !rec.Status.Persisted() {
			continue
		}
		if !rec.StartedAt.Before(before) {
			continue
		}
		if best == nil || rec.StartedAt.After(best.StartedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: provider %s", ErrNoPriorScan, providerID)
	}
	c := *best
	return &c, nil
}

// partitionDir returns the directory for a date bucket, creating it if
// absent. MkdirAll is idempotent, so concurrent scans writing to the same
// bucket never error on creation.
func (s *Store) partitionDir(partition string) (string, error) {
	dir := filepath.Join(s.basePath, "findings", partition)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating partition %s: %w", partition, err)
	}
	return dir, nil
}

func (s *Store) findingsPath(partition, scanID string) (string, error) {
	dir, err := s.partitionDir(partition)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, scanID+".json"), nil
}

// findingsFile maps the finding key hash (hex) to the stored row.
type findingsFile map[string]finding.Finding

func hashKey(k finding.Key) string {
	return strconv.FormatUint(k.Hash(), 16)
}

// UpsertFindings writes a batch idempotently: rows whose key already
// exists are left untouched, new rows are inserted, and the file is
// rewritten atomically. It returns the number of rows actually inserted,
// so a fully redelivered batch reports zero.
func (s *Store) UpsertFindings(scanID string, batch []finding.Finding) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index.Scans[scanID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}

	path, err := s.findingsPath(rec.Partition, scanID)
	if err != nil {
		return 0, err
	}

	rows := make(findingsFile)
	if data, err := os.ReadFile(path); err == nil {
		if err := jsonutil.Unmarshal(data, &rows); err != nil {
			return 0, fmt.Errorf("corrupt findings file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return 0, err
	}

	inserted := 0
	for i := range batch {
		f := batch[i]
		key := hashKey(f.Key())
		if _, exists := rows[key]; exists {
			continue
		}
		rows[key] = f
		inserted++
	}

	if inserted == 0 {
		return 0, nil
	}

	data, err := jsonutil.Marshal(rows)
	if err != nil {
		return 0, err
	}
	if err := atomicWrite(path, data); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Findings returns all stored findings for a scan, in unspecified order.
func (s *Store) Findings(scanID string) ([]finding.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.index.Scans[scanID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}

	path := filepath.Join(s.basePath, "findings", rec.Partition, scanID+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows := make(findingsFile)
	if err := jsonutil.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("corrupt findings file %s: %w", path, err)
	}

	out := make([]finding.Finding, 0, len(rows))
	for _, f := range rows {
		out = append(out, f)
	}
	return out, nil
}

// SaveRollups persists the compliance rollups computed for a scan. Rollups
// are recomputed per scan and overwritten whole, never patched.
func (s *Store) SaveRollups(scanID string, rollups []compliance.Rollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index.Scans[scanID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	dir, err := s.partitionDir(rec.Partition)
	if err != nil {
		return err
	}
	data, err := jsonutil.Marshal(rollups)
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(dir, scanID+".rollups.json"), data)
}

// Rollups returns the persisted rollups for a scan, or nil when none
// were saved.
func (s *Store) Rollups(scanID string) ([]compliance.Rollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.index.Scans[scanID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	path := filepath.Join(s.basePath, "findings", rec.Partition, scanID+".rollups.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []compliance.Rollup
	if err := jsonutil.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the store (no-op for file-based storage).
func (s *Store) Close() error {
	return nil
}
