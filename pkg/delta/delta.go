// Package delta classifies a scan's findings as NEW or UNCHANGED relative
// to the prior completed scan for the same provider.
//
// The prior scan's findings are loaded once into an immutable index keyed
// by (check_id, resource_id); the index never updates during a scan.
// A current finding is NEW when its key is absent from the index or its
// status differs from the prior status; otherwise it is UNCHANGED. With no
// prior completed scan, every finding is NEW by definition.
package delta

import (
	"github.com/cloudsentry/cloudsentry/pkg/finding"
)

type indexKey struct {
	checkID    string
	resourceID string
}

// Index is a read-only snapshot of a prior scan's findings. A nil *Index
// is valid and classifies everything as NEW.
type Index struct {
	scanID string
	byKey  map[indexKey]finding.Status
}

// BuildIndex indexes a prior scan's findings by (check_id, resource_id).
func BuildIndex(scanID string, prior []finding.Finding) *Index {
	ix := &Index{
		scanID: scanID,
		byKey:  make(map[indexKey]finding.Status, len(prior)),
	}
	for i := range prior {
		f := &prior[i]
		ix.byKey[indexKey{checkID: f.CheckID, resourceID: f.ResourceID}] = f.Status
	}
	return ix
}

// ScanID returns the prior scan this index was built from.
func (ix *Index) ScanID() string {
	if ix == nil {
		return ""
	}
	return ix.scanID
}

// Len returns the number of indexed findings.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.byKey)
}

// Classify returns the delta for a current finding.
func (ix *Index) Classify(f *finding.Finding) finding.Delta {
	if ix == nil {
		return finding.DeltaNew
	}
	prior, ok := ix.byKey[indexKey{checkID: f.CheckID, resourceID: f.ResourceID}]
	if !ok || prior != f.Status {
		return finding.DeltaNew
	}
	return finding.DeltaUnchanged
}

// Apply sets f.Delta in place and returns it, for use in pipeline stages.
func (ix *Index) Apply(f finding.Finding) finding.Finding {
	f.Delta = ix.Classify(&f)
	return f
}
