// Package compliance aggregates findings into per-requirement pass/fail
// rollups for each mapped framework. Rollups are derived data: recomputed
// fully for every scan and never patched incrementally.
package compliance

import (
	"sort"

	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/registry"
)

// Rollup is the aggregate for one framework requirement within one scan.
type Rollup struct {
	Framework   string                   `json:"framework"`
	Requirement string                   `json:"requirement"`
	ScanID      string                   `json:"scan_id"`
	Mode        registry.AggregationMode `json:"mode"`
	PassCount   int                      `json:"pass_count"`
	FailCount   int                      `json:"fail_count"`
}

// Satisfied reports whether the requirement holds under its aggregation
// mode. AllPass requires zero failures with at least one pass; AnyPass is
// satisfied by a single passing check even when others fail.
func (r *Rollup) Satisfied() bool {
	switch r.Mode {
	case registry.AnyPass:
		return r.PassCount > 0
	default:
		return r.FailCount == 0 && r.PassCount > 0
	}
}

type refKey struct {
	framework   string
	requirement string
}

// Mapper accumulates rollups for one scan. Addition is order-independent,
// so findings may arrive in any order from the pipeline. Not safe for
// concurrent use; the pipeline runs one rollup stage per scan.
type Mapper struct {
	scanID string
	snap   *registry.Snapshot
	byRef  map[refKey]*Rollup
}

// NewMapper creates a mapper for one scan against the registry snapshot
// used by that scan. The snapshot supplies each requirement's aggregation
// mode from check metadata.
func NewMapper(scanID string, snap *registry.Snapshot) *Mapper {
	return &Mapper{
		scanID: scanID,
		snap:   snap,
		byRef:  make(map[refKey]*Rollup),
	}
}

// Add contributes one finding to every requirement its check declares.
// ERROR findings contribute to neither count: an unevaluated check is
// evidence of nothing. Muted findings still contribute; muting hides a
// finding from attention, not from the compliance ledger.
func (m *Mapper) Add(f *finding.Finding) {
	if f.Status != finding.StatusPass && f.Status != finding.StatusFail {
		return
	}
	check, ok := m.snap.Get(f.CheckID)
	if !ok {
		return
	}
	for _, cm := range check.Meta.Compliance {
		key := refKey{framework: cm.Framework, requirement: cm.Requirement}
		r, ok := m.byRef[key]
		if !ok {
			r = &Rollup{
				Framework:   cm.Framework,
				Requirement: cm.Requirement,
				ScanID:      m.scanID,
				Mode:        cm.Mode,
			}
			m.byRef[key] = r
		}
		switch f.Status {
		case finding.StatusPass:
			r.PassCount++
		case finding.StatusFail:
			r.FailCount++
		}
	}
}

// Rollups returns the accumulated rollups sorted by framework then
// requirement.
func (m *Mapper) Rollups() []Rollup {
	out := make([]Rollup, 0, len(m.byRef))
	for _, r := range m.byRef {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Framework != out[j].Framework {
			return out[i].Framework < out[j].Framework
		}
		return out[i].Requirement < out[j].Requirement
	})
	return out
}
