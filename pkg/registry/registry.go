// Package registry loads the declarative check catalog: metadata records
// paired with check logic, validated eagerly at startup into an immutable
// snapshot shared read-only by all concurrent scans.
//
// Checks are discovered from a fixed manifest directory of YAML metadata
// files and a code-side logic table keyed by check id. A check with
// malformed metadata is excluded from the snapshot and surfaced as a load
// warning; it never fails the whole load.
package registry

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/provider"
)

// Logic evaluates one resource for one check condition. It may issue
// provider API calls through call. A returned error is classified by the
// engine (transient errors retried, permanent errors recorded) and never
// aborts the scan.
type Logic func(ctx context.Context, call provider.CallFunc, res provider.Resource) (finding.Status, string, error)

// AggregationMode selects how a compliance requirement combines the checks
// mapped to it.
type AggregationMode string

const (
	// AllPass requires every mapped check to pass.
	AllPass AggregationMode = "all"

	// AnyPass is satisfied when at least one mapped check passes.
	AnyPass AggregationMode = "any"
)

// Remediation carries the human-facing fix guidance for a check.
type Remediation struct {
	Text string `yaml:"text" json:"text"`
	URL  string `yaml:"url,omitempty" json:"url,omitempty"`
}

// ComplianceMapping ties a check to one framework requirement, including
// the requirement's aggregation mode. The mode is carried in check
// metadata; the compliance mapper only consumes it.
type ComplianceMapping struct {
	Framework   string          `yaml:"framework" json:"framework"`
	Requirement string          `yaml:"requirement" json:"requirement"`
	Mode        AggregationMode `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// Metadata is the declarative record for one check. Required fields:
// provider, check id, service, severity, resource type. Everything else
// is descriptive.
type Metadata struct {
	Provider     string              `yaml:"provider" json:"provider"`
	CheckID      string              `yaml:"check_id" json:"check_id"`
	Service      string              `yaml:"service" json:"service"`
	Severity     finding.Severity    `yaml:"severity" json:"severity"`
	ResourceType string              `yaml:"resource_type" json:"resource_type"`
	Description  string              `yaml:"description,omitempty" json:"description,omitempty"`
	Risk         string              `yaml:"risk,omitempty" json:"risk,omitempty"`
	Remediation  Remediation         `yaml:"remediation,omitempty" json:"remediation,omitempty"`
	Compliance   []ComplianceMapping `yaml:"compliance,omitempty" json:"compliance,omitempty"`
	Categories   []string            `yaml:"categories,omitempty" json:"categories,omitempty"`
	RelatedURL   string              `yaml:"related_url,omitempty" json:"related_url,omitempty"`
}

// Refs returns the check's compliance references in finding form.
func (m *Metadata) Refs() []finding.ComplianceRef {
	if len(m.Compliance) == 0 {
		return nil
	}
	refs := make([]finding.ComplianceRef, len(m.Compliance))
	for i, c := range m.Compliance {
		refs[i] = finding.ComplianceRef{Framework: c.Framework, Requirement: c.Requirement}
	}
	return refs
}

// Check pairs validated metadata with its logic. Immutable after load.
type Check struct {
	Meta  Metadata
	Logic Logic
}

// Snapshot is an immutable view of the loaded check catalog. It is shared
// read-only by all concurrent scans; no locking is needed beyond swapping
// in a new snapshot atomically on reload.
type Snapshot struct {
	byID     map[string]*Check
	ordered  []string // check ids in deterministic order
	warnings []Warning
}

// Warning records a check excluded at load time and why.
type Warning struct {
	CheckID string // empty when the file never parsed far enough
	File    string
	Reason  string
}

// Len returns the number of checks in the snapshot.
func (s *Snapshot) Len() int { return len(s.byID) }

// Warnings returns the load-time exclusions, in file order.
func (s *Snapshot) Warnings() []Warning { return s.warnings }

// Get returns the check with the given id.
func (s *Snapshot) Get(checkID string) (*Check, bool) {
	c, ok := s.byID[checkID]
	return c, ok
}

// Filters narrows a ChecksFor query. Zero values match everything.
type Filters struct {
	Service     string
	MinSeverity finding.Severity
	Category    string
	Framework   string
	CheckIDs    []string // exact ids; empty means all
}

// ChecksFor returns the ordered set of checks for a provider matching the
// filters. Order is deterministic (sorted by check id at load).
func (s *Snapshot) ChecksFor(providerID string, f Filters) []*Check {
	idFilter := map[string]bool{}
	for _, id := range f.CheckIDs {
		idFilter[id] = true
	}

	var out []*Check
	for _, id := range s.ordered {
		c := s.byID[id]
		if c.Meta.Provider != providerID {
			continue
		}
		if f.Service != "" && c.Meta.Service != f.Service {
			continue
		}
		if f.MinSeverity != "" && c.Meta.Severity.Score() < f.MinSeverity.Score() {
			continue
		}
		if f.Category != "" && !hasString(c.Meta.Categories, f.Category) {
			continue
		}
		if f.Framework != "" && !hasFramework(c.Meta.Compliance, f.Framework) {
			continue
		}
		if len(idFilter) > 0 && !idFilter[id] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Services returns the distinct services covered by a provider's checks,
// sorted. The engine sizes one worker pool per entry.
func (s *Snapshot) Services(providerID string) []string {
	seen := map[string]bool{}
	for _, id := range s.ordered {
		c := s.byID[id]
		if c.Meta.Provider == providerID {
			seen[c.Meta.Service] = true
		}
	}
	out := make([]string, 0, len(seen))
	for svc := range seen {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}

func hasString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func hasFramework(maps []ComplianceMapping, framework string) bool {
	for _, m := range maps {
		if m.Framework == framework {
			return true
		}
	}
	return false
}

// Registry publishes the current snapshot. Reload swaps atomically so
// in-flight scans keep the snapshot they started with.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry wraps an initial snapshot.
func NewRegistry(snap *Snapshot) *Registry {
	r := &Registry{}
	r.current.Store(snap)
	return r
}

// Snapshot returns the currently published snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Publish atomically replaces the current snapshot.
func (r *Registry) Publish(snap *Snapshot) {
	r.current.Store(snap)
}
