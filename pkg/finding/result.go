package finding

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

// Status is the outcome of one check invocation on one resource.
type Status string

const (
	// StatusPass means the resource satisfies the check condition.
	StatusPass Status = "PASS"

	// StatusFail means the resource violates the check condition.
	StatusFail Status = "FAIL"

	// StatusError means the check could not be evaluated; StatusExtended
	// carries the last error seen.
	StatusError Status = "ERROR"
)

// IsValid reports whether st is a recognized status.
func (st Status) IsValid() bool {
	switch st {
	case StatusPass, StatusFail, StatusError:
		return true
	}
	return false
}

// Delta classifies a finding relative to the prior completed scan.
type Delta string

const (
	// DeltaNew marks a finding absent from the prior scan, or whose status
	// changed since then.
	DeltaNew Delta = "NEW"

	// DeltaUnchanged marks a finding whose (check, resource, status) triple
	// matches the prior scan.
	DeltaUnchanged Delta = "UNCHANGED"
)

// ComplianceRef ties a check to one requirement of a compliance framework.
type ComplianceRef struct {
	Framework   string `json:"framework" yaml:"framework"`
	Requirement string `json:"requirement" yaml:"requirement"`
}

func (r ComplianceRef) String() string {
	return r.Framework + "/" + r.Requirement
}

// RawResult is the output of one check invocation on one resource, before
// muting and delta classification. The resource's account, region, and tags
// ride along so the mute evaluator can match on them without a lookup.
type RawResult struct {
	CheckID        string            `json:"check_id"`
	ResourceID     string            `json:"resource_id"`
	Status         Status            `json:"status"`
	StatusExtended string            `json:"status_extended,omitempty"`
	Severity       Severity          `json:"severity"`
	Service        string            `json:"service,omitempty"`
	Account        string            `json:"account,omitempty"`
	Region         string            `json:"region,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// Finding is the normalized outcome of running one check against one
// resource within one scan. It is uniquely identified by
// (scan_id, check_id, resource_id) and produced exactly once per triple
// regardless of write retries.
type Finding struct {
	ScanID         string            `json:"scan_id"`
	CheckID        string            `json:"check_id"`
	ResourceID     string            `json:"resource_id"`
	Status         Status            `json:"status"`
	StatusExtended string            `json:"status_extended,omitempty"`
	Severity       Severity          `json:"severity"`
	Muted          bool              `json:"muted"`
	MutedBy        string            `json:"muted_by,omitempty"`
	Delta          Delta             `json:"delta,omitempty"`
	ComplianceRefs []ComplianceRef   `json:"compliance_refs,omitempty"`
	Service        string            `json:"service,omitempty"`
	Account        string            `json:"account,omitempty"`
	Region         string            `json:"region,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// Key is the write-once identity of a finding within its scan.
type Key struct {
	ScanID     string
	CheckID    string
	ResourceID string
}

// Key returns the finding's write-once identity.
func (f *Finding) Key() Key {
	return Key{ScanID: f.ScanID, CheckID: f.CheckID, ResourceID: f.ResourceID}
}

// Hash returns a stable 64-bit hash of the key, used for upsert map keys
// and partition routing. Fields are length-prefixed so that adjacent
// fields cannot collide by concatenation.
func (k Key) Hash() uint64 {
	h := murmur3.New64()
	for _, part := range []string{k.ScanID, k.CheckID, k.ResourceID} {
		fmt.Fprintf(h, "%d:%s", len(part), part)
	}
	return h.Sum64()
}

// FromRaw builds a pre-delta Finding from a raw result. Mute and delta
// fields start at their zero values; the mute evaluator and delta
// calculator fill them in.
func FromRaw(scanID string, r RawResult, refs []ComplianceRef) Finding {
	return Finding{
		ScanID:         scanID,
		CheckID:        r.CheckID,
		ResourceID:     r.ResourceID,
		Status:         r.Status,
		StatusExtended: r.StatusExtended,
		Severity:       r.Severity,
		ComplianceRefs: refs,
		Service:        r.Service,
		Account:        r.Account,
		Region:         r.Region,
		Tags:           r.Tags,
	}
}
