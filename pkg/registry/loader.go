package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cloudsentry/cloudsentry/pkg/finding"
)

// Load scans manifestDir for *.yaml check metadata files, validates each
// record, and pairs it with its logic from the logic table. Malformed
// records and records without logic are excluded with a warning; Load
// fails only when the directory itself cannot be read or yields zero
// valid checks.
func Load(manifestDir string, logic map[string]Logic) (*Snapshot, error) {
	entries, err := os.ReadDir(manifestDir)
	if err != nil {
		return nil, fmt.Errorf("reading manifest directory %q: %w", manifestDir, err)
	}

	snap := &Snapshot{byID: make(map[string]*Check)}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(manifestDir, name)

		metas, warns := loadFile(path)
		snap.warnings = append(snap.warnings, warns...)

		for _, meta := range metas {
			if _, dup := snap.byID[meta.CheckID]; dup {
				snap.warnings = append(snap.warnings, Warning{
					CheckID: meta.CheckID,
					File:    path,
					Reason:  "duplicate check id, keeping first occurrence",
				})
				continue
			}
			fn, ok := logic[meta.CheckID]
			if !ok {
				snap.warnings = append(snap.warnings, Warning{
					CheckID: meta.CheckID,
					File:    path,
					Reason:  "no logic registered for check id",
				})
				continue
			}
			snap.byID[meta.CheckID] = &Check{Meta: meta, Logic: fn}
		}
	}

	if len(snap.byID) == 0 {
		return nil, fmt.Errorf("no valid checks found in %q (%d warnings)", manifestDir, len(snap.warnings))
	}

	snap.ordered = make([]string, 0, len(snap.byID))
	for id := range snap.byID {
		snap.ordered = append(snap.ordered, id)
	}
	sort.Strings(snap.ordered)

	return snap, nil
}

// LoadChecks builds a snapshot from in-code (metadata, logic) pairs,
// bypassing the filesystem. Used by tests and embedded catalogs.
func LoadChecks(checks []Check) (*Snapshot, error) {
	snap := &Snapshot{byID: make(map[string]*Check)}
	for i := range checks {
		c := checks[i]
		if reason := validate(&c.Meta); reason != "" {
			snap.warnings = append(snap.warnings, Warning{CheckID: c.Meta.CheckID, Reason: reason})
			continue
		}
		if c.Logic == nil {
			snap.warnings = append(snap.warnings, Warning{CheckID: c.Meta.CheckID, Reason: "nil logic"})
			continue
		}
		if _, dup := snap.byID[c.Meta.CheckID]; dup {
			snap.warnings = append(snap.warnings, Warning{CheckID: c.Meta.CheckID, Reason: "duplicate check id, keeping first occurrence"})
			continue
		}
		snap.byID[c.Meta.CheckID] = &c
	}
	if len(snap.byID) == 0 {
		return nil, fmt.Errorf("no valid checks in manifest (%d warnings)", len(snap.warnings))
	}
	snap.ordered = make([]string, 0, len(snap.byID))
	for id := range snap.byID {
		snap.ordered = append(snap.ordered, id)
	}
	sort.Strings(snap.ordered)
	return snap, nil
}

// manifestFile allows either a single metadata record or a list under a
// top-level "checks" key.
type manifestFile struct {
	Checks []Metadata `yaml:"checks"`
}

func loadFile(path string) ([]Metadata, []Warning) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []Warning{{File: path, Reason: "unreadable: " + err.Error()}}
	}

	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err == nil && len(mf.Checks) > 0 {
		return validateAll(mf.Checks, path)
	}

	var single Metadata
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, []Warning{{File: path, Reason: "invalid YAML: " + err.Error()}}
	}
	return validateAll([]Metadata{single}, path)
}

func validateAll(metas []Metadata, path string) ([]Metadata, []Warning) {
	var valid []Metadata
	var warns []Warning
	for _, m := range metas {
		if reason := validate(&m); reason != "" {
			warns = append(warns, Warning{CheckID: m.CheckID, File: path, Reason: reason})
			continue
		}
		valid = append(valid, m)
	}
	return valid, warns
}

// validate enforces the required-field schema. It returns an empty string
// for a valid record, otherwise the exclusion reason. Aggregation modes
// default to AllPass.
func validate(m *Metadata) string {
	switch {
	case m.CheckID == "":
		return "missing check_id"
	case m.Provider == "":
		return "missing provider"
	case m.Service == "":
		return "missing service"
	case m.ResourceType == "":
		return "missing resource_type"
	case m.Severity == "":
		return "missing severity"
	case !m.Severity.IsValid():
		return fmt.Sprintf("invalid severity %q (want one of %s/%s/%s/%s/%s)",
			m.Severity, finding.Informational, finding.Low, finding.Medium, finding.High, finding.Critical)
	}
	for i := range m.Compliance {
		c := &m.Compliance[i]
		if c.Framework == "" || c.Requirement == "" {
			return "compliance mapping missing framework or requirement"
		}
		switch c.Mode {
		case "":
			c.Mode = AllPass
		case AllPass, AnyPass:
		default:
			return fmt.Sprintf("invalid aggregation mode %q (want %q or %q)", c.Mode, AllPass, AnyPass)
		}
	}
	return ""
}
