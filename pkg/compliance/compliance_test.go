package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/registry"
	"github.com/cloudsentry/cloudsentry/pkg/testutil"
)

func mappedCheck(id string, mappings ...registry.ComplianceMapping) registry.Check {
	c := testutil.Check("local", id, "storage", finding.Medium, finding.StatusPass)
	c.Meta.Compliance = mappings
	return c
}

func snapOf(t *testing.T, checks ...registry.Check) *registry.Snapshot {
	t.Helper()
	snap, err := registry.LoadChecks(checks)
	require.NoError(t, err)
	return snap
}

func result(checkID string, status finding.Status) finding.Finding {
	return finding.Finding{ScanID: "scan-1", CheckID: checkID, ResourceID: "r1", Status: status}
}

func TestMapperCounts(t *testing.T) {
	snap := snapOf(t,
		mappedCheck("c1", registry.ComplianceMapping{Framework: "CIS-2.0", Requirement: "1.1"}),
		mappedCheck("c2", registry.ComplianceMapping{Framework: "CIS-2.0", Requirement: "1.1"}),
	)
	m := NewMapper("scan-1", snap)

	for _, f := range []finding.Finding{
		result("c1", finding.StatusPass),
		result("c1", finding.StatusPass),
		result("c2", finding.StatusFail),
	} {
		m.Add(&f)
	}

	rollups := m.Rollups()
	require.Len(t, rollups, 1)
	r := rollups[0]
	assert.Equal(t, "CIS-2.0", r.Framework)
	assert.Equal(t, "1.1", r.Requirement)
	assert.Equal(t, "scan-1", r.ScanID)
	assert.Equal(t, 2, r.PassCount)
	assert.Equal(t, 1, r.FailCount)
}

func TestErrorFindingsExcluded(t *testing.T) {
	snap := snapOf(t, mappedCheck("c1", registry.ComplianceMapping{Framework: "CIS-2.0", Requirement: "1.1"}))
	m := NewMapper("scan-1", snap)

	f := result("c1", finding.StatusError)
	m.Add(&f)

	assert.Empty(t, m.Rollups())
}

func TestMutedFindingsStillCounted(t *testing.T) {
	snap := snapOf(t, mappedCheck("c1", registry.ComplianceMapping{Framework: "CIS-2.0", Requirement: "1.1"}))
	m := NewMapper("scan-1", snap)

	f := result("c1", finding.StatusFail)
	f.Muted = true
	f.MutedBy = "staging-noise"
	m.Add(&f)

	rollups := m.Rollups()
	require.Len(t, rollups, 1)
	assert.Equal(t, 1, rollups[0].FailCount)
}

func TestUnknownCheckIgnored(t *testing.T) {
	snap := snapOf(t, mappedCheck("c1"))
	m := NewMapper("scan-1", snap)

	f := result("c9", finding.StatusPass)
	m.Add(&f)

	assert.Empty(t, m.Rollups())
}

func TestMultipleMappingsFanOut(t *testing.T) {
	snap := snapOf(t, mappedCheck("c1",
		registry.ComplianceMapping{Framework: "CIS-2.0", Requirement: "1.1"},
		registry.ComplianceMapping{Framework: "SOC2", Requirement: "CC6.1"},
	))
	m := NewMapper("scan-1", snap)

	f := result("c1", finding.StatusPass)
	m.Add(&f)

	rollups := m.Rollups()
	require.Len(t, rollups, 2)
	assert.Equal(t, "CIS-2.0", rollups[0].Framework)
	assert.Equal(t, "SOC2", rollups[1].Framework)
}

func TestRollupsSorted(t *testing.T) {
	snap := snapOf(t,
		mappedCheck("c1",
			registry.ComplianceMapping{Framework: "SOC2", Requirement: "CC6.1"},
			registry.ComplianceMapping{Framework: "CIS-2.0", Requirement: "1.2"},
			registry.ComplianceMapping{Framework: "CIS-2.0", Requirement: "1.1"},
		),
	)
	m := NewMapper("scan-1", snap)
	f := result("c1", finding.StatusPass)
	m.Add(&f)

	rollups := m.Rollups()
	require.Len(t, rollups, 3)
	assert.Equal(t, []string{"1.1", "1.2", "CC6.1"}, []string{
		rollups[0].Requirement, rollups[1].Requirement, rollups[2].Requirement,
	})
}

func TestSatisfied(t *testing.T) {
	tests := []struct {
		name string
		r    Rollup
		want bool
	}{
		{"all pass no failures", Rollup{Mode: registry.AllPass, PassCount: 3}, true},
		{"all pass with a failure", Rollup{Mode: registry.AllPass, PassCount: 3, FailCount: 1}, false},
		{"all pass with no evidence", Rollup{Mode: registry.AllPass}, false},
		{"any pass with failures", Rollup{Mode: registry.AnyPass, PassCount: 1, FailCount: 5}, true},
		{"any pass with none passing", Rollup{Mode: registry.AnyPass, FailCount: 2}, false},
		{"empty mode defaults to all", Rollup{PassCount: 1, FailCount: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Satisfied())
		})
	}
}
