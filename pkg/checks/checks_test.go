package checks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/provider"
	"github.com/cloudsentry/cloudsentry/pkg/testutil"
)

func callWith(attrs map[string]any) provider.CallFunc {
	return func(ctx context.Context, req provider.Request) (provider.Response, error) {
		return provider.Response{Data: attrs}, nil
	}
}

func failingCall(err error) provider.CallFunc {
	return func(ctx context.Context, req provider.Request) (provider.Response, error) {
		return provider.Response{}, err
	}
}

func TestAttrEquals(t *testing.T) {
	logic := AttrEquals("encrypted", true, "storage is not encrypted at rest")
	res := testutil.Resource("bucket-1", "storage", "us-east-1")

	tests := []struct {
		name  string
		attrs map[string]any
		want  finding.Status
	}{
		{"matching value passes", map[string]any{"encrypted": true}, finding.StatusPass},
		{"mismatched value fails", map[string]any{"encrypted": false}, finding.StatusFail},
		{"missing attribute fails", map[string]any{}, finding.StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, detail, err := logic(context.Background(), callWith(tt.attrs), res)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, detail)
		})
	}
}

func TestAttrEqualsCallErrorPropagates(t *testing.T) {
	logic := AttrEquals("encrypted", true, "storage is not encrypted at rest")
	res := testutil.Resource("bucket-1", "storage", "us-east-1")

	_, _, err := logic(context.Background(), failingCall(provider.Transient(testutil.ErrFault)), res)
	require.Error(t, err)
	assert.True(t, provider.IsTransient(err))
}

func TestAttrNonEmpty(t *testing.T) {
	logic := AttrNonEmpty("last_key_rotation", "access keys never rotated")
	res := testutil.Resource("user-1", "identity", "global")

	status, _, err := logic(context.Background(), callWith(map[string]any{"last_key_rotation": "2026-01-02"}), res)
	require.NoError(t, err)
	assert.Equal(t, finding.StatusPass, status)

	status, _, err = logic(context.Background(), callWith(map[string]any{}), res)
	require.NoError(t, err)
	assert.Equal(t, finding.StatusFail, status)

	// Wrong type reads as empty.
	status, _, err = logic(context.Background(), callWith(map[string]any{"last_key_rotation": 42}), res)
	require.NoError(t, err)
	assert.Equal(t, finding.StatusFail, status)
}

func TestTagRequired(t *testing.T) {
	logic := TagRequired("owner")

	tagged := testutil.Resource("vm-1", "compute", "us-east-1")
	tagged.Tags = map[string]string{"owner": "platform-team"}
	status, detail, err := logic(context.Background(), nil, tagged)
	require.NoError(t, err)
	assert.Equal(t, finding.StatusPass, status)
	assert.Contains(t, detail, "platform-team")

	bare := testutil.Resource("vm-2", "compute", "us-east-1")
	status, _, err = logic(context.Background(), nil, bare)
	require.NoError(t, err)
	assert.Equal(t, finding.StatusFail, status)
}

func TestLogicTableIDsStable(t *testing.T) {
	table := Logic()
	for _, id := range []string{
		"storage_encryption_at_rest",
		"compute_public_ip_disabled",
		"network_default_deny",
		"identity_mfa_enforced",
	} {
		assert.Contains(t, table, id)
	}
}
