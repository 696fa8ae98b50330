// Package checks holds the built-in check catalog: reusable logic
// builders plus the logic table that manifest-loaded metadata binds to.
//
// Check logic is deliberately thin. It issues describe calls through the
// bound CallFunc and asserts attribute values; everything else (retries,
// rate limits, classification, muting) belongs to the pipeline.
package checks

import (
	"context"
	"fmt"

	"github.com/cloudsentry/cloudsentry/pkg/finding"
	"github.com/cloudsentry/cloudsentry/pkg/provider"
	"github.com/cloudsentry/cloudsentry/pkg/registry"
)

// AttrEquals builds logic that passes when the describe document's
// attribute equals want. A missing attribute fails the check; treating
// absence as compliant would hide misconfigured resources.
func AttrEquals(attr string, want any, failDetail string) registry.Logic {
	return func(ctx context.Context, call provider.CallFunc, res provider.Resource) (finding.Status, string, error) {
		doc, err := describe(ctx, call, res)
		if err != nil {
			return "", "", err
		}
		got, ok := doc[attr]
		if !ok {
			return finding.StatusFail, fmt.Sprintf("%s: attribute %q not set", failDetail, attr), nil
		}
		if got != want {
			return finding.StatusFail, fmt.Sprintf("%s: %s=%v", failDetail, attr, got), nil
		}
		return finding.StatusPass, fmt.Sprintf("%s=%v", attr, want), nil
	}
}

// AttrNonEmpty builds logic that passes when the attribute is a
// non-empty string.
func AttrNonEmpty(attr string, failDetail string) registry.Logic {
	return func(ctx context.Context, call provider.CallFunc, res provider.Resource) (finding.Status, string, error) {
		doc, err := describe(ctx, call, res)
		if err != nil {
			return "", "", err
		}
		s, _ := doc[attr].(string)
		if s == "" {
			return finding.StatusFail, fmt.Sprintf("%s: attribute %q empty or unset", failDetail, attr), nil
		}
		return finding.StatusPass, fmt.Sprintf("%s=%q", attr, s), nil
	}
}

// TagRequired builds logic that passes when the resource carries the tag.
func TagRequired(tag string) registry.Logic {
	return func(ctx context.Context, call provider.CallFunc, res provider.Resource) (finding.Status, string, error) {
		if v, ok := res.Tags[tag]; ok && v != "" {
			return finding.StatusPass, fmt.Sprintf("tag %s=%q", tag, v), nil
		}
		return finding.StatusFail, fmt.Sprintf("required tag %q missing", tag), nil
	}
}

func describe(ctx context.Context, call provider.CallFunc, res provider.Resource) (map[string]any, error) {
	resp, err := call(ctx, provider.Request{
		Service:  res.Service,
		Action:   "describe",
		Resource: &res,
	})
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return map[string]any{}, nil
	}
	return resp.Data, nil
}

// Logic returns the built-in logic table keyed by check id, for binding
// against manifest metadata at load time.
func Logic() map[string]registry.Logic {
	return map[string]registry.Logic{
		"storage_encryption_at_rest":  AttrEquals("encrypted", true, "storage is not encrypted at rest"),
		"storage_public_access_block": AttrEquals("public", false, "storage allows public access"),
		"storage_versioning_enabled":  AttrEquals("versioning", true, "storage versioning disabled"),
		"compute_public_ip_disabled":  AttrEquals("public_ip", false, "instance exposes a public address"),
		"compute_disk_encrypted":      AttrEquals("disk_encrypted", true, "instance disks are not encrypted"),
		"compute_owner_tag":           TagRequired("owner"),
		"network_default_deny":        AttrEquals("default_action", "deny", "network default action is not deny"),
		"network_flow_logs_enabled":   AttrEquals("flow_logs", true, "flow logs disabled"),
		"identity_mfa_enforced":       AttrEquals("mfa_enforced", true, "MFA is not enforced"),
		"identity_key_rotation":       AttrNonEmpty("last_key_rotation", "access keys never rotated"),
	}
}
