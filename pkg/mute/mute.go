// Package mute evaluates suppression rules against raw check results.
// A matching rule sets muted=true on the resulting finding but never
// rewrites its PASS/FAIL status; muting only hides a finding from
// active-attention reporting.
//
// Rules match on check id (glob), account, region, and resource tags.
// A rule may additionally carry a sandboxed Tengo expression for
// conditions the declarative matchers cannot express. Precedence between
// multiple matching rules is configurable: first match wins, or the most
// specific rule wins (specificity = populated matcher count, ties broken
// by rule order).
package mute

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/cloudsentry/cloudsentry/pkg/finding"
)

// Precedence selects how overlapping rules are resolved.
type Precedence string

const (
	// FirstMatch applies the first rule, in definition order, that matches.
	FirstMatch Precedence = "first-match"

	// MostSpecific applies the matching rule with the most populated
	// matcher fields; ties break in definition order.
	MostSpecific Precedence = "most-specific"
)

// Rule is one suppression predicate. All populated matchers must hold for
// the rule to match.
type Rule struct {
	// Name identifies the rule in finding.MutedBy and reports.
	Name string `yaml:"name"`

	// CheckID matches the result's check id; glob syntax per path.Match
	// (e.g. "iam_*"). Empty matches any check.
	CheckID string `yaml:"check_id,omitempty"`

	// Accounts matches when the resource's account is listed.
	Accounts []string `yaml:"accounts,omitempty"`

	// Regions matches when the resource's region is listed.
	Regions []string `yaml:"regions,omitempty"`

	// Tags requires every listed key to be present with the given value
	// on the resource.
	Tags map[string]string `yaml:"tags,omitempty"`

	// Expr is an optional Tengo expression evaluated with check_id,
	// resource_id, account, region, severity, and tags in scope. It must
	// yield a boolean.
	Expr string `yaml:"expr,omitempty"`

	// Reason documents why the rule exists.
	Reason string `yaml:"reason,omitempty"`
}

// specificity counts populated matcher fields.
func (r *Rule) specificity() int {
	n := 0
	if r.CheckID != "" {
		n++
	}
	if len(r.Accounts) > 0 {
		n++
	}
	if len(r.Regions) > 0 {
		n++
	}
	if len(r.Tags) > 0 {
		n++
	}
	if r.Expr != "" {
		n++
	}
	return n
}

// RuleSet is an ordered, compiled set of mute rules. Building the set
// compiles expressions once; evaluation is pure and safe to run fully in
// parallel across results.
type RuleSet struct {
	rules      []compiledRule
	precedence Precedence
}

type compiledRule struct {
	rule Rule
	expr *exprProgram // nil when the rule has no expression
}

// New compiles rules into a RuleSet. An invalid glob or expression fails
// the build; mute rules are configuration and a broken rule silently not
// matching would unhide findings the operator meant to suppress.
func New(rules []Rule, prec Precedence) (*RuleSet, error) {
	switch prec {
	case "":
		prec = FirstMatch
	case FirstMatch, MostSpecific:
	default:
		return nil, fmt.Errorf("mute: unknown precedence %q", prec)
	}

	rs := &RuleSet{precedence: prec}
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("mute: rule #%d has no name", i+1)
		}
		if r.CheckID != "" {
			if _, err := path.Match(r.CheckID, "probe"); err != nil {
				return nil, fmt.Errorf("mute: rule %q: bad check_id pattern: %w", r.Name, err)
			}
		}
		cr := compiledRule{rule: r}
		if r.Expr != "" {
			prog, err := compileExpr(r.Expr)
			if err != nil {
				return nil, fmt.Errorf("mute: rule %q: %w", r.Name, err)
			}
			cr.expr = prog
		}
		rs.rules = append(rs.rules, cr)
	}
	return rs, nil
}

// ruleFile is the YAML shape of a mute rule file.
type ruleFile struct {
	Precedence Precedence `yaml:"precedence,omitempty"`
	Rules      []Rule     `yaml:"rules"`
}

// LoadFile reads a YAML mute rule file. A file-level precedence overrides
// the argument; both empty means first-match.
func LoadFile(filePath string, prec Precedence) (*RuleSet, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("mute: reading %s: %w", filePath, err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("mute: parsing %s: %w", filePath, err)
	}
	if rf.Precedence != "" {
		prec = rf.Precedence
	}
	return New(rf.Rules, prec)
}

// Empty returns a rule set that matches nothing.
func Empty() *RuleSet {
	return &RuleSet{precedence: FirstMatch}
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Match returns the rule governing r, if any, honoring the configured
// precedence.
func (rs *RuleSet) Match(r finding.RawResult) (*Rule, bool) {
	var best *compiledRule
	bestSpec := -1
	for i := range rs.rules {
		cr := &rs.rules[i]
		if !cr.matches(r) {
			continue
		}
		if rs.precedence == FirstMatch {
			return &cr.rule, true
		}
		if spec := cr.rule.specificity(); spec > bestSpec {
			best, bestSpec = cr, spec
		}
	}
	if best == nil {
		return nil, false
	}
	return &best.rule, true
}

// Apply normalizes a raw result into a pre-delta finding, marking it muted
// when a rule matches. Status is always preserved: an unmuted and muted
// copy of the same RawResult differ only in the mute fields.
func (rs *RuleSet) Apply(scanID string, r finding.RawResult, refs []finding.ComplianceRef) finding.Finding {
	f := finding.FromRaw(scanID, r, refs)
	if rule, ok := rs.Match(r); ok {
		f.Muted = true
		f.MutedBy = rule.Name
	}
	return f
}

func (cr *compiledRule) matches(r finding.RawResult) bool {
	rule := &cr.rule
	if rule.CheckID != "" {
		if ok, _ := path.Match(rule.CheckID, r.CheckID); !ok {
			return false
		}
	}
	if len(rule.Accounts) > 0 && !contains(rule.Accounts, r.Account) {
		return false
	}
	if len(rule.Regions) > 0 && !contains(rule.Regions, r.Region) {
		return false
	}
	for k, v := range rule.Tags {
		if r.Tags[k] != v {
			return false
		}
	}
	if cr.expr != nil {
		ok, err := cr.expr.eval(r)
		if err != nil || !ok {
			// An expression failing at runtime does not mute: unhiding a
			// finding is the safer failure for a suppression system.
			return false
		}
	}
	return true
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
