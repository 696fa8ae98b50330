package mute

import (
	"fmt"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/cloudsentry/cloudsentry/pkg/finding"
)

// safeModules are the only Tengo stdlib modules available to mute
// expressions. No file I/O, no network, no OS access.
var safeModules = stdlib.GetModuleMap("text", "fmt", "math", "times")

// exprProgram is a compiled mute expression. The source is wrapped so the
// expression's value lands in a well-known output variable.
type exprProgram struct {
	compiled *tengo.Compiled
}

const exprOutput = "__match"

func compileExpr(src string) (*exprProgram, error) {
	script := tengo.NewScript([]byte(fmt.Sprintf("%s := (%s)", exprOutput, src)))
	script.SetImports(safeModules)
	script.SetMaxAllocs(1_000_000)

	// Placeholder inputs so compilation resolves the variable names.
	for _, name := range []string{"check_id", "resource_id", "account", "region", "severity"} {
		if err := script.Add(name, ""); err != nil {
			return nil, fmt.Errorf("compiling expression: %w", err)
		}
	}
	if err := script.Add("tags", map[string]interface{}{}); err != nil {
		return nil, fmt.Errorf("compiling expression: %w", err)
	}

	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("compiling expression: %w", err)
	}
	return &exprProgram{compiled: compiled}, nil
}

// eval runs the expression against one raw result. Each evaluation clones
// the compiled program, so a RuleSet is safe for concurrent use.
func (p *exprProgram) eval(r finding.RawResult) (bool, error) {
	c := p.compiled.Clone()

	tags := make(map[string]interface{}, len(r.Tags))
	for k, v := range r.Tags {
		tags[k] = v
	}

	sets := []struct {
		name  string
		value interface{}
	}{
		{"check_id", r.CheckID},
		{"resource_id", r.ResourceID},
		{"account", r.Account},
		{"region", r.Region},
		{"severity", string(r.Severity)},
		{"tags", tags},
	}
	for _, s := range sets {
		if err := c.Set(s.name, s.value); err != nil {
			return false, err
		}
	}

	if err := c.Run(); err != nil {
		return false, err
	}

	out := c.Get(exprOutput)
	if out.ValueType() != "bool" {
		return false, fmt.Errorf("expression yielded %s, want bool", out.ValueType())
	}
	return out.Bool(), nil
}
