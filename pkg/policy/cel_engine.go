// Package policy evaluates user-defined exclusion rules against changed paths.
package policy

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"
)

// ActionExclude drops the matching change from provenance extraction.
const ActionExclude = "exclude"

// DynamicRule is a user-defined rule loaded from YAML.
type DynamicRule struct {
	ID        string `json:"id" yaml:"id"`
	Condition string `json:"condition" yaml:"condition"` // CEL: "path.startsWith('vendor/') || added > 5000"
	Action    string `json:"action" yaml:"action"`
}

// RuleFile is the on-disk rules document.
type RuleFile struct {
	Rules []DynamicRule `yaml:"rules"`
}

type compiled struct {
	rule DynamicRule
	prg  cel.Program
}

// CELEngine compiles rules once and evaluates them per change, in rule order.
type CELEngine struct {
	env      *cel.Env
	programs []compiled
	logger   *slog.Logger
}

// NewCELEngine declares the variables available to conditions:
// path (string), added and removed (int), binary (bool).
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("path", cel.StringType),
		cel.Variable("added", cel.IntType),
		cel.Variable("removed", cel.IntType),
		cel.Variable("binary", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &CELEngine{env: env, logger: slog.Default()}, nil
}

// Compile compiles rules into executable programs.
func (e *CELEngine) Compile(rules []DynamicRule) error {
	for _, r := range rules {
		if r.Action == "" {
			r.Action = ActionExclude
		}
		ast, issues := e.env.Compile(r.Condition)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("rule %s compilation error: %w", r.ID, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return fmt.Errorf("rule %s must evaluate to bool, got %s", r.ID, ast.OutputType())
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return fmt.Errorf("rule %s program creation error: %w", r.ID, err)
		}
		e.programs = append(e.programs, compiled{rule: r, prg: prg})
	}
	return nil
}

// Len is the number of compiled rules.
func (e *CELEngine) Len() int {
	return len(e.programs)
}

// Excludes reports the first exclude rule matching the change. Rules that
// fail to evaluate are logged and skipped.
func (e *CELEngine) Excludes(path string, added, removed int, binary bool) (string, bool) {
	vars := map[string]any{
		"path":    path,
		"added":   int64(added),
		"removed": int64(removed),
		"binary":  binary,
	}
	for _, c := range e.programs {
		if c.rule.Action != ActionExclude {
			continue
		}
		out, _, err := c.prg.Eval(vars)
		if err != nil {
			e.logger.Warn("Rule evaluation failed", "rule_id", c.rule.ID, "path", path, "error", err)
			continue
		}
		if match, ok := out.Value().(bool); ok && match {
			return c.rule.ID, true
		}
	}
	return "", false
}

// LoadRules reads a YAML rules file and compiles it.
func LoadRules(path string) (*CELEngine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules compiles a YAML rules document.
func ParseRules(data []byte) (*CELEngine, error) {
	var doc RuleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules yaml: %w", err)
	}
	engine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	slog.Debug("Compiling Rules", "count", len(doc.Rules))
	if err := engine.Compile(doc.Rules); err != nil {
		return nil, err
	}
	return engine, nil
}
