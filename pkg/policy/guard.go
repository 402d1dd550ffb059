package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cookbooks/pkg/engine"
)

// Guard evaluates Rego rules against finished plans. Rules never change a
// plan; they only report violations.
type Guard struct {
	mu     sync.RWMutex
	rules  map[string]*compiledRule
	logger zerolog.Logger
}

// compiledRule is a parsed rule with its deny query prepared.
type compiledRule struct {
	rule     *Rule
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewGuard creates a guard with the built-in rules loaded.
func NewGuard(ctx context.Context, logger zerolog.Logger) (*Guard, error) {
	g := &Guard{
		rules:  make(map[string]*compiledRule),
		logger: logger.With().Str("component", "policy-guard").Logger(),
	}

	if err := g.loadBuiltinRules(ctx); err != nil {
		return nil, fmt.Errorf("failed to load built-in rules: %w", err)
	}

	return g, nil
}

// EvaluatePlan runs every enabled rule against the plan.
func (g *Guard) EvaluatePlan(ctx context.Context, plan *engine.Plan) (*Result, error) {
	if plan == nil {
		return nil, engine.NewValidationError("cannot evaluate a nil plan", nil)
	}
	startTime := time.Now()

	g.mu.RLock()
	defer g.mu.RUnlock()

	input := &Input{
		Plan: plan,
		Context: &Context{
			Node:      plan.Node,
			Family:    plan.Family,
			Operation: "plan",
		},
	}

	names := make([]string, 0, len(g.rules))
	for name, cr := range g.rules {
		if cr.rule.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	result := &Result{
		EvaluatedRules: names,
		EvaluatedAt:    startTime,
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cr := g.rules[name]
		violations, err := g.evaluateRule(ctx, cr, input)
		if err != nil {
			g.logger.Error().Err(err).
				Str("rule", name).
				Str("plan", plan.ID).
				Msg("Rule evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("rule %s evaluation failed: %v", name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	sort.SliceStable(result.Violations, func(i, j int) bool {
		a, b := result.Violations[i], result.Violations[j]
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		if a.Intent != b.Intent {
			return a.Intent < b.Intent
		}
		return a.Message < b.Message
	})
	result.Allowed = len(result.Blocking()) == 0
	result.Duration = time.Since(startTime)

	g.logger.Debug().
		Str("plan_id", plan.ID).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Dur("duration", result.Duration).
		Msg("Plan guard evaluation completed")

	return result, nil
}

// evaluateRule runs one prepared deny query.
func (g *Guard) evaluateRule(ctx context.Context, cr *compiledRule, input *Input) ([]Violation, error) {
	results, err := cr.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("rule evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		// deny is a set, which OPA hands back as a slice.
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cr.rule, d))
		}
	}
	return violations, nil
}

// createViolation creates a Violation from a deny set member. Members are
// either plain strings or objects with message, severity and intent.
func createViolation(rule *Rule, result interface{}) Violation {
	violation := Violation{
		Rule:     rule.Name,
		Severity: rule.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if key, ok := v["intent"].(string); ok {
			violation.Intent = key
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileRule parses a rule and prepares its deny query.
func (g *Guard) compileRule(ctx context.Context, rule *Rule) (*compiledRule, error) {
	module, err := ast.ParseModule(rule.Name+".rego", rule.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule: %w", err)
	}

	r := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledRule{
		rule:     rule,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// LoadRules loads rule files and directories on top of the built-ins.
// Nothing is replaced unless every rule compiles.
func (g *Guard) LoadRules(ctx context.Context, paths []string) error {
	loader := NewLoader(g.logger)
	rules, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	return g.SetRules(ctx, rules)
}

// SetRules compiles rules and adds them, replacing rules with the same name.
func (g *Guard) SetRules(ctx context.Context, rules []Rule) error {
	compiled := make([]*compiledRule, 0, len(rules))
	for i := range rules {
		cr, err := g.compileRule(ctx, &rules[i])
		if err != nil {
			g.logger.Error().Err(err).
				Str("rule", rules[i].Name).
				Msg("Failed to compile rule")
			return fmt.Errorf("failed to compile rule %s: %w", rules[i].Name, err)
		}
		compiled = append(compiled, cr)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cr := range compiled {
		g.rules[cr.rule.Name] = cr
	}

	g.logger.Info().
		Int("count", len(compiled)).
		Msg("Rules loaded successfully")

	return nil
}

// loadBuiltinRules compiles the built-in rules.
func (g *Guard) loadBuiltinRules(ctx context.Context) error {
	builtins := BuiltinRules()
	for i := range builtins {
		cr, err := g.compileRule(ctx, &builtins[i])
		if err != nil {
			return fmt.Errorf("failed to compile built-in rule %s: %w", builtins[i].Name, err)
		}
		g.rules[builtins[i].Name] = cr
	}

	g.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in rules loaded")

	return nil
}

// GetRule returns a rule by name.
func (g *Guard) GetRule(name string) (*Rule, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cr, exists := g.rules[name]
	if !exists {
		return nil, fmt.Errorf("rule not found: %s", name)
	}

	return cr.rule, nil
}

// ListRules returns all loaded rules sorted by name.
func (g *Guard) ListRules() []Rule {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rules := make([]Rule, 0, len(g.rules))
	for _, cr := range g.rules {
		rules = append(rules, *cr.rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })

	return rules
}

// Reset drops loaded rules and restores the built-ins.
func (g *Guard) Reset(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rules = make(map[string]*compiledRule)
	return g.loadBuiltinRules(ctx)
}

// EnableRule enables a rule by name.
func (g *Guard) EnableRule(name string) error {
	return g.setEnabled(name, true)
}

// DisableRule disables a rule by name.
func (g *Guard) DisableRule(name string) error {
	return g.setEnabled(name, false)
}

func (g *Guard) setEnabled(name string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cr, exists := g.rules[name]
	if !exists {
		return fmt.Errorf("rule not found: %s", name)
	}

	cr.rule.Enabled = enabled
	g.logger.Info().Str("rule", name).Bool("enabled", enabled).Msg("Rule toggled")

	return nil
}
