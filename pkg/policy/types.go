package policy

import (
	"time"

	"github.com/openfroyo/cookbooks/pkg/engine"
)

// Severity represents the severity level of a guard violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block the plan.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must be fixed before any hand-off.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether violations of this severity reject a plan.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Rule is a guard rule with its Rego code. Rules evaluate whole plans and
// report through a deny set.
type Rule struct {
	// Name is the unique name of the rule.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego module.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the rule is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing rules.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the rule was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is a single guard finding.
type Violation struct {
	// Rule is the name of the rule that was violated.
	Rule string `json:"rule"`

	// Intent is the identity key of the offending intent, if any.
	Intent string `json:"intent,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating the guard rules against one plan.
type Result struct {
	// Allowed is false when any violation blocks.
	Allowed bool `json:"allowed"`

	// Violations lists blocking and non-blocking findings, sorted.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists rules that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedRules lists the names of rules that were evaluated.
	EvaluatedRules []string `json:"evaluated_rules"`

	// EvaluatedAt is when the plan was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that reject the plan.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocks() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document rules see as `input`.
type Input struct {
	// Plan is the execution plan being evaluated.
	Plan *engine.Plan `json:"plan"`

	// Context provides additional evaluation context.
	Context *Context `json:"context"`
}

// Context carries run information for rules that want it.
type Context struct {
	// Node is the node name.
	Node string `json:"node,omitempty"`

	// Family is the resolved platform family.
	Family string `json:"family,omitempty"`

	// Operation is "plan" or "validate".
	Operation string `json:"operation"`
}
