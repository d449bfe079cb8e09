package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block a build.
	SeverityError Severity = "error"
)

// Blocking reports whether violations of this severity fail a lint.
func (s Severity) Blocking() bool {
	return s == SeverityError
}

// Policy represents a lint rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are read from the
	// deny set of its package.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from. Empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is a single finding reported by a policy.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Part is the part the finding is about, if any.
	Part string `json:"part,omitempty"`

	// Line is the manifest line of Part.
	Line int `json:"line,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of linting a manifest.
type Result struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists findings that do not block a build.
	Warnings []Violation `json:"warnings,omitempty"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document policies evaluate.
type Input struct {
	// Manifest is the manifest in its YAML key layout.
	Manifest map[string]interface{} `json:"manifest"`

	// Parts lists the parts in declaration order.
	Parts []PartInput `json:"parts"`

	Context *Context `json:"context"`
}

// PartInput is a part as seen by policies.
type PartInput struct {
	Name        string     `json:"name"`
	Plugin      string     `json:"plugin,omitempty"`
	After       []string   `json:"after"`
	Environment []EnvEntry `json:"environment"`
}

// EnvEntry is one build-environment assignment.
type EnvEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Context provides context information for policy evaluation.
type Context struct {
	Timestamp time.Time `json:"timestamp"`

	// Operation is the command being performed (e.g., "lint", "build").
	Operation string `json:"operation,omitempty"`
}
