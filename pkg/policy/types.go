package policy

import (
	"time"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but keeps the configuration in the matrix.
	SeverityWarning Severity = "warning"

	// SeverityError drops the configuration from the matrix.
	SeverityError Severity = "error"

	// SeverityCritical drops the configuration and is reported prominently.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity exclude a configuration.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. It must define a "deny" set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata, such as its source file.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Violation is one deny result for one configuration.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Job is the ID of the configuration.
	Job string `json:"job"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Decision is the outcome of evaluating every enabled policy for one configuration.
type Decision struct {
	// Excluded is true when at least one blocking violation was found.
	Excluded bool `json:"excluded"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// PolicyBundle is a JSON file carrying several policies.
type PolicyBundle struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Policies []Policy `json:"policies"`
}

// inputFor renders cfg as the Rego input document:
//
//	{"reference": {...}, "settings": {...}, "options": {...}, "env": {...}, "build_requires": {...}, "id": "..."}
func inputFor(cfg matrix.BuildConfiguration) map[string]interface{} {
	settings := make(map[string]interface{}, len(cfg.Settings))
	for k, v := range cfg.Settings {
		settings[k] = v
	}
	options := make(map[string]interface{}, len(cfg.Options))
	for k, v := range cfg.Options {
		options[k] = v
	}
	env := make(map[string]interface{}, len(cfg.EnvVars))
	for k, v := range cfg.EnvVars {
		env[k] = v
	}
	requires := make(map[string]interface{}, len(cfg.BuildRequires))
	for k, v := range cfg.BuildRequires {
		list := make([]interface{}, len(v))
		for i, r := range v {
			list[i] = r
		}
		requires[k] = list
	}

	return map[string]interface{}{
		"id": cfg.ID(),
		"reference": map[string]interface{}{
			"name":    cfg.Reference.Name,
			"version": cfg.Reference.Version,
			"user":    cfg.Reference.User,
			"channel": cfg.Reference.Channel,
		},
		"settings":       settings,
		"options":        options,
		"env":            env,
		"build_requires": requires,
	}
}
