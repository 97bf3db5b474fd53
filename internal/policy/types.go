package policy

// Verdict is the outcome of evaluating a mutation against validation rules.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
)

// PolicyFile is the part of the configuration file read by the rule engine.
// Other top-level keys are ignored.
type PolicyFile struct {
	Version       int     `yaml:"version" json:"version"`
	DefaultAction Verdict `yaml:"default_action,omitempty" json:"default_action,omitempty"`
	Rules         []Rule  `yaml:"rules" json:"rules"`
}

// Rule represents a single validation rule.
type Rule struct {
	Name    string    `yaml:"name" json:"name"`
	Match   RuleMatch `yaml:"match" json:"match"`
	Action  string    `yaml:"action" json:"action"`
	Message string    `yaml:"message,omitempty" json:"message,omitempty"`
}

// RuleMatch specifies conditions for matching a mutation. Empty fields
// match everything.
type RuleMatch struct {
	Resource  string `yaml:"resource,omitempty" json:"resource,omitempty"`
	Operation string `yaml:"operation,omitempty" json:"operation,omitempty"`
	// Missing matches when any listed payload field is absent or blank.
	Missing []string              `yaml:"missing,omitempty" json:"missing,omitempty"`
	Fields  map[string]FieldMatch `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// FieldMatch specifies a matching condition for a single payload field.
type FieldMatch struct {
	Exact    string `yaml:"exact,omitempty" json:"exact,omitempty"`
	Regex    string `yaml:"regex,omitempty" json:"regex,omitempty"`
	NotRegex string `yaml:"not_regex,omitempty" json:"not_regex,omitempty"`
}

// EvalInput is the input to a policy engine evaluation.
type EvalInput struct {
	Resource  string         `json:"resource"`
	Operation string         `json:"operation"`
	TargetID  string         `json:"target_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EvalResult is the output of a policy engine evaluation.
type EvalResult struct {
	Verdict Verdict `json:"verdict"`
	Rule    string  `json:"rule,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Denied reports whether the result blocks the mutation.
func (r *EvalResult) Denied() bool {
	return r != nil && r.Verdict == VerdictDeny
}
