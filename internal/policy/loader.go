package policy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and validates the rules section of a YAML file.
func LoadFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses and validates YAML rule data.
func LoadBytes(data []byte) (*PolicyFile, error) {
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}
	if pf.Version != 1 {
		return nil, fmt.Errorf("unsupported policy version: %d (expected 1)", pf.Version)
	}
	if err := Validate(&pf); err != nil {
		return nil, err
	}
	return &pf, nil
}

// Validate checks rule names, actions, and regex patterns, and fills in
// the default action.
func Validate(pf *PolicyFile) error {
	switch pf.DefaultAction {
	case "":
		pf.DefaultAction = VerdictAllow
	case VerdictAllow, VerdictDeny:
	default:
		return fmt.Errorf("invalid default_action %q", pf.DefaultAction)
	}

	for i, rule := range pf.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		switch Verdict(rule.Action) {
		case VerdictAllow, VerdictDeny:
		default:
			return fmt.Errorf("rule %q: invalid action %q", rule.Name, rule.Action)
		}
		for key, fm := range rule.Match.Fields {
			for _, pattern := range []string{fm.Regex, fm.NotRegex} {
				if pattern == "" {
					continue
				}
				if _, err := regexp.Compile(pattern); err != nil {
					return fmt.Errorf("rule %q: field %q regex invalid: %w", rule.Name, key, err)
				}
			}
		}
	}
	return nil
}

// RequiredRules turns a resource's required field list into deny rules
// that apply to create and update.
func RequiredRules(resource string, fields []string) []Rule {
	rules := make([]Rule, 0, 2*len(fields))
	for _, op := range []string{"create", "update"} {
		for _, field := range fields {
			rules = append(rules, Rule{
				Name: fmt.Sprintf("%s-%s-requires-%s", resource, op, field),
				Match: RuleMatch{
					Resource:  resource,
					Operation: op,
					Missing:   []string{field},
				},
				Action:  string(VerdictDeny),
				Message: field + " is required",
			})
		}
	}
	return rules
}
