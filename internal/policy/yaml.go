package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// YAMLEngine implements first-match-wins validation using YAML rules.
type YAMLEngine struct {
	mu    sync.RWMutex
	file  *PolicyFile
	path  string
	extra []Rule

	// compiled regex cache
	regexCache map[string]*regexp.Regexp
}

// NewYAMLEngine creates a new YAML rule engine from a file path. Extra
// rules are evaluated after the file's rules and survive reloads.
func NewYAMLEngine(path string, extra ...Rule) (*YAMLEngine, error) {
	e := &YAMLEngine{path: path, extra: extra}
	if err := e.Reload(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// NewYAMLEngineFromPolicy creates a new YAML rule engine from already-loaded rules.
func NewYAMLEngineFromPolicy(pf *PolicyFile, extra ...Rule) (*YAMLEngine, error) {
	e := &YAMLEngine{extra: extra}
	if err := e.install(pf); err != nil {
		return nil, err
	}
	return e, nil
}

// Evaluate checks the input against rules in order, returning the first match.
func (e *YAMLEngine) Evaluate(_ context.Context, input *EvalInput) (*EvalResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, rule := range e.file.Rules {
		if msg, ok := e.matches(&rule, input); ok {
			return &EvalResult{
				Verdict: Verdict(rule.Action),
				Rule:    rule.Name,
				Message: msg,
			}, nil
		}
	}

	return &EvalResult{
		Verdict: e.file.DefaultAction,
		Rule:    "_default",
		Message: "no matching rule; default action applied",
	}, nil
}

// Reload re-reads the rules from disk.
func (e *YAMLEngine) Reload(_ context.Context) error {
	if e.path == "" {
		if e.file == nil {
			return e.install(&PolicyFile{Version: 1})
		}
		return nil
	}
	pf, err := LoadFile(e.path)
	if err != nil {
		return err
	}
	return e.install(pf)
}

// Policy returns the current rules, including extra rules (for display).
func (e *YAMLEngine) Policy() *PolicyFile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.file
}

func (e *YAMLEngine) install(pf *PolicyFile) error {
	merged := &PolicyFile{
		Version:       pf.Version,
		DefaultAction: pf.DefaultAction,
		Rules:         append(append([]Rule(nil), pf.Rules...), e.extra...),
	}
	if err := Validate(merged); err != nil {
		return err
	}
	cache := make(map[string]*regexp.Regexp)
	for _, rule := range merged.Rules {
		for key, fm := range rule.Match.Fields {
			for suffix, pattern := range map[string]string{"": fm.Regex, "!": fm.NotRegex} {
				if pattern == "" {
					continue
				}
				re, err := regexp.Compile(pattern)
				if err != nil {
					return fmt.Errorf("rule %q field %q: %w", rule.Name, key, err)
				}
				cache[rule.Name+":"+key+suffix] = re
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.file = merged
	e.regexCache = cache
	return nil
}

// matches reports whether rule applies to input, and the message to show.
func (e *YAMLEngine) matches(rule *Rule, input *EvalInput) (string, bool) {
	if rule.Match.Resource != "" && rule.Match.Resource != input.Resource {
		return "", false
	}
	if rule.Match.Operation != "" && rule.Match.Operation != input.Operation {
		return "", false
	}

	msg := rule.Message
	if len(rule.Match.Missing) > 0 {
		var missing []string
		for _, field := range rule.Match.Missing {
			if blank(input.Payload[field]) {
				missing = append(missing, field)
			}
		}
		if len(missing) == 0 {
			return "", false
		}
		if msg == "" {
			msg = strings.Join(missing, ", ") + " required"
		}
	}

	for key, fm := range rule.Match.Fields {
		val, ok := input.Payload[key]
		if !ok {
			return "", false
		}
		if !e.matchField(rule.Name, key, fm, val) {
			return "", false
		}
	}

	return msg, true
}

func (e *YAMLEngine) matchField(ruleName, key string, fm FieldMatch, val any) bool {
	str := fmt.Sprintf("%v", val)

	if fm.Exact != "" && str != fm.Exact {
		return false
	}
	if fm.Regex != "" {
		re, ok := e.regexCache[ruleName+":"+key]
		if !ok || !re.MatchString(str) {
			return false
		}
	}
	if fm.NotRegex != "" {
		re, ok := e.regexCache[ruleName+":"+key+"!"]
		if !ok || re.MatchString(str) {
			return false
		}
	}
	return true
}

func blank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
