// Package rules validates records against a file of named conditions.
// Conditions are compiled into a small expression tree and evaluated
// against the record; nothing is ever executed as code.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one check. A record violates the rule when Condition is true.
type Rule struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Severity  string `json:"severity" yaml:"severity"`
	Message   string `json:"message" yaml:"message"`
	Condition string `json:"condition" yaml:"condition"`

	expr Expr
}

// Set is an ordered, compiled rule list.
type Set struct {
	rules []Rule
	byID  map[string]int
}

// Load reads a YAML or JSON rule file of the form {"rules": [...]}.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data)
}

// Parse compiles every condition up front, so a bad rule fails at load
// time rather than during validation.
func Parse(data []byte) (*Set, error) {
	var file struct {
		Rules []Rule `yaml:"rules"`
	}
	// JSON is valid YAML.
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	s := &Set{byID: make(map[string]int, len(file.Rules))}
	for _, r := range file.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule without id")
		}
		if _, dup := s.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		expr, err := Compile(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		r.expr = expr
		s.byID[r.ID] = len(s.rules)
		s.rules = append(s.rules, r)
	}
	return s, nil
}

func (s *Set) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

func (s *Set) Get(id string) (Rule, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Rule{}, false
	}
	return s.rules[i], true
}

func (s *Set) Len() int { return len(s.rules) }

// Violated reports whether record violates r.
func (r Rule) Violated(record map[string]any) (bool, error) {
	return Eval(r.expr, RecordEnv(record))
}

var firstInt = regexp.MustCompile(`\d+`)

// RecordEnv exposes record fields as variables. Numbers become float64
// and nested values are dropped. A few derived variables are added for
// contract records: termination_notice_days is the first integer in
// termination_clause, liability_cap is numeric and auto_renewal is a bool.
func RecordEnv(record map[string]any) Env {
	env := make(Env, len(record)+4)
	for k, v := range record {
		if val, ok := toValue(v); ok {
			env[k] = val
		}
	}

	clause := fmt.Sprint(orEmpty(record["termination_clause"]))
	days := 0.0
	if m := firstInt.FindString(clause); m != "" {
		days, _ = strconv.ParseFloat(m, 64)
	}
	env["termination_notice_days"] = days
	env["liability_cap"] = toNumber(env["liability_cap"])
	env["auto_renewal"] = strings.EqualFold(fmt.Sprint(orEmpty(record["auto_renewal"])), "true")
	env["governing_law"] = fmt.Sprint(orEmpty(record["governing_law"]))
	return env
}

func orEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}

func toValue(v any) (Value, bool) {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case []any:
		out := make([]Value, 0, len(x))
		for _, it := range x {
			if val, ok := toValue(it); ok {
				out = append(out, val)
			}
		}
		return out, true
	}
	return nil, false
}
