package rules

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-relay/internal/worker"
	"go.uber.org/zap"
)

// Outcome is one rule's verdict for a record.
type Outcome struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
}

// Report is the result of validating one record against every rule.
type Report struct {
	RecordID       string    `json:"record_id"`
	IsValid        bool      `json:"is_valid"`
	ViolationCount int       `json:"violation_count"`
	Violations     []Outcome `json:"violations"`
	Passed         []Outcome `json:"passed_rules"`
	Errors         []Outcome `json:"errors,omitempty"`
	Summary        string    `json:"summary"`
}

// Validate checks record against every rule in order. A rule whose
// condition cannot be evaluated for this record is reported under Errors
// and does not count as a violation.
func (s *Set) Validate(record map[string]any) Report {
	id := fmt.Sprint(orEmpty(record["contract_id"]))
	if id == "" {
		id = fmt.Sprint(orEmpty(record["id"]))
	}
	if id == "" {
		id = "UNKNOWN"
	}
	rep := Report{RecordID: id, Violations: []Outcome{}, Passed: []Outcome{}}
	env := RecordEnv(record)
	for _, r := range s.rules {
		o := Outcome{RuleID: r.ID, RuleName: r.Name, Severity: r.Severity, Message: r.Message}
		violated, err := Eval(r.expr, env)
		switch {
		case err != nil:
			o.Error = err.Error()
			rep.Errors = append(rep.Errors, o)
		case violated:
			rep.Violations = append(rep.Violations, o)
		default:
			rep.Passed = append(rep.Passed, o)
		}
	}
	rep.ViolationCount = len(rep.Violations)
	rep.IsValid = rep.ViolationCount == 0 && len(rep.Errors) == 0
	rep.Summary = fmt.Sprintf("Record %s checked against %d rules: %d violations, %d passed",
		id, len(s.rules), len(rep.Violations), len(rep.Passed))
	if len(rep.Errors) > 0 {
		rep.Summary += fmt.Sprintf(", %d could not be evaluated", len(rep.Errors))
	}
	return rep
}

// Register adds validate_record, list_rules and evaluate_rule backed by s.
func Register(reg *worker.ToolRegistry, s *Set, logger *zap.Logger) error {
	if err := reg.Register(worker.ToolSpec{
		Name:        "validate_record",
		Description: "Check a record against every business rule and list the violations.",
		Parameters:  map[string]string{"record": "the record as a JSON object, e.g. from get_record_by_id"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		var p struct {
			Record map[string]any `json:"record"`
		}
		if err := worker.DecodeArgs(args, &p); err != nil {
			return nil, err
		}
		if p.Record == nil {
			return nil, fmt.Errorf("record is required")
		}
		rep := s.Validate(p.Record)
		logger.Debug("validate_record",
			zap.String("record_id", rep.RecordID),
			zap.Int("violations", rep.ViolationCount),
			zap.Int("errors", len(rep.Errors)))
		return rep, nil
	}); err != nil {
		return err
	}

	if err := reg.Register(worker.ToolSpec{
		Name:        "list_rules",
		Description: "List every business rule with its condition and severity.",
	}, func(context.Context, map[string]any) (any, error) {
		return map[string]any{"rule_count": s.Len(), "rules": s.Rules()}, nil
	}); err != nil {
		return err
	}

	return reg.Register(worker.ToolSpec{
		Name:        "evaluate_rule",
		Description: "Check a record against one rule.",
		Parameters: map[string]string{
			"rule_id": "the rule id from list_rules",
			"record":  "the record as a JSON object",
		},
	}, func(_ context.Context, args map[string]any) (any, error) {
		var p struct {
			RuleID string         `json:"rule_id"`
			Record map[string]any `json:"record"`
		}
		if err := worker.DecodeArgs(args, &p); err != nil {
			return nil, err
		}
		r, ok := s.Get(p.RuleID)
		if !ok {
			return nil, fmt.Errorf("rule %s not found", p.RuleID)
		}
		if p.Record == nil {
			return nil, fmt.Errorf("record is required")
		}
		violated, err := r.Violated(p.Record)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		return map[string]any{"rule_id": r.ID, "is_violated": violated, "rule_details": r}, nil
	})
}
