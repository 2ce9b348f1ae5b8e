package rules

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nidhogg/nuka-relay/internal/worker"
	"go.uber.org/zap"
)

const rulesYAML = `
rules:
  - id: R001
    name: Short termination notice
    severity: high
    message: Termination notice is shorter than 60 days
    condition: termination_notice_days < 60
  - id: R002
    name: Liability cap too high
    severity: medium
    message: Liability cap exceeds 500k
    condition: liability_cap > 500000
  - id: R003
    name: Unapproved governing law
    severity: low
    message: Governing law is not on the approved list
    condition: governing_law not in ['Delaware', 'New York']
  - id: R004
    name: Auto renewal with long notice
    severity: low
    message: Auto renewal combined with a long notice period
    condition: auto_renewal == True and termination_notice_days >= 90
`

func mustParse(t *testing.T) *Set {
	t.Helper()
	s, err := Parse([]byte(rulesYAML))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEval(t *testing.T) {
	env := Env{"x": 10.0, "name": "Acme", "flag": true, "tags": []Value{"a", "b"}, "missing": nil}
	tests := []struct {
		cond string
		want bool
	}{
		{"x > 5", true},
		{"x >= 10 and x <= 10", true},
		{"x == 10", true},
		{"x != 10", false},
		{"x * 2 + 1 == 21", true},
		{"-x < 0", true},
		{"(x > 100 or flag) && !false", true},
		{"not flag", false},
		{"missing == None", true},
		{"name == None", false},
		{"name == 'Acme'", true},
		{`lower(name) == "acme"`, true},
		{"'cm' in name", true},
		{"name in ['Globex', 'Initech']", false},
		{"'b' in tags", true},
		{"'z' not in tags", true},
		{"len(tags) == 2", true},
		{"number('42') > 41", true},
		{"x / 4 == 2.5", true},
		{"false and missing", false},
		{"true or missing", true},
	}
	for _, tt := range tests {
		e, err := Compile(tt.cond)
		if err != nil {
			t.Errorf("%s: compile: %v", tt.cond, err)
			continue
		}
		got, err := Eval(e, env)
		if err != nil {
			t.Errorf("%s: eval: %v", tt.cond, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.cond, got, tt.want)
		}
	}
}

func TestCompileRejects(t *testing.T) {
	for _, cond := range []string{
		"",
		"x >",
		"__import__('os').system('ls')",
		"x; y",
		"open('f')",
		"x > 1 2",
		"(x > 1",
		"'unterminated",
		"x = 1",
		"a.b",
		"x > 1 and",
		"é > 1",
	} {
		if _, err := Compile(cond); err == nil {
			t.Errorf("expected %q to be rejected", cond)
		}
	}
}

func TestEvalErrors(t *testing.T) {
	env := Env{"x": 1.0, "s": "a"}
	for _, cond := range []string{
		"missing > 1",
		"x > s",
		"x",
		"x and true",
		"x / 0 == 1",
		"not s",
		"len(x) == 1",
	} {
		e, err := Compile(cond)
		if err != nil {
			t.Errorf("%s: compile: %v", cond, err)
			continue
		}
		if _, err := Eval(e, env); err == nil {
			t.Errorf("expected %q to fail", cond)
		}
	}
}

func TestRecordEnv(t *testing.T) {
	env := RecordEnv(map[string]any{
		"termination_clause": "Either party may terminate with 45 days notice, 10 days cure",
		"liability_cap":      "750000",
		"auto_renewal":       "TRUE",
		"nested":             map[string]any{"a": 1},
		"count":              int64(3),
	})
	if env["termination_notice_days"] != 45.0 {
		t.Errorf("termination_notice_days = %v", env["termination_notice_days"])
	}
	if env["liability_cap"] != 750000.0 {
		t.Errorf("liability_cap = %v", env["liability_cap"])
	}
	if env["auto_renewal"] != true {
		t.Errorf("auto_renewal = %v", env["auto_renewal"])
	}
	if env["governing_law"] != "" {
		t.Errorf("governing_law = %v", env["governing_law"])
	}
	if env["count"] != 3.0 {
		t.Errorf("count = %v", env["count"])
	}
	if _, ok := env["nested"]; ok {
		t.Error("nested values should be dropped")
	}
}

func TestValidate(t *testing.T) {
	s := mustParse(t)
	rep := s.Validate(map[string]any{
		"contract_id":        "C-001",
		"termination_clause": "30 days written notice",
		"liability_cap":      1000000.0,
		"auto_renewal":       true,
		"governing_law":      "Delaware",
	})
	if rep.RecordID != "C-001" || rep.IsValid || rep.ViolationCount != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Violations[0].RuleID != "R001" || rep.Violations[1].RuleID != "R002" {
		t.Errorf("violations = %+v", rep.Violations)
	}
	if len(rep.Passed) != 2 {
		t.Errorf("passed = %+v", rep.Passed)
	}
	want := "Record C-001 checked against 4 rules: 2 violations, 2 passed"
	if rep.Summary != want {
		t.Errorf("summary = %q", rep.Summary)
	}
}

func TestValidateNoInjection(t *testing.T) {
	s, err := Parse([]byte(`{"rules":[{"id":"R1","name":"law","severity":"low","message":"m","condition":"governing_law == 'Delaware'"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	// A value that would break out of a quoted substitution is just data.
	rep := s.Validate(map[string]any{"governing_law": "x' or 'a' == 'a"})
	if rep.ViolationCount != 0 || len(rep.Passed) != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"bad condition": "rules:\n  - id: R1\n    condition: x >\n",
		"duplicate id":  "rules:\n  - id: R1\n    condition: x > 1\n  - id: R1\n    condition: x > 2\n",
		"missing id":    "rules:\n  - condition: x > 1\n",
	} {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(rulesYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 4 {
		t.Errorf("loaded %d rules", s.Len())
	}
	if _, ok := s.Get("R003"); !ok {
		t.Error("R003 not found")
	}
}

func TestTools(t *testing.T) {
	reg := worker.NewToolRegistry()
	if err := Register(reg, mustParse(t), zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	record := map[string]any{
		"contract_id":        "C-002",
		"termination_clause": "90 days notice",
		"liability_cap":      250000.0,
		"auto_renewal":       false,
		"governing_law":      "Texas",
	}

	res := reg.Execute(ctx, worker.ToolCall{Tool: "validate_record", Arguments: map[string]any{"record": record}})
	if !res.OK {
		t.Fatalf("validate_record failed: %s", res.Error)
	}
	rep := res.Payload.(Report)
	if rep.ViolationCount != 1 || rep.Violations[0].RuleID != "R003" {
		t.Errorf("report = %+v", rep)
	}

	res = reg.Execute(ctx, worker.ToolCall{Tool: "evaluate_rule", Arguments: map[string]any{"rule_id": "R001", "record": record}})
	if !res.OK || res.Payload.(map[string]any)["is_violated"] != false {
		t.Errorf("evaluate_rule = %+v", res)
	}

	res = reg.Execute(ctx, worker.ToolCall{Tool: "evaluate_rule", Arguments: map[string]any{"rule_id": "R999", "record": record}})
	if res.OK || !strings.Contains(res.Error, "R999 not found") {
		t.Errorf("expected unknown rule failure, got %+v", res)
	}

	res = reg.Execute(ctx, worker.ToolCall{Tool: "list_rules"})
	if !res.OK || res.Payload.(map[string]any)["rule_count"] != 4 {
		t.Errorf("list_rules = %+v", res)
	}
}

func TestShippedRules(t *testing.T) {
	s, err := Load("../../../configs/rules.yaml")
	if err != nil {
		t.Fatal(err)
	}
	rep := s.Validate(map[string]any{
		"contract_id":        "C-006",
		"counterparty":       nil,
		"termination_clause": "60 days notice",
		"liability_cap":      300000,
		"auto_renewal":       false,
		"governing_law":      "New York",
	})
	if len(rep.Errors) != 0 {
		t.Fatalf("errors = %+v", rep.Errors)
	}
	if rep.ViolationCount != 1 || rep.Violations[0].RuleID != "R005" {
		t.Errorf("violations = %+v", rep.Violations)
	}
}
