package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is one of float64, string, bool, []Value or nil.
type Value any

// Env resolves identifiers.
type Env map[string]Value

// Eval evaluates e against env. The result must be a bool.
func Eval(e Expr, env Env) (bool, error) {
	v, err := e.eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("condition evaluated to %s, not a bool", typeName(v))
	}
	return b, nil
}

func (e literal) eval(Env) (Value, error) { return e.v, nil }

func (e ident) eval(env Env) (Value, error) {
	v, ok := env[e.name]
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", e.name)
	}
	return v, nil
}

func (e list) eval(env Env) (Value, error) {
	out := make([]Value, len(e.items))
	for i, it := range e.items {
		v, err := it.eval(env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e call) eval(env Env) (Value, error) {
	args := make([]Value, len(e.args))
	for i, a := range e.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return functions[e.fn](args)
}

func (e unary) eval(env Env) (Value, error) {
	v, err := e.x.eval(env)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case "not":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("not: expected bool, got %s", typeName(v))
		}
		return !b, nil
	case "-":
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("-: expected number, got %s", typeName(v))
		}
		return -f, nil
	}
	return nil, fmt.Errorf("unknown operator %s", e.op)
}

func (e binary) eval(env Env) (Value, error) {
	l, err := e.l.eval(env)
	if err != nil {
		return nil, err
	}

	// and/or short-circuit.
	if e.op == "and" || e.op == "or" {
		lb, ok := l.(bool)
		if !ok {
			return nil, fmt.Errorf("%s: expected bool, got %s", e.op, typeName(l))
		}
		if e.op == "and" && !lb || e.op == "or" && lb {
			return lb, nil
		}
		r, err := e.r.eval(env)
		if err != nil {
			return nil, err
		}
		rb, ok := r.(bool)
		if !ok {
			return nil, fmt.Errorf("%s: expected bool, got %s", e.op, typeName(r))
		}
		return rb, nil
	}

	r, err := e.r.eval(env)
	if err != nil {
		return nil, err
	}

	switch e.op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	case "in", "not in":
		items, ok := r.([]Value)
		if !ok {
			if s, isStr := r.(string); isStr {
				sub, ok := l.(string)
				if !ok {
					return nil, fmt.Errorf("%s: expected string, got %s", e.op, typeName(l))
				}
				return strings.Contains(s, sub) == (e.op == "in"), nil
			}
			return nil, fmt.Errorf("%s: expected list or string, got %s", e.op, typeName(r))
		}
		found := false
		for _, it := range items {
			if equal(l, it) {
				found = true
				break
			}
		}
		return found == (e.op == "in"), nil
	case "<", "<=", ">", ">=":
		return compare(e.op, l, r)
	case "+", "-", "*", "/":
		return arith(e.op, l, r)
	}
	return nil, fmt.Errorf("unknown operator %s", e.op)
}

func equal(l, r Value) bool {
	switch a := l.(type) {
	case []Value:
		b, ok := r.([]Value)
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if !equal(a[i], b[i]) {
				return false
			}
		}
		return true
	default:
		if _, isList := r.([]Value); isList {
			return false
		}
		return l == r
	}
}

func compare(op string, l, r Value) (Value, error) {
	var c int
	switch a := l.(type) {
	case float64:
		b, ok := r.(float64)
		if !ok {
			return nil, fmt.Errorf("%s: cannot compare number with %s", op, typeName(r))
		}
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	case string:
		b, ok := r.(string)
		if !ok {
			return nil, fmt.Errorf("%s: cannot compare string with %s", op, typeName(r))
		}
		c = strings.Compare(a, b)
	default:
		return nil, fmt.Errorf("%s: cannot order %s", op, typeName(l))
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func arith(op string, l, r Value) (Value, error) {
	if op == "+" {
		if a, ok := l.(string); ok {
			if b, ok := r.(string); ok {
				return a + b, nil
			}
		}
	}
	a, ok1 := l.(float64)
	b, ok2 := r.(float64)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%s: expected numbers, got %s and %s", op, typeName(l), typeName(r))
	}
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	default:
		if b == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return a / b, nil
	}
}

var functions = map[string]func([]Value) (Value, error){
	"number": func(args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("number takes 1 argument")
		}
		return toNumber(args[0]), nil
	},
	"lower": func(args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("lower takes 1 argument")
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("lower: expected string, got %s", typeName(args[0]))
		}
		return strings.ToLower(s), nil
	},
	"len": func(args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len takes 1 argument")
		}
		switch x := args[0].(type) {
		case string:
			return float64(len([]rune(x))), nil
		case []Value:
			return float64(len(x)), nil
		}
		return nil, fmt.Errorf("len: expected string or list, got %s", typeName(args[0]))
	},
}

// toNumber converts loosely: numbers pass through, strings are parsed,
// bools are 0 or 1 and anything else is 0.
func toNumber(v Value) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func typeName(v Value) string {
	switch v.(type) {
	case nil:
		return "null"
	case float64:
		return "number"
	case string:
		return "string"
	case bool:
		return "bool"
	case []Value:
		return "list"
	}
	return fmt.Sprintf("%T", v)
}
