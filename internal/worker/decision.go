package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Decision is the oracle's choice for one turn: call Tool with Arguments,
// or conclude with Final.
type Decision struct {
	Thought   string
	Tool      string
	Arguments map[string]any
	Final     string
	final     bool
}

// IsFinal reports whether the decision concludes the loop.
func (d Decision) IsFinal() bool { return d.final }

type rawDecision struct {
	Thought   *string         `json:"thought"`
	Tool      *string         `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Final     *string         `json:"final"`
}

// ErrMalformedDecision wraps every decision grammar violation.
var ErrMalformedDecision = errors.New("ORACLE_MALFORMED_OUTPUT")

// ParseDecision accepts exactly one JSON object with either a non-empty
// "tool" (and optional object "arguments") or a "final" string. Anything
// else, including surrounding prose or code fences, is rejected.
func ParseDecision(reply string) (Decision, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(reply)))
	dec.DisallowUnknownFields()

	var raw rawDecision
	if err := dec.Decode(&raw); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Decision{}, fmt.Errorf("%w: trailing data after decision", ErrMalformedDecision)
	}

	var d Decision
	if raw.Thought != nil {
		d.Thought = *raw.Thought
	}
	switch {
	case raw.Tool != nil && raw.Final != nil:
		return Decision{}, fmt.Errorf("%w: both tool and final given", ErrMalformedDecision)
	case raw.Final != nil:
		if len(raw.Arguments) > 0 {
			return Decision{}, fmt.Errorf("%w: arguments without tool", ErrMalformedDecision)
		}
		d.Final = *raw.Final
		d.final = true
		return d, nil
	case raw.Tool != nil:
		if strings.TrimSpace(*raw.Tool) == "" {
			return Decision{}, fmt.Errorf("%w: empty tool name", ErrMalformedDecision)
		}
		d.Tool = *raw.Tool
		d.Arguments = map[string]any{}
		if len(raw.Arguments) > 0 && !bytes.Equal(raw.Arguments, []byte("null")) {
			if err := json.Unmarshal(raw.Arguments, &d.Arguments); err != nil {
				return Decision{}, fmt.Errorf("%w: arguments must be an object", ErrMalformedDecision)
			}
		}
		return d, nil
	default:
		return Decision{}, fmt.Errorf("%w: neither tool nor final given", ErrMalformedDecision)
	}
}
