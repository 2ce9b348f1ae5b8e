package worker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolCall is one requested tool invocation.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of a tool invocation. Payload is set on
// success, Error on failure.
type ToolResult struct {
	Tool    string `json:"tool"`
	OK      bool   `json:"ok"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

func toolSuccess(tool string, payload any) ToolResult {
	return ToolResult{Tool: tool, OK: true, Payload: payload}
}

func toolFailure(tool, format string, args ...any) ToolResult {
	return ToolResult{Tool: tool, Error: fmt.Sprintf(format, args...)}
}

// Step is one turn of the loop. Call is nil when the oracle's decision
// could not be parsed.
type Step struct {
	Decision Decision
	Call     *ToolCall
	Result   ToolResult
}

// Transcript is owned by a single Run and dropped when it returns.
type Transcript []Step

// LastSuccess returns the payload of the most recent successful tool call.
func (t Transcript) LastSuccess() (any, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Call != nil && t[i].Result.OK {
			return t[i].Result.Payload, true
		}
	}
	return nil, false
}

// Render formats the transcript for the next oracle prompt.
func (t Transcript) Render() string {
	var b strings.Builder
	for i, s := range t {
		fmt.Fprintf(&b, "%d.", i+1)
		if s.Decision.Thought != "" {
			fmt.Fprintf(&b, " thought: %s\n  ", s.Decision.Thought)
		} else {
			b.WriteString(" ")
		}
		if s.Call != nil {
			args, _ := json.Marshal(s.Call.Arguments)
			fmt.Fprintf(&b, "call: %s %s\n  ", s.Call.Tool, args)
		}
		if s.Result.OK {
			fmt.Fprintf(&b, "result: %s\n", renderPayload(s.Result.Payload))
		} else {
			fmt.Fprintf(&b, "error: %s\n", s.Result.Error)
		}
	}
	return b.String()
}

// renderPayload turns a tool payload into text: strings verbatim, anything
// else as JSON.
func renderPayload(p any) string {
	if s, ok := p.(string); ok {
		return s
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("%v", p)
	}
	return string(b)
}
