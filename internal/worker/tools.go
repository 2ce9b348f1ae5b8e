package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// toolFailurePrefix tags every failed ToolResult error.
const toolFailurePrefix = "TOOL_FAILURE: "

// ToolHandler executes a tool with structured arguments.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// ToolSpec describes a tool to the oracle. Parameters maps argument names
// to a short description.
type ToolSpec struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// ToolRegistry holds available tools and their handlers. Register during
// setup only; lookups afterwards are read-only.
type ToolRegistry struct {
	specs    []ToolSpec
	handlers map[string]ToolHandler
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{handlers: make(map[string]ToolHandler)}
}

// Register adds a tool definition and its handler.
func (r *ToolRegistry) Register(spec ToolSpec, handler ToolHandler) error {
	if spec.Name == "" {
		return fmt.Errorf("tool without name")
	}
	if _, dup := r.handlers[spec.Name]; dup {
		return fmt.Errorf("tool %q already registered", spec.Name)
	}
	r.specs = append(r.specs, spec)
	r.handlers[spec.Name] = handler
	return nil
}

// Specs returns the tool definitions sorted by name.
func (r *ToolRegistry) Specs() []ToolSpec {
	out := make([]ToolSpec, len(r.specs))
	copy(out, r.specs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *ToolRegistry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

func (r *ToolRegistry) Len() int { return len(r.handlers) }

// Execute runs a tool. It never returns an error: unknown tools, handler
// errors and panics all become failure results. A nil success payload is
// reported as "", the same value a ToolServer sends for it.
func (r *ToolRegistry) Execute(ctx context.Context, call ToolCall) (res ToolResult) {
	h, ok := r.handlers[call.Tool]
	if !ok {
		return toolFailure(call.Tool, toolFailurePrefix+"unknown tool: %s", call.Tool)
	}
	defer func() {
		if p := recover(); p != nil {
			res = toolFailure(call.Tool, toolFailurePrefix+"tool panicked: %v", p)
		}
	}()
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	payload, err := h(ctx, args)
	if err != nil {
		return toolFailure(call.Tool, toolFailurePrefix+"%v", err)
	}
	if payload == nil {
		payload = ""
	}
	return toolSuccess(call.Tool, payload)
}

// DecodeArgs copies tool arguments into the struct pointed to by v.
func DecodeArgs(args map[string]any, v any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
