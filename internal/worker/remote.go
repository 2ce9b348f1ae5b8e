package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-relay/internal/a2a"
	"github.com/nidhogg/nuka-relay/internal/mcp"
)

// RemoteTool is a tool served by a ToolServer in another process.
type RemoteTool struct {
	Spec      ToolSpec
	BaseURL   string
	Transport a2a.Transport
}

// Handler invokes the remote tool through the envelope. A FAILED response
// becomes a handler error.
func (t RemoteTool) Handler() ToolHandler {
	addr := strings.TrimRight(t.BaseURL, "/") + "/tools/" + t.Spec.Name
	return func(ctx context.Context, args map[string]any) (any, error) {
		resp, err := t.Transport.Do(ctx, addr, &a2a.TaskRequest{
			CorrelationID: uuid.NewString(),
			Arguments:     args,
		})
		if err != nil {
			return nil, fmt.Errorf("remote tool %s: %w", t.Spec.Name, err)
		}
		if resp.Status == a2a.StatusFailed {
			return nil, errors.New(strings.TrimPrefix(resp.Error, toolFailurePrefix))
		}
		var payload any
		if err := json.Unmarshal(resp.Payload, &payload); err != nil {
			return nil, fmt.Errorf("remote tool %s: decode payload: %w", t.Spec.Name, err)
		}
		return payload, nil
	}
}

// NewToolTransport returns the transport RemoteTool expects: the envelope is
// posted to the tool URL itself.
func NewToolTransport() *a2a.HTTPTransport {
	t := a2a.NewHTTPTransport()
	t.Path = ""
	return t
}

// RegisterRemote adds a remote tool to the registry.
func RegisterRemote(reg *ToolRegistry, t RemoteTool) error {
	return reg.Register(t.Spec, t.Handler())
}

// RegisterMCP registers every tool discovered on an MCP server, prefixed
// with the server name when prefix is true.
func RegisterMCP(reg *ToolRegistry, client *mcp.Client, prefix bool) error {
	for _, info := range client.Tools() {
		name := info.Name
		if prefix {
			name = client.Name() + "." + info.Name
		}
		toolName := info.Name
		handler := func(ctx context.Context, args map[string]any) (any, error) {
			res, err := client.CallTool(ctx, toolName, args)
			if err != nil {
				return nil, err
			}
			if res.IsError {
				return nil, errors.New(res.Text)
			}
			return res.Text, nil
		}
		spec := ToolSpec{Name: name, Description: info.Description, Parameters: schemaParams(info.InputSchema)}
		if err := reg.Register(spec, handler); err != nil {
			return err
		}
	}
	return nil
}

// schemaParams flattens a JSON schema's properties into name -> description.
func schemaParams(schema map[string]any) map[string]string {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]string, len(props))
	for name, raw := range props {
		prop, _ := raw.(map[string]any)
		desc, _ := prop["description"].(string)
		if typ, ok := prop["type"].(string); ok {
			if desc == "" {
				desc = typ
			} else {
				desc = typ + ", " + desc
			}
		}
		out[name] = desc
	}
	return out
}
