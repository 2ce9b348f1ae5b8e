package worker

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestRemoteToolRoundTrip(t *testing.T) {
	srv := httptest.NewServer(NewToolServer(testTools(t), zap.NewNop()).Routes())
	defer srv.Close()

	local := NewToolRegistry()
	tr := NewToolTransport()
	for _, name := range []string{"get_record", "explode", "missing"} {
		err := RegisterRemote(local, RemoteTool{Spec: ToolSpec{Name: name}, BaseURL: srv.URL, Transport: tr})
		if err != nil {
			t.Fatal(err)
		}
	}

	res := local.Execute(context.Background(), ToolCall{Tool: "get_record", Arguments: map[string]any{"id": "C-3"}})
	if !res.OK {
		t.Fatalf("remote call failed: %+v", res)
	}
	payload, ok := res.Payload.(map[string]any)
	if !ok || payload["id"] != "C-3" || payload["value"] != float64(42) {
		t.Errorf("unexpected payload %#v", res.Payload)
	}

	res = local.Execute(context.Background(), ToolCall{Tool: "get_record"})
	if res.OK || !strings.Contains(res.Error, "id is required") {
		t.Errorf("expected remote validation error, got %+v", res)
	}

	res = local.Execute(context.Background(), ToolCall{Tool: "explode"})
	if res.OK || !strings.Contains(res.Error, "tool panicked") {
		t.Errorf("expected remote panic to surface as failure, got %+v", res)
	}

	res = local.Execute(context.Background(), ToolCall{Tool: "missing"})
	if res.OK || !strings.Contains(res.Error, "unknown tool: missing") {
		t.Errorf("expected unknown tool failure, got %+v", res)
	}
}

func TestToolRegistryRejectsDuplicates(t *testing.T) {
	reg := testTools(t)
	if err := reg.Register(ToolSpec{Name: "get_record"}, nil); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := reg.Register(ToolSpec{}, nil); err == nil {
		t.Fatal("expected missing name error")
	}
}

func TestSchemaParams(t *testing.T) {
	got := schemaParams(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sql":  map[string]any{"type": "string", "description": "query to run"},
			"rows": map[string]any{"type": "integer"},
		},
	})
	if got["sql"] != "string, query to run" || got["rows"] != "integer" {
		t.Errorf("unexpected params %v", got)
	}
	if schemaParams(nil) != nil {
		t.Error("nil schema should give nil params")
	}
}

func TestNilPayloadSameLocalAndRemote(t *testing.T) {
	tools := NewToolRegistry()
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }
	if err := tools.Register(ToolSpec{Name: "noop"}, noop); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewToolServer(tools, zap.NewNop()).Routes())
	defer srv.Close()

	remote := NewToolRegistry()
	if err := RegisterRemote(remote, RemoteTool{Spec: ToolSpec{Name: "noop"}, BaseURL: srv.URL, Transport: NewToolTransport()}); err != nil {
		t.Fatal(err)
	}

	local := tools.Execute(context.Background(), ToolCall{Tool: "noop"})
	viaServer := remote.Execute(context.Background(), ToolCall{Tool: "noop"})
	if !local.OK || !viaServer.OK {
		t.Fatalf("local %+v, remote %+v", local, viaServer)
	}
	if local.Payload != viaServer.Payload {
		t.Errorf("payloads differ: %#v vs %#v", local.Payload, viaServer.Payload)
	}
}
