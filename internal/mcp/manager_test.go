package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// setupTestServer creates an in-memory MCP server with the given tools and
// returns a connected Manager. The cleanup function closes everything.
func setupTestServer(t *testing.T, serverName string, mcpTools []*mcpsdk.Tool, handlers map[string]mcpsdk.ToolHandler) (*Manager, func()) {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "test-server",
		Version: "1.0",
	}, nil)

	for _, tool := range mcpTools {
		handler := handlers[tool.Name]
		if handler == nil {
			handler = func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "ok"}},
				}, nil
			}
		}
		server.AddTool(tool, handler)
	}

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ctx := context.Background()

	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}

	origTransport := newTransport
	newTransport = func(sc ServerConfig) (mcpsdk.Transport, context.CancelFunc) {
		return clientTransport, func() {}
	}

	mgr := NewManager(nil)
	mgr.StartAll(ctx, Config{
		MCPServers: map[string]ServerConfig{
			serverName: {Type: "stdio", Command: "unused"},
		},
	})

	return mgr, func() {
		mgr.StopAll()
		serverSession.Close()
		newTransport = origTransport
	}
}

func TestManagerToolDiscovery(t *testing.T) {
	tools := []*mcpsdk.Tool{
		{
			Name:        "read_file",
			Description: "Read a file",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "File path"},
				},
				"required": []any{"path"},
			},
		},
		{
			Name:        "write_file",
			Description: "Write a file",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []any{"path", "content"},
			},
		},
	}

	mgr, cleanup := setupTestServer(t, "fs", tools, nil)
	defer cleanup()

	names := mgr.ToolNames()
	if len(names) != 2 {
		t.Fatalf("expected 2 tool names, got %d: %v", len(names), names)
	}
	if names[0] != "mcp__fs__read_file" || names[1] != "mcp__fs__write_file" {
		t.Errorf("unexpected names: %v", names)
	}

	specs := mgr.ToolSpecs()
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	for _, spec := range specs {
		if spec.Name == "mcp__fs__read_file" {
			prop, ok := spec.Properties["path"]
			if !ok {
				t.Fatal("path property missing")
			}
			if prop.Type != "string" || prop.Description != "File path" {
				t.Errorf("unexpected prop: %+v", prop)
			}
			if len(spec.Required) != 1 || spec.Required[0] != "path" {
				t.Errorf("unexpected required: %v", spec.Required)
			}
		}
	}

	if statuses := mgr.ServerStatuses(); statuses["fs"] != "connected" {
		t.Errorf("fs status = %q, want connected", statuses["fs"])
	}
}

func TestManagerCallTool(t *testing.T) {
	tools := []*mcpsdk.Tool{
		{
			Name:        "echo",
			Description: "Echo input",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{"type": "string"},
				},
			},
		},
	}

	handlers := map[string]mcpsdk.ToolHandler{
		"echo": func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			var args map[string]any
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return nil, err
			}
			msg, _ := args["message"].(string)
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "echo: " + msg}},
			}, nil
		},
	}

	mgr, cleanup := setupTestServer(t, "util", tools, handlers)
	defer cleanup()

	t.Run("successful call", func(t *testing.T) {
		result, found := mgr.CallTool(context.Background(), "util", "echo", map[string]any{"message": "hi"})
		if !found {
			t.Fatal("server should be found")
		}
		if result != "echo: hi" {
			t.Errorf("unexpected result: %q", result)
		}
	})

	t.Run("unknown server", func(t *testing.T) {
		_, found := mgr.CallTool(context.Background(), "nope", "echo", nil)
		if found {
			t.Error("unknown server should not be found")
		}
	})

	t.Run("unknown tool reports failure text", func(t *testing.T) {
		result, found := mgr.CallTool(context.Background(), "util", "missing", nil)
		if !found {
			t.Fatal("server should be found even for missing tools")
		}
		if !strings.Contains(result, "failed") {
			t.Errorf("expected failure text, got: %q", result)
		}
	})
}

func TestManagerFailedServer(t *testing.T) {
	origTransport := newTransport
	newTransport = func(sc ServerConfig) (mcpsdk.Transport, context.CancelFunc) {
		// A command transport to a missing binary fails to connect.
		return defaultNewTransport(sc)
	}
	defer func() { newTransport = origTransport }()

	mgr := NewManager(nil)
	mgr.StartAll(context.Background(), Config{
		MCPServers: map[string]ServerConfig{
			"broken": {Type: "stdio", Command: "/nonexistent/mcp-server"},
		},
	})
	defer mgr.StopAll()

	statuses := mgr.ServerStatuses()
	if !strings.HasPrefix(statuses["broken"], "error") {
		t.Errorf("expected error status, got %q", statuses["broken"])
	}

	result, found := mgr.CallTool(context.Background(), "broken", "anything", nil)
	if !found {
		t.Fatal("configured server should be found")
	}
	if !strings.Contains(result, "unavailable") {
		t.Errorf("expected unavailable message, got %q", result)
	}

	if len(mgr.ToolSpecs()) != 0 {
		t.Error("failed server should expose no tools")
	}
}

func TestNamespacedName(t *testing.T) {
	tests := []struct {
		server string
		tool   string
		want   string
	}{
		{"github", "create_issue", "mcp__github__create_issue"},
		{"My Server", "run", "mcp__my-server__run"},
		{"a_b.c", "t", "mcp__a-b-c__t"},
	}
	for _, tt := range tests {
		if got := NamespacedName(tt.server, tt.tool); got != tt.want {
			t.Errorf("NamespacedName(%q, %q) = %q, want %q", tt.server, tt.tool, got, tt.want)
		}
	}
}

func TestConvertPropNested(t *testing.T) {
	spec := toToolSpec("s", &mcpsdk.Tool{
		Name: "complex",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tags": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"options": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"depth": map[string]any{"type": "integer"},
					},
					"required": []any{"depth"},
				},
				"mode": map[string]any{
					"type": "string",
					"enum": []any{"fast", "thorough"},
				},
			},
		},
	})

	tags := spec.Properties["tags"]
	if tags.Type != "array" || tags.Items == nil || tags.Items.Type != "string" {
		t.Errorf("array prop not converted: %+v", tags)
	}

	options := spec.Properties["options"]
	if options.Type != "object" || options.Properties["depth"].Type != "integer" {
		t.Errorf("nested object not converted: %+v", options)
	}
	if len(options.Required) != 1 || options.Required[0] != "depth" {
		t.Errorf("nested required not converted: %v", options.Required)
	}

	mode := spec.Properties["mode"]
	if len(mode.Enum) != 2 || mode.Enum[0] != "fast" {
		t.Errorf("enum not converted: %v", mode.Enum)
	}
}
