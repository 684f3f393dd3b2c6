package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPTool proxies a single tool on a remote MCP server behind the same
// Tool interface as the built-ins, so the registry's Invoke contract is
// indifferent to whether a call lands locally or on an external server.
type MCPTool struct {
	client      *client.Client
	name        string
	description string
	schema      map[string]any
}

// ConnectSSE dials an MCP server over SSE at url, performs the
// initialize/list-tools handshake, and returns one MCPTool per tool the
// server advertises, ready to register.
func ConnectSSE(ctx context.Context, url string) ([]*MCPTool, error) {
	c, err := client.NewSSEMCPClient(url)
	if err != nil {
		return nil, fmt.Errorf("mcp: dial %s: %w", url, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp: start: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "voxgateway", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("mcp: initialize: %w", err)
	}

	tools, err := NewMCPProxy(ctx, c)
	if err != nil {
		c.Close()
		return nil, err
	}
	return tools, nil
}

// NewMCPProxy lists the tools of an already started and initialized MCP
// client and wraps each of them; it does not connect or initialize c itself.
func NewMCPProxy(ctx context.Context, c *client.Client) ([]*MCPTool, error) {
	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools: %w", err)
	}
	out := make([]*MCPTool, 0, len(res.Tools))
	for _, td := range res.Tools {
		schema := map[string]any{}
		if raw, err := json.Marshal(td.InputSchema); err == nil {
			_ = json.Unmarshal(raw, &schema)
		}
		out = append(out, &MCPTool{
			client:      c,
			name:        td.Name,
			description: td.Description,
			schema:      schema,
		})
	}
	return out, nil
}

func (t *MCPTool) Name() string            { return t.name }
func (t *MCPTool) Description() string     { return t.description }
func (t *MCPTool) Schema() map[string]any  { return t.schema }
func (t *MCPTool) Timeout() time.Duration  { return 0 }

func (t *MCPTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = args

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp call %s: %w", t.name, err)
	}
	out := ""
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			out += tc.Text
		}
	}
	return out, nil
}

var _ Tool = (*MCPTool)(nil)
