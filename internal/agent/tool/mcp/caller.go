// Package mcp wraps github.com/mark3labs/mcp-go's client so
// analysis nodes can call out to external tool servers instead of (or
// in addition to) the in-process VectorStore/PersistenceGateway.
// Two tools are wired per spec.md §4.7/DOMAIN STACK: "faq.search" and
// "policy.search", both proxying to the same external MCP server that
// fronts the knowledge base. Grounded on the teacher's go.mod
// dependency; no usage of mcp-go exists elsewhere in the retrieval
// pack, so the call shape follows mcp-go's documented client/CallTool
// convention directly.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	ToolFAQSearch    = "faq.search"
	ToolPolicySearch = "policy.search"
)

// Caller invokes named tools on one MCP server over SSE.
type Caller struct {
	c *client.Client
}

// Dial connects to the MCP server at url and performs the MCP
// initialize handshake.
func Dial(ctx context.Context, url string) (*Caller, error) {
	c, err := client.NewSSEMCPClient(url)
	if err != nil {
		return nil, fmt.Errorf("mcp client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp client start: %w", err)
	}
	if _, err := c.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		return nil, fmt.Errorf("mcp initialize: %w", err)
	}
	return &Caller{c: c}, nil
}

// Call invokes one tool with JSON-shaped arguments and unmarshals its
// first text content block into out.
func (m *Caller) Call(ctx context.Context, tool string, args map[string]interface{}, out interface{}) error {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	resp, err := m.c.CallTool(ctx, req)
	if err != nil {
		return fmt.Errorf("mcp call %s: %w", tool, err)
	}
	if resp.IsError {
		return fmt.Errorf("mcp tool %s returned an error result", tool)
	}
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			if err := json.Unmarshal([]byte(tc.Text), out); err != nil {
				return fmt.Errorf("decode mcp tool %s result: %w", tool, err)
			}
			return nil
		}
	}
	return fmt.Errorf("mcp tool %s returned no text content", tool)
}

// Close ends the underlying transport.
func (m *Caller) Close() error {
	return m.c.Close()
}
