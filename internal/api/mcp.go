package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"hargraph/internal/tools"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Registry   *tools.Registry
	NewSession func() (*tools.Session, error)
}

// NewMCPServer exposes the tool catalogue over MCP so external agents can
// drive the same operations the built-in chat loop uses.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"hargraph",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("hargraph — inspect a captured HTTP dataset and extract a knowledge graph from it."),
		server.WithRecovery(),
	)

	for _, def := range deps.Registry.Definitions() {
		s.AddTool(mcpTool(def), mcpHandler(deps, def.Name))
	}

	return s
}

func mcpTool(def tools.Definition) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(def.Description)}
	for name, p := range def.Params {
		var propOpts []mcp.PropertyOption
		if p.Description != "" {
			propOpts = append(propOpts, mcp.Description(p.Description))
		}
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}

		switch p.Type {
		case "number":
			opts = append(opts, mcp.WithNumber(name, propOpts...))
		case "boolean":
			opts = append(opts, mcp.WithBoolean(name, propOpts...))
		case "object":
			opts = append(opts, mcp.WithObject(name, propOpts...))
		case "array":
			opts = append(opts, mcp.WithArray(name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(name, propOpts...))
		}
	}
	return mcp.NewTool(def.Name, opts...)
}

func mcpHandler(deps MCPDeps, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, err := deps.NewSession()
		if err != nil {
			return mcpError(fmt.Sprintf("building session: %v", err)), nil
		}

		out := deps.Registry.Dispatch(ctx, sess, name, req.GetArguments())
		if errMsg, failed := out["error"]; failed {
			return mcpError(fmt.Sprintf("%v", errMsg)), nil
		}

		b, err := json.Marshal(out["result"])
		if err != nil {
			return mcpError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
