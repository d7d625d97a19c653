// Package mcp implements the Model Context Protocol server for Tsuiseki.
//
// The MCP server exposes the span store's query surface as read-only
// tools and resources, so MCP-compatible AI agents can inspect the
// traced inference calls flowing through the proxy.
package mcp

import (
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/tsuiseki/internal/store"
)

// Server wraps the MCP server around the span store.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     *store.Store
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(st *store.Store, logger *slog.Logger, version string) *Server {
	s := &Server{
		store:  st,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"tsuiseki",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// errorResult wraps a tool failure as an MCP error result. Bad input or
// a lookup miss is a tool-level error, never a protocol failure.
func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
	}
}

// textResult marshals v as indented JSON into a tool result.
func textResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
