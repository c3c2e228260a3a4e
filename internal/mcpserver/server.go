// Package mcpserver exposes the gateway to LLM clients over the Model
// Context Protocol. The tools wrap the gateway's JSON-RPC endpoint so an
// LLM can send paid tasks, poll them, and discover payment requirements.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates an MCP server with all gateway tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("taskgate", "1.0.0")
	client := NewGatewayClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolSendTask, h.HandleSendTask)
	s.AddTool(ToolGetTask, h.HandleGetTask)
	s.AddTool(ToolCheckAccess, h.HandleCheckAccess)
	s.AddTool(ToolRegisterWebhook, h.HandleRegisterWebhook)

	return s
}
