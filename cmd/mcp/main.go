// Taskgate MCP Server - exposes the gateway as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/taskgate/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		GatewayURL:  envOrDefault("TASKGATE_URL", "http://localhost:8080"),
		AccessToken: os.Getenv("TASKGATE_ACCESS_TOKEN"),
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
