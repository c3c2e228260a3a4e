package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool definitions for the gateway MCP server.

var ToolSendTask = mcp.NewTool("send_task",
	mcp.WithDescription("Send a message to the paid agent behind the gateway. Requires a valid access token; if the token is missing or exhausted the gateway replies with payment requirements describing the plans to purchase. Returns the resulting task with its final output and credits consumed."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("Message text to send to the agent"),
	),
	mcp.WithString("task_id",
		mcp.Description("Existing task ID to continue; omit to start a new task"),
	),
	mcp.WithString("blocking",
		mcp.Description("Whether to wait for the task to finish before returning"),
		mcp.Enum("true", "false"),
	),
	mcp.WithString("access_token",
		mcp.Description("x402 access token overriding the configured one"),
	),
)

var ToolGetTask = mcp.NewTool("get_task",
	mcp.WithDescription("Fetch the current state of a task previously created through send_task, including its status, history and credits consumed."),
	mcp.WithString("task_id",
		mcp.Required(),
		mcp.Description("ID of the task to fetch"),
	),
)

var ToolCheckAccess = mcp.NewTool("check_access",
	mcp.WithDescription("Describe the agent behind the gateway: its name, capabilities and the payment plans that grant access. Use this before send_task to learn what the agent does and how it is paid for."),
)

var ToolRegisterWebhook = mcp.NewTool("register_webhook",
	mcp.WithDescription("Register a webhook URL that the gateway notifies when a task reaches a terminal state. Useful for non-blocking tasks."),
	mcp.WithString("task_id",
		mcp.Required(),
		mcp.Description("ID of the task to watch"),
	),
	mcp.WithString("url",
		mcp.Required(),
		mcp.Description("URL the gateway POSTs the final task status to"),
	),
	mcp.WithString("token",
		mcp.Description("Bearer token the gateway sends with the notification"),
	),
)
