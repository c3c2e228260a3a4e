package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/taskgate/internal/a2a"
	"github.com/mbd888/taskgate/internal/idgen"
)

// Handlers contains the MCP tool handlers backed by the gateway client.
type Handlers struct {
	client *GatewayClient
}

// NewHandlers creates tool handlers using the given gateway client.
func NewHandlers(client *GatewayClient) *Handlers {
	return &Handlers{client: client}
}

// HandleSendTask sends a message to the agent and reports the resulting task.
func (h *Handlers) HandleSendTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}
	taskID := req.GetString("task_id", "")
	blocking := req.GetString("blocking", "true") != "false"
	token := req.GetString("access_token", "")

	msg := a2a.Message{
		Kind:      a2a.KindMessage,
		MessageID: idgen.WithPrefix("msg_"),
		Role:      "user",
		TaskID:    taskID,
		Parts:     []a2a.Part{{Kind: "text", Text: text}},
	}
	params := a2a.SendParams{
		Message: &msg,
		Configuration: &a2a.SendConfiguration{
			Blocking: &blocking,
		},
	}

	raw, err := h.client.Call(ctx, "message/send", params, token)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("send failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatSendResult(raw)), nil
}

// HandleGetTask fetches the state of an existing task.
func (h *Handlers) HandleGetTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}

	raw, err := h.client.Call(ctx, "tasks/get", map[string]string{"id": taskID}, "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fetch failed: %v", err)), nil
	}

	var task a2a.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid task payload: %v", err)), nil
	}
	return mcp.NewToolResultText(formatTask(&task)), nil
}

// HandleCheckAccess describes the agent and its payment plans.
func (h *Handlers) HandleCheckAccess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetAgentCard(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("agent card fetch failed: %v", err)), nil
	}

	var card struct {
		Name         string   `json:"name"`
		Description  string   `json:"description"`
		URL          string   `json:"url"`
		Capabilities struct {
			Extensions []struct {
				URI    string         `json:"uri"`
				Params map[string]any `json:"params"`
			} `json:"extensions"`
		} `json:"capabilities"`
	}
	if err := json.Unmarshal(raw, &card); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid agent card: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s\n", card.Name)
	if card.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", card.Description)
	}
	if card.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", card.URL)
	}
	for _, ext := range card.Capabilities.Extensions {
		if !strings.Contains(ext.URI, "payment") {
			continue
		}
		b.WriteString("Payment extension: " + ext.URI + "\n")
		plans, _ := ext.Params["planIds"].([]any)
		if len(plans) == 0 {
			if planID, ok := ext.Params["planId"].(string); ok && planID != "" {
				plans = []any{planID}
			}
		}
		if len(plans) > 0 {
			enc, _ := json.MarshalIndent(plans, "", "  ")
			fmt.Fprintf(&b, "Plans:\n%s\n", string(enc))
		}
		if agentID, ok := ext.Params["agentId"].(string); ok {
			fmt.Fprintf(&b, "Agent ID: %s\n", agentID)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

// HandleRegisterWebhook registers a push notification config for a task.
func (h *Handlers) HandleRegisterWebhook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}
	url := req.GetString("url", "")
	if url == "" {
		return mcp.NewToolResultError("url is required"), nil
	}
	token := req.GetString("token", "")

	params := map[string]any{
		"taskId": taskID,
		"pushNotificationConfig": map[string]any{
			"url":   url,
			"token": token,
		},
	}
	if _, err := h.client.Call(ctx, "tasks/pushNotificationConfig/set", params, ""); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("webhook registration failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Webhook registered for task %s", taskID)), nil
}

func formatSendResult(raw json.RawMessage) string {
	var kind struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &kind); err == nil && kind.Kind == string(a2a.KindMessage) {
		var msg a2a.Message
		if err := json.Unmarshal(raw, &msg); err == nil {
			var b strings.Builder
			b.WriteString("Agent replied directly:\n")
			for _, p := range msg.Parts {
				if p.Kind == "text" {
					b.WriteString(p.Text + "\n")
				}
			}
			return b.String()
		}
	}

	var task a2a.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return string(raw)
	}
	return formatTask(&task)
}

func formatTask(task *a2a.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s\n", task.ID)
	fmt.Fprintf(&b, "State: %s\n", task.Status.State)
	if task.Status.Message != nil {
		for _, p := range task.Status.Message.Parts {
			if p.Kind == "text" && p.Text != "" {
				fmt.Fprintf(&b, "Output: %s\n", p.Text)
			}
		}
	}
	if credits, ok := task.Metadata["creditsUsed"]; ok {
		fmt.Fprintf(&b, "Credits used: %v\n", credits)
	}
	if !task.Status.State.IsTerminal() {
		b.WriteString("Task is still running; poll it with get_task.\n")
	}
	return b.String()
}
