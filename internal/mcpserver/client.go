package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds the configuration for connecting to the gateway.
type Config struct {
	GatewayURL  string // Base URL, e.g. "http://localhost:8080"
	AccessToken string // x402 access token presented as the bearer credential
}

// GatewayClient is a pure JSON-RPC client for the gateway's A2A endpoint.
type GatewayClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewGatewayClient creates a new client for the gateway.
func NewGatewayClient(cfg Config) *GatewayClient {
	return &GatewayClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type rpcEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

// Call makes a JSON-RPC call to the gateway's A2A endpoint. The reply's
// error, if any, is surfaced with its payment descriptor data attached so
// the LLM can relay payment instructions.
func (c *GatewayClient) Call(ctx context.Context, method string, params any, token string) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcEnvelope{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GatewayURL+"/a2a", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token == "" {
		token = c.cfg.AccessToken
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var reply rpcReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("invalid response (%d): %s", resp.StatusCode, string(body))
	}
	if reply.Error != nil {
		if len(reply.Error.Data) > 0 {
			return nil, fmt.Errorf("gateway error (%d): %s\npayment requirements: %s",
				reply.Error.Code, reply.Error.Message, string(reply.Error.Data))
		}
		return nil, fmt.Errorf("gateway error (%d): %s", reply.Error.Code, reply.Error.Message)
	}
	return reply.Result, nil
}

// GetAgentCard fetches the gateway's public agent descriptor.
func (c *GatewayClient) GetAgentCard(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.GatewayURL+"/.well-known/agent.json", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway error (%d): %s", resp.StatusCode, string(body))
	}
	return json.RawMessage(body), nil
}
