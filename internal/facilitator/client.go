package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mbd888/taskgate/internal/circuitbreaker"
	"github.com/mbd888/taskgate/internal/retry"
	"github.com/mbd888/taskgate/internal/x402"
)

// Backend API paths.
const (
	pathVerifyPermissions = "/api/v1/protocol/permissions/verify"
	pathSettlePermissions = "/api/v1/protocol/permissions/settle"
	pathGetPlan           = "/api/v1/protocol/plans/%s"
)

// HTTPClient talks to the facilitator backend over HTTP. It implements both
// Client and x402.PlanFetcher. A per-path circuit breaker sheds calls while
// the backend is down so request handlers fail fast instead of stacking up
// on a 30 second timeout.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewHTTPClient creates a facilitator client for the given backend.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

type verifyRequest struct {
	PaymentRequired x402.PaymentRequired `json:"paymentRequired"`
	X402AccessToken string               `json:"x402AccessToken"`
	MaxAmount       string               `json:"maxAmount,omitempty"`
}

type settleRequest struct {
	PaymentRequired x402.PaymentRequired `json:"paymentRequired"`
	X402AccessToken string               `json:"x402AccessToken"`
	MaxAmount       string               `json:"maxAmount,omitempty"`
	AgentRequestID  string               `json:"agentRequestId,omitempty"`
}

// VerifyPermissions implements Client.
func (c *HTTPClient) VerifyPermissions(ctx context.Context, req x402.PaymentRequired, accessToken, maxAmount string) (*VerifyResult, error) {
	var result VerifyResult
	err := c.post(ctx, pathVerifyPermissions, verifyRequest{
		PaymentRequired: req,
		X402AccessToken: accessToken,
		MaxAmount:       maxAmount,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SettlePermissions implements Client.
func (c *HTTPClient) SettlePermissions(ctx context.Context, req x402.PaymentRequired, accessToken, maxAmount, agentRequestID string) (*SettleResult, error) {
	var result SettleResult
	err := c.post(ctx, pathSettlePermissions, settleRequest{
		PaymentRequired: req,
		X402AccessToken: accessToken,
		MaxAmount:       maxAmount,
		AgentRequestID:  agentRequestID,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPlan implements x402.PlanFetcher. Transient failures are retried with
// backoff since the result feeds a long-lived cache.
func (c *HTTPClient) GetPlan(ctx context.Context, planID string) (*x402.PlanMetadata, error) {
	var plan x402.PlanMetadata
	err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		return c.get(ctx, fmt.Sprintf(pathGetPlan, url.PathEscape(planID)), &plan)
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	return c.do(req, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	c.setHeaders(req)

	return c.do(req, out)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	key := req.URL.Path
	if !c.breaker.Allow(key) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure(key)
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.breaker.RecordFailure(key)
		return fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure(key)
	} else {
		// 4xx is a backend answer, not an availability failure.
		c.breaker.RecordSuccess(key)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := backendMessage(raw)
		return fmt.Errorf("%w: %s (HTTP %d)", ErrBackend, msg, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrBackend, err)
		}
	}
	return nil
}

func backendMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return "request failed"
}
