package x402

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client wraps http.Client with access-token handling for x402-gated
// services. Requests carry the token as a bearer credential; 402 responses
// are parsed into typed PaymentRequiredError values so callers can inspect
// the plans on offer.
type Client struct {
	httpClient *http.Client

	// AccessToken is attached to every request. Leave empty to probe a
	// gateway's payment requirements without credentials.
	AccessToken string

	// OnPaymentRequired, if set, is called with the parsed descriptor
	// before DoContext returns the error.
	OnPaymentRequired func(req *PaymentRequired)
}

// NewClient creates an x402-aware HTTP client.
func NewClient(accessToken string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		AccessToken: accessToken,
	}
}

// Do performs an HTTP request, attaching the access token.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoContext(req.Context(), req)
}

// DoContext performs an HTTP request with context. If the server answers
// with 402, the response body is consumed and a *PaymentRequiredError is
// returned instead.
func (c *Client) DoContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	if c.AccessToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if !Is402Response(resp) {
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read 402 response: %w", err)
	}

	perr := &PaymentRequiredError{}
	if parsed, parseErr := parsePaymentRequired(body); parseErr == nil {
		perr.Requirements = parsed
		if c.OnPaymentRequired != nil {
			c.OnPaymentRequired(parsed)
		}
	} else {
		perr.Message = string(bytes.TrimSpace(body))
	}
	return nil, perr
}

// Post is a convenience wrapper for JSON POST requests.
func (c *Client) Post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.DoContext(ctx, req)
}
