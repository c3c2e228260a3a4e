// Package x402 provides caller-side helpers for the x402 payment protocol:
// typed payment-required descriptors and an HTTP client that presents an
// access token and surfaces payment requirements from 402 responses.
package x402

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Resource describes the endpoint a payment descriptor protects.
type Resource struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// RequirementExtra carries scheme-specific requirement fields.
type RequirementExtra struct {
	AgentID  string `json:"agentId,omitempty"`
	HTTPVerb string `json:"httpVerb,omitempty"`
}

// Requirement is one way to pay for a resource: a plan under a scheme.
type Requirement struct {
	Scheme  string           `json:"scheme"`
	Network string           `json:"network"`
	PlanID  string           `json:"planId"`
	Extra   RequirementExtra `json:"extra,omitempty"`
}

// PaymentRequired is the descriptor a gateway returns with a 402 response.
// Each entry in Accepts names a plan the caller can purchase to gain access.
type PaymentRequired struct {
	X402Version int            `json:"x402Version"`
	Resource    Resource       `json:"resource"`
	Accepts     []Requirement  `json:"accepts"`
	Extensions  map[string]any `json:"extensions,omitempty"`
}

// PlanIDs returns the plan IDs the descriptor accepts, in order.
func (p *PaymentRequired) PlanIDs() []string {
	ids := make([]string, 0, len(p.Accepts))
	for _, a := range p.Accepts {
		ids = append(ids, a.PlanID)
	}
	return ids
}

// PaymentRequiredError is returned by Client when the gateway demands
// payment. It carries the parsed descriptor.
type PaymentRequiredError struct {
	Message      string
	Requirements *PaymentRequired
}

func (e *PaymentRequiredError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payment required: %s", e.Message)
	}
	return "payment required"
}

// Is402Response checks whether an HTTP response demands payment.
func Is402Response(resp *http.Response) bool {
	return resp.StatusCode == http.StatusPaymentRequired
}

// ParsePaymentRequired extracts the descriptor from a 402 response body.
// Gateways return the descriptor either as the raw body or wrapped in a
// JSON-RPC error envelope under error.data; both forms are handled.
func ParsePaymentRequired(resp *http.Response) (*PaymentRequired, error) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("not a 402 response: got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parsePaymentRequired(body)
}

func parsePaymentRequired(body []byte) (*PaymentRequired, error) {
	var envelope struct {
		Error *struct {
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil &&
		envelope.Error != nil && len(envelope.Error.Data) > 0 {
		body = envelope.Error.Data
	}

	var req PaymentRequired
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse payment requirements: %w", err)
	}
	if req.X402Version == 0 && len(req.Accepts) == 0 {
		return nil, fmt.Errorf("response carries no payment requirements")
	}
	return &req, nil
}
