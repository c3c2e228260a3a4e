// Package facilitator provides the client for the external permission
// facilitator: the service that verifies a bearer credential authorizes up to
// some credit amount, and settles (burns) metered credits after use.
//
// The gateway never touches settlement mechanics itself; everything behind
// verify and settle (chain calls, card delegation) belongs to the facilitator.
package facilitator

import (
	"context"
	"errors"

	"github.com/mbd888/taskgate/internal/x402"
)

var (
	ErrBackend     = errors.New("facilitator: backend request failed")
	ErrNetwork     = errors.New("facilitator: network error")
	ErrCircuitOpen = errors.New("facilitator: circuit open")
)

// VerifyResult is the outcome of a permission verification.
type VerifyResult struct {
	IsValid        bool   `json:"isValid"`
	InvalidReason  string `json:"invalidReason,omitempty"`
	SessionKey     string `json:"sessionKey,omitempty"`
	AgentRequestID string `json:"agentRequestId,omitempty"`
}

// SettleResult is the outcome of a credit settlement.
type SettleResult struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
}

// Client verifies and settles payment permissions.
type Client interface {
	// VerifyPermissions checks, without charging, that the access token
	// authorizes up to maxAmount credits for the described resource.
	VerifyPermissions(ctx context.Context, req x402.PaymentRequired, accessToken, maxAmount string) (*VerifyResult, error)

	// SettlePermissions burns maxAmount credits against the described
	// resource. agentRequestID correlates the settlement with a prior
	// verification and may be empty.
	SettlePermissions(ctx context.Context, req x402.PaymentRequired, accessToken, maxAmount, agentRequestID string) (*SettleResult, error)
}
