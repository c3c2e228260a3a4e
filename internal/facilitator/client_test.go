package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/taskgate/internal/x402"
)

func testRequirement() x402.PaymentRequired {
	return x402.BuildPaymentRequired("plan-1", x402.RequirementParams{
		Endpoint: "/a2a",
		AgentID:  "agent-1",
		HTTPVerb: "POST",
	})
}

func TestVerifyPermissions(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/protocol/permissions/verify", r.URL.Path)
		assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(VerifyResult{
			IsValid:        true,
			AgentRequestID: "req-123",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "api-key")
	res, err := c.VerifyPermissions(context.Background(), testRequirement(), "token", "1")
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, "req-123", res.AgentRequestID)
	assert.Equal(t, "token", gotBody["x402AccessToken"])
	assert.Equal(t, "1", gotBody["maxAmount"])
}

func TestVerifyPermissions_Invalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(VerifyResult{
			IsValid:       false,
			InvalidReason: "insufficient balance",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	res, err := c.VerifyPermissions(context.Background(), testRequirement(), "token", "1")
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, "insufficient balance", res.InvalidReason)
}

func TestSettlePermissions(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/protocol/permissions/settle", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(SettleResult{Success: true, Transaction: "0xabc"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "api-key")
	res, err := c.SettlePermissions(context.Background(), testRequirement(), "token", "5", "req-123")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0xabc", res.Transaction)
	assert.Equal(t, "5", gotBody["maxAmount"])
	assert.Equal(t, "req-123", gotBody["agentRequestId"])
}

func TestBackendErrorIncludesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "plan exhausted"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.SettlePermissions(context.Background(), testRequirement(), "token", "5", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackend)
	assert.Contains(t, err.Error(), "plan exhausted")
	assert.Contains(t, err.Error(), "402")
}

func TestGetPlan(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/v1/protocol/plans/plan-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"registry":{"price":{"isCrypto":false}}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	plan, err := c.GetPlan(context.Background(), "plan-1")
	require.NoError(t, err)
	require.NotNil(t, plan.Registry.Price.IsCrypto)
	assert.False(t, *plan.Registry.Price.IsCrypto)
	assert.Equal(t, 1, calls)
}

func TestGetPlan_RetriesTransientFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"registry":{"price":{"isCrypto":true}}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	plan, err := c.GetPlan(context.Background(), "plan-1")
	require.NoError(t, err)
	assert.True(t, *plan.Registry.Price.IsCrypto)
	assert.Equal(t, 3, calls)
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	for i := 0; i < 5; i++ {
		_, err := c.VerifyPermissions(context.Background(), testRequirement(), "token", "1")
		require.ErrorIs(t, err, ErrBackend)
	}
	require.Equal(t, 5, calls)

	// Circuit is open now: the call fails fast without reaching the backend.
	_, err := c.VerifyPermissions(context.Background(), testRequirement(), "token", "1")
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 5, calls)
}

func TestCircuitIsPerPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == pathVerifyPermissions {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	for i := 0; i < 5; i++ {
		_, _ = c.VerifyPermissions(context.Background(), testRequirement(), "token", "1")
	}
	_, err := c.VerifyPermissions(context.Background(), testRequirement(), "token", "1")
	require.ErrorIs(t, err, ErrCircuitOpen)

	// Settlement path has its own circuit and still goes through.
	res, err := c.SettlePermissions(context.Background(), testRequirement(), "token", "3", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
}
