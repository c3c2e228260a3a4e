package x402

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPaymentRequired_Defaults(t *testing.T) {
	req := BuildPaymentRequired("plan-1", RequirementParams{
		Endpoint: "/a2a",
		AgentID:  "agent-1",
		HTTPVerb: "POST",
	})

	assert.Equal(t, 2, req.X402Version)
	assert.Equal(t, "/a2a", req.Resource.URL)
	require.Len(t, req.Accepts, 1)
	assert.Equal(t, SchemeERC4337, req.Accepts[0].Scheme)
	assert.Equal(t, "eip155:84532", req.Accepts[0].Network)
	assert.Equal(t, "plan-1", req.Accepts[0].PlanID)
	require.NotNil(t, req.Accepts[0].Extra)
	assert.Equal(t, "agent-1", req.Accepts[0].Extra.AgentID)
	assert.Equal(t, "POST", req.Accepts[0].Extra.HTTPVerb)
}

func TestBuildPaymentRequired_CardDelegationNetwork(t *testing.T) {
	req := BuildPaymentRequired("plan-1", RequirementParams{Scheme: SchemeCardDelegation})
	require.Len(t, req.Accepts, 1)
	assert.Equal(t, "stripe", req.Accepts[0].Network)
}

func TestBuildPaymentRequiredForPlans_MultiplePlans(t *testing.T) {
	req := BuildPaymentRequiredForPlans([]string{"a", "b", "c"}, RequirementParams{
		Scheme: SchemeERC4337,
	})

	require.Len(t, req.Accepts, 3)
	for i, pid := range []string{"a", "b", "c"} {
		assert.Equal(t, pid, req.Accepts[i].PlanID)
		assert.Equal(t, SchemeERC4337, req.Accepts[i].Scheme)
	}
	// No agent/verb means no extra block.
	assert.Nil(t, req.Accepts[0].Extra)
}
