package agentcard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cardWith(params ExtensionParams) *Card {
	return &Card{
		Name: "test-agent",
		Capabilities: Capabilities{
			Extensions: []Extension{
				{URI: "urn:example:other"},
				{URI: PaymentExtensionURI, Params: params},
			},
		},
	}
}

func TestAgentID(t *testing.T) {
	card := cardWith(ExtensionParams{AgentID: "agent-1"})
	id, err := card.AgentID()
	require.NoError(t, err)
	assert.Equal(t, "agent-1", id)
}

func TestAgentID_MissingExtension(t *testing.T) {
	card := &Card{Name: "bare"}
	_, err := card.AgentID()
	assert.ErrorIs(t, err, ErrNoPaymentExtension)
}

func TestAgentID_MissingID(t *testing.T) {
	card := cardWith(ExtensionParams{PlanID: "plan-1"})
	_, err := card.AgentID()
	assert.ErrorIs(t, err, ErrNoAgentID)
}

func TestPlanIDs(t *testing.T) {
	assert.Equal(t, []string{"p1"},
		cardWith(ExtensionParams{PlanID: "p1"}).PlanIDs())

	// planIds list wins over singular planId.
	assert.Equal(t, []string{"p2", "p3"},
		cardWith(ExtensionParams{PlanID: "p1", PlanIDs: []string{"p2", "p3"}}).PlanIDs())

	assert.Nil(t, cardWith(ExtensionParams{AgentID: "a"}).PlanIDs())
	assert.Nil(t, (&Card{}).PlanIDs())
}
