// Package agentcard models the agent's public descriptor and its payment
// capability extension.
package agentcard

import "errors"

// PaymentExtensionURI identifies the payment capability on an agent card.
const PaymentExtensionURI = "urn:nevermined:payment"

var (
	ErrNoPaymentExtension = errors.New("agentcard: payment extension not found")
	ErrNoAgentID          = errors.New("agentcard: agent id missing from payment extension")
)

// Card is the agent's public descriptor served at /.well-known/agent.json.
type Card struct {
	Name               string       `json:"name"`
	Description        string       `json:"description,omitempty"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	Capabilities       Capabilities `json:"capabilities"`
	DefaultInputModes  []string     `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string     `json:"defaultOutputModes,omitempty"`
}

// Capabilities declares optional protocol features and extensions.
type Capabilities struct {
	Streaming              bool        `json:"streaming,omitempty"`
	PushNotifications      bool        `json:"pushNotifications,omitempty"`
	StateTransitionHistory bool        `json:"stateTransitionHistory,omitempty"`
	Extensions             []Extension `json:"extensions,omitempty"`
}

// Extension is a declared capability extension, identified by URI.
type Extension struct {
	URI         string          `json:"uri"`
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required,omitempty"`
	Params      ExtensionParams `json:"params,omitempty"`
}

// ExtensionParams carries the payment extension payload.
type ExtensionParams struct {
	AgentID string   `json:"agentId,omitempty"`
	PlanID  string   `json:"planId,omitempty"`
	PlanIDs []string `json:"planIds,omitempty"`
}

// PaymentExtension returns the card's payment extension, if declared.
func (c *Card) PaymentExtension() (*Extension, bool) {
	for i := range c.Capabilities.Extensions {
		if c.Capabilities.Extensions[i].URI == PaymentExtensionURI {
			return &c.Capabilities.Extensions[i], true
		}
	}
	return nil, false
}

// AgentID returns the agent id declared in the payment extension.
func (c *Card) AgentID() (string, error) {
	ext, ok := c.PaymentExtension()
	if !ok {
		return "", ErrNoPaymentExtension
	}
	if ext.Params.AgentID == "" {
		return "", ErrNoAgentID
	}
	return ext.Params.AgentID, nil
}

// PlanIDs returns the plan ids declared in the payment extension. A singular
// planId and a planIds list are both honored; the list wins when both are set.
func (c *Card) PlanIDs() []string {
	ext, ok := c.PaymentExtension()
	if !ok {
		return nil
	}
	if len(ext.Params.PlanIDs) > 0 {
		return ext.Params.PlanIDs
	}
	if ext.Params.PlanID != "" {
		return []string{ext.Params.PlanID}
	}
	return nil
}
