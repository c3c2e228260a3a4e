package x402

// PaymentRequired is the x402 v2 payment requirement descriptor sent to the
// facilitator on verify and settle calls. It is built on demand and never
// persisted.
type PaymentRequired struct {
	X402Version int              `json:"x402Version"`
	Resource    Resource         `json:"resource"`
	Accepts     []SchemeOption   `json:"accepts"`
	Extensions  map[string]any   `json:"extensions"`
}

// Resource identifies the protected endpoint.
type Resource struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// SchemeOption is one acceptable way to pay for the resource.
type SchemeOption struct {
	Scheme  Scheme       `json:"scheme"`
	Network string       `json:"network"`
	PlanID  string       `json:"planId"`
	Extra   *SchemeExtra `json:"extra,omitempty"`
}

// SchemeExtra carries agent/endpoint metadata used for endpoint validation.
type SchemeExtra struct {
	AgentID  string `json:"agentId,omitempty"`
	HTTPVerb string `json:"httpVerb,omitempty"`
}

// RequirementParams are the inputs for building a PaymentRequired descriptor.
type RequirementParams struct {
	Endpoint    string
	AgentID     string
	HTTPVerb    string
	Network     string // auto-derived from Scheme when empty
	Description string
	Scheme      Scheme // defaults to SchemeERC4337 when empty
}

// BuildPaymentRequired builds a descriptor for a single plan.
func BuildPaymentRequired(planID string, p RequirementParams) PaymentRequired {
	return BuildPaymentRequiredForPlans([]string{planID}, p)
}

// BuildPaymentRequiredForPlans builds a descriptor with one accepts entry per
// plan, all under the same scheme.
func BuildPaymentRequiredForPlans(planIDs []string, p RequirementParams) PaymentRequired {
	return BuildPaymentRequiredWithSchemes(planIDs, nil, p)
}

// BuildPaymentRequiredWithSchemes builds a descriptor where each plan is
// advertised under its own scheme. Plans absent from the map fall back to
// p.Scheme (or the default).
func BuildPaymentRequiredWithSchemes(planIDs []string, schemes map[string]Scheme, p RequirementParams) PaymentRequired {
	fallback := p.Scheme
	if fallback == "" {
		fallback = SchemeERC4337
	}

	var extra *SchemeExtra
	if p.AgentID != "" || p.HTTPVerb != "" {
		extra = &SchemeExtra{AgentID: p.AgentID, HTTPVerb: p.HTTPVerb}
	}

	accepts := make([]SchemeOption, 0, len(planIDs))
	for _, pid := range planIDs {
		scheme := fallback
		if s, ok := schemes[pid]; ok {
			scheme = s
		}
		network := p.Network
		if network == "" {
			network = NetworkFor(scheme)
		}
		accepts = append(accepts, SchemeOption{
			Scheme:  scheme,
			Network: network,
			PlanID:  pid,
			Extra:   extra,
		})
	}

	return PaymentRequired{
		X402Version: 2,
		Resource:    Resource{URL: p.Endpoint, Description: p.Description},
		Accepts:     accepts,
		Extensions:  map[string]any{},
	}
}
