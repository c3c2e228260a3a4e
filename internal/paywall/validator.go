// Package paywall validates payment credentials before agent work starts.
// It decodes the x402 bearer token, resolves the payment scheme for the
// plan, and asks the facilitator to verify the subscriber holds enough
// credits for at least one unit of work.
package paywall

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/taskgate/internal/authctx"
	"github.com/mbd888/taskgate/internal/facilitator"
	"github.com/mbd888/taskgate/internal/metrics"
	"github.com/mbd888/taskgate/internal/traces"
	"github.com/mbd888/taskgate/internal/x402"
)

// probeAmount is the credit amount used to verify access without charging
// anything. Actual usage is settled after the task finishes.
const probeAmount = "1"

// Request is what the validator needs to know about one incoming call.
type Request struct {
	BearerToken string
	URL         string
	HTTPMethod  string
}

// Validator checks payment credentials against the facilitator.
type Validator struct {
	fac         facilitator.Client
	resolver    *x402.Resolver
	agentID     string
	description string
	planIDs     []string
	logger      *slog.Logger
}

// NewValidator creates a validator for one agent.
func NewValidator(fac facilitator.Client, resolver *x402.Resolver, agentID, description string, planIDs []string, logger *slog.Logger) *Validator {
	return &Validator{
		fac:         fac,
		resolver:    resolver,
		agentID:     agentID,
		description: description,
		planIDs:     planIDs,
		logger:      logger,
	}
}

// Validate runs the full credential check. On failure the typed error says
// how to respond, carrying the x402 descriptor that tells the caller how to
// obtain access.
func (v *Validator) Validate(ctx context.Context, req Request) (*authctx.Validation, *Error) {
	ctx, span := traces.StartSpan(ctx, "paywall.Validate", traces.AgentID(v.agentID))
	defer span.End()

	if req.BearerToken == "" {
		metrics.VerificationsTotal.WithLabelValues("unauthorized").Inc()
		e := Unauthorized("missing bearer token")
		e.PaymentRequired = v.paymentRequired(ctx, req, v.planIDs)
		return nil, e
	}

	token, err := x402.DecodeAccessToken(req.BearerToken)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues("invalid_token").Inc()
		e := Unauthorized("invalid access token")
		e.PaymentRequired = v.paymentRequired(ctx, req, v.planIDs)
		return nil, e
	}

	planIDs := v.planIDs
	if len(planIDs) == 0 && token.Accepted.PlanID != "" {
		planIDs = []string{token.Accepted.PlanID}
	}
	if len(planIDs) == 0 {
		return nil, Internal("no payment plans configured", nil)
	}

	subscriber := token.Payload.Authorization.From
	if subscriber == "" {
		metrics.VerificationsTotal.WithLabelValues("unauthorized").Inc()
		return nil, Unauthorized("token carries no subscriber address (payload.authorization.from)")
	}
	if !common.IsHexAddress(subscriber) {
		metrics.VerificationsTotal.WithLabelValues("bad_request").Inc()
		return nil, BadRequest("invalid subscriber address")
	}

	// An unrecognized declared scheme is not trusted; the resolver falls
	// back to the plan's own scheme.
	declared := x402.Scheme("")
	if x402.IsValidScheme(token.Accepted.Scheme) {
		declared = x402.Scheme(token.Accepted.Scheme)
	}
	scheme := v.resolver.Resolve(ctx, planIDs[0], declared)
	descriptor := v.paymentRequired(ctx, req, planIDs)

	result, err := v.fac.VerifyPermissions(ctx, *descriptor, req.BearerToken, probeAmount)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues("error").Inc()
		return nil, Internal("payment verification failed", err)
	}
	if !result.IsValid {
		metrics.VerificationsTotal.WithLabelValues("rejected").Inc()
		v.logger.Info("payment verification rejected",
			"plan_id", planIDs[0],
			"reason", result.InvalidReason,
		)
		return nil, PaymentRequiredError(result.InvalidReason, descriptor)
	}

	metrics.VerificationsTotal.WithLabelValues("valid").Inc()
	return &authctx.Validation{
		PlanID:            planIDs[0],
		PlanIDs:           planIDs,
		SubscriberAddress: subscriber,
		Scheme:            string(scheme),
		AgentRequestID:    result.AgentRequestID,
	}, nil
}

// paymentRequired builds the x402 descriptor advertised on failures. Each
// plan is advertised under its resolved scheme.
func (v *Validator) paymentRequired(ctx context.Context, req Request, planIDs []string) *x402.PaymentRequired {
	schemes := make(map[string]x402.Scheme, len(planIDs))
	for _, id := range planIDs {
		schemes[id] = v.resolver.Resolve(ctx, id, "")
	}
	pr := x402.BuildPaymentRequiredWithSchemes(planIDs, schemes, x402.RequirementParams{
		Endpoint:    req.URL,
		AgentID:     v.agentID,
		HTTPVerb:    req.HTTPMethod,
		Description: v.description,
	})
	return &pr
}
