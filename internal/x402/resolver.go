package x402

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/taskgate/internal/metrics"
)

// CacheTTL bounds how long a resolved plan scheme is trusted.
const CacheTTL = 300 * time.Second

// PlanMetadata is the subset of plan registry data the resolver reads.
type PlanMetadata struct {
	Registry PlanRegistry `json:"registry"`
}

// PlanRegistry holds the plan's pricing registration.
type PlanRegistry struct {
	Price PlanPrice `json:"price"`
}

// PlanPrice describes how the plan is priced. IsCrypto is a pointer because
// the field may be absent, which is not the same as false.
type PlanPrice struct {
	IsCrypto *bool `json:"isCrypto"`
}

// PlanFetcher fetches plan metadata from the backend.
type PlanFetcher interface {
	GetPlan(ctx context.Context, planID string) (*PlanMetadata, error)
}

type cacheEntry struct {
	scheme   Scheme
	cachedAt time.Time
}

// Resolver resolves the payment scheme for a plan, caching lookups per plan id.
//
// An explicit scheme always wins and bypasses the cache entirely. Lookup
// failures never propagate: the resolver logs and falls back to SchemeERC4337.
type Resolver struct {
	plans  PlanFetcher
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewResolver creates a scheme resolver backed by the given plan fetcher.
func NewResolver(plans PlanFetcher, logger *slog.Logger) *Resolver {
	return &Resolver{
		plans:  plans,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

// WithClock overrides the resolver's clock (for tests).
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve returns the scheme to use for planID. If explicitScheme is non-empty
// it is returned immediately with no lookup.
func (r *Resolver) Resolve(ctx context.Context, planID string, explicitScheme Scheme) Scheme {
	if explicitScheme != "" {
		return explicitScheme
	}

	r.mu.Lock()
	entry, ok := r.cache[planID]
	r.mu.Unlock()
	if ok && r.now().Sub(entry.cachedAt) < CacheTTL {
		metrics.SchemeCacheLookups.WithLabelValues("hit").Inc()
		return entry.scheme
	}
	metrics.SchemeCacheLookups.WithLabelValues("miss").Inc()

	scheme := r.fetchScheme(ctx, planID)

	r.mu.Lock()
	r.cache[planID] = cacheEntry{scheme: scheme, cachedAt: r.now()}
	r.mu.Unlock()

	return scheme
}

// fetchScheme derives the scheme from plan metadata. Any failure or missing
// field resolves to the default scheme.
func (r *Resolver) fetchScheme(ctx context.Context, planID string) Scheme {
	plan, err := r.plans.GetPlan(ctx, planID)
	if err != nil || plan == nil {
		r.logger.Debug("plan metadata fetch failed, defaulting scheme",
			"plan_id", planID, "scheme", SchemeERC4337, "error", err)
		return SchemeERC4337
	}

	if isCrypto := plan.Registry.Price.IsCrypto; isCrypto != nil && !*isCrypto {
		return SchemeCardDelegation
	}
	return SchemeERC4337
}

// ClearCache drops all cached entries. Intended for test isolation.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}
