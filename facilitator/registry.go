package facilitator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	x402 "github.com/x402-core/x402-go"
)

// routeKey identifies a single advertised payment kind.
type routeKey struct {
	version        int
	networkPattern string
	scheme         string
}

// Registry holds a set of facilitators, probes each for what it supports,
// and builds a routing map so a given (version, network, scheme) resolves to
// the facilitator that first advertised it. Grounded on spec.md §4.3's
// initialize()/register() contract: "first facilitator to advertise a
// (version, network, scheme) wins"; lookup falls back through exact match,
// then scheme-exact with wildcard network, then network-exact with wildcard
// ("*") scheme, then wildcard-both.
type Registry struct {
	mu           sync.RWMutex
	facilitators []Interface
	routes       map[routeKey]Interface
	initialized  atomic.Bool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[routeKey]Interface)}
}

// Add registers a facilitator to be probed on the next Initialize call. It
// is a no-op (beyond appending to the probe list) until Initialize runs.
func (r *Registry) Add(f Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facilitators = append(r.facilitators, f)
}

// Initialize contacts every registered facilitator's GetSupported and builds
// the routing map. A facilitator that errors is logged and skipped rather
// than failing the whole initialization; already-initialized calls are a
// no-op.
func (r *Registry) Initialize(ctx context.Context) error {
	if r.initialized.Load() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.facilitators {
		supported, err := f.GetSupported(ctx)
		if err != nil {
			slog.Warn("facilitator did not respond to getSupported, skipping", "error", err)
			continue
		}
		for _, kind := range supported.Kinds {
			key := routeKey{version: kind.X402Version, networkPattern: string(kind.Network), scheme: kind.Scheme}
			if _, exists := r.routes[key]; !exists {
				r.routes[key] = f
			}
		}
	}

	r.initialized.Store(true)
	return nil
}

// Resolve finds the facilitator registered for the most specific pattern
// matching (version, network, scheme), or false if none matches.
func (r *Registry) Resolve(version int, network x402.Network, scheme string) (Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best     Interface
		bestSpec = -1
		found    bool
	)
	for key, f := range r.routes {
		if key.version != version || (key.scheme != scheme && key.scheme != "*") {
			continue
		}
		if !network.Matches(key.networkPattern) {
			continue
		}
		// An exact scheme outranks a wildcard one whatever the network
		// pattern; within each, the more specific network pattern wins.
		spec := x402.NetworkSpecificity(key.networkPattern)
		if key.scheme == scheme {
			spec += 3
		}
		if spec > bestSpec {
			best, bestSpec, found = f, spec, true
		}
	}
	return best, found
}

// Supports reports whether any initialized facilitator advertises
// (version, network, scheme), used by BuildPaymentRequirements's
// UnsupportedByFacilitator guard.
func (r *Registry) Supports(version int, network x402.Network, scheme string) bool {
	_, ok := r.Resolve(version, network, scheme)
	return ok
}

// All returns every registered facilitator in registration order, used for
// the sequential fallback probe when no route resolves.
func (r *Registry) All() []Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Interface, len(r.facilitators))
	copy(out, r.facilitators)
	return out
}

// Verify resolves the facilitator for (version, network, scheme) and calls
// Verify on it. If no route resolves, it falls back through every
// registered facilitator in registration order and returns the first
// successful answer, per §4.3's "Ordering & tie-breaks".
func (r *Registry) Verify(ctx context.Context, version int, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	if f, ok := r.Resolve(version, requirements.Network, requirements.Scheme); ok {
		return f.Verify(ctx, payload, requirements)
	}
	return r.fallbackVerify(ctx, payload, requirements)
}

func (r *Registry) fallbackVerify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	var lastErr error
	for _, f := range r.All() {
		resp, err := f.Verify(ctx, payload, requirements)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = x402.NewError(x402.ErrNoFacilitatorSupport, "no facilitator advertises this (version, network, scheme)", nil)
	}
	return x402.VerifyResponse{}, lastErr
}

// Settle resolves the facilitator for (version, network, scheme) and calls
// Settle on it, falling back the same way Verify does.
func (r *Registry) Settle(ctx context.Context, version int, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	if f, ok := r.Resolve(version, requirements.Network, requirements.Scheme); ok {
		return f.Settle(ctx, payload, requirements)
	}

	var lastErr error
	for _, f := range r.All() {
		resp, err := f.Settle(ctx, payload, requirements)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = x402.NewError(x402.ErrNoFacilitatorSupport, "no facilitator advertises this (version, network, scheme)", nil)
	}
	return x402.SettleResponse{}, lastErr
}
