package facilitator

import (
	"context"
	"fmt"

	x402 "github.com/x402-core/x402-go"
)

// Local is an in-process Interface implementation that dispatches straight
// to a x402.SchemeRegistry[x402.FacilitatorScheme], for standing up a
// facilitator service (or embedding one directly in a resource server)
// without an HTTP hop. There is no teacher file for this shape since the
// teacher only ever talks to a remote facilitator; grounded instead on the
// facilitator-delegation pattern the becomeliminal grpc-gateway reference
// file uses to dispatch a verify call straight to a per-network verifier.
type Local struct {
	registry *x402.SchemeRegistry[x402.FacilitatorScheme]
	kinds    []x402.SupportedKind
}

// NewLocal builds a Local facilitator backed by registry. kinds is the set
// advertised from GetSupported; callers populate one SupportedKind per
// (x402Version, scheme, network) the registry can actually serve.
func NewLocal(registry *x402.SchemeRegistry[x402.FacilitatorScheme], kinds []x402.SupportedKind) *Local {
	return &Local{registry: registry, kinds: kinds}
}

// GetSupported returns the configured kinds.
func (l *Local) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	return x402.SupportedResponse{Kinds: l.kinds}, nil
}

// Verify dispatches to the FacilitatorScheme registered for
// requirements.Network/Scheme.
func (l *Local) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	scheme, ok := l.registry.Lookup(requirements.Network, requirements.Scheme)
	if !ok {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrUnsupportedScheme, fmt.Sprintf("no scheme backend for %s/%s", requirements.Network, requirements.Scheme), nil)
	}
	return scheme.Verify(ctx, payload, requirements)
}

// Settle dispatches to the FacilitatorScheme registered for
// requirements.Network/Scheme.
func (l *Local) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	scheme, ok := l.registry.Lookup(requirements.Network, requirements.Scheme)
	if !ok {
		return x402.SettleResponse{}, x402.NewError(x402.ErrUnsupportedScheme, fmt.Sprintf("no scheme backend for %s/%s", requirements.Network, requirements.Scheme), nil)
	}
	return scheme.Settle(ctx, payload, requirements)
}

// EnhanceRequirements satisfies server's requirementEnhancer interface by
// calling the registered FacilitatorScheme.EnhanceRequirements for each
// requirement's (network, scheme), against the matching advertised kind.
// A requirement with no registered scheme, or no matching advertised kind,
// passes through unchanged rather than failing the whole batch.
func (l *Local) EnhanceRequirements(ctx context.Context, requirements []x402.PaymentRequirements) ([]x402.PaymentRequirements, error) {
	out := make([]x402.PaymentRequirements, len(requirements))
	for i, req := range requirements {
		scheme, ok := l.registry.Lookup(req.Network, req.Scheme)
		if !ok {
			out[i] = req
			continue
		}
		kind, ok := l.matchingKind(req)
		if !ok {
			out[i] = req
			continue
		}
		enhanced, err := scheme.EnhanceRequirements(req, kind)
		if err != nil {
			return nil, err
		}
		out[i] = enhanced
	}
	return out, nil
}

func (l *Local) matchingKind(req x402.PaymentRequirements) (x402.SupportedKind, bool) {
	for _, kind := range l.kinds {
		if kind.Scheme == req.Scheme && kind.Network == req.Network {
			return kind, true
		}
	}
	return x402.SupportedKind{}, false
}
