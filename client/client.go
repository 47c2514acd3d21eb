// Package client implements the x402 client core (C5): given a
// PaymentRequired offer, it picks one PaymentRequirements entry, dispatches
// to the registered ClientScheme for that (network, scheme) pair, and
// returns a signed PaymentPayload whose Accepted field is an exact copy of
// the chosen requirement. Grounded on the teacher's selector.go
// (DefaultPaymentSelector), generalized from a multi-signer priority sort to
// dispatch through x402.SchemeRegistry.
package client

import (
	"context"
	"fmt"

	x402 "github.com/x402-core/x402-go"
)

// Selector picks one entry from accepts, or reports false if none is usable.
// The default selector returns the first entry whose (scheme, network) has
// a registered ClientScheme.
type Selector func(accepts []x402.PaymentRequirements, registry *x402.SchemeRegistry[x402.ClientScheme]) (x402.PaymentRequirements, bool)

// DefaultSelector implements the §4.5 default: first accepts[] entry whose
// (scheme, network) is registered.
func DefaultSelector(accepts []x402.PaymentRequirements, registry *x402.SchemeRegistry[x402.ClientScheme]) (x402.PaymentRequirements, bool) {
	for _, req := range accepts {
		if _, ok := registry.Lookup(req.Network, req.Scheme); ok {
			return req, true
		}
	}
	return x402.PaymentRequirements{}, false
}

// NetworkPrioritySelector ranks accepts by the position of their network in
// preferred (earlier wins), falling back to DefaultSelector's left-to-right
// order for networks not named in preferred. Mirrors the teacher's
// signer-priority ranking in DefaultPaymentSelector without requiring a
// separate multi-signer abstraction, since one ClientScheme is registered
// per (network, scheme) here.
func NetworkPrioritySelector(preferred []x402.Network) Selector {
	rank := make(map[x402.Network]int, len(preferred))
	for i, n := range preferred {
		rank[n] = i
	}
	return func(accepts []x402.PaymentRequirements, registry *x402.SchemeRegistry[x402.ClientScheme]) (x402.PaymentRequirements, bool) {
		best := -1
		var chosen x402.PaymentRequirements
		found := false
		for _, req := range accepts {
			if _, ok := registry.Lookup(req.Network, req.Scheme); !ok {
				continue
			}
			r, ranked := rank[req.Network]
			if !ranked {
				r = len(preferred)
			}
			if !found || r < best {
				best, chosen, found = r, req, true
			}
		}
		return chosen, found
	}
}

// Option configures a Client.
type Option func(*Client)

// WithScheme registers a ClientScheme for networkPattern/scheme.
func WithScheme(networkPattern, scheme string, impl x402.ClientScheme) Option {
	return func(c *Client) { c.registry.Register(networkPattern, scheme, impl) }
}

// WithSelector overrides the default selector.
func WithSelector(s Selector) Option {
	return func(c *Client) { c.selector = s }
}

// WithVersion overrides the default x402Version (2) the client negotiates.
func WithVersion(v int) Option {
	return func(c *Client) { c.version = v }
}

// Client is the x402Client of §4.5: a scheme registry plus a selector.
type Client struct {
	registry *x402.SchemeRegistry[x402.ClientScheme]
	selector Selector
	version  int
}

// New builds a Client with the default selector and x402Version 2.
func New(opts ...Option) *Client {
	c := &Client{
		registry: x402.NewSchemeRegistry[x402.ClientScheme](),
		selector: DefaultSelector,
		version:  x402.X402VersionV2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreatePaymentPayload picks a requirement from required.Accepts and signs
// it, returning a payload whose Accepted field deep-equals the chosen
// requirement (the invariant the server's v2 matcher relies on).
func (c *Client) CreatePaymentPayload(ctx context.Context, required *x402.PaymentRequired) (*x402.PaymentPayload, error) {
	if len(required.Accepts) == 0 {
		return nil, x402.NewError(x402.ErrUnsupportedScheme, "no accepted payment requirements offered", nil)
	}

	chosen, ok := c.selector(required.Accepts, c.registry)
	if !ok {
		return nil, x402.NewError(x402.ErrUnsupportedScheme, "no registered scheme can satisfy any offered requirement", nil)
	}

	scheme, ok := c.registry.Lookup(chosen.Network, chosen.Scheme)
	if !ok {
		return nil, x402.NewError(x402.ErrUnsupportedScheme, fmt.Sprintf("no scheme registered for %s/%s", chosen.Network, chosen.Scheme), nil)
	}

	version := required.X402Version
	if version == 0 {
		version = c.version
	}

	payload, err := scheme.CreatePaymentPayload(ctx, version, chosen)
	if err != nil {
		return nil, fmt.Errorf("signing payment: %w", err)
	}
	payload.Accepted = chosen
	payload.Resource = required.Resource
	return payload, nil
}
