// Package facilitator implements the x402 facilitator client (C2): a thin
// contract any facilitator service satisfies, an HTTP implementation, a
// Registry that probes a set of facilitators and routes a given
// (x402Version, network, scheme) tuple to whichever advertised it first, and
// a Local implementation for standing up a facilitator directly from a
// x402.SchemeRegistry[x402.FacilitatorScheme] without a network hop.
// Grounded on the teacher's facilitator/interface.go and http/facilitator.go.
package facilitator

import (
	"context"

	x402 "github.com/x402-core/x402-go"
)

// Interface is the standard facilitator contract. Both the HTTP client and
// the in-process Local implementation satisfy it.
type Interface interface {
	GetSupported(ctx context.Context) (x402.SupportedResponse, error)
	Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error)
	Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error)
}
