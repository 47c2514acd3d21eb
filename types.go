// Package x402 provides the wire types, CAIP-2 network helpers, scheme
// registry, and error taxonomy shared by every layer of the x402 payment
// protocol implementation: the resource server core, the HTTP transport
// layer, the client, and the SIWX sign-in extension.
package x402

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// X402Version enumerates the protocol revisions this module understands.
// Version 1 used flat named networks and an (scheme,network)-only match
// rule; version 2 introduced CAIP-2 networks, the resource/extensions
// envelope, and deep-equality matching on the accepted requirement.
const (
	X402VersionV1 = 1
	X402VersionV2 = 2
)

// ResourceInfo describes the protected resource a PaymentRequired response
// is for. It is populated by the HTTP layer from the inbound request.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// TokenConfig describes one token a scheme backend or signer is willing to
// use, ordered by Priority (lower is preferred).
type TokenConfig struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals"`
	Priority int    `json:"priority"`
}

// PaymentRequirements is one acceptable way to pay for a resource.
type PaymentRequirements struct {
	Scheme  string         `json:"scheme"`
	Network Network        `json:"network"`
	Amount  string         `json:"amount"`
	Asset   string         `json:"asset"`
	PayTo   string         `json:"payTo"`
	// MaxTimeoutSeconds bounds how long the client has to submit a signed
	// payload before the server considers the offer stale. The type applies
	// no default and Validate rejects zero; the chains.go requirement builder
	// and the EVM client schemes use 300 when it is left at zero.
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// Validate checks the invariants §3 states for PaymentRequirements: a
// positive amount, a positive timeout, and the required identity fields.
func (r PaymentRequirements) Validate() error {
	if r.Scheme == "" {
		return fmt.Errorf("scheme is required")
	}
	if r.Network == "" {
		return fmt.Errorf("network is required")
	}
	if r.PayTo == "" {
		return fmt.Errorf("payTo is required")
	}
	if r.Asset == "" {
		return fmt.Errorf("asset is required")
	}
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return fmt.Errorf("amount must be a base-10 integer string")
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("amount must be greater than zero")
	}
	if r.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("maxTimeoutSeconds must be positive")
	}
	return nil
}

// Extension is the enrichment a named protocol extension contributes to a
// PaymentRequired or PaymentPayload envelope. Declaration is whatever the
// extension wants to publish (e.g. the SIWX challenge fields); it is
// marshaled opaquely by the core.
type Extension = json.RawMessage

// PaymentRequired is the 402 response body (and PAYMENT-REQUIRED header
// payload). It is built once per request and never mutated afterward.
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]Extension   `json:"extensions,omitempty"`
}

// PaymentPayload is the client's signed authorization, carried in the
// PAYMENT-SIGNATURE (v2) / X-PAYMENT (v1) header.
type PaymentPayload struct {
	X402Version int                  `json:"x402Version"`
	Resource    *ResourceInfo        `json:"resource,omitempty"`
	Accepted    PaymentRequirements  `json:"accepted"`
	Payload     json.RawMessage      `json:"payload"`
	Extensions  map[string]Extension `json:"extensions,omitempty"`
}

// VerifyResponse is what a scheme backend (and, wrapping it, a facilitator)
// returns from a verify call.
type VerifyResponse struct {
	IsValid        bool   `json:"isValid"`
	InvalidReason  string `json:"invalidReason,omitempty"`
	InvalidMessage string `json:"invalidMessage,omitempty"`
	Payer          string `json:"payer,omitempty"`
}

// SettleResponse is what a scheme backend (and, wrapping it, a facilitator)
// returns from a settle call.
type SettleResponse struct {
	Success      bool                 `json:"success"`
	ErrorReason  string               `json:"errorReason,omitempty"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
	Transaction  string               `json:"transaction"`
	Network      Network              `json:"network"`
	Payer        string               `json:"payer,omitempty"`
	Extensions   map[string]Extension `json:"extensions,omitempty"`
}

// SupportedKind is one (version, network, scheme) combination a facilitator
// advertises via getSupported.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     Network        `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse is the full getSupported payload: the kinds a
// facilitator handles, the extensions it recognizes, and the signer
// addresses it settles from per network (useful for balance provisioning).
type SupportedResponse struct {
	Kinds      []SupportedKind     `json:"kinds"`
	Extensions []string            `json:"extensions,omitempty"`
	Signers    map[string][]string `json:"signers,omitempty"`
}

// PriceResolver resolves a dynamic amount for a route at request time.
// RequestContext is an opaque value supplied by the HTTP integration (a
// *http.Request wrapped by the caller, for example); the core never
// inspects it.
type PriceResolver func(requestContext any) (string, error)

// PayToResolver resolves a dynamic beneficiary address for a route.
type PayToResolver func(requestContext any) (string, error)

// RouteConfig describes one protected route: the requirement(s) it accepts,
// optional response metadata, and optional per-route extension declarations.
// PayTo and Price fields on the nested PaymentRequirements may be left empty
// when the corresponding resolver is set; the resolver runs once per request
// at requirement-construction time.
type RouteConfig struct {
	Accepts       []PaymentRequirements
	Description   string
	MimeType      string
	Extensions    []string
	PayToResolver PayToResolver
	PriceResolver PriceResolver
	VerifyOnly    bool

	// BatchCredits, if positive, grants this many additional free calls to
	// the route after a single settled payment: the transport layer issues
	// a signed bearer token the payer can present on subsequent requests
	// instead of paying again, until the credits run out. Zero disables
	// batch credits for this route.
	BatchCredits int
}

// AmountToBigInt converts a decimal-string human amount (e.g. "1.5") into
// base units for a token with the given number of decimals. It rejects
// negative amounts and amounts that do not convert to an integral number of
// base units. Grounded on the v2 fork's AmountToBigInt helper.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a valid decimal number", amount)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", amount)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	if !rat.IsInt() {
		return nil, fmt.Errorf("amount %q does not convert to an integral number of base units at %d decimals", amount, decimals)
	}
	return rat.Num(), nil
}

// BigIntToAmount renders base units back to a decimal-string human amount.
func BigIntToAmount(value *big.Int, decimals int) string {
	rat := new(big.Rat).SetInt(value)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat.Quo(rat, new(big.Rat).SetInt(scale))
	return rat.FloatString(decimals)
}
