package client

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	x402 "github.com/x402-core/x402-go"
)

// stubScheme is a minimal ClientScheme used to exercise selection and
// dispatch without any real signing.
type stubScheme struct {
	network string
	scheme  string
	calls   int
}

func (s *stubScheme) Network() string { return s.network }
func (s *stubScheme) Scheme() string  { return s.scheme }

func (s *stubScheme) CreatePaymentPayload(ctx context.Context, x402Version int, requirements x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	s.calls++
	return &x402.PaymentPayload{
		X402Version: x402Version,
		Payload:     json.RawMessage(`{"signature":"stub"}`),
	}, nil
}

func TestDefaultSelectorPicksFirstRegistered(t *testing.T) {
	registry := x402.NewSchemeRegistry[x402.ClientScheme]()
	registry.Register("eip155:8453", "exact", &stubScheme{network: "eip155:8453", scheme: "exact"})

	accepts := []x402.PaymentRequirements{
		{Scheme: "exact", Network: x402.NetworkSolanaMainnet},
		{Scheme: "exact", Network: x402.NetworkBaseMainnet},
	}

	chosen, ok := DefaultSelector(accepts, registry)
	if !ok {
		t.Fatal("expected a match")
	}
	if chosen.Network != x402.NetworkBaseMainnet {
		t.Errorf("expected base mainnet, got %s", chosen.Network)
	}
}

func TestDefaultSelectorNoMatch(t *testing.T) {
	registry := x402.NewSchemeRegistry[x402.ClientScheme]()
	accepts := []x402.PaymentRequirements{{Scheme: "exact", Network: x402.NetworkBaseMainnet}}

	if _, ok := DefaultSelector(accepts, registry); ok {
		t.Fatal("expected no match against an empty registry")
	}
}

func TestNetworkPrioritySelector(t *testing.T) {
	registry := x402.NewSchemeRegistry[x402.ClientScheme]()
	registry.Register("*", "exact", &stubScheme{network: "*", scheme: "exact"})

	accepts := []x402.PaymentRequirements{
		{Scheme: "exact", Network: x402.NetworkBaseMainnet},
		{Scheme: "exact", Network: x402.NetworkSolanaMainnet},
	}

	selector := NetworkPrioritySelector([]x402.Network{x402.NetworkSolanaMainnet})
	chosen, ok := selector(accepts, registry)
	if !ok {
		t.Fatal("expected a match")
	}
	if chosen.Network != x402.NetworkSolanaMainnet {
		t.Errorf("expected solana to win priority, got %s", chosen.Network)
	}
}

func TestCreatePaymentPayloadSetsAcceptedAndResource(t *testing.T) {
	stub := &stubScheme{network: "eip155:8453", scheme: "exact"}
	c := New(WithScheme("eip155:8453", "exact", stub))

	required := &x402.PaymentRequired{
		X402Version: x402.X402VersionV2,
		Resource:    &x402.ResourceInfo{URL: "https://example.com/resource"},
		Accepts: []x402.PaymentRequirements{
			{Scheme: "exact", Network: x402.NetworkBaseMainnet, Amount: "1000000", Asset: "0xtoken", PayTo: "0xpayto"},
		},
	}

	payload, err := c.CreatePaymentPayload(context.Background(), required)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("expected scheme to be invoked once, got %d", stub.calls)
	}
	if !reflect.DeepEqual(payload.Accepted, required.Accepts[0]) {
		t.Errorf("Accepted should deep-equal the chosen requirement")
	}
	if payload.Resource != required.Resource {
		t.Errorf("Resource should be carried over from the offer")
	}
}

func TestCreatePaymentPayloadNoAccepts(t *testing.T) {
	c := New()
	_, err := c.CreatePaymentPayload(context.Background(), &x402.PaymentRequired{})
	if err == nil {
		t.Fatal("expected an error for an empty accepts list")
	}
}

func TestCreatePaymentPayloadUnsupportedScheme(t *testing.T) {
	c := New()
	required := &x402.PaymentRequired{
		Accepts: []x402.PaymentRequirements{{Scheme: "exact", Network: x402.NetworkBaseMainnet}},
	}
	_, err := c.CreatePaymentPayload(context.Background(), required)
	if err == nil {
		t.Fatal("expected an error when no scheme is registered")
	}
}
