package server

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/x402-core/x402-go/facilitator"

	x402 "github.com/x402-core/x402-go"
)

type stubFacilitator struct {
	kinds      []x402.SupportedKind
	verifyResp x402.VerifyResponse
	verifyErr  error
	settleResp x402.SettleResponse
	settleErr  error
}

func (f *stubFacilitator) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	return x402.SupportedResponse{Kinds: f.kinds}, nil
}

func (f *stubFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	return f.verifyResp, f.verifyErr
}

func (f *stubFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	return f.settleResp, f.settleErr
}

func newInitializedServer(t *testing.T, f *stubFacilitator) *Server {
	t.Helper()
	reg := facilitator.NewRegistry()
	reg.Add(f)
	s := New(reg)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return s
}

func requirement() x402.PaymentRequirements {
	return x402.PaymentRequirements{Scheme: "exact", Network: x402.NetworkBaseMainnet, Amount: "1000000", Asset: "0xtoken", PayTo: "0xpayto"}
}

func TestBuildPaymentRequirementsFailsWhenUnsupported(t *testing.T) {
	s := newInitializedServer(t, &stubFacilitator{})
	cfg := x402.RouteConfig{Accepts: []x402.PaymentRequirements{requirement()}}

	_, err := s.BuildPaymentRequirements(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected an error when no facilitator supports the requirement")
	}
	kind, ok := x402.KindOf(err)
	if !ok || kind != x402.ErrUnsupportedByFacilitator {
		t.Errorf("expected ErrUnsupportedByFacilitator, got %v", err)
	}
}

func TestBuildPaymentRequirementsResolvesPriceAndPayTo(t *testing.T) {
	f := &stubFacilitator{kinds: []x402.SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:8453"}}}
	s := newInitializedServer(t, f)

	cfg := x402.RouteConfig{
		Accepts:       []x402.PaymentRequirements{requirement()},
		PriceResolver: func(requestContext any) (string, error) { return "2000000", nil },
		PayToResolver: func(requestContext any) (string, error) { return "0xresolved", nil },
	}

	out, err := s.BuildPaymentRequirements(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one requirement, got %d", len(out))
	}
	if out[0].Amount != "2000000" {
		t.Errorf("expected resolved amount, got %s", out[0].Amount)
	}
	if out[0].PayTo != "0xresolved" {
		t.Errorf("expected resolved payTo, got %s", out[0].PayTo)
	}
}

func TestBuildPaymentRequirementsBeforeInitializeFails(t *testing.T) {
	s := New(facilitator.NewRegistry())
	_, err := s.BuildPaymentRequirements(context.Background(), x402.RouteConfig{}, nil)
	if err == nil {
		t.Fatal("expected an error before Initialize has run")
	}
}

func TestFindMatchingRequirementsV2DeepEquality(t *testing.T) {
	s := New(facilitator.NewRegistry())
	req := requirement()
	other := requirement()
	other.Amount = "999"

	available := []x402.PaymentRequirements{other, req}
	payload := x402.PaymentPayload{X402Version: x402.X402VersionV2, Accepted: req}

	matched, ok := s.FindMatchingRequirements(available, payload)
	if !ok {
		t.Fatal("expected a match")
	}
	if !reflect.DeepEqual(matched, req) {
		t.Errorf("expected exact deep-equal match, got %+v", matched)
	}
}

func TestFindMatchingRequirementsV1SchemeNetworkOnly(t *testing.T) {
	s := New(facilitator.NewRegistry())
	req := requirement()
	payload := x402.PaymentPayload{
		X402Version: x402.X402VersionV1,
		Accepted:    x402.PaymentRequirements{Scheme: req.Scheme, Network: req.Network, Amount: "different"},
	}

	matched, ok := s.FindMatchingRequirements([]x402.PaymentRequirements{req}, payload)
	if !ok {
		t.Fatal("expected a v1 match on scheme+network alone")
	}
	if matched.Amount != req.Amount {
		t.Errorf("expected the server's own requirement, got %+v", matched)
	}
}

func TestVerifyPaymentBeforeHookAborts(t *testing.T) {
	s := newInitializedServer(t, &stubFacilitator{verifyResp: x402.VerifyResponse{IsValid: true}})
	s.OnBeforeVerify(func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) HookDecision {
		return HookDecision{Abort: true, Reason: "blocked"}
	})

	resp, err := s.VerifyPayment(context.Background(), x402.PaymentPayload{}, requirement())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.IsValid {
		t.Error("expected verification to be aborted")
	}
	if resp.InvalidReason != "blocked" {
		t.Errorf("expected abort reason to propagate, got %q", resp.InvalidReason)
	}
}

func TestVerifyPaymentAfterHookRuns(t *testing.T) {
	s := newInitializedServer(t, &stubFacilitator{kinds: []x402.SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:8453"}}, verifyResp: x402.VerifyResponse{IsValid: true, Payer: "0xpayer"}})

	var observed x402.VerifyResponse
	s.OnAfterVerify(func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, resp x402.VerifyResponse) {
		observed = resp
	})

	resp, err := s.VerifyPayment(context.Background(), x402.PaymentPayload{}, requirement())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.IsValid || observed.Payer != "0xpayer" {
		t.Error("expected the afterVerify hook to observe the successful response")
	}
}

func TestVerifyPaymentFailureHookRecovers(t *testing.T) {
	s := newInitializedServer(t, &stubFacilitator{verifyErr: x402.NewError(x402.ErrFacilitatorTimeout, "down", nil)})
	s.OnVerifyFailure(func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, err error) (*x402.VerifyResponse, bool) {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: "recovered"}, true
	})

	resp, err := s.VerifyPayment(context.Background(), x402.PaymentPayload{}, requirement())
	if err != nil {
		t.Fatalf("expected the failure hook to recover, got error: %v", err)
	}
	if resp.InvalidReason != "recovered" {
		t.Errorf("expected recovered response, got %+v", resp)
	}
}

func TestSettlePaymentSuccessRunsAfterHookAndExtensions(t *testing.T) {
	s := newInitializedServer(t, &stubFacilitator{settleResp: x402.SettleResponse{Success: true, Transaction: "0xtx"}})

	afterRan := false
	s.OnAfterSettle(func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, resp x402.SettleResponse) {
		afterRan = true
	})
	s.RegisterExtension(&fakeExtension{name: "bonus"})

	resp, err := s.SettlePayment(context.Background(), x402.PaymentPayload{}, requirement(), []string{"bonus"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !afterRan {
		t.Error("expected afterSettle hook to run")
	}
	if resp.Extensions == nil || resp.Extensions["bonus"] == nil {
		t.Error("expected the declared extension to enrich the settlement response")
	}
}

type fakeExtension struct{ name string }

func (e *fakeExtension) Name() string { return e.name }

func (e *fakeExtension) EnrichSettlementResponse(ctx context.Context, resp *x402.SettleResponse) error {
	if resp.Extensions == nil {
		resp.Extensions = make(map[string]x402.Extension)
	}
	resp.Extensions[e.name] = json.RawMessage(`true`)
	return nil
}

func TestRegisterExtensionIsIdempotent(t *testing.T) {
	s := New(facilitator.NewRegistry())
	first := &fakeExtension{name: "dup"}
	second := &fakeExtension{name: "dup"}
	s.RegisterExtension(first)
	s.RegisterExtension(second)

	if len(s.extensions) != 1 {
		t.Fatalf("expected one registered extension, got %d", len(s.extensions))
	}
	if s.extensionNames["dup"] != first {
		t.Error("expected the first registration to win")
	}
}
