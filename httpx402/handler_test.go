package httpx402

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/x402-core/x402-go/encoding"
	"github.com/x402-core/x402-go/facilitator"
	"github.com/x402-core/x402-go/server"

	x402 "github.com/x402-core/x402-go"
)

type okFacilitator struct {
	kinds      []x402.SupportedKind
	verifyResp x402.VerifyResponse
	settleResp x402.SettleResponse
}

func (f *okFacilitator) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	return x402.SupportedResponse{Kinds: f.kinds}, nil
}
func (f *okFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	return f.verifyResp, nil
}
func (f *okFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	return f.settleResp, nil
}

func newTestHandler(t *testing.T, f *okFacilitator) *Handler {
	t.Helper()
	reg := facilitator.NewRegistry()
	reg.Add(f)
	s := server.New(reg)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	matcher := NewRouteMatcher()
	if err := matcher.Register("/protected", x402.RouteConfig{
		Accepts: []x402.PaymentRequirements{{Scheme: "exact", Network: x402.NetworkBaseMainnet, Amount: "1000000", Asset: "0x000000000000000000000000000000000000dEaD", PayTo: "0x00000000000000000000000000000000000000aD", MaxTimeoutSeconds: 300}},
	}); err != nil {
		t.Fatalf("register route: %v", err)
	}

	return &Handler{Server: s, Routes: matcher}
}

func TestProcessHTTPRequestReturns402WithoutPayment(t *testing.T) {
	f := &okFacilitator{kinds: []x402.SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:8453"}}}
	h := newTestHandler(t, f)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()

	_, proceed := h.ProcessHTTPRequest(w, req)
	if proceed {
		t.Fatal("expected the request to be rejected without a payment")
	}
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d", w.Code)
	}
	if w.Header().Get(encoding.HeaderPaymentRequired) == "" {
		t.Error("expected a PAYMENT-REQUIRED header")
	}
}

func TestProcessHTTPRequestUnprotectedRoutePassesThrough(t *testing.T) {
	h := newTestHandler(t, &okFacilitator{})
	req := httptest.NewRequest(http.MethodGet, "/public", nil)
	w := httptest.NewRecorder()

	_, proceed := h.ProcessHTTPRequest(w, req)
	if !proceed {
		t.Fatal("expected an unregistered route to pass through")
	}
}

func TestProcessHTTPRequestVerifiesSubmittedPayment(t *testing.T) {
	f := &okFacilitator{
		kinds:      []x402.SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:8453"}},
		verifyResp: x402.VerifyResponse{IsValid: true, Payer: "0xpayer"},
	}
	h := newTestHandler(t, f)

	requirements := x402.PaymentRequirements{Scheme: "exact", Network: x402.NetworkBaseMainnet, Amount: "1000000", Asset: "0x000000000000000000000000000000000000dEaD", PayTo: "0x00000000000000000000000000000000000000aD", MaxTimeoutSeconds: 300}
	payload := x402.PaymentPayload{X402Version: x402.X402VersionV2, Accepted: requirements}
	header, err := encoding.EncodePaymentPayload(payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(encoding.HeaderPaymentSignature, header)
	w := httptest.NewRecorder()

	newReq, proceed := h.ProcessHTTPRequest(w, req)
	if !proceed {
		t.Fatalf("expected verification to succeed, got status %d", w.Code)
	}

	result, ok := FromContext(newReq.Context())
	if !ok {
		t.Fatal("expected a PaymentResult in the request context")
	}
	if result.VerifyResponse.Payer != "0xpayer" {
		t.Errorf("expected payer to propagate, got %q", result.VerifyResponse.Payer)
	}
}

func TestProcessSettlementSettlesOnSuccessAndSkipsOnFailure(t *testing.T) {
	f := &okFacilitator{
		kinds:      []x402.SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:8453"}},
		verifyResp: x402.VerifyResponse{IsValid: true},
		settleResp: x402.SettleResponse{Success: true, Transaction: "0xtx"},
	}
	h := newTestHandler(t, f)

	requirements := x402.PaymentRequirements{Scheme: "exact", Network: x402.NetworkBaseMainnet, Amount: "1000000", Asset: "0x000000000000000000000000000000000000dEaD", PayTo: "0x00000000000000000000000000000000000000aD", MaxTimeoutSeconds: 300}
	payload := x402.PaymentPayload{X402Version: x402.X402VersionV2, Accepted: requirements}
	header, _ := encoding.EncodePaymentPayload(payload)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(encoding.HeaderPaymentSignature, header)
	w := httptest.NewRecorder()

	newReq, proceed := h.ProcessHTTPRequest(w, req)
	if !proceed {
		t.Fatalf("expected verification to succeed, got status %d", w.Code)
	}

	writer := h.ProcessSettlement(w, newReq)
	writer.WriteHeader(http.StatusOK)
	writer.Write([]byte("ok"))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w.Header().Get(encoding.HeaderPaymentResponse) == "" {
		t.Error("expected a PAYMENT-RESPONSE header after settlement")
	}
}

func TestProcessSettlementSkipsOnHandlerFailure(t *testing.T) {
	f := &okFacilitator{
		kinds:      []x402.SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:8453"}},
		verifyResp: x402.VerifyResponse{IsValid: true},
	}
	h := newTestHandler(t, f)

	requirements := x402.PaymentRequirements{Scheme: "exact", Network: x402.NetworkBaseMainnet, Amount: "1000000", Asset: "0x000000000000000000000000000000000000dEaD", PayTo: "0x00000000000000000000000000000000000000aD", MaxTimeoutSeconds: 300}
	payload := x402.PaymentPayload{X402Version: x402.X402VersionV2, Accepted: requirements}
	header, _ := encoding.EncodePaymentPayload(payload)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(encoding.HeaderPaymentSignature, header)
	w := httptest.NewRecorder()

	newReq, proceed := h.ProcessHTTPRequest(w, req)
	if !proceed {
		t.Fatalf("expected verification to succeed, got status %d", w.Code)
	}

	writer := h.ProcessSettlement(w, newReq)
	writer.WriteHeader(http.StatusInternalServerError)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected the upstream failure status to pass through, got %d", w.Code)
	}
	if w.Header().Get(encoding.HeaderPaymentResponse) != "" {
		t.Error("expected no settlement header when the handler fails")
	}
}

func TestOnProtectedRequestGrantAccessSkipsPayment(t *testing.T) {
	h := newTestHandler(t, &okFacilitator{})
	h.OnProtectedRequest = append(h.OnProtectedRequest, func(ctx context.Context, r *http.Request) ProtectedDecision {
		return ProtectedDecision{GrantAccess: true}
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()

	_, proceed := h.ProcessHTTPRequest(w, req)
	if !proceed {
		t.Fatal("expected grantAccess to bypass payment")
	}
}

func TestOnProtectedRequestAbortRejects(t *testing.T) {
	h := newTestHandler(t, &okFacilitator{})
	h.OnProtectedRequest = append(h.OnProtectedRequest, func(ctx context.Context, r *http.Request) ProtectedDecision {
		return ProtectedDecision{Abort: true, Reason: "blocked"}
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()

	_, proceed := h.ProcessHTTPRequest(w, req)
	if proceed {
		t.Fatal("expected abort to reject the request")
	}
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}
