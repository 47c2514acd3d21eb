package httpx402

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/x402-core/x402-go/encoding"
	"github.com/x402-core/x402-go/facilitator"
	"github.com/x402-core/x402-go/server"

	x402 "github.com/x402-core/x402-go"
)

func TestBatchTokenManagerIssueAndRedeem(t *testing.T) {
	mgr := NewBatchTokenManager([]byte("secret"), time.Hour, NewInMemoryBatchCounterStore())

	token, err := mgr.Issue("https://api.example/widgets", 2)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	remaining, err := mgr.Redeem("https://api.example/widgets", token)
	if err != nil {
		t.Fatalf("redeem 1: %v", err)
	}
	if remaining != 1 {
		t.Errorf("expected 1 remaining, got %d", remaining)
	}

	remaining, err = mgr.Redeem("https://api.example/widgets", token)
	if err != nil {
		t.Fatalf("redeem 2: %v", err)
	}
	if remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", remaining)
	}

	if _, err := mgr.Redeem("https://api.example/widgets", token); err != ErrBatchExhausted {
		t.Errorf("expected ErrBatchExhausted, got %v", err)
	}
}

func TestBatchTokenManagerRejectsWrongResource(t *testing.T) {
	mgr := NewBatchTokenManager([]byte("secret"), time.Hour, NewInMemoryBatchCounterStore())

	token, err := mgr.Issue("https://api.example/widgets", 5)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := mgr.Redeem("https://api.example/other", token); err == nil {
		t.Error("expected redemption for a different resource to fail")
	}
}

func TestBatchTokenManagerRejectsForgedToken(t *testing.T) {
	issuer := NewBatchTokenManager([]byte("secret"), time.Hour, NewInMemoryBatchCounterStore())
	verifier := NewBatchTokenManager([]byte("different-secret"), time.Hour, NewInMemoryBatchCounterStore())

	token, err := issuer.Issue("https://api.example/widgets", 5)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := verifier.Redeem("https://api.example/widgets", token); err == nil {
		t.Error("expected a token signed with a different secret to be rejected")
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := bearerToken(req); ok {
		t.Error("expected no token without an Authorization header")
	}

	req.Header.Set("Authorization", "Bearer abc123")
	token, ok := bearerToken(req)
	if !ok || token != "abc123" {
		t.Errorf("expected token %q, got %q (ok=%v)", "abc123", token, ok)
	}

	req.Header.Set("Authorization", "Basic abc123")
	if _, ok := bearerToken(req); ok {
		t.Error("expected a non-Bearer scheme to be rejected")
	}
}

func TestHandlerIssuesAndRedeemsBatchToken(t *testing.T) {
	f := &okFacilitator{
		kinds:      []x402.SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:8453"}},
		verifyResp: x402.VerifyResponse{IsValid: true},
		settleResp: x402.SettleResponse{Success: true, Transaction: "0xtx"},
	}

	reg := facilitator.NewRegistry()
	reg.Add(f)
	s := server.New(reg)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	matcher := NewRouteMatcher()
	if err := matcher.Register("/protected", x402.RouteConfig{
		Accepts: []x402.PaymentRequirements{{
			Scheme: "exact", Network: x402.NetworkBaseMainnet, Amount: "1000000",
			Asset:             "0x000000000000000000000000000000000000dEaD",
			PayTo:             "0x00000000000000000000000000000000000000aD",
			MaxTimeoutSeconds: 300,
		}},
		BatchCredits: 2,
	}); err != nil {
		t.Fatalf("register route: %v", err)
	}

	h := &Handler{
		Server:      s,
		Routes:      matcher,
		BatchTokens: NewBatchTokenManager([]byte("secret"), time.Hour, NewInMemoryBatchCounterStore()),
	}

	requirements := x402.PaymentRequirements{
		Scheme: "exact", Network: x402.NetworkBaseMainnet, Amount: "1000000",
		Asset:             "0x000000000000000000000000000000000000dEaD",
		PayTo:             "0x00000000000000000000000000000000000000aD",
		MaxTimeoutSeconds: 300,
	}
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
		t.Fatalf("expected the paid request to proceed, got status %d", w.Code)
	}

	writer := h.ProcessSettlement(w, newReq)
	writer.WriteHeader(http.StatusOK)

	token := w.Header().Get(HeaderBatchToken)
	if token == "" {
		t.Fatal("expected a batch token to be issued on settlement")
	}

	// First free call: bearer token grants access without a payment header.
	req2 := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req2.Header.Set("Authorization", "Bearer "+token)
	w2 := httptest.NewRecorder()
	if _, proceed := h.ProcessHTTPRequest(w2, req2); !proceed {
		t.Fatalf("expected the batch token to grant access, got status %d", w2.Code)
	}

	// Second free call still works.
	req3 := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req3.Header.Set("Authorization", "Bearer "+token)
	w3 := httptest.NewRecorder()
	if _, proceed := h.ProcessHTTPRequest(w3, req3); !proceed {
		t.Fatalf("expected the second batch call to succeed, got status %d", w3.Code)
	}

	// Credits exhausted: falls back to requiring payment, and none was sent.
	req4 := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req4.Header.Set("Authorization", "Bearer "+token)
	w4 := httptest.NewRecorder()
	if _, proceed := h.ProcessHTTPRequest(w4, req4); proceed {
		t.Fatal("expected an exhausted batch token to fall back to requiring payment")
	}
	if w4.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402 once batch credits are exhausted, got %d", w4.Code)
	}
}
