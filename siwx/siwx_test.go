package siwx

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/x402-core/x402-go"
)

func TestMessageBuildParseRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := Message{
		Domain:         "example.com",
		Address:        "0xabc",
		Namespace:      "eip155",
		ChainReference: "8453",
		Statement:      "Sign in to access the resource.",
		URI:            "https://example.com/resource",
		Version:        "1",
		Nonce:          "abc123",
		IssuedAt:       now,
		ExpirationTime: now.Add(5 * time.Minute),
		RequestID:      "req-1",
		Resources:      []string{"https://example.com/a", "https://example.com/b"},
	}

	text := msg.Build()
	parsed, err := ParseMessage(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(parsed, msg) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", msg, parsed)
	}
}

func TestMessageBuildParseRoundTripNoStatement(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := Message{
		Domain:         "example.com",
		Address:        "9xQeWvG...fakebase58",
		Namespace:      "solana",
		ChainReference: "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
		URI:            "https://example.com/resource",
		Version:        "1",
		Nonce:          "nonce-2",
		IssuedAt:       now,
		ExpirationTime: now.Add(5 * time.Minute),
		RequestID:      "req-2",
	}

	text := msg.Build()
	parsed, err := ParseMessage(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(parsed, msg) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", msg, parsed)
	}
}

func TestExtensionEnrichRegeneratesNonce(t *testing.T) {
	storage := NewMemoryStorage(time.Hour, time.Hour)
	ext, err := NewExtension(storage, "example.com", "https://example.com/resource")
	if err != nil {
		t.Fatalf("new extension: %v", err)
	}

	var first, second x402.PaymentRequired
	if err := ext.EnrichPaymentRequiredResponse(context.Background(), &first); err != nil {
		t.Fatalf("enrich 1: %v", err)
	}
	if err := ext.EnrichPaymentRequiredResponse(context.Background(), &second); err != nil {
		t.Fatalf("enrich 2: %v", err)
	}

	var d1, d2 Declaration
	mustUnmarshal(t, first.Extensions[ExtensionName], &d1)
	mustUnmarshal(t, second.Extensions[ExtensionName], &d2)
	if d1.Nonce == d2.Nonce {
		t.Fatal("expected distinct nonces across 402 responses")
	}
}

func TestClientServerSignInFlowEVM(t *testing.T) {
	signer, err := NewEVMSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("new evm signer: %v", err)
	}

	storage := NewMemoryStorage(time.Hour, time.Hour)
	ext, err := NewExtension(storage, "example.com", "https://example.com/resource")
	if err != nil {
		t.Fatalf("new extension: %v", err)
	}

	required := &x402.PaymentRequired{
		X402Version: x402.X402VersionV2,
		Accepts: []x402.PaymentRequirements{
			{Scheme: "exact", Network: x402.NetworkBaseMainnet, Amount: "1", Asset: "0xasset", PayTo: "0xpayto", MaxTimeoutSeconds: 300},
		},
	}
	if err := ext.EnrichPaymentRequiredResponse(context.Background(), required); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	hook := ClientHook(signer)
	req := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)
	headers, ok, err := hook(context.Background(), req, required)
	if err != nil {
		t.Fatalf("client hook: %v", err)
	}
	if !ok {
		t.Fatal("expected client hook to produce headers")
	}

	// Not yet paid: grantAccess must be false even with a valid signature.
	serverReq := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)
	serverReq.Header = headers
	decision := ext.OnProtectedRequestHook(context.Background(), serverReq)
	if decision.GrantAccess {
		t.Fatal("expected no grant before any recorded payment")
	}

	ext.RecordPaymentHook(context.Background(), x402.PaymentPayload{Resource: &x402.ResourceInfo{URL: "http://example.com/resource"}}, x402.PaymentRequirements{}, x402.SettleResponse{Success: true, Payer: signer.Address()})

	decision = ext.OnProtectedRequestHook(context.Background(), serverReq)
	if !decision.GrantAccess {
		t.Fatal("expected grant after recorded payment with a valid signature")
	}
}

func TestServerRejectsNonceReplay(t *testing.T) {
	signer, err := NewEVMSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("new evm signer: %v", err)
	}

	storage := NewMemoryStorage(time.Hour, time.Hour)
	ext, err := NewExtension(storage, "example.com", "https://example.com/resource")
	if err != nil {
		t.Fatalf("new extension: %v", err)
	}
	ext.RecordPaymentHook(context.Background(), x402.PaymentPayload{Resource: &x402.ResourceInfo{URL: "http://example.com/resource"}}, x402.PaymentRequirements{}, x402.SettleResponse{Success: true, Payer: signer.Address()})

	required := &x402.PaymentRequired{
		Accepts: []x402.PaymentRequirements{
			{Scheme: "exact", Network: x402.NetworkBaseMainnet, Amount: "1", Asset: "0xasset", PayTo: "0xpayto", MaxTimeoutSeconds: 300},
		},
	}
	if err := ext.EnrichPaymentRequiredResponse(context.Background(), required); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	hook := ClientHook(signer)
	req := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)
	headers, ok, err := hook(context.Background(), req, required)
	if err != nil || !ok {
		t.Fatalf("client hook: ok=%v err=%v", ok, err)
	}

	serverReq := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)
	serverReq.Header = headers

	first := ext.OnProtectedRequestHook(context.Background(), serverReq)
	if !first.GrantAccess {
		t.Fatal("expected first use of the challenge to grant access")
	}

	replay := ext.OnProtectedRequestHook(context.Background(), serverReq)
	if replay.GrantAccess {
		t.Fatal("expected replayed nonce to be rejected")
	}
	if replay.Reason != string(x402.ErrSIWXNonceReplay) {
		t.Errorf("expected reason %s, got %s", x402.ErrSIWXNonceReplay, replay.Reason)
	}
}

func TestServerRejectsExpiredChallenge(t *testing.T) {
	signer, err := NewEVMSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("new evm signer: %v", err)
	}
	storage := NewMemoryStorage(time.Hour, time.Hour)
	ext, err := NewExtension(storage, "example.com", "https://example.com/resource", WithMessageTTL(time.Millisecond))
	if err != nil {
		t.Fatalf("new extension: %v", err)
	}
	ext.RecordPaymentHook(context.Background(), x402.PaymentPayload{Resource: &x402.ResourceInfo{URL: "http://example.com/resource"}}, x402.PaymentRequirements{}, x402.SettleResponse{Success: true, Payer: signer.Address()})

	required := &x402.PaymentRequired{
		Accepts: []x402.PaymentRequirements{
			{Scheme: "exact", Network: x402.NetworkBaseMainnet, Amount: "1", Asset: "0xasset", PayTo: "0xpayto", MaxTimeoutSeconds: 300},
		},
	}
	if err := ext.EnrichPaymentRequiredResponse(context.Background(), required); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	hook := ClientHook(signer)
	req := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)

	time.Sleep(5 * time.Millisecond)

	headers, ok, err := hook(context.Background(), req, required)
	if err != nil || !ok {
		t.Fatalf("client hook: ok=%v err=%v", ok, err)
	}
	serverReq := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)
	serverReq.Header = headers

	decision := ext.OnProtectedRequestHook(context.Background(), serverReq)
	if decision.GrantAccess {
		t.Fatal("expected an expired challenge to be rejected")
	}
	if decision.Reason != string(x402.ErrSIWXExpired) {
		t.Errorf("expected reason %s, got %s", x402.ErrSIWXExpired, decision.Reason)
	}
}

func TestClientServerSignInFlowSolana(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generate solana key: %v", err)
	}
	signer, err := NewSolanaSigner(key.String())
	if err != nil {
		t.Fatalf("new solana signer: %v", err)
	}

	storage := NewMemoryStorage(time.Hour, time.Hour)
	ext, err := NewExtension(storage, "example.com", "https://example.com/resource")
	if err != nil {
		t.Fatalf("new extension: %v", err)
	}
	ext.RecordPaymentHook(context.Background(), x402.PaymentPayload{Resource: &x402.ResourceInfo{URL: "http://example.com/resource"}}, x402.PaymentRequirements{}, x402.SettleResponse{Success: true, Payer: signer.Address()})

	required := &x402.PaymentRequired{
		Accepts: []x402.PaymentRequirements{
			{Scheme: "exact", Network: x402.NetworkSolanaMainnet, Amount: "1", Asset: "mint", PayTo: "payto", MaxTimeoutSeconds: 300},
		},
	}
	if err := ext.EnrichPaymentRequiredResponse(context.Background(), required); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	hook := ClientHook(signer)
	req := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)
	headers, ok, err := hook(context.Background(), req, required)
	if err != nil || !ok {
		t.Fatalf("client hook: ok=%v err=%v", ok, err)
	}

	serverReq := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)
	serverReq.Header = headers
	decision := ext.OnProtectedRequestHook(context.Background(), serverReq)
	if !decision.GrantAccess {
		t.Fatal("expected grant access for a valid solana sign-in")
	}
}

func TestServerRejectsMissingChallengeHeaders(t *testing.T) {
	storage := NewMemoryStorage(time.Hour, time.Hour)
	ext, err := NewExtension(storage, "example.com", "https://example.com/resource")
	if err != nil {
		t.Fatalf("new extension: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)
	decision := ext.OnProtectedRequestHook(context.Background(), req)
	if decision.GrantAccess {
		t.Fatal("expected no access without a sign-in challenge")
	}
	if decision.Reason != string(x402.ErrSIWXMalformedMessage) {
		t.Errorf("expected reason %s, got %s", x402.ErrSIWXMalformedMessage, decision.Reason)
	}
}

func TestServerRejectsDomainMismatch(t *testing.T) {
	signer, err := NewEVMSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("new evm signer: %v", err)
	}
	storage := NewMemoryStorage(time.Hour, time.Hour)
	ext, err := NewExtension(storage, "example.com", "https://example.com/resource")
	if err != nil {
		t.Fatalf("new extension: %v", err)
	}
	ext.RecordPaymentHook(context.Background(), x402.PaymentPayload{Resource: &x402.ResourceInfo{URL: "http://example.com/resource"}}, x402.PaymentRequirements{}, x402.SettleResponse{Success: true, Payer: signer.Address()})

	required := &x402.PaymentRequired{
		Accepts: []x402.PaymentRequirements{
			{Scheme: "exact", Network: x402.NetworkBaseMainnet, Amount: "1", Asset: "0xasset", PayTo: "0xpayto", MaxTimeoutSeconds: 300},
		},
	}
	if err := ext.EnrichPaymentRequiredResponse(context.Background(), required); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	hook := ClientHook(signer)
	req := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)
	headers, ok, err := hook(context.Background(), req, required)
	if err != nil || !ok {
		t.Fatalf("client hook: ok=%v err=%v", ok, err)
	}

	otherExt, err := NewExtension(storage, "other.com", "https://other.com/resource")
	if err != nil {
		t.Fatalf("new extension: %v", err)
	}
	serverReq := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)
	serverReq.Header = headers

	decision := otherExt.OnProtectedRequestHook(context.Background(), serverReq)
	if decision.GrantAccess {
		t.Fatal("expected a challenge signed for a different domain to be rejected")
	}
	if decision.Reason != string(x402.ErrSIWXDomainMismatch) {
		t.Errorf("expected reason %s, got %s", x402.ErrSIWXDomainMismatch, decision.Reason)
	}
}

func TestServerRejectsPaymentForDifferentResource(t *testing.T) {
	signer, err := NewEVMSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("new evm signer: %v", err)
	}
	storage := NewMemoryStorage(time.Hour, time.Hour)
	ext, err := NewExtension(storage, "example.com", "https://example.com/resource")
	if err != nil {
		t.Fatalf("new extension: %v", err)
	}

	// Payment recorded against a different resource path must not unlock
	// access to /resource - paying for one route never grants another.
	ext.RecordPaymentHook(context.Background(), x402.PaymentPayload{Resource: &x402.ResourceInfo{URL: "http://example.com/other-resource"}}, x402.PaymentRequirements{}, x402.SettleResponse{Success: true, Payer: signer.Address()})

	required := &x402.PaymentRequired{
		Accepts: []x402.PaymentRequirements{
			{Scheme: "exact", Network: x402.NetworkBaseMainnet, Amount: "1", Asset: "0xasset", PayTo: "0xpayto", MaxTimeoutSeconds: 300},
		},
	}
	if err := ext.EnrichPaymentRequiredResponse(context.Background(), required); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	hook := ClientHook(signer)
	req := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)
	headers, ok, err := hook(context.Background(), req, required)
	if err != nil || !ok {
		t.Fatalf("client hook: ok=%v err=%v", ok, err)
	}

	serverReq := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)
	serverReq.Header = headers

	decision := ext.OnProtectedRequestHook(context.Background(), serverReq)
	if decision.GrantAccess {
		t.Fatal("expected payment for a different resource path not to grant access")
	}
}

func TestServerRejectsFutureIssuedAt(t *testing.T) {
	signer, err := NewEVMSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("new evm signer: %v", err)
	}
	storage := NewMemoryStorage(time.Hour, time.Hour)
	ext, err := NewExtension(storage, "example.com", "https://example.com/resource")
	if err != nil {
		t.Fatalf("new extension: %v", err)
	}
	ext.RecordPaymentHook(context.Background(), x402.PaymentPayload{Resource: &x402.ResourceInfo{URL: "http://example.com/resource"}}, x402.PaymentRequirements{}, x402.SettleResponse{Success: true, Payer: signer.Address()})

	now := time.Now()
	msg := Message{
		Domain:         "example.com",
		Address:        signer.Address(),
		Namespace:      "eip155",
		ChainReference: "8453",
		URI:            "https://example.com/resource",
		Version:        "1",
		Nonce:          "future-nonce",
		IssuedAt:       now.Add(time.Second),
		ExpirationTime: now.Add(5 * time.Minute),
		RequestID:      "req-future",
	}
	text := msg.Build()
	signature, err := signer.Sign(text)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	serverReq := httptest.NewRequest(http.MethodGet, "https://example.com/resource", nil)
	serverReq.Header.Set(HeaderMessage, base64.StdEncoding.EncodeToString([]byte(text)))
	serverReq.Header.Set(HeaderSignature, hex.EncodeToString(signature))
	serverReq.Header.Set(HeaderNetwork, "eip155:8453")

	decision := ext.OnProtectedRequestHook(context.Background(), serverReq)
	if decision.GrantAccess {
		t.Fatal("expected a challenge issued in the future to be rejected")
	}
	if decision.Reason != string(x402.ErrSIWXExpired) {
		t.Errorf("expected reason %s, got %s", x402.ErrSIWXExpired, decision.Reason)
	}
}

func TestMemoryStorageImplementsNoncePair(t *testing.T) {
	storage := NewMemoryStorage(time.Hour, time.Hour)
	if _, _, err := nonceSupport(storage); err != nil {
		t.Fatalf("expected MemoryStorage to satisfy the nonce pair: %v", err)
	}
}

func TestNewExtensionRejectsPartialNonceStorage(t *testing.T) {
	if _, err := NewExtension(partialNonceStorage{}, "example.com", "https://example.com/resource"); err == nil {
		t.Fatal("expected an error for storage implementing only HasUsedNonce")
	}
}

// partialNonceStorage implements Storage and HasUsedNonce but deliberately
// omits RecordNonce, exercising NewExtension's construction-time check.
type partialNonceStorage struct{}

func (partialNonceStorage) HasPaid(ctx context.Context, resourcePath, address string) (bool, error) {
	return false, nil
}
func (partialNonceStorage) RecordPayment(ctx context.Context, resourcePath, address string) error {
	return nil
}
func (partialNonceStorage) HasUsedNonce(ctx context.Context, nonce string) (bool, error) {
	return false, nil
}

func mustUnmarshal(t *testing.T, raw []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}
