package siwx

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/x402-core/x402-go/httpx402"

	x402 "github.com/x402-core/x402-go"
)

// Header names the client hook sets and this hook reads: the base64-encoded
// message text, its hex-encoded signature, and the CAIP-2 network the
// signature was produced for.
const (
	HeaderMessage   = "X-Siwx-Message"
	HeaderSignature = "X-Siwx-Signature"
	HeaderNetwork   = "X-Siwx-Network"
)

// OnProtectedRequestHook validates a submitted sign-in challenge and, if the
// signer already paid, grants access without another payment. Registered on
// httpx402.Handler.OnProtectedRequest. A request carrying no challenge, or
// one that fails validation, returns the zero ProtectedDecision so the
// normal payment flow runs - SIWX failures never abort a request by
// themselves, since an unauthenticated payer should still be able to pay.
func (e *Extension) OnProtectedRequestHook(ctx context.Context, r *http.Request) httpx402.ProtectedDecision {
	return e.onProtectedRequest(ctx, r)
}

func (e *Extension) onProtectedRequest(ctx context.Context, r *http.Request) httpx402.ProtectedDecision {
	message, err := e.validateChallenge(ctx, r)
	if err != nil {
		// A missing or invalid challenge never aborts the request - SIWX
		// failures just fall through to the normal payment flow, with the
		// error kind carried in Reason for anyone logging the decision.
		if kind, ok := x402.KindOf(err); ok {
			return httpx402.ProtectedDecision{Reason: string(kind)}
		}
		return httpx402.ProtectedDecision{}
	}

	paid, err := e.storage.HasPaid(ctx, httpx402.ResourceURL(r), message.Address)
	if err != nil || !paid {
		return httpx402.ProtectedDecision{}
	}

	// Only consume the nonce once it actually grants access: an unpaid
	// signer may retry the same signed challenge after paying, but a
	// challenge that already granted access cannot be replayed.
	if e.nonceRecorder != nil {
		_ = e.nonceRecorder.RecordNonce(ctx, message.Nonce)
	}

	return httpx402.ProtectedDecision{GrantAccess: true}
}

// validateChallenge decodes and checks a submitted sign-in challenge
// against the extension's domain/uri, its validity window (notBefore,
// expirationTime, and issuedAt within messageTTL of now), nonce replay, and
// its signature, returning a typed ErrSIWX* error identifying which check
// failed.
func (e *Extension) validateChallenge(ctx context.Context, r *http.Request) (*Message, error) {
	encodedMessage := r.Header.Get(HeaderMessage)
	signatureHex := r.Header.Get(HeaderSignature)
	network := r.Header.Get(HeaderNetwork)
	if encodedMessage == "" || signatureHex == "" || network == "" {
		return nil, x402.NewError(x402.ErrSIWXMalformedMessage, "missing sign-in challenge headers", nil)
	}

	rawMessage, err := base64.StdEncoding.DecodeString(encodedMessage)
	if err != nil {
		return nil, x402.NewError(x402.ErrSIWXMalformedMessage, "message is not valid base64", err)
	}
	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return nil, x402.NewError(x402.ErrSIWXMalformedMessage, "signature is not valid hex", err)
	}
	message, err := ParseMessage(string(rawMessage))
	if err != nil {
		return nil, x402.NewError(x402.ErrSIWXMalformedMessage, "message does not parse", err)
	}

	if message.Domain != e.domain || message.URI != e.uri {
		return nil, x402.NewError(x402.ErrSIWXDomainMismatch, "message domain/uri does not match this resource server", nil)
	}
	now := time.Now()
	if !message.NotBefore.IsZero() && now.Before(message.NotBefore) {
		return nil, x402.NewError(x402.ErrSIWXExpired, "message not yet valid", nil)
	}
	if !message.ExpirationTime.IsZero() && now.After(message.ExpirationTime) {
		return nil, x402.NewError(x402.ErrSIWXExpired, "message has expired", nil)
	}
	if message.IssuedAt.After(now) {
		return nil, x402.NewError(x402.ErrSIWXExpired, "message issuedAt is in the future", nil)
	}
	if !message.IssuedAt.IsZero() && now.Sub(message.IssuedAt) > e.messageTTL {
		return nil, x402.NewError(x402.ErrSIWXExpired, "message issuedAt exceeds maxAge", nil)
	}

	if e.nonceChecker != nil {
		used, err := e.nonceChecker.HasUsedNonce(ctx, message.Nonce)
		if err != nil {
			return nil, x402.NewError(x402.ErrSIWXNonceReplay, "checking nonce history failed", err)
		}
		if used {
			return nil, x402.NewError(x402.ErrSIWXNonceReplay, "nonce already used", nil)
		}
	}

	valid, err := verifySignature(x402.Network(caip2(message.Namespace, message.ChainReference)).Type(), message.Address, string(rawMessage), signature)
	if err != nil {
		return nil, x402.NewError(x402.ErrSIWXInvalidSignature, "signature verification failed", err)
	}
	if !valid {
		return nil, x402.NewError(x402.ErrSIWXInvalidSignature, "signature does not match signer address", nil)
	}

	return &message, nil
}

// RecordPaymentHook is a server.AfterSettleHook that records the payer's
// address as paid for payload.Resource.URL once settlement succeeds, so a
// subsequent request for that same resource with a valid sign-in challenge
// can be granted access without paying again. A payment for one resource
// never grants access to another. Registered on server.Server.OnAfterSettle.
func (e *Extension) RecordPaymentHook(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, resp x402.SettleResponse) {
	if !resp.Success || resp.Payer == "" || payload.Resource == nil {
		return
	}
	_ = e.storage.RecordPayment(ctx, payload.Resource.URL, resp.Payer)
}
