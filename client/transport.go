package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/x402-core/x402-go/encoding"

	x402 "github.com/x402-core/x402-go"
)

// PaymentEventType names a point in the payment lifecycle a PaymentCallback
// can observe.
type PaymentEventType string

const (
	PaymentEventAttempt PaymentEventType = "attempt"
	PaymentEventSuccess PaymentEventType = "success"
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentCallback is notified of lifecycle events. req is the original
// request; payload/err are populated depending on the event.
type PaymentCallback func(req *http.Request, payload *x402.PaymentPayload, err error)

// OnPaymentRequiredHook inspects a decoded PaymentRequired and may return a
// header set to attach to a single retried request before the normal
// payment flow runs (used by SIWX to attempt a free re-authentication
// first). Returning ok=false means "not handled"; the transport falls
// through to the next hook, then to payment.
type OnPaymentRequiredHook func(ctx context.Context, req *http.Request, required *x402.PaymentRequired) (http.Header, bool, error)

// Transport is a RoundTripper that drives the 402 retry loop of §4.5: send;
// on 402, decode PAYMENT-REQUIRED; try onPaymentRequired hooks; else build a
// payload via Client and retry once with PAYMENT-SIGNATURE set. Grounded on
// the teacher's X402Transport.RoundTrip, generalized from a single-signer
// selection call to registry-backed scheme dispatch plus the hook point
// §4.6 uses to splice SIWX into the client.
type Transport struct {
	Base   http.RoundTripper
	Client *Client

	OnPaymentRequired []OnPaymentRequiredHook

	OnPaymentAttempt PaymentCallback
	OnPaymentSuccess PaymentCallback
	OnPaymentFailure PaymentCallback
}

// paymentAttemptedHeader marks a retried request so a second 402 doesn't
// loop forever (the §4.5 PaymentAlreadyAttempted guard).
const paymentAttemptedHeader = "X-X402-Payment-Attempted"

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(paymentAttemptedHeader) != "" {
		return nil, x402.NewError(x402.ErrPaymentAlreadyAttempted, "request already carries an attempted payment", nil)
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.base().RoundTrip(cloneWithBody(req, body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	required, err := decodePaymentRequired(resp)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("decoding PAYMENT-REQUIRED: %w", err)
	}

	for _, hook := range t.OnPaymentRequired {
		headers, ok, err := hook(req.Context(), req, required)
		if err != nil {
			continue
		}
		if !ok {
			continue
		}
		retryReq := cloneWithBody(req, body)
		for k, vs := range headers {
			for _, v := range vs {
				retryReq.Header.Add(k, v)
			}
		}
		retryResp, err := t.base().RoundTrip(retryReq)
		if err != nil {
			return nil, err
		}
		if retryResp.StatusCode != http.StatusPaymentRequired {
			return retryResp, nil
		}
		retryResp.Body.Close()
	}

	if t.OnPaymentAttempt != nil {
		t.OnPaymentAttempt(req, nil, nil)
	}

	payload, err := t.Client.CreatePaymentPayload(req.Context(), required)
	if err != nil {
		if t.OnPaymentFailure != nil {
			t.OnPaymentFailure(req, nil, err)
		}
		return nil, err
	}

	header, err := encoding.EncodePaymentPayload(*payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payment payload: %w", err)
	}

	retryReq := cloneWithBody(req, body)
	retryReq.Header.Set(encoding.HeaderPaymentSignature, header)
	retryReq.Header.Set(encoding.HeaderExposeHeaders, encoding.HeaderPaymentResponse+","+encoding.HeaderXPaymentResponse)
	retryReq.Header.Set(paymentAttemptedHeader, "1")

	final, err := t.base().RoundTrip(retryReq)
	if err != nil {
		if t.OnPaymentFailure != nil {
			t.OnPaymentFailure(req, payload, err)
		}
		return nil, err
	}

	if t.OnPaymentSuccess != nil && final.StatusCode < 400 {
		t.OnPaymentSuccess(req, payload, nil)
	} else if t.OnPaymentFailure != nil && final.StatusCode >= 400 {
		t.OnPaymentFailure(req, payload, fmt.Errorf("upstream returned status %d after payment", final.StatusCode))
	}

	return final, nil
}

func decodePaymentRequired(resp *http.Response) (*x402.PaymentRequired, error) {
	if header := resp.Header.Get(encoding.HeaderPaymentRequired); header != "" {
		required, err := encoding.DecodePaymentRequired(header)
		if err != nil {
			return nil, err
		}
		return &required, nil
	}

	// v1 compatibility: fall back to a JSON body.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading 402 body: %w", err)
	}
	var required x402.PaymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return nil, fmt.Errorf("no PAYMENT-REQUIRED header and body is not a PaymentRequired: %w", err)
	}
	return &required, nil
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

// cloneWithBody clones req and attaches body as a fresh, re-readable Body.
// Grounded on the teacher's RequestWithBody helper (http/transport.go).
func cloneWithBody(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
	}
	return clone
}
