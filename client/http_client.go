package client

import (
	"net/http"

	"github.com/x402-core/x402-go/encoding"

	x402 "github.com/x402-core/x402-go"
)

// HTTPClient wraps *http.Client with an x402-aware Transport. Grounded on
// the teacher's http/client.go Client/ClientOption pattern, adapted to wrap
// client.Transport instead of the old X402Transport/Signer pair.
type HTTPClient struct {
	*http.Client
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithHTTPClient overrides the underlying *http.Client (its Transport field
// is preserved and wrapped unless WithBaseTransport also runs).
func WithHTTPClient(hc *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		base := hc.Transport
		*c.Client = *hc
		if t := getOrCreateTransport(c); base != nil {
			t.Base = base
		}
	}
}

// WithBaseTransport sets the RoundTripper the x402 Transport wraps and
// retries through (defaults to http.DefaultTransport).
func WithBaseTransport(base http.RoundTripper) HTTPClientOption {
	return func(c *HTTPClient) {
		getOrCreateTransport(c).Base = base
	}
}

// WithClientOption applies a client.Option (e.g. WithScheme, WithSelector)
// to the Client the Transport dispatches to.
func WithClientOption(opt Option) HTTPClientOption {
	return func(c *HTTPClient) {
		opt(getOrCreateTransport(c).Client)
	}
}

// WithOnPaymentRequired registers a hook tried before the normal payment
// flow on every 402 (see Transport.OnPaymentRequired).
func WithOnPaymentRequired(hook OnPaymentRequiredHook) HTTPClientOption {
	return func(c *HTTPClient) {
		t := getOrCreateTransport(c)
		t.OnPaymentRequired = append(t.OnPaymentRequired, hook)
	}
}

// WithPaymentCallback registers a callback for a single lifecycle event.
func WithPaymentCallback(event PaymentEventType, cb PaymentCallback) HTTPClientOption {
	return func(c *HTTPClient) {
		t := getOrCreateTransport(c)
		switch event {
		case PaymentEventAttempt:
			t.OnPaymentAttempt = cb
		case PaymentEventSuccess:
			t.OnPaymentSuccess = cb
		case PaymentEventFailure:
			t.OnPaymentFailure = cb
		}
	}
}

// WithPaymentCallbacks registers all three lifecycle callbacks at once; a
// nil callback leaves the corresponding event unobserved.
func WithPaymentCallbacks(onAttempt, onSuccess, onFailure PaymentCallback) HTTPClientOption {
	return func(c *HTTPClient) {
		t := getOrCreateTransport(c)
		if onAttempt != nil {
			t.OnPaymentAttempt = onAttempt
		}
		if onSuccess != nil {
			t.OnPaymentSuccess = onSuccess
		}
		if onFailure != nil {
			t.OnPaymentFailure = onFailure
		}
	}
}

// NewHTTPClient builds an HTTPClient with a fresh Transport and Client.
func NewHTTPClient(opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{Client: &http.Client{}}
	c.Client.Transport = &Transport{Client: New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func getOrCreateTransport(c *HTTPClient) *Transport {
	t, ok := c.Client.Transport.(*Transport)
	if !ok {
		t = &Transport{Client: New()}
		c.Client.Transport = t
	}
	return t
}

// GetSettlement reads and decodes the settlement response attached to resp,
// preferring the v2 PAYMENT-RESPONSE header and falling back to the v1
// X-PAYMENT-RESPONSE header. It returns nil if neither header is present or
// the header fails to decode.
func GetSettlement(resp *http.Response) *x402.SettleResponse {
	header := resp.Header.Get(encoding.HeaderPaymentResponse)
	if header == "" {
		header = resp.Header.Get(encoding.HeaderXPaymentResponse)
	}
	if header == "" {
		return nil
	}
	settlement, err := encoding.DecodeSettleResponse(header)
	if err != nil {
		return nil
	}
	return &settlement
}
