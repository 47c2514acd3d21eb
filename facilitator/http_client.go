package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/x402-core/x402-go/retry"

	x402 "github.com/x402-core/x402-go"
)

// HTTPClient talks to a remote facilitator over HTTP. Grounded on the
// teacher's http/facilitator.go FacilitatorClient, generalized from v1
// PaymentRequirement/PaymentPayload types to v2 and replaced with slog in
// place of the teacher's ad hoc fmt.Printf debug tracing.
type HTTPClient struct {
	BaseURL       string
	HTTP          *http.Client
	VerifyTimeout time.Duration
	SettleTimeout time.Duration
	Logger        *slog.Logger

	// Retry governs how many times (and how) a request is retried when the
	// facilitator is merely unreachable (dial/timeout failures) - never on
	// an HTTP response the facilitator actually sent, successful or not.
	// Defaults to retry.DefaultConfig.
	Retry retry.Config
}

// facilitatorRequest is the envelope POSTed to /verify and /settle.
type facilitatorRequest struct {
	X402Version         int                     `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// NewHTTPClient builds a HTTPClient with the teacher's default timeouts: a
// short one for verify, a longer one for settle since it waits on a chain
// receipt.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL:       baseURL,
		HTTP:          &http.Client{},
		VerifyTimeout: 10 * time.Second,
		SettleTimeout: 30 * time.Second,
		Logger:        slog.Default(),
		Retry:         retry.DefaultConfig,
	}
}

// isTransient reports whether err is worth retrying: a dial failure or
// timeout reaching the facilitator, not a response it actually sent back.
func isTransient(err error) bool {
	kind, ok := x402.KindOf(err)
	return ok && kind == x402.ErrFacilitatorTimeout
}

func (c *HTTPClient) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// GetSupported fetches the facilitator's advertised payment kinds.
func (c *HTTPClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.VerifyTimeout)
	defer cancel()

	respBody, status, err := c.doWithRetry(ctx, http.MethodGet, c.BaseURL+"/supported", nil)
	if err != nil {
		return x402.SupportedResponse{}, err
	}
	if status != http.StatusOK {
		return x402.SupportedResponse{}, fmt.Errorf("supported endpoint returned status %d", status)
	}

	var supported x402.SupportedResponse
	if err := json.Unmarshal(respBody, &supported); err != nil {
		return x402.SupportedResponse{}, fmt.Errorf("decoding supported response: %w", err)
	}
	return supported, nil
}

// doWithRetry sends method/url (with body, if non-nil) and returns the
// response body and status code, retrying per c.Retry on a transient
// (dial/timeout) failure to reach the facilitator at all. A response the
// facilitator actually returned - including a non-200 status - is not
// retried here; the caller decides what to do with it.
func (c *HTTPClient) doWithRetry(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	type result struct {
		body   []byte
		status int
	}

	cfg := c.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig
	}

	res, err := retry.WithRetry(ctx, cfg, isTransient, func() (result, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return result{}, fmt.Errorf("building %s request: %w", method, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return result{}, x402.NewError(x402.ErrFacilitatorTimeout, fmt.Sprintf("facilitator unreachable at %s", url), err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return result{}, fmt.Errorf("reading response from %s: %w", url, err)
		}
		return result{body: data, status: resp.StatusCode}, nil
	})
	return res.body, res.status, err
}

// Verify POSTs payload/requirements to the facilitator's /verify endpoint.
func (c *HTTPClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	var verifyResp x402.VerifyResponse
	err := c.post(ctx, "/verify", c.VerifyTimeout, payload, requirements, &verifyResp)
	return verifyResp, err
}

// Settle POSTs payload/requirements to the facilitator's /settle endpoint.
func (c *HTTPClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	var settleResp x402.SettleResponse
	err := c.post(ctx, "/settle", c.SettleTimeout, payload, requirements, &settleResp)
	return settleResp, err
}

func (c *HTTPClient) post(ctx context.Context, path string, timeout time.Duration, payload x402.PaymentPayload, requirements x402.PaymentRequirements, out any) error {
	body := facilitatorRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logger().Debug("facilitator request", "path", path, "scheme", requirements.Scheme, "network", requirements.Network)

	respBody, status, err := c.doWithRetry(ctx, http.MethodPost, c.BaseURL+path, data)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("facilitator %s returned status %d", path, status)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}

	c.logger().Debug("facilitator response", "path", path)
	return nil
}

// EnhanceRequirements fetches the facilitator's supported kinds and merges
// each kind's Extra into the matching requirement, without overwriting
// fields already set. Grounded on the teacher's EnrichRequirements, which
// did the same merge for SVM feePayer data.
func (c *HTTPClient) EnhanceRequirements(ctx context.Context, requirements []x402.PaymentRequirements) ([]x402.PaymentRequirements, error) {
	supported, err := c.GetSupported(ctx)
	if err != nil {
		return requirements, fmt.Errorf("fetching supported kinds: %w", err)
	}

	byKey := make(map[string]x402.SupportedKind, len(supported.Kinds))
	for _, kind := range supported.Kinds {
		byKey[string(kind.Network)+"|"+kind.Scheme] = kind
	}

	enhanced := make([]x402.PaymentRequirements, len(requirements))
	for i, req := range requirements {
		enhanced[i] = req
		kind, ok := byKey[string(req.Network)+"|"+req.Scheme]
		if !ok || kind.Extra == nil {
			continue
		}
		if enhanced[i].Extra == nil {
			enhanced[i].Extra = make(map[string]any, len(kind.Extra))
		}
		for k, v := range kind.Extra {
			if _, exists := enhanced[i].Extra[k]; !exists {
				enhanced[i].Extra[k] = v
			}
		}
	}
	return enhanced, nil
}
