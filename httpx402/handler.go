package httpx402

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/x402-core/x402-go/encoding"
	"github.com/x402-core/x402-go/server"

	x402 "github.com/x402-core/x402-go"
)

// ProtectedDecision is what an OnProtectedRequestHook returns: the zero
// value means "not handled, continue to the next hook (or payment)";
// GrantAccess skips payment entirely; Abort rejects the request outright.
// Mirrors spec.md §4.4's "void | {grantAccess:true} | {abort:true, reason}".
type ProtectedDecision struct {
	GrantAccess bool
	Abort       bool
	Reason      string
}

// OnProtectedRequestHook runs before payment verification for every request
// matching a protected route. SIWX uses this to grant access to a payer who
// already has a valid session.
type OnProtectedRequestHook func(ctx context.Context, r *http.Request) ProtectedDecision

// PaywallProvider renders an HTML paywall for browser clients. Registering
// one lets Handler choose between a JSON and an HTML 402 response based on
// the request's Accept header.
type PaywallProvider interface {
	RenderPaywall(w http.ResponseWriter, r *http.Request, required x402.PaymentRequired)
}

type contextKey string

const paymentResultKey contextKey = "x402_payment_result"

// PaymentResult is attached to the request context once a payment has
// verified successfully, for the protected handler and ProcessSettlement to
// read back.
type PaymentResult struct {
	Payload        x402.PaymentPayload
	Requirements   x402.PaymentRequirements
	VerifyResponse x402.VerifyResponse

	// Resource and BatchCredits carry the matched route's batch-credits
	// configuration through to ProcessSettlement, which issues a new batch
	// token after a successful settle when BatchCredits is positive.
	Resource     string
	BatchCredits int
}

// FromContext retrieves the PaymentResult ProcessHTTPRequest attached to ctx.
func FromContext(ctx context.Context) (*PaymentResult, bool) {
	result, ok := ctx.Value(paymentResultKey).(*PaymentResult)
	return result, ok
}

// Handler wires a route table to a server.Server, implementing the §4.4
// request flow: match route, run onProtectedRequest hooks, build
// requirements, decode any submitted payment, verify it, and hand off to
// the protected handler without ever settling (settlement is deferred to
// ProcessSettlement per the outer integration's contract).
type Handler struct {
	Server             *server.Server
	Routes             *RouteMatcher
	OnProtectedRequest []OnProtectedRequestHook
	Paywall            PaywallProvider
	DeclaredExtensions []string
	VerifyOnly         bool

	// BatchTokens, if set, enables batch-credits bearer tokens: a route
	// registered with a positive RouteConfig.BatchCredits issues a token on
	// settlement, and a request bearing a valid unexhausted token for the
	// same resource skips payment entirely.
	BatchTokens *BatchTokenManager
}

// ProcessHTTPRequest runs the pre-handler half of the flow. It returns the
// (possibly context-augmented) request and true if the protected handler
// should run; on false it has already written a complete response (402 or
// an error) and the caller must stop.
func (h *Handler) ProcessHTTPRequest(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	cfg, matched := h.Routes.Match(r.URL.Path)
	if !matched {
		return r, true
	}

	for _, hook := range h.OnProtectedRequest {
		decision := hook(r.Context(), r)
		if decision.Abort {
			http.Error(w, decision.Reason, http.StatusForbidden)
			return r, false
		}
		if decision.GrantAccess {
			return r, true
		}
	}

	resourceKey := ResourceURL(r)
	resource := &x402.ResourceInfo{URL: resourceKey, Description: cfg.Description, MimeType: cfg.MimeType}

	if h.BatchTokens != nil {
		if token, ok := bearerToken(r); ok {
			if _, err := h.BatchTokens.Redeem(resourceKey, token); err == nil {
				return r, true
			}
		}
	}

	accepts, err := h.Server.BuildPaymentRequirements(r.Context(), cfg, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return r, false
	}

	payload, ok := decodePaymentFromRequest(r)
	if !ok {
		h.writePaymentRequired(w, r, accepts, resource, cfg.Extensions, "")
		return r, false
	}

	requirements, ok := h.Server.FindMatchingRequirements(accepts, payload)
	if !ok {
		h.writePaymentRequired(w, r, accepts, resource, cfg.Extensions, "no accepted requirement matches the submitted payment")
		return r, false
	}

	verifyResp, err := h.Server.VerifyPayment(r.Context(), payload, requirements)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return r, false
	}
	if !verifyResp.IsValid {
		h.writePaymentRequired(w, r, accepts, resource, cfg.Extensions, verifyResp.InvalidReason)
		return r, false
	}

	result := &PaymentResult{
		Payload:        payload,
		Requirements:   requirements,
		VerifyResponse: verifyResp,
		Resource:       resourceKey,
		BatchCredits:   cfg.BatchCredits,
	}
	ctx := context.WithValue(r.Context(), paymentResultKey, result)
	return r.WithContext(ctx), true
}

// ProcessSettlement returns a ResponseWriter that settles the verified
// payment the instant the protected handler commits a successful response,
// or w unchanged if r carries no verified payment (an unprotected route). The
// caller must invoke this only after ProcessHTTPRequest returned true, and
// must serve the protected handler through the returned writer rather than
// w directly, per the deferred-settlement contract: processHTTPRequest
// never settles, so a failing handler never triggers a charge.
func (h *Handler) ProcessSettlement(w http.ResponseWriter, r *http.Request) http.ResponseWriter {
	result, ok := FromContext(r.Context())
	if !ok {
		return w
	}

	return &settlementInterceptor{
		w: w,
		settleFunc: func() bool {
			if h.VerifyOnly {
				return true
			}
			settleResp, err := h.Server.SettlePayment(r.Context(), result.Payload, result.Requirements, h.DeclaredExtensions)
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return false
			}
			if !settleResp.Success {
				http.Error(w, settleResp.ErrorMessage, http.StatusPaymentRequired)
				return false
			}
			header, err := encoding.EncodeSettleResponse(settleResp)
			if err == nil {
				w.Header().Set(encoding.HeaderPaymentResponse, header)
				w.Header().Set(encoding.HeaderXPaymentResponse, header)
			}

			if h.BatchTokens != nil && result.BatchCredits > 0 {
				if token, err := h.BatchTokens.Issue(result.Resource, int64(result.BatchCredits)); err == nil {
					w.Header().Set(HeaderBatchToken, token)
				}
			}
			return true
		},
	}
}

// Middleware composes ProcessHTTPRequest and ProcessSettlement into a
// standard net/http middleware.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, ok := h.ProcessHTTPRequest(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(h.ProcessSettlement(w, req), req)
	})
}

func (h *Handler) writePaymentRequired(w http.ResponseWriter, r *http.Request, accepts []x402.PaymentRequirements, resource *x402.ResourceInfo, declaredExtensions []string, reason string) {
	required := h.Server.CreatePaymentRequiredResponse(r.Context(), accepts, resource, reason, declaredExtensions)

	if h.Paywall != nil && prefersHTML(r) {
		w.WriteHeader(http.StatusPaymentRequired)
		h.Paywall.RenderPaywall(w, r, required)
		return
	}

	header, err := encoding.EncodePaymentRequired(required)
	if err == nil {
		w.Header().Set(encoding.HeaderPaymentRequired, header)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(required)
}

// ResourceURL builds the absolute URL identifying the protected resource a
// request targets, used both as PaymentRequired.Resource.URL and as the
// resource_path key SIWX sessions are scoped to.
func ResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func prefersHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return accept != "" && accept != "*/*" && containsMediaType(accept, "text/html")
}

func containsMediaType(accept, mediaType string) bool {
	for i := 0; i+len(mediaType) <= len(accept); i++ {
		if accept[i:i+len(mediaType)] == mediaType {
			return true
		}
	}
	return false
}

// decodePaymentFromRequest reads the submitted payment from the
// PAYMENT-SIGNATURE (v2) or X-PAYMENT (v1) header.
func decodePaymentFromRequest(r *http.Request) (x402.PaymentPayload, bool) {
	if header := r.Header.Get(encoding.HeaderPaymentSignature); header != "" {
		payload, err := encoding.DecodePaymentPayload(header)
		return payload, err == nil
	}
	if header := r.Header.Get(encoding.HeaderXPayment); header != "" {
		payload, err := encoding.DecodePaymentPayload(header)
		return payload, err == nil
	}
	return x402.PaymentPayload{}, false
}
