// Package server implements the x402 resource server core (C3): it builds
// payment requirements for a route, issues 402 responses, verifies and
// settles submitted payments against a facilitator registry, and runs the
// hook/extension lifecycle spec.md §4.3 describes. Grounded on the
// teacher's http/middleware.go NewX402Middleware, split into a
// transport-agnostic core (this package) and the HTTP wiring
// (httpx402) the teacher bundled together.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/x402-core/x402-go/facilitator"

	x402 "github.com/x402-core/x402-go"
)

// RequestState names a point in the per-request state machine spec.md
// §4.3 draws across C3 and C4 together.
type RequestState string

const (
	StateIdle        RequestState = "idle"
	StateNeedReqs    RequestState = "need_reqs"
	StateReturned402 RequestState = "returned_402"
	StateVerifying   RequestState = "verifying"
	StateVerified    RequestState = "verified"
	StateSettling    RequestState = "settling"
	StateDone        RequestState = "done"
	StateFatal       RequestState = "fatal"
)

// HookDecision lets a before-hook abort the operation it guards, short
// circuiting to a failure result carrying Reason.
type HookDecision struct {
	Abort  bool
	Reason string
}

type (
	BeforeVerifyHook  func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) HookDecision
	AfterVerifyHook   func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, resp x402.VerifyResponse)
	VerifyFailureHook func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, err error) (*x402.VerifyResponse, bool)

	BeforeSettleHook  func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) HookDecision
	AfterSettleHook   func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, resp x402.SettleResponse)
	SettleFailureHook func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, err error) (*x402.SettleResponse, bool)
)

// Extension is a named add-on a Server can declare in a response. Any of the
// three enrich methods is optional; implement only the ones relevant.
type Extension interface {
	Name() string
}

// PaymentRequiredEnricher lets an extension add fields to a 402 response.
type PaymentRequiredEnricher interface {
	EnrichPaymentRequiredResponse(ctx context.Context, resp *x402.PaymentRequired) error
}

// SettlementEnricher lets an extension add fields to a settle response.
type SettlementEnricher interface {
	EnrichSettlementResponse(ctx context.Context, resp *x402.SettleResponse) error
}

// requirementEnhancer is implemented by facilitator clients that can enrich
// requirements with scheme-specific extra data fetched from getSupported
// (e.g. facilitator.HTTPClient.EnhanceRequirements).
type requirementEnhancer interface {
	EnhanceRequirements(ctx context.Context, requirements []x402.PaymentRequirements) ([]x402.PaymentRequirements, error)
}

// Server is the resource server core. It holds a facilitator registry, an
// optional set of local scheme backends, registered extensions, and the
// ordered hook lists spec.md §4.3 runs around verify/settle.
type Server struct {
	mu sync.Mutex

	facilitators *facilitator.Registry
	localSchemes *x402.SchemeRegistry[x402.FacilitatorScheme]
	localAdded   bool

	extensions     []Extension
	extensionNames map[string]Extension

	beforeVerify  []BeforeVerifyHook
	afterVerify   []AfterVerifyHook
	verifyFailure []VerifyFailureHook
	beforeSettle  []BeforeSettleHook
	afterSettle   []AfterSettleHook
	settleFailure []SettleFailureHook

	version     int
	initialized atomic.Bool
	logger      *slog.Logger
}

// New builds a Server backed by facilitators (may be empty; local scheme
// backends registered via Register are added to it on Initialize).
func New(facilitators *facilitator.Registry) *Server {
	return &Server{
		facilitators:   facilitators,
		localSchemes:   x402.NewSchemeRegistry[x402.FacilitatorScheme](),
		extensionNames: make(map[string]Extension),
		version:        x402.X402VersionV2,
		logger:         slog.Default(),
	}
}

// Register installs a FacilitatorScheme directly on the server (no remote
// facilitator hop), replacing any prior entry for the same
// (networkPattern, scheme) key. Must be called before Initialize.
func (s *Server) Register(networkPattern, scheme string, impl x402.FacilitatorScheme) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localSchemes.Register(networkPattern, scheme, impl)
}

// RegisterExtension adds ext, keyed by its Name(). Idempotent: registering
// the same name twice keeps the first registration.
func (s *Server) RegisterExtension(ext Extension) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.extensionNames[ext.Name()]; exists {
		return
	}
	s.extensionNames[ext.Name()] = ext
	s.extensions = append(s.extensions, ext)
}

func (s *Server) OnBeforeVerify(h BeforeVerifyHook) { s.beforeVerify = append(s.beforeVerify, h) }
func (s *Server) OnAfterVerify(h AfterVerifyHook)   { s.afterVerify = append(s.afterVerify, h) }
func (s *Server) OnVerifyFailure(h VerifyFailureHook) {
	s.verifyFailure = append(s.verifyFailure, h)
}
func (s *Server) OnBeforeSettle(h BeforeSettleHook) { s.beforeSettle = append(s.beforeSettle, h) }
func (s *Server) OnAfterSettle(h AfterSettleHook)   { s.afterSettle = append(s.afterSettle, h) }
func (s *Server) OnSettleFailure(h SettleFailureHook) {
	s.settleFailure = append(s.settleFailure, h)
}

// Initialize contacts every facilitator (plus any locally registered scheme
// backends, wrapped as a facilitator.Local probed first) and builds the
// routing map. Calling it more than once is a no-op.
func (s *Server) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if !s.localAdded && len(s.localSchemes.All()) > 0 {
		kinds := make([]x402.SupportedKind, 0, len(s.localSchemes.All()))
		for _, impl := range s.localSchemes.All() {
			kinds = append(kinds, x402.SupportedKind{X402Version: s.version, Scheme: impl.Scheme(), Network: x402.Network(impl.Network())})
		}
		s.facilitators.Add(facilitator.NewLocal(s.localSchemes, kinds))
		s.localAdded = true
	}
	s.mu.Unlock()

	if err := s.facilitators.Initialize(ctx); err != nil {
		return err
	}
	s.initialized.Store(true)
	return nil
}

// BuildPaymentRequirements resolves each of cfg.Accepts into a concrete
// requirement: resolving price/payTo from their resolvers, then enhancing
// via the facilitator that serves that (network, scheme) if it can.
// Fails with ErrUnsupportedByFacilitator if no initialized facilitator
// advertises the combination.
func (s *Server) BuildPaymentRequirements(ctx context.Context, cfg x402.RouteConfig, requestContext any) ([]x402.PaymentRequirements, error) {
	if !s.initialized.Load() {
		return nil, x402.NewError(x402.ErrUnsupportedByFacilitator, "server not initialized", nil)
	}

	out := make([]x402.PaymentRequirements, 0, len(cfg.Accepts))
	for _, base := range cfg.Accepts {
		req := base

		if cfg.PriceResolver != nil {
			price, err := cfg.PriceResolver(requestContext)
			if err != nil {
				return nil, fmt.Errorf("resolving price: %w", err)
			}
			req.Amount = price
		}
		if cfg.PayToResolver != nil {
			payTo, err := cfg.PayToResolver(requestContext)
			if err != nil {
				return nil, fmt.Errorf("resolving payTo: %w", err)
			}
			req.PayTo = payTo
		}

		f, ok := s.facilitators.Resolve(s.version, req.Network, req.Scheme)
		if !ok {
			return nil, x402.NewError(x402.ErrUnsupportedByFacilitator, fmt.Sprintf("no facilitator advertises %s/%s", req.Network, req.Scheme), nil)
		}

		if enhancer, ok := f.(requirementEnhancer); ok {
			enhanced, err := enhancer.EnhanceRequirements(ctx, []x402.PaymentRequirements{req})
			if err == nil && len(enhanced) == 1 {
				req = enhanced[0]
			} else if err != nil {
				s.logger.Warn("facilitator failed to enhance requirements, using base", "error", err)
			}
		}

		out = append(out, req)
	}
	return out, nil
}

// CreatePaymentRequiredResponse builds a PaymentRequired and runs
// EnrichPaymentRequiredResponse on every declared extension in registration
// order. An extension that errors is logged and skipped.
func (s *Server) CreatePaymentRequiredResponse(ctx context.Context, accepts []x402.PaymentRequirements, resource *x402.ResourceInfo, errMsg string, declaredExtensions []string) x402.PaymentRequired {
	resp := x402.PaymentRequired{
		X402Version: s.version,
		Error:       errMsg,
		Resource:    resource,
		Accepts:     accepts,
	}

	for _, name := range declaredExtensions {
		ext, ok := s.extensionNames[name]
		if !ok {
			continue
		}
		enricher, ok := ext.(PaymentRequiredEnricher)
		if !ok {
			continue
		}
		if err := enricher.EnrichPaymentRequiredResponse(ctx, &resp); err != nil {
			s.logger.Warn("extension failed to enrich payment required response", "extension", name, "error", err)
		}
	}
	return resp
}

// FindMatchingRequirements finds the entry in available that payload was
// signed against: v2 compares payload.Accepted by deep equality; v1 (which
// predates the accepted-echo invariant) compares scheme and network only.
func (s *Server) FindMatchingRequirements(available []x402.PaymentRequirements, payload x402.PaymentPayload) (x402.PaymentRequirements, bool) {
	if payload.X402Version >= x402.X402VersionV2 {
		for _, req := range available {
			if reflect.DeepEqual(req, payload.Accepted) {
				return req, true
			}
		}
		return x402.PaymentRequirements{}, false
	}

	for _, req := range available {
		if req.Scheme == payload.Accepted.Scheme && req.Network == payload.Accepted.Network {
			return req, true
		}
	}
	return x402.PaymentRequirements{}, false
}

// VerifyPayment runs beforeVerify hooks (an abort short-circuits to an
// invalid result), resolves the facilitator for
// (version, requirements.network, requirements.scheme) and calls Verify,
// then runs afterVerify on success or gives verifyFailure hooks a chance to
// recover a substitute result on error.
func (s *Server) VerifyPayment(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	for _, hook := range s.beforeVerify {
		if decision := hook(ctx, payload, requirements); decision.Abort {
			return x402.VerifyResponse{IsValid: false, InvalidReason: decision.Reason}, nil
		}
	}

	resp, err := s.facilitators.Verify(ctx, s.version, payload, requirements)
	if err != nil {
		for _, hook := range s.verifyFailure {
			if recovered, ok := hook(ctx, payload, requirements, err); ok {
				return *recovered, nil
			}
		}
		return x402.VerifyResponse{}, err
	}

	for _, hook := range s.afterVerify {
		hook(ctx, payload, requirements, resp)
	}
	return resp, nil
}

// SettlePayment is symmetric to VerifyPayment: beforeSettle hooks may abort,
// settleFailure hooks may recover a substitute result, and on success every
// declared extension may enrich the settlement response.
func (s *Server) SettlePayment(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, declaredExtensions []string) (x402.SettleResponse, error) {
	for _, hook := range s.beforeSettle {
		if decision := hook(ctx, payload, requirements); decision.Abort {
			return x402.SettleResponse{Success: false, ErrorReason: decision.Reason}, nil
		}
	}

	resp, err := s.facilitators.Settle(ctx, s.version, payload, requirements)
	if err != nil {
		recovered := false
		for _, hook := range s.settleFailure {
			if substitute, ok := hook(ctx, payload, requirements, err); ok {
				resp = *substitute
				recovered = true
				break
			}
		}
		if !recovered {
			return x402.SettleResponse{}, err
		}
	} else {
		for _, hook := range s.afterSettle {
			hook(ctx, payload, requirements, resp)
		}
	}

	for _, name := range declaredExtensions {
		ext, ok := s.extensionNames[name]
		if !ok {
			continue
		}
		enricher, ok := ext.(SettlementEnricher)
		if !ok {
			continue
		}
		if err := enricher.EnrichSettlementResponse(ctx, &resp); err != nil {
			s.logger.Warn("extension failed to enrich settlement response", "extension", name, "error", err)
		}
	}
	return resp, nil
}
