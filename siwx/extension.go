package siwx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	x402 "github.com/x402-core/x402-go"
)

// ExtensionName is the key this extension is declared and looked up under in
// PaymentRequired.Extensions and RouteConfig.Extensions.
const ExtensionName = "sign-in-with-x"

// Declaration is the challenge the extension publishes on every 402
// response: everything a client needs to construct and sign a Message
// without a prior round trip.
type Declaration struct {
	Domain         string   `json:"domain"`
	URI            string   `json:"uri"`
	Statement      string   `json:"statement,omitempty"`
	Version        string   `json:"version"`
	Nonce          string   `json:"nonce"`
	IssuedAt       string   `json:"issuedAt"`
	ExpirationTime string   `json:"expirationTime"`
	RequestID      string   `json:"requestId"`
	Resources      []string `json:"resources,omitempty"`
}

// Extension implements server.Extension (and PaymentRequiredEnricher): it
// regenerates a fresh nonce/issuedAt/expirationTime declaration on every 402
// per spec §4.6's enrichDeclaration, and exposes the hook methods that wire
// into client.Transport and httpx402.Handler.
type Extension struct {
	storage Storage

	domain    string
	uri       string
	statement string
	version   string
	resources []string

	messageTTL time.Duration
	nonceFn    func() string

	nonceChecker  nonceChecker
	nonceRecorder nonceRecorder
}

// Option configures an Extension at construction.
type Option func(*Extension)

// WithStatement sets the human-readable statement line shown to the signer.
func WithStatement(statement string) Option {
	return func(e *Extension) { e.statement = statement }
}

// WithResources declares the resource URIs the session grants access to.
func WithResources(resources []string) Option {
	return func(e *Extension) { e.resources = append([]string(nil), resources...) }
}

// WithMessageTTL overrides the default 5-minute challenge expiration window.
func WithMessageTTL(ttl time.Duration) Option {
	return func(e *Extension) { e.messageTTL = ttl }
}

// NewExtension builds a SIWX extension for resource server domain/uri,
// backed by storage. Returns an error if storage implements only one half of
// the optional nonce-replay pair.
func NewExtension(storage Storage, domain, uri string, opts ...Option) (*Extension, error) {
	checker, recorder, err := nonceSupport(storage)
	if err != nil {
		return nil, err
	}

	e := &Extension{
		storage:       storage,
		domain:        domain,
		uri:           uri,
		version:       "1",
		messageTTL:    5 * time.Minute,
		nonceFn:       func() string { return uuid.NewString() },
		nonceChecker:  checker,
		nonceRecorder: recorder,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Extension) Name() string { return ExtensionName }

// EnrichPaymentRequiredResponse attaches a freshly generated Declaration, so
// every 402 carries its own nonce and validity window rather than reusing a
// stale challenge across requests.
func (e *Extension) EnrichPaymentRequiredResponse(ctx context.Context, resp *x402.PaymentRequired) error {
	now := time.Now()
	decl := Declaration{
		Domain:         e.domain,
		URI:            e.uri,
		Statement:      e.statement,
		Version:        e.version,
		Nonce:          e.nonceFn(),
		IssuedAt:       now.UTC().Format(time.RFC3339),
		ExpirationTime: now.Add(e.messageTTL).UTC().Format(time.RFC3339),
		RequestID:      uuid.NewString(),
		Resources:      e.resources,
	}

	raw, err := json.Marshal(decl)
	if err != nil {
		return err
	}
	if resp.Extensions == nil {
		resp.Extensions = make(map[string]x402.Extension, 1)
	}
	resp.Extensions[ExtensionName] = raw
	return nil
}
