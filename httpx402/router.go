// Package httpx402 implements the HTTP resource layer (C4): it compiles a
// route table, matches incoming requests against it, negotiates the wire
// encoding of §6, and drives the deferred-settlement contract around a
// server.Server. Grounded on the teacher's http/middleware.go
// NewX402Middleware and http/handler.go, split from a single bundled
// middleware into route matching (this file), request processing
// (handler.go) and response-writer interception (middleware.go).
package httpx402

import (
	"fmt"
	"strings"

	"github.com/x402-core/x402-go/validation"

	x402 "github.com/x402-core/x402-go"
)

// compiledRoute is one registered pattern, pre-split into segments so
// matching does not re-parse the pattern on every request.
type compiledRoute struct {
	pattern   string
	segments  []string
	isLiteral bool
	config    x402.RouteConfig
}

// RouteMatcher compiles a set of route patterns and resolves a request path
// to the most specific match: literal patterns first, then glob patterns
// (`*` for a single segment, `**` for any suffix) ranked by how much
// literal prefix they share with the path.
type RouteMatcher struct {
	routes []compiledRoute
}

// NewRouteMatcher builds an empty RouteMatcher.
func NewRouteMatcher() *RouteMatcher {
	return &RouteMatcher{}
}

// Register compiles pattern and associates it with cfg. Later calls with an
// identical pattern are both retained; Match always returns the first
// registered match at a given specificity, so register more specific
// patterns first if precedence matters within the same specificity tier.
//
// Each entry in cfg.Accepts is validated unless cfg relies on a resolver
// (PriceResolver/PayToResolver), whose output cannot be checked until
// request time.
func (m *RouteMatcher) Register(pattern string, cfg x402.RouteConfig) error {
	if cfg.PriceResolver == nil && cfg.PayToResolver == nil {
		for i, req := range cfg.Accepts {
			if err := validation.ValidatePaymentRequirements(req); err != nil {
				return fmt.Errorf("invalid requirement %d for route %s: %w", i, pattern, err)
			}
		}
	}

	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	literal := true
	for _, s := range segments {
		if s == "*" || s == "**" {
			literal = false
			break
		}
	}
	m.routes = append(m.routes, compiledRoute{pattern: pattern, segments: segments, isLiteral: literal, config: cfg})
	return nil
}

// Match resolves path against the compiled routes: an exact literal match
// wins outright; otherwise the glob pattern with the longest matching
// literal prefix wins.
func (m *RouteMatcher) Match(path string) (x402.RouteConfig, bool) {
	normalized := "/" + strings.Trim(path, "/")

	for _, r := range m.routes {
		if r.isLiteral && ("/"+strings.Trim(r.pattern, "/")) == normalized {
			return r.config, true
		}
	}

	pathSegments := strings.Split(strings.Trim(path, "/"), "/")

	var (
		best      x402.RouteConfig
		bestScore = -1
		found     bool
	)
	for _, r := range m.routes {
		if r.isLiteral {
			continue
		}
		if score, ok := matchGlob(r.segments, pathSegments); ok && score > bestScore {
			best, bestScore, found = r.config, score, true
		}
	}
	return best, found
}

// matchGlob reports whether pathSegments satisfies patSegments, and a
// specificity score: two points per literal segment matched, one point per
// `*` matched, used to disambiguate overlapping glob patterns by longest
// literal prefix.
func matchGlob(patSegments, pathSegments []string) (int, bool) {
	score := 0
	i := 0
	for ; i < len(patSegments); i++ {
		seg := patSegments[i]
		if seg == "**" {
			return score, true
		}
		if i >= len(pathSegments) {
			return 0, false
		}
		switch {
		case seg == "*":
			score++
		case seg == pathSegments[i]:
			score += 2
		default:
			return 0, false
		}
	}
	if i != len(pathSegments) {
		return 0, false
	}
	return score, true
}
