// Package chi adapts httpx402.Handler to chi's middleware convention. It is
// a thin wrapper: chi middleware already has the
// func(http.Handler) http.Handler shape httpx402.Handler.Middleware
// produces, so there is no translation to do beyond naming this
// entrypoint the way chi users expect. Grounded on the teacher's
// http/chi/middleware.go, which was itself a thin pass-through to the
// bundled stdlib middleware.
package chi

import (
	"net/http"

	"github.com/x402-core/x402-go/httpx402"
)

// New returns a chi-compatible middleware that gates access to whatever
// routes h's RouteMatcher protects.
func New(h *httpx402.Handler) func(http.Handler) http.Handler {
	return h.Middleware
}
