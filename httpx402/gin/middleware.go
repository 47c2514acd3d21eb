// Package gin adapts httpx402.Handler to gin's Context-based middleware
// convention. Grounded on the teacher's http/gin/middleware.go, which
// translated gin.Context to stdlib http.Request/ResponseWriter around the
// same verify/settle flow this package now delegates to httpx402.Handler.
package gin

import (
	"github.com/gin-gonic/gin"

	"github.com/x402-core/x402-go/httpx402"
)

// New returns a gin.HandlerFunc that runs ProcessHTTPRequest before the
// handler chain continues, aborting the chain when payment processing
// already wrote a response. Otherwise it routes c.Writer through
// ProcessSettlement's writer before calling c.Next(), so settlement runs
// when a downstream handler commits a successful status.
func New(h *httpx402.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, proceed := h.ProcessHTTPRequest(c.Writer, c.Request)
		if !proceed {
			c.Abort()
			return
		}
		c.Request = req
		c.Writer = &ginResponseWriterAdapter{ResponseWriter: c.Writer, settled: h.ProcessSettlement(c.Writer, req)}
		c.Next()
	}
}

// ginResponseWriterAdapter routes Write/WriteHeader through the
// settlementInterceptor httpx402 returned, while keeping gin.ResponseWriter's
// richer interface (Size, Status, etc.) intact for anything downstream that
// inspects it directly.
type ginResponseWriterAdapter struct {
	gin.ResponseWriter
	settled interface {
		Write([]byte) (int, error)
		WriteHeader(int)
	}
}

func (a *ginResponseWriterAdapter) Write(b []byte) (int, error) {
	return a.settled.Write(b)
}

func (a *ginResponseWriterAdapter) WriteHeader(statusCode int) {
	a.settled.WriteHeader(statusCode)
}
