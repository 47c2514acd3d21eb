package mcpx402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/x402-core/x402-go/server"

	x402 "github.com/x402-core/x402-go"
)

// MetaKeyPayment is the params._meta key a tools/call request carries its
// signed payment payload under.
const MetaKeyPayment = "x402/payment"

// MetaKeyPaymentResponse is the result._meta key the settlement response is
// injected under.
const MetaKeyPaymentResponse = "x402/payment-response"

// Handler wraps an MCP HTTP handler (a mcp-go streamable HTTP server) and
// gates any tools/call request naming a tool in tools behind payment,
// verified and settled through core. Requests for anything else - other
// JSON-RPC methods, free tools, non-POST transport traffic - pass straight
// through to mcpHandler untouched.
type Handler struct {
	mcpHandler http.Handler
	core       *server.Server
	tools      *ToolTable
	config     *Config
}

// NewHandler builds a Handler. config may be nil (DefaultConfig is used).
func NewHandler(mcpHandler http.Handler, core *server.Server, tools *ToolTable, config *Config) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Handler{mcpHandler: mcpHandler, core: core, tools: tools, config: config}
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Meta      map[string]any `json:"_meta"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.mcpHandler.ServeHTTP(w, r)
		return
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, nil, -32700, "Parse error", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var req jsonrpcRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.writeError(w, nil, -32700, "Parse error", nil)
		return
	}
	if req.Method != "tools/call" {
		h.mcpHandler.ServeHTTP(w, r)
		return
	}

	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.writeError(w, req.ID, -32602, "Invalid params", nil)
		return
	}

	cfg, needsPayment := h.tools.Lookup(params.Name)
	if !needsPayment {
		h.mcpHandler.ServeHTTP(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), VerifyTimeout)
	defer cancel()

	resource := &x402.ResourceInfo{URL: fmt.Sprintf("mcp://tools/%s", params.Name)}
	accepts, err := h.core.BuildPaymentRequirements(ctx, cfg, r)
	if err != nil {
		h.writeError(w, req.ID, -32603, fmt.Sprintf("building payment requirements: %v", err), nil)
		return
	}

	payload, ok := extractPayment(params.Meta)
	if !ok {
		h.sendPaymentRequired(w, req.ID, accepts, resource, cfg.Extensions, "")
		return
	}

	requirements, ok := h.core.FindMatchingRequirements(accepts, payload)
	if !ok {
		h.sendPaymentRequired(w, req.ID, accepts, resource, cfg.Extensions, "no accepted requirement matches the submitted payment")
		return
	}

	verifyResp, err := h.core.VerifyPayment(ctx, payload, requirements)
	if err != nil {
		h.writeError(w, req.ID, -32603, fmt.Sprintf("verification failed: %v", err), nil)
		return
	}
	if !verifyResp.IsValid {
		h.sendPaymentRequired(w, req.ID, accepts, resource, cfg.Extensions, verifyResp.InvalidReason)
		return
	}

	h.forwardAndSettle(w, r, bodyBytes, req.ID, payload, requirements, cfg)
}

// extractPayment reads and decodes meta[MetaKeyPayment] into a
// PaymentPayload, round-tripping through JSON since it arrives as an
// already-decoded map[string]any from the outer params unmarshal.
func extractPayment(meta map[string]any) (x402.PaymentPayload, bool) {
	raw, ok := meta[MetaKeyPayment]
	if !ok {
		return x402.PaymentPayload{}, false
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return x402.PaymentPayload{}, false
	}
	var payload x402.PaymentPayload
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return x402.PaymentPayload{}, false
	}
	return payload, true
}

// forwardAndSettle runs the wrapped MCP handler through a responseRecorder,
// then - only if the tool call itself succeeded - settles the payment and
// injects the settlement response into result._meta. A tool execution error
// is forwarded unsettled: the deferred-settlement invariant httpx402.Handler
// enforces at the HTTP layer (a failing handler never triggers a charge)
// applies here identically.
func (h *Handler) forwardAndSettle(w http.ResponseWriter, r *http.Request, requestBody []byte, id any, payload x402.PaymentPayload, requirements x402.PaymentRequirements, cfg x402.RouteConfig) {
	recorder := &responseRecorder{headerMap: make(http.Header), statusCode: http.StatusOK}

	r.Body = io.NopCloser(bytes.NewBuffer(requestBody))
	h.mcpHandler.ServeHTTP(recorder, r)

	var resp struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   any             `json:"error,omitempty"`
		ID      any             `json:"id"`
	}
	if err := json.Unmarshal(recorder.body.Bytes(), &resp); err != nil {
		h.flushRecorder(w, recorder)
		return
	}
	if resp.Error != nil {
		h.flushRecorder(w, recorder)
		return
	}

	verifyOnly := h.config.VerifyOnly || cfg.VerifyOnly
	var settleResp x402.SettleResponse
	if !verifyOnly {
		settleCtx, cancel := context.WithTimeout(r.Context(), SettleTimeout)
		settled, err := h.core.SettlePayment(settleCtx, payload, requirements, cfg.Extensions)
		cancel()
		if err != nil || !settled.Success {
			reason := settled.ErrorReason
			if err != nil {
				reason = err.Error()
			}
			errorData := map[string]any{
				MetaKeyPaymentResponse: x402.SettleResponse{Success: false, Network: requirements.Network, Payer: settled.Payer, ErrorReason: reason},
			}
			h.writeError(w, id, -32603, fmt.Sprintf("settlement failed: %s", reason), errorData)
			return
		}
		settleResp = settled
	} else {
		// Success=false here signals settlement was skipped, not that it
		// failed: verify-only mode never attempts to move funds.
		settleResp = x402.SettleResponse{Success: false, Network: requirements.Network}
	}

	if resp.Result != nil {
		var result map[string]any
		if err := json.Unmarshal(resp.Result, &result); err == nil {
			meta, ok := result["_meta"].(map[string]any)
			if !ok {
				meta = make(map[string]any)
			}
			meta[MetaKeyPaymentResponse] = settleResp
			result["_meta"] = meta
			if modified, err := json.Marshal(result); err == nil {
				resp.Result = modified
			}
		}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	for k, v := range recorder.headerMap {
		w.Header()[k] = v
	}
	w.WriteHeader(recorder.statusCode)
	_, _ = w.Write(body)
}

func (h *Handler) flushRecorder(w http.ResponseWriter, recorder *responseRecorder) {
	for k, v := range recorder.headerMap {
		w.Header()[k] = v
	}
	w.WriteHeader(recorder.statusCode)
	_, _ = w.Write(recorder.body.Bytes())
}

func (h *Handler) sendPaymentRequired(w http.ResponseWriter, id any, accepts []x402.PaymentRequirements, resource *x402.ResourceInfo, declaredExtensions []string, reason string) {
	required := h.core.CreatePaymentRequiredResponse(context.Background(), accepts, resource, reason, declaredExtensions)
	h.writeError(w, id, 402, "Payment required", required)
}

func (h *Handler) writeError(w http.ResponseWriter, id any, code int, message string, data any) {
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	if data != nil {
		resp["error"].(map[string]any)["data"] = data
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// responseRecorder captures the wrapped MCP handler's response so
// forwardAndSettle can decide whether to commit it (possibly after
// injecting a settlement) before it reaches the real ResponseWriter.
type responseRecorder struct {
	headerMap  http.Header
	body       bytes.Buffer
	statusCode int
}

func (r *responseRecorder) Header() http.Header         { return r.headerMap }
func (r *responseRecorder) Write(b []byte) (int, error) { return r.body.Write(b) }
func (r *responseRecorder) WriteHeader(statusCode int)  { r.statusCode = statusCode }
