// Package encoding base64(JSON(...))-encodes and decodes the wire envelopes
// exchanged over the PAYMENT-REQUIRED / PAYMENT-SIGNATURE / PAYMENT-RESPONSE
// / SIGN-IN-WITH-X headers. Grounded on the teacher's encoding/encoding.go,
// generalized to the v2 CAIP-2 types and given v1-header-name constants
// alongside the v2 ones per §6's header table.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	x402 "github.com/x402-core/x402-go"
)

// Header names, case-insensitive per §6 (http.Header normalizes this for us).
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE" // v2
	HeaderXPayment         = "X-PAYMENT"         // v1
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"  // v2
	HeaderXPaymentResponse = "X-PAYMENT-RESPONSE" // v1
	HeaderSignInWithX      = "SIGN-IN-WITH-X"
	HeaderExposeHeaders    = "Access-Control-Expose-Headers"
)

// EncodePaymentRequired converts a PaymentRequired to base64-encoded JSON,
// for the PAYMENT-REQUIRED header.
func EncodePaymentRequired(v x402.PaymentRequired) (string, error) {
	return encode(v, "payment required")
}

// DecodePaymentRequired parses the PAYMENT-REQUIRED header payload.
func DecodePaymentRequired(encoded string) (x402.PaymentRequired, error) {
	var v x402.PaymentRequired
	err := decode(encoded, &v, "payment required")
	return v, err
}

// EncodePaymentPayload converts a PaymentPayload to base64-encoded JSON, for
// the PAYMENT-SIGNATURE / X-PAYMENT header.
func EncodePaymentPayload(v x402.PaymentPayload) (string, error) {
	return encode(v, "payment payload")
}

// DecodePaymentPayload parses the PAYMENT-SIGNATURE / X-PAYMENT header payload.
func DecodePaymentPayload(encoded string) (x402.PaymentPayload, error) {
	var v x402.PaymentPayload
	err := decode(encoded, &v, "payment payload")
	return v, err
}

// EncodeSettleResponse converts a SettleResponse to base64-encoded JSON, for
// the PAYMENT-RESPONSE / X-PAYMENT-RESPONSE header.
func EncodeSettleResponse(v x402.SettleResponse) (string, error) {
	return encode(v, "settle response")
}

// DecodeSettleResponse parses the PAYMENT-RESPONSE / X-PAYMENT-RESPONSE header payload.
func DecodeSettleResponse(encoded string) (x402.SettleResponse, error) {
	var v x402.SettleResponse
	err := decode(encoded, &v, "settle response")
	return v, err
}

func encode(v any, what string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decode(encoded string, out any, what string) error {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode %s header: %w", what, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return nil
}
