package svm

import (
	"encoding/json"
	"fmt"
)

// Payload is the wire shape of an SVM exact-scheme payment payload: a
// base64-encoded, partially-signed Solana transaction. Grounded on the
// teacher's x402.SVMPayload{Transaction} and the facilitator reference's
// PayloadFromMap.
type Payload struct {
	Transaction string `json:"transaction"`
}

func decodePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("svm: decode payload: %w", err)
	}
	if p.Transaction == "" {
		return Payload{}, fmt.Errorf("svm: payload missing transaction")
	}
	return p, nil
}

func encodePayload(p Payload) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("svm: encode payload: %w", err)
	}
	return raw, nil
}
