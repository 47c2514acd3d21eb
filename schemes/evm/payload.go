package evm

import (
	"encoding/json"
	"fmt"
)

// AssetTransferMethod names the two wire payload shapes of the EVM "exact"
// scheme, the values Extra["assetTransferMethod"] can carry. No code in this
// package reads that key: the payload shape follows from which client scheme
// (EIP3009ClientScheme or Permit2ClientScheme) builds it.
type AssetTransferMethod string

const (
	AssetTransferEIP3009 AssetTransferMethod = "eip3009"
	AssetTransferPermit2 AssetTransferMethod = "permit2"
)

// ExactEVMPayload is the wire shape of the "payload" field of a v2
// PaymentPayload for an EIP-3009 exact-scheme authorization.
type ExactEVMPayload struct {
	Signature     string           `json:"signature"`
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization mirrors the on-chain TransferWithAuthorization struct,
// with every numeric field carried as a decimal string so it survives JSON
// round-tripping without precision loss.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Permit2Payload is the wire shape of the "payload" field for a Permit2
// witness-bound authorization.
type Permit2Payload struct {
	Signature    string              `json:"signature"`
	Authorization Permit2Authorization `json:"authorization"`
}

// Permit2Authorization mirrors PermitWitnessTransferFrom's arguments plus
// the payment witness this scheme binds to them.
type Permit2Authorization struct {
	From      string           `json:"from"`
	Permitted TokenPermissions `json:"permitted"`
	Spender   string           `json:"spender"`
	Nonce     string           `json:"nonce"`
	Deadline  string           `json:"deadline"`
	Witness   Permit2Witness   `json:"witness"`
}

// TokenPermissions is Permit2's TokenPermissions struct.
type TokenPermissions struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Permit2Witness binds the permit to a specific payment: the recipient and
// the earliest it may be redeemed.
type Permit2Witness struct {
	To         string `json:"to"`
	ValidAfter string `json:"validAfter"`
}

func decodeExactEVMPayload(raw json.RawMessage) (ExactEVMPayload, error) {
	var p ExactEVMPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ExactEVMPayload{}, fmt.Errorf("evm: invalid exact payload: %w", err)
	}
	if p.Signature == "" {
		return ExactEVMPayload{}, fmt.Errorf("evm: missing signature")
	}
	if p.Authorization.From == "" || p.Authorization.To == "" {
		return ExactEVMPayload{}, fmt.Errorf("evm: authorization missing from/to")
	}
	return p, nil
}

func decodePermit2Payload(raw json.RawMessage) (Permit2Payload, error) {
	var p Permit2Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Permit2Payload{}, fmt.Errorf("evm: invalid permit2 payload: %w", err)
	}
	if p.Signature == "" {
		return Permit2Payload{}, fmt.Errorf("evm: missing signature")
	}
	if p.Authorization.From == "" {
		return Permit2Payload{}, fmt.Errorf("evm: authorization missing from")
	}
	return p, nil
}
