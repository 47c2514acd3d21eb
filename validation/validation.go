// Package validation provides format-level sanity checks for payment
// requirements and payloads, layered on top of PaymentRequirements.Validate:
// network-appropriate address shape and the EIP-3009 domain fields EVM
// exact-scheme requirements carry in Extra. It does not replace a scheme
// backend's own verification - signatures, balances, chain state - only
// catches malformed input before any of that runs.
package validation

import (
	"fmt"
	"math/big"
	"regexp"

	x402 "github.com/x402-core/x402-go"
)

var (
	// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars).
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// solanaAddressRegex matches Solana base58 addresses (32-44 chars, base58 charset).
	solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// ValidateAmount validates that an amount string is a valid positive integer.
// Returns an error if the amount is empty, malformed, or not greater than zero.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	amt := new(big.Int)
	amt, ok := amt.SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}
	if amt.Sign() <= 0 {
		return fmt.Errorf("amount must be greater than 0, got: %s", amount)
	}
	return nil
}

// ValidateAddress validates address against the format conventions of
// network's virtual machine family.
func ValidateAddress(address string, network x402.Network) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	switch network.Type() {
	case x402.NetworkTypeEVM:
		if !evmAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
		}
		return nil

	case x402.NetworkTypeSVM:
		if !solanaAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid Solana address format: %s (expected base58 string 32-44 chars)", address)
		}
		return nil

	default:
		return fmt.Errorf("unrecognized network for address validation: %s", network)
	}
}

// ValidatePaymentRequirements performs deeper validation of a payment
// requirement than PaymentRequirements.Validate alone: network-appropriate
// address formats for PayTo and Asset, and (for EVM exact-scheme
// requirements) the EIP-3009 domain fields in Extra, if present.
func ValidatePaymentRequirements(req x402.PaymentRequirements) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	if err := ValidateAddress(req.PayTo, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: payTo %w", err)
	}
	if err := ValidateAddress(req.Asset, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}

	if req.Network.Type() == x402.NetworkTypeEVM && req.Extra != nil {
		if name, ok := req.Extra["name"].(string); ok && name == "" {
			return fmt.Errorf("invalid requirement: EIP-3009 name cannot be empty")
		}
		if version, ok := req.Extra["version"].(string); ok && version == "" {
			return fmt.Errorf("invalid requirement: EIP-3009 version cannot be empty")
		}
	}

	return nil
}

// ValidatePaymentPayload validates a payment payload's envelope fields: the
// protocol version, and that the accepted requirement it carries names a
// recognized network and a non-nil scheme payload.
func ValidatePaymentPayload(payload x402.PaymentPayload) error {
	if payload.X402Version != x402.X402VersionV2 {
		return fmt.Errorf("unsupported x402 version: %d", payload.X402Version)
	}
	if payload.Accepted.Scheme == "" {
		return fmt.Errorf("scheme cannot be empty")
	}
	if payload.Accepted.Network == "" {
		return fmt.Errorf("network cannot be empty")
	}
	if payload.Accepted.Network.Type() == x402.NetworkTypeUnknown {
		return fmt.Errorf("unrecognized network: %s", payload.Accepted.Network)
	}
	if payload.Payload == nil {
		return fmt.Errorf("payload cannot be nil")
	}
	return nil
}
