// Package evm implements the "exact" scheme (§4.1) for EVM-compatible
// chains: EIP-3009 gasless transferWithAuthorization and Permit2
// witness-bound proxy settlement, both on the client (ClientScheme) and
// facilitator (FacilitatorScheme) side. Grounded on the teacher's
// evm/signer.go (functional-options signer construction) and
// signers/evm/eip3009.go (EIP-712 authorization signing); the
// facilitator-side verify/settle half has no teacher equivalent (the
// teacher only ever calls a remote facilitator over HTTP) and is grounded
// instead on the exact-scheme facilitator reference files surveyed in
// DESIGN.md.
package evm

import (
	"fmt"
	"math/big"

	x402 "github.com/x402-core/x402-go"
)

// SchemeExact is the scheme name this package implements.
const SchemeExact = "exact"

// ChainID extracts the numeric chain ID from a CAIP-2 "eip155:<id>" network
// identifier. Unlike the teacher's evm/signer.go, which maps a handful of
// legacy named networks ("base", "base-sepolia", ...) through a switch
// statement, CAIP-2 already carries the chain ID as the network's
// reference segment, so no lookup table is needed.
func ChainID(network x402.Network) (*big.Int, error) {
	if network.Type() != x402.NetworkTypeEVM {
		return nil, fmt.Errorf("evm: %q is not an eip155 network", network)
	}
	id, ok := new(big.Int).SetString(network.Reference(), 10)
	if !ok {
		return nil, fmt.Errorf("evm: invalid eip155 chain reference %q", network.Reference())
	}
	return id, nil
}
