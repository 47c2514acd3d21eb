package x402

import "strings"

// NetworkType identifies the virtual machine family a Network belongs to.
type NetworkType int

const (
	// NetworkTypeUnknown is returned for namespaces the core does not recognize.
	NetworkTypeUnknown NetworkType = iota
	// NetworkTypeEVM covers the eip155 CAIP-2 namespace.
	NetworkTypeEVM
	// NetworkTypeSVM covers the solana CAIP-2 namespace.
	NetworkTypeSVM
)

func (t NetworkType) String() string {
	switch t {
	case NetworkTypeEVM:
		return "evm"
	case NetworkTypeSVM:
		return "svm"
	default:
		return "unknown"
	}
}

// Network is a CAIP-2 chain identifier of the form "namespace:reference",
// e.g. "eip155:8453" for Base mainnet or "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp" for
// Solana mainnet-beta. The zero value is the empty, unmatched network.
type Network string

// Namespace returns the portion of the identifier before the colon.
func (n Network) Namespace() string {
	ns, _, ok := strings.Cut(string(n), ":")
	if !ok {
		return string(n)
	}
	return ns
}

// Reference returns the portion of the identifier after the colon, or the
// empty string if n carries no reference.
func (n Network) Reference() string {
	_, ref, _ := strings.Cut(string(n), ":")
	return ref
}

// Type classifies the network by its namespace.
func (n Network) Type() NetworkType {
	switch n.Namespace() {
	case "eip155":
		return NetworkTypeEVM
	case "solana":
		return NetworkTypeSVM
	default:
		return NetworkTypeUnknown
	}
}

// Matches reports whether n satisfies pattern, where pattern is either an
// exact network identifier, a namespace wildcard like "eip155:*", or the
// universal wildcard "*".
func (n Network) Matches(pattern string) bool {
	if pattern == "*" {
		return true
	}
	ns, ref, ok := strings.Cut(pattern, ":")
	if !ok {
		return string(n) == pattern
	}
	if ref == "*" {
		return n.Namespace() == ns
	}
	return string(n) == pattern
}

// NetworkSpecificity ranks a registry key's network pattern for
// longest-match resolution: an exact network beats a namespace wildcard,
// which beats the universal wildcard. Exported so registries outside this
// package (e.g. facilitator.Registry's (version, network, scheme) routing
// map) can rank candidates the same way SchemeRegistry does.
func NetworkSpecificity(pattern string) int {
	switch {
	case pattern == "*":
		return 0
	case strings.HasSuffix(pattern, ":*"):
		return 1
	default:
		return 2
	}
}

// Well-known CAIP-2 identifiers for the chains this repository ships scheme
// backends and chain configs for. Grounded on the teacher's legacy
// named-network constants in chains.go, translated to CAIP-2 per the spec's
// Network entity (§3).
const (
	NetworkBaseMainnet      Network = "eip155:8453"
	NetworkBaseSepolia      Network = "eip155:84532"
	NetworkPolygonMainnet   Network = "eip155:137"
	NetworkPolygonAmoy      Network = "eip155:80002"
	NetworkAvalancheMainnet Network = "eip155:43114"
	NetworkAvalancheFuji    Network = "eip155:43113"
	NetworkEthereumMainnet  Network = "eip155:1"
	NetworkEthereumSepolia  Network = "eip155:11155111"

	NetworkSolanaMainnet Network = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	NetworkSolanaDevnet  Network = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
)
