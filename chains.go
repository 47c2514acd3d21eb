package x402

import "fmt"

// ChainConfig carries the per-chain USDC and EIP-3009 domain parameters
// needed to build a PaymentRequirements for USDC without looking addresses
// up by hand. All USDC addresses and EIP-3009 domain parameters were
// verified on 2025-10-28 (EVM) / 2025-10-30 (Base Sepolia, via on-chain
// contract read).
type ChainConfig struct {
	// Network is the CAIP-2 network identifier this config describes.
	Network Network

	// USDCAddress is the official Circle USDC contract address (EVM) or
	// mint address (Solana).
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals int

	// EIP3009Name and EIP3009Version are the EIP-712 domain parameters for
	// this chain's USDC contract. Empty for non-EVM chains.
	EIP3009Name    string
	EIP3009Version string
}

// USDCRequirementConfig configures NewUSDCPaymentRequirement. It is a
// convenience helper for the common "pay in USDC" case; for other tokens
// construct a PaymentRequirements directly.
type USDCRequirementConfig struct {
	// Chain carries the USDC address/decimals/domain for the target network (required).
	Chain ChainConfig

	// Amount is the human-readable USDC amount (e.g. "1.5" = 1.5 USDC). Zero
	// is allowed for free-with-signature authorization flows.
	Amount string

	// PayTo is the payment recipient address (required).
	PayTo string

	// Scheme defaults to "exact".
	Scheme string

	// MaxTimeoutSeconds defaults to 300.
	MaxTimeoutSeconds int
}

// Mainnet chain configurations.
var (
	SolanaMainnetChain = ChainConfig{
		Network:     NetworkSolanaMainnet,
		USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals:    6,
	}

	BaseMainnetChain = ChainConfig{
		Network:        NetworkBaseMainnet,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	PolygonMainnetChain = ChainConfig{
		Network:        NetworkPolygonMainnet,
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	AvalancheMainnetChain = ChainConfig{
		Network:        NetworkAvalancheMainnet,
		USDCAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

// Testnet chain configurations.
var (
	SolanaDevnetChain = ChainConfig{
		Network:     NetworkSolanaDevnet,
		USDCAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Decimals:    6,
	}

	BaseSepoliaChain = ChainConfig{
		Network:        NetworkBaseSepolia,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	PolygonAmoyChain = ChainConfig{
		Network:        NetworkPolygonAmoy,
		USDCAddress:    "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	AvalancheFujiChain = ChainConfig{
		Network:        NetworkAvalancheFuji,
		USDCAddress:    "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

// NewUSDCTokenConfig builds a TokenConfig for USDC on chain at the given
// signer priority (lower numbers preferred).
func NewUSDCTokenConfig(chain ChainConfig, priority int) TokenConfig {
	return TokenConfig{
		Address:  chain.USDCAddress,
		Symbol:   "USDC",
		Decimals: 6,
		Priority: priority,
	}
}

// NewUSDCPaymentRequirement builds a PaymentRequirements for USDC from cfg.
// It converts the human amount to base units (6 decimals) via
// AmountToBigInt, applies defaults (scheme "exact", 300s timeout), and
// populates the EIP-3009 EIP-712 domain fields in Extra for EVM chains.
func NewUSDCPaymentRequirement(cfg USDCRequirementConfig) (PaymentRequirements, error) {
	if cfg.PayTo == "" {
		return PaymentRequirements{}, fmt.Errorf("payTo: cannot be empty")
	}

	atomic, err := AmountToBigInt(cfg.Amount, cfg.Chain.Decimals)
	if err != nil {
		return PaymentRequirements{}, fmt.Errorf("amount: %w", err)
	}
	if atomic.Sign() < 0 {
		return PaymentRequirements{}, fmt.Errorf("amount: must be non-negative")
	}

	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "exact"
	}

	maxTimeout := cfg.MaxTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = 300
	}

	req := PaymentRequirements{
		Scheme:            scheme,
		Network:           cfg.Chain.Network,
		Amount:            atomic.String(),
		Asset:             cfg.Chain.USDCAddress,
		PayTo:             cfg.PayTo,
		MaxTimeoutSeconds: maxTimeout,
	}

	if cfg.Chain.EIP3009Name != "" {
		req.Extra = map[string]any{
			"name":    cfg.Chain.EIP3009Name,
			"version": cfg.Chain.EIP3009Version,
		}
	}

	return req, nil
}
