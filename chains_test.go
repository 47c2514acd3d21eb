package x402

import "testing"

func TestChainConfigConstants(t *testing.T) {
	tests := []struct {
		name   string
		config ChainConfig
	}{
		{"SolanaMainnet", SolanaMainnetChain},
		{"SolanaDevnet", SolanaDevnetChain},
		{"BaseMainnet", BaseMainnetChain},
		{"BaseSepolia", BaseSepoliaChain},
		{"PolygonMainnet", PolygonMainnetChain},
		{"PolygonAmoy", PolygonAmoyChain},
		{"AvalancheMainnet", AvalancheMainnetChain},
		{"AvalancheFuji", AvalancheFujiChain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.Network == "" {
				t.Errorf("%s: Network is empty", tt.name)
			}
			if tt.config.USDCAddress == "" {
				t.Errorf("%s: USDCAddress is empty", tt.name)
			}
			if tt.config.Decimals != 6 {
				t.Errorf("%s: Decimals = %d, want 6", tt.name, tt.config.Decimals)
			}
		})
	}
}

func TestNewUSDCTokenConfig(t *testing.T) {
	token := NewUSDCTokenConfig(BaseMainnetChain, 1)

	if token.Address != BaseMainnetChain.USDCAddress {
		t.Errorf("Address = %s, want %s", token.Address, BaseMainnetChain.USDCAddress)
	}
	if token.Symbol != "USDC" {
		t.Errorf("Symbol = %s, want USDC", token.Symbol)
	}
	if token.Decimals != 6 {
		t.Errorf("Decimals = %d, want 6", token.Decimals)
	}
	if token.Priority != 1 {
		t.Errorf("Priority = %d, want 1", token.Priority)
	}
}

func TestNewUSDCPaymentRequirementValidInputs(t *testing.T) {
	tests := []struct {
		name              string
		chain             ChainConfig
		amount            string
		payTo             string
		wantAmount        string
		wantExtraNotEmpty bool
	}{
		{"BaseMainnet_1USDC", BaseMainnetChain, "1.0", "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0", "1000000", true},
		{"SolanaMainnet_10.5USDC", SolanaMainnetChain, "10.5", "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK", "10500000", false},
		{"PolygonAmoy_tiny", PolygonAmoyChain, "0.000001", "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0", "1", true},
		{"AvalancheFuji_fractional", AvalancheFujiChain, "999.999999", "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0", "999999999", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewUSDCPaymentRequirement(USDCRequirementConfig{
				Chain:  tt.chain,
				Amount: tt.amount,
				PayTo:  tt.payTo,
			})
			if err != nil {
				t.Fatalf("NewUSDCPaymentRequirement() error = %v", err)
			}

			if req.Network != tt.chain.Network {
				t.Errorf("Network = %s, want %s", req.Network, tt.chain.Network)
			}
			if req.Asset != tt.chain.USDCAddress {
				t.Errorf("Asset = %s, want %s", req.Asset, tt.chain.USDCAddress)
			}
			if req.Amount != tt.wantAmount {
				t.Errorf("Amount = %s, want %s", req.Amount, tt.wantAmount)
			}
			if req.Scheme != "exact" {
				t.Errorf("Scheme = %s, want exact", req.Scheme)
			}
			if req.MaxTimeoutSeconds != 300 {
				t.Errorf("MaxTimeoutSeconds = %d, want 300", req.MaxTimeoutSeconds)
			}
			if tt.wantExtraNotEmpty && len(req.Extra) == 0 {
				t.Errorf("Extra is empty, expected EIP-3009 domain parameters")
			}
			if !tt.wantExtraNotEmpty && len(req.Extra) != 0 {
				t.Errorf("Extra is not empty, expected none for non-EVM chain")
			}
		})
	}
}

func TestNewUSDCPaymentRequirementEVMExtra(t *testing.T) {
	req, err := NewUSDCPaymentRequirement(USDCRequirementConfig{
		Chain:  BaseSepoliaChain,
		Amount: "1.0",
		PayTo:  "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
	})
	if err != nil {
		t.Fatalf("NewUSDCPaymentRequirement() error = %v", err)
	}
	if req.Extra["name"] != "USDC" || req.Extra["version"] != "2" {
		t.Errorf("Extra = %v, want name=USDC version=2", req.Extra)
	}
}

func TestNewUSDCPaymentRequirementZeroAmount(t *testing.T) {
	req, err := NewUSDCPaymentRequirement(USDCRequirementConfig{
		Chain:  BaseMainnetChain,
		Amount: "0",
		PayTo:  "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
	})
	if err != nil {
		t.Fatalf("NewUSDCPaymentRequirement() error = %v, want nil", err)
	}
	if req.Amount != "0" {
		t.Errorf("Amount = %s, want 0", req.Amount)
	}
}

func TestNewUSDCPaymentRequirementRejectsEmptyPayTo(t *testing.T) {
	_, err := NewUSDCPaymentRequirement(USDCRequirementConfig{Chain: BaseMainnetChain, Amount: "1.0"})
	if err == nil {
		t.Fatal("expected error for empty payTo")
	}
}

func TestNewUSDCPaymentRequirementRejectsNegativeAmount(t *testing.T) {
	_, err := NewUSDCPaymentRequirement(USDCRequirementConfig{
		Chain:  BaseMainnetChain,
		Amount: "-1.0",
		PayTo:  "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
	})
	if err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestNewUSDCPaymentRequirementCustomConfig(t *testing.T) {
	req, err := NewUSDCPaymentRequirement(USDCRequirementConfig{
		Chain:             BaseMainnetChain,
		Amount:            "5.0",
		PayTo:             "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
		Scheme:            "estimate",
		MaxTimeoutSeconds: 600,
	})
	if err != nil {
		t.Fatalf("NewUSDCPaymentRequirement() error = %v", err)
	}
	if req.Scheme != "estimate" {
		t.Errorf("Scheme = %s, want estimate", req.Scheme)
	}
	if req.MaxTimeoutSeconds != 600 {
		t.Errorf("MaxTimeoutSeconds = %d, want 600", req.MaxTimeoutSeconds)
	}
}
