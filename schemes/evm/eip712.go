package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// HashEIP3009Authorization computes the EIP-712 digest a facilitator must
// recover a signature against to verify a TransferWithAuthorization
// authorization, using the same typed-data construction the client signs
// with in eip3009.go. Grounded on signers/evm/eip3009.go's
// SignTransferAuthorization, split out so Verify and Sign share one
// digest computation instead of duplicating the EIP-712 layout.
func HashEIP3009Authorization(auth EVMAuthorization, chainID *big.Int, tokenAddress common.Address, name, version string) ([32]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return [32]byte{}, fmt.Errorf("evm: invalid authorization value %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return [32]byte{}, fmt.Errorf("evm: invalid validAfter %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return [32]byte{}, fmt.Errorf("evm: invalid validBefore %q", auth.ValidBefore)
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: tokenAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        common.HexToAddress(auth.From).Hex(),
			"to":          common.HexToAddress(auth.To).Hex(),
			"value":       (*math.HexOrDecimal256)(value),
			"validAfter":  (*math.HexOrDecimal256)(validAfter),
			"validBefore": (*math.HexOrDecimal256)(validBefore),
			"nonce":       auth.Nonce,
		},
	}
	return hashTypedData(typedData)
}

// HashPermit2Authorization computes the EIP-712 digest for a
// PermitWitnessTransferFrom permit bound to this scheme's payment witness.
func HashPermit2Authorization(auth Permit2Authorization, chainID *big.Int) ([32]byte, error) {
	amount, ok := new(big.Int).SetString(auth.Permitted.Amount, 10)
	if !ok {
		return [32]byte{}, fmt.Errorf("evm: invalid permitted amount %q", auth.Permitted.Amount)
	}
	nonce, ok := new(big.Int).SetString(auth.Nonce, 10)
	if !ok {
		return [32]byte{}, fmt.Errorf("evm: invalid nonce %q", auth.Nonce)
	}
	deadline, ok := new(big.Int).SetString(auth.Deadline, 10)
	if !ok {
		return [32]byte{}, fmt.Errorf("evm: invalid deadline %q", auth.Deadline)
	}
	validAfter, ok := new(big.Int).SetString(auth.Witness.ValidAfter, 10)
	if !ok {
		return [32]byte{}, fmt.Errorf("evm: invalid witness validAfter %q", auth.Witness.ValidAfter)
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TokenPermissions": []apitypes.Type{
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
			},
			"PaymentWitness": []apitypes.Type{
				{Name: "to", Type: "address"},
				{Name: "validAfter", Type: "uint256"},
			},
			"PermitWitnessTransferFrom": []apitypes.Type{
				{Name: "permitted", Type: "TokenPermissions"},
				{Name: "spender", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "witness", Type: "PaymentWitness"},
			},
		},
		PrimaryType: "PermitWitnessTransferFrom",
		Domain: apitypes.TypedDataDomain{
			Name:              "Permit2",
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: Permit2Address,
		},
		Message: apitypes.TypedDataMessage{
			"permitted": map[string]interface{}{
				"token":  common.HexToAddress(auth.Permitted.Token).Hex(),
				"amount": (*math.HexOrDecimal256)(amount),
			},
			"spender":  common.HexToAddress(auth.Spender).Hex(),
			"nonce":    (*math.HexOrDecimal256)(nonce),
			"deadline": (*math.HexOrDecimal256)(deadline),
			"witness": map[string]interface{}{
				"to":         common.HexToAddress(auth.Witness.To).Hex(),
				"validAfter": (*math.HexOrDecimal256)(validAfter),
			},
		},
	}
	return hashTypedData(typedData)
}

// hashTypedData builds the final EIP-712 digest
// keccak256("\x19\x01" || domainSeparator || messageHash), the same
// construction signers/evm/eip3009.go's SignTransferAuthorization inlines.
func hashTypedData(typedData apitypes.TypedData) ([32]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return [32]byte{}, fmt.Errorf("evm: hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return [32]byte{}, fmt.Errorf("evm: hash message: %w", err)
	}
	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	var digest [32]byte
	copy(digest[:], crypto.Keccak256(rawData))
	return digest, nil
}
