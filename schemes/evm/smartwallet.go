package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc6492Magic is the fixed 32-byte suffix ERC-6492 appends to a wrapped
// signature so verifiers can detect the counterfactual-deployment envelope
// without first knowing the signer is a smart wallet.
var erc6492Magic = common.FromHex("0x6492649264926492649264926492649264926492649264926492649264926492")

// SmartWalletSignature is an unwrapped ERC-6492 signature: the factory and
// calldata needed to counterfactually deploy the signer's smart-wallet
// contract, plus the inner signature to verify against the deployed wallet.
type SmartWalletSignature struct {
	Factory         common.Address
	FactoryCalldata []byte
	InnerSignature  []byte
}

var erc6492Args = mustArguments(
	abi.Argument{Type: mustType("address")},
	abi.Argument{Type: mustType("bytes")},
	abi.Argument{Type: mustType("bytes")},
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func mustArguments(args ...abi.Argument) abi.Arguments {
	return abi.Arguments(args)
}

// IsERC6492 reports whether signature carries the ERC-6492 magic suffix.
func IsERC6492(signature []byte) bool {
	if len(signature) < len(erc6492Magic) {
		return false
	}
	suffix := signature[len(signature)-len(erc6492Magic):]
	return string(suffix) == string(erc6492Magic)
}

// ParseERC6492Signature unwraps an ERC-6492 envelope. Grounded on the
// exact-scheme facilitator reference's ParseERC6492Signature /
// ERC6492SignatureData handling of the undeployed-smart-wallet settle path.
func ParseERC6492Signature(signature []byte) (*SmartWalletSignature, error) {
	if !IsERC6492(signature) {
		return nil, fmt.Errorf("evm: signature does not carry the ERC-6492 magic suffix")
	}
	body := signature[:len(signature)-len(erc6492Magic)]

	values, err := erc6492Args.Unpack(body)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack ERC-6492 envelope: %w", err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("evm: unexpected ERC-6492 envelope arity %d", len(values))
	}
	factory, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("evm: unexpected ERC-6492 factory type %T", values[0])
	}
	factoryCalldata, ok := values[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("evm: unexpected ERC-6492 factoryCalldata type %T", values[1])
	}
	inner, ok := values[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("evm: unexpected ERC-6492 inner signature type %T", values[2])
	}

	return &SmartWalletSignature{Factory: factory, FactoryCalldata: factoryCalldata, InnerSignature: inner}, nil
}
