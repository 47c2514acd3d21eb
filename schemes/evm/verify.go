package evm

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// eip1271MagicValue is the 4-byte return value a contract's
// isValidSignature(bytes32,bytes) must produce to confirm a signature,
// per EIP-1271.
var eip1271MagicValue = common.FromHex("0x1626ba7e")

var eip1271Args = mustArguments(
	abi.Argument{Type: mustType("bytes32")},
	abi.Argument{Type: mustType("bytes")},
)

// eip1271Selector is keccak256("isValidSignature(bytes32,bytes)")[:4].
var eip1271Selector = crypto.Keccak256([]byte("isValidSignature(bytes32,bytes)"))[:4]

// RecoverSigner recovers the EOA address that produced a 65-byte
// (r,s,v) ECDSA signature over digest. v is expected in Ethereum's 27/28
// convention, matching signers/evm/eip3009.go's SignTransferAuthorization
// output.
func RecoverSigner(digest [32]byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("evm: signature must be 65 bytes, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("evm: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks signature against digest for expectedSigner,
// supporting a plain EOA signature, an already-deployed EIP-1271 smart
// contract wallet, or an ERC-6492-wrapped signature for an undeployed
// smart wallet. When it returns a non-nil *SmartWalletSignature the wallet
// still needs deployment before settlement can proceed; the caller (Settle)
// decides whether to deploy it.
func VerifySignature(ctx context.Context, backend ContractBackend, expectedSigner common.Address, digest [32]byte, signature []byte) (bool, *SmartWalletSignature, error) {
	if IsERC6492(signature) {
		wrapped, err := ParseERC6492Signature(signature)
		if err != nil {
			return false, nil, err
		}
		code, err := backend.CodeAt(ctx, expectedSigner, nil)
		if err != nil {
			return false, nil, fmt.Errorf("evm: check wallet deployment: %w", err)
		}
		if len(code) == 0 {
			// Not deployed yet; settlement will deploy it and re-check.
			return true, wrapped, nil
		}
		valid, err := verifyEIP1271(ctx, backend, expectedSigner, digest, wrapped.InnerSignature)
		return valid, nil, err
	}

	if recovered, err := RecoverSigner(digest, signature); err == nil && recovered == expectedSigner {
		return true, nil, nil
	}

	code, err := backend.CodeAt(ctx, expectedSigner, nil)
	if err != nil || len(code) == 0 {
		return false, nil, nil
	}
	valid, err := verifyEIP1271(ctx, backend, expectedSigner, digest, signature)
	return valid, nil, err
}

func verifyEIP1271(ctx context.Context, backend ContractBackend, wallet common.Address, digest [32]byte, signature []byte) (bool, error) {
	packedArgs, err := eip1271Args.Pack(digest, signature)
	if err != nil {
		return false, fmt.Errorf("evm: pack isValidSignature call: %w", err)
	}
	data := append(append([]byte{}, eip1271Selector...), packedArgs...)

	signer := &Signer{Backend: backend}
	out, err := signer.Call(ctx, wallet, data)
	if err != nil {
		return false, fmt.Errorf("evm: isValidSignature call: %w", err)
	}
	if len(out) < 4 {
		return false, nil
	}
	return bytes.Equal(out[:4], eip1271MagicValue), nil
}
