package siwx

import (
	"fmt"
	"strconv"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/ed25519"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402-core/x402-go/schemes/evm"

	x402 "github.com/x402-core/x402-go"
)

// verifySignature checks that signature over message was produced by the
// private key behind address, per the signing convention of networkType.
// EVM uses personal_sign (EIP-191); Solana signs the raw UTF-8 message
// bytes with Ed25519, per spec §6.
func verifySignature(networkType x402.NetworkType, address, message string, signature []byte) (bool, error) {
	switch networkType {
	case x402.NetworkTypeEVM:
		digest := personalSignDigest(message)
		recovered, err := evm.RecoverSigner(digest, signature)
		if err != nil {
			return false, err
		}
		return strings.EqualFold(recovered.Hex(), common.HexToAddress(address).Hex()), nil

	case x402.NetworkTypeSVM:
		pub, err := solana.PublicKeyFromBase58(address)
		if err != nil {
			return false, fmt.Errorf("siwx: decode solana address: %w", err)
		}
		return ed25519.Verify(ed25519.PublicKey(pub[:]), []byte(message), signature), nil

	default:
		return false, fmt.Errorf("siwx: unsupported network type %s", networkType)
	}
}

// personalSignDigest computes the EIP-191 "\x19Ethereum Signed Message:\n"
// digest wallets produce for personal_sign, the convention SIWE (and this
// extension, for eip155 networks) signs over.
func personalSignDigest(message string) [32]byte {
	prefixed := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message)) + message
	return crypto.Keccak256Hash([]byte(prefixed))
}
