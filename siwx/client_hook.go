package siwx

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/ed25519"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402-core/x402-go/client"

	x402 "github.com/x402-core/x402-go"
)

// Signer produces a sign-in signature for one network family. EVMSigner and
// SolanaSigner are the two reference implementations; any type satisfying
// this can plug a different key-management scheme (KMS, hardware wallet) in.
type Signer interface {
	// Type names the CAIP-2 namespace this signer signs for.
	Type() x402.NetworkType
	// Address is the CAIP-2 account identifier (an EVM hex address or a
	// Solana base58 public key) the server will see as message.Address.
	Address() string
	// Sign signs the raw UTF-8 message bytes per the signer's network
	// convention (EIP-191 personal_sign for EVM, raw Ed25519 for Solana).
	Sign(message string) ([]byte, error)
}

// EVMSigner signs sign-in challenges with an EVM EOA private key.
type EVMSigner struct {
	key *ecdsa.PrivateKey
}

// NewEVMSigner builds an EVMSigner from a 32-byte secp256k1 private key.
func NewEVMSigner(privateKeyHex string) (*EVMSigner, error) {
	key, err := crypto.HexToECDSA(stripHexPrefix(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("siwx: parse evm private key: %w", err)
	}
	return &EVMSigner{key: key}, nil
}

func (s *EVMSigner) Type() x402.NetworkType { return x402.NetworkTypeEVM }

func (s *EVMSigner) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// Sign produces a 65-byte (r,s,v) signature over the EIP-191 personal_sign
// digest, v in Ethereum's 27/28 convention.
func (s *EVMSigner) Sign(message string) ([]byte, error) {
	digest := personalSignDigest(message)
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SolanaSigner signs sign-in challenges with a Solana Ed25519 keypair.
type SolanaSigner struct {
	key solana.PrivateKey
}

// NewSolanaSigner builds a SolanaSigner from a base58-encoded keypair.
func NewSolanaSigner(privateKeyBase58 string) (*SolanaSigner, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("siwx: parse solana private key: %w", err)
	}
	return &SolanaSigner{key: key}, nil
}

func (s *SolanaSigner) Type() x402.NetworkType { return x402.NetworkTypeSVM }
func (s *SolanaSigner) Address() string        { return s.key.PublicKey().String() }

func (s *SolanaSigner) Sign(message string) ([]byte, error) {
	return ed25519.Sign(ed25519.PrivateKey(s.key), []byte(message)), nil
}

// ClientHook builds a client.OnPaymentRequiredHook that attempts a free
// re-authentication before falling back to payment: it reads the
// "sign-in-with-x" declaration off the 402, picks the first accepted
// requirement whose network matches signer's type, builds and signs the
// corresponding Message, and attaches it as request headers for one retry.
// If the retry still comes back 402 (no prior payment on file, or the
// session lapsed), Transport.RoundTrip falls through to the normal payment
// flow automatically.
func ClientHook(signer Signer) client.OnPaymentRequiredHook {
	return func(ctx context.Context, req *http.Request, required *x402.PaymentRequired) (http.Header, bool, error) {
		raw, ok := required.Extensions[ExtensionName]
		if !ok {
			return nil, false, nil
		}
		var decl Declaration
		if err := json.Unmarshal(raw, &decl); err != nil {
			return nil, false, nil
		}

		network, ok := pickNetwork(required.Accepts, signer.Type())
		if !ok {
			return nil, false, nil
		}

		issuedAt, err := time.Parse(time.RFC3339, decl.IssuedAt)
		if err != nil {
			return nil, false, fmt.Errorf("siwx: parse issuedAt: %w", err)
		}
		expirationTime, err := time.Parse(time.RFC3339, decl.ExpirationTime)
		if err != nil {
			return nil, false, fmt.Errorf("siwx: parse expirationTime: %w", err)
		}

		message := Message{
			Domain:         decl.Domain,
			Address:        signer.Address(),
			Namespace:      network.Namespace(),
			ChainReference: network.Reference(),
			Statement:      decl.Statement,
			URI:            decl.URI,
			Version:        decl.Version,
			Nonce:          decl.Nonce,
			IssuedAt:       issuedAt,
			ExpirationTime: expirationTime,
			RequestID:      decl.RequestID,
			Resources:      decl.Resources,
		}
		text := message.Build()

		signature, err := signer.Sign(text)
		if err != nil {
			return nil, false, fmt.Errorf("siwx: sign message: %w", err)
		}

		headers := http.Header{}
		headers.Set(HeaderMessage, base64.StdEncoding.EncodeToString([]byte(text)))
		headers.Set(HeaderSignature, hex.EncodeToString(signature))
		headers.Set(HeaderNetwork, string(network))
		return headers, true, nil
	}
}

// pickNetwork returns the network of the first accepted requirement whose
// namespace matches networkType.
func pickNetwork(accepts []x402.PaymentRequirements, networkType x402.NetworkType) (x402.Network, bool) {
	for _, req := range accepts {
		if req.Network.Type() == networkType {
			return req.Network, true
		}
	}
	return "", false
}

func stripHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
