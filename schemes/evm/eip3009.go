package evm

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/x402-core/x402-go"
)

// eip3009ClockSkew is subtracted from validAfter so a signed authorization
// isn't rejected when the signer's clock runs slightly ahead of the
// facilitator's. Grounded on signers/evm/eip3009.go's
// CreateEIP3009Authorization comment.
const eip3009ClockSkew = 10 * time.Second

// EIP3009ClientScheme signs EIP-3009 transferWithAuthorization payloads for
// a single network pattern. Grounded on evm/signer.go's functional-options
// Signer and signers/evm/eip3009.go's authorization construction, adapted
// to the x402.ClientScheme interface: network/chain/token now come from the
// requirement being satisfied instead of signer-local configuration.
type EIP3009ClientScheme struct {
	privateKey     *ecdsa.PrivateKey
	address        common.Address
	networkPattern string
}

// NewEIP3009ClientScheme builds a client scheme that signs with privateKey
// for any network matching networkPattern (e.g. "eip155:*" or an exact
// "eip155:8453").
func NewEIP3009ClientScheme(privateKeyHex, networkPattern string) (*EIP3009ClientScheme, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("evm: invalid private key: %w", err)
	}
	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("evm: invalid private key")
	}
	return &EIP3009ClientScheme{privateKey: key, address: crypto.PubkeyToAddress(*pub), networkPattern: networkPattern}, nil
}

// Address returns the signer's EVM address.
func (s *EIP3009ClientScheme) Address() common.Address { return s.address }

func (s *EIP3009ClientScheme) Network() string { return s.networkPattern }
func (s *EIP3009ClientScheme) Scheme() string  { return SchemeExact }

// CreatePaymentPayload builds and signs an EIP-3009 authorization
// satisfying requirements.
func (s *EIP3009ClientScheme) CreatePaymentPayload(ctx context.Context, x402Version int, requirements x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	if requirements.Scheme != SchemeExact {
		return nil, fmt.Errorf("evm: unsupported scheme %q", requirements.Scheme)
	}
	amount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("evm: invalid amount %q", requirements.Amount)
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("evm: generate nonce: %w", err)
	}

	now := time.Now().Unix()
	validAfter := now - int64(eip3009ClockSkew.Seconds())
	timeout := requirements.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = 300
	}
	validBefore := now + int64(timeout)

	auth := EVMAuthorization{
		From:        s.address.Hex(),
		To:          requirements.PayTo,
		Value:       amount.String(),
		ValidAfter:  big.NewInt(validAfter).String(),
		ValidBefore: big.NewInt(validBefore).String(),
		Nonce:       "0x" + hex.EncodeToString(nonce[:]),
	}

	chainID, err := ChainID(requirements.Network)
	if err != nil {
		return nil, err
	}
	name, version := eip3009Domain(requirements)

	digest, err := HashEIP3009Authorization(auth, chainID, common.HexToAddress(requirements.Asset), name, version)
	if err != nil {
		return nil, err
	}
	signature, err := crypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("evm: sign authorization: %w", err)
	}
	signature[64] += 27

	wire := ExactEVMPayload{Signature: "0x" + hex.EncodeToString(signature), Authorization: auth}
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("evm: marshal payload: %w", err)
	}

	return &x402.PaymentPayload{
		X402Version: x402Version,
		Accepted:    requirements,
		Payload:     raw,
	}, nil
}

func eip3009Domain(requirements x402.PaymentRequirements) (name, version string) {
	if requirements.Extra != nil {
		if n, ok := requirements.Extra["name"].(string); ok {
			name = n
		}
		if v, ok := requirements.Extra["version"].(string); ok {
			version = v
		}
	}
	if version == "" {
		version = "2"
	}
	return name, version
}

func generateNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, err
	}
	return nonce, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
