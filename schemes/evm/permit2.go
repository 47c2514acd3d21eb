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

// permit2DeadlineBuffer gives the deadline a little slack past
// MaxTimeoutSeconds so a transaction landing a few seconds late still
// clears Permit2's own on-chain deadline check. Mirrors the facilitator
// reference's Permit2DeadlineBuffer check.
const permit2DeadlineBuffer = 6

// Permit2ClientScheme signs Permit2 PermitWitnessTransferFrom payloads
// bound to a payment witness, routed through ExactPermit2ProxyAddress
// rather than a direct EIP-3009 transferWithAuthorization call. Grounded
// on evm/signer.go's functional-options signer construction (same
// private-key/address shape) and the facilitator reference file's
// Permit2Authorization/Witness wire shape, reversed from the facilitator's
// verify side into the client's sign side.
type Permit2ClientScheme struct {
	privateKey     *ecdsa.PrivateKey
	address        common.Address
	networkPattern string
}

// NewPermit2ClientScheme builds a client scheme that signs with privateKey
// for any network matching networkPattern.
func NewPermit2ClientScheme(privateKeyHex, networkPattern string) (*Permit2ClientScheme, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("evm: invalid private key: %w", err)
	}
	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("evm: invalid private key")
	}
	return &Permit2ClientScheme{privateKey: key, address: crypto.PubkeyToAddress(*pub), networkPattern: networkPattern}, nil
}

// Address returns the signer's EVM address.
func (s *Permit2ClientScheme) Address() common.Address { return s.address }

func (s *Permit2ClientScheme) Network() string { return s.networkPattern }
func (s *Permit2ClientScheme) Scheme() string  { return SchemeExact }

// CreatePaymentPayload builds and signs a Permit2 permit whose witness
// binds it to requirements.PayTo, spendable only by
// ExactPermit2ProxyAddress.
func (s *Permit2ClientScheme) CreatePaymentPayload(ctx context.Context, x402Version int, requirements x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	if requirements.Scheme != SchemeExact {
		return nil, fmt.Errorf("evm: unsupported scheme %q", requirements.Scheme)
	}
	amount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("evm: invalid amount %q", requirements.Amount)
	}

	nonce, err := rand256()
	if err != nil {
		return nil, fmt.Errorf("evm: generate nonce: %w", err)
	}

	timeout := requirements.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = 300
	}
	now := time.Now().Unix()
	deadline := now + int64(timeout) + permit2DeadlineBuffer
	validAfter := now - int64(eip3009ClockSkew.Seconds())

	auth := Permit2Authorization{
		From:      s.address.Hex(),
		Permitted: TokenPermissions{Token: requirements.Asset, Amount: amount.String()},
		Spender:   ExactPermit2ProxyAddress,
		Nonce:     nonce.String(),
		Deadline:  big.NewInt(deadline).String(),
		Witness:   Permit2Witness{To: requirements.PayTo, ValidAfter: big.NewInt(validAfter).String()},
	}

	chainID, err := ChainID(requirements.Network)
	if err != nil {
		return nil, err
	}
	digest, err := HashPermit2Authorization(auth, chainID)
	if err != nil {
		return nil, err
	}
	signature, err := crypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("evm: sign authorization: %w", err)
	}
	signature[64] += 27

	wire := Permit2Payload{Signature: "0x" + hex.EncodeToString(signature), Authorization: auth}
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

// rand256 generates a random value suitable for a Permit2 nonce (Permit2
// treats nonces as an arbitrary uint256 bitmap index, not a strictly
// sequential counter, so a random 256-bit value is a valid, simple choice).
func rand256() (*big.Int, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b[:]), nil
}
