package svm

import (
	"context"
	"fmt"
	"math/big"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/x402-core/x402-go"
)

// defaultDecimals is used when requirements.Extra carries no "decimals"
// override; USDC (this scheme's only shipped token so far) always uses 6.
const defaultDecimals = 6

// ClientScheme signs a partially-signed SPL token transfer for the exact
// scheme: the payer signs as transfer authority, the facilitator named in
// requirements.Extra["feePayer"] signs as fee payer and submits. Grounded
// on the teacher's signers/svm/signer.go Sign method (ATA derivation,
// blockhash fetch, feePayer extraction from Extra) adapted to the
// x402.ClientScheme interface and a narrower RPCBackend in place of a
// concrete *rpc.Client.
type ClientScheme struct {
	privateKey     solana.PrivateKey
	publicKey      solana.PublicKey
	networkPattern string
	rpc            RPCBackend
}

// NewClientScheme builds a client scheme that signs with privateKeyBase58
// for any network matching networkPattern, fetching blockhashes from rpc.
func NewClientScheme(privateKeyBase58, networkPattern string, rpcBackend RPCBackend) (*ClientScheme, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("svm: invalid private key: %w", err)
	}
	return &ClientScheme{privateKey: key, publicKey: key.PublicKey(), networkPattern: networkPattern, rpc: rpcBackend}, nil
}

// Address returns the signer's base58 public key.
func (s *ClientScheme) Address() solana.PublicKey { return s.publicKey }

func (s *ClientScheme) Network() string { return s.networkPattern }
func (s *ClientScheme) Scheme() string  { return SchemeExact }

// CreatePaymentPayload builds the compute-budget + TransferChecked
// transaction, fetches a recent blockhash, signs as transfer authority, and
// leaves the fee-payer signature slot for the facilitator to fill in.
func (s *ClientScheme) CreatePaymentPayload(ctx context.Context, x402Version int, requirements x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	if requirements.Scheme != SchemeExact {
		return nil, fmt.Errorf("svm: unsupported scheme %q", requirements.Scheme)
	}

	feePayerStr, ok := feePayerFromRequirements(requirements)
	if !ok {
		return nil, fmt.Errorf("svm: requirements.extra missing feePayer")
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return nil, fmt.Errorf("svm: invalid fee payer address: %w", err)
	}

	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return nil, fmt.Errorf("svm: invalid mint address: %w", err)
	}
	recipient, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, fmt.Errorf("svm: invalid recipient address: %w", err)
	}

	amount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok || !amount.IsUint64() {
		return nil, fmt.Errorf("svm: invalid amount %q", requirements.Amount)
	}

	decimals := uint8(defaultDecimals)
	if raw, ok := requirements.Extra["decimals"]; ok {
		if f, ok := raw.(float64); ok {
			decimals = uint8(f)
		}
	}

	recent, err := s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("svm: fetch blockhash: %w", err)
	}

	tx, err := buildTransfer(s.publicKey, recipient, mint, feePayer, amount.Uint64(), decimals, recent.Value.Blockhash)
	if err != nil {
		return nil, fmt.Errorf("svm: build transfer: %w", err)
	}

	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.publicKey) {
			return &s.privateKey
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("svm: sign transaction: %w", err)
	}

	txBase64, err := encodeTransaction(tx)
	if err != nil {
		return nil, err
	}

	raw, err := encodePayload(Payload{Transaction: txBase64})
	if err != nil {
		return nil, err
	}

	return &x402.PaymentPayload{
		X402Version: x402Version,
		Accepted:    requirements,
		Payload:     raw,
	}, nil
}
