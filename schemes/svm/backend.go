package svm

import (
	"context"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// DefaultCommitment is the confirmation level this package simulates,
// signs, and polls at. Grounded on the facilitator reference's
// svm.DefaultCommitment.
const DefaultCommitment = rpc.CommitmentConfirmed

// MaxConfirmAttempts and ConfirmRetryDelay bound Settle's confirmation
// poll, mirroring the facilitator reference's confirmTransactionWithRetry.
const (
	MaxConfirmAttempts = 30
	ConfirmRetryDelay  = 2 * time.Second
)

// RPCBackend narrows *rpc.Client to the calls a facilitator needs to
// simulate, submit, and confirm a transaction, and a client needs to fetch
// a recent blockhash. Satisfied directly by *rpc.Client in production;
// faked in tests. Grounded on the exact rpc.Client method set the
// t402-io-t402-site integration test and the regent-ai facilitator
// reference call: GetLatestBlockhash, SimulateTransactionWithOpts,
// SendTransactionWithOpts, GetSignatureStatuses, GetTransaction.
type RPCBackend interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// FeePayerSigner wraps the facilitator's fee-payer keypair and the RPC
// backend used to simulate, submit, and confirm the transactions it signs.
type FeePayerSigner struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	rpc        RPCBackend
}

// NewFeePayerSigner builds a FeePayerSigner from a base58 private key and
// an RPCBackend (typically an *rpc.Client).
func NewFeePayerSigner(privateKeyBase58 string, backend RPCBackend) (*FeePayerSigner, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, err
	}
	return &FeePayerSigner{privateKey: key, publicKey: key.PublicKey(), rpc: backend}, nil
}

// Address returns the fee payer's base58 public key.
func (s *FeePayerSigner) Address() solana.PublicKey { return s.publicKey }

// SignAsFeePayer adds s's signature at the account-key slot tx.Message
// assigns it, alongside the payer's existing partial signature. Grounded
// on the integration test's realFacilitatorSvmSigner.SignTransaction:
// facilitator and client sign the same message independently, each
// writing into their own slot in tx.Signatures.
func (s *FeePayerSigner) SignAsFeePayer(tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return err
	}
	signature, err := s.privateKey.Sign(messageBytes)
	if err != nil {
		return err
	}
	accountIndex, err := tx.GetAccountIndex(s.publicKey)
	if err != nil {
		return err
	}
	if len(tx.Signatures) <= int(accountIndex) {
		padded := make([]solana.Signature, accountIndex+1)
		copy(padded, tx.Signatures)
		tx.Signatures = padded
	}
	tx.Signatures[accountIndex] = signature
	return nil
}

// Simulate runs a signature-verifying dry run of tx against the current
// chain state, the step that actually proves a transfer will succeed
// (catches insufficient balance, missing ATAs, and similar failures a
// structural check alone cannot see).
func (s *FeePayerSigner) Simulate(ctx context.Context, tx *solana.Transaction) error {
	opts := rpc.SimulateTransactionOpts{
		SigVerify:              true,
		ReplaceRecentBlockhash: false,
		Commitment:             DefaultCommitment,
	}
	result, err := s.rpc.SimulateTransactionWithOpts(ctx, tx, &opts)
	if err != nil {
		return err
	}
	if result != nil && result.Value != nil && result.Value.Err != nil {
		return &simulationError{result.Value.Err}
	}
	return nil
}

type simulationError struct{ cause any }

func (e *simulationError) Error() string { return "transaction would fail on-chain" }

// Submit signs tx as fee payer and sends it, skipping preflight since
// Verify already simulated it.
func (s *FeePayerSigner) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := s.SignAsFeePayer(tx); err != nil {
		return solana.Signature{}, err
	}
	return s.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: DefaultCommitment,
	})
}

// Confirm polls signature status until it lands confirmed/finalized,
// fails on-chain, or MaxConfirmAttempts is exhausted. Grounded on the
// facilitator reference's confirmTransactionWithRetry: getSignatureStatuses
// first, falling back to getTransaction only when that call itself errors.
func (s *FeePayerSigner) Confirm(ctx context.Context, sig solana.Signature) error {
	for attempt := 0; attempt < MaxConfirmAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		statuses, err := s.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && statuses != nil && statuses.Value != nil && len(statuses.Value) > 0 {
			if status := statuses.Value[0]; status != nil {
				if status.Err != nil {
					return &onChainFailure{}
				}
				if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
					return nil
				}
			}
		} else if err != nil {
			txResult, txErr := s.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
				Encoding:   solana.EncodingBase58,
				Commitment: DefaultCommitment,
			})
			if txErr == nil && txResult != nil && txResult.Meta != nil {
				if txResult.Meta.Err != nil {
					return &onChainFailure{}
				}
				return nil
			}
		}

		time.Sleep(ConfirmRetryDelay)
	}
	return &confirmTimeout{}
}

type onChainFailure struct{}

func (e *onChainFailure) Error() string { return "transaction failed on-chain" }

type confirmTimeout struct{}

func (e *confirmTimeout) Error() string { return "transaction confirmation timed out" }
