package svm

import (
	"context"
	"math/big"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/x402-core/x402-go"
)

// FacilitatorScheme verifies and settles exact-scheme SVM payloads: it
// checks the transaction's shape and transfer details against requirements,
// simulates it fee-payer-signed to prove it will actually succeed on
// chain, then (on Settle) submits and confirms it. Grounded on
// other_examples/5a6aa2ff_regent-ai-monorepo__facilitator-vendor-x402-go-mechanisms-svm-exact-facilitator-scheme.go.go's
// ExactSvmScheme.Verify/Settle, adapted to FeePayerSigner/RPCBackend in
// place of its richer FacilitatorSvmSigner (no per-network RPC client
// cache: this scheme backend serves a single networkPattern).
type FacilitatorScheme struct {
	feePayer       *FeePayerSigner
	networkPattern string
}

// NewFacilitatorScheme builds a facilitator scheme that fee-pays and
// submits with feePayer for any network matching networkPattern.
func NewFacilitatorScheme(feePayer *FeePayerSigner, networkPattern string) *FacilitatorScheme {
	return &FacilitatorScheme{feePayer: feePayer, networkPattern: networkPattern}
}

func (f *FacilitatorScheme) Network() string { return f.networkPattern }
func (f *FacilitatorScheme) Scheme() string  { return SchemeExact }

// EnhanceRequirements advertises this facilitator's fee-payer address, the
// one piece of scheme-specific data a client needs before it can build a
// payload (it must name the facilitator as fee payer in the transaction it
// signs). Grounded on the facilitator reference's GetExtra.
func (f *FacilitatorScheme) EnhanceRequirements(base x402.PaymentRequirements, supported x402.SupportedKind) (x402.PaymentRequirements, error) {
	extra := make(map[string]any, len(base.Extra)+1)
	for k, v := range base.Extra {
		extra[k] = v
	}
	extra["feePayer"] = f.feePayer.Address().String()
	base.Extra = extra
	return base, nil
}

// Verify decodes the submitted transaction, checks its instruction shape
// and transfer details against requirements, then simulates it
// fee-payer-signed to prove it will succeed on chain.
func (f *FacilitatorScheme) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	if payload.Accepted.Scheme != SchemeExact {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrUnsupportedScheme, "payload scheme is not exact", nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrNetworkMismatch, "accepted network does not match requirements", nil)
	}

	feePayerStr, ok := feePayerFromRequirements(requirements)
	if !ok {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidSVMMissingFeePayer, "requirements missing feePayer", nil)
	}

	wire, err := decodePayload(payload.Payload)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidSVMTransaction, err.Error(), nil)
	}
	tx, err := decodeTransaction(wire.Transaction)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidSVMTransaction, err.Error(), nil)
	}

	details, err := verifyInstructions(tx)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidSVMInstructions, err.Error(), nil)
	}
	payer := details.authority.String()

	if details.authority.String() == feePayerStr {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidSVMFeePayerIsPayer, "fee payer cannot be the transfer authority", nil).WithDetails("payer", payer)
	}
	if details.mint.String() != requirements.Asset {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidSVMMintMismatch, "mint does not match asset", nil).WithDetails("payer", payer)
	}

	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidSVMRecipientMismatch, "invalid payTo address", nil).WithDetails("payer", payer)
	}
	expectedDest, _, err := solana.FindAssociatedTokenAddress(payTo, details.mint)
	if err != nil || details.destination.String() != expectedDest.String() {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidSVMRecipientMismatch, "destination token account does not match payTo", nil).WithDetails("payer", payer)
	}

	requiredAmount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok || !requiredAmount.IsUint64() || details.amount < requiredAmount.Uint64() {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInsufficientFunds, "transfer amount below required amount", nil).WithDetails("payer", payer)
	}

	if err := f.feePayer.SignAsFeePayer(tx); err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidSVMTransaction, err.Error(), nil).WithDetails("payer", payer)
	}
	if err := f.feePayer.Simulate(ctx, tx); err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrSVMSimulationFailed, err.Error(), nil).WithDetails("payer", payer)
	}

	return x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle re-verifies payload, then signs it as fee payer, submits it, and
// waits for on-chain confirmation.
func (f *FacilitatorScheme) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return x402.SettleResponse{}, err
	}

	wire, err := decodePayload(payload.Payload)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrInvalidSVMTransaction, err.Error(), nil)
	}
	tx, err := decodeTransaction(wire.Transaction)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrInvalidSVMTransaction, err.Error(), nil)
	}

	sig, err := f.feePayer.Submit(ctx, tx)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrTransactionFailed, err.Error(), nil).WithDetails("payer", verifyResp.Payer)
	}
	if err := f.feePayer.Confirm(ctx, sig); err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrSVMConfirmationTimedOut, err.Error(), nil).WithDetails("payer", verifyResp.Payer)
	}

	return x402.SettleResponse{
		Success:     true,
		Transaction: sig.String(),
		Network:     requirements.Network,
		Payer:       verifyResp.Payer,
	}, nil
}
