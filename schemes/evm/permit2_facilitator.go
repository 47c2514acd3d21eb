package evm

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/x402-core/x402-go"
)

// Permit2FacilitatorScheme verifies and settles Permit2 witness-bound
// permits via ExactPermit2ProxyAddress. Grounded on
// other_examples/05186368_coinbase-x402__go-mechanisms-evm-exact-facilitator-permit2.go.go's
// VerifyPermit2/SettlePermit2 validation sequence and error taxonomy, minus
// its EIP-2612/ERC-20 gas-sponsoring fallback paths (dropped: no
// SPEC_FULL.md component calls for gas sponsoring, so this scheme requires
// the payer to already hold a sufficient Permit2 allowance rather than
// sponsoring one).
type Permit2FacilitatorScheme struct {
	signer         *Signer
	networkPattern string
}

// NewPermit2FacilitatorScheme builds a facilitator scheme that settles with
// signer for any network matching networkPattern.
func NewPermit2FacilitatorScheme(signer *Signer, networkPattern string) *Permit2FacilitatorScheme {
	return &Permit2FacilitatorScheme{signer: signer, networkPattern: networkPattern}
}

func (f *Permit2FacilitatorScheme) Network() string { return f.networkPattern }
func (f *Permit2FacilitatorScheme) Scheme() string  { return SchemeExact }

// EnhanceRequirements is a no-op for Permit2: unlike EIP-3009, the permit's
// domain is the fixed canonical Permit2 contract, not the target token, so
// there is no per-asset EIP-712 metadata to fill in.
func (f *Permit2FacilitatorScheme) EnhanceRequirements(base x402.PaymentRequirements, supported x402.SupportedKind) (x402.PaymentRequirements, error) {
	return base, nil
}

// Verify validates a submitted Permit2 payload: spender pins to the proxy,
// witness.to pins to payTo, the deadline/validAfter window, amount/token
// match, the EIP-712 signature, and an on-chain allowance + balance check.
func (f *Permit2FacilitatorScheme) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	if payload.Accepted.Scheme != SchemeExact {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrUnsupportedScheme, "payload scheme is not exact", nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrNetworkMismatch, "accepted network does not match requirements", nil)
	}

	wire, err := decodePermit2Payload(payload.Payload)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidPermit2Signature, err.Error(), nil)
	}
	auth := wire.Authorization
	payer := auth.From

	if !strings.EqualFold(auth.Spender, ExactPermit2ProxyAddress) {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidPermit2Spender, "spender is not the settlement proxy", nil).WithDetails("payer", payer)
	}
	if !strings.EqualFold(auth.Witness.To, requirements.PayTo) {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidPermit2RecipientMismatch, "witness.to does not match payTo", nil).WithDetails("payer", payer)
	}
	if !strings.EqualFold(auth.Permitted.Token, requirements.Asset) {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrPermit2TokenMismatch, "permitted token does not match asset", nil).WithDetails("payer", payer)
	}

	now := time.Now().Unix()
	deadline, ok := new(big.Int).SetString(auth.Deadline, 10)
	if !ok || deadline.Int64() < now+permit2DeadlineBuffer {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrPermit2DeadlineExpired, "deadline expired", nil).WithDetails("payer", payer)
	}
	validAfter, ok := new(big.Int).SetString(auth.Witness.ValidAfter, 10)
	if !ok || validAfter.Int64() > now {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidEVMValidAfter, "witness not yet valid", nil).WithDetails("payer", payer)
	}

	authAmount, ok := new(big.Int).SetString(auth.Permitted.Amount, 10)
	if !ok {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrPermit2InsufficientAmount, "invalid permitted amount", nil).WithDetails("payer", payer)
	}
	requiredAmount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrPermit2InsufficientAmount, "invalid required amount", nil)
	}
	if authAmount.Cmp(requiredAmount) < 0 {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrPermit2InsufficientAmount, "permitted amount below required amount", nil).WithDetails("payer", payer)
	}

	chainID, err := ChainID(requirements.Network)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrNetworkMismatch, err.Error(), nil)
	}
	digest, err := HashPermit2Authorization(auth, chainID)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidPermit2Signature, err.Error(), nil)
	}
	signatureBytes, err := hexToBytes(wire.Signature)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidPermit2Signature, err.Error(), nil)
	}
	valid, _, err := VerifySignature(ctx, f.signer.Backend, common.HexToAddress(payer), digest, signatureBytes)
	if err != nil || !valid {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidPermit2Signature, "signature does not match authorization.from", nil).WithDetails("payer", payer)
	}

	tokenAddr := common.HexToAddress(requirements.Asset)
	payerAddr := common.HexToAddress(payer)
	allowance, err := f.allowance(ctx, tokenAddr, payerAddr)
	if err == nil && allowance.Cmp(requiredAmount) < 0 {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrPermit2AllowanceRequired, "payer has not approved Permit2 for this token", nil).WithDetails("payer", payer)
	}
	balance, err := f.balanceOf(ctx, tokenAddr, payerAddr)
	if err == nil && balance.Cmp(requiredAmount) < 0 {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInsufficientFunds, "payer balance below required amount", nil).WithDetails("payer", payer)
	}

	return x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle re-verifies payload and calls ExactPermit2ProxyAddress.settle to
// pull the permitted amount to requirements.PayTo.
func (f *Permit2FacilitatorScheme) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return x402.SettleResponse{}, err
	}

	wire, err := decodePermit2Payload(payload.Payload)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrInvalidPermit2Signature, err.Error(), nil)
	}

	signatureBytes, err := hexToBytes(wire.Signature)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrInvalidPermit2Signature, err.Error(), nil)
	}

	data, err := packPermit2Settle(wire.Authorization, signatureBytes)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrInvalidTransactionState, err.Error(), nil)
	}

	chainID, err := ChainID(requirements.Network)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrNetworkMismatch, err.Error(), nil)
	}

	txHash, err := f.signer.SendCall(ctx, chainID, common.HexToAddress(ExactPermit2ProxyAddress), data)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrTransactionFailed, err.Error(), nil).WithDetails("payer", verifyResp.Payer)
	}
	receipt, err := f.signer.WaitForReceipt(ctx, txHash)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrTransactionFailed, err.Error(), nil).WithDetails("payer", verifyResp.Payer)
	}
	if receipt.Status != 1 {
		return x402.SettleResponse{}, x402.NewError(x402.ErrTransactionFailed, "transaction reverted", nil).WithDetails("payer", verifyResp.Payer)
	}

	return x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     requirements.Network,
		Payer:       verifyResp.Payer,
	}, nil
}

func (f *Permit2FacilitatorScheme) allowance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := packAllowance(owner, common.HexToAddress(Permit2Address))
	if err != nil {
		return nil, err
	}
	out, err := f.signer.Call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return unpackUint256(erc20ABI, "allowance", out)
}

func (f *Permit2FacilitatorScheme) balanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := packBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	out, err := f.signer.Call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return unpackUint256(erc20ABI, "balanceOf", out)
}
