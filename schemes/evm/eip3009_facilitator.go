package evm

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/x402-core/x402-go"
)

// settleBuffer mirrors the facilitator reference files' deadline-buffer
// check: a payment is rejected as stale slightly before validBefore
// actually elapses, so a transaction that lands a few seconds late still
// clears the chain's own timestamp check.
const settleBuffer = 6 * time.Second

// EIP3009FacilitatorScheme verifies and settles EIP-3009
// transferWithAuthorization payloads on a single network pattern. Grounded
// on the exact-scheme facilitator reference (ExactEvmScheme.Verify/Settle)
// for the validation sequence and error taxonomy, and on
// signers/evm/eip3009.go for the digest this package recomputes instead of
// trusting the client's claimed hash.
type EIP3009FacilitatorScheme struct {
	signer         *Signer
	networkPattern string
	deployWallets  bool
}

// NewEIP3009FacilitatorScheme builds a facilitator scheme that settles with
// signer for any network matching networkPattern. deployWallets enables
// on-demand ERC-6492 smart-wallet deployment during settlement; when false,
// an undeployed wallet fails settlement with ErrInvalidEVMUndeployedWallet.
func NewEIP3009FacilitatorScheme(signer *Signer, networkPattern string, deployWallets bool) *EIP3009FacilitatorScheme {
	return &EIP3009FacilitatorScheme{signer: signer, networkPattern: networkPattern, deployWallets: deployWallets}
}

func (f *EIP3009FacilitatorScheme) Network() string { return f.networkPattern }
func (f *EIP3009FacilitatorScheme) Scheme() string  { return SchemeExact }

// EnhanceRequirements fills the EIP-712 domain name/version into Extra when
// the caller hasn't already set them, from what the facilitator advertises
// for this asset via supported.Extra.
func (f *EIP3009FacilitatorScheme) EnhanceRequirements(base x402.PaymentRequirements, supported x402.SupportedKind) (x402.PaymentRequirements, error) {
	if base.Extra == nil {
		base.Extra = map[string]any{}
	}
	for _, key := range []string{"name", "version"} {
		if _, ok := base.Extra[key]; ok {
			continue
		}
		if v, ok := supported.Extra[key]; ok {
			base.Extra[key] = v
		}
	}
	return base, nil
}

// Verify validates a submitted EIP-3009 payload against requirements: the
// recipient, amount, validity window, and EIP-712 signature, plus an
// on-chain balance check. It does not check or consume the nonce via
// authorizationState, since a concurrent settle race is out of this
// package's scope (the nonce is checked again by the token contract itself
// at settlement).
func (f *EIP3009FacilitatorScheme) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	if payload.Accepted.Scheme != SchemeExact {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrUnsupportedScheme, "payload scheme is not exact", nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrNetworkMismatch, "accepted network does not match requirements", nil)
	}

	wire, err := decodeExactEVMPayload(payload.Payload)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidEVMSignature, err.Error(), nil)
	}
	auth := wire.Authorization

	if !strings.EqualFold(auth.To, requirements.PayTo) {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidEVMRecipientMismatch, "authorization.to does not match payTo", nil).WithDetails("payer", auth.From)
	}

	authValue, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidEVMSignature, "invalid authorization value", nil)
	}
	requiredValue, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidEVMSignature, "invalid required amount", nil)
	}
	if authValue.Cmp(requiredValue) < 0 {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInsufficientFunds, "authorization value below required amount", nil).WithDetails("payer", auth.From)
	}

	now := time.Now().Unix()
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok || validBefore.Int64() < now+int64(settleBuffer.Seconds()) {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidEVMValidBefore, "authorization expired or expiring too soon", nil).WithDetails("payer", auth.From)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok || validAfter.Int64() > now {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidEVMValidAfter, "authorization not yet valid", nil).WithDetails("payer", auth.From)
	}

	chainID, err := ChainID(requirements.Network)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrNetworkMismatch, err.Error(), nil)
	}
	name, version := eip3009Domain(requirements)
	digest, err := HashEIP3009Authorization(auth, chainID, common.HexToAddress(requirements.Asset), name, version)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidEVMSignature, err.Error(), nil)
	}

	signatureBytes, err := hexToBytes(wire.Signature)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidEVMSignature, err.Error(), nil)
	}

	valid, undeployed, err := VerifySignature(ctx, f.signer.Backend, common.HexToAddress(auth.From), digest, signatureBytes)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidEVMSignature, err.Error(), nil).WithDetails("payer", auth.From)
	}
	if !valid {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidEVMSignature, "signature does not match authorization.from", nil).WithDetails("payer", auth.From)
	}
	if undeployed != nil && !f.deployWallets {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInvalidEVMUndeployedWallet, "smart wallet is not deployed", nil).WithDetails("payer", auth.From)
	}

	balance, err := f.balanceOf(ctx, common.HexToAddress(requirements.Asset), common.HexToAddress(auth.From))
	if err == nil && balance.Cmp(requiredValue) < 0 {
		return x402.VerifyResponse{}, x402.NewError(x402.ErrInsufficientFunds, "payer balance below required amount", nil).WithDetails("payer", auth.From)
	}

	return x402.VerifyResponse{IsValid: true, Payer: auth.From}, nil
}

// Settle re-verifies payload, deploys the payer's smart wallet first if
// verification reported an undeployed ERC-6492 wallet and deployment is
// enabled, then submits transferWithAuthorization and waits for its
// receipt.
func (f *EIP3009FacilitatorScheme) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return x402.SettleResponse{}, err
	}

	wire, err := decodeExactEVMPayload(payload.Payload)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrInvalidEVMSignature, err.Error(), nil)
	}
	auth := wire.Authorization

	chainID, err := ChainID(requirements.Network)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrNetworkMismatch, err.Error(), nil)
	}

	signatureBytes, err := hexToBytes(wire.Signature)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrInvalidEVMSignature, err.Error(), nil)
	}

	finalSignature := signatureBytes
	if IsERC6492(signatureBytes) {
		wrapped, err := ParseERC6492Signature(signatureBytes)
		if err != nil {
			return x402.SettleResponse{}, x402.NewError(x402.ErrInvalidEVMSignature, err.Error(), nil)
		}
		code, err := f.signer.Backend.CodeAt(ctx, common.HexToAddress(auth.From), nil)
		if err != nil {
			return x402.SettleResponse{}, x402.NewError(x402.ErrTransactionFailed, err.Error(), nil)
		}
		if len(code) == 0 {
			if !f.deployWallets {
				return x402.SettleResponse{}, x402.NewError(x402.ErrInvalidEVMUndeployedWallet, "smart wallet is not deployed", nil)
			}
			txHash, err := f.signer.SendCall(ctx, chainID, wrapped.Factory, wrapped.FactoryCalldata)
			if err != nil {
				return x402.SettleResponse{}, x402.NewError(x402.ErrTransactionFailed, "smart wallet deployment failed", err)
			}
			if _, err := f.signer.WaitForReceipt(ctx, txHash); err != nil {
				return x402.SettleResponse{}, x402.NewError(x402.ErrTransactionFailed, "smart wallet deployment receipt", err)
			}
		}
		finalSignature = wrapped.InnerSignature
	}

	// EOA signatures dispatch through the (v,r,s) overload; anything else -
	// an already-deployed smart-contract wallet's EIP-1271 signature, which
	// Verify above has already accepted - dispatches through the
	// bytes-signature overload instead.
	var data []byte
	if len(finalSignature) == 65 {
		var r, s [32]byte
		copy(r[:], finalSignature[0:32])
		copy(s[:], finalSignature[32:64])
		v := finalSignature[64]
		data, err = packTransferWithAuthorization(auth, v, r, s)
	} else {
		data, err = packTransferWithAuthorizationBytes(auth, finalSignature)
	}
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrInvalidTransactionState, err.Error(), nil)
	}

	txHash, err := f.signer.SendCall(ctx, chainID, common.HexToAddress(requirements.Asset), data)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrTransactionFailed, err.Error(), nil).WithDetails("payer", auth.From)
	}
	receipt, err := f.signer.WaitForReceipt(ctx, txHash)
	if err != nil {
		return x402.SettleResponse{}, x402.NewError(x402.ErrTransactionFailed, err.Error(), nil).WithDetails("payer", auth.From)
	}
	if receipt.Status != 1 {
		return x402.SettleResponse{}, x402.NewError(x402.ErrTransactionFailed, "transaction reverted", nil).WithDetails("payer", auth.From)
	}

	return x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     requirements.Network,
		Payer:       verifyResp.Payer,
	}, nil
}

func (f *EIP3009FacilitatorScheme) balanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
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

// AuthorizationUsed reports whether nonce has already been consumed for
// authorizer on token. Exposed for callers that want an extra
// replay-defense check before Settle; Verify itself does not call this,
// per the doc comment above.
func (f *EIP3009FacilitatorScheme) AuthorizationUsed(ctx context.Context, token, authorizer common.Address, nonceHex string) (bool, error) {
	nonce, err := hexToBytes32(nonceHex)
	if err != nil {
		return false, err
	}
	data, err := packAuthorizationState(authorizer, nonce)
	if err != nil {
		return false, err
	}
	out, err := f.signer.Call(ctx, token, data)
	if err != nil {
		return false, err
	}
	return unpackAuthorizationState(out)
}
