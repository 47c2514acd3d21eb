package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ContractBackend is the minimal RPC surface the facilitator-side scheme
// logic needs to read chain state and submit settlement transactions. It is
// narrowed to exactly the calls this package makes, so a fake can stand in
// for tests; *ethclient.Client satisfies it directly in production.
type ContractBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Signer submits facilitator-originated settlement transactions (the
// transferWithAuthorization / Permit2 proxy settle calls) using the
// facilitator's own funded wallet. Grounded on evm/signer.go's
// ecdsa.PrivateKey-plus-derived-address construction, repurposed here for
// transaction submission rather than EIP-712 authorization signing.
type Signer struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
	Backend    ContractBackend
}

// NewSigner derives the facilitator's address from privateKey.
func NewSigner(privateKey *ecdsa.PrivateKey, backend ContractBackend) (*Signer, error) {
	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("evm: invalid private key")
	}
	return &Signer{PrivateKey: privateKey, Address: crypto.PubkeyToAddress(*pub), Backend: backend}, nil
}

// Call performs a read-only contract call against to with the given
// calldata.
func (s *Signer) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return s.Backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// SendCall signs and submits a contract-call transaction from the
// facilitator's own address, returning its hash.
func (s *Signer) SendCall(ctx context.Context, chainID *big.Int, to common.Address, data []byte) (string, error) {
	nonce, err := s.Backend.PendingNonceAt(ctx, s.Address)
	if err != nil {
		return "", fmt.Errorf("evm: nonce: %w", err)
	}
	gasPrice, err := s.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("evm: gas price: %w", err)
	}
	msg := ethereum.CallMsg{From: s.Address, To: &to, Data: data}
	gasLimit, err := s.Backend.EstimateGas(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("evm: estimate gas: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("evm: sign transaction: %w", err)
	}
	if err := s.Backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("evm: send transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// WaitForReceipt polls Backend for txHash's receipt until it appears or ctx
// is done. Grounded on the facilitator reference files'
// WaitForTransactionReceipt helper, simplified to a single poll loop rather
// than exponential backoff since this package targets demonstrating the
// scheme rather than production-hardening RPC retries.
func (s *Signer) WaitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		receipt, err := s.Backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
