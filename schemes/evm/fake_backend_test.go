package evm

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeBackend is a minimal ContractBackend double: every balanceOf/allowance
// call returns a configurable amount, CodeAt reports an EOA (no code)
// unless an address is listed in contractCode, isValidSignature approves any
// signature for an address listed in eip1271Valid, and settlement
// transactions succeed immediately without touching a real chain.
type fakeBackend struct {
	balance      *big.Int
	allowance    *big.Int
	contractCode map[common.Address][]byte
	eip1271Valid map[common.Address]bool
	sent         []*types.Transaction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		balance:      big.NewInt(1_000_000_000),
		allowance:    big.NewInt(1_000_000_000),
		contractCode: map[common.Address][]byte{},
		eip1271Valid: map[common.Address]bool{},
	}
}

func (b *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, nil
	}
	selector := string(msg.Data[:4])
	switch {
	case selector == string(erc20ABI.Methods["balanceOf"].ID):
		return erc20ABI.Methods["balanceOf"].Outputs.Pack(b.balance)
	case selector == string(erc20ABI.Methods["allowance"].ID):
		return erc20ABI.Methods["allowance"].Outputs.Pack(b.allowance)
	case selector == string(eip1271Selector):
		if msg.To != nil && b.eip1271Valid[*msg.To] {
			return eip1271MagicValue, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func (b *fakeBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return b.contractCode[account], nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: 1}, nil
}
