package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Permit2Address is the canonical, identical-on-every-chain Permit2
// deployment (Uniswap's).
const Permit2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

// ExactPermit2ProxyAddress is this implementation's vanity proxy contract
// that settles a PermitWitnessTransferFrom permit bound to a payment
// witness. Grounded on §6's external-interfaces table.
const ExactPermit2ProxyAddress = "0x4020B671C4c523a852c11a5EC58F27F235e80001"

const erc20ABIJSON = `[
 {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
 {"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// eip3009ABIJSON lists both Solidity overloads of transferWithAuthorization:
// the EOA (v,r,s) form and the bytes-signature form EIP-1271 smart-contract
// wallets use. go-ethereum's abi package resolves the name clash by keeping
// the first occurrence as "transferWithAuthorization" and suffixing the
// second as "transferWithAuthorization0" - see
// transferWithAuthorizationBytesMethod.
const eip3009ABIJSON = `[
 {"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"name":"transferWithAuthorization","outputs":[],"type":"function"},
 {"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"signature","type":"bytes"}],"name":"transferWithAuthorization","outputs":[],"type":"function"},
 {"inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"name":"authorizationState","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// transferWithAuthorizationBytesMethod is the resolved name of the
// bytes-signature transferWithAuthorization overload in eip3009ABI.
const transferWithAuthorizationBytesMethod = "transferWithAuthorization0"

const permit2ProxyABIJSON = `[
 {"inputs":[
   {"components":[{"components":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"name":"permitted","type":"tuple"},{"name":"nonce","type":"uint256"},{"name":"deadline","type":"uint256"}],"name":"permit","type":"tuple"},
   {"name":"owner","type":"address"},
   {"components":[{"name":"to","type":"address"},{"name":"validAfter","type":"uint256"},{"name":"extra","type":"bytes"}],"name":"witness","type":"tuple"},
   {"name":"signature","type":"bytes"}
 ],"name":"settle","outputs":[],"type":"function"}
]`

var (
	erc20ABI        abi.ABI
	eip3009ABI      abi.ABI
	permit2ProxyABI abi.ABI
)

func init() {
	var err error
	if erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON)); err != nil {
		panic(fmt.Sprintf("evm: parse erc20 abi: %v", err))
	}
	if eip3009ABI, err = abi.JSON(strings.NewReader(eip3009ABIJSON)); err != nil {
		panic(fmt.Sprintf("evm: parse eip3009 abi: %v", err))
	}
	if permit2ProxyABI, err = abi.JSON(strings.NewReader(permit2ProxyABIJSON)); err != nil {
		panic(fmt.Sprintf("evm: parse permit2 proxy abi: %v", err))
	}
}

func packBalanceOf(owner common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", owner)
}

func packAllowance(owner, spender common.Address) ([]byte, error) {
	return erc20ABI.Pack("allowance", owner, spender)
}

func unpackUint256(abiDef abi.ABI, method string, data []byte) (*big.Int, error) {
	out, err := abiDef.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("evm: unexpected %s output arity %d", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: unexpected %s output type %T", method, out[0])
	}
	return v, nil
}

func packAuthorizationState(authorizer common.Address, nonce [32]byte) ([]byte, error) {
	return eip3009ABI.Pack("authorizationState", authorizer, nonce)
}

func unpackAuthorizationState(data []byte) (bool, error) {
	out, err := eip3009ABI.Unpack("authorizationState", data)
	if err != nil {
		return false, fmt.Errorf("evm: unpack authorizationState: %w", err)
	}
	used, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("evm: unexpected authorizationState output type %T", out[0])
	}
	return used, nil
}

func packTransferWithAuthorization(auth EVMAuthorization, v uint8, r, s [32]byte) ([]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("evm: invalid authorization value %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("evm: invalid validAfter %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("evm: invalid validBefore %q", auth.ValidBefore)
	}
	nonce, err := hexToBytes32(auth.Nonce)
	if err != nil {
		return nil, err
	}
	return eip3009ABI.Pack("transferWithAuthorization",
		common.HexToAddress(auth.From), common.HexToAddress(auth.To),
		value, validAfter, validBefore, nonce, v, r, s)
}

// packTransferWithAuthorizationBytes packs the bytes-signature overload of
// transferWithAuthorization, used when the payer is a deployed smart-contract
// wallet whose signature the token contract validates via EIP-1271 rather
// than via ecrecover.
func packTransferWithAuthorizationBytes(auth EVMAuthorization, signature []byte) ([]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("evm: invalid authorization value %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("evm: invalid validAfter %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("evm: invalid validBefore %q", auth.ValidBefore)
	}
	nonce, err := hexToBytes32(auth.Nonce)
	if err != nil {
		return nil, err
	}
	return eip3009ABI.Pack(transferWithAuthorizationBytesMethod,
		common.HexToAddress(auth.From), common.HexToAddress(auth.To),
		value, validAfter, validBefore, nonce, signature)
}

type permit2Permitted struct {
	Token  common.Address
	Amount *big.Int
}

type permit2Permit struct {
	Permitted permit2Permitted
	Nonce     *big.Int
	Deadline  *big.Int
}

type permit2WitnessArg struct {
	To         common.Address
	ValidAfter *big.Int
	Extra      []byte
}

func packPermit2Settle(auth Permit2Authorization, signature []byte) ([]byte, error) {
	amount, ok := new(big.Int).SetString(auth.Permitted.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("evm: invalid permit2 amount %q", auth.Permitted.Amount)
	}
	nonce, ok := new(big.Int).SetString(auth.Nonce, 10)
	if !ok {
		return nil, fmt.Errorf("evm: invalid permit2 nonce %q", auth.Nonce)
	}
	deadline, ok := new(big.Int).SetString(auth.Deadline, 10)
	if !ok {
		return nil, fmt.Errorf("evm: invalid permit2 deadline %q", auth.Deadline)
	}
	validAfter, ok := new(big.Int).SetString(auth.Witness.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("evm: invalid permit2 witness validAfter %q", auth.Witness.ValidAfter)
	}

	permit := permit2Permit{
		Permitted: permit2Permitted{Token: common.HexToAddress(auth.Permitted.Token), Amount: amount},
		Nonce:     nonce,
		Deadline:  deadline,
	}
	witness := permit2WitnessArg{To: common.HexToAddress(auth.Witness.To), ValidAfter: validAfter, Extra: []byte{}}

	return permit2ProxyABI.Pack("settle", permit, common.HexToAddress(auth.From), witness, signature)
}

func hexToBytes32(hexStr string) ([32]byte, error) {
	var out [32]byte
	b, err := hexToBytes(hexStr)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("evm: expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func hexToBytes(hexStr string) ([]byte, error) {
	hexStr = strings.TrimPrefix(hexStr, "0x")
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("evm: invalid hex %q: %w", hexStr, err)
	}
	return b, nil
}
