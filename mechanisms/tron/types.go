// Package tron holds the types, constants, and signer interfaces shared by
// the TRON exact (EIP-712 transfer-authorization) and permit payment
// schemes. Client and facilitator scheme implementations live in the
// exact/ and permit/ subpackages and depend on this package for the wire
// payload shapes and signer contracts.
package tron

import (
	"context"
	"math/big"
)

// ClientTronSigner signs EIP-712 digests for creating payment payloads.
// TRON's transfer-authorization and permit schemes are both EIP-712
// based, signed against the token's (or engine contract's) domain with
// verifyingContract expressed in hex-20 form via address.Converter — the
// client never builds or signs a raw TRON transaction.
type ClientTronSigner interface {
	Address() string
	SignDigest(ctx context.Context, digest [32]byte) ([]byte, error)
}

// ClientAllowanceTronSigner extends ClientTronSigner with the TRC20
// allowance/approve calls the permit scheme's client side needs before
// the engine contract can pull tokens.
type ClientAllowanceTronSigner interface {
	ClientTronSigner
	GetAllowance(ctx context.Context, network, token, owner, spender string) (*big.Int, error)
	Approve(ctx context.Context, network, token, spender string, amount *big.Int) (string, error)
	WaitForTransaction(ctx context.Context, params WaitForTransactionParams) (*TransactionConfirmation, error)
}

// GetBalanceParams identifies the TRC20 balance a facilitator should query.
type GetBalanceParams struct {
	OwnerAddress    string
	ContractAddress string
	Network         string
}

// WaitForTransactionParams configures how long the facilitator polls for
// a broadcast transaction's confirmation.
type WaitForTransactionParams struct {
	TxId    string
	Network string
	Timeout int64 // milliseconds
}

// TransactionConfirmation is the outcome of polling a broadcast
// transaction to completion.
type TransactionConfirmation struct {
	Success bool
	TxId    string
	Error   string
}

// FacilitatorTronSigner performs the network reads/writes a facilitator
// needs to verify and settle TRON payments. Writes are built, signed, and
// broadcast by the implementation itself (mirroring evm.FacilitatorEvmSigner's
// WriteContract) rather than relaying a client-provided signed transaction,
// since both TRON schemes here are EIP-712 message signatures redeemed by
// the facilitator's own on-chain call.
type FacilitatorTronSigner interface {
	GetAddresses(ctx context.Context, network string) []string
	GetBalance(ctx context.Context, params GetBalanceParams) (string, error)
	// ReadContract triggers a constant (view) call and returns its
	// decoded single return value.
	ReadContract(ctx context.Context, network, contractAddress string, abiJSON []byte, method string, args ...interface{}) (interface{}, error)
	// CallContract builds, signs, and broadcasts a smart-contract write,
	// returning the broadcast transaction ID.
	CallContract(ctx context.Context, network, contractAddress string, abiJSON []byte, method string, feeLimit int64, args ...interface{}) (string, error)
	WaitForTransaction(ctx context.Context, params WaitForTransactionParams) (*TransactionConfirmation, error)
	IsActivated(ctx context.Context, address string, network string) (bool, error)
}

// AssetInfo describes a TRC20 token, including the EIP-712 domain fields
// (name/version) the transfer-authorization and permit schemes sign
// against.
type AssetInfo struct {
	Address  string
	Symbol   string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig holds per-network TRON configuration.
type NetworkConfig struct {
	Endpoint     string
	DefaultAsset AssetInfo
	// ChainID is this network's EVM-compatible signing chain ID, used in
	// the EIP-712 domain both payment schemes sign against.
	ChainID *big.Int
}
