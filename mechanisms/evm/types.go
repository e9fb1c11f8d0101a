// Package evm holds the types, constants, and signer interfaces shared by the
// EVM exact (EIP-3009) and permit payment schemes. Client and facilitator
// scheme implementations live in the exact/ and permit/ subpackages and
// depend on this package for the wire payload shapes and signer contracts.
package evm

import (
	"context"
	"math/big"
	"strconv"
)

func formatInt64(v int64) string {
	return strconv.FormatInt(v, 10)
}

// ExactEIP3009Authorization is the transferWithAuthorization message signed
// by the payer under EIP-712.
type ExactEIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// FromTransferAuthorization converts the wire-level TransferAuthorization
// extension (int64 timestamps) into the string-field shape EIP-712 hashing
// and signing use.
func FromTransferAuthorization(from, to, value, nonce string, validAfter, validBefore int64) ExactEIP3009Authorization {
	return ExactEIP3009Authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  formatInt64(validAfter),
		ValidBefore: formatInt64(validBefore),
		Nonce:       nonce,
	}
}

// ClientEvmSigner signs EIP-712 typed data for creating payment payloads.
type ClientEvmSigner interface {
	Address() string
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
}

// DigestSigner signs an arbitrary 32-byte EIP-712 digest directly, for
// schemes (like permit) that build their own domain via the eip712
// package rather than delegating domain construction to the signer.
type DigestSigner interface {
	Address() string
	SignDigest(ctx context.Context, digest [32]byte) ([]byte, error)
}

// ClientAllowanceSigner extends DigestSigner with the ERC-20
// read/approve/wait calls the permit scheme's client side needs to
// ensure the engine contract holds sufficient spending allowance before
// a signed permit can be redeemed.
type ClientAllowanceSigner interface {
	DigestSigner
	GetAllowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
	Approve(ctx context.Context, token, spender string, amount *big.Int) (string, error)
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// FacilitatorEvmSigner performs the on-chain reads/writes a facilitator needs
// to verify and settle EVM payments. Implementations may expose more than one
// address for load balancing or key rotation.
type FacilitatorEvmSigner interface {
	GetAddresses() []string
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error)
	SendTransaction(ctx context.Context, to string, data []byte) (string, error)
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
	GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error)
	GetChainID(ctx context.Context) (*big.Int, error)
	GetCode(ctx context.Context, address string) ([]byte, error)
}

// TypedDataDomain is the EIP-712 domain separator.
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField names one field of an EIP-712 typed struct.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TransactionReceipt is the subset of a mined transaction's receipt that
// schemes need to check success and report the transaction hash.
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// AssetInfo describes an ERC-20 token for EIP-712 domain construction.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig holds per-network chain configuration.
type NetworkConfig struct {
	ChainID      *big.Int
	DefaultAsset AssetInfo
}
