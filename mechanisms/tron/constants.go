package tron

import (
	"math/big"

	"github.com/trx402/engine/eip712"
)

const (
	// SchemeExact is the scheme identifier for the EIP-712
	// transfer-authorization scheme on TRON.
	SchemeExact = "exact"

	// SchemePermit is the scheme identifier for the contract-mediated
	// PaymentPermit scheme on TRON.
	SchemePermit = "permit"

	// DefaultDecimals is the decimal precision of TRC20 USDT, the
	// stablecoin this engine targets on TRON.
	DefaultDecimals = 6

	// DefaultFeeLimit is the SUN fee limit set on a TRC20 write when the
	// caller does not specify one.
	DefaultFeeLimit = 100_000_000 // 100 TRX

	// DefaultValidityDuration is the width of the validity window a
	// client signs when the requirements don't specify MaxTimeoutSeconds.
	DefaultValidityDuration = 300

	FunctionTransferWithAuthorization = "transferWithAuthorization"
	FunctionAuthorizationState        = "authorizationState"
	FunctionPermitTransferFrom        = "permitTransferFrom"
	FunctionAllowance                 = "allowance"
	FunctionApprove                   = "approve"

	// TronMainnetCAIP2 is the CAIP-2 network identifier for TRON mainnet.
	TronMainnetCAIP2 = "tron:mainnet"
	// TronNileCAIP2 is the CAIP-2 network identifier for the Nile testnet.
	TronNileCAIP2 = "tron:nile"
	// TronShastaCAIP2 is the CAIP-2 network identifier for the Shasta testnet.
	TronShastaCAIP2 = "tron:shasta"

	// ZeroAddress is the canonical TRON zero/burn address.
	ZeroAddress = "T9yD14Nj9j7xAB4dbGeiX9h8unkKHxuWwb"
)

var (
	// chainIDTronMainnet, chainIDTronNile, and chainIDTronShasta are TRON's
	// EVM-compatible signing chain IDs, used in the EIP-712 domain both
	// payment schemes sign against.
	chainIDTronMainnet = big.NewInt(728126428)
	chainIDTronNile    = big.NewInt(3448148188)
	chainIDTronShasta  = big.NewInt(2494104990)

	// NetworkConfigs is the static table of TRON networks this engine
	// supports, keyed by CAIP-2 identifier.
	NetworkConfigs = map[string]NetworkConfig{
		TronMainnetCAIP2: {
			Endpoint: "https://api.trongrid.io",
			ChainID:  chainIDTronMainnet,
			DefaultAsset: AssetInfo{
				Address:  "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
				Symbol:   "USDT",
				Name:     "Tether USD",
				Version:  "1",
				Decimals: DefaultDecimals,
			},
		},
		TronNileCAIP2: {
			Endpoint: "https://api.nileex.io",
			ChainID:  chainIDTronNile,
			DefaultAsset: AssetInfo{
				Address:  "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf",
				Symbol:   "USDT",
				Name:     "Tether USD",
				Version:  "1",
				Decimals: DefaultDecimals,
			},
		},
		TronShastaCAIP2: {
			Endpoint: "https://api.shasta.trongrid.io",
			ChainID:  chainIDTronShasta,
			DefaultAsset: AssetInfo{
				Address:  "TG3XXyExBkPp9nzdajDZsozEu4BkaSJozs",
				Symbol:   "USDT",
				Name:     "Tether USD",
				Version:  "1",
				Decimals: DefaultDecimals,
			},
		},
	}
)

// TransferWithAuthorizationABI is the ABI fragment for the EIP-712
// transfer-authorization redemption call.
var TransferWithAuthorizationABI = []byte(`[
	{
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "validAfter", "type": "uint256"},
			{"name": "validBefore", "type": "uint256"},
			{"name": "nonce", "type": "bytes32"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"name": "transferWithAuthorization",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)

// AuthorizationStateABI is the ABI fragment for the authorizationState view.
var AuthorizationStateABI = []byte(`[
	{
		"inputs": [
			{"name": "authorizer", "type": "address"},
			{"name": "nonce", "type": "bytes32"}
		],
		"name": "authorizationState",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

// PermitTransferFromABI is the engine contract's entrypoint on TRON,
// matching the EVM engine contract's tuple layout.
var PermitTransferFromABI = []byte(`[
	{
		"inputs": [
			{
				"name": "permit",
				"type": "tuple",
				"components": [
					{
						"name": "meta",
						"type": "tuple",
						"components": [
							{"name": "kind", "type": "uint8"},
							{"name": "paymentId", "type": "bytes16"},
							{"name": "nonce", "type": "uint256"},
							{"name": "validAfter", "type": "uint256"},
							{"name": "validBefore", "type": "uint256"}
						]
					},
					{"name": "buyer", "type": "address"},
					{"name": "caller", "type": "address"},
					{
						"name": "payment",
						"type": "tuple",
						"components": [
							{"name": "payToken", "type": "address"},
							{"name": "payAmount", "type": "uint256"},
							{"name": "payTo", "type": "address"}
						]
					},
					{
						"name": "fee",
						"type": "tuple",
						"components": [
							{"name": "feeTo", "type": "address"},
							{"name": "feeAmount", "type": "uint256"}
						]
					}
				]
			},
			{"name": "signature", "type": "bytes"}
		],
		"name": "permitTransferFrom",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)

// ERC20AllowanceABI and ERC20ApproveABI are the standard TRC20 fragments
// (TRC20 mirrors ERC-20) the permit client uses to grant the engine
// contract spending rights.
var ERC20AllowanceABI = []byte(`[
	{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)
var ERC20ApproveABI = []byte(`[
	{
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)

// TransferAuthorizationTypes is the EIP-712 type set for the
// TransferWithAuthorization struct, signed directly against the TRC20
// token's own domain (no engine contract involved).
var TransferAuthorizationTypes = eip712.TypeSet{
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// PaymentPermitTypes is the EIP-712 type set for the PaymentPermitDetails
// struct and its nested members, mirroring evm.PaymentPermitTypes.
var PaymentPermitTypes = eip712.TypeSet{
	"PaymentPermitDetails": {
		{Name: "meta", Type: "PermitMeta"},
		{Name: "buyer", Type: "address"},
		{Name: "caller", Type: "address"},
		{Name: "payment", Type: "Payment"},
		{Name: "fee", Type: "Fee"},
	},
	"PermitMeta": {
		{Name: "kind", Type: "uint8"},
		{Name: "paymentId", Type: "bytes16"},
		{Name: "nonce", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
	},
	"Payment": {
		{Name: "payToken", Type: "address"},
		{Name: "payAmount", Type: "uint256"},
		{Name: "payTo", Type: "address"},
	},
	"Fee": {
		{Name: "feeTo", Type: "address"},
		{Name: "feeAmount", Type: "uint256"},
	},
}
