package evm

import "math/big"

const (
	// SchemeExact is the scheme identifier for EIP-3009 transferWithAuthorization payments.
	SchemeExact = "exact"

	// SchemePermit is the scheme identifier for the contract-mediated
	// PaymentPermit scheme.
	SchemePermit = "permit"

	// DefaultDecimals is the decimal precision of the stablecoins this engine targets.
	DefaultDecimals = 6

	FunctionTransferWithAuthorization = "transferWithAuthorization"
	FunctionAuthorizationState        = "authorizationState"
	FunctionPermitTransferFrom        = "permitTransferFrom"
	FunctionAllowance                 = "allowance"
	FunctionApprove                   = "approve"

	// TxStatusSuccess is the receipt status of a mined, non-reverted transaction.
	TxStatusSuccess = 1

	// ZeroAddress is the canonical null address, used as the fee
	// recipient when a permit carries no facilitator fee.
	ZeroAddress = "0x0000000000000000000000000000000000000000"

	// DefaultValidityPeriod is the width of the [validAfter, validBefore) window
	// a client signs when it does not need a narrower one.
	DefaultValidityPeriod = 3600
)

var (
	chainIDEthereum = big.NewInt(1)
	chainIDArbitrum = big.NewInt(42161)
	chainIDBase     = big.NewInt(8453)
	chainIDOptimism = big.NewInt(10)

	// NetworkConfigs is the static table of EVM networks this engine supports,
	// keyed by CAIP-2 identifier, with each chain's endorsed default stablecoin.
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:1": {
			ChainID: chainIDEthereum,
			DefaultAsset: AssetInfo{
				Address:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				Name:     "USD Coin",
				Version:  "2",
				Decimals: DefaultDecimals,
			},
		},
		"eip155:42161": {
			ChainID: chainIDArbitrum,
			DefaultAsset: AssetInfo{
				Address:  "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
				Name:     "USD Coin",
				Version:  "2",
				Decimals: DefaultDecimals,
			},
		},
		"eip155:8453": {
			ChainID: chainIDBase,
			DefaultAsset: AssetInfo{
				Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				Name:     "USD Coin",
				Version:  "2",
				Decimals: DefaultDecimals,
			},
		},
		"eip155:10": {
			ChainID: chainIDOptimism,
			DefaultAsset: AssetInfo{
				Address:  "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
				Name:     "USD Coin",
				Version:  "2",
				Decimals: DefaultDecimals,
			},
		},
	}

	// TransferWithAuthorizationVRSABI is the EIP-3009 ABI fragment for the
	// v,r,s overload used by EOA signatures.
	TransferWithAuthorizationVRSABI = []byte(`[
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
	AuthorizationStateABI = []byte(`[
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

	// EIP712DomainFields describes the standard EIP-712 domain type for tokens
	// that include a version field (EIP-3009 stablecoins).
	EIP712DomainFields = []TypedDataField{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	// TransferWithAuthorizationFields describes the EIP-712 struct signed for
	// an EIP-3009 transferWithAuthorization call.
	TransferWithAuthorizationFields = []TypedDataField{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	}

	// PermitTransferFromABI is the engine contract's entrypoint: pull a
	// signed PaymentPermit's payment (and fee) legs in one call.
	PermitTransferFromABI = []byte(`[
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

	// ERC20AllowanceABI and ERC20ApproveABI are the standard ERC-20
	// fragments the permit client uses to grant the engine contract
	// spending rights before a permit can be redeemed.
	ERC20AllowanceABI = []byte(`[
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
	ERC20ApproveABI = []byte(`[
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

	// PermitDomainFields describes the permit scheme's EIP-712 domain,
	// which omits "version" — the engine contract's domain separator is
	// pinned to {name, chainId, verifyingContract} only.
	PermitDomainFields = []TypedDataField{
		{Name: "name", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	// PaymentPermitTypes is the full EIP-712 type set for the
	// PaymentPermitDetails struct and its nested members.
	PaymentPermitTypes = map[string][]TypedDataField{
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
)
