package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trx402/engine/eip712"
)

// PermitMetaOnChain, PaymentOnChain, FeeOnChain, and PaymentPermitOnChain
// mirror the engine contract's permitTransferFrom tuple layout exactly
// (PermitTransferFromABI) so go-ethereum's abi.Pack can encode them by
// struct reflection.
type PermitMetaOnChain struct {
	Kind        uint8
	PaymentId   [16]byte
	Nonce       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
}

type PaymentOnChain struct {
	PayToken  common.Address
	PayAmount *big.Int
	PayTo     common.Address
}

type FeeOnChain struct {
	FeeTo     common.Address
	FeeAmount *big.Int
}

type PaymentPermitOnChain struct {
	Meta    PermitMetaOnChain
	Buyer   common.Address
	Caller  common.Address
	Payment PaymentOnChain
	Fee     FeeOnChain
}

// toEIP712TypeSet converts this package's TypedDataField type set (shared
// with the apitypes-based exact scheme) into the eip712 package's
// independent Field/TypeSet shape.
func toEIP712TypeSet(types map[string][]TypedDataField) eip712.TypeSet {
	out := make(eip712.TypeSet, len(types))
	for name, fields := range types {
		fs := make([]eip712.Field, len(fields))
		for i, f := range fields {
			fs[i] = eip712.Field{Name: f.Name, Type: f.Type}
		}
		out[name] = fs
	}
	return out
}

// PermitDomain builds the version-less EIP-712 domain the engine
// contract signs permits against.
func PermitDomain(name string, chainID *big.Int, verifyingContract string) eip712.Domain {
	return eip712.Domain{
		Name:              name,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
}

// PaymentPermitMessage builds the EIP-712 message map for a
// PaymentPermitDetails struct from the wire-level permit fields.
func PaymentPermitMessage(
	kind uint8,
	paymentID [16]byte,
	nonce, validAfter, validBefore *big.Int,
	buyer, caller string,
	payToken string, payAmount *big.Int, payTo string,
	feeTo string, feeAmount *big.Int,
) map[string]interface{} {
	return map[string]interface{}{
		"meta": map[string]interface{}{
			"kind":        kind,
			"paymentId":   paymentID[:],
			"nonce":       nonce,
			"validAfter":  validAfter,
			"validBefore": validBefore,
		},
		"buyer":  buyer,
		"caller": caller,
		"payment": map[string]interface{}{
			"payToken":  payToken,
			"payAmount": payAmount,
			"payTo":     payTo,
		},
		"fee": map[string]interface{}{
			"feeTo":     feeTo,
			"feeAmount": feeAmount,
		},
	}
}

// PaymentPermitDigest computes the signing digest for a PaymentPermit.
func PaymentPermitDigest(domain eip712.Domain, message map[string]interface{}) ([32]byte, error) {
	return eip712.Digest(domain, toEIP712TypeSet(PaymentPermitTypes), "PaymentPermitDetails", message)
}
