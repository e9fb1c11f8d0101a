package client

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/trx402/engine/mechanisms/evm"
	"github.com/trx402/engine/types"
)

// ExactEvmScheme implements SchemeNetworkClient for EVM exact
// (EIP-3009 transferWithAuthorization) payments.
type ExactEvmScheme struct {
	signer evm.ClientEvmSigner
}

// NewExactEvmScheme creates a new ExactEvmScheme.
func NewExactEvmScheme(signer evm.ClientEvmSigner) *ExactEvmScheme {
	return &ExactEvmScheme{signer: signer}
}

// Scheme returns the scheme identifier.
func (c *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload builds a payment payload for the exact scheme. The
// signed EIP-3009 authorization travels in Extensions under
// types.TransferAuthorizationExtensionKey since the scheme has no
// paymentPermit to occupy; Payload carries only the signature.
func (c *ExactEvmScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	networkStr := string(requirements.Network)
	if !evm.IsValidNetwork(networkStr) {
		return types.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	value, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return types.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	nonce, err := evm.CreateNonce()
	if err != nil {
		return types.PaymentPayload{}, err
	}

	validAfter, validBefore := evm.CreateValidityWindow(time.Hour)

	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			tokenName = name
		}
		if ver, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = ver
		}
	}

	authorization := evm.ExactEIP3009Authorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonce,
	}

	signature, err := c.signAuthorization(ctx, authorization, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	validAfterInt, _ := strconv.ParseInt(authorization.ValidAfter, 10, 64)
	validBeforeInt, _ := strconv.ParseInt(authorization.ValidBefore, 10, 64)

	return types.PaymentPayload{
		X402Version: types.ProtocolVersion,
		Payload: types.InnerPayload{
			Signature: evm.BytesToHex(signature),
		},
		Extensions: map[string]interface{}{
			types.TransferAuthorizationExtensionKey: types.TransferAuthorization{
				From:        authorization.From,
				To:          authorization.To,
				Value:       authorization.Value,
				ValidAfter:  validAfterInt,
				ValidBefore: validBeforeInt,
				Nonce:       authorization.Nonce,
			},
		},
	}, nil
}

// signAuthorization signs the EIP-3009 authorization using EIP-712.
func (c *ExactEvmScheme) signAuthorization(
	ctx context.Context,
	authorization evm.ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}

	fieldTypes := map[string][]evm.TypedDataField{
		"EIP712Domain":              evm.EIP712DomainFields,
		"TransferWithAuthorization": evm.TransferWithAuthorizationFields,
	}

	value, _ := new(big.Int).SetString(authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(authorization.ValidBefore, 10)
	nonceBytes, _ := evm.HexToBytes(authorization.Nonce)

	message := map[string]interface{}{
		"from":        authorization.From,
		"to":          authorization.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}

	return c.signer.SignTypedData(ctx, domain, fieldTypes, "TransferWithAuthorization", message)
}
