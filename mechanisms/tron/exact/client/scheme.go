// Package client implements the TRON exact (EIP-712
// transferWithAuthorization) scheme's client side: sign a
// TransferAuthorization directly against the TRC20 token's own domain, no
// engine contract involved.
package client

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/trx402/engine/address"
	"github.com/trx402/engine/eip712"
	"github.com/trx402/engine/mechanisms/tron"
	"github.com/trx402/engine/types"
)

// ExactTronScheme implements SchemeNetworkClient for the TRON exact
// (EIP-712 transferWithAuthorization) scheme.
type ExactTronScheme struct {
	signer tron.ClientTronSigner
}

// NewExactTronScheme creates a new ExactTronScheme.
func NewExactTronScheme(signer tron.ClientTronSigner) *ExactTronScheme {
	return &ExactTronScheme{signer: signer}
}

// Scheme returns the scheme identifier.
func (c *ExactTronScheme) Scheme() string {
	return tron.SchemeExact
}

// CreatePaymentPayload builds and signs a TransferAuthorization. The signed
// authorization travels in Extensions under
// types.TransferAuthorizationExtensionKey, the same wire shape EVM's exact
// scheme uses, since the message being signed is identical in structure —
// only the domain's verifyingContract/addresses differ in display form.
func (c *ExactTronScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	networkStr := string(requirements.Network)
	if !tron.IsValidNetwork(networkStr) {
		return types.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}
	netConfig, err := tron.GetNetworkConfig(networkStr)
	if err != nil {
		return types.PaymentPayload{}, err
	}
	assetInfo, err := tron.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	converter, err := address.ForFamily("tron")
	if err != nil {
		return types.PaymentPayload{}, err
	}

	value, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return types.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	nonce, err := randomNonce()
	if err != nil {
		return types.PaymentPayload{}, err
	}

	window := int64(tron.DefaultValidityDuration)
	if requirements.MaxTimeoutSeconds > 0 {
		window = int64(requirements.MaxTimeoutSeconds)
	}
	now := time.Now().Unix()
	validAfter := now
	validBefore := now + window

	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if name, ok := requirements.Extra["name"].(string); ok && name != "" {
		tokenName = name
	}
	if ver, ok := requirements.Extra["version"].(string); ok && ver != "" {
		tokenVersion = ver
	}

	fromSigning, err := converter.ToSigningAddress(c.signer.Address())
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid signer address: %w", err)
	}
	toSigning, err := converter.ToSigningAddress(requirements.PayTo)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid payTo address: %w", err)
	}
	verifyingContract, err := converter.ToSigningAddress(assetInfo.Address)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid asset address: %w", err)
	}

	domain := eip712.Domain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           netConfig.ChainID,
		VerifyingContract: verifyingContract,
	}
	message := map[string]interface{}{
		"from":        fromSigning,
		"to":          toSigning,
		"value":       value,
		"validAfter":  big.NewInt(validAfter),
		"validBefore": big.NewInt(validBefore),
		"nonce":       nonce[:],
	}

	digest, err := eip712.Digest(domain, tron.TransferAuthorizationTypes, "TransferWithAuthorization", message)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to build digest: %w", err)
	}

	signature, err := c.signer.SignDigest(ctx, digest)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	return types.PaymentPayload{
		X402Version: types.ProtocolVersion,
		Payload: types.InnerPayload{
			Signature: "0x" + hex.EncodeToString(signature),
		},
		Extensions: map[string]interface{}{
			types.TransferAuthorizationExtensionKey: types.TransferAuthorization{
				From:        c.signer.Address(),
				To:          requirements.PayTo,
				Value:       value.String(),
				ValidAfter:  validAfter,
				ValidBefore: validBefore,
				Nonce:       "0x" + hex.EncodeToString(nonce[:]),
			},
		},
	}, nil
}

func randomNonce() ([32]byte, error) {
	var b [32]byte
	_, err := rand.Read(b[:])
	return b, err
}
