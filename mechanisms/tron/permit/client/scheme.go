// Package client implements the contract-mediated PaymentPermit scheme's
// TRON client side: build and sign a PaymentPermit, ensure the engine
// contract holds sufficient TRC20 allowance, and hand both to the
// facilitator for redemption.
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

// PermitTronSchemeConfig configures the client's default validity window
// when requirements don't specify MaxTimeoutSeconds.
type PermitTronSchemeConfig struct {
	DefaultValidityPeriod time.Duration
}

// PermitTronScheme implements SchemeNetworkClient for the PaymentPermit
// scheme on TRON.
type PermitTronScheme struct {
	signer tron.ClientAllowanceTronSigner
	config PermitTronSchemeConfig
}

// NewPermitTronScheme creates a new PermitTronScheme.
func NewPermitTronScheme(signer tron.ClientAllowanceTronSigner, config *PermitTronSchemeConfig) *PermitTronScheme {
	cfg := PermitTronSchemeConfig{DefaultValidityPeriod: time.Hour}
	if config != nil && config.DefaultValidityPeriod > 0 {
		cfg.DefaultValidityPeriod = config.DefaultValidityPeriod
	}
	return &PermitTronScheme{signer: signer, config: cfg}
}

func (c *PermitTronScheme) Scheme() string {
	return tron.SchemePermit
}

// CreatePaymentPayload builds and signs a PaymentPermit, ensuring
// allowance on the engine contract before returning.
func (c *PermitTronScheme) CreatePaymentPayload(
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

	engineContract, _ := requirements.Extra["engineContract"].(string)
	if engineContract == "" {
		return types.PaymentPayload{}, fmt.Errorf("requirements missing extra.engineContract")
	}
	caller, _ := requirements.Extra["caller"].(string)
	if caller == "" {
		return types.PaymentPayload{}, fmt.Errorf("requirements missing extra.caller")
	}
	domainName, _ := requirements.Extra["name"].(string)
	if domainName == "" {
		domainName = assetInfo.Name
	}

	payAmount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return types.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	feeTo := tron.ZeroAddress
	feeAmount := big.NewInt(0)
	if fee, ok := requirements.FeeFromExtra(); ok {
		feeTo = fee.FeeTo
		if n, ok := new(big.Int).SetString(fee.FeeAmount, 10); ok {
			feeAmount = n
		}
	}

	paymentID, err := randomBytes16()
	if err != nil {
		return types.PaymentPayload{}, err
	}
	nonce, err := randomUint256()
	if err != nil {
		return types.PaymentPayload{}, err
	}

	window := c.config.DefaultValidityPeriod
	if requirements.MaxTimeoutSeconds > 0 {
		window = time.Duration(requirements.MaxTimeoutSeconds) * time.Second
	}
	now := time.Now().Unix()
	validAfter := big.NewInt(now)
	validBefore := big.NewInt(now + int64(window.Seconds()))

	buyer := c.signer.Address()

	buyerHex, err := converter.ToSigningAddress(buyer)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid buyer address: %w", err)
	}
	callerHex, err := converter.ToSigningAddress(caller)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid caller address: %w", err)
	}
	payTokenHex, err := converter.ToSigningAddress(assetInfo.Address)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid asset address: %w", err)
	}
	payToHex, err := converter.ToSigningAddress(requirements.PayTo)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid payTo address: %w", err)
	}
	feeToHex, err := converter.ToSigningAddress(feeTo)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid feeTo address: %w", err)
	}
	engineContractHex, err := converter.ToSigningAddress(engineContract)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid engine contract address: %w", err)
	}

	message := map[string]interface{}{
		"meta": map[string]interface{}{
			"kind":        uint8(types.KindPaymentOnly),
			"paymentId":   paymentID[:],
			"nonce":       nonce,
			"validAfter":  validAfter,
			"validBefore": validBefore,
		},
		"buyer":  buyerHex,
		"caller": callerHex,
		"payment": map[string]interface{}{
			"payToken":  payTokenHex,
			"payAmount": payAmount,
			"payTo":     payToHex,
		},
		"fee": map[string]interface{}{
			"feeTo":     feeToHex,
			"feeAmount": feeAmount,
		},
	}
	domain := eip712.Domain{
		Name:              domainName,
		ChainID:           netConfig.ChainID,
		VerifyingContract: engineContractHex,
	}
	digest, err := eip712.Digest(domain, tron.PaymentPermitTypes, "PaymentPermitDetails", message)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to build permit digest: %w", err)
	}

	if err := c.ensureAllowance(ctx, networkStr, assetInfo.Address, buyer, engineContract, new(big.Int).Add(payAmount, feeAmount)); err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to ensure allowance: %w", err)
	}

	signature, err := c.signer.SignDigest(ctx, digest)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign permit: %w", err)
	}

	permit := &types.PaymentPermit{
		Meta: types.PermitMeta{
			Kind:        types.KindPaymentOnly,
			PaymentID:   "0x" + hex.EncodeToString(paymentID[:]),
			Nonce:       nonce.String(),
			ValidAfter:  validAfter.Int64(),
			ValidBefore: validBefore.Int64(),
		},
		Buyer:  buyer,
		Caller: caller,
		Payment: types.Payment{
			PayToken:  assetInfo.Address,
			PayAmount: payAmount.String(),
			PayTo:     requirements.PayTo,
		},
		Fee: types.Fee{
			FeeTo:     feeTo,
			FeeAmount: feeAmount.String(),
		},
	}

	return types.PaymentPayload{
		X402Version: types.ProtocolVersion,
		Payload: types.InnerPayload{
			Signature:     "0x" + hex.EncodeToString(signature),
			PaymentPermit: permit,
		},
	}, nil
}

// ensureAllowance grants the engine contract spending rights if its
// current allowance from buyer is insufficient to cover amount.
func (c *PermitTronScheme) ensureAllowance(ctx context.Context, network, token, owner, spender string, amount *big.Int) error {
	current, err := c.signer.GetAllowance(ctx, network, token, owner, spender)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}
	txID, err := c.signer.Approve(ctx, network, token, spender, amount)
	if err != nil {
		return err
	}
	confirmation, err := c.signer.WaitForTransaction(ctx, tron.WaitForTransactionParams{TxId: txID, Network: network})
	if err != nil {
		return err
	}
	if !confirmation.Success {
		return fmt.Errorf("approve transaction failed: %s", txID)
	}
	return nil
}

func randomBytes16() ([16]byte, error) {
	var b [16]byte
	_, err := rand.Read(b[:])
	return b, err
}

func randomUint256() (*big.Int, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(buf), nil
}
