// Package client implements the contract-mediated PaymentPermit scheme's
// client side: build and sign a PaymentPermit, ensure the engine
// contract holds sufficient ERC-20 allowance, and hand both to the
// facilitator for redemption.
package client

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/trx402/engine/mechanisms/evm"
	"github.com/trx402/engine/types"
)

// PermitEvmSchemeConfig configures the client's default validity window
// when requirements don't specify MaxTimeoutSeconds.
type PermitEvmSchemeConfig struct {
	DefaultValidityPeriod time.Duration
}

// PermitEvmScheme implements SchemeNetworkClient for the PaymentPermit scheme.
type PermitEvmScheme struct {
	signer evm.ClientAllowanceSigner
	config PermitEvmSchemeConfig
}

// NewPermitEvmScheme creates a new PermitEvmScheme.
func NewPermitEvmScheme(signer evm.ClientAllowanceSigner, config *PermitEvmSchemeConfig) *PermitEvmScheme {
	cfg := PermitEvmSchemeConfig{DefaultValidityPeriod: time.Hour}
	if config != nil {
		if config.DefaultValidityPeriod > 0 {
			cfg.DefaultValidityPeriod = config.DefaultValidityPeriod
		}
	}
	return &PermitEvmScheme{signer: signer, config: cfg}
}

func (c *PermitEvmScheme) Scheme() string {
	return evm.SchemePermit
}

// CreatePaymentPayload builds and signs a PaymentPermit, ensuring
// allowance on the engine contract before returning.
func (c *PermitEvmScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	networkStr := string(requirements.Network)
	if !evm.IsValidNetwork(networkStr) {
		return types.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}
	netConfig, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return types.PaymentPayload{}, err
	}
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
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

	feeTo := evm.ZeroAddress
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

	message := evm.PaymentPermitMessage(
		0, paymentID, nonce, validAfter, validBefore,
		buyer, caller,
		assetInfo.Address, payAmount, requirements.PayTo,
		feeTo, feeAmount,
	)
	domain := evm.PermitDomain(domainName, netConfig.ChainID, engineContract)
	digest, err := evm.PaymentPermitDigest(domain, message)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to build permit digest: %w", err)
	}

	if err := c.ensureAllowance(ctx, assetInfo.Address, buyer, engineContract, new(big.Int).Add(payAmount, feeAmount)); err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to ensure allowance: %w", err)
	}

	signature, err := c.signer.SignDigest(ctx, digest)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign permit: %w", err)
	}

	permit := &types.PaymentPermit{
		Meta: types.PermitMeta{
			Kind:        types.KindPaymentOnly,
			PaymentID:   "0x" + evm.BytesToHex(paymentID[:]),
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
			Signature:     evm.BytesToHex(signature),
			PaymentPermit: permit,
		},
	}, nil
}

// ensureAllowance grants the engine contract spending rights if its
// current allowance from buyer is insufficient to cover amount.
func (c *PermitEvmScheme) ensureAllowance(ctx context.Context, token, owner, spender string, amount *big.Int) error {
	current, err := c.signer.GetAllowance(ctx, token, owner, spender)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}
	txHash, err := c.signer.Approve(ctx, token, spender, amount)
	if err != nil {
		return err
	}
	receipt, err := c.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return err
	}
	if receipt.Status != evm.TxStatusSuccess {
		return fmt.Errorf("approve transaction failed: %s", txHash)
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
