// Package facilitator implements the contract-mediated PaymentPermit
// scheme's facilitator side: validate a signed PaymentPermit against the
// invariant order in core spec §4.4, then redeem it by calling the
// engine contract's permitTransferFrom.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/trx402/engine"
	"github.com/trx402/engine/eip712"
	"github.com/trx402/engine/mechanisms/evm"
	"github.com/trx402/engine/types"
)

// PermitEvmSchemeConfig configures the engine contract and fee collector
// this facilitator redeems permits through.
type PermitEvmSchemeConfig struct {
	// EngineContract is the deployed address permits must name as their
	// EIP-712 verifyingContract.
	EngineContract string
	// FeeCollector is the address a permit's fee leg must pay to; the
	// zero address is accepted as "no fee configured".
	FeeCollector string
}

// PermitEvmScheme implements SchemeNetworkFacilitator for the
// PaymentPermit scheme.
type PermitEvmScheme struct {
	signer evm.FacilitatorEvmSigner
	config PermitEvmSchemeConfig
}

// NewPermitEvmScheme creates a new PermitEvmScheme.
func NewPermitEvmScheme(signer evm.FacilitatorEvmSigner, config PermitEvmSchemeConfig) *PermitEvmScheme {
	return &PermitEvmScheme{signer: signer, config: config}
}

func (f *PermitEvmScheme) Scheme() string {
	return evm.SchemePermit
}

func (f *PermitEvmScheme) CaipFamily() string {
	return "eip155:*"
}

func (f *PermitEvmScheme) GetExtra(_ x402.Network) map[string]interface{} {
	return map[string]interface{}{
		"engineContract": f.config.EngineContract,
		"caller":         f.signer.GetAddresses()[0],
	}
}

func (f *PermitEvmScheme) GetSigners(_ x402.Network) []string {
	return f.signer.GetAddresses()
}

// Verify validates a PaymentPermit against requirements, checking
// invariants in the order core spec §4.4 defines: the first violation
// found is the one reported.
func (f *PermitEvmScheme) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Accepted.Scheme != evm.SchemePermit {
		return nil, x402.NewVerifyError("invalid_scheme", "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError("network_mismatch", "", network, nil)
	}
	permit := payload.Payload.PaymentPermit
	if permit == nil {
		return nil, x402.NewVerifyError("missing_payment_permit", "", network, nil)
	}
	signature := payload.Payload.Signature
	if signature == "" {
		return nil, x402.NewVerifyError("missing_signature", "", network, nil)
	}

	networkStr := string(requirements.Network)
	netConfig, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_network_config", "", network, err)
	}

	// token_not_allowed: the permit's payToken must be this network's
	// endorsed default asset (or the asset named by requirements).
	expectedAsset, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_asset_info", "", network, err)
	}
	if !strings.EqualFold(permit.Payment.PayToken, expectedAsset.Address) {
		return nil, x402.NewVerifyError(x402.ReasonTokenNotAllowed, permit.Buyer, network, nil)
	}

	// amount_mismatch
	payAmount, ok := new(big.Int).SetString(permit.Payment.PayAmount, 10)
	if !ok {
		return nil, x402.NewVerifyError("invalid_pay_amount", permit.Buyer, network, nil)
	}
	requiredAmount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, x402.NewVerifyError("invalid_required_amount", permit.Buyer, network, fmt.Errorf("invalid amount: %s", requirements.Amount))
	}
	if payAmount.Cmp(requiredAmount) < 0 {
		return nil, x402.NewVerifyError(x402.ReasonAmountMismatch, permit.Buyer, network, nil)
	}

	// payto_mismatch
	if !strings.EqualFold(permit.Payment.PayTo, requirements.PayTo) {
		return nil, x402.NewVerifyError(x402.ReasonPayToMismatch, permit.Buyer, network, nil)
	}

	// token_mismatch (permit only): caller must equal this facilitator's
	// own signing address — a permit authorizing a different caller
	// can't be redeemed by this facilitator instance.
	if !strings.EqualFold(permit.Caller, f.signer.GetAddresses()[0]) {
		return nil, x402.NewVerifyError(x402.ReasonTokenMismatch, permit.Buyer, network, nil)
	}

	// fee_to_mismatch / fee_amount_mismatch / unsupported_token (permit only)
	feeAmount, ok := new(big.Int).SetString(permit.Fee.FeeAmount, 10)
	if !ok {
		return nil, x402.NewVerifyError(x402.ReasonUnsupportedToken, permit.Buyer, network, fmt.Errorf("invalid fee amount: %s", permit.Fee.FeeAmount))
	}
	if feeAmount.Sign() > 0 {
		if f.config.FeeCollector == "" || !strings.EqualFold(permit.Fee.FeeTo, f.config.FeeCollector) {
			return nil, x402.NewVerifyError(x402.ReasonFeeToMismatch, permit.Buyer, network, nil)
		}
		if expected, ok := requirements.FeeFromExtra(); ok {
			expectedFee, ok := new(big.Int).SetString(expected.FeeAmount, 10)
			if !ok || feeAmount.Cmp(expectedFee) != 0 {
				return nil, x402.NewVerifyError(x402.ReasonFeeAmountMismatch, permit.Buyer, network, nil)
			}
		}
	}

	// expired / not_yet_valid
	now := time.Now().Unix()
	if now >= permit.Meta.ValidBefore {
		return nil, x402.NewVerifyError(x402.ReasonExpired, permit.Buyer, network, nil)
	}
	if now < permit.Meta.ValidAfter {
		return nil, x402.NewVerifyError(x402.ReasonNotYetValid, permit.Buyer, network, nil)
	}

	// invalid_signature
	domainName, _, _ := requirements.NameVersion()
	if domainName == "" {
		domainName = expectedAsset.Name
	}
	digest, err := f.permitDigest(permit, domainName, netConfig.ChainID)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_build_digest", permit.Buyer, network, err)
	}
	signatureBytes, err := evm.HexToBytes(signature)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_signature_format", permit.Buyer, network, err)
	}
	recovered, err := eip712.Recover(digest, signatureBytes)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_recover_signer", permit.Buyer, network, err)
	}
	if !strings.EqualFold(recovered, permit.Buyer) {
		return nil, x402.NewVerifyError(x402.ReasonInvalidSignature, permit.Buyer, network, nil)
	}

	return &x402.VerifyResponse{IsValid: true, Payer: permit.Buyer}, nil
}

// Settle verifies and then redeems the permit on-chain via the engine
// contract's permitTransferFrom.
func (f *PermitEvmScheme) Settle(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.SettleResponse, error) {
	network := x402.Network(payload.Accepted.Network)

	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		var ve *x402.VerifyError
		if errors.As(err, &ve) {
			return nil, x402.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, x402.NewSettleError("verification_failed", "", network, "", err)
	}

	permit := payload.Payload.PaymentPermit
	signatureBytes, err := evm.HexToBytes(payload.Payload.Signature)
	if err != nil {
		return nil, x402.NewSettleError("invalid_signature_format", verifyResp.Payer, network, "", err)
	}

	onChain, err := toOnChainPermit(permit)
	if err != nil {
		return nil, x402.NewSettleError("invalid_permit", verifyResp.Payer, network, "", err)
	}

	txHash, err := f.signer.WriteContract(
		ctx,
		f.config.EngineContract,
		evm.PermitTransferFromABI,
		evm.FunctionPermitTransferFrom,
		onChain,
		signatureBytes,
	)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_execute_permit", verifyResp.Payer, network, "", err)
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_get_receipt", verifyResp.Payer, network, txHash, err)
	}
	if receipt.Status != evm.TxStatusSuccess {
		return nil, x402.NewSettleError(x402.ReasonTransactionFailed, verifyResp.Payer, network, txHash, nil)
	}

	return &x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     network,
		Payer:       verifyResp.Payer,
	}, nil
}

func (f *PermitEvmScheme) permitDigest(permit *types.PaymentPermit, domainName string, chainID *big.Int) ([32]byte, error) {
	var paymentID [16]byte
	idBytes, err := evm.HexToBytes(permit.Meta.PaymentID)
	if err != nil || len(idBytes) != 16 {
		return [32]byte{}, fmt.Errorf("invalid paymentId: %s", permit.Meta.PaymentID)
	}
	copy(paymentID[:], idBytes)

	nonce, ok := new(big.Int).SetString(permit.Meta.Nonce, 10)
	if !ok {
		return [32]byte{}, fmt.Errorf("invalid nonce: %s", permit.Meta.Nonce)
	}
	payAmount, ok := new(big.Int).SetString(permit.Payment.PayAmount, 10)
	if !ok {
		return [32]byte{}, fmt.Errorf("invalid payAmount: %s", permit.Payment.PayAmount)
	}
	feeAmount, ok := new(big.Int).SetString(permit.Fee.FeeAmount, 10)
	if !ok {
		return [32]byte{}, fmt.Errorf("invalid feeAmount: %s", permit.Fee.FeeAmount)
	}

	message := evm.PaymentPermitMessage(
		uint8(permit.Meta.Kind), paymentID, nonce,
		big.NewInt(permit.Meta.ValidAfter), big.NewInt(permit.Meta.ValidBefore),
		permit.Buyer, permit.Caller,
		permit.Payment.PayToken, payAmount, permit.Payment.PayTo,
		permit.Fee.FeeTo, feeAmount,
	)
	domain := evm.PermitDomain(domainName, chainID, f.config.EngineContract)
	return evm.PaymentPermitDigest(domain, message)
}

func toOnChainPermit(permit *types.PaymentPermit) (evm.PaymentPermitOnChain, error) {
	var out evm.PaymentPermitOnChain

	idBytes, err := evm.HexToBytes(permit.Meta.PaymentID)
	if err != nil || len(idBytes) != 16 {
		return out, fmt.Errorf("invalid paymentId: %s", permit.Meta.PaymentID)
	}
	var paymentID [16]byte
	copy(paymentID[:], idBytes)

	nonce, ok := new(big.Int).SetString(permit.Meta.Nonce, 10)
	if !ok {
		return out, fmt.Errorf("invalid nonce: %s", permit.Meta.Nonce)
	}
	payAmount, ok := new(big.Int).SetString(permit.Payment.PayAmount, 10)
	if !ok {
		return out, fmt.Errorf("invalid payAmount: %s", permit.Payment.PayAmount)
	}
	feeAmount, ok := new(big.Int).SetString(permit.Fee.FeeAmount, 10)
	if !ok {
		return out, fmt.Errorf("invalid feeAmount: %s", permit.Fee.FeeAmount)
	}

	out.Meta = evm.PermitMetaOnChain{
		Kind:        uint8(permit.Meta.Kind),
		PaymentId:   paymentID,
		Nonce:       nonce,
		ValidAfter:  big.NewInt(permit.Meta.ValidAfter),
		ValidBefore: big.NewInt(permit.Meta.ValidBefore),
	}
	out.Buyer = common.HexToAddress(permit.Buyer)
	out.Caller = common.HexToAddress(permit.Caller)
	out.Payment = evm.PaymentOnChain{
		PayToken:  common.HexToAddress(permit.Payment.PayToken),
		PayAmount: payAmount,
		PayTo:     common.HexToAddress(permit.Payment.PayTo),
	}
	out.Fee = evm.FeeOnChain{
		FeeTo:     common.HexToAddress(permit.Fee.FeeTo),
		FeeAmount: feeAmount,
	}
	return out, nil
}
