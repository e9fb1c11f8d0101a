// Package facilitator implements the contract-mediated PaymentPermit
// scheme's TRON facilitator side: validate a signed PaymentPermit against
// the invariant order in core spec §4.4, then redeem it by calling the
// engine contract's permitTransferFrom.
package facilitator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/trx402/engine"
	"github.com/trx402/engine/address"
	"github.com/trx402/engine/eip712"
	"github.com/trx402/engine/mechanisms/tron"
	"github.com/trx402/engine/types"
)

// PermitTronSchemeConfig configures the engine contract and fee collector
// this facilitator redeems permits through.
type PermitTronSchemeConfig struct {
	EngineContract string
	FeeCollector   string
}

// PermitTronScheme implements SchemeNetworkFacilitator for the
// PaymentPermit scheme on TRON.
type PermitTronScheme struct {
	signer tron.FacilitatorTronSigner
	config PermitTronSchemeConfig
}

// NewPermitTronScheme creates a new PermitTronScheme.
func NewPermitTronScheme(signer tron.FacilitatorTronSigner, config PermitTronSchemeConfig) *PermitTronScheme {
	return &PermitTronScheme{signer: signer, config: config}
}

func (f *PermitTronScheme) Scheme() string {
	return tron.SchemePermit
}

func (f *PermitTronScheme) CaipFamily() string {
	return "tron:*"
}

func (f *PermitTronScheme) GetExtra(network x402.Network) map[string]interface{} {
	addrs := f.signer.GetAddresses(context.Background(), string(network))
	var caller string
	if len(addrs) > 0 {
		caller = addrs[0]
	}
	return map[string]interface{}{
		"engineContract": f.config.EngineContract,
		"caller":         caller,
	}
}

func (f *PermitTronScheme) GetSigners(network x402.Network) []string {
	return f.signer.GetAddresses(context.Background(), string(network))
}

// Verify validates a PaymentPermit against requirements, checking
// invariants in the order core spec §4.4 defines: the first violation
// found is the one reported.
func (f *PermitTronScheme) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Accepted.Scheme != tron.SchemePermit {
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
	netConfig, err := tron.GetNetworkConfig(networkStr)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_network_config", "", network, err)
	}

	// token_not_allowed
	expectedAsset, err := tron.GetAssetInfo(networkStr, requirements.Asset)
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

	// token_mismatch (permit only): caller must be this facilitator's own
	// signing address.
	addrs := f.signer.GetAddresses(ctx, networkStr)
	if len(addrs) == 0 || !strings.EqualFold(permit.Caller, addrs[0]) {
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
	signatureBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return nil, x402.NewVerifyError("invalid_signature_format", permit.Buyer, network, err)
	}
	recoveredHex, err := eip712.Recover(digest, signatureBytes)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_recover_signer", permit.Buyer, network, err)
	}
	converter, err := address.ForFamily("tron")
	if err != nil {
		return nil, x402.NewVerifyError("unsupported_address_family", permit.Buyer, network, err)
	}
	buyerHex, err := converter.ToSigningAddress(permit.Buyer)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_buyer_address", permit.Buyer, network, err)
	}
	if !strings.EqualFold(recoveredHex, buyerHex) {
		return nil, x402.NewVerifyError(x402.ReasonInvalidSignature, permit.Buyer, network, nil)
	}

	return &x402.VerifyResponse{IsValid: true, Payer: permit.Buyer}, nil
}

// Settle verifies and then redeems the permit on-chain via the engine
// contract's permitTransferFrom.
func (f *PermitTronScheme) Settle(
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
	signatureBytes, err := hex.DecodeString(strings.TrimPrefix(payload.Payload.Signature, "0x"))
	if err != nil {
		return nil, x402.NewSettleError("invalid_signature_format", verifyResp.Payer, network, "", err)
	}

	onChain, err := toOnChainPermit(permit)
	if err != nil {
		return nil, x402.NewSettleError("invalid_permit", verifyResp.Payer, network, "", err)
	}

	networkStr := string(requirements.Network)
	txID, err := f.signer.CallContract(
		ctx, networkStr, f.config.EngineContract,
		tron.PermitTransferFromABI, tron.FunctionPermitTransferFrom,
		tron.DefaultFeeLimit,
		onChain, signatureBytes,
	)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_execute_permit", verifyResp.Payer, network, "", err)
	}

	confirmation, err := f.signer.WaitForTransaction(ctx, tron.WaitForTransactionParams{TxId: txID, Network: networkStr})
	if err != nil {
		return nil, x402.NewSettleError("failed_to_confirm_transaction", verifyResp.Payer, network, txID, err)
	}
	if !confirmation.Success {
		return nil, x402.NewSettleError(x402.ReasonTransactionFailed, verifyResp.Payer, network, txID, fmt.Errorf("%s", confirmation.Error))
	}

	return &x402.SettleResponse{
		Success:     true,
		Transaction: txID,
		Network:     network,
		Payer:       verifyResp.Payer,
	}, nil
}

func (f *PermitTronScheme) permitDigest(permit *types.PaymentPermit, domainName string, chainID *big.Int) ([32]byte, error) {
	var digest [32]byte

	converter, err := address.ForFamily("tron")
	if err != nil {
		return digest, err
	}

	idBytes, err := hex.DecodeString(strings.TrimPrefix(permit.Meta.PaymentID, "0x"))
	if err != nil || len(idBytes) != 16 {
		return digest, fmt.Errorf("invalid paymentId: %s", permit.Meta.PaymentID)
	}

	nonce, ok := new(big.Int).SetString(permit.Meta.Nonce, 10)
	if !ok {
		return digest, fmt.Errorf("invalid nonce: %s", permit.Meta.Nonce)
	}
	payAmount, ok := new(big.Int).SetString(permit.Payment.PayAmount, 10)
	if !ok {
		return digest, fmt.Errorf("invalid payAmount: %s", permit.Payment.PayAmount)
	}
	feeAmount, ok := new(big.Int).SetString(permit.Fee.FeeAmount, 10)
	if !ok {
		return digest, fmt.Errorf("invalid feeAmount: %s", permit.Fee.FeeAmount)
	}

	buyerHex, err := converter.ToSigningAddress(permit.Buyer)
	if err != nil {
		return digest, err
	}
	callerHex, err := converter.ToSigningAddress(permit.Caller)
	if err != nil {
		return digest, err
	}
	payTokenHex, err := converter.ToSigningAddress(permit.Payment.PayToken)
	if err != nil {
		return digest, err
	}
	payToHex, err := converter.ToSigningAddress(permit.Payment.PayTo)
	if err != nil {
		return digest, err
	}
	feeToHex, err := converter.ToSigningAddress(permit.Fee.FeeTo)
	if err != nil {
		return digest, err
	}
	engineContractHex, err := converter.ToSigningAddress(f.config.EngineContract)
	if err != nil {
		return digest, err
	}

	message := map[string]interface{}{
		"meta": map[string]interface{}{
			"kind":        uint8(permit.Meta.Kind),
			"paymentId":   idBytes,
			"nonce":       nonce,
			"validAfter":  big.NewInt(permit.Meta.ValidAfter),
			"validBefore": big.NewInt(permit.Meta.ValidBefore),
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
		ChainID:           chainID,
		VerifyingContract: engineContractHex,
	}
	return eip712.Digest(domain, tron.PaymentPermitTypes, "PaymentPermitDetails", message)
}

// permitMetaOnChain, paymentOnChain, feeOnChain, and paymentPermitOnChain
// mirror the engine contract's permitTransferFrom tuple layout, matching
// evm.PaymentPermitOnChain's shape with TRON's hex-20 signing addresses.
type permitMetaOnChain struct {
	Kind        uint8
	PaymentId   [16]byte
	Nonce       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
}

type paymentOnChain struct {
	PayToken  common.Address
	PayAmount *big.Int
	PayTo     common.Address
}

type feeOnChain struct {
	FeeTo     common.Address
	FeeAmount *big.Int
}

type paymentPermitOnChain struct {
	Meta    permitMetaOnChain
	Buyer   common.Address
	Caller  common.Address
	Payment paymentOnChain
	Fee     feeOnChain
}

func toOnChainPermit(permit *types.PaymentPermit) (paymentPermitOnChain, error) {
	var out paymentPermitOnChain

	converter, err := address.ForFamily("tron")
	if err != nil {
		return out, err
	}

	idBytes, err := hex.DecodeString(strings.TrimPrefix(permit.Meta.PaymentID, "0x"))
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

	buyerHex, err := converter.ToSigningAddress(permit.Buyer)
	if err != nil {
		return out, err
	}
	callerHex, err := converter.ToSigningAddress(permit.Caller)
	if err != nil {
		return out, err
	}
	payTokenHex, err := converter.ToSigningAddress(permit.Payment.PayToken)
	if err != nil {
		return out, err
	}
	payToHex, err := converter.ToSigningAddress(permit.Payment.PayTo)
	if err != nil {
		return out, err
	}
	feeToHex, err := converter.ToSigningAddress(permit.Fee.FeeTo)
	if err != nil {
		return out, err
	}

	out.Meta = permitMetaOnChain{
		Kind:        uint8(permit.Meta.Kind),
		PaymentId:   paymentID,
		Nonce:       nonce,
		ValidAfter:  big.NewInt(permit.Meta.ValidAfter),
		ValidBefore: big.NewInt(permit.Meta.ValidBefore),
	}
	out.Buyer = common.HexToAddress(buyerHex)
	out.Caller = common.HexToAddress(callerHex)
	out.Payment = paymentOnChain{
		PayToken:  common.HexToAddress(payTokenHex),
		PayAmount: payAmount,
		PayTo:     common.HexToAddress(payToHex),
	}
	out.Fee = feeOnChain{FeeTo: common.HexToAddress(feeToHex), FeeAmount: feeAmount}
	return out, nil
}
