// Package facilitator implements the TRON exact (EIP-712
// transferWithAuthorization) scheme's facilitator side: verify the signed
// authorization, then redeem it by calling the TRC20 token's own
// transferWithAuthorization.
package facilitator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/trx402/engine"
	"github.com/trx402/engine/address"
	"github.com/trx402/engine/eip712"
	"github.com/trx402/engine/mechanisms/tron"
	"github.com/trx402/engine/types"
)

// ExactTronScheme implements SchemeNetworkFacilitator for the TRON exact
// scheme. It targets externally-owned wallets; contract-wallet signature
// schemes are not supported.
type ExactTronScheme struct {
	signer tron.FacilitatorTronSigner
}

// NewExactTronScheme creates a new ExactTronScheme.
func NewExactTronScheme(signer tron.FacilitatorTronSigner) *ExactTronScheme {
	return &ExactTronScheme{signer: signer}
}

// Scheme returns the scheme identifier.
func (f *ExactTronScheme) Scheme() string {
	return tron.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator supports.
func (f *ExactTronScheme) CaipFamily() string {
	return "tron:*"
}

// GetExtra returns mechanism-specific extra data for the supported kinds endpoint.
func (f *ExactTronScheme) GetExtra(network x402.Network) map[string]interface{} {
	config, err := tron.GetNetworkConfig(string(network))
	if err != nil {
		return nil
	}
	return map[string]interface{}{
		"defaultAsset": config.DefaultAsset.Address,
		"symbol":       config.DefaultAsset.Symbol,
		"decimals":     config.DefaultAsset.Decimals,
	}
}

// GetSigners returns the addresses this facilitator can settle from.
func (f *ExactTronScheme) GetSigners(network x402.Network) []string {
	return f.signer.GetAddresses(context.Background(), string(network))
}

// Verify checks a payment payload against requirements without settling it.
func (f *ExactTronScheme) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Accepted.Scheme != tron.SchemeExact {
		return nil, x402.NewVerifyError("invalid_scheme", "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError("network_mismatch", "", network, nil)
	}
	networkStr := string(requirements.Network)
	if !tron.IsValidNetwork(networkStr) {
		return nil, x402.NewVerifyError("unsupported_network", "", network, nil)
	}

	auth, err := types.ExtractTransferAuthorization(payload.Extensions)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_payload", "", network, err)
	}
	signature := payload.Payload.Signature
	if signature == "" {
		return nil, x402.NewVerifyError("missing_signature", auth.From, network, nil)
	}

	netConfig, err := tron.GetNetworkConfig(networkStr)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_network_config", auth.From, network, err)
	}
	assetInfo, err := tron.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_asset_info", auth.From, network, err)
	}

	converter, err := address.ForFamily("tron")
	if err != nil {
		return nil, x402.NewVerifyError("unsupported_address_family", auth.From, network, err)
	}

	if !strings.EqualFold(auth.To, requirements.PayTo) {
		return nil, x402.NewVerifyError(x402.ReasonPayToMismatch, auth.From, network, nil)
	}

	authValue, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, x402.NewVerifyError("invalid_authorization_value", auth.From, network, nil)
	}
	requiredValue, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, x402.NewVerifyError("invalid_required_amount", auth.From, network, fmt.Errorf("invalid amount: %s", requirements.Amount))
	}
	if authValue.Cmp(requiredValue) < 0 {
		return nil, x402.NewVerifyError(x402.ReasonAmountMismatch, auth.From, network, nil)
	}

	nonceUsed, err := f.checkNonceUsed(ctx, networkStr, assetInfo.Address, auth.From, auth.Nonce)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_check_nonce", auth.From, network, err)
	}
	if nonceUsed {
		return nil, x402.NewVerifyError(x402.ReasonNonceAlreadyUsed, auth.From, network, nil)
	}

	balance, err := f.signer.GetBalance(ctx, tron.GetBalanceParams{
		OwnerAddress:    auth.From,
		ContractAddress: assetInfo.Address,
		Network:         networkStr,
	})
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_balance", auth.From, network, err)
	}
	balanceInt, ok := new(big.Int).SetString(balance, 10)
	if !ok || balanceInt.Cmp(authValue) < 0 {
		return nil, x402.NewVerifyError(x402.ReasonInsufficientBalance, auth.From, network, nil)
	}

	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if name, ok := requirements.Extra["name"].(string); ok && name != "" {
		tokenName = name
	}
	if ver, ok := requirements.Extra["version"].(string); ok && ver != "" {
		tokenVersion = ver
	}

	digest, err := f.authorizationDigest(converter, auth, netConfig.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_build_digest", auth.From, network, err)
	}
	signatureBytes, err := decodeHex(signature)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_signature_format", auth.From, network, err)
	}
	recoveredHex, err := eip712.Recover(digest, signatureBytes)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_recover_signer", auth.From, network, err)
	}
	fromHex, err := converter.ToSigningAddress(auth.From)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_from_address", auth.From, network, err)
	}
	if !strings.EqualFold(recoveredHex, fromHex) {
		return nil, x402.NewVerifyError(x402.ReasonInvalidSignature, auth.From, network, nil)
	}

	return &x402.VerifyResponse{IsValid: true, Payer: auth.From}, nil
}

// Settle verifies and then executes the transfer on-chain.
func (f *ExactTronScheme) Settle(
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

	auth, err := types.ExtractTransferAuthorization(payload.Extensions)
	if err != nil {
		return nil, x402.NewSettleError("invalid_payload", verifyResp.Payer, network, "", err)
	}

	networkStr := string(requirements.Network)
	assetInfo, err := tron.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_get_asset_info", verifyResp.Payer, network, "", err)
	}
	converter, err := address.ForFamily("tron")
	if err != nil {
		return nil, x402.NewSettleError("unsupported_address_family", verifyResp.Payer, network, "", err)
	}

	signatureBytes, err := decodeHex(payload.Payload.Signature)
	if err != nil {
		return nil, x402.NewSettleError("invalid_signature_format", verifyResp.Payer, network, "", err)
	}
	if len(signatureBytes) != 65 {
		return nil, x402.NewSettleError(x402.ReasonInvalidSignature, verifyResp.Payer, network, "", fmt.Errorf("expected 65-byte ECDSA signature, got %d", len(signatureBytes)))
	}

	value, _ := new(big.Int).SetString(auth.Value, 10)
	nonceBytes, err := decodeHex(auth.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		return nil, x402.NewSettleError("invalid_nonce", verifyResp.Payer, network, "", fmt.Errorf("invalid nonce: %s", auth.Nonce))
	}

	fromHex, err := converter.ToSigningAddress(auth.From)
	if err != nil {
		return nil, x402.NewSettleError("invalid_from_address", verifyResp.Payer, network, "", err)
	}
	toHex, err := converter.ToSigningAddress(auth.To)
	if err != nil {
		return nil, x402.NewSettleError("invalid_to_address", verifyResp.Payer, network, "", err)
	}

	r := signatureBytes[0:32]
	s := signatureBytes[32:64]
	v := signatureBytes[64]

	txID, err := f.signer.CallContract(
		ctx, networkStr, assetInfo.Address,
		tron.TransferWithAuthorizationABI, tron.FunctionTransferWithAuthorization,
		tron.DefaultFeeLimit,
		common.HexToAddress(fromHex), common.HexToAddress(toHex), value,
		big.NewInt(auth.ValidAfter), big.NewInt(auth.ValidBefore),
		[32]byte(nonceBytes), v, [32]byte(r), [32]byte(s),
	)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_execute_transfer", verifyResp.Payer, network, "", err)
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

// checkNonceUsed reads the authorizationState view to see if the nonce has
// already been spent.
func (f *ExactTronScheme) checkNonceUsed(ctx context.Context, network, tokenAddress, from, nonce string) (bool, error) {
	converter, err := address.ForFamily("tron")
	if err != nil {
		return false, err
	}
	fromHex, err := converter.ToSigningAddress(from)
	if err != nil {
		return false, err
	}
	nonceBytes, err := decodeHex(nonce)
	if err != nil || len(nonceBytes) != 32 {
		return false, fmt.Errorf("invalid nonce: %s", nonce)
	}

	result, err := f.signer.ReadContract(
		ctx, network, tokenAddress,
		tron.AuthorizationStateABI, tron.FunctionAuthorizationState,
		common.HexToAddress(fromHex), [32]byte(nonceBytes),
	)
	if err != nil {
		return false, err
	}
	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type from authorizationState")
	}
	return used, nil
}

// authorizationDigest builds the EIP-712 digest the payer signed, with
// addresses normalized to hex-20 form for the signing domain.
func (f *ExactTronScheme) authorizationDigest(
	converter address.Converter,
	auth *types.TransferAuthorization,
	chainID *big.Int,
	tokenAddress, tokenName, tokenVersion string,
) ([32]byte, error) {
	var digest [32]byte

	fromHex, err := converter.ToSigningAddress(auth.From)
	if err != nil {
		return digest, err
	}
	toHex, err := converter.ToSigningAddress(auth.To)
	if err != nil {
		return digest, err
	}
	verifyingContract, err := converter.ToSigningAddress(tokenAddress)
	if err != nil {
		return digest, err
	}
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return digest, fmt.Errorf("invalid value: %s", auth.Value)
	}
	nonceBytes, err := decodeHex(auth.Nonce)
	if err != nil {
		return digest, err
	}

	domain := eip712.Domain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
	message := map[string]interface{}{
		"from":        fromHex,
		"to":          toHex,
		"value":       value,
		"validAfter":  big.NewInt(auth.ValidAfter),
		"validBefore": big.NewInt(auth.ValidBefore),
		"nonce":       nonceBytes,
	}
	return eip712.Digest(domain, tron.TransferAuthorizationTypes, "TransferWithAuthorization", message)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
