package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/trx402/engine"
	"github.com/trx402/engine/mechanisms/evm"
	"github.com/trx402/engine/types"
)

// ExactEvmSchemeConfig holds configuration for the ExactEvmScheme facilitator.
type ExactEvmSchemeConfig struct{}

// ExactEvmScheme implements SchemeNetworkFacilitator for the EVM exact
// (EIP-3009 transferWithAuthorization) scheme. It targets externally-owned
// wallets; contract-wallet signature schemes are not supported.
type ExactEvmScheme struct {
	signer evm.FacilitatorEvmSigner
	config ExactEvmSchemeConfig
}

// NewExactEvmScheme creates a new ExactEvmScheme.
func NewExactEvmScheme(signer evm.FacilitatorEvmSigner, config *ExactEvmSchemeConfig) *ExactEvmScheme {
	cfg := ExactEvmSchemeConfig{}
	if config != nil {
		cfg = *config
	}
	return &ExactEvmScheme{signer: signer, config: cfg}
}

// Scheme returns the scheme identifier.
func (f *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator supports.
func (f *ExactEvmScheme) CaipFamily() string {
	return "eip155:*"
}

// GetExtra returns mechanism-specific extra data for the supported kinds endpoint.
func (f *ExactEvmScheme) GetExtra(_ x402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns the addresses this facilitator can sign/settle from.
func (f *ExactEvmScheme) GetSigners(_ x402.Network) []string {
	return f.signer.GetAddresses()
}

// Verify checks a payment payload against requirements without settling it.
func (f *ExactEvmScheme) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Accepted.Scheme != evm.SchemeExact {
		return nil, x402.NewVerifyError("invalid_scheme", "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError("network_mismatch", "", network, nil)
	}

	auth, err := types.ExtractTransferAuthorization(payload.Extensions)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_payload", "", network, err)
	}
	signature := payload.Payload.Signature
	if signature == "" {
		return nil, x402.NewVerifyError("missing_signature", "", network, nil)
	}
	authorization := evm.FromTransferAuthorization(auth.From, auth.To, auth.Value, auth.Nonce, auth.ValidAfter, auth.ValidBefore)

	networkStr := string(requirements.Network)
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_network_config", "", network, err)
	}

	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_asset_info", "", network, err)
	}

	if !strings.EqualFold(authorization.To, requirements.PayTo) {
		return nil, x402.NewVerifyError(x402.ReasonPayToMismatch, "", network, nil)
	}

	authValue, ok := new(big.Int).SetString(authorization.Value, 10)
	if !ok {
		return nil, x402.NewVerifyError("invalid_authorization_value", "", network, nil)
	}
	requiredValue, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, x402.NewVerifyError("invalid_required_amount", "", network, fmt.Errorf("invalid amount: %s", requirements.Amount))
	}
	if authValue.Cmp(requiredValue) < 0 {
		return nil, x402.NewVerifyError(x402.ReasonAmountMismatch, authorization.From, network, nil)
	}

	nonceUsed, err := f.checkNonceUsed(ctx, authorization.From, authorization.Nonce, assetInfo.Address)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_check_nonce", authorization.From, network, err)
	}
	if nonceUsed {
		return nil, x402.NewVerifyError(x402.ReasonNonceAlreadyUsed, authorization.From, network, nil)
	}

	balance, err := f.signer.GetBalance(ctx, authorization.From, assetInfo.Address)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_balance", authorization.From, network, err)
	}
	if balance.Cmp(authValue) < 0 {
		return nil, x402.NewVerifyError(x402.ReasonInsufficientBalance, authorization.From, network, nil)
	}

	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			tokenName = name
		}
		if version, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = version
		}
	}

	signatureBytes, err := evm.HexToBytes(signature)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_signature_format", authorization.From, network, err)
	}

	valid, err := f.verifySignature(authorization, signatureBytes, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_verify_signature", authorization.From, network, err)
	}
	if !valid {
		return nil, x402.NewVerifyError(x402.ReasonInvalidSignature, authorization.From, network, nil)
	}

	return &x402.VerifyResponse{IsValid: true, Payer: authorization.From}, nil
}

// Settle verifies and then executes a payment on-chain.
func (f *ExactEvmScheme) Settle(
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
	authorization := evm.FromTransferAuthorization(auth.From, auth.To, auth.Value, auth.Nonce, auth.ValidAfter, auth.ValidBefore)

	networkStr := string(requirements.Network)
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_get_asset_info", verifyResp.Payer, network, "", err)
	}

	signatureBytes, err := evm.HexToBytes(payload.Payload.Signature)
	if err != nil {
		return nil, x402.NewSettleError("invalid_signature_format", verifyResp.Payer, network, "", err)
	}
	if len(signatureBytes) != 65 {
		return nil, x402.NewSettleError(x402.ReasonInvalidSignature, verifyResp.Payer, network, "", fmt.Errorf("expected 65-byte ECDSA signature, got %d", len(signatureBytes)))
	}

	value, _ := new(big.Int).SetString(authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(authorization.ValidBefore, 10)
	nonceBytes, _ := evm.HexToBytes(authorization.Nonce)

	r := signatureBytes[0:32]
	s := signatureBytes[32:64]
	v := signatureBytes[64]

	txHash, err := f.signer.WriteContract(
		ctx,
		assetInfo.Address,
		evm.TransferWithAuthorizationVRSABI,
		evm.FunctionTransferWithAuthorization,
		common.HexToAddress(authorization.From),
		common.HexToAddress(authorization.To),
		value,
		validAfter,
		validBefore,
		[32]byte(nonceBytes),
		v,
		[32]byte(r),
		[32]byte(s),
	)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_execute_transfer", verifyResp.Payer, network, "", err)
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

// checkNonceUsed reads the authorizationState view to see if the nonce has
// already been spent.
func (f *ExactEvmScheme) checkNonceUsed(ctx context.Context, from string, nonce string, tokenAddress string) (bool, error) {
	nonceBytes, err := evm.HexToBytes(nonce)
	if err != nil {
		return false, err
	}

	result, err := f.signer.ReadContract(
		ctx,
		tokenAddress,
		evm.AuthorizationStateABI,
		evm.FunctionAuthorizationState,
		common.HexToAddress(from),
		[32]byte(nonceBytes),
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

// verifySignature recovers the EOA address from the EIP-712 signature and
// checks it matches the authorization's "from" address.
func (f *ExactEvmScheme) verifySignature(
	authorization evm.ExactEIP3009Authorization,
	signature []byte,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) (bool, error) {
	hash, err := evm.HashEIP3009Authorization(authorization, chainID, verifyingContract, tokenName, tokenVersion)
	if err != nil {
		return false, err
	}

	var hash32 [32]byte
	copy(hash32[:], hash)

	recovered, err := evm.RecoverSigner(hash32, signature)
	if err != nil {
		return false, err
	}

	return strings.EqualFold(recovered.Hex(), authorization.From), nil
}
