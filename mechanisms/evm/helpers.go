package evm

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// HexToBytes decodes a "0x"-prefixed (or bare) hex string.
func HexToBytes(hexStr string) ([]byte, error) {
	hexStr = strings.TrimPrefix(hexStr, "0x")
	if len(hexStr)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	return common.FromHex("0x" + hexStr), nil
}

// BytesToHex encodes bytes as a bare hex string, without a "0x" prefix.
func BytesToHex(b []byte) string {
	return common.Bytes2Hex(append([]byte{}, b...))
}

// CreateNonce returns a fresh 32-byte hex nonce suitable for an EIP-3009
// authorization. Uniqueness, not predictability, is what the contract needs.
func CreateNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return "0x" + common.Bytes2Hex(buf), nil
}

// CreateValidityWindow returns [validAfter, validBefore) spanning now..now+window.
func CreateValidityWindow(window time.Duration) (validAfter, validBefore *big.Int) {
	now := time.Now().Unix()
	return big.NewInt(now), big.NewInt(now + int64(window.Seconds()))
}

// IsValidAddress reports whether address is a well-formed 20-byte hex
// address.
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// ParseAmount converts a decimal string (e.g. "1.50") into its smallest-unit
// integer representation for a token with the given decimal precision.
func ParseAmount(decimalAmount string, decimals int) (*big.Int, error) {
	parts := strings.SplitN(decimalAmount, ".", 2)
	whole := parts[0]
	if whole == "" {
		whole = "0"
	}
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", decimalAmount, decimals)
	}
	frac = frac + strings.Repeat("0", decimals-len(frac))

	combined, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount: %s", decimalAmount)
	}
	return combined, nil
}

// FormatAmount converts a smallest-unit integer amount back into its decimal
// string representation for a token with the given decimal precision.
func FormatAmount(amount *big.Int, decimals int) string {
	s := amount.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for len(s) <= decimals {
		s = "0" + s
	}
	whole := s[:len(s)-decimals]
	frac := strings.TrimRight(s[len(s)-decimals:], "0")

	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// IsValidNetwork reports whether network is a recognized CAIP-2 EVM network.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}

// GetNetworkConfig looks up the static configuration for a CAIP-2 network.
func GetNetworkConfig(network string) (NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unsupported network: %s", network)
	}
	return config, nil
}

// GetAssetInfo resolves asset metadata for a network. An empty or
// zero-address asset resolves to the network's default stablecoin; any other
// address is assumed to be that network's default asset's decimals/version
// since callers express the EIP-712 name/version override via Extra when it
// differs.
func GetAssetInfo(network string, asset string) (AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return AssetInfo{}, err
	}
	if asset == "" || strings.EqualFold(asset, config.DefaultAsset.Address) || strings.EqualFold(asset, ZeroAddress) {
		return config.DefaultAsset, nil
	}
	info := config.DefaultAsset
	info.Address = asset
	return info, nil
}

// HashEIP3009Authorization computes the EIP-712 digest for a
// transferWithAuthorization message under the given token domain.
func HashEIP3009Authorization(
	authorization ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	value, ok := new(big.Int).SetString(authorization.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value: %s", authorization.Value)
	}
	validAfter, ok := new(big.Int).SetString(authorization.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter: %s", authorization.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(authorization.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore: %s", authorization.ValidBefore)
	}
	nonceBytes, err := HexToBytes(authorization.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":              toAPITypes(EIP712DomainFields),
			"TransferWithAuthorization": toAPITypes(TransferWithAuthorizationFields),
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              tokenName,
			Version:           tokenVersion,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: verifyingContract,
		},
		Message: map[string]interface{}{
			"from":        authorization.From,
			"to":          authorization.To,
			"value":       value,
			"validAfter":  validAfter,
			"validBefore": validBefore,
			"nonce":       nonceBytes,
		},
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

func toAPITypes(fields []TypedDataField) []apitypes.Type {
	out := make([]apitypes.Type, len(fields))
	for i, f := range fields {
		out[i] = apitypes.Type{Name: f.Name, Type: f.Type}
	}
	return out
}

// RecoverSigner recovers the EOA address that produced a 65-byte (r, s, v)
// ECDSA signature over hash. This engine targets externally-owned wallets
// only; contract-wallet signature schemes (EIP-1271/ERC-6492) are out of scope.
func RecoverSigner(hash [32]byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("expected 65-byte ECDSA signature, got %d bytes", len(signature))
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(hash[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}
