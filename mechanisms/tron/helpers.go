package tron

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"
)

// IsValidNetwork reports whether network is a recognized CAIP-2 TRON network.
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

// GetAssetInfo resolves TRC20 asset metadata for a network. An empty
// asset resolves to the network's default stablecoin (USDT).
func GetAssetInfo(network string, asset string) (AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return AssetInfo{}, err
	}
	if asset == "" || asset == config.DefaultAsset.Address {
		return config.DefaultAsset, nil
	}
	info := config.DefaultAsset
	info.Address = asset
	return info, nil
}

// IsValidAddress reports whether address is a well-formed base58check TRON
// address.
func IsValidAddress(address string) bool {
	return ValidateTronAddress(address)
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

// ValidateTronAddress checks that address is a well-formed base58check
// TRON address: a 0x41-prefixed 21-byte payload with a valid SHA-256d
// checksum.
func ValidateTronAddress(address string) bool {
	if len(address) == 0 || address[0] != 'T' {
		return false
	}
	decoded, err := base58.Decode(address)
	if err != nil {
		return false
	}
	if len(decoded) != 25 {
		return false
	}
	payload, checksum := decoded[:21], decoded[21:]
	if payload[0] != 0x41 {
		return false
	}
	hash1 := sha256.Sum256(payload)
	hash2 := sha256.Sum256(hash1[:])
	return string(hash2[:4]) == string(checksum)
}
