// Package address abstracts over the two address families the core spec
// recognizes: plain hex-20 (EVM) and base58check TRON addresses. Schemes
// normalize addresses through a Converter so comparisons, zero-address
// checks, and EIP-712 "verifyingContract"/signer-recovery values are
// never family-specific.
package address

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// Family identifies an address display convention.
type Family string

const (
	FamilyHex20      Family = "hex20"
	FamilyBase58Tron Family = "base58-tron"
)

// Converter normalizes addresses of one family and relates them to the
// hex-20 form every signing/recovery routine operates on internally.
type Converter interface {
	// Normalize canonicalizes an address to its family's display form.
	// A recognized "all zero" placeholder (e.g. TRON's "T000...000")
	// canonicalizes to that family's actual zero address.
	Normalize(addr string) (string, error)
	// ToSigningAddress converts addr to the hex-20 form used internally
	// by EIP-712 digests and ECDSA signer recovery.
	ToSigningAddress(addr string) (string, error)
	// ZeroAddress returns the family's zero/burn address in its native
	// display form.
	ZeroAddress() string
}

// ForFamily returns the Converter for a CAIP-2 namespace ("eip155" or
// "tron"). Any other namespace is an error — the data model recognizes
// only these two address families.
func ForFamily(caipNamespace string) (Converter, error) {
	switch caipNamespace {
	case "eip155":
		return Hex20Converter{}, nil
	case "tron":
		return Base58TronConverter{}, nil
	default:
		return nil, fmt.Errorf("address: unsupported family %q", caipNamespace)
	}
}

// Hex20Converter handles plain 20-byte hex addresses (EVM EOAs/contracts).
type Hex20Converter struct{}

func (Hex20Converter) Normalize(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("address: %q is not a valid hex-20 address", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

func (Hex20Converter) ToSigningAddress(addr string) (string, error) {
	return Hex20Converter{}.Normalize(addr)
}

func (Hex20Converter) ZeroAddress() string {
	return common.Address{}.Hex()
}

// tronAddressVersion is the single-byte network prefix TRON base58check
// addresses carry ahead of the 20-byte payload (0x41, "mainnet").
const tronAddressVersion = 0x41

// isZeroPlaceholder recognizes the common "all digits, no checksum"
// placeholder some SDKs use for "no address" — e.g. "T0000000...0000" —
// distinct from a genuine base58check-encoded zero address.
func isZeroPlaceholder(addr string) bool {
	if len(addr) == 0 || addr[0] != 'T' {
		return false
	}
	for _, r := range addr[1:] {
		if r != '0' {
			return false
		}
	}
	return true
}

// Base58TronConverter handles TRON's base58check address display
// (0x41-prefixed 21-byte payload, double-SHA-256 checksum).
type Base58TronConverter struct{}

func (c Base58TronConverter) Normalize(addr string) (string, error) {
	if isZeroPlaceholder(addr) {
		return c.ZeroAddress(), nil
	}
	payload, err := decodeBase58Check(addr)
	if err != nil {
		return "", err
	}
	return encodeBase58Check(payload), nil
}

func (c Base58TronConverter) ToSigningAddress(addr string) (string, error) {
	if isZeroPlaceholder(addr) {
		return common.Address{}.Hex(), nil
	}
	payload, err := decodeBase58Check(addr)
	if err != nil {
		return "", err
	}
	return common.BytesToAddress(payload).Hex(), nil
}

func (c Base58TronConverter) ZeroAddress() string {
	zero := make([]byte, 20)
	return encodeBase58Check(zero)
}

// decodeBase58Check decodes a TRON address to its bare 20-byte payload,
// verifying the version byte and double-SHA-256 checksum.
func decodeBase58Check(addr string) ([]byte, error) {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("address: invalid base58 encoding: %w", err)
	}
	if len(decoded) != 25 {
		return nil, fmt.Errorf("address: expected 25-byte decoded payload, got %d", len(decoded))
	}

	versionAndPayload := decoded[:21]
	checksum := decoded[21:]
	if versionAndPayload[0] != tronAddressVersion {
		return nil, fmt.Errorf("address: unexpected version byte 0x%x", versionAndPayload[0])
	}

	first := sha256.Sum256(versionAndPayload)
	second := sha256.Sum256(first[:])
	if !bytes.Equal(second[:4], checksum) {
		return nil, fmt.Errorf("address: checksum mismatch")
	}

	payload := make([]byte, 20)
	copy(payload, versionAndPayload[1:])
	return payload, nil
}

// encodeBase58Check encodes a bare 20-byte payload as a TRON address.
func encodeBase58Check(payload []byte) string {
	versionAndPayload := make([]byte, 0, 21)
	versionAndPayload = append(versionAndPayload, tronAddressVersion)
	versionAndPayload = append(versionAndPayload, payload...)

	first := sha256.Sum256(versionAndPayload)
	second := sha256.Sum256(first[:])

	full := make([]byte, 0, 25)
	full = append(full, versionAndPayload...)
	full = append(full, second[:4]...)
	return base58.Encode(full)
}
