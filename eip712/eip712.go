// Package eip712 builds EIP-712 domain separators, type hashes, and
// signing digests from a dynamically-assembled type set rather than a
// fixed domain shape. The permit scheme's domain omits "version"; the
// transfer-authorization scheme's domain carries it. apitypes.TypedData
// (used by signers/evm/client.go) hardcodes both fields present, so this
// package exists to let a domain's field set vary with what's actually
// supplied.
package eip712

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Field names one member of an EIP-712 struct type.
type Field struct {
	Name string
	Type string
}

// TypeSet maps a type name to its ordered fields, mirroring the "types"
// object of an EIP-712 typed-data payload. It must contain every struct
// type referenced, directly or transitively, by the primary type.
type TypeSet map[string][]Field

// Domain is an EIP-712 domain separator. Version and Salt are optional;
// omitting them (leaving the zero value) drops them from both the
// EIP712Domain type and its hash, matching how different contracts
// declare narrower domains.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
	Salt              [32]byte
	HasSalt           bool
}

// fields returns this domain's EIP712Domain member list in canonical
// order, including only the fields actually populated.
func (d Domain) fields() []Field {
	var fs []Field
	if d.Name != "" {
		fs = append(fs, Field{"name", "string"})
	}
	if d.Version != "" {
		fs = append(fs, Field{"version", "string"})
	}
	if d.ChainID != nil {
		fs = append(fs, Field{"chainId", "uint256"})
	}
	if d.VerifyingContract != "" {
		fs = append(fs, Field{"verifyingContract", "address"})
	}
	if d.HasSalt {
		fs = append(fs, Field{"salt", "bytes32"})
	}
	return fs
}

func (d Domain) values() map[string]interface{} {
	m := map[string]interface{}{}
	if d.Name != "" {
		m["name"] = d.Name
	}
	if d.Version != "" {
		m["version"] = d.Version
	}
	if d.ChainID != nil {
		m["chainId"] = d.ChainID
	}
	if d.VerifyingContract != "" {
		m["verifyingContract"] = d.VerifyingContract
	}
	if d.HasSalt {
		m["salt"] = d.Salt[:]
	}
	return m
}

// encodeType renders a struct type's EIP-712 "encodeType" string:
// the named type's own signature followed by the signatures of every
// struct type it references, transitively, sorted alphabetically by
// type name (the primary type's own signature always comes first).
func encodeType(primary string, types TypeSet) (string, error) {
	referenced := map[string]bool{}
	var walk func(name string) error
	walk = func(name string) error {
		fs, ok := types[name]
		if !ok {
			return fmt.Errorf("eip712: type %q not declared in type set", name)
		}
		for _, f := range fs {
			base := stripArray(f.Type)
			if _, isStruct := types[base]; isStruct && !referenced[base] {
				referenced[base] = true
				if err := walk(base); err != nil {
					return err
				}
			}
		}
		return nil
	}
	delete(referenced, primary)
	if err := walk(primary); err != nil {
		return "", err
	}

	others := make([]string, 0, len(referenced))
	for name := range referenced {
		others = append(others, name)
	}
	sort.Strings(others)

	var b strings.Builder
	writeOne := func(name string) error {
		fs, ok := types[name]
		if !ok {
			return fmt.Errorf("eip712: type %q not declared in type set", name)
		}
		b.WriteString(name)
		b.WriteByte('(')
		for i, f := range fs {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(f.Type)
			b.WriteByte(' ')
			b.WriteString(f.Name)
		}
		b.WriteByte(')')
		return nil
	}
	if err := writeOne(primary); err != nil {
		return "", err
	}
	for _, name := range others {
		if err := writeOne(name); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func stripArray(t string) string {
	if idx := strings.IndexByte(t, '['); idx >= 0 {
		return t[:idx]
	}
	return t
}

// TypeHash returns keccak256(encodeType(primary)).
func TypeHash(primary string, types TypeSet) ([]byte, error) {
	encoded, err := encodeType(primary, types)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256([]byte(encoded)), nil
}

func toBigInt(v interface{}) (*big.Int, error) {
	switch t := v.(type) {
	case *big.Int:
		return t, nil
	case big.Int:
		return &t, nil
	case int64:
		return big.NewInt(t), nil
	case int:
		return big.NewInt(int64(t)), nil
	case string:
		n, ok := new(big.Int).SetString(t, 10)
		if !ok {
			return nil, fmt.Errorf("eip712: invalid integer literal %q", t)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("eip712: unsupported integer value of type %T", v)
	}
}

// encodeValue ABI-encodes a single field value into its 32-byte EIP-712
// "atomic" encoding, recursing into nested struct/array types.
func encodeValue(fieldType string, value interface{}, types TypeSet) ([]byte, error) {
	switch {
	case fieldType == "string":
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("eip712: expected string for field type %q, got %T", fieldType, value)
		}
		return crypto.Keccak256([]byte(s)), nil

	case fieldType == "bytes":
		b, err := toBytes(value)
		if err != nil {
			return nil, err
		}
		return crypto.Keccak256(b), nil

	case fieldType == "bool":
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("eip712: expected bool for field type %q, got %T", fieldType, value)
		}
		out := make([]byte, 32)
		if b {
			out[31] = 1
		}
		return out, nil

	case fieldType == "address":
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("eip712: expected address string for field type %q, got %T", fieldType, value)
		}
		return common.LeftPadBytes(common.HexToAddress(s).Bytes(), 32), nil

	case strings.HasPrefix(fieldType, "bytes") && fieldType != "bytes":
		b, err := toBytes(value)
		if err != nil {
			return nil, err
		}
		return common.RightPadBytes(b, 32), nil

	case strings.HasPrefix(fieldType, "uint") || strings.HasPrefix(fieldType, "int"):
		n, err := toBigInt(value)
		if err != nil {
			return nil, err
		}
		return common.LeftPadBytes(n.Bytes(), 32), nil

	case strings.HasSuffix(fieldType, "]"):
		return encodeArray(fieldType, value, types)

	default:
		if _, ok := types[fieldType]; ok {
			data, ok := value.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("eip712: expected map[string]interface{} for struct field type %q, got %T", fieldType, value)
			}
			return HashStruct(fieldType, types, data)
		}
		return nil, fmt.Errorf("eip712: unsupported field type %q", fieldType)
	}
}

func encodeArray(fieldType string, value interface{}, types TypeSet) ([]byte, error) {
	base := stripArray(fieldType)
	items, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("eip712: expected []interface{} for array field type %q, got %T", fieldType, value)
	}
	var encoded []byte
	for _, item := range items {
		enc, err := encodeValue(base, item, types)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, enc...)
	}
	return crypto.Keccak256(encoded), nil
}

func toBytes(value interface{}) ([]byte, error) {
	switch t := value.(type) {
	case []byte:
		return t, nil
	case string:
		s := strings.TrimPrefix(t, "0x")
		return common.FromHex("0x" + s), nil
	default:
		return nil, fmt.Errorf("eip712: expected []byte or hex string, got %T", value)
	}
}

// HashStruct computes keccak256(typeHash || encodeData(data)) for the
// named type, per EIP-712 §"Rationale for hashStruct".
func HashStruct(primary string, types TypeSet, data map[string]interface{}) ([]byte, error) {
	fields, ok := types[primary]
	if !ok {
		return nil, fmt.Errorf("eip712: type %q not declared in type set", primary)
	}
	typeHash, err := TypeHash(primary, types)
	if err != nil {
		return nil, err
	}
	out := append([]byte{}, typeHash...)
	for _, f := range fields {
		v, present := data[f.Name]
		if !present {
			return nil, fmt.Errorf("eip712: missing value for field %q of type %q", f.Name, primary)
		}
		enc, err := encodeValue(f.Type, v, types)
		if err != nil {
			return nil, fmt.Errorf("eip712: field %q of type %q: %w", f.Name, primary, err)
		}
		out = append(out, enc...)
	}
	return crypto.Keccak256(out), nil
}

// domainTypeSet is the EIP712Domain struct type for a given domain,
// sized to include only the fields that domain actually carries.
func domainTypeSet(d Domain) TypeSet {
	return TypeSet{"EIP712Domain": d.fields()}
}

// DomainSeparator computes hashStruct("EIP712Domain", domain).
func DomainSeparator(d Domain) ([]byte, error) {
	return HashStruct("EIP712Domain", domainTypeSet(d), d.values())
}

// Digest computes the final EIP-712 signing digest:
// keccak256(0x19 0x01 || domainSeparator || hashStruct(primaryType, message)).
func Digest(d Domain, types TypeSet, primaryType string, message map[string]interface{}) ([32]byte, error) {
	var digest [32]byte

	domainSeparator, err := DomainSeparator(d)
	if err != nil {
		return digest, err
	}
	structHash, err := HashStruct(primaryType, types, message)
	if err != nil {
		return digest, err
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	copy(digest[:], crypto.Keccak256(raw))
	return digest, nil
}

// Sign signs digest with privateKey and returns a 65-byte (r, s, v)
// signature with v normalized to the Ethereum convention (27 or 28).
func Sign(digest [32]byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], privateKey)
	if err != nil {
		return nil, fmt.Errorf("eip712: failed to sign digest: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// Recover returns the hex-20 address that produced signature over digest.
// Accepts either v convention (0/1 or 27/28).
func Recover(digest [32]byte, signature []byte) (string, error) {
	if len(signature) != 65 {
		return "", fmt.Errorf("eip712: expected 65-byte signature, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return "", fmt.Errorf("eip712: failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}
