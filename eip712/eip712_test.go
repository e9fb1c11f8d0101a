package eip712_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trx402/engine/eip712"
)

var exactTransferTypes = eip712.TypeSet{
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

func exactTransferMessage() map[string]interface{} {
	return map[string]interface{}{
		"from":        "0x0000000000000000000000000000000000000001",
		"to":          "0x0000000000000000000000000000000000000002",
		"value":       "1000000",
		"validAfter":  "0",
		"validBefore": "9999999999",
		"nonce":       "0x" + "11223344556677889900112233445566778899001122334455667788990011",
	}
}

func TestDigest_Deterministic(t *testing.T) {
	domain := eip712.Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(8453),
		VerifyingContract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	}

	d1, err := eip712.Digest(domain, exactTransferTypes, "TransferWithAuthorization", exactTransferMessage())
	require.NoError(t, err)

	d2, err := eip712.Digest(domain, exactTransferTypes, "TransferWithAuthorization", exactTransferMessage())
	require.NoError(t, err)

	assert.Equal(t, d1, d2, "same domain/types/message must always hash to the same digest")
}

func TestDigest_DiffersOnDomainField(t *testing.T) {
	base := eip712.Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(8453),
		VerifyingContract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	}
	changed := base
	changed.ChainID = big.NewInt(1)

	message := exactTransferMessage()
	d1, err := eip712.Digest(base, exactTransferTypes, "TransferWithAuthorization", message)
	require.NoError(t, err)
	d2, err := eip712.Digest(changed, exactTransferTypes, "TransferWithAuthorization", message)
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2, "changing chainId must change the digest")
}

func TestSignAndRecover_RoundTrip(t *testing.T) {
	privateKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	wantAddress := crypto.PubkeyToAddress(privateKey.PublicKey).Hex()

	domain := eip712.Domain{
		Name:              "PaymentEngine",
		ChainID:           big.NewInt(728126428),
		VerifyingContract: "0x0000000000000000000000000000000000000099",
	}

	digest, err := eip712.Digest(domain, exactTransferTypes, "TransferWithAuthorization", exactTransferMessage())
	require.NoError(t, err)

	sig, err := eip712.Sign(digest, privateKey)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.GreaterOrEqual(t, sig[64], byte(27), "Sign must normalize v to 27/28")

	recovered, err := eip712.Recover(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, wantAddress, recovered)
}

func TestRecover_AcceptsBothVConventions(t *testing.T) {
	privateKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	wantAddress := crypto.PubkeyToAddress(privateKey.PublicKey).Hex()

	domain := eip712.Domain{
		Name:              "PaymentEngine",
		ChainID:           big.NewInt(1),
		VerifyingContract: "0x0000000000000000000000000000000000000099",
	}
	digest, err := eip712.Digest(domain, exactTransferTypes, "TransferWithAuthorization", exactTransferMessage())
	require.NoError(t, err)

	normalized, err := eip712.Sign(digest, privateKey)
	require.NoError(t, err)

	raw := make([]byte, 65)
	copy(raw, normalized)
	raw[64] -= 27 // rewrite to the 0/1 convention Recover must also accept

	recovered, err := eip712.Recover(digest, raw)
	require.NoError(t, err)
	assert.Equal(t, wantAddress, recovered)
}

func TestDomain_OmitsUnsetFields(t *testing.T) {
	// The permit scheme's domain has no version; the transfer-authorization
	// scheme's does. Each must produce a distinct EIP712Domain type, so a
	// client signing against one can never be tricked into matching the other.
	versionless := eip712.Domain{
		Name:              "PaymentEngine",
		ChainID:           big.NewInt(1),
		VerifyingContract: "0x0000000000000000000000000000000000000099",
	}
	versioned := versionless
	versioned.Version = "1"

	sep1, err := eip712.DomainSeparator(versionless)
	require.NoError(t, err)
	sep2, err := eip712.DomainSeparator(versioned)
	require.NoError(t, err)

	assert.NotEqual(t, sep1, sep2)
}

func TestTypeHash_DependencyOrdering(t *testing.T) {
	// encodeType must list the primary type first, then referenced struct
	// types sorted alphabetically, regardless of TypeSet map iteration order.
	types := eip712.TypeSet{
		"Payment": {
			{Name: "permit", Type: "PermitMeta"},
			{Name: "fee", Type: "Fee"},
		},
		"PermitMeta": {
			{Name: "details", Type: "PaymentPermitDetails"},
		},
		"PaymentPermitDetails": {
			{Name: "amount", Type: "uint256"},
		},
		"Fee": {
			{Name: "to", Type: "address"},
			{Name: "amount", Type: "uint256"},
		},
	}

	hash1, err := eip712.TypeHash("Payment", types)
	require.NoError(t, err)
	hash2, err := eip712.TypeHash("Payment", types)
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2, "encodeType must be order-independent across repeated calls")
	assert.Len(t, hash1, 32)
	assert.Equal(t, crypto.Keccak256([]byte("Payment(PermitMeta permit,Fee fee)Fee(address to,uint256 amount)PaymentPermitDetails(uint256 amount)PermitMeta(PaymentPermitDetails details)")), hash1)
}

func TestHashStruct_MissingField(t *testing.T) {
	types := eip712.TypeSet{
		"Simple": {{Name: "value", Type: "uint256"}},
	}
	_, err := eip712.HashStruct("Simple", types, map[string]interface{}{})
	assert.Error(t, err)
}
