package address_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trx402/engine/address"
)

func TestForFamily_UnsupportedNamespace(t *testing.T) {
	_, err := address.ForFamily("solana")
	assert.Error(t, err)
}

func TestHex20Converter_NormalizeIdempotent(t *testing.T) {
	conv, err := address.ForFamily("eip155")
	require.NoError(t, err)

	const raw = "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"
	once, err := conv.Normalize(raw)
	require.NoError(t, err)
	twice, err := conv.Normalize(once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestHex20Converter_RejectsInvalid(t *testing.T) {
	conv, err := address.ForFamily("eip155")
	require.NoError(t, err)

	_, err = conv.Normalize("not-an-address")
	assert.Error(t, err)
}

func TestHex20Converter_ZeroAddress(t *testing.T) {
	conv, err := address.ForFamily("eip155")
	require.NoError(t, err)

	assert.Equal(t, "0x0000000000000000000000000000000000000000", conv.ZeroAddress())

	signing, err := conv.ToSigningAddress(conv.ZeroAddress())
	require.NoError(t, err)
	assert.Equal(t, conv.ZeroAddress(), signing)
}

func TestBase58TronConverter_NormalizeIdempotent(t *testing.T) {
	conv, err := address.ForFamily("tron")
	require.NoError(t, err)

	const raw = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	once, err := conv.Normalize(raw)
	require.NoError(t, err)
	twice, err := conv.Normalize(once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestBase58TronConverter_RejectsBadChecksum(t *testing.T) {
	conv, err := address.ForFamily("tron")
	require.NoError(t, err)

	_, err = conv.Normalize("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6x")
	assert.Error(t, err)
}

func TestBase58TronConverter_ZeroPlaceholderCanonicalizes(t *testing.T) {
	conv, err := address.ForFamily("tron")
	require.NoError(t, err)

	placeholder := "T000000000000000000000000000"
	normalized, err := conv.Normalize(placeholder)
	require.NoError(t, err)
	assert.Equal(t, conv.ZeroAddress(), normalized)

	signing, err := conv.ToSigningAddress(placeholder)
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000000000", signing)
}

func TestBase58TronConverter_ToSigningAddress(t *testing.T) {
	conv, err := address.ForFamily("tron")
	require.NoError(t, err)

	signing, err := conv.ToSigningAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t")
	require.NoError(t, err)
	assert.Len(t, signing, 42)
	assert.Equal(t, "0x", signing[:2])
}
