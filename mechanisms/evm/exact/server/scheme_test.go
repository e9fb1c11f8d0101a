package server_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/trx402/engine"
	server "github.com/trx402/engine/mechanisms/evm/exact/server"
	"github.com/trx402/engine/types"
)

func TestExactEvmScheme_Scheme(t *testing.T) {
	s := server.NewExactEvmScheme()
	assert.Equal(t, "exact", s.Scheme())
}

func TestExactEvmScheme_ParsePrice_DollarString(t *testing.T) {
	s := server.NewExactEvmScheme()

	got, err := s.ParsePrice("$0.001", x402.Network("eip155:8453"))
	require.NoError(t, err)
	assert.Equal(t, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", got.Asset)
	assert.Equal(t, "1000", got.Amount) // 0.001 USDC @ 6 decimals
}

func TestExactEvmScheme_ParsePrice_PassesThroughAssetAmount(t *testing.T) {
	s := server.NewExactEvmScheme()

	preResolved := x402.AssetAmount{Asset: "0xCustomToken", Amount: "42"}
	got, err := s.ParsePrice(preResolved, x402.Network("eip155:8453"))
	require.NoError(t, err)
	assert.Equal(t, preResolved, got, "an already-resolved AssetAmount must pass through unchanged")
}

func TestExactEvmScheme_ParsePrice_UnsupportedNetwork(t *testing.T) {
	s := server.NewExactEvmScheme()

	_, err := s.ParsePrice("$1", x402.Network("eip155:999999"))
	assert.Error(t, err)
}

func TestExactEvmScheme_EnhancePaymentRequirements_FillsNameVersion(t *testing.T) {
	s := server.NewExactEvmScheme()

	reqs := types.PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:8453",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:  "1000",
		PayTo:   "0x0000000000000000000000000000000000000001",
	}

	out, err := s.EnhancePaymentRequirements(context.Background(), reqs, types.SupportedKind{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "USD Coin", out.Extra["name"])
	assert.Equal(t, "2", out.Extra["version"])
}

func TestExactEvmScheme_EnhancePaymentRequirements_RespectsExistingExtra(t *testing.T) {
	s := server.NewExactEvmScheme()

	reqs := types.PaymentRequirements{
		Network: "eip155:8453",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:  "1000",
		Extra:   map[string]interface{}{"name": "Custom Name", "version": "9"},
	}

	out, err := s.EnhancePaymentRequirements(context.Background(), reqs, types.SupportedKind{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Custom Name", out.Extra["name"])
	assert.Equal(t, "9", out.Extra["version"])
}

func TestExactEvmScheme_EnhancePaymentRequirements_ConvertsDecimalAmount(t *testing.T) {
	s := server.NewExactEvmScheme()

	reqs := types.PaymentRequirements{
		Network: "eip155:8453",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:  "0.5",
	}

	out, err := s.EnhancePaymentRequirements(context.Background(), reqs, types.SupportedKind{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "500000", out.Amount)
}

func TestExactEvmScheme_EnhancePaymentRequirements_CopiesExtensionKeys(t *testing.T) {
	s := server.NewExactEvmScheme()

	reqs := types.PaymentRequirements{
		Network: "eip155:8453",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:  "1000",
	}
	supported := types.SupportedKind{Extra: map[string]interface{}{"feePayer": "0xabc"}}

	out, err := s.EnhancePaymentRequirements(context.Background(), reqs, supported, []string{"feePayer"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", out.Extra["feePayer"])
}

func TestExactEvmScheme_RegisterMoneyParser_ChainsAndOverrides(t *testing.T) {
	s := server.NewExactEvmScheme()

	chained := s.RegisterMoneyParser(func(amount float64, _ x402.Network) (*x402.AssetAmount, error) {
		if amount > 100 {
			return &x402.AssetAmount{Asset: "0xDAI", Amount: "999"}, nil
		}
		return nil, nil
	})
	assert.Same(t, s, chained, "RegisterMoneyParser must return the receiver for chaining")

	got, err := s.ParsePrice("$150", x402.Network("eip155:1"))
	require.NoError(t, err)
	assert.Equal(t, "0xDAI", got.Asset)

	fallback, err := s.ParsePrice("$1", x402.Network("eip155:1"))
	require.NoError(t, err)
	assert.Equal(t, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", fallback.Asset)
}
