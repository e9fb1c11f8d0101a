package server_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/trx402/engine"
	server "github.com/trx402/engine/mechanisms/tron/exact/server"
	"github.com/trx402/engine/types"
)

const nileNetwork = x402.Network("tron:nile")

func TestExactTronScheme_Scheme(t *testing.T) {
	s := server.NewExactTronScheme()
	assert.Equal(t, "exact", s.Scheme())
}

func TestExactTronScheme_ParsePrice_DollarString(t *testing.T) {
	s := server.NewExactTronScheme()

	got, err := s.ParsePrice("$1", nileNetwork)
	require.NoError(t, err)
	assert.Equal(t, "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf", got.Asset)
	assert.Equal(t, "1000000", got.Amount)
}

func TestExactTronScheme_ParsePrice_TrimsUSDTSuffix(t *testing.T) {
	s := server.NewExactTronScheme()

	got, err := s.ParsePrice("2 USDT", nileNetwork)
	require.NoError(t, err)
	assert.Equal(t, "2000000", got.Amount)
}

func TestExactTronScheme_ParsePrice_PassesThroughAssetAmount(t *testing.T) {
	s := server.NewExactTronScheme()

	preResolved := x402.AssetAmount{Asset: "TCustom", Amount: "7"}
	got, err := s.ParsePrice(preResolved, nileNetwork)
	require.NoError(t, err)
	assert.Equal(t, preResolved, got)
}

func TestExactTronScheme_ParsePrice_UnsupportedNetwork(t *testing.T) {
	s := server.NewExactTronScheme()

	_, err := s.ParsePrice("$1", x402.Network("tron:unknown"))
	assert.Error(t, err)
}

func TestExactTronScheme_EnhancePaymentRequirements_FillsNameVersion(t *testing.T) {
	s := server.NewExactTronScheme()

	reqs := types.PaymentRequirements{
		Scheme:  "exact",
		Network: "tron:nile",
		Asset:   "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf",
		Amount:  "1000000",
	}

	out, err := s.EnhancePaymentRequirements(context.Background(), reqs, types.SupportedKind{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Tether USD", out.Extra["name"])
	assert.Equal(t, "1", out.Extra["version"])
}

func TestExactTronScheme_EnhancePaymentRequirements_ConvertsDecimalAmount(t *testing.T) {
	s := server.NewExactTronScheme()

	reqs := types.PaymentRequirements{
		Network: "tron:nile",
		Asset:   "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf",
		Amount:  "0.25",
	}

	out, err := s.EnhancePaymentRequirements(context.Background(), reqs, types.SupportedKind{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "250000", out.Amount)
}
