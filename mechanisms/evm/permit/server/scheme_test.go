package server_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/trx402/engine"
	server "github.com/trx402/engine/mechanisms/evm/permit/server"
	"github.com/trx402/engine/types"
)

func TestPermitEvmScheme_Scheme(t *testing.T) {
	s := server.NewPermitEvmScheme(server.PermitEvmSchemeConfig{})
	assert.Equal(t, "permit", s.Scheme())
}

func TestPermitEvmScheme_EnhancePaymentRequirements_RequiresEngineContract(t *testing.T) {
	s := server.NewPermitEvmScheme(server.PermitEvmSchemeConfig{})

	reqs := types.PaymentRequirements{
		Network: "eip155:8453",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:  "1000",
	}

	_, err := s.EnhancePaymentRequirements(context.Background(), reqs, types.SupportedKind{}, nil)
	assert.Error(t, err, "a permit scheme with no engine contract anywhere must refuse to quote requirements")
}

func TestPermitEvmScheme_EnhancePaymentRequirements_UsesStaticConfig(t *testing.T) {
	s := server.NewPermitEvmScheme(server.PermitEvmSchemeConfig{
		EngineContract: "0x00000000000000000000000000000000000abc",
		Caller:         "0x00000000000000000000000000000000000def",
	})

	reqs := types.PaymentRequirements{
		Network: "eip155:8453",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:  "1000",
	}

	out, err := s.EnhancePaymentRequirements(context.Background(), reqs, types.SupportedKind{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000abc", out.Extra["engineContract"])
	assert.Equal(t, "0x00000000000000000000000000000000000def", out.Extra["caller"])
}

func TestPermitEvmScheme_EnhancePaymentRequirements_FacilitatorOverridesStaticConfig(t *testing.T) {
	s := server.NewPermitEvmScheme(server.PermitEvmSchemeConfig{
		EngineContract: "0x00000000000000000000000000000000000abc",
	})

	reqs := types.PaymentRequirements{
		Network: "eip155:8453",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:  "1000",
	}
	supported := types.SupportedKind{
		Extra: map[string]interface{}{
			"engineContract": "0x0000000000000000000000000000000000beef",
			"caller":         "0x0000000000000000000000000000000000cafe",
		},
	}

	out, err := s.EnhancePaymentRequirements(context.Background(), reqs, supported, nil)
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000beef", out.Extra["engineContract"],
		"a live facilitator-advertised engine contract must win over this server's static default")
	assert.Equal(t, "0x0000000000000000000000000000000000cafe", out.Extra["caller"])
}

func TestPermitEvmScheme_EnhancePaymentRequirements_FeeOmittedWithoutFeeTo(t *testing.T) {
	s := server.NewPermitEvmScheme(server.PermitEvmSchemeConfig{
		EngineContract: "0x00000000000000000000000000000000000abc",
	})

	reqs := types.PaymentRequirements{
		Network: "eip155:8453",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:  "1000",
	}

	out, err := s.EnhancePaymentRequirements(context.Background(), reqs, types.SupportedKind{}, nil)
	require.NoError(t, err)
	_, hasFee := out.Extra["fee"]
	assert.False(t, hasFee, "no fee configured means no fee quote attached")
}

func TestPermitEvmScheme_EnhancePaymentRequirements_FeeAttachedWhenConfigured(t *testing.T) {
	s := server.NewPermitEvmScheme(server.PermitEvmSchemeConfig{
		EngineContract: "0x00000000000000000000000000000000000abc",
		Caller:         "0x00000000000000000000000000000000000def",
		FeeTo:          "0x0000000000000000000000000000000000f00d",
		FeeAmount:      "1000000",
	})

	reqs := types.PaymentRequirements{
		Network: "eip155:8453",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:  "1000",
	}

	out, err := s.EnhancePaymentRequirements(context.Background(), reqs, types.SupportedKind{}, nil)
	require.NoError(t, err)
	fee, ok := out.Extra["fee"].(types.FeeInfo)
	require.True(t, ok, "fee must be attached as a types.FeeInfo")
	assert.Equal(t, "0x0000000000000000000000000000000000f00d", fee.FeeTo)
	assert.Equal(t, "1000000", fee.FeeAmount)
	assert.Equal(t, "0x00000000000000000000000000000000000def", fee.Caller)
}

func TestPermitEvmScheme_ParsePrice_PassesThroughAssetAmount(t *testing.T) {
	s := server.NewPermitEvmScheme(server.PermitEvmSchemeConfig{})

	preResolved := x402.AssetAmount{Asset: "0xCustom", Amount: "5"}
	got, err := s.ParsePrice(preResolved, x402.Network("eip155:8453"))
	require.NoError(t, err)
	assert.Equal(t, preResolved, got)
}
