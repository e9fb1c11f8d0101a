package server_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/trx402/engine"
	server "github.com/trx402/engine/mechanisms/tron/permit/server"
	"github.com/trx402/engine/types"
)

func TestPermitTronScheme_Scheme(t *testing.T) {
	s := server.NewPermitTronScheme(server.PermitTronSchemeConfig{})
	assert.Equal(t, "permit", s.Scheme())
}

func TestPermitTronScheme_EnhancePaymentRequirements_RequiresEngineContract(t *testing.T) {
	s := server.NewPermitTronScheme(server.PermitTronSchemeConfig{})

	reqs := types.PaymentRequirements{
		Network: "tron:nile",
		Asset:   "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf",
		Amount:  "1000000",
	}

	_, err := s.EnhancePaymentRequirements(context.Background(), reqs, types.SupportedKind{}, nil)
	assert.Error(t, err)
}

func TestPermitTronScheme_EnhancePaymentRequirements_FacilitatorOverridesStaticConfig(t *testing.T) {
	s := server.NewPermitTronScheme(server.PermitTronSchemeConfig{
		EngineContract: "TStaticEngineContract000000000000000",
	})

	reqs := types.PaymentRequirements{
		Network: "tron:nile",
		Asset:   "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf",
		Amount:  "1000000",
	}
	supported := types.SupportedKind{
		Extra: map[string]interface{}{
			"engineContract": "TLiveEngineContractFromFacilitator",
			"caller":         "TLiveCaller",
		},
	}

	out, err := s.EnhancePaymentRequirements(context.Background(), reqs, supported, nil)
	require.NoError(t, err)
	assert.Equal(t, "TLiveEngineContractFromFacilitator", out.Extra["engineContract"])
	assert.Equal(t, "TLiveCaller", out.Extra["caller"])
}

func TestPermitTronScheme_ParsePrice_DollarString(t *testing.T) {
	s := server.NewPermitTronScheme(server.PermitTronSchemeConfig{})

	got, err := s.ParsePrice("$3", x402.Network("tron:nile"))
	require.NoError(t, err)
	assert.Equal(t, "3000000", got.Amount)
}
