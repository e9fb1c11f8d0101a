// Package server implements the EIP-712 transfer-authorization scheme's
// resource-server side for TRON: turning a route's price into
// PaymentRequirements and enhancing them with the EIP-712 domain fields a
// client needs to sign.
package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	x402 "github.com/trx402/engine"
	"github.com/trx402/engine/mechanisms/tron"
	"github.com/trx402/engine/types"
)

// ExactTronScheme implements SchemeNetworkServer for the EIP-712
// transfer-authorization scheme on TRON networks.
type ExactTronScheme struct {
	moneyParsers []x402.MoneyParser
}

// NewExactTronScheme creates a new ExactTronScheme.
func NewExactTronScheme() *ExactTronScheme {
	return &ExactTronScheme{}
}

func (s *ExactTronScheme) Scheme() string {
	return tron.SchemeExact
}

// RegisterMoneyParser adds a custom price parser to the chain, tried in
// registration order before the default USDT conversion.
func (s *ExactTronScheme) RegisterMoneyParser(parser x402.MoneyParser) *ExactTronScheme {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// ParsePrice converts a route's price into a concrete (asset, amount) pair.
func (s *ExactTronScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	if assetAmount, ok := price.(x402.AssetAmount); ok {
		return assetAmount, nil
	}

	decimalAmount, err := parseMoneyToDecimal(price)
	if err != nil {
		return x402.AssetAmount{}, err
	}

	for _, parser := range s.moneyParsers {
		result, err := parser(decimalAmount, network)
		if err != nil {
			continue
		}
		if result != nil {
			return *result, nil
		}
	}

	networkStr := string(network)
	config, err := tron.GetNetworkConfig(networkStr)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	amountStr := fmt.Sprintf("%.6f", decimalAmount)
	parsedAmount, err := tron.ParseAmount(amountStr, config.DefaultAsset.Decimals)
	if err != nil {
		return x402.AssetAmount{}, fmt.Errorf("failed to convert amount: %w", err)
	}
	return x402.AssetAmount{
		Asset:  config.DefaultAsset.Address,
		Amount: parsedAmount.String(),
		Extra:  make(map[string]interface{}),
	}, nil
}

func parseMoneyToDecimal(price x402.Price) (float64, error) {
	switch v := price.(type) {
	case string:
		cleanPrice := strings.TrimSpace(v)
		cleanPrice = strings.TrimPrefix(cleanPrice, "$")
		cleanPrice = strings.TrimSuffix(cleanPrice, " USDT")
		cleanPrice = strings.TrimSuffix(cleanPrice, " USD")
		cleanPrice = strings.TrimSpace(cleanPrice)
		amount, err := strconv.ParseFloat(cleanPrice, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse price string %q: %w", v, err)
		}
		return amount, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("unsupported price type: %T", price)
	}
}

// EnhancePaymentRequirements fills in the EIP-712 domain name/version the
// client's transfer-authorization signature needs, deferring to the
// client-supplied value if one is already present.
func (s *ExactTronScheme) EnhancePaymentRequirements(
	_ context.Context,
	requirements types.PaymentRequirements,
	supportedKind types.SupportedKind,
	extensionKeys []string,
) (types.PaymentRequirements, error) {
	networkStr := string(requirements.Network)
	config, err := tron.GetNetworkConfig(networkStr)
	if err != nil {
		return requirements, err
	}

	var assetInfo tron.AssetInfo
	if requirements.Asset != "" {
		assetInfo, err = tron.GetAssetInfo(networkStr, requirements.Asset)
		if err != nil {
			return requirements, err
		}
	} else {
		assetInfo = config.DefaultAsset
		requirements.Asset = assetInfo.Address
	}

	if requirements.Amount != "" && strings.Contains(requirements.Amount, ".") {
		amount, err := tron.ParseAmount(requirements.Amount, assetInfo.Decimals)
		if err != nil {
			return requirements, fmt.Errorf("failed to parse amount: %w", err)
		}
		requirements.Amount = amount.String()
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}
	if _, ok := requirements.Extra["name"]; !ok {
		requirements.Extra["name"] = assetInfo.Name
	}
	if _, ok := requirements.Extra["version"]; !ok {
		requirements.Extra["version"] = assetInfo.Version
	}

	if supportedKind.Extra != nil {
		for _, key := range extensionKeys {
			if val, ok := supportedKind.Extra[key]; ok {
				requirements.Extra[key] = val
			}
		}
	}

	return requirements, nil
}
