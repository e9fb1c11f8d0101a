// Package server implements the contract-mediated PaymentPermit scheme's
// resource-server side: turning a route's price into PaymentRequirements
// and enhancing them with the engine contract address, redeeming caller,
// and optional facilitator fee quote a client needs to build its permit.
package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	x402 "github.com/trx402/engine"
	"github.com/trx402/engine/mechanisms/evm"
	"github.com/trx402/engine/types"
)

// PermitEvmSchemeConfig configures the engine contract, redeeming caller,
// and (optional) fee leg this resource server advertises to clients.
// EngineContract and Caller are defaults used only when the facilitator's
// advertised supported-kinds response doesn't already carry them.
type PermitEvmSchemeConfig struct {
	EngineContract string
	Caller         string
	FeeTo          string
	FeeAmount      string
}

// PermitEvmScheme implements SchemeNetworkServer for the PaymentPermit
// scheme on EVM networks.
type PermitEvmScheme struct {
	config       PermitEvmSchemeConfig
	moneyParsers []x402.MoneyParser
}

// NewPermitEvmScheme creates a new PermitEvmScheme.
func NewPermitEvmScheme(config PermitEvmSchemeConfig) *PermitEvmScheme {
	return &PermitEvmScheme{config: config}
}

func (s *PermitEvmScheme) Scheme() string {
	return evm.SchemePermit
}

// RegisterMoneyParser adds a custom price parser to the chain, tried in
// registration order before the default stablecoin conversion.
func (s *PermitEvmScheme) RegisterMoneyParser(parser x402.MoneyParser) *PermitEvmScheme {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// ParsePrice converts a route's price into a concrete (asset, amount) pair.
func (s *PermitEvmScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
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
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	amountStr := fmt.Sprintf("%.6f", decimalAmount)
	parsedAmount, err := evm.ParseAmount(amountStr, config.DefaultAsset.Decimals)
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
		cleanPrice = strings.TrimSuffix(cleanPrice, " USDC")
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

// EnhancePaymentRequirements adds the engineContract/caller/fee extras a
// permit client needs, preferring values the facilitator already
// advertised in its supported-kinds response over this scheme's static
// config.
func (s *PermitEvmScheme) EnhancePaymentRequirements(
	_ context.Context,
	requirements types.PaymentRequirements,
	supportedKind types.SupportedKind,
	_ []string,
) (types.PaymentRequirements, error) {
	networkStr := string(requirements.Network)
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return requirements, err
	}

	var assetInfo evm.AssetInfo
	if requirements.Asset != "" {
		assetInfo, err = evm.GetAssetInfo(networkStr, requirements.Asset)
		if err != nil {
			return requirements, err
		}
	} else {
		assetInfo = config.DefaultAsset
		requirements.Asset = assetInfo.Address
	}

	if requirements.Amount != "" && strings.Contains(requirements.Amount, ".") {
		amount, err := evm.ParseAmount(requirements.Amount, assetInfo.Decimals)
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

	engineContract := s.config.EngineContract
	caller := s.config.Caller
	if supportedKind.Extra != nil {
		if v, ok := supportedKind.Extra["engineContract"].(string); ok && v != "" {
			engineContract = v
		}
		if v, ok := supportedKind.Extra["caller"].(string); ok && v != "" {
			caller = v
		}
	}
	if engineContract == "" {
		return requirements, fmt.Errorf("no engine contract configured for %s", requirements.Network)
	}
	requirements.Extra["engineContract"] = engineContract
	requirements.Extra["caller"] = caller

	if s.config.FeeTo != "" {
		requirements.Extra["fee"] = types.FeeInfo{
			FeeTo:     s.config.FeeTo,
			FeeAmount: s.config.FeeAmount,
			Caller:    caller,
		}
	}

	return requirements, nil
}
