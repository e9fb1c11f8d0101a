package x402

import (
	"context"

	"github.com/trx402/engine/types"
)

// MoneyParser converts a decimal amount to an AssetAmount for a given
// network. If the parser cannot handle the conversion, it returns nil.
// Multiple parsers can be registered and are tried in order; each scheme's
// own default stablecoin conversion is always the final fallback.
type MoneyParser func(amount float64, network Network) (*AssetAmount, error)

// SchemeNetworkClient is implemented by client-side payment mechanisms:
// one per (scheme, network family) pair, e.g. "permit"/eip155:*,
// "exact"/tron:*.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error)
}

// SchemeNetworkServer is implemented by server-side payment mechanisms:
// it turns a route's ResourceConfig price into concrete PaymentRequirements.
type SchemeNetworkServer interface {
	Scheme() string
	ParsePrice(price Price, network Network) (AssetAmount, error)
	EnhancePaymentRequirements(
		ctx context.Context,
		requirements types.PaymentRequirements,
		supportedKind types.SupportedKind,
		extensions []string,
	) (types.PaymentRequirements, error)
}

// SchemeNetworkFacilitator is implemented by facilitator-side payment
// mechanisms: verification and on-chain settlement for one (scheme,
// network family) pair.
type SchemeNetworkFacilitator interface {
	Scheme() string

	// CaipFamily returns the CAIP family pattern this facilitator supports,
	// e.g. "eip155:*" or "tron:*". Used to group signers by blockchain
	// family in the supported response.
	CaipFamily() string

	// GetExtra returns mechanism-specific extra data for the supported
	// kinds endpoint (e.g. the engine contract address), or nil.
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the facilitator's signer addresses for a given
	// network, included in the supported response so clients can
	// anticipate which address will submit settlement transactions.
	GetSigners(network Network) []string

	Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*SettleResponse, error)
}

// FacilitatorClient is the network-boundary interface a resource server
// uses to talk to a facilitator, whether in-process or over HTTP. It
// operates on raw bytes so callers never need the wire types directly.
type FacilitatorClient interface {
	// Verify a payment against requirements.
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error)

	// Settle a verified payment on chain.
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error)

	// GetSupported returns the facilitator's supported (scheme, network)
	// kinds.
	GetSupported(ctx context.Context) (SupportedResponse, error)
}
