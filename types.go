// Package x402 implements the core of an HTTP 402 payment protocol engine:
// a tri-party (client/server/facilitator) handshake that binds a signed
// permit or transfer authorization to an on-chain stablecoin settlement.
package x402

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trx402/engine/types"
)

// Network is a CAIP-2-style identifier, "<family>:<name>", e.g. "eip155:1"
// or "tron:nile". Family selects the address/EIP-712 chain adapter; name
// selects a specific chain within that family.
type Network string

// Parse splits the network into its family and chain-name components.
func (n Network) Parse() (family, name string, err error) {
	parts := strings.SplitN(string(n), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Family returns the family component only ("eip155", "tron").
func (n Network) Family() string {
	family, _, _ := n.Parse()
	return family
}

// Match reports whether n matches pattern, honoring a trailing ":*"
// wildcard on either side. Used only for client-side mechanism
// registration, per the core spec's §4.6 client registry.
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}
	nStr, patternStr := string(n), string(pattern)
	if strings.HasSuffix(patternStr, ":*") {
		return strings.HasPrefix(nStr, strings.TrimSuffix(patternStr, "*"))
	}
	if strings.HasSuffix(nStr, ":*") {
		return strings.HasPrefix(patternStr, strings.TrimSuffix(nStr, "*"))
	}
	return false
}

// Price is a price specification accepted by a resource config: either a
// decimal "<amount> <SYMBOL>" string or a pre-resolved AssetAmount.
type Price interface{}

// AssetAmount is a fully resolved (asset, amount) pair in smallest units.
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// Re-export the wire types for convenience at the package root.
type (
	PaymentRequirements   = types.PaymentRequirements
	PaymentPayload        = types.PaymentPayload
	PaymentRequired       = types.PaymentRequired
	ResourceInfo          = types.ResourceInfo
	SupportedKind         = types.SupportedKind
	SupportedResponse     = types.SupportedResponse
	PaymentPermit         = types.PaymentPermit
	PermitMeta            = types.PermitMeta
	Payment               = types.Payment
	Fee                   = types.Fee
	FeeInfo               = types.FeeInfo
	FeeQuoteResponse      = types.FeeQuoteResponse
	TransferAuthorization = types.TransferAuthorization
)

// VerifyResponse is the positive-path shape returned by a facilitator's
// verify operation. On failure a *VerifyError is returned instead and this
// is nil.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the positive-path shape returned by a facilitator's
// settle operation. On failure a *SettleError is returned instead.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}

// ResourceConfig is the route-level payment configuration a resource
// server is built from: what scheme/network/price/recipient a protected
// route demands.
type ResourceConfig struct {
	Scheme            string  `json:"scheme"`
	PayTo             string  `json:"payTo"`
	Price             Price   `json:"price"`
	Network           Network `json:"network"`
	MaxTimeoutSeconds int     `json:"maxTimeoutSeconds,omitempty"`
}

// PaymentRequirementsView lets client/server selectors and policies work
// over PaymentRequirements without importing the types package directly.
type PaymentRequirementsView interface {
	GetScheme() string
	GetNetwork() string
	GetAsset() string
	GetAmount() string
	GetPayTo() string
	GetMaxTimeoutSeconds() int
	GetExtra() map[string]interface{}
}

// PaymentPayloadView is the payload-side counterpart of
// PaymentRequirementsView, used by hooks.
type PaymentPayloadView interface {
	GetVersion() int
	GetScheme() string
	GetNetwork() string
	GetPayload() map[string]interface{}
}

// PaymentRequirementsSelector chooses which of the server's accepted
// options a client should pay with.
type PaymentRequirementsSelector func(requirements []PaymentRequirementsView) PaymentRequirementsView

// PaymentPolicy filters or reorders payment requirements before a
// selector sees them.
type PaymentPolicy func(requirements []PaymentRequirementsView) []PaymentRequirementsView

// DefaultPaymentSelector picks the first accepted option.
func DefaultPaymentSelector(requirements []PaymentRequirementsView) PaymentRequirementsView {
	if len(requirements) == 0 {
		panic("no payment requirements available")
	}
	return requirements[0]
}

// DeepEqual compares two values via their normalized JSON representation.
func DeepEqual(a, b interface{}) bool {
	aJSON, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bJSON, err := json.Marshal(b)
	if err != nil {
		return false
	}
	var aNorm, bNorm interface{}
	if json.Unmarshal(aJSON, &aNorm) != nil || json.Unmarshal(bJSON, &bNorm) != nil {
		return false
	}
	aNormJSON, _ := json.Marshal(aNorm)
	bNormJSON, _ := json.Marshal(bNorm)
	return string(aNormJSON) == string(bNormJSON)
}

// ParseNetwork wraps a string as a Network without validation (Parse
// validates the "<family>:<name>" shape on demand).
func ParseNetwork(s string) Network { return Network(s) }

// IsWildcardNetwork reports whether network ends in the ":*" pattern
// suffix.
func IsWildcardNetwork(network Network) bool {
	return strings.HasSuffix(string(network), ":*")
}

// MatchesNetwork reports whether network satisfies pattern, honoring a
// trailing ":*" wildcard on pattern.
func MatchesNetwork(pattern, network Network) bool {
	if pattern == network {
		return true
	}
	if IsWildcardNetwork(pattern) {
		return strings.HasPrefix(string(network), strings.TrimSuffix(string(pattern), "*"))
	}
	return false
}

func toViews[T PaymentRequirementsView](reqs []T) []PaymentRequirementsView {
	views := make([]PaymentRequirementsView, len(reqs))
	for i, req := range reqs {
		views[i] = req
	}
	return views
}

func fromView[T PaymentRequirementsView](view PaymentRequirementsView) T {
	return view.(T)
}
