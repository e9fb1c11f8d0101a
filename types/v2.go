package types

import "encoding/json"

// ProtocolVersion is the only wire version this engine speaks.
const ProtocolVersion = 2

// InnerPayload is the scheme-bearing body of a PaymentPayload: always a
// signature, plus a PaymentPermit for the permit scheme (transfer
// authorizations are carried in Extensions instead, see
// TransferAuthorizationExtensionKey).
type InnerPayload struct {
	Signature     string         `json:"signature"`
	PaymentPermit *PaymentPermit `json:"paymentPermit,omitempty"`
}

// ResourceInfo describes the resource a payment unlocks.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequirements is what the server quotes in its 402 body and what
// the client's payload must be consistent with.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

func (r PaymentRequirements) GetScheme() string                { return r.Scheme }
func (r PaymentRequirements) GetNetwork() string               { return r.Network }
func (r PaymentRequirements) GetAsset() string                 { return r.Asset }
func (r PaymentRequirements) GetAmount() string                { return r.Amount }
func (r PaymentRequirements) GetPayTo() string                 { return r.PayTo }
func (r PaymentRequirements) GetMaxTimeoutSeconds() int        { return r.MaxTimeoutSeconds }
func (r PaymentRequirements) GetExtra() map[string]interface{} { return r.Extra }

// FeeFromExtra extracts the FeeInfo carried in Extra["fee"], if present (the
// permit scheme servers set it from their configured FeeTo/FeeAmount).
func (r PaymentRequirements) FeeFromExtra() (*FeeInfo, bool) {
	if r.Extra == nil {
		return nil, false
	}
	raw, ok := r.Extra["fee"]
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var fee FeeInfo
	if json.Unmarshal(data, &fee) != nil {
		return nil, false
	}
	return &fee, true
}

// NameVersion extracts the token name/version pair carried in Extra, used
// to populate the transfer-authorization EIP-712 domain.
func (r PaymentRequirements) NameVersion() (name, version string, ok bool) {
	if r.Extra == nil {
		return "", "", false
	}
	name, _ = r.Extra["name"].(string)
	version, _ = r.Extra["version"].(string)
	return name, version, name != "" || version != ""
}

// PaymentPayload is posted by the client in the PAYMENT-SIGNATURE header.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Resource    ResourceInfo           `json:"resource"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Payload     InnerPayload           `json:"payload"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

func (p PaymentPayload) GetVersion() int    { return p.X402Version }
func (p PaymentPayload) GetScheme() string  { return p.Accepted.Scheme }
func (p PaymentPayload) GetNetwork() string { return p.Accepted.Network }
func (p PaymentPayload) GetPayload() map[string]interface{} {
	data, err := json.Marshal(p.Payload)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	return m
}

// PaymentRequired is the 402 response body.
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// SupportedKind is one entry of the facilitator's GET /supported response.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is the facilitator's GET /supported response.
type SupportedResponse struct {
	Kinds      []SupportedKind     `json:"kinds"`
	Extensions []string            `json:"extensions"`
	Signers    map[string][]string `json:"signers"`
}

// ToPaymentPayload unmarshals bytes to a PaymentPayload.
func ToPaymentPayload(data []byte) (*PaymentPayload, error) {
	var p PaymentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ToPaymentRequirements unmarshals bytes to PaymentRequirements.
func ToPaymentRequirements(data []byte) (*PaymentRequirements, error) {
	var r PaymentRequirements
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ToPaymentRequired unmarshals bytes to a PaymentRequired response.
func ToPaymentRequired(data []byte) (*PaymentRequired, error) {
	var r PaymentRequired
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
