package types

import (
	"encoding/json"
	"fmt"
)

// PermitKind enumerates the permit's settlement mode. PaymentOnly is the
// only value the engine currently accepts; anything else is rejected at
// parse time rather than silently treated as a future extension.
type PermitKind int

const (
	KindPaymentOnly PermitKind = 0
)

// PermitMeta carries the replay/expiry envelope shared by every permit.
// PaymentID is 16 random bytes, serialized as 0x + 32 hex characters.
// Nonce is a free-form u256 whose replay protection lives entirely on
// chain, in the engine contract's nonce bitmap.
type PermitMeta struct {
	Kind        PermitKind `json:"kind"`
	PaymentID   string     `json:"paymentId"`
	Nonce       string     `json:"nonce"`
	ValidAfter  int64      `json:"validAfter"`
	ValidBefore int64      `json:"validBefore"`
}

func (m *PermitMeta) UnmarshalJSON(data []byte) error {
	raw, err := rawObject(data)
	if err != nil {
		return err
	}
	var kind PermitKind
	if err := decodeAlias(raw, "kind", "kind", &kind); err != nil {
		return err
	}
	if kind != KindPaymentOnly {
		return fmt.Errorf("unsupported_kind: %d", kind)
	}
	m.Kind = kind
	if err := decodeAlias(raw, "paymentId", "payment_id", &m.PaymentID); err != nil {
		return err
	}
	if err := decodeAlias(raw, "nonce", "nonce", &m.Nonce); err != nil {
		return err
	}
	if err := decodeAlias(raw, "validAfter", "valid_after", &m.ValidAfter); err != nil {
		return err
	}
	return decodeAlias(raw, "validBefore", "valid_before", &m.ValidBefore)
}

// Payment is the bounded-transfer intent at the heart of a PaymentPermit:
// pull payAmount of payToken from the buyer to payTo.
type Payment struct {
	PayToken  string `json:"payToken"`
	PayAmount string `json:"payAmount"`
	PayTo     string `json:"payTo"`
}

func (p *Payment) UnmarshalJSON(data []byte) error {
	raw, err := rawObject(data)
	if err != nil {
		return err
	}
	if err := decodeAlias(raw, "payToken", "pay_token", &p.PayToken); err != nil {
		return err
	}
	if err := decodeAlias(raw, "payAmount", "pay_amount", &p.PayAmount); err != nil {
		return err
	}
	return decodeAlias(raw, "payTo", "pay_to", &p.PayTo)
}

// Fee is the facilitator's protocol-fee leg of a permit settlement.
type Fee struct {
	FeeTo     string `json:"feeTo"`
	FeeAmount string `json:"feeAmount"`
}

func (f *Fee) UnmarshalJSON(data []byte) error {
	raw, err := rawObject(data)
	if err != nil {
		return err
	}
	if err := decodeAlias(raw, "feeTo", "fee_to", &f.FeeTo); err != nil {
		return err
	}
	return decodeAlias(raw, "feeAmount", "fee_amount", &f.FeeAmount)
}

// PaymentPermit is the contract-mediated scheme's signed intent: buyer
// authorizes caller (the facilitator) to pull payment.payAmount plus
// fee.feeAmount of payment.payToken from buyer via the engine contract's
// permitTransferFrom.
type PaymentPermit struct {
	Meta    PermitMeta `json:"meta"`
	Buyer   string     `json:"buyer"`
	Caller  string     `json:"caller"`
	Payment Payment    `json:"payment"`
	Fee     Fee        `json:"fee"`
}

func (p *PaymentPermit) UnmarshalJSON(data []byte) error {
	raw, err := rawObject(data)
	if err != nil {
		return err
	}
	if err := decodeAlias(raw, "meta", "meta", &p.Meta); err != nil {
		return err
	}
	if err := decodeAlias(raw, "buyer", "buyer", &p.Buyer); err != nil {
		return err
	}
	if err := decodeAlias(raw, "caller", "caller", &p.Caller); err != nil {
		return err
	}
	if err := decodeAlias(raw, "payment", "payment", &p.Payment); err != nil {
		return err
	}
	return decodeAlias(raw, "fee", "fee", &p.Fee)
}

// TransferAuthorization is the transfer-authorization scheme's signed
// intent, redeemed directly by the token contract's
// transferWithAuthorization — there is no facilitator-collected fee leg.
type TransferAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

func (a *TransferAuthorization) UnmarshalJSON(data []byte) error {
	raw, err := rawObject(data)
	if err != nil {
		return err
	}
	if err := decodeAlias(raw, "from", "from", &a.From); err != nil {
		return err
	}
	if err := decodeAlias(raw, "to", "to", &a.To); err != nil {
		return err
	}
	if err := decodeAlias(raw, "value", "value", &a.Value); err != nil {
		return err
	}
	if err := decodeAlias(raw, "validAfter", "valid_after", &a.ValidAfter); err != nil {
		return err
	}
	if err := decodeAlias(raw, "validBefore", "valid_before", &a.ValidBefore); err != nil {
		return err
	}
	return decodeAlias(raw, "nonce", "nonce", &a.Nonce)
}

// FeeInfo is the facilitator-quoted fee carried in PaymentRequirements.Extra
// and echoed back on a FeeQuoteResponse.
type FeeInfo struct {
	FeeTo     string `json:"feeTo"`
	FeeAmount string `json:"feeAmount"`
	Caller    string `json:"caller"`
}

// FeeQuoteResponse is the fee-quote response shape. The facilitator service
// in this module serves no fee-quote endpoint and nothing here returns it.
type FeeQuoteResponse struct {
	Fee       FeeInfo `json:"fee"`
	Pricing   string  `json:"pricing"`
	Scheme    string  `json:"scheme"`
	Network   string  `json:"network"`
	Asset     string  `json:"asset"`
	ExpiresAt int64   `json:"expiresAt"`
}

// TransferAuthorizationExtensionKey is the extensions map key a
// transfer-authorization payload's signed authorization is carried under,
// since the scheme has no paymentPermit field to occupy.
const TransferAuthorizationExtensionKey = "transferAuthorization"

// ExtractTransferAuthorization pulls a TransferAuthorization back out of a
// payload's extensions map.
func ExtractTransferAuthorization(extensions map[string]interface{}) (*TransferAuthorization, error) {
	raw, ok := extensions[TransferAuthorizationExtensionKey]
	if !ok {
		return nil, fmt.Errorf("missing_transfer_authorization")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var auth TransferAuthorization
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

// PaymentPermitContext is the payment-permit bootstrap data the server
// attaches to its 402 extensions: the meta block the client must embed
// verbatim and the caller address that should own the permit.
type PaymentPermitContext struct {
	Meta   PermitMeta `json:"meta"`
	Caller string     `json:"caller"`
}

const PaymentPermitContextExtensionKey = "paymentPermitContext"
