package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	x402 "github.com/trx402/engine"
)

// engineHTTPClient wraps x402.Client with HTTP-specific payment handling:
// header encode/decode and a transparent http.RoundTripper.
type engineHTTPClient struct {
	client *x402.Client
}

// NewHTTPClient creates a new HTTP-aware payment client.
func NewHTTPClient(client *x402.Client) *engineHTTPClient {
	return &engineHTTPClient{client: client}
}

// EncodePaymentSignatureHeader base64-encodes a marshaled PaymentPayload for
// the PAYMENT-SIGNATURE request header.
func (c *engineHTTPClient) EncodePaymentSignatureHeader(payloadBytes []byte) map[string]string {
	return map[string]string{
		"PAYMENT-SIGNATURE": base64.StdEncoding.EncodeToString(payloadBytes),
	}
}

// GetPaymentRequiredResponse extracts the PaymentRequired body from the
// PAYMENT-REQUIRED response header.
func (c *engineHTTPClient) GetPaymentRequiredResponse(headers map[string]string, body []byte) (x402.PaymentRequired, error) {
	normalizedHeaders := normalizeHeaders(headers)

	if header, exists := normalizedHeaders["PAYMENT-REQUIRED"]; exists {
		return decodePaymentRequiredHeader(header)
	}

	if len(body) > 0 {
		var required x402.PaymentRequired
		if err := json.Unmarshal(body, &required); err == nil && required.X402Version == x402.ProtocolVersion {
			return required, nil
		}
	}

	return x402.PaymentRequired{}, fmt.Errorf("no payment required information found in response")
}

// GetPaymentSettleResponse extracts the settlement result from the
// PAYMENT-RESPONSE response header.
func (c *engineHTTPClient) GetPaymentSettleResponse(headers map[string]string) (*x402.SettleResponse, error) {
	normalizedHeaders := normalizeHeaders(headers)

	if header, exists := normalizedHeaders["PAYMENT-RESPONSE"]; exists {
		return decodePaymentResponseHeader(header)
	}

	return nil, fmt.Errorf("payment response header not found")
}

func normalizeHeaders(headers map[string]string) map[string]string {
	normalized := make(map[string]string, len(headers))
	for k, v := range headers {
		normalized[strings.ToUpper(k)] = v
	}
	return normalized
}

// WrapHTTPClientWithPayment wraps a standard HTTP client's transport with
// transparent 402-retry payment handling.
func WrapHTTPClientWithPayment(client *http.Client, engineClient *engineHTTPClient) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}

	originalTransport := client.Transport
	if originalTransport == nil {
		originalTransport = http.DefaultTransport
	}

	client.Transport = &PaymentRoundTripper{
		Transport:    originalTransport,
		engineClient: engineClient,
		retryCount:   &sync.Map{},
	}

	return client
}

// PaymentRoundTripper implements http.RoundTripper, retrying a 402 response
// once with a freshly created payment payload.
type PaymentRoundTripper struct {
	Transport    http.RoundTripper
	engineClient *engineHTTPClient
	retryCount   *sync.Map
}

// RoundTrip implements http.RoundTripper.
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := fmt.Sprintf("%p", req)
	count, _ := t.retryCount.LoadOrStore(requestID, 0)
	retries := count.(int)

	if retries > 1 {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("payment retry limit exceeded")
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		t.retryCount.Delete(requestID)
		return resp, nil
	}

	t.retryCount.Store(requestID, retries+1)

	headers := make(map[string]string)
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	ctx := req.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	payloadBytes, err := t.handlePayment(ctx, headers, body)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, err
	}

	paymentHeaders := t.engineClient.EncodePaymentSignatureHeader(payloadBytes)

	paymentReq := req.Clone(ctx)
	for k, v := range paymentHeaders {
		paymentReq.Header.Set(k, v)
	}

	newResp, err := t.Transport.RoundTrip(paymentReq)
	t.retryCount.Delete(requestID)

	return newResp, err
}

// handlePayment parses a PaymentRequired response and creates a payment
// payload for whichever of its accepted options the client can fulfill.
func (t *PaymentRoundTripper) handlePayment(ctx context.Context, headers map[string]string, body []byte) ([]byte, error) {
	var paymentRequired x402.PaymentRequired

	normalizedHeaders := normalizeHeaders(headers)

	if header, exists := normalizedHeaders["PAYMENT-REQUIRED"]; exists {
		decoded, err := decodePaymentRequiredHeader(header)
		if err != nil {
			return nil, fmt.Errorf("failed to decode payment required header: %w", err)
		}
		paymentRequired = decoded
	} else if len(body) > 0 {
		if err := json.Unmarshal(body, &paymentRequired); err != nil {
			return nil, fmt.Errorf("failed to parse payment required body: %w", err)
		}
	} else {
		return nil, fmt.Errorf("no payment required information found")
	}

	selected, err := t.engineClient.client.SelectPaymentRequirements(paymentRequired.Accepts)
	if err != nil {
		return nil, fmt.Errorf("cannot fulfill payment requirements: %w", err)
	}

	var resource x402.ResourceInfo
	if paymentRequired.Resource != nil {
		resource = *paymentRequired.Resource
	}

	payload, err := t.engineClient.client.CreatePaymentPayload(
		ctx,
		selected,
		resource,
		paymentRequired.Extensions,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment payload: %w", err)
	}

	return json.Marshal(payload)
}

// DoWithPayment performs an HTTP request with automatic payment handling.
func (c *engineHTTPClient) DoWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := &http.Client{
		Transport: &PaymentRoundTripper{
			Transport:    http.DefaultTransport,
			engineClient: c,
			retryCount:   &sync.Map{},
		},
	}

	return client.Do(req.WithContext(ctx))
}

// GetWithPayment performs a GET request with automatic payment handling.
func (c *engineHTTPClient) GetWithPayment(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// PostWithPayment performs a POST request with automatic payment handling.
func (c *engineHTTPClient) PostWithPayment(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// encodePaymentRequiredHeader base64-encodes a PaymentRequired body for the
// PAYMENT-REQUIRED response header.
func encodePaymentRequiredHeader(required x402.PaymentRequired) string {
	data, err := json.Marshal(required)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal payment required: %v", err))
	}
	return base64.StdEncoding.EncodeToString(data)
}

func decodePaymentRequiredHeader(header string) (x402.PaymentRequired, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var required x402.PaymentRequired
	if err := json.Unmarshal(data, &required); err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid payment required JSON: %w", err)
	}

	return required, nil
}

// encodePaymentResponseHeader base64-encodes a SettleResponse for the
// PAYMENT-RESPONSE response header.
func encodePaymentResponseHeader(response x402.SettleResponse) string {
	data, err := json.Marshal(response)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal settle response: %v", err))
	}
	return base64.StdEncoding.EncodeToString(data)
}

func decodePaymentResponseHeader(header string) (*x402.SettleResponse, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var response x402.SettleResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("invalid settle response JSON: %w", err)
	}

	return &response, nil
}
