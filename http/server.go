package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	x402 "github.com/trx402/engine"
	"github.com/trx402/engine/types"
)

// ============================================================================
// HTTP Adapter Interface
// ============================================================================

// HTTPAdapter provides framework-agnostic HTTP operations.
// Implement this for each web framework (Gin, Echo, net/http, etc.)
type HTTPAdapter interface {
	GetHeader(name string) string
	GetMethod() string
	GetPath() string
	GetURL() string
	GetAcceptHeader() string
	GetUserAgent() string
}

// ============================================================================
// Configuration Types
// ============================================================================

// PaywallConfig configures the HTML paywall for browser requests.
type PaywallConfig struct {
	CDPClientKey         string `json:"cdpClientKey,omitempty"`
	AppName              string `json:"appName,omitempty"`
	AppLogo              string `json:"appLogo,omitempty"`
	SessionTokenEndpoint string `json:"sessionTokenEndpoint,omitempty"`
	CurrentURL           string `json:"currentUrl,omitempty"`
	Testnet              bool   `json:"testnet,omitempty"`
}

// DynamicPayToFunc resolves a payTo address dynamically from request context.
type DynamicPayToFunc func(context.Context, HTTPRequestContext) (string, error)

// DynamicPriceFunc resolves a price dynamically from request context.
type DynamicPriceFunc func(context.Context, HTTPRequestContext) (x402.Price, error)

// UnpaidResponse is the custom response for unpaid (402) API requests,
// letting servers return preview data or an error body alongside the
// payment requirements.
type UnpaidResponse struct {
	ContentType string
	Body        interface{}
}

// UnpaidResponseBodyFunc generates a custom response for unpaid API
// requests. For browser requests (Accept: text/html) the paywall HTML
// takes precedence; this callback only applies to API clients.
type UnpaidResponseBodyFunc func(ctx context.Context, reqCtx HTTPRequestContext) (*UnpaidResponse, error)

// PaymentOption represents one way a client can pay for access to a route.
type PaymentOption struct {
	Scheme            string                 `json:"scheme"`
	PayTo             interface{}            `json:"payTo"` // string or DynamicPayToFunc
	Price             interface{}            `json:"price"` // x402.Price or DynamicPriceFunc
	Network           x402.Network           `json:"network"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentOptions is a slice of PaymentOption for convenience.
type PaymentOptions = []PaymentOption

// RouteConfig defines payment configuration for an HTTP endpoint.
type RouteConfig struct {
	Accepts PaymentOptions `json:"accepts"`

	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	CustomPaywallHTML string                 `json:"customPaywallHtml,omitempty"`
	Extensions        map[string]interface{} `json:"extensions,omitempty"`

	// UnpaidResponseBody generates a custom response for unpaid API
	// requests. If nil, defaults to {ContentType: "application/json", Body: nil}.
	UnpaidResponseBody UnpaidResponseBodyFunc `json:"-"`
}

// RoutesConfig maps route patterns to configurations.
type RoutesConfig map[string]RouteConfig

// CompiledRoute is a parsed route ready for matching.
type CompiledRoute struct {
	Verb   string
	Regex  *regexp.Regexp
	Config RouteConfig
}

// ============================================================================
// Request/Response Types
// ============================================================================

// HTTPRequestContext encapsulates an HTTP request.
type HTTPRequestContext struct {
	Adapter       HTTPAdapter
	Path          string
	Method        string
	PaymentHeader string
}

// HTTPResponseInstructions tells the framework how to respond.
type HTTPResponseInstructions struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    interface{}       `json:"body,omitempty"`
	IsHTML  bool              `json:"isHtml,omitempty"`
}

// HTTPProcessResult indicates the result of processing a payment request.
type HTTPProcessResult struct {
	Type                string
	Response            *HTTPResponseInstructions
	PaymentPayload      *types.PaymentPayload
	PaymentRequirements *types.PaymentRequirements
}

// Result type constants.
const (
	ResultNoPaymentRequired = "no-payment-required"
	ResultPaymentVerified   = "payment-verified"
	ResultPaymentError      = "payment-error"
)

// ProcessSettleResult represents the result of settlement processing.
type ProcessSettleResult struct {
	Success     bool
	Headers     map[string]string
	ErrorReason string
	Transaction string
	Network     x402.Network
	Payer       string
}

// ============================================================================
// httpResourceServer
// ============================================================================

// httpResourceServer provides HTTP-specific payment handling on top of
// x402.ResourceServer: route matching, header encode/decode, and paywall
// HTML generation for browser requests.
type httpResourceServer struct {
	*x402.ResourceServer
	compiledRoutes []CompiledRoute
}

// NewHTTPResourceServer creates a new HTTP resource server.
func NewHTTPResourceServer(routes RoutesConfig, opts ...x402.ResourceServerOption) *httpResourceServer {
	return WrapResourceServer(routes, x402.NewResourceServer(opts...))
}

// WrapResourceServer wraps an existing resource server with HTTP functionality.
func WrapResourceServer(routes RoutesConfig, resourceServer *x402.ResourceServer) *httpResourceServer {
	server := &httpResourceServer{
		ResourceServer: resourceServer,
		compiledRoutes: []CompiledRoute{},
	}

	normalizedRoutes := routes
	if normalizedRoutes == nil {
		normalizedRoutes = make(RoutesConfig)
	}

	for pattern, config := range normalizedRoutes {
		verb, regex := parseRoutePattern(pattern)
		server.compiledRoutes = append(server.compiledRoutes, CompiledRoute{
			Verb:   verb,
			Regex:  regex,
			Config: config,
		})
	}

	return server
}

// BuildPaymentRequirementsFromOptions builds payment requirements from
// multiple payment options, resolving any dynamic payTo/price functions
// against the given request context.
func (s *httpResourceServer) BuildPaymentRequirementsFromOptions(ctx context.Context, options []PaymentOption, reqCtx HTTPRequestContext) ([]types.PaymentRequirements, error) {
	allRequirements := make([]types.PaymentRequirements, 0)

	for _, option := range options {
		var resolvedPayTo string
		if payToFunc, ok := option.PayTo.(DynamicPayToFunc); ok {
			payTo, err := payToFunc(ctx, reqCtx)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve dynamic payTo: %w", err)
			}
			resolvedPayTo = payTo
		} else if payToStr, ok := option.PayTo.(string); ok {
			resolvedPayTo = payToStr
		} else {
			return nil, fmt.Errorf("payTo must be string or DynamicPayToFunc, got %T", option.PayTo)
		}

		var resolvedPrice x402.Price
		if priceFunc, ok := option.Price.(DynamicPriceFunc); ok {
			price, err := priceFunc(ctx, reqCtx)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve dynamic price: %w", err)
			}
			resolvedPrice = price
		} else {
			resolvedPrice = option.Price
		}

		resourceConfig := x402.ResourceConfig{
			Scheme:            option.Scheme,
			PayTo:             resolvedPayTo,
			Price:             resolvedPrice,
			Network:           option.Network,
			MaxTimeoutSeconds: option.MaxTimeoutSeconds,
		}

		requirements, err := s.BuildPaymentRequirementsFromConfig(ctx, resourceConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build requirements for option %s on %s: %w", option.Scheme, option.Network, err)
		}

		allRequirements = append(allRequirements, requirements...)
	}

	return allRequirements, nil
}

// ProcessHTTPRequest handles an HTTP request and returns the processing result.
func (s *httpResourceServer) ProcessHTTPRequest(ctx context.Context, reqCtx HTTPRequestContext, paywallConfig *PaywallConfig) HTTPProcessResult {
	routeConfig := s.getRouteConfig(reqCtx.Path, reqCtx.Method)
	if routeConfig == nil {
		return HTTPProcessResult{Type: ResultNoPaymentRequired}
	}

	paymentOptions := routeConfig.Accepts
	if len(paymentOptions) == 0 {
		return HTTPProcessResult{Type: ResultNoPaymentRequired}
	}

	typedPayload, err := s.extractPayment(reqCtx.Adapter)
	if err != nil {
		return HTTPProcessResult{
			Type:     ResultPaymentError,
			Response: &HTTPResponseInstructions{Status: 400, Body: map[string]string{"error": "Invalid payment"}},
		}
	}

	requirements, err := s.BuildPaymentRequirementsFromOptions(ctx, paymentOptions, reqCtx)
	if err != nil {
		return HTTPProcessResult{
			Type: ResultPaymentError,
			Response: &HTTPResponseInstructions{
				Status:  500,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    map[string]string{"error": err.Error()},
			},
		}
	}

	resourceInfo := &types.ResourceInfo{
		URL:         reqCtx.Adapter.GetURL(),
		Description: routeConfig.Description,
		MimeType:    routeConfig.MimeType,
	}

	for i := range requirements {
		if requirements[i].Extra == nil {
			requirements[i].Extra = make(map[string]interface{})
		}
		requirements[i].Extra["resourceUrl"] = resourceInfo.URL
	}

	extensions := routeConfig.Extensions

	if typedPayload == nil {
		paymentRequired := s.CreatePaymentRequiredResponse(
			requirements,
			resourceInfo,
			"Payment required",
			extensions,
		)

		var unpaidResponse *UnpaidResponse
		if routeConfig.UnpaidResponseBody != nil {
			unpaidResp, err := routeConfig.UnpaidResponseBody(ctx, reqCtx)
			if err != nil {
				return HTTPProcessResult{
					Type: ResultPaymentError,
					Response: &HTTPResponseInstructions{
						Status:  500,
						Headers: map[string]string{"Content-Type": "application/json"},
						Body:    map[string]string{"error": fmt.Sprintf("Failed to generate unpaid response: %v", err)},
					},
				}
			}
			unpaidResponse = unpaidResp
		}

		return HTTPProcessResult{
			Type: ResultPaymentError,
			Response: s.createHTTPResponse(
				paymentRequired,
				s.isWebBrowser(reqCtx.Adapter),
				paywallConfig,
				routeConfig.CustomPaywallHTML,
				unpaidResponse,
			),
		}
	}

	matchingReqs := s.FindMatchingRequirements(requirements, *typedPayload)
	if matchingReqs == nil {
		paymentRequired := s.CreatePaymentRequiredResponse(
			requirements,
			resourceInfo,
			"No matching payment requirements",
			extensions,
		)

		return HTTPProcessResult{
			Type:     ResultPaymentError,
			Response: s.createHTTPResponse(paymentRequired, false, paywallConfig, "", nil),
		}
	}

	_, verifyErr := s.VerifyPayment(ctx, *typedPayload, *matchingReqs)
	if verifyErr != nil {
		paymentRequired := s.CreatePaymentRequiredResponse(
			requirements,
			resourceInfo,
			verifyErr.Error(),
			extensions,
		)

		return HTTPProcessResult{
			Type:     ResultPaymentError,
			Response: s.createHTTPResponse(paymentRequired, false, paywallConfig, "", nil),
		}
	}

	return HTTPProcessResult{
		Type:                ResultPaymentVerified,
		PaymentPayload:      typedPayload,
		PaymentRequirements: matchingReqs,
	}
}

// RequiresPayment reports whether a request matches a configured payment route.
func (s *httpResourceServer) RequiresPayment(reqCtx HTTPRequestContext) bool {
	routeConfig := s.getRouteConfig(reqCtx.Path, reqCtx.Method)
	return routeConfig != nil
}

// ProcessSettlement settles a payment after a successful response and builds
// the settlement headers for the client.
func (s *httpResourceServer) ProcessSettlement(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) *ProcessSettleResult {
	settleResult, err := s.SettlePayment(ctx, payload, requirements)
	if err != nil {
		return &ProcessSettleResult{
			Success:     false,
			ErrorReason: err.Error(),
		}
	}

	if !settleResult.Success {
		return &ProcessSettleResult{
			Success:     false,
			ErrorReason: settleResult.ErrorReason,
		}
	}

	return &ProcessSettleResult{
		Success:     true,
		Headers:     s.createSettlementHeaders(settleResult),
		Transaction: settleResult.Transaction,
		Network:     settleResult.Network,
		Payer:       settleResult.Payer,
	}
}

// ============================================================================
// Helper Methods
// ============================================================================

// getRouteConfig finds the matching route configuration for a path/method.
func (s *httpResourceServer) getRouteConfig(path, method string) *RouteConfig {
	normalizedPath := normalizePath(path)
	upperMethod := strings.ToUpper(method)

	for _, route := range s.compiledRoutes {
		if route.Regex.MatchString(normalizedPath) &&
			(route.Verb == "*" || route.Verb == upperMethod) {
			config := route.Config
			return &config
		}
	}

	return nil
}

// extractPayment extracts the payment payload from the PAYMENT-SIGNATURE header.
func (s *httpResourceServer) extractPayment(adapter HTTPAdapter) (*types.PaymentPayload, error) {
	header := adapter.GetHeader("PAYMENT-SIGNATURE")
	if header == "" {
		header = adapter.GetHeader("payment-signature")
	}

	if header == "" {
		return nil, nil
	}

	jsonBytes, err := decodeBase64Header(header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payment header: %w", err)
	}

	payload, err := types.ToPaymentPayload(jsonBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment payload: %w", err)
	}

	if payload.X402Version != x402.ProtocolVersion {
		return nil, fmt.Errorf("unsupported x402 version %d", payload.X402Version)
	}

	return payload, nil
}

// decodeBase64Header decodes a base64 header to JSON bytes.
func decodeBase64Header(header string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(header)
}

// isWebBrowser checks if the request came from a web browser.
func (s *httpResourceServer) isWebBrowser(adapter HTTPAdapter) bool {
	accept := adapter.GetAcceptHeader()
	userAgent := adapter.GetUserAgent()
	return strings.Contains(accept, "text/html") && strings.Contains(userAgent, "Mozilla")
}

// createHTTPResponse builds response instructions for a PaymentRequired body:
// paywall HTML for browsers, headers + an optional custom body for API clients.
func (s *httpResourceServer) createHTTPResponse(paymentRequired types.PaymentRequired, isWebBrowser bool, paywallConfig *PaywallConfig, customHTML string, unpaidResponse *UnpaidResponse) *HTTPResponseInstructions {
	if isWebBrowser {
		html := s.generatePaywallHTML(paymentRequired, paywallConfig, customHTML)
		return &HTTPResponseInstructions{
			Status: 402,
			Headers: map[string]string{
				"Content-Type": "text/html",
			},
			Body:   html,
			IsHTML: true,
		}
	}

	contentType := "application/json"
	var body interface{}

	if unpaidResponse != nil {
		contentType = unpaidResponse.ContentType
		body = unpaidResponse.Body
	}

	return &HTTPResponseInstructions{
		Status: 402,
		Headers: map[string]string{
			"Content-Type":     contentType,
			"PAYMENT-REQUIRED": encodePaymentRequiredHeader(paymentRequired),
		},
		Body: body,
	}
}

// createSettlementHeaders builds the settlement response headers.
func (s *httpResourceServer) createSettlementHeaders(response *x402.SettleResponse) map[string]string {
	return map[string]string{
		"PAYMENT-RESPONSE": encodePaymentResponseHeader(*response),
	}
}

// generatePaywallHTML generates the HTML paywall shown to browsers.
func (s *httpResourceServer) generatePaywallHTML(paymentRequired types.PaymentRequired, config *PaywallConfig, customHTML string) string {
	if customHTML != "" {
		return customHTML
	}

	displayAmount := s.getDisplayAmount(paymentRequired)

	resourceDesc := ""
	if paymentRequired.Resource != nil {
		if paymentRequired.Resource.Description != "" {
			resourceDesc = paymentRequired.Resource.Description
		} else if paymentRequired.Resource.URL != "" {
			resourceDesc = paymentRequired.Resource.URL
		}
	}

	appLogo := ""
	appName := ""
	cdpClientKey := ""
	testnet := false

	if config != nil {
		if config.AppLogo != "" {
			appLogo = fmt.Sprintf(`<img src="%s" alt="%s" style="max-width: 200px; margin-bottom: 20px;">`,
				html.EscapeString(config.AppLogo),
				html.EscapeString(config.AppName))
		}
		appName = config.AppName
		cdpClientKey = config.CDPClientKey
		testnet = config.Testnet
	}

	requirementsJSON, _ := json.Marshal(paymentRequired)

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<title>Payment Required</title>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<style>
		body {
			font-family: system-ui, -apple-system, sans-serif;
			margin: 0;
			padding: 0;
			background: #f5f5f5;
		}
		.container {
			max-width: 600px;
			margin: 50px auto;
			padding: 20px;
			background: white;
			border-radius: 8px;
			box-shadow: 0 2px 4px rgba(0,0,0,0.1);
		}
		.logo { margin-bottom: 20px; }
		h1 { color: #333; }
		.info { margin: 20px 0; }
		.info p { margin: 10px 0; }
		.amount {
			font-size: 24px;
			font-weight: bold;
			color: #0066cc;
			margin: 20px 0;
		}
		#payment-widget {
			margin-top: 30px;
			padding: 20px;
			border: 1px dashed #ccc;
			border-radius: 4px;
			background: #fafafa;
			text-align: center;
			color: #666;
		}
	</style>
</head>
<body>
	<div class="container">
		%s
		<h1>Payment Required</h1>
		<div class="info">
			<p><strong>Resource:</strong> %s</p>
			<p class="amount">Amount: $%.2f USDC</p>
		</div>
		<div id="payment-widget"
			data-requirements='%s'
			data-cdp-client-key="%s"
			data-app-name="%s"
			data-testnet="%t">
			<!-- CDP widget would be injected here -->
			<p>Loading payment widget...</p>
		</div>
	</div>
</body>
</html>`,
		appLogo,
		html.EscapeString(resourceDesc),
		displayAmount,
		html.EscapeString(string(requirementsJSON)),
		html.EscapeString(cdpClientKey),
		html.EscapeString(appName),
		testnet,
	)
}

// getDisplayAmount extracts a human-displayable amount from the first
// accepted payment requirement, assuming 6 decimals (USDC-style).
func (s *httpResourceServer) getDisplayAmount(paymentRequired types.PaymentRequired) float64 {
	if len(paymentRequired.Accepts) > 0 {
		firstReq := paymentRequired.Accepts[0]
		if firstReq.Amount != "" {
			amount, err := strconv.ParseFloat(firstReq.Amount, 64)
			if err == nil {
				return amount / 1000000
			}
		}
	}
	return 0.0
}

// ============================================================================
// Utility Functions
// ============================================================================

// parseRoutePattern parses a route pattern like "GET /api/*".
func parseRoutePattern(pattern string) (string, *regexp.Regexp) {
	parts := strings.Fields(pattern)

	var verb, path string
	if len(parts) == 2 {
		verb = strings.ToUpper(parts[0])
		path = parts[1]
	} else {
		verb = "*"
		path = pattern
	}

	regexPattern := "^" + regexp.QuoteMeta(path)
	regexPattern = strings.ReplaceAll(regexPattern, `\*`, `.*?`)
	paramRegex := regexp.MustCompile(`\\\[([^\]]+)\\\]`)
	regexPattern = paramRegex.ReplaceAllString(regexPattern, `[^/]+`)
	regexPattern += "$"

	regex := regexp.MustCompile(regexPattern)

	return verb, regex
}

// normalizePath normalizes a URL path for matching.
func normalizePath(path string) string {
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}

	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}

	path = strings.ReplaceAll(path, `\`, `/`)
	multiSlash := regexp.MustCompile(`/+`)
	path = multiSlash.ReplaceAllString(path, `/`)
	path = strings.TrimSuffix(path, `/`)

	if path == "" {
		path = "/"
	}

	return path
}
