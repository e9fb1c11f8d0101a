// Package http provides HTTP-specific implementations of x402 components:
// HTTP-aware clients, a resource-server adapter, and a remote facilitator client.
package http

import (
	"context"
	"io"
	"net/http"

	x402 "github.com/trx402/engine"
)

// ============================================================================
// Re-export main types for convenience
// ============================================================================

type (
	// HTTPClient is an alias for engineHTTPClient.
	HTTPClient = engineHTTPClient

	// HTTPServer is an alias for httpResourceServer.
	HTTPServer = httpResourceServer
)

// ============================================================================
// Constructor functions with simpler names
// ============================================================================

// NewClient creates a new HTTP-aware x402 client.
func NewClient(client *x402.Client) *engineHTTPClient {
	return NewHTTPClient(client)
}

// NewServer creates a new HTTP resource server.
func NewServer(routes RoutesConfig, opts ...x402.ResourceServerOption) *httpResourceServer {
	return NewHTTPResourceServer(routes, opts...)
}

// NewFacilitatorClient creates a new HTTP facilitator client.
func NewFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	return NewHTTPFacilitatorClient(config)
}

// ============================================================================
// Convenience functions
// ============================================================================

// WrapClient wraps a standard HTTP client with x402 payment handling.
func WrapClient(client *http.Client, engineClient *engineHTTPClient) *http.Client {
	return WrapHTTPClientWithPayment(client, engineClient)
}

// Get performs a GET request with automatic payment handling.
func Get(ctx context.Context, url string, engineClient *engineHTTPClient) (*http.Response, error) {
	return engineClient.GetWithPayment(ctx, url)
}

// Post performs a POST request with automatic payment handling.
func Post(ctx context.Context, url string, body io.Reader, engineClient *engineHTTPClient) (*http.Response, error) {
	return engineClient.PostWithPayment(ctx, url, body)
}

// Do performs an HTTP request with automatic payment handling.
func Do(ctx context.Context, req *http.Request, engineClient *engineHTTPClient) (*http.Response, error) {
	return engineClient.DoWithPayment(ctx, req)
}
