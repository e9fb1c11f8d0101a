package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/trx402/engine/types"
)

// resourceServer manages payment requirements and verification/settlement
// for protected resources. It holds one SchemeNetworkServer per (network,
// scheme) and dispatches Verify/Settle to whichever FacilitatorClient
// advertised support for the payload's (network, scheme) pair.
type resourceServer struct {
	mu sync.RWMutex

	schemes map[Network]map[string]SchemeNetworkServer

	facilitatorClients     map[Network]map[string]FacilitatorClient
	tempFacilitatorClients []FacilitatorClient

	supportedCache *SupportedCache

	beforeVerifyHooks    []BeforeVerifyHook
	afterVerifyHooks     []AfterVerifyHook
	onVerifyFailureHooks []OnVerifyFailureHook
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// SupportedCache caches a facilitator's advertised (scheme, network) kinds
// so the server doesn't have to call GetSupported on every request.
type SupportedCache struct {
	mu     sync.RWMutex
	data   map[string]SupportedResponse
	expiry map[string]time.Time
	ttl    time.Duration
}

func (c *SupportedCache) Set(key string, response SupportedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = response
	c.expiry[key] = time.Now().Add(c.ttl)
}

func (c *SupportedCache) Get(key string) (SupportedResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	response, exists := c.data[key]
	if !exists {
		return SupportedResponse{}, false
	}
	if time.Now().After(c.expiry[key]) {
		return SupportedResponse{}, false
	}
	return response, true
}

// ResourceServerOption configures a ResourceServer.
type ResourceServerOption func(*resourceServer)

// WithFacilitatorClient adds a facilitator client, to be indexed by its
// advertised (network, scheme) kinds once Initialize runs.
func WithFacilitatorClient(client FacilitatorClient) ResourceServerOption {
	return func(s *resourceServer) {
		s.tempFacilitatorClients = append(s.tempFacilitatorClients, client)
	}
}

// WithSchemeServer registers a scheme server for a network (or pattern).
func WithSchemeServer(network Network, schemeServer SchemeNetworkServer) ResourceServerOption {
	return func(s *resourceServer) {
		s.Register(network, schemeServer)
	}
}

// WithCacheTTL sets the cache TTL for supported kinds.
func WithCacheTTL(ttl time.Duration) ResourceServerOption {
	return func(s *resourceServer) {
		s.supportedCache.ttl = ttl
	}
}

// NewResourceServer creates a new resource server.
func NewResourceServer(opts ...ResourceServerOption) *ResourceServer {
	s := &resourceServer{
		schemes:            make(map[Network]map[string]SchemeNetworkServer),
		facilitatorClients: make(map[Network]map[string]FacilitatorClient),
		supportedCache: &SupportedCache{
			data:   make(map[string]SupportedResponse),
			expiry: make(map[string]time.Time),
			ttl:    5 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Initialize populates the facilitator-client index by querying each
// registered facilitator's GetSupported.
func (s *resourceServer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, client := range s.tempFacilitatorClients {
		supported, err := client.GetSupported(ctx)
		if err != nil {
			return fmt.Errorf("failed to get supported from facilitator: %w", err)
		}

		for _, kind := range supported.Kinds {
			network := Network(kind.Network)
			scheme := kind.Scheme

			if s.facilitatorClients[network] == nil {
				s.facilitatorClients[network] = make(map[string]FacilitatorClient)
			}
			if s.facilitatorClients[network][scheme] == nil {
				s.facilitatorClients[network][scheme] = client
			}
		}

		s.supportedCache.Set(fmt.Sprintf("facilitator_%p", client), supported)
	}

	return nil
}

// Register registers a scheme server for a network (or pattern).
func (s *resourceServer) Register(network Network, schemeServer SchemeNetworkServer) *ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schemes[network] == nil {
		s.schemes[network] = make(map[string]SchemeNetworkServer)
	}
	s.schemes[network][schemeServer.Scheme()] = schemeServer
	return s
}

func (s *resourceServer) OnBeforeVerify(hook BeforeVerifyHook) *ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	return s
}

func (s *resourceServer) OnAfterVerify(hook AfterVerifyHook) *ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	return s
}

func (s *resourceServer) OnVerifyFailure(hook OnVerifyFailureHook) *ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onVerifyFailureHooks = append(s.onVerifyFailureHooks, hook)
	return s
}

func (s *resourceServer) OnBeforeSettle(hook BeforeSettleHook) *ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	return s
}

func (s *resourceServer) OnAfterSettle(hook AfterSettleHook) *ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSettleHooks = append(s.afterSettleHooks, hook)
	return s
}

func (s *resourceServer) OnSettleFailure(hook OnSettleFailureHook) *ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	return s
}

// BuildPaymentRequirements builds the PaymentRequirements for one resource
// route: parses its price into an asset/amount via the registered scheme
// server, then lets the scheme server enhance the result with
// scheme-specific extras (e.g. a fee quote, EIP-712 domain name/version).
func (s *resourceServer) BuildPaymentRequirements(
	ctx context.Context,
	config ResourceConfig,
	supportedKind types.SupportedKind,
	extensions []string,
) (types.PaymentRequirements, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scheme := config.Scheme
	network := config.Network

	schemeServer := s.schemes[network][scheme]
	if schemeServer == nil {
		return types.PaymentRequirements{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no scheme server for %s on %s", scheme, network),
		}
	}

	assetAmount, err := schemeServer.ParsePrice(config.Price, network)
	if err != nil {
		return types.PaymentRequirements{}, err
	}

	maxTimeout := config.MaxTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = 60
	}

	requirements := types.PaymentRequirements{
		Scheme:            scheme,
		Network:           string(network),
		Asset:             assetAmount.Asset,
		Amount:            assetAmount.Amount,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: maxTimeout,
		Extra:             assetAmount.Extra,
	}

	return schemeServer.EnhancePaymentRequirements(ctx, requirements, supportedKind, extensions)
}

// FindMatchingRequirements finds the entry in available that the client's
// payload claims to have paid against.
func (s *resourceServer) FindMatchingRequirements(available []types.PaymentRequirements, payload types.PaymentPayload) *types.PaymentRequirements {
	for _, req := range available {
		if payload.Accepted.Scheme == req.Scheme &&
			payload.Accepted.Network == req.Network &&
			payload.Accepted.Amount == req.Amount &&
			payload.Accepted.Asset == req.Asset &&
			payload.Accepted.PayTo == req.PayTo {
			return &req
		}
	}
	return nil
}

// VerifyPayment verifies a payment payload against requirements via the
// facilitator registered for its (network, scheme).
func (s *resourceServer) VerifyPayment(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*VerifyResponse, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, NewVerifyError("failed_to_marshal_payload", "", Network(requirements.Network), err)
	}
	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		return nil, NewVerifyError("failed_to_marshal_requirements", "", Network(requirements.Network), err)
	}

	hookCtx := VerifyContext{
		Ctx:               ctx,
		Payload:           payload,
		Requirements:      requirements,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
	}

	for _, hook := range s.beforeVerifyHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return nil, NewVerifyError(result.Reason, "", Network(requirements.Network), nil)
		}
	}

	s.mu.RLock()
	scheme := requirements.Scheme
	network := Network(requirements.Network)
	facilitator := s.facilitatorClients[network][scheme]
	s.mu.RUnlock()

	if facilitator == nil {
		return nil, NewVerifyError("no_facilitator", "", network, fmt.Errorf("no facilitator for %s on %s", scheme, network))
	}

	verifyResult, verifyErr := facilitator.Verify(ctx, payloadBytes, requirementsBytes)

	if verifyErr != nil {
		failureCtx := VerifyFailureContext{VerifyContext: hookCtx, Error: verifyErr}
		for _, hook := range s.onVerifyFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return verifyResult, verifyErr
	}

	resultCtx := VerifyResultContext{VerifyContext: hookCtx, Result: verifyResult}
	for _, hook := range s.afterVerifyHooks {
		_ = hook(resultCtx)
	}

	return verifyResult, nil
}

// SettlePayment settles an already-verified payment payload on chain via
// the facilitator registered for its (network, scheme).
func (s *resourceServer) SettlePayment(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*SettleResponse, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, NewSettleError("failed_to_marshal_payload", "", Network(requirements.Network), "", err)
	}
	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		return nil, NewSettleError("failed_to_marshal_requirements", "", Network(requirements.Network), "", err)
	}

	hookCtx := SettleContext{
		Ctx:               ctx,
		Payload:           payload,
		Requirements:      requirements,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
	}

	for _, hook := range s.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return nil, NewSettleError(result.Reason, "", Network(requirements.Network), "", nil)
		}
	}

	s.mu.RLock()
	scheme := requirements.Scheme
	network := Network(requirements.Network)
	facilitator := s.facilitatorClients[network][scheme]
	s.mu.RUnlock()

	if facilitator == nil {
		return nil, NewSettleError("no_facilitator", "", network, "", fmt.Errorf("no facilitator for %s on %s", scheme, network))
	}

	settleResult, settleErr := facilitator.Settle(ctx, payloadBytes, requirementsBytes)

	if settleErr != nil {
		failureCtx := SettleFailureContext{SettleContext: hookCtx, Error: settleErr}
		for _, hook := range s.onSettleFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return settleResult, settleErr
	}

	resultCtx := SettleResultContext{SettleContext: hookCtx, Result: settleResult}
	for _, hook := range s.afterSettleHooks {
		_ = hook(resultCtx)
	}

	return settleResult, nil
}

// CreatePaymentRequiredResponse builds the 402 response body.
func (s *resourceServer) CreatePaymentRequiredResponse(
	requirements []types.PaymentRequirements,
	resourceInfo *types.ResourceInfo,
	errorMsg string,
	extensions map[string]interface{},
) types.PaymentRequired {
	return types.PaymentRequired{
		X402Version: ProtocolVersion,
		Error:       errorMsg,
		Resource:    resourceInfo,
		Accepts:     requirements,
		Extensions:  extensions,
	}
}

// ProcessPaymentRequest implements the full end-to-end handshake for an
// incoming request against one protected resource (core spec §4.5):
//  1. build this resource's payment requirements
//  2. if no payload was presented, return a payment-required error (no
//     requirements are returned on this path)
//  3. otherwise find the accepted requirements the payload claims to match
//  4. verify the payload against those requirements
//  5. on verification failure, return the requirements plus the error
//  6. settle the verified payment on chain
//  7. return the matched requirements and the settlement-backed verify result
func (s *resourceServer) ProcessPaymentRequest(
	ctx context.Context,
	config ResourceConfig,
	payload *types.PaymentPayload,
) (*types.PaymentRequirements, *VerifyResponse, error) {
	available, err := s.BuildPaymentRequirementsFromConfig(ctx, config)
	if err != nil {
		return nil, nil, err
	}

	if payload == nil {
		return nil, nil, NewVerifyError(ErrCodePaymentRequired, "", config.Network, fmt.Errorf("no payment payload presented"))
	}

	matched := s.FindMatchingRequirements(available, *payload)
	if matched == nil {
		return nil, nil, NewVerifyError("no_matching_requirements", "", config.Network, fmt.Errorf("payload does not match any accepted payment requirements"))
	}

	verifyResult, err := s.VerifyPayment(ctx, *payload, *matched)
	if err != nil {
		return matched, nil, err
	}
	if !verifyResult.IsValid {
		return matched, verifyResult, NewVerifyError(verifyResult.InvalidReason, verifyResult.Payer, config.Network, nil)
	}

	settleResult, err := s.SettlePayment(ctx, *payload, *matched)
	if err != nil {
		return matched, verifyResult, err
	}
	if !settleResult.Success {
		return matched, verifyResult, NewSettleError(settleResult.ErrorReason, settleResult.Payer, config.Network, settleResult.Transaction, nil)
	}

	return matched, verifyResult, nil
}

// BuildPaymentRequirementsFromConfig builds the (currently single-element)
// list of accepted payment requirements for a resource route, enhancing
// it with any facilitator extras cached from Initialize.
func (s *resourceServer) BuildPaymentRequirementsFromConfig(ctx context.Context, config ResourceConfig) ([]types.PaymentRequirements, error) {
	s.mu.RLock()
	schemeServer := s.schemes[config.Network][config.Scheme]
	s.mu.RUnlock()
	if schemeServer == nil {
		return nil, fmt.Errorf("no scheme server for %s on %s", config.Scheme, config.Network)
	}

	var supportedKind types.SupportedKind
	foundKind := false

	s.supportedCache.mu.RLock()
	for _, cachedResponse := range s.supportedCache.data {
		for _, kind := range cachedResponse.Kinds {
			if kind.Scheme == config.Scheme && kind.Network == string(config.Network) {
				supportedKind = kind
				foundKind = true
				break
			}
		}
		if foundKind {
			break
		}
	}
	s.supportedCache.mu.RUnlock()

	if !foundKind {
		supportedKind = types.SupportedKind{
			X402Version: ProtocolVersion,
			Scheme:      config.Scheme,
			Network:     string(config.Network),
			Extra:       make(map[string]interface{}),
		}
	}

	requirement, err := s.BuildPaymentRequirements(ctx, config, supportedKind, []string{})
	if err != nil {
		return nil, err
	}

	return []types.PaymentRequirements{requirement}, nil
}
