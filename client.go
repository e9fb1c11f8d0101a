package x402

import (
	"context"
	"fmt"
	"sync"

	"github.com/trx402/engine/types"
)

// client manages registered payment mechanisms and creates payment
// payloads. Used by applications that hold a signer and need to pay for a
// protected resource.
type client struct {
	mu sync.RWMutex

	schemes map[Network]map[string]SchemeNetworkClient

	requirementsSelector PaymentRequirementsSelector
	policies             []PaymentPolicy

	beforePaymentCreationHooks    []BeforePaymentCreationHook
	afterPaymentCreationHooks     []AfterPaymentCreationHook
	onPaymentCreationFailureHooks []OnPaymentCreationFailureHook
}

// ClientOption configures a Client.
type ClientOption func(*client)

// WithPaymentSelector sets a custom payment requirements selector.
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *client) {
		c.requirementsSelector = selector
	}
}

// WithPolicy registers a payment policy at creation time.
func WithPolicy(policy PaymentPolicy) ClientOption {
	return func(c *client) {
		c.policies = append(c.policies, policy)
	}
}

// NewClient creates a new payment client.
func NewClient(opts ...ClientOption) *Client {
	c := &client{
		schemes:              make(map[Network]map[string]SchemeNetworkClient),
		requirementsSelector: DefaultPaymentSelector,
		policies:             []PaymentPolicy{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register registers a scheme mechanism for a network (or network pattern
// like "eip155:*").
func (c *client) Register(network Network, mechanism SchemeNetworkClient) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[network] == nil {
		c.schemes[network] = make(map[string]SchemeNetworkClient)
	}
	c.schemes[network][mechanism.Scheme()] = mechanism
	return c
}

// RegisterPolicy registers a policy to filter or transform payment
// requirements before selection.
func (c *client) RegisterPolicy(policy PaymentPolicy) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies = append(c.policies, policy)
	return c
}

func (c *client) OnBeforePaymentCreation(hook BeforePaymentCreationHook) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforePaymentCreationHooks = append(c.beforePaymentCreationHooks, hook)
	return c
}

func (c *client) OnAfterPaymentCreation(hook AfterPaymentCreationHook) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterPaymentCreationHooks = append(c.afterPaymentCreationHooks, hook)
	return c
}

func (c *client) OnPaymentCreationFailure(hook OnPaymentCreationFailureHook) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPaymentCreationFailureHooks = append(c.onPaymentCreationFailureHooks, hook)
	return c
}

// SelectPaymentRequirements picks one of the server's accepted payment
// requirements, filtering to ones this client has a registered mechanism
// for and running registered policies before the selector runs.
func (c *client) SelectPaymentRequirements(requirements []types.PaymentRequirements) (types.PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var supported []types.PaymentRequirements
	for _, req := range requirements {
		network := Network(req.Network)
		schemes := findSchemesByNetwork(c.schemes, network)
		if schemes != nil {
			if _, ok := schemes[req.Scheme]; ok {
				supported = append(supported, req)
			}
		}
	}

	if len(supported) == 0 {
		return types.PaymentRequirements{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: "no supported payment schemes available",
		}
	}

	views := toViews(supported)

	filtered := views
	for _, policy := range c.policies {
		filtered = policy(filtered)
		if len(filtered) == 0 {
			return types.PaymentRequirements{}, &PaymentError{
				Code:    ErrCodeUnsupportedScheme,
				Message: "all payment requirements were filtered out by policies",
			}
		}
	}

	selected := c.requirementsSelector(filtered)
	return fromView[types.PaymentRequirements](selected), nil
}

// CreatePaymentPayload delegates to the mechanism registered for the
// requirements' (scheme, network) and wraps the result with
// accepted/resource/extensions.
func (c *client) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
	resource types.ResourceInfo,
	extensions map[string]interface{},
) (types.PaymentPayload, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	scheme := requirements.Scheme
	network := Network(requirements.Network)

	schemes := findSchemesByNetwork(c.schemes, network)
	if schemes == nil {
		return types.PaymentPayload{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no client registered for network %s", network),
		}
	}

	mechanism := schemes[scheme]
	if mechanism == nil {
		return types.PaymentPayload{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no client registered for scheme %s on network %s", scheme, network),
		}
	}

	beforeCtx := PaymentCreationContext{
		Ctx:                  ctx,
		Version:              ProtocolVersion,
		SelectedRequirements: requirements,
	}
	for _, hook := range c.beforePaymentCreationHooks {
		result, err := hook(beforeCtx)
		if err != nil {
			return types.PaymentPayload{}, err
		}
		if result != nil && result.Abort {
			return types.PaymentPayload{}, NewPaymentError(ErrCodeInvalidPayment, result.Reason, nil)
		}
	}

	payload, err := mechanism.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		failureCtx := PaymentCreationFailureContext{PaymentCreationContext: beforeCtx, Error: err}
		for _, hook := range c.onPaymentCreationFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Payload.(types.PaymentPayload), nil
			}
		}
		return types.PaymentPayload{}, err
	}

	payload.X402Version = ProtocolVersion
	payload.Accepted = requirements
	payload.Resource = resource
	payload.Extensions = extensions

	afterCtx := PaymentCreatedContext{PaymentCreationContext: beforeCtx, Payload: payload}
	for _, hook := range c.afterPaymentCreationHooks {
		_ = hook(afterCtx)
	}

	return payload, nil
}

// GetRegisteredSchemes returns the registered (network, scheme) pairs, for
// diagnostics.
func (c *client) GetRegisteredSchemes() []struct {
	Network Network
	Scheme  string
} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []struct {
		Network Network
		Scheme  string
	}
	for network, schemeMap := range c.schemes {
		for scheme := range schemeMap {
			result = append(result, struct {
				Network Network
				Scheme  string
			}{Network: network, Scheme: scheme})
		}
	}
	return result
}
