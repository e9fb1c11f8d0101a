package x402

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/trx402/engine/types"
)

// schemeData stores a registered facilitator mechanism and the networks it
// was registered for.
type schemeData struct {
	facilitator SchemeNetworkFacilitator
	networks    map[Network]bool
	pattern     Network
}

// facilitatorCore manages payment verification and settlement across all
// registered scheme mechanisms. It is the in-process implementation of
// FacilitatorClient; the HTTP facilitator service wraps it directly, and a
// resource server can also embed it in-process to skip the network hop.
type facilitatorCore struct {
	mu sync.RWMutex

	schemes    []*schemeData
	extensions []string

	beforeVerifyHooks    []FacilitatorBeforeVerifyHook
	afterVerifyHooks     []FacilitatorAfterVerifyHook
	onVerifyFailureHooks []FacilitatorOnVerifyFailureHook
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook
}

// NewFacilitator creates a new facilitator.
func NewFacilitator() *Facilitator {
	return &facilitatorCore{
		schemes:    []*schemeData{},
		extensions: []string{},
	}
}

// Register registers a facilitator mechanism for the given networks (or
// network patterns). Networks are stored and reused for GetSupported.
func (f *facilitatorCore) Register(networks []Network, facilitator SchemeNetworkFacilitator) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	networkSet := make(map[Network]bool)
	for _, network := range networks {
		networkSet[network] = true
	}

	f.schemes = append(f.schemes, &schemeData{
		facilitator: facilitator,
		networks:    networkSet,
		pattern:     derivePattern(networks),
	})

	return f
}

// RegisterExtension registers a protocol extension name, advertised in
// GetSupported.
func (f *facilitatorCore) RegisterExtension(extension string) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ext := range f.extensions {
		if ext == extension {
			return f
		}
	}
	f.extensions = append(f.extensions, extension)
	return f
}

func (f *facilitatorCore) OnBeforeVerify(hook FacilitatorBeforeVerifyHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

func (f *facilitatorCore) OnAfterVerify(hook FacilitatorAfterVerifyHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

func (f *facilitatorCore) OnVerifyFailure(hook FacilitatorOnVerifyFailureHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

func (f *facilitatorCore) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

func (f *facilitatorCore) OnAfterSettle(hook FacilitatorAfterSettleHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

func (f *facilitatorCore) OnSettleFailure(hook FacilitatorOnSettleFailureHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// Verify unmarshals the wire payload/requirements and routes to the
// registered mechanism for their (scheme, network).
func (f *facilitatorCore) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error) {
	payload, err := types.ToPaymentPayload(payloadBytes)
	if err != nil {
		return nil, NewVerifyError("invalid_payload", "", "", err)
	}
	requirements, err := types.ToPaymentRequirements(requirementsBytes)
	if err != nil {
		return nil, NewVerifyError("invalid_requirements", "", "", err)
	}

	hookCtx := FacilitatorVerifyContext{
		Ctx:               ctx,
		Payload:           *payload,
		Requirements:      *requirements,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
	}
	for _, hook := range f.beforeVerifyHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return nil, NewVerifyError(result.Reason, "", "", nil)
		}
	}

	verifyResult, verifyErr := f.verify(ctx, *payload, *requirements)

	if verifyErr != nil {
		failureCtx := FacilitatorVerifyFailureContext{FacilitatorVerifyContext: hookCtx, Error: verifyErr}
		for _, hook := range f.onVerifyFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return nil, verifyErr
	}

	resultCtx := FacilitatorVerifyResultContext{FacilitatorVerifyContext: hookCtx, Result: verifyResult}
	for _, hook := range f.afterVerifyHooks {
		_ = hook(resultCtx)
	}

	return verifyResult, nil
}

// Settle unmarshals the wire payload/requirements and routes to the
// registered mechanism for their (scheme, network).
func (f *facilitatorCore) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error) {
	payload, err := types.ToPaymentPayload(payloadBytes)
	if err != nil {
		return nil, NewSettleError("invalid_payload", "", "", "", err)
	}
	requirements, err := types.ToPaymentRequirements(requirementsBytes)
	if err != nil {
		return nil, NewSettleError("invalid_requirements", "", "", "", err)
	}

	hookCtx := FacilitatorSettleContext{
		Ctx:               ctx,
		Payload:           *payload,
		Requirements:      *requirements,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
	}
	for _, hook := range f.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return nil, NewSettleError(result.Reason, "", "", "", nil)
		}
	}

	settleResult, settleErr := f.settle(ctx, *payload, *requirements)

	if settleErr != nil {
		failureCtx := FacilitatorSettleFailureContext{FacilitatorSettleContext: hookCtx, Error: settleErr}
		for _, hook := range f.onSettleFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return nil, settleErr
	}

	resultCtx := FacilitatorSettleResultContext{FacilitatorSettleContext: hookCtx, Result: settleResult}
	for _, hook := range f.afterSettleHooks {
		_ = hook(resultCtx)
	}

	return settleResult, nil
}

func (f *facilitatorCore) verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*VerifyResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	scheme := requirements.Scheme
	network := Network(requirements.Network)

	for _, data := range f.schemes {
		if data.facilitator.Scheme() != scheme {
			continue
		}
		if matchesSchemeData(data, network) {
			return data.facilitator.Verify(ctx, payload, requirements)
		}
	}

	return nil, NewVerifyError("no_facilitator_for_network", "", network, fmt.Errorf("no facilitator for scheme %s on network %s", scheme, network))
}

func (f *facilitatorCore) settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*SettleResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	scheme := requirements.Scheme
	network := Network(requirements.Network)

	for _, data := range f.schemes {
		if data.facilitator.Scheme() != scheme {
			continue
		}
		if matchesSchemeData(data, network) {
			return data.facilitator.Settle(ctx, payload, requirements)
		}
	}

	return nil, NewSettleError("no_facilitator_for_network", "", network, "", fmt.Errorf("no facilitator for scheme %s on network %s", scheme, network))
}

// GetSupported returns the facilitator's advertised (scheme, network)
// kinds and the signer addresses used for each CAIP family, derived from
// networks registered via Register.
func (f *facilitatorCore) GetSupported() SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := []SupportedKind{}
	signersByFamily := make(map[string]map[string]bool)

	for _, data := range f.schemes {
		facilitator := data.facilitator
		scheme := facilitator.Scheme()

		for network := range data.networks {
			kind := SupportedKind{
				X402Version: ProtocolVersion,
				Scheme:      scheme,
				Network:     string(network),
			}
			if extra := facilitator.GetExtra(network); extra != nil {
				kind.Extra = extra
			}
			kinds = append(kinds, kind)

			family := facilitator.CaipFamily()
			if signersByFamily[family] == nil {
				signersByFamily[family] = make(map[string]bool)
			}
			for _, signer := range facilitator.GetSigners(network) {
				signersByFamily[family][signer] = true
			}
		}
	}

	signers := make(map[string][]string)
	for family, signerSet := range signersByFamily {
		signerList := make([]string, 0, len(signerSet))
		for signer := range signerSet {
			signerList = append(signerList, signer)
		}
		signers[family] = signerList
	}

	return SupportedResponse{
		Kinds:      kinds,
		Extensions: f.extensions,
		Signers:    signers,
	}
}

// derivePattern creates a wildcard CAIP pattern from a set of networks
// sharing one namespace, or returns the first network for exact matching
// if the set spans multiple namespaces.
func derivePattern(networks []Network) Network {
	if len(networks) == 0 {
		return ""
	}
	if len(networks) == 1 {
		return networks[0]
	}

	namespaces := make(map[string]bool)
	for _, network := range networks {
		parts := strings.Split(string(network), ":")
		if len(parts) == 2 {
			namespaces[parts[0]] = true
		}
	}

	if len(namespaces) == 1 {
		for namespace := range namespaces {
			return Network(namespace + ":*")
		}
	}

	return networks[0]
}

// matchesSchemeData reports whether network was registered for data, either
// exactly or via its derived wildcard pattern.
func matchesSchemeData(data *schemeData, network Network) bool {
	if data.networks[network] {
		return true
	}
	return matchesNetworkPattern(string(network), string(data.pattern))
}

// matchesNetworkPattern reports whether concreteNetwork satisfies pattern,
// which may end in a "*" wildcard.
func matchesNetworkPattern(concreteNetwork, pattern string) bool {
	if pattern == concreteNetwork {
		return true
	}
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(concreteNetwork) >= len(prefix) && concreteNetwork[:len(prefix)] == prefix
	}
	return false
}
