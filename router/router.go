// Package router implements the gateway's model router (C6, spec §4.6): it
// resolves a caller-supplied model string to a concrete (provider, native
// model name, endpoint, credential) tuple under a project's billing mode,
// then applies the post-resolution capability gates. Deliberately a fresh
// package rather than an adaptation of the teacher's llm/router.go, whose
// canary/QPS-weighted routing has no counterpart in this deterministic,
// rule-based design (see DESIGN.md).
package router

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dban0001/llmgateway/billing"
	"github.com/dban0001/llmgateway/catalog"
	"github.com/dban0001/llmgateway/credentials"
	"github.com/dban0001/llmgateway/types"
)

// fallbackModel and fallbackProvider are the §4.6 rule-1 hard fallback when
// no catalog model qualifies for `auto`.
const (
	fallbackModel    = "gpt-4o-mini"
	fallbackProvider = "openai"
)

const customProviderID = "llmgateway"

// OrgKeyProviders reports which provider ids an organization has at least
// one active stored key for, keyed by provider id.
type OrgKeyProviders interface {
	ActiveKeyProviderIDs(ctx context.Context, orgID string) (map[string]bool, error)
}

// CustomProviderLookup resolves a stored custom-provider definition by its
// org-scoped name.
type CustomProviderLookup interface {
	CustomProvider(ctx context.Context, orgID, name string) (endpoint string, ok bool, err error)
}

// HealthView reports whether a provider is currently considered healthy by
// the supplemented background health monitor; a provider with no recorded
// probes is treated as healthy (fail-open at startup).
type HealthView interface {
	IsHealthy(providerID string) bool
}

// Result is the resolved routing decision.
type Result struct {
	ProviderID        string
	ProviderModelName string
	Endpoint          string
	StreamEndpoint    string
	Credential        credentials.Credential
	CustomEndpoint    string // set only when ProviderID == customProviderID
}

// Router resolves requests per spec §4.6.
type Router struct {
	cat         *catalog.Catalog
	creds       *credentials.Resolver
	orgKeys     OrgKeyProviders
	customLookup CustomProviderLookup
	health      HealthView
}

// New builds a Router.
func New(cat *catalog.Catalog, creds *credentials.Resolver, orgKeys OrgKeyProviders, customLookup CustomProviderLookup, health HealthView) *Router {
	return &Router{cat: cat, creds: creds, orgKeys: orgKeys, customLookup: customLookup, health: health}
}

// Route resolves model M for proj/org and applies the post-resolution
// gates. reqStream/reqResponseFormat/reqReasoningEffort/reqMaxTokens are the
// relevant fields off the inbound ChatRequest.
func (r *Router) Route(ctx context.Context, m string, proj billing.Project, org billing.Organization, reqStream bool, jsonOutputRequested bool, reasoningEffortRequested bool, reqMaxTokens int) (Result, error) {
	res, err := r.resolve(ctx, m, proj, org)
	if err != nil {
		return Result{}, err
	}
	if err := r.applyGates(res, reqStream, jsonOutputRequested, reasoningEffortRequested, reqMaxTokens); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (r *Router) resolve(ctx context.Context, m string, proj billing.Project, org billing.Organization) (Result, error) {
	switch {
	case m == "auto":
		return r.resolveAuto(ctx, proj, org)
	case m == "custom":
		return r.resolveCustomMeta()
	}

	if providerID, rest, known := r.cat.SplitProviderPrefix(m); known {
		return r.resolveProviderPrefixed(ctx, providerID, rest, proj, org)
	} else if idx := strings.IndexByte(m, '/'); idx >= 0 {
		prefix, suffix := m[:idx], m[idx+1:]
		return r.resolveCustomProviderPrefixed(ctx, prefix, suffix, proj, org)
	}

	if model, ok := r.cat.LookupModel(m); ok {
		return r.resolveCanonicalModel(ctx, model, proj, org)
	}

	// Rule 5: does it match only a provider-native name, not a canonical id?
	for _, id := range r.cat.OrderedModelIDs() {
		model, _ := r.cat.LookupModel(id)
		for _, pm := range model.ProviderMappings {
			if pm.ProviderModelName == m {
				return Result{}, types.NewError(types.ErrModelProviderPrefixReq,
					"model \""+m+"\" is a provider-specific name; use \"provider/model\" form").WithHTTPStatus(400)
			}
		}
	}

	return Result{}, types.NewError(types.ErrUnsupportedModel, "unsupported model: "+m).WithHTTPStatus(400)
}

func (r *Router) availableProviders(ctx context.Context, proj billing.Project, org billing.Organization) (map[string]bool, error) {
	available := make(map[string]bool)

	if proj.Mode == billing.ModeAPIKeys || proj.Mode == billing.ModeHybrid {
		ids, err := r.orgKeys.ActiveKeyProviderIDs(ctx, proj.OrganizationID)
		if err != nil {
			return nil, types.NewError(types.ErrInternalError, "loading stored provider keys").WithCause(err).WithHTTPStatus(500)
		}
		for id := range ids {
			available[id] = true
		}
	}

	if proj.Mode == billing.ModeCredits || proj.Mode == billing.ModeHybrid {
		for id, prov := range r.allProviders() {
			if id == customProviderID {
				continue
			}
			if prov.DefaultCredentialEnv == "" {
				continue
			}
			if _, ok := credentials.OSEnvLookup(prov.DefaultCredentialEnv); ok {
				available[id] = true
			}
		}
	}

	return available, nil
}

// allProviders is a small helper since Catalog doesn't expose enumeration
// directly; FindProvider is keyed, so it walks the static id list kept
// here and skips any id the catalog does not know.
func (r *Router) allProviders() map[string]catalog.Provider {
	out := make(map[string]catalog.Provider)
	ids := []string{
		"openai", "anthropic", "google-vertex", "google-ai-studio", "mistral",
		"deepseek", "perplexity", "groq", "together", "inference-net",
		"alibaba", "xai", "moonshot", "meta", customProviderID,
	}
	for _, id := range ids {
		if p, ok := r.cat.FindProvider(id); ok {
			out[id] = p
		}
	}
	return out
}

func (r *Router) resolveAuto(ctx context.Context, proj billing.Project, org billing.Organization) (Result, error) {
	available, err := r.availableProviders(ctx, proj, org)
	if err != nil {
		return Result{}, err
	}

	now := time.Now()
	for _, id := range r.cat.OrderedModelIDs() {
		if r.cat.IsDeprecated(id, now) {
			continue
		}
		mappings := r.cat.AvailableMappings(id, available)
		for _, pm := range mappings {
			if r.health != nil && !r.health.IsHealthy(pm.ProviderID) {
				continue
			}
			return r.finish(ctx, pm.ProviderID, pm.ProviderModelName, proj, org)
		}
	}

	// Design-note divergence: the naive fallback of unconditionally routing
	// to (openai, gpt-4o-mini) can hand back a route with no usable
	// credential. Only take the fallback when openai is actually among the
	// available providers; otherwise there is truly no route and callers
	// must see NoAvailableProvider rather than a route that will fail at
	// dispatch time.
	if available[fallbackProvider] {
		return r.finish(ctx, fallbackProvider, fallbackModel, proj, org)
	}
	return Result{}, types.NewError(types.ErrNoAvailableProvider, "no available provider for auto routing").WithHTTPStatus(400)
}

func (r *Router) resolveCustomMeta() (Result, error) {
	prov, _ := r.cat.FindProvider(customProviderID)
	return Result{ProviderID: customProviderID, Endpoint: prov.EndpointTemplate}, nil
}

func (r *Router) resolveProviderPrefixed(ctx context.Context, providerID, modelName string, proj billing.Project, org billing.Organization) (Result, error) {
	if _, ok := r.cat.LookupModelByProviderModelName(providerID, modelName); !ok {
		return Result{}, types.NewError(types.ErrUnsupportedModel,
			"no catalog mapping for "+providerID+"/"+modelName).WithHTTPStatus(400)
	}
	return r.finish(ctx, providerID, modelName, proj, org)
}

func (r *Router) resolveCustomProviderPrefixed(ctx context.Context, customName, modelName string, proj billing.Project, org billing.Organization) (Result, error) {
	if r.customLookup == nil {
		return Result{}, types.NewError(types.ErrCustomProviderNotFound, "no custom provider configured: "+customName).WithHTTPStatus(404)
	}
	endpoint, ok, err := r.customLookup.CustomProvider(ctx, proj.OrganizationID, customName)
	if err != nil {
		return Result{}, types.NewError(types.ErrInternalError, "looking up custom provider").WithCause(err).WithHTTPStatus(500)
	}
	if !ok {
		return Result{}, types.NewError(types.ErrCustomProviderNotFound, "no custom provider configured: "+customName).WithHTTPStatus(404)
	}
	cred, err := r.creds.Resolve(ctx, proj, org, customProviderID, customName, "")
	if err != nil {
		return Result{}, err
	}
	return Result{
		ProviderID:        customProviderID,
		ProviderModelName: modelName,
		Endpoint:          endpoint,
		CustomEndpoint:    endpoint,
		Credential:        cred,
	}, nil
}

func (r *Router) resolveCanonicalModel(ctx context.Context, model catalog.Model, proj billing.Project, org billing.Organization) (Result, error) {
	if len(model.ProviderMappings) == 1 {
		pm := model.ProviderMappings[0]
		return r.finish(ctx, pm.ProviderID, pm.ProviderModelName, proj, org)
	}

	available, err := r.availableProviders(ctx, proj, org)
	if err != nil {
		return Result{}, err
	}
	candidates := r.cat.AvailableMappings(model.ID, available)
	if len(candidates) == 0 {
		return Result{}, types.NewError(types.ErrNoAvailableProvider,
			"no available provider for model "+model.ID).WithHTTPStatus(400)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return (candidates[i].InputPrice + candidates[i].OutputPrice) < (candidates[j].InputPrice + candidates[j].OutputPrice)
	})
	best := candidates[0]
	return r.finish(ctx, best.ProviderID, best.ProviderModelName, proj, org)
}

func (r *Router) finish(ctx context.Context, providerID, modelName string, proj billing.Project, org billing.Organization) (Result, error) {
	prov, ok := r.cat.FindProvider(providerID)
	if !ok {
		return Result{}, types.NewError(types.ErrInternalError, "unknown provider "+providerID).WithHTTPStatus(500)
	}
	cred, err := r.creds.Resolve(ctx, proj, org, providerID, "", prov.DefaultCredentialEnv)
	if err != nil {
		return Result{}, err
	}
	return Result{
		ProviderID:        providerID,
		ProviderModelName: modelName,
		Endpoint:          prov.EndpointTemplate,
		StreamEndpoint:    prov.StreamEndpointTemplate,
		Credential:        cred,
	}, nil
}

func (r *Router) applyGates(res Result, reqStream, jsonOutputRequested, reasoningEffortRequested bool, reqMaxTokens int) error {
	if res.ProviderID == customProviderID {
		return nil // catalog gates don't apply to opaque custom endpoints
	}
	model, ok := r.cat.LookupModel(modelIDFor(r.cat, res))
	if !ok {
		return nil
	}

	now := time.Now()
	if r.cat.IsDeactivated(model.ID, now) {
		return types.NewError(types.ErrModelDeactivated, "model "+model.ID+" has been deactivated").WithHTTPStatus(410)
	}
	if jsonOutputRequested && !r.cat.JSONOutputSupported(model.ID) {
		return types.NewError(types.ErrJSONOutputUnsupported, "model "+model.ID+" does not support json_object response_format").WithHTTPStatus(400)
	}
	if reasoningEffortRequested && !r.cat.ReasoningSupported(model.ID) {
		return types.NewError(types.ErrReasoningUnsupported, "no provider of model "+model.ID+" supports reasoning_effort").WithHTTPStatus(400)
	}
	if reqStream && !r.cat.StreamingSupported(model.ID, res.ProviderID) {
		return types.NewError(types.ErrStreamingUnsupported, "model "+model.ID+" does not support streaming on "+res.ProviderID).WithHTTPStatus(400)
	}
	if reqMaxTokens > 0 {
		for _, pm := range model.ProviderMappings {
			if pm.ProviderID == res.ProviderID && reqMaxTokens > pm.MaxOutput && pm.MaxOutput > 0 {
				return types.NewError(types.ErrMaxTokensExceedsMaxOut, "max_tokens exceeds the model's max output").WithHTTPStatus(400)
			}
		}
	}
	return nil
}

func modelIDFor(cat *catalog.Catalog, res Result) string {
	if model, ok := cat.LookupModelByProviderModelName(res.ProviderID, res.ProviderModelName); ok {
		return model.ID
	}
	return ""
}
