// Package catalog holds the static, read-only table of providers and models
// the gateway can route to: ids, endpoints, capabilities, prices, and
// context/output limits. The table is built once at startup (see data.go)
// and never mutated afterward — callers only ever read through the Catalog
// methods in catalog.go.
package catalog

import "time"

// AuthScheme identifies how a provider expects its credential presented.
type AuthScheme string

const (
	AuthBearer    AuthScheme = "bearer"
	AuthHeader    AuthScheme = "header" // e.g. Anthropic's x-api-key
	AuthQueryParam AuthScheme = "query_param"
)

// Family is the response-dialect a provider speaks, used to select the
// request translator / response normalizer (see package family).
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyGoogle    Family = "google"
	FamilyMistral   Family = "mistral"
)

// Provider describes one upstream model provider.
type Provider struct {
	ID                  string
	Name                string
	EndpointTemplate    string // e.g. "https://api.openai.com/v1/chat/completions"
	StreamEndpointTemplate string // non-empty only when it differs from EndpointTemplate (google)
	AuthScheme          AuthScheme
	Family              Family
	CancellationSafe    bool   // upstream honors client-initiated abort
	DefaultCredentialEnv string // env var name holding the default/shared credential
}

// PriceTier is a context-size-keyed pricing row for tiered pricing models
// (e.g. Gemini 2.5 Pro charges more per token above 200K context).
type PriceTier struct {
	MinContextSize int
	MaxContextSize int // inclusive; 0 means unbounded
	InputPrice     float64 // USD per 1M tokens
	OutputPrice    float64
	CachedInputPrice float64
}

// ProviderMapping is one (model, provider) pairing: how a canonical model
// id is actually invoked against a specific upstream.
type ProviderMapping struct {
	ProviderID        string
	ProviderModelName string

	InputPrice       float64 // USD per 1M tokens, flat
	OutputPrice      float64
	CachedInputPrice float64
	ImagePrice       float64
	RequestPrice     float64
	PriceTiers       []PriceTier // optional; checked before falling back to flat prices

	ContextSize int
	MaxOutput   int

	Streaming bool
	Vision    bool
	Reasoning bool
}

// Model is a canonical model definition with one or more provider mappings.
type Model struct {
	ID              string
	JSONOutput      bool
	DeprecatedAt    *time.Time
	DeactivatedAt   *time.Time
	ProviderMappings []ProviderMapping
}
