package catalog

import (
	"strings"
	"time"
)

// Catalog is the read-only, in-memory table of providers and models the
// gateway can route to. It is built once at startup via New and shared
// across requests; no method mutates its state.
type Catalog struct {
	providers   map[string]Provider
	models      map[string]Model
	orderedIDs  []string // model ids in declared order, for the `auto` walk
	byNativeName map[string]string // providerModelName -> canonical model id
}

// New builds a Catalog from the static provider/model tables. A persisted
// override layer (see storage.Store) may later replace individual entries
// before the result is handed to the router; New itself only ever reads
// the compiled-in defaults.
func New() *Catalog {
	return FromTables(providers, models)
}

// FromTables builds a Catalog from caller-supplied provider/model slices,
// letting a persisted override layer substitute or extend the compiled-in
// defaults before construction.
func FromTables(provs []Provider, mdls []Model) *Catalog {
	c := &Catalog{
		providers:    make(map[string]Provider, len(provs)),
		models:       make(map[string]Model, len(mdls)),
		orderedIDs:   make([]string, 0, len(mdls)),
		byNativeName: make(map[string]string),
	}
	for _, p := range provs {
		c.providers[p.ID] = p
	}
	for _, m := range mdls {
		c.models[m.ID] = m
		c.orderedIDs = append(c.orderedIDs, m.ID)
		for _, pm := range m.ProviderMappings {
			c.byNativeName[pm.ProviderID+"/"+pm.ProviderModelName] = m.ID
		}
	}
	return c
}

// LookupModel returns the canonical model by id.
func (c *Catalog) LookupModel(id string) (Model, bool) {
	m, ok := c.models[id]
	return m, ok
}

// LookupModelByProviderModelName resolves a provider-native model name back
// to its canonical model id, disambiguated by provider id since two
// providers may reuse the same native name for unrelated models.
func (c *Catalog) LookupModelByProviderModelName(providerID, name string) (Model, bool) {
	id, ok := c.byNativeName[providerID+"/"+name]
	if !ok {
		return Model{}, false
	}
	return c.LookupModel(id)
}

// FindProvider returns the provider definition by id.
func (c *Catalog) FindProvider(id string) (Provider, bool) {
	p, ok := c.providers[id]
	return p, ok
}

// Providers returns every provider definition the catalog knows about, in
// no particular order. Used by the background health monitor to build its
// probe set at startup.
func (c *Catalog) Providers() []Provider {
	out := make([]Provider, 0, len(c.providers))
	for _, p := range c.providers {
		out = append(out, p)
	}
	return out
}

// OrderedModelIDs returns canonical model ids in catalog-declared order,
// the order the `auto` router walks looking for the first viable model.
func (c *Catalog) OrderedModelIDs() []string {
	return c.orderedIDs
}

// mappingFor returns the ProviderMapping of modelID for providerID, if any.
func (c *Catalog) mappingFor(modelID, providerID string) (ProviderMapping, bool) {
	m, ok := c.models[modelID]
	if !ok {
		return ProviderMapping{}, false
	}
	for _, pm := range m.ProviderMappings {
		if pm.ProviderID == providerID {
			return pm, true
		}
	}
	return ProviderMapping{}, false
}

// StreamingSupported reports whether modelID can stream through providerID.
func (c *Catalog) StreamingSupported(modelID, providerID string) bool {
	pm, ok := c.mappingFor(modelID, providerID)
	return ok && pm.Streaming
}

// ReasoningSupported reports whether any mapping of modelID supports
// reasoning_effort.
func (c *Catalog) ReasoningSupported(modelID string) bool {
	m, ok := c.models[modelID]
	if !ok {
		return false
	}
	for _, pm := range m.ProviderMappings {
		if pm.Reasoning {
			return true
		}
	}
	return false
}

// JSONOutputSupported reports whether modelID supports response_format:
// json_object.
func (c *Catalog) JSONOutputSupported(modelID string) bool {
	m, ok := c.models[modelID]
	return ok && m.JSONOutput
}

// IsDeactivated reports whether modelID was deactivated on or before now.
func (c *Catalog) IsDeactivated(modelID string, now time.Time) bool {
	m, ok := c.models[modelID]
	if !ok || m.DeactivatedAt == nil {
		return false
	}
	return !m.DeactivatedAt.After(now)
}

// IsDeprecated reports whether modelID was deprecated on or before now.
func (c *Catalog) IsDeprecated(modelID string, now time.Time) bool {
	m, ok := c.models[modelID]
	if !ok || m.DeprecatedAt == nil {
		return false
	}
	return !m.DeprecatedAt.After(now)
}

// Price is the resolved price applicable to a request, either a tiered row
// selected by context size or the mapping's flat price.
type Price struct {
	InputPrice       float64
	OutputPrice      float64
	CachedInputPrice float64
	ImagePrice       float64
	RequestPrice     float64
	Tiered           bool
}

// PriceFor resolves the price for modelID on providerID given the prompt's
// context size: the tier whose [min,max] range contains contextSize wins;
// if no tier matches (or none are defined), the mapping's flat price is
// used. The second return is false if the (model, provider) pair does not
// exist in the catalog.
func (c *Catalog) PriceFor(modelID, providerID string, contextSize int) (Price, bool) {
	pm, ok := c.mappingFor(modelID, providerID)
	if !ok {
		return Price{}, false
	}
	for _, t := range pm.PriceTiers {
		if contextSize < t.MinContextSize {
			continue
		}
		if t.MaxContextSize != 0 && contextSize > t.MaxContextSize {
			continue
		}
		return Price{
			InputPrice:       t.InputPrice,
			OutputPrice:      t.OutputPrice,
			CachedInputPrice: t.CachedInputPrice,
			ImagePrice:       pm.ImagePrice,
			RequestPrice:     pm.RequestPrice,
			Tiered:           true,
		}, true
	}
	return Price{
		InputPrice:       pm.InputPrice,
		OutputPrice:      pm.OutputPrice,
		CachedInputPrice: pm.CachedInputPrice,
		ImagePrice:       pm.ImagePrice,
		RequestPrice:     pm.RequestPrice,
	}, true
}

// AvailableMappings returns modelID's provider mappings restricted to the
// given set of available provider ids, in declared order.
func (c *Catalog) AvailableMappings(modelID string, availableProviders map[string]bool) []ProviderMapping {
	m, ok := c.models[modelID]
	if !ok {
		return nil
	}
	out := make([]ProviderMapping, 0, len(m.ProviderMappings))
	for _, pm := range m.ProviderMappings {
		if availableProviders[pm.ProviderID] {
			out = append(out, pm)
		}
	}
	return out
}

// SplitProviderPrefix splits M on the first "/" and reports whether the
// prefix names a known provider id. Used by the router's rule 3.
func (c *Catalog) SplitProviderPrefix(m string) (providerID, rest string, isKnownProvider bool) {
	idx := strings.IndexByte(m, '/')
	if idx < 0 {
		return "", m, false
	}
	prefix, suffix := m[:idx], m[idx+1:]
	_, known := c.providers[prefix]
	return prefix, suffix, known
}
