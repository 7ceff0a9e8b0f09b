// Package credentials implements the credential resolver (C5, spec §4.5):
// given a project's billing mode, a target provider, and an optional
// custom-provider name, it decides which upstream credential pays for a
// request. When an organization has stored more than one key for the same
// provider, selection among them reuses the teacher's API-key pool
// strategy (priority / round-robin / weighted-random / least-used),
// grounded on the now-retired llm/apikey_pool.go.
package credentials

import (
	"context"
	"math/rand"
	"os"
	"sort"
	"sync"

	"github.com/dban0001/llmgateway/billing"
	"github.com/dban0001/llmgateway/types"
)

// SelectionStrategy mirrors the teacher's APIKeySelectionStrategy enum.
type SelectionStrategy string

const (
	StrategyPriority       SelectionStrategy = "priority"
	StrategyRoundRobin     SelectionStrategy = "round_robin"
	StrategyWeightedRandom SelectionStrategy = "weighted_random"
	StrategyLeastUsed      SelectionStrategy = "least_used"
)

// StoredKey is one org-owned provider credential.
type StoredKey struct {
	ID            string
	OrgID         string
	ProviderID    string
	CustomName    string // set only for the "custom" provider id
	Token         string
	BaseURL       string
	Active        bool
	Priority      int
	Weight        int
	TotalRequests int64
}

// KeyStore is the narrow read interface the resolver needs from the
// datastore (spec §2's "interfaces only" instruction: only storage package
// couples to a concrete database).
type KeyStore interface {
	ActiveProviderKeys(ctx context.Context, orgID, providerID string) ([]StoredKey, error)
	ActiveCustomProviderKey(ctx context.Context, orgID, customName string) (StoredKey, bool, error)
}

// EnvLookup resolves a provider's default-credential environment variable.
// Isolated behind a function type so tests can substitute a fixed map
// instead of touching the real process environment.
type EnvLookup func(name string) (string, bool)

// OSEnvLookup reads from the real process environment via os.LookupEnv.
func OSEnvLookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// Credential is the resolved result: a bearer/header token plus which
// stored key (if any) was used, for logging and pool bookkeeping.
type Credential struct {
	Token         string
	ProviderKeyID string // empty when an env credential was used
}

// Resolver implements spec §4.5's mode-branching resolution.
type Resolver struct {
	keys KeyStore
	env  EnvLookup

	mu    sync.Mutex
	pools map[string]*pool // keyed by orgID+":"+providerID
}

// New builds a Resolver. envLookup is typically credentials.OSEnvLookup;
// a fake is passed in tests.
func New(keys KeyStore, envLookup EnvLookup) *Resolver {
	return &Resolver{
		keys:  keys,
		env:   envLookup,
		pools: make(map[string]*pool),
	}
}

// Resolve implements spec §4.5 exactly: api-keys mode must find a stored
// key; credits mode uses the env default and forbids custom providers;
// hybrid mode prefers a stored key, else falls back to env+positive-credits.
func (r *Resolver) Resolve(ctx context.Context, proj billing.Project, org billing.Organization, providerID, customProviderName, providerDefaultCredentialEnv string) (Credential, error) {
	switch proj.Mode {
	case billing.ModeAPIKeys:
		return r.fromStore(ctx, proj.OrganizationID, providerID, customProviderName)

	case billing.ModeCredits:
		if customProviderName != "" {
			return Credential{}, types.NewError(types.ErrCustomInCreditsMode, "custom providers are not allowed in credits billing mode").WithHTTPStatus(400)
		}
		return r.fromEnv(org, providerDefaultCredentialEnv)

	case billing.ModeHybrid:
		if cred, err := r.fromStore(ctx, proj.OrganizationID, providerID, customProviderName); err == nil {
			return cred, nil
		}
		if customProviderName != "" {
			return Credential{}, types.NewError(types.ErrCustomInCreditsMode, "custom providers require a stored key").WithHTTPStatus(400)
		}
		if !org.HasPositiveCredits() {
			return Credential{}, types.NewError(types.ErrInsufficientCredits, "organization has no remaining credits").WithHTTPStatus(402)
		}
		return r.fromEnv(org, providerDefaultCredentialEnv)

	default:
		return Credential{}, types.NewError(types.ErrInternalError, "unknown billing mode").WithHTTPStatus(500)
	}
}

func (r *Resolver) fromStore(ctx context.Context, orgID, providerID, customProviderName string) (Credential, error) {
	if customProviderName != "" {
		k, ok, err := r.keys.ActiveCustomProviderKey(ctx, orgID, customProviderName)
		if err != nil {
			return Credential{}, types.NewError(types.ErrInternalError, "looking up custom provider key").WithCause(err).WithHTTPStatus(500)
		}
		if !ok {
			return Credential{}, types.NewError(types.ErrCustomProviderNotFound, "no stored definition for custom provider "+customProviderName).WithHTTPStatus(404)
		}
		return Credential{Token: k.Token, ProviderKeyID: k.ID}, nil
	}

	p := r.poolFor(orgID, providerID)
	k, err := p.selectFrom(ctx, r.keys, orgID, providerID)
	if err != nil {
		return Credential{}, types.NewError(types.ErrNoProviderKey, "no active stored key for provider "+providerID).WithHTTPStatus(400)
	}
	return Credential{Token: k.Token, ProviderKeyID: k.ID}, nil
}

func (r *Resolver) fromEnv(org billing.Organization, envVar string) (Credential, error) {
	if envVar == "" {
		return Credential{}, types.NewError(types.ErrNoProviderEnv, "provider has no default credential configured").WithHTTPStatus(500)
	}
	token, ok := r.env(envVar)
	if !ok || token == "" {
		return Credential{}, types.NewError(types.ErrNoProviderEnv, "environment variable "+envVar+" is not set").WithHTTPStatus(500)
	}
	if !org.HasPositiveCredits() {
		return Credential{}, types.NewError(types.ErrInsufficientCredits, "organization has no remaining credits").WithHTTPStatus(402)
	}
	return Credential{Token: token}, nil
}

func (r *Resolver) poolFor(orgID, providerID string) *pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := orgID + ":" + providerID
	p, ok := r.pools[key]
	if !ok {
		p = &pool{strategy: StrategyPriority, rng: rand.New(rand.NewSource(1))}
		r.pools[key] = p
	}
	return p
}

// pool selects among an org's stored keys for one provider, mirroring the
// teacher's APIKeyPool selection strategies. Defaults to StrategyPriority
// (lowest Priority value wins), round-robining among ties.
type pool struct {
	mu            sync.Mutex
	strategy      SelectionStrategy
	roundRobinIdx int
	rng           *rand.Rand
}

func (p *pool) selectFrom(ctx context.Context, store KeyStore, orgID, providerID string) (StoredKey, error) {
	keys, err := store.ActiveProviderKeys(ctx, orgID, providerID)
	if err != nil {
		return StoredKey{}, err
	}
	if len(keys) == 0 {
		return StoredKey{}, errNoKey
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.strategy {
	case StrategyRoundRobin:
		k := keys[p.roundRobinIdx%len(keys)]
		p.roundRobinIdx++
		return k, nil
	case StrategyWeightedRandom:
		return p.selectWeightedRandom(keys), nil
	case StrategyLeastUsed:
		return p.selectLeastUsed(keys), nil
	default: // StrategyPriority
		return p.selectPriority(keys), nil
	}
}

func (p *pool) selectPriority(keys []StoredKey) StoredKey {
	sorted := append([]StoredKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	best := sorted[0].Priority
	var tied []StoredKey
	for _, k := range sorted {
		if k.Priority == best {
			tied = append(tied, k)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	k := tied[p.roundRobinIdx%len(tied)]
	p.roundRobinIdx++
	return k
}

func (p *pool) selectWeightedRandom(keys []StoredKey) StoredKey {
	total := 0
	for _, k := range keys {
		total += k.Weight
	}
	if total == 0 {
		return keys[0]
	}
	target := p.rng.Intn(total)
	cumulative := 0
	for _, k := range keys {
		cumulative += k.Weight
		if cumulative > target {
			return k
		}
	}
	return keys[0]
}

func (p *pool) selectLeastUsed(keys []StoredKey) StoredKey {
	sorted := append([]StoredKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TotalRequests < sorted[j].TotalRequests })
	return sorted[0]
}

var errNoKey = types.NewError(types.ErrNoProviderKey, "no active stored key")
