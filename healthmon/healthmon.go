// Package healthmon implements the background provider health monitor
// SPEC_FULL.md's SUPPLEMENT section adds on top of the distilled spec: a
// periodic active probe per upstream provider feeding the router's
// "available providers" computation (router.HealthView), so a provider
// that is down doesn't keep losing `auto` requests to a dial timeout on
// every single call.
//
// Grounded on the teacher's llm/health_monitor.go background-loop idiom
// (ticker + goroutine + cancel func + mutex-guarded status map), simplified
// from its QPS/score-based circuit breaker down to a plain up/down view —
// the spec's router has no QPS-limiting or scored-degradation concept, only
// a binary "is this provider currently usable" gate.
package healthmon

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dban0001/llmgateway/catalog"
)

// defaultInterval is how often each provider is re-probed.
const defaultInterval = 30 * time.Second

// defaultProbeTimeout bounds a single probe request.
const defaultProbeTimeout = 5 * time.Second

// Monitor probes every catalog provider's host on a fixed interval and
// reports the last observed outcome. It satisfies router.HealthView.
type Monitor struct {
	client   *http.Client
	interval time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	healthy map[string]bool

	hosts map[string]string // providerID -> scheme://host

	cancel context.CancelFunc
	doneCh chan struct{}
}

// New builds a Monitor over every provider in cat. It does not start
// probing until Start is called.
func New(cat *catalog.Catalog, logger *zap.Logger) *Monitor {
	hosts := make(map[string]string)
	for _, p := range cat.Providers() {
		if u, err := url.Parse(p.EndpointTemplate); err == nil && u.Scheme != "" && u.Host != "" {
			hosts[p.ID] = u.Scheme + "://" + u.Host + "/"
		}
	}
	return &Monitor{
		client:   &http.Client{Timeout: defaultProbeTimeout},
		interval: defaultInterval,
		logger:   logger.With(zap.String("component", "health_monitor")),
		healthy:  make(map[string]bool, len(hosts)),
		hosts:    hosts,
	}
}

// IsHealthy reports whether providerID's most recent probe succeeded. A
// provider with no recorded probe yet (e.g. before the first tick, or one
// missing from the host map) is treated as healthy — fail-open, matching
// the teacher's "default healthy" stance in GetHealthScore.
func (m *Monitor) IsHealthy(providerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	healthy, ok := m.healthy[providerID]
	if !ok {
		return true
	}
	return healthy
}

// Start launches the background probe loop. Call Stop to terminate it.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.doneCh = make(chan struct{})

	m.probeAll(ctx)

	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

// Stop cancels the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.doneCh
}

func (m *Monitor) probeAll(ctx context.Context) {
	for providerID, host := range m.hosts {
		go m.probeOne(ctx, providerID, host)
	}
}

func (m *Monitor) probeOne(ctx context.Context, providerID, host string) {
	reqCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	healthy := true
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, host, nil)
	if err != nil {
		healthy = false
	} else {
		resp, err := m.client.Do(req)
		if err != nil {
			healthy = false
		} else {
			resp.Body.Close()
			// Any response at all (even a 4xx/5xx from a provider that
			// rejects bare HEAD requests to its root) means the host is
			// reachable, which is all this probe asserts.
		}
	}

	m.mu.Lock()
	prev, known := m.healthy[providerID]
	m.healthy[providerID] = healthy
	m.mu.Unlock()

	if known && prev != healthy {
		m.logger.Warn("provider health changed",
			zap.String("provider_id", providerID),
			zap.Bool("healthy", healthy))
	}
}
