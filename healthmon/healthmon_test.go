package healthmon

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dban0001/llmgateway/catalog"
)

func TestMonitor_UnknownProviderIsHealthyByDefault(t *testing.T) {
	m := New(catalog.New(), zap.NewNop())
	assert.True(t, m.IsHealthy("nonexistent"))
}

func TestMonitor_ProbesReachableHost(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	cat := catalog.FromTables([]catalog.Provider{
		{ID: "test-provider", EndpointTemplate: srv.URL + "/v1/chat/completions"},
	}, nil)

	m := New(cat, zap.NewNop())
	m.interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.IsHealthy("test-provider")
	}, time.Second, 10*time.Millisecond)
}

func TestMonitor_StopTerminatesLoop(t *testing.T) {
	m := New(catalog.New(), zap.NewNop())
	m.interval = 10 * time.Millisecond
	m.Start(context.Background())
	m.Stop()

	select {
	case <-m.doneCh:
	default:
		t.Fatal("expected loop goroutine to have exited after Stop")
	}
}
