package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dban0001/llmgateway/api"
	"github.com/dban0001/llmgateway/billing"
	"github.com/dban0001/llmgateway/catalog"
	"github.com/dban0001/llmgateway/cost"
	"github.com/dban0001/llmgateway/credentials"
	"github.com/dban0001/llmgateway/logqueue"
	"github.com/dban0001/llmgateway/rcache"
	"github.com/dban0001/llmgateway/router"
	"github.com/dban0001/llmgateway/tokencount"
)

const testProviderID = "test-provider"

func testCatalog(upstreamURL string) *catalog.Catalog {
	provs := []catalog.Provider{{
		ID:                   testProviderID,
		Name:                 "Test Provider",
		EndpointTemplate:     upstreamURL,
		AuthScheme:           catalog.AuthBearer,
		Family:               catalog.FamilyOpenAI,
		CancellationSafe:     true,
		DefaultCredentialEnv: "TEST_PROVIDER_API_KEY",
	}}
	mdls := []catalog.Model{{
		ID:         "test-model",
		JSONOutput: true,
		ProviderMappings: []catalog.ProviderMapping{{
			ProviderID:        testProviderID,
			ProviderModelName: "test-model-v1",
			InputPrice:        1,
			OutputPrice:       2,
			ContextSize:       128000,
			MaxOutput:         4096,
			Streaming:         true,
		}},
	}}
	return catalog.FromTables(provs, mdls)
}

type fakeEnvLookup struct{ values map[string]string }

func (f fakeEnvLookup) lookup(name string) (string, bool) {
	v, ok := f.values[name]
	return v, ok
}

type fakeOrgKeys struct{}

func (fakeOrgKeys) ActiveKeyProviderIDs(_ context.Context, _ string) (map[string]bool, error) {
	return map[string]bool{testProviderID: true}, nil
}

type fakeCustomLookup struct{}

func (fakeCustomLookup) CustomProvider(_ context.Context, _, _ string) (string, bool, error) {
	return "", false, nil
}

type fakeApiKeyStore struct {
	keys map[string]ApiKeyRecord
}

func (s fakeApiKeyStore) Lookup(_ context.Context, token string) (ApiKeyRecord, bool, error) {
	rec, ok := s.keys[token]
	return rec, ok, nil
}

type fakeProjectStore struct {
	projects map[string]billing.Project
	orgs     map[string]billing.Organization
}

func (s fakeProjectStore) Project(_ context.Context, id string) (billing.Project, bool, error) {
	p, ok := s.projects[id]
	return p, ok, nil
}

func (s fakeProjectStore) Organization(_ context.Context, id string) (billing.Organization, bool, error) {
	o, ok := s.orgs[id]
	return o, ok, nil
}

type fakeQueue struct {
	entries []logqueue.Entry
}

func (q *fakeQueue) Enqueue(_ context.Context, e logqueue.Entry) error {
	q.entries = append(q.entries, e)
	return nil
}
func (q *fakeQueue) ClaimBatch(_ context.Context, _ int) ([][]byte, error) { return nil, nil }
func (q *fakeQueue) Acknowledge(_ context.Context, _ [][]byte) error       { return nil }
func (q *fakeQueue) Recover(_ context.Context, _ [][]byte) error           { return nil }
func (q *fakeQueue) RecoverProcessing(_ context.Context) (int, error)      { return 0, nil }
func (q *fakeQueue) Depths(_ context.Context) (int64, int64, error)        { return 0, 0, nil }

func newTestHandler(t *testing.T, upstreamURL string) (*ChatHandler, *fakeQueue) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cat := testCatalog(upstreamURL)
	creds := credentials.New(nil, fakeEnvLookup{values: map[string]string{"TEST_PROVIDER_API_KEY": "env-secret"}}.lookup)
	rt := router.New(cat, creds, fakeOrgKeys{}, fakeCustomLookup{}, nil)
	cache := rcache.New(rdb, time.Hour, zap.NewNop())
	calc := cost.New(cat)
	tokens := tokencount.New()

	keys := fakeApiKeyStore{keys: map[string]ApiKeyRecord{
		"sk-test": {ID: "key-1", ProjectID: "proj-1", Active: true},
	}}
	projects := fakeProjectStore{
		projects: map[string]billing.Project{
			"proj-1": {ID: "proj-1", OrganizationID: "org-1", Mode: billing.ModeCredits, CachingEnabled: true, CacheTTLSeconds: 3600},
		},
		orgs: map[string]billing.Organization{
			"org-1": {ID: "org-1", CreditBalance: 100},
		},
	}
	queue := &fakeQueue{}

	h := NewChatHandler(keys, projects, cat, rt, cache, calc, tokens, queue, http.DefaultClient, zap.NewNop())
	return h, queue
}

func doChatRequest(h *ChatHandler, body []byte, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		r.Header.Set("Authorization", authHeader)
	}
	h.ServeHTTP(w, r)
	return w
}

func TestChatHandler_SuccessfulCompletion(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer env-secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "test-model-v1",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "hi there"},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13},
		})
	}))
	defer upstream.Close()

	h, queue := newTestHandler(t, upstream.URL)

	body, err := json.Marshal(api.ChatRequest{
		Model:    "test-model",
		Messages: []api.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)

	w := doChatRequest(h, body, "Bearer sk-test")

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cmpl-1", resp.ID)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hi there", resp.Choices[0].Message.Content)
	assert.NotEmpty(t, w.Header().Get("x-request-id"))

	require.Len(t, queue.entries, 1)
	assert.False(t, queue.entries[0].HasError)
	assert.Equal(t, "stop", queue.entries[0].FinishReason)
	assert.True(t, queue.entries[0].TotalCost > 0)
	assert.Equal(t, "org-1", queue.entries[0].OrganizationID)
}

func TestChatHandler_CacheHitSkipsUpstream(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "cmpl-1", "object": "chat.completion", "model": "test-model-v1",
			"choices": []map[string]any{{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": "cached answer"}}},
			"usage":   map[string]any{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		})
	}))
	defer upstream.Close()

	h, queue := newTestHandler(t, upstream.URL)
	body, err := json.Marshal(api.ChatRequest{
		Model:    "test-model",
		Messages: []api.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)

	w1 := doChatRequest(h, body, "Bearer sk-test")
	require.Equal(t, http.StatusOK, w1.Code)

	w2 := doChatRequest(h, body, "Bearer sk-test")
	require.Equal(t, http.StatusOK, w2.Code)

	assert.Equal(t, 1, calls)
	require.Len(t, queue.entries, 2)
	assert.False(t, queue.entries[0].Cached)
	assert.True(t, queue.entries[1].Cached)
	assert.Zero(t, queue.entries[1].DurationMS)
	assert.Zero(t, queue.entries[1].TotalCost)
}

func TestChatHandler_UnknownModelIsUnsupportedModel(t *testing.T) {
	h, queue := newTestHandler(t, "http://unused.invalid")

	body, err := json.Marshal(api.ChatRequest{
		Model:    "does-not-exist",
		Messages: []api.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)

	w := doChatRequest(h, body, "Bearer sk-test")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errResp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "UNSUPPORTED_MODEL", errResp.Error.Code)

	require.Len(t, queue.entries, 1)
	assert.True(t, queue.entries[0].HasError)
	assert.Equal(t, "does-not-exist", queue.entries[0].RequestedModel)
}

func TestChatHandler_MissingAuthHeader(t *testing.T) {
	h, queue := newTestHandler(t, "http://unused.invalid")
	body, err := json.Marshal(api.ChatRequest{
		Model:    "test-model",
		Messages: []api.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)

	w := doChatRequest(h, body, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.Len(t, queue.entries, 1)
	assert.Equal(t, "AUTH_MISSING", queue.entries[0].ErrorCode)
}

func TestChatHandler_InvalidApiKey(t *testing.T) {
	h, queue := newTestHandler(t, "http://unused.invalid")
	body, err := json.Marshal(api.ChatRequest{
		Model:    "test-model",
		Messages: []api.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)

	w := doChatRequest(h, body, "Bearer sk-bogus")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.Len(t, queue.entries, 1)
	assert.Equal(t, "AUTH_INVALID", queue.entries[0].ErrorCode)
}

func TestChatHandler_MissingModelOrMessages(t *testing.T) {
	h, queue := newTestHandler(t, "http://unused.invalid")
	body, err := json.Marshal(api.ChatRequest{Model: ""})
	require.NoError(t, err)

	w := doChatRequest(h, body, "Bearer sk-test")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, queue.entries, 1)
	assert.Equal(t, "INVALID_REQUEST", queue.entries[0].ErrorCode)
}

func TestChatHandler_UpstreamHTTPErrorIsLoggedAndSurfaced(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer upstream.Close()

	h, queue := newTestHandler(t, upstream.URL)
	body, err := json.Marshal(api.ChatRequest{
		Model:    "test-model",
		Messages: []api.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)

	w := doChatRequest(h, body, "Bearer sk-test")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Len(t, queue.entries, 1)
	assert.True(t, queue.entries[0].HasError)
	assert.Equal(t, "UPSTREAM_HTTP_ERROR", queue.entries[0].ErrorCode)
	assert.Equal(t, "gateway_error", queue.entries[0].FinishReason)
}

func TestChatHandler_StreamingResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		writeSSELine(w, `{"id":"c1","object":"chat.completion.chunk","model":"test-model-v1","choices":[{"index":0,"delta":{"role":"assistant","content":"hi"}}]}`)
		flusher.Flush()
		writeSSELine(w, `{"id":"c1","object":"chat.completion.chunk","model":"test-model-v1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":1,"total_tokens":5}}`)
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	h, queue := newTestHandler(t, upstream.URL)
	body, err := json.Marshal(api.ChatRequest{
		Model:    "test-model",
		Stream:   true,
		Messages: []api.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)

	w := doChatRequest(h, body, "Bearer sk-test")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "data: [DONE]")
	assert.Contains(t, w.Body.String(), `"content":"hi"`)

	require.Len(t, queue.entries, 1)
	assert.True(t, queue.entries[0].Streamed)
	assert.Equal(t, "stop", queue.entries[0].FinishReason)
}

func writeSSELine(w http.ResponseWriter, data string) {
	_, _ = w.Write([]byte("data: " + data + "\n\n"))
}
