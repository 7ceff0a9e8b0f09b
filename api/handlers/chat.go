package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dban0001/llmgateway/api"
	"github.com/dban0001/llmgateway/billing"
	"github.com/dban0001/llmgateway/catalog"
	"github.com/dban0001/llmgateway/cost"
	"github.com/dban0001/llmgateway/family"
	"github.com/dban0001/llmgateway/llm"
	"github.com/dban0001/llmgateway/llm/circuitbreaker"
	"github.com/dban0001/llmgateway/llm/retry"
	"github.com/dban0001/llmgateway/logqueue"
	"github.com/dban0001/llmgateway/rcache"
	"github.com/dban0001/llmgateway/router"
	"github.com/dban0001/llmgateway/tokencount"
	"github.com/dban0001/llmgateway/types"
)

// ApiKeyRecord is the authentication-relevant subset of a stored api-key
// row.
type ApiKeyRecord struct {
	ID        string
	ProjectID string
	Active    bool
}

// ApiKeyStore resolves a bearer token to its owning api-key record.
type ApiKeyStore interface {
	Lookup(ctx context.Context, token string) (ApiKeyRecord, bool, error)
}

// ProjectStore loads the billing-relevant project/organization rows the
// handler needs for routing and credential resolution.
type ProjectStore interface {
	Project(ctx context.Context, id string) (billing.Project, bool, error)
	Organization(ctx context.Context, id string) (billing.Organization, bool, error)
}

// ChatHandler is the C9 ingress: the gateway's only externally-documented
// endpoint, POST /v1/chat/completions. It orchestrates auth, routing,
// caching, dispatch, normalization, and always-enqueue logging, for both
// the unary and streamed paths (spec §4.9).
type ChatHandler struct {
	apiKeys ApiKeyStore
	proj    ProjectStore
	cat     *catalog.Catalog
	router  *router.Router
	cache   *rcache.Cache
	cost    *cost.Calculator
	tokens  *tokencount.Adapter
	queue   logqueue.Queue
	client  *http.Client
	logger  *zap.Logger

	retryer retry.Retryer

	breakersMu sync.Mutex
	breakers   map[string]circuitbreaker.CircuitBreaker
}

// NewChatHandler builds a ChatHandler. client may be nil, in which case
// http.DefaultClient is used.
func NewChatHandler(apiKeys ApiKeyStore, proj ProjectStore, cat *catalog.Catalog, rt *router.Router, cache *rcache.Cache, calc *cost.Calculator, tokens *tokencount.Adapter, queue logqueue.Queue, client *http.Client, logger *zap.Logger) *ChatHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatHandler{
		apiKeys:  apiKeys,
		proj:     proj,
		cat:      cat,
		router:   rt,
		cache:    cache,
		cost:     calc,
		tokens:   tokens,
		queue:    queue,
		client:   client,
		logger:   logger.With(zap.String("component", "chat_handler")),
		retryer:  retry.NewBackoffRetryer(retry.DefaultRetryPolicy(), logger.With(zap.String("component", "chat_handler"))),
		breakers: make(map[string]circuitbreaker.CircuitBreaker),
	}
}

// breakerFor returns the per-provider circuit breaker, lazily creating one
// on first use. Each upstream provider trips independently: one provider's
// outage must not count against another's failure budget.
func (h *ChatHandler) breakerFor(providerID string) circuitbreaker.CircuitBreaker {
	h.breakersMu.Lock()
	defer h.breakersMu.Unlock()
	if b, ok := h.breakers[providerID]; ok {
		return b
	}
	b := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(), h.logger)
	h.breakers[providerID] = b
	return b
}

// ServeHTTP implements the §4.9 pipeline. Every return path has already
// written a response by the time this function returns; the deferred
// enqueue fires exactly once regardless of which path was taken (§8
// invariant 1: every request produces exactly one log row).
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := extractOrGenerateRequestID(r)
	w.Header().Set("x-request-id", requestID)

	entry := &logqueue.Entry{
		RequestID:     requestID,
		CustomHeaders: captureCustomHeaders(r.Header),
		CreatedAt:     start,
	}
	enqueued := false
	defer func() {
		if enqueued {
			return
		}
		if !entry.Cached {
			entry.DurationMS = time.Since(start).Milliseconds()
		}
		if h.queue == nil {
			return
		}
		if err := h.queue.Enqueue(context.Background(), *entry); err != nil {
			h.logger.Error("failed to enqueue log entry", zap.String("request_id", requestID), zap.Error(err))
		}
	}()

	var req api.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.failEarly(w, entry, types.NewError(types.ErrInvalidRequest, "invalid JSON body: "+err.Error()).WithHTTPStatus(400))
		return
	}
	entry.RequestedModel = req.Model
	entry.Streamed = req.Stream
	entry.Temperature = req.Temperature
	entry.MaxTokens = req.MaxTokens
	entry.TopP = req.TopP
	entry.FrequencyPenalty = req.FrequencyPenalty
	entry.PresencePenalty = req.PresencePenalty
	entry.ReasoningEffort = req.ReasoningEffort

	if req.Model == "" || len(req.Messages) == 0 {
		h.failEarly(w, entry, types.NewError(types.ErrInvalidRequest, "model and messages are required").WithHTTPStatus(400))
		return
	}

	token, authErr := extractBearerToken(r)
	if authErr != nil {
		h.failEarly(w, entry, authErr)
		return
	}

	ctx := r.Context()

	keyRec, found, err := h.apiKeys.Lookup(ctx, token)
	if err != nil {
		h.failEarly(w, entry, types.NewError(types.ErrInternalError, "looking up api key").WithCause(err).WithHTTPStatus(500))
		return
	}
	if !found || !keyRec.Active {
		h.failEarly(w, entry, types.NewError(types.ErrAuthInvalid, "invalid or disabled api key").WithHTTPStatus(401))
		return
	}
	entry.ApiKeyID = keyRec.ID

	proj, found, err := h.proj.Project(ctx, keyRec.ProjectID)
	if err != nil || !found {
		h.failEarly(w, entry, types.NewError(types.ErrInternalError, "project not found").WithCause(err).WithHTTPStatus(500))
		return
	}
	entry.ProjectID = proj.ID
	entry.OrganizationID = proj.OrganizationID
	entry.Mode = proj.Mode

	org, found, err := h.proj.Organization(ctx, proj.OrganizationID)
	if err != nil || !found {
		h.failEarly(w, entry, types.NewError(types.ErrInternalError, "organization not found").WithCause(err).WithHTTPStatus(500))
		return
	}

	jsonRequested := req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object"
	reasoningRequested := req.ReasoningEffort != ""
	result, err := h.router.Route(ctx, req.Model, proj, org, req.Stream, jsonRequested, reasoningRequested, req.MaxTokens)
	if err != nil {
		h.failEarly(w, entry, asTypesError(err))
		return
	}
	entry.RequestedProvider = result.ProviderID
	entry.UsedProvider = result.ProviderID
	entry.UsedModel = result.ProviderModelName

	llmReq := toLLMRequest(req, requestID)
	llmReq.Model = result.ProviderModelName

	if !req.Stream && proj.CachingEnabled && h.cache != nil {
		key := rcache.GenerateKey(llmReq)
		if cached, cerr := h.cache.Get(ctx, key); cerr == nil && cached != nil {
			entry.Cached = true
			if len(cached.Choices) > 0 {
				entry.FinishReason = cached.Choices[0].FinishReason
			}
			writeJSONBody(w, http.StatusOK, llmRespToAPI(cached))
			return
		}
	}

	prov, ok := h.cat.FindProvider(result.ProviderID)
	if !ok {
		h.failEarly(w, entry, types.NewError(types.ErrInternalError, "unknown provider "+result.ProviderID).WithHTTPStatus(500))
		return
	}
	fam, ok := family.For(prov.Family)
	if !ok {
		h.failEarly(w, entry, types.NewError(types.ErrInternalError, "unsupported provider family for "+result.ProviderID).WithHTTPStatus(500))
		return
	}

	body, headers, err := fam.TranslateRequest(llmReq, result.ProviderModelName, prov.AuthScheme, result.Credential.Token)
	if err != nil {
		h.failEarly(w, entry, types.NewError(types.ErrInternalError, "building upstream request").WithCause(err).WithHTTPStatus(500))
		return
	}

	endpoint := result.Endpoint
	if req.Stream && result.StreamEndpoint != "" {
		endpoint = result.StreamEndpoint
	}
	if result.CustomEndpoint != "" {
		endpoint = result.CustomEndpoint
	}
	if prov.AuthScheme == catalog.AuthQueryParam {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + "key=" + url.QueryEscape(result.Credential.Token)
	}

	if req.Stream {
		h.dispatchStream(w, r, entry, prov, fam, endpoint, body, headers, llmReq)
		return
	}
	h.dispatchUnary(w, ctx, entry, proj, fam, endpoint, body, headers, llmReq, result)
}

// dispatchUnary sends the upstream request, retrying transport failures and
// 5xx responses through the provider's circuit breaker (spec §5's dispatch
// resilience: a tripped breaker fails fast instead of piling up retries
// against an upstream that is already down).
func (h *ChatHandler) dispatchUnary(w http.ResponseWriter, ctx context.Context, entry *logqueue.Entry, proj billing.Project, fam family.Family, endpoint string, body []byte, headers http.Header, llmReq *llm.ChatRequest, result router.Result) {
	breaker := h.breakerFor(result.ProviderID)

	var (
		respBody   []byte
		statusCode int
		dispatched *types.Error
	)

	retryErr := h.retryer.Do(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			dispatched = types.NewError(types.ErrInternalError, "building upstream HTTP request").WithCause(err).WithHTTPStatus(500)
			return nil
		}
		httpReq.Header = headers.Clone()

		var upstream *http.Response
		cbErr := breaker.Call(ctx, func() error {
			res, doErr := h.client.Do(httpReq)
			if doErr != nil {
				return doErr
			}
			upstream = res
			return nil
		})
		if cbErr != nil {
			if errors.Is(cbErr, circuitbreaker.ErrCircuitOpen) || errors.Is(cbErr, circuitbreaker.ErrTooManyCallsInHalfOpen) {
				dispatched = types.NewError(types.ErrProviderUnavailable, "provider circuit breaker open for "+result.ProviderID).WithCause(cbErr).WithHTTPStatus(503)
				return nil
			}
			if ctx.Err() != nil {
				entry.Canceled = true
				entry.FinishReason = "canceled"
				dispatched = types.NewError(types.ErrClientCanceled, "client disconnected before upstream responded").WithHTTPStatus(400)
				return nil
			}
			dispatched = types.NewError(types.ErrUpstreamTransportError, "upstream request failed").WithCause(cbErr).WithHTTPStatus(500).WithRetryable(true)
			return cbErr
		}
		defer upstream.Body.Close()

		b, err := io.ReadAll(upstream.Body)
		if err != nil {
			dispatched = types.NewError(types.ErrUpstreamTransportError, "reading upstream response").WithCause(err).WithHTTPStatus(500).WithRetryable(true)
			return dispatched
		}

		if upstream.StatusCode < 200 || upstream.StatusCode >= 300 {
			entry.FinishReason = family.FinishReasonForHTTPError(upstream.StatusCode)
			typedErr := types.NewError(types.ErrUpstreamHTTPError, "upstream returned status "+strconv.Itoa(upstream.StatusCode)).
				WithHTTPStatus(500).
				WithRetryable(upstream.StatusCode >= 500)
			typedErr.ResponseText = string(b)
			typedErr.RequestedProvider = entry.RequestedProvider
			typedErr.UsedProvider = entry.UsedProvider
			typedErr.RequestedModel = entry.RequestedModel
			typedErr.UsedModel = entry.UsedModel
			dispatched = typedErr
			if typedErr.Retryable {
				return typedErr
			}
			return nil
		}

		respBody = b
		statusCode = upstream.StatusCode
		dispatched = nil
		return nil
	})

	if dispatched != nil {
		h.failEarly(w, entry, dispatched)
		return
	}
	if retryErr != nil {
		h.failEarly(w, entry, types.NewError(types.ErrUpstreamTransportError, "upstream request failed after retries").WithCause(retryErr).WithHTTPStatus(500))
		return
	}

	chatResp, err := fam.ParseUnary(statusCode, respBody)
	if err != nil {
		h.failEarly(w, entry, types.NewError(types.ErrUpstreamHTTPError, "parsing upstream response").WithCause(err).WithHTTPStatus(500))
		return
	}

	usage, estimated := h.finalizeUnaryUsage(chatResp, llmReq)
	chatResp.Usage = usage
	h.applyCost(entry, result, usage, estimated)

	if len(chatResp.Choices) > 0 {
		entry.FinishReason = chatResp.Choices[0].FinishReason
	}
	entry.ResponseSize = len(respBody)

	if proj.CachingEnabled && h.cache != nil {
		key := rcache.GenerateKey(llmReq)
		ttl := time.Duration(proj.CacheTTLSeconds) * time.Second
		if err := h.cache.Set(ctx, key, chatResp, ttl); err != nil {
			h.logger.Warn("cache set failed", zap.String("request_id", entry.RequestID), zap.Error(err))
		}
	}

	writeJSONBody(w, http.StatusOK, llmRespToAPI(chatResp))
}

func (h *ChatHandler) dispatchStream(w http.ResponseWriter, r *http.Request, entry *logqueue.Entry, prov catalog.Provider, fam family.Family, endpoint string, body []byte, headers http.Header, llmReq *llm.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.failEarly(w, entry, types.NewError(types.ErrInternalError, "streaming unsupported by response writer").WithHTTPStatus(500))
		return
	}

	ctx := r.Context()
	var cancel context.CancelFunc
	if prov.CancellationSafe {
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	// The retry/circuit-breaker pass only covers establishing the upstream
	// connection: once the SSE status line and headers are on the wire, a
	// retry can no longer be spliced in without the client seeing a second
	// response, so everything past this point runs once.
	breaker := h.breakerFor(entry.UsedProvider)
	var upstream *http.Response
	var connectErr error
	retryErr := h.retryer.Do(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			connectErr = err
			return nil
		}
		httpReq.Header = headers.Clone()

		cbErr := breaker.Call(ctx, func() error {
			res, doErr := h.client.Do(httpReq)
			if doErr != nil {
				return doErr
			}
			upstream = res
			return nil
		})
		if cbErr == nil {
			connectErr = nil
			return nil
		}
		connectErr = cbErr
		if ctx.Err() != nil || errors.Is(cbErr, circuitbreaker.ErrCircuitOpen) || errors.Is(cbErr, circuitbreaker.ErrTooManyCallsInHalfOpen) {
			return nil
		}
		return cbErr
	})
	if connectErr == nil && retryErr != nil {
		connectErr = retryErr
	}
	if connectErr != nil {
		entry.HasError = true
		entry.ErrorCode = string(types.ErrUpstreamTransportError)
		entry.ErrorMessage = connectErr.Error()
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		writeSSEError(w, flusher, connectErr.Error())
		return
	}
	resp := upstream
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		entry.HasError = true
		entry.ErrorCode = string(types.ErrUpstreamHTTPError)
		entry.FinishReason = family.FinishReasonForHTTPError(resp.StatusCode)
		entry.ErrorMessage = string(errBody)
		writeSSEError(w, flusher, "upstream returned status "+strconv.Itoa(resp.StatusCode))
		return
	}

	parser := fam.NewStreamParser(resp.Body)
	var assistantText strings.Builder
	var finalUsage *llm.ChatUsage
	var finishReason string

	for {
		chunk, err := parser.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			entry.HasError = true
			entry.ErrorMessage = err.Error()
			writeSSEError(w, flusher, "stream parse error")
			return
		}

		if chunk.Delta.Content != "" {
			assistantText.WriteString(chunk.Delta.Content)
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			finalUsage = chunk.Usage
		}

		writeSSEChunk(w, flusher, chunk, llmReq.Model)

		if r.Context().Err() != nil {
			if prov.CancellationSafe && cancel != nil {
				cancel()
			}
			entry.Canceled = true
			entry.FinishReason = "canceled"
			fmt.Fprint(w, "event: canceled\ndata: {}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		}
	}

	usage, estimated := h.finalizeStreamUsage(finalUsage, llmReq, assistantText.String())
	if estimated {
		data, _ := json.Marshal(api.ChunkUsage{Usage: apiUsageFrom(usage)})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	if finishReason == "" {
		finishReason = "stop"
	}
	entry.FinishReason = finishReason
	entry.PromptTokens = usage.PromptTokens
	entry.CompletionTokens = usage.CompletionTokens
	entry.ReasoningTokens = usage.ReasoningTokens
	entry.CachedTokens = usage.CachedTokens
	entry.Content = assistantText.String()
	entry.EstimatedCost = estimated

	if modelID, ok := h.cat.LookupModelByProviderModelName(entry.UsedProvider, entry.UsedModel); ok {
		if result, ok2 := h.cost.Calculate(modelID.ID, entry.UsedProvider, usage.PromptTokens, usage.CompletionTokens, usage.CachedTokens, estimated); ok2 {
			entry.InputCost = result.InputCost
			entry.OutputCost = result.OutputCost
			entry.CachedInputCost = result.CachedInputCost
			entry.RequestCost = result.RequestCost
			entry.TotalCost = result.TotalCost
			entry.EstimatedCost = result.EstimatedCost
		}
	}
}

func (h *ChatHandler) finalizeUnaryUsage(resp *llm.ChatResponse, req *llm.ChatRequest) (llm.ChatUsage, bool) {
	usage := resp.Usage
	estimated := false
	if usage.PromptTokens == 0 {
		n, _ := h.tokens.CountChat(req.Model, req.Messages)
		usage.PromptTokens = n
		estimated = true
	}
	if usage.CompletionTokens == 0 {
		text := ""
		if len(resp.Choices) > 0 {
			text = resp.Choices[0].Message.Content
		}
		n, _ := h.tokens.CountText(req.Model, text)
		usage.CompletionTokens = n
		estimated = true
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage, estimated
}

func (h *ChatHandler) finalizeStreamUsage(usage *llm.ChatUsage, req *llm.ChatRequest, assistantText string) (llm.ChatUsage, bool) {
	var result llm.ChatUsage
	estimated := false
	if usage != nil {
		result = *usage
	}
	if result.PromptTokens == 0 {
		n, _ := h.tokens.CountChat(req.Model, req.Messages)
		result.PromptTokens = n
		estimated = true
	}
	if result.CompletionTokens == 0 {
		n, _ := h.tokens.CountText(req.Model, assistantText)
		result.CompletionTokens = n
		estimated = true
	}
	return result, estimated
}

func (h *ChatHandler) applyCost(entry *logqueue.Entry, result router.Result, usage llm.ChatUsage, estimated bool) {
	entry.PromptTokens = usage.PromptTokens
	entry.CompletionTokens = usage.CompletionTokens
	entry.ReasoningTokens = usage.ReasoningTokens
	entry.CachedTokens = usage.CachedTokens

	modelID, ok := h.cat.LookupModelByProviderModelName(result.ProviderID, result.ProviderModelName)
	if !ok {
		entry.EstimatedCost = true
		return
	}
	costResult, ok := h.cost.Calculate(modelID.ID, result.ProviderID, usage.PromptTokens, usage.CompletionTokens, usage.CachedTokens, estimated)
	if !ok {
		entry.EstimatedCost = true
		return
	}
	entry.InputCost = costResult.InputCost
	entry.OutputCost = costResult.OutputCost
	entry.CachedInputCost = costResult.CachedInputCost
	entry.RequestCost = costResult.RequestCost
	entry.TotalCost = costResult.TotalCost
	entry.EstimatedCost = costResult.EstimatedCost
}

func (h *ChatHandler) failEarly(w http.ResponseWriter, entry *logqueue.Entry, err *types.Error) {
	entry.HasError = true
	entry.ErrorCode = string(err.Code)
	entry.ErrorMessage = err.Message

	status := err.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := api.ErrorResponse{Error: api.ErrorBody{
		Message:           err.Message,
		Type:              errorType(err),
		Code:              errorCodeString(err),
		RequestedProvider: err.RequestedProvider,
		UsedProvider:      err.UsedProvider,
		RequestedModel:    err.RequestedModel,
		UsedModel:         err.UsedModel,
		ResponseText:      err.ResponseText,
	}}
	writeJSONBody(w, status, body)
}

func errorType(err *types.Error) string {
	if err.Code == types.ErrUpstreamHTTPError {
		if err.HTTPStatus >= 500 {
			return "upstream_error"
		}
		return "gateway_error"
	}
	return strings.ToLower(string(err.Code))
}

func errorCodeString(err *types.Error) string {
	if err.Code == types.ErrClientCanceled {
		return "request_canceled"
	}
	return string(err.Code)
}

func asTypesError(err error) *types.Error {
	var te *types.Error
	if errors.As(err, &te) {
		return te
	}
	return types.NewError(types.ErrInternalError, err.Error()).WithCause(err).WithHTTPStatus(500)
}

func extractBearerToken(r *http.Request) (string, *types.Error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", types.NewError(types.ErrAuthMissing, "missing Authorization header").WithHTTPStatus(401)
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) || len(h) <= len(prefix) {
		return "", types.NewError(types.ErrAuthMalformed, `Authorization header must be "Bearer <token>"`).WithHTTPStatus(401)
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix)), nil
}

// captureCustomHeaders extracts every request header matching
// x-llmgateway-* (case-insensitive), keyed by the lowercased suffix
// (spec §4.9 step 2).
func captureCustomHeaders(h http.Header) map[string]string {
	const prefix = "x-llmgateway-"
	var out map[string]string
	for name, values := range h {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, prefix) || len(values) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[strings.TrimPrefix(lower, prefix)] = values[0]
	}
	return out
}

func extractOrGenerateRequestID(r *http.Request) string {
	if id := r.Header.Get("x-request-id"); id != "" {
		return id
	}
	return generateRequestID()
}

// generateRequestID produces a random 40-char hex slug (spec §4.9 step 1).
func generateRequestID() string {
	b := make([]byte, 20)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func toLLMRequest(req api.ChatRequest, requestID string) *llm.ChatRequest {
	var rf *llm.ResponseFormat
	if req.ResponseFormat != nil {
		rf = &llm.ResponseFormat{Type: req.ResponseFormat.Type}
	}
	return &llm.ChatRequest{
		RequestID:        requestID,
		Model:            req.Model,
		Messages:         req.Messages,
		Stream:           req.Stream,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		ResponseFormat:   rf,
		Tools:            req.Tools,
		ToolChoice:       req.ToolChoice,
		ReasoningEffort:  req.ReasoningEffort,
	}
}

func llmRespToAPI(resp *llm.ChatResponse) *api.ChatResponse {
	choices := make([]api.ChatChoice, len(resp.Choices))
	for i, c := range resp.Choices {
		choices[i] = api.ChatChoice{Index: c.Index, Message: c.Message, FinishReason: c.FinishReason}
	}
	var details *api.PromptTokensDetails
	if resp.Usage.PromptTokensDetails != nil {
		details = &api.PromptTokensDetails{CachedTokens: resp.Usage.PromptTokensDetails.CachedTokens}
	}
	return &api.ChatResponse{
		ID:      resp.ID,
		Object:  orDefault(resp.Object, "chat.completion"),
		Created: resp.Created,
		Model:   resp.Model,
		Choices: choices,
		Usage: api.ChatUsage{
			PromptTokens:        resp.Usage.PromptTokens,
			CompletionTokens:    resp.Usage.CompletionTokens,
			TotalTokens:         resp.Usage.TotalTokens,
			ReasoningTokens:     resp.Usage.ReasoningTokens,
			PromptTokensDetails: details,
		},
	}
}

func apiUsageFrom(u llm.ChatUsage) api.ChatUsage {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return api.ChatUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      total,
		ReasoningTokens:  u.ReasoningTokens,
	}
}

func writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, chunk *llm.StreamChunk, model string) {
	delta := chunk.Delta
	if delta.Role == "" {
		delta.Role = llm.RoleAssistant
	}
	apiChunk := api.StreamChunk{
		ID:      chunk.ID,
		Object:  "chat.completion.chunk",
		Created: chunk.Created,
		Model:   model,
		Choices: []api.ChunkChoice{{Index: chunk.Index, Delta: delta, FinishReason: chunk.FinishReason}},
	}
	data, err := json.Marshal(apiChunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, message string) {
	payload, _ := json.Marshal(api.StreamErrorEvent{Error: api.ErrorBody{
		Message: message,
		Type:    "upstream_error",
		Code:    string(types.ErrUpstreamHTTPError),
	}})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeJSONBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
