// Package rcache is the gateway's response cache (spec §4.4): a
// deterministic fingerprint of cacheable request fields maps to the last
// normalized response for that fingerprint. Grounded on
// llm/cache/prompt_cache.go's MultiLevelCache (redis.Client as the durable
// tier, a local map absorbing duplicate lookups within a batch) and
// hash_key.go's sha256 key derivation, generalized from a whole-request
// marshal to the spec's fixed-field-order canonical key.
package rcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dban0001/llmgateway/llm"
)

// keyInputs mirrors spec §4.4's fixed field set and order. Optional fields
// use omitempty so an absent field does not perturb the hash; booleans are
// never pointers so zero-value "false" participates explicitly rather than
// being treated as absent.
type keyInputs struct {
	Model            string              `json:"model"`
	Messages         []llm.Message       `json:"messages"`
	Temperature      *float32            `json:"temperature,omitempty"`
	MaxTokens        int                 `json:"max_tokens,omitempty"`
	TopP             *float32            `json:"top_p,omitempty"`
	FrequencyPenalty *float32            `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32            `json:"presence_penalty,omitempty"`
	ResponseFormat   *llm.ResponseFormat `json:"response_format,omitempty"`
}

// GenerateKey computes the stable cache key for req. Only non-streaming
// requests are ever looked up through this package (spec §4.4); callers
// are responsible for skipping the cache for req.Stream == true.
func GenerateKey(req *llm.ChatRequest) string {
	in := keyInputs{
		Model:            req.Model,
		Messages:         req.Messages,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		ResponseFormat:   req.ResponseFormat,
	}
	data, err := json.Marshal(in)
	if err != nil {
		// Unreachable for well-formed ChatRequest values; keep a
		// deterministic fallback rather than panicking mid-request.
		data = []byte(req.Model)
	}
	sum := sha256.Sum256(data)
	return "gateway:cache:" + hex.EncodeToString(sum[:16])
}

// Cache is the response cache: a small local map (read-through, absorbing
// duplicate lookups within a single batch of concurrent requests) in front
// of a durable Redis tier.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	local map[string]*llm.ChatResponse
}

// New builds a Cache backed by rdb with the given default TTL.
func New(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		redis:  rdb,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "rcache")),
		local:  make(map[string]*llm.ChatResponse),
	}
}

// Get returns the cached response for key, or nil if absent.
func (c *Cache) Get(ctx context.Context, key string) (*llm.ChatResponse, error) {
	c.mu.RLock()
	if resp, ok := c.local[key]; ok {
		c.mu.RUnlock()
		return resp, nil
	}
	c.mu.RUnlock()

	data, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		c.logger.Warn("cache get failed", zap.Error(err))
		return nil, err
	}

	var resp llm.ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.local[key] = &resp
	c.mu.Unlock()

	return &resp, nil
}

// Set stores resp under key with ttl (falling back to the Cache's default
// TTL when ttl is zero).
func (c *Cache) Set(ctx context.Context, key string, resp *llm.ChatResponse, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.local[key] = resp
	c.mu.Unlock()
	return nil
}
