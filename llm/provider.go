// Package llm provides unified LLM provider abstraction and routing.
package llm

import (
	"time"

	"github.com/dban0001/llmgateway/types"
)

// Re-export the low-level types package so callers only need to import llm.
type (
	Message      = types.Message
	Role         = types.Role
	ToolCall     = types.ToolCall
	ToolSchema   = types.ToolSchema
	ToolResult   = types.ToolResult
	TokenUsage   = types.TokenUsage
	Error        = types.Error
	ErrorCode    = types.ErrorCode
	ImageContent = types.ImageContent
)

// Re-export constants.
const (
	RoleSystem    = types.RoleSystem
	RoleUser      = types.RoleUser
	RoleAssistant = types.RoleAssistant
	RoleTool      = types.RoleTool
)

// Re-export error codes.
const (
	ErrInvalidRequest      = types.ErrInvalidRequest
	ErrAuthentication      = types.ErrAuthentication
	ErrUnauthorized        = types.ErrUnauthorized
	ErrForbidden           = types.ErrForbidden
	ErrRateLimit           = types.ErrRateLimit
	ErrRateLimited         = types.ErrRateLimited
	ErrQuotaExceeded       = types.ErrQuotaExceeded
	ErrModelNotFound       = types.ErrModelNotFound
	ErrModelOverloaded     = types.ErrModelOverloaded
	ErrContextTooLong      = types.ErrContextTooLong
	ErrContentFiltered     = types.ErrContentFiltered
	ErrUpstreamError       = types.ErrUpstreamError
	ErrUpstreamTimeout     = types.ErrUpstreamTimeout
	ErrTimeout             = types.ErrTimeout
	ErrInternalError       = types.ErrInternalError
	ErrServiceUnavailable  = types.ErrServiceUnavailable
	ErrProviderUnavailable = types.ErrProviderUnavailable
)

// HealthStatus represents provider health check result.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	ErrorRate float64       `json:"error_rate"`
}

// ResponseFormat mirrors the OpenAI `response_format` request field.
type ResponseFormat struct {
	Type string `json:"type"` // "text" | "json_object"
}

// ChatRequest is the normalized, OpenAI-shaped chat completion request that
// flows from ingress through routing, translation, and dispatch.
type ChatRequest struct {
	RequestID string    `json:"request_id"`
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream,omitempty"`

	Temperature      *float32        `json:"temperature,omitempty"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	TopP             *float32        `json:"top_p,omitempty"`
	FrequencyPenalty *float32        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32        `json:"presence_penalty,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`

	Tools      []ToolSchema `json:"tools,omitempty"`
	ToolChoice any          `json:"tool_choice,omitempty"`

	ReasoningEffort string `json:"reasoning_effort,omitempty"`

	Timeout time.Duration `json:"-"`
}

// ChatResponse represents a chat completion response.
type ChatResponse struct {
	ID        string       `json:"id"`
	Object    string       `json:"object"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage"`
	CreatedAt time.Time    `json:"-"`
	Created   int64        `json:"created"`
}

// ChatChoice represents a single choice in the response.
type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

// ChatUsage represents token usage in a response.
type ChatUsage struct {
	PromptTokens        int  `json:"prompt_tokens"`
	CompletionTokens    int  `json:"completion_tokens"`
	TotalTokens         int  `json:"total_tokens"`
	ReasoningTokens     int  `json:"reasoning_tokens,omitempty"`
	CachedTokens        int  `json:"cached_tokens,omitempty"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
	Estimated bool `json:"-"`
}

// StreamChunk represents a streaming response chunk (chat.completion.chunk).
type StreamChunk struct {
	ID           string     `json:"id,omitempty"`
	Object       string     `json:"object,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	Created      int64      `json:"created,omitempty"`
	Index        int        `json:"index,omitempty"`
	Delta        Message    `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *ChatUsage `json:"usage,omitempty"`
	Err          *Error     `json:"error,omitempty"`
}

// Model represents a model available from a provider.
type Model struct {
	ID          string    `json:"id"`           // 模型 ID（API 调用时使用）
	Object      string    `json:"object"`       // 对象类型（通常是 "model"）
	Created     int64     `json:"created"`      // 创建时间戳
	OwnedBy     string    `json:"owned_by"`     // 所属组织
	Permissions []string  `json:"permissions"`  // 权限列表
	Root        string    `json:"root"`         // 根模型
	Parent      string    `json:"parent"`       // 父模型
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}
