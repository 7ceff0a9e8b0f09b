// Package api defines the wire contract for the gateway's single HTTP
// surface: the OpenAI-compatible /v1/chat/completions endpoint (spec §6.1).
package api

import (
	"time"

	"github.com/dban0001/llmgateway/types"
)

// ChatRequest is the raw JSON body accepted at the ingress. Unlike
// llm.ChatRequest (the internal, already-routed representation), this
// type's fields are exactly what a client may send.
type ChatRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Stream           bool            `json:"stream,omitempty"`
	Temperature      *float32        `json:"temperature,omitempty"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	TopP             *float32        `json:"top_p,omitempty"`
	FrequencyPenalty *float32        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32        `json:"presence_penalty,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
	Tools            []ToolSchema    `json:"tools,omitempty"`
	ToolChoice       any             `json:"tool_choice,omitempty"`
	ReasoningEffort  string          `json:"reasoning_effort,omitempty"`
}

// ResponseFormat mirrors the OpenAI `response_format` request field.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Message is one entry of the `messages` array. Content may arrive as a
// plain string or a multipart array; types.Message.UnmarshalJSON handles
// both, and this package borrows that type directly rather than
// duplicating the parsing.
type Message = types.Message

// ChatResponse is the non-streaming 200 response body: the OpenAI
// chat-completion JSON shape (spec §6.1).
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

type ChatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type ChatUsage struct {
	PromptTokens            int                      `json:"prompt_tokens"`
	CompletionTokens        int                      `json:"completion_tokens"`
	TotalTokens              int                     `json:"total_tokens"`
	ReasoningTokens          int                     `json:"reasoning_tokens,omitempty"`
	PromptTokensDetails      *PromptTokensDetails     `json:"prompt_tokens_details,omitempty"`
}

type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

// StreamChunk is one `data: <json>` event body for the SSE path
// (`chat.completion.chunk`).
type StreamChunk struct {
	ID           string     `json:"id,omitempty"`
	Object       string     `json:"object,omitempty"`
	Created      int64      `json:"created,omitempty"`
	Model        string     `json:"model,omitempty"`
	Choices      []ChunkChoice `json:"choices"`
}

type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Message `json:"delta"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// ChunkUsage carries token usage for the `usage`-only trailing chunk sent
// before [DONE]; the gateway emits one itself when it estimated the usage.
type ChunkUsage struct {
	Usage ChatUsage `json:"usage"`
}

// ErrorResponse is the §6.1 error body for non-streaming failures.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Message           string `json:"message"`
	Type              string `json:"type"`
	Param             any    `json:"param"`
	Code              string `json:"code"`
	RequestedProvider string `json:"requestedProvider,omitempty"`
	UsedProvider      string `json:"usedProvider,omitempty"`
	RequestedModel    string `json:"requestedModel,omitempty"`
	UsedModel         string `json:"usedModel,omitempty"`
	ResponseText      string `json:"responseText,omitempty"`
}

// StreamErrorEvent is the SSE `event: error` payload.
type StreamErrorEvent struct {
	Error ErrorBody `json:"error"`
}

// Response is the generic envelope used by non-chat endpoints (health,
// admin) that don't follow the OpenAI contract.
type Response struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	HTTPStatus int    `json:"http_status,omitempty"`
}

// ToolSchema defines a tool's interface for LLM function calling.
type ToolSchema = types.ToolSchema
