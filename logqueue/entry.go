// Package logqueue implements the durable log queue and its background
// worker (spec §4.10): a main/processing queue pair feeding a worker that
// persists completed-request log rows and debits organization credits,
// with crash recovery and idempotent re-delivery.
//
// Grounded on llm/idempotency/manager.go's redis.Client usage for the
// per-requestId dedup on re-delivery, and on the same redis.Client wiring
// rcache and credentials already use for the durable queue itself (list
// operations rather than a pub/sub or stream primitive, since the worker
// only ever needs FIFO claim-and-acknowledge semantics).
package logqueue

import (
	"time"

	"github.com/dban0001/llmgateway/billing"
	"github.com/dban0001/llmgateway/types"
)

// Entry is one Log row (spec §3): the durable record of a completed,
// failed, or canceled chat-completion request.
type Entry struct {
	RequestID string `json:"requestId"`

	OrganizationID string      `json:"organizationId"`
	ProjectID      string      `json:"projectId"`
	ApiKeyID       string      `json:"apiKeyId"`
	Mode           billing.Mode `json:"mode"`

	RequestedProvider string `json:"requestedProvider"`
	UsedProvider      string `json:"usedProvider,omitempty"`
	RequestedModel    string `json:"requestedModel"`
	UsedModel         string `json:"usedModel,omitempty"`

	FinishReason string `json:"finishReason,omitempty"`

	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	ReasoningTokens  int `json:"reasoningTokens,omitempty"`
	CachedTokens     int `json:"cachedTokens,omitempty"`

	InputCost       float64 `json:"inputCost"`
	OutputCost      float64 `json:"outputCost"`
	CachedInputCost float64 `json:"cachedInputCost"`
	RequestCost     float64 `json:"requestCost"`
	TotalCost       float64 `json:"totalCost"`
	EstimatedCost   bool    `json:"estimatedCost"`

	DurationMS   int64 `json:"durationMs"`
	ResponseSize int   `json:"responseSize"`

	Streamed bool `json:"streamed"`
	Canceled bool `json:"canceled"`
	Cached   bool `json:"cached"`

	HasError     bool   `json:"hasError"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Messages/Content/ToolCalls are subject to the org's retention
	// policy: stripped by the worker before insert when retentionLevel
	// == "none".
	Messages  []types.Message  `json:"messages,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []types.ToolCall `json:"toolCalls,omitempty"`

	CustomHeaders map[string]string `json:"customHeaders,omitempty"`

	Temperature      *float32 `json:"temperature,omitempty"`
	MaxTokens        int      `json:"maxTokens,omitempty"`
	TopP             *float32 `json:"topP,omitempty"`
	FrequencyPenalty *float32 `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float32 `json:"presencePenalty,omitempty"`
	ReasoningEffort  string   `json:"reasoningEffort,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// StripRetainedContent clears the fields the "none" retention level
// excludes from persistence, in place.
func (e *Entry) StripRetainedContent() {
	e.Messages = nil
	e.Content = ""
	e.ToolCalls = nil
}

// Billable reports whether this entry's cost should participate in the
// worker's batched credit debit (spec §4.10, invariant 6): not a cache
// hit, and the project wasn't paying with its own stored API keys.
func (e *Entry) Billable() bool {
	return !e.Cached && e.Mode != billing.ModeAPIKeys
}
