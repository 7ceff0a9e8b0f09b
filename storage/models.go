// Package storage is the gateway's GORM-backed persistence layer: the
// concrete implementation behind every narrow store interface the rest
// of the codebase declares (credentials.KeyStore, router.OrgKeyProviders,
// router.CustomProviderLookup, logqueue.Store, topup.Store, topup.Lock,
// api/handlers.ApiKeyStore, api/handlers.ProjectStore). Grounded on the
// teacher's llm/types.go model-field-naming convention (Code/Name/Status,
// size-capped strings, decimal-typed money columns) and llm/db_init.go's
// AutoMigrate-driven schema management — this package is the only one
// that imports gorm.io/gorm.
package storage

import "time"

// Organization mirrors billing.Organization plus the columns only the
// store needs (payment-processor linkage, retention policy).
type Organization struct {
	ID                         string  `gorm:"primaryKey;size:40" json:"id"`
	CreditBalance              float64 `gorm:"type:decimal(14,6);default:0" json:"credit_balance"`
	AutoTopUpEnabled           bool    `gorm:"default:false" json:"auto_topup_enabled"`
	AutoTopUpThreshold         float64 `gorm:"type:decimal(14,6);default:0" json:"auto_topup_threshold"`
	AutoTopUpAmount            float64 `gorm:"type:decimal(14,6);default:0" json:"auto_topup_amount"`
	DefaultPaymentMethodID     string  `gorm:"size:64" json:"default_payment_method_id"`
	Plan                       string  `gorm:"size:50;default:free" json:"plan"`
	PaymentProcessorCustomerID string  `gorm:"size:64" json:"payment_processor_customer_id"`
	RetentionLevel             string  `gorm:"size:20;default:full" json:"retention_level"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Project mirrors billing.Project.
type Project struct {
	ID              string `gorm:"primaryKey;size:40" json:"id"`
	OrganizationID  string `gorm:"size:40;not null;index" json:"organization_id"`
	Mode            string `gorm:"size:20;not null;default:credits" json:"mode"`
	CachingEnabled  bool   `gorm:"default:false" json:"caching_enabled"`
	CacheTTLSeconds int    `gorm:"default:0" json:"cache_ttl_seconds"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApiKey is a caller-presented bearer token, scoped to exactly one
// project (spec §3's ApiKey entity).
type ApiKey struct {
	ID        string `gorm:"primaryKey;size:40" json:"id"`
	ProjectID string `gorm:"size:40;not null;index" json:"project_id"`
	TokenHash string `gorm:"size:64;not null;uniqueIndex" json:"token_hash"`
	Active    bool   `gorm:"default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
}

// ProviderKey is one org-owned upstream credential, mirroring
// credentials.StoredKey. CustomName is set only for the synthetic
// "llmgateway" custom-provider id, in which case BaseURL holds the
// custom endpoint.
type ProviderKey struct {
	ID            string `gorm:"primaryKey;size:40" json:"id"`
	OrganizationID string `gorm:"size:40;not null;index:idx_org_provider" json:"organization_id"`
	ProviderID    string `gorm:"size:50;not null;index:idx_org_provider" json:"provider_id"`
	CustomName    string `gorm:"size:100;index" json:"custom_name"`
	Token         string `gorm:"size:500;not null" json:"token"`
	BaseURL       string `gorm:"size:500" json:"base_url"`
	Active        bool   `gorm:"default:true" json:"active"`
	Priority      int    `gorm:"default:100" json:"priority"`
	Weight        int    `gorm:"default:100" json:"weight"`
	TotalRequests int64  `gorm:"default:0" json:"total_requests"`

	CreatedAt time.Time `json:"created_at"`
}

// Log is one persisted Log row (spec §3). Token/cost/duration columns
// mirror logqueue.Entry field-for-field; Messages/Content/ToolCalls are
// stored pre-serialized JSON (and left null by the worker when the org's
// retention level strips them before insert).
type Log struct {
	RequestID string `gorm:"primaryKey;size:40" json:"request_id"`

	OrganizationID string `gorm:"size:40;not null;index" json:"organization_id"`
	ProjectID      string `gorm:"size:40;not null;index" json:"project_id"`
	ApiKeyID       string `gorm:"size:40" json:"api_key_id"`
	Mode           string `gorm:"size:20" json:"mode"`

	RequestedProvider string `gorm:"size:50" json:"requested_provider"`
	UsedProvider      string `gorm:"size:50" json:"used_provider"`
	RequestedModel    string `gorm:"size:100" json:"requested_model"`
	UsedModel         string `gorm:"size:100" json:"used_model"`

	FinishReason string `gorm:"size:30" json:"finish_reason"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens"`
	CachedTokens     int `json:"cached_tokens"`

	InputCost       float64 `gorm:"type:decimal(14,8);default:0" json:"input_cost"`
	OutputCost      float64 `gorm:"type:decimal(14,8);default:0" json:"output_cost"`
	CachedInputCost float64 `gorm:"type:decimal(14,8);default:0" json:"cached_input_cost"`
	RequestCost     float64 `gorm:"type:decimal(14,8);default:0" json:"request_cost"`
	TotalCost       float64 `gorm:"type:decimal(14,8);default:0" json:"total_cost"`
	EstimatedCost   bool    `json:"estimated_cost"`

	DurationMS   int64 `json:"duration_ms"`
	ResponseSize int   `json:"response_size"`

	Streamed bool `json:"streamed"`
	Canceled bool `json:"canceled"`
	Cached   bool `json:"cached"`

	HasError     bool   `json:"has_error"`
	ErrorCode    string `gorm:"size:50" json:"error_code"`
	ErrorMessage string `gorm:"type:text" json:"error_message"`

	Messages  []byte `gorm:"type:text" json:"messages,omitempty"`
	Content   string `gorm:"type:text" json:"content,omitempty"`
	ToolCalls []byte `gorm:"type:text" json:"tool_calls,omitempty"`

	CustomHeaders []byte `gorm:"type:text" json:"custom_headers,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// Transaction mirrors billing.Transaction.
type Transaction struct {
	ID                string `gorm:"primaryKey;size:40" json:"id"`
	OrganizationID    string `gorm:"size:40;not null;index" json:"organization_id"`
	Status            string `gorm:"size:20;not null;index:idx_org_status" json:"status"`
	ProcessorIntentID string `gorm:"size:100" json:"processor_intent_id"`
	BaseAmount        float64 `gorm:"type:decimal(14,6);default:0" json:"base_amount"`
	TotalFees         float64 `gorm:"type:decimal(14,6);default:0" json:"total_fees"`
	TotalAmount       float64 `gorm:"type:decimal(14,6);default:0" json:"total_amount"`
	ErrorMessage      string  `gorm:"type:text" json:"error_message"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// PaymentMethod is the card-on-file row the auto-topup loop reads the
// billing country from.
type PaymentMethod struct {
	ID             string `gorm:"primaryKey;size:64" json:"id"`
	OrganizationID string `gorm:"size:40;not null;index" json:"organization_id"`
	Country        string `gorm:"size:2" json:"country"`

	CreatedAt time.Time `json:"created_at"`
}

// Lock is a named, leased advisory lock row (topup.Lock): acquired by
// conditional insert-or-claim-if-expired, released by delete.
type Lock struct {
	Key       string    `gorm:"primaryKey;size:100" json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}
