package storage

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/dban0001/llmgateway/logqueue"
)

// LogAdapter implements logqueue.Store: the C10 worker's retention-policy
// lookup, bulk log insert, and atomic credit debit.
type LogAdapter struct {
	db *gorm.DB
}

var _ logqueue.Store = (*LogAdapter)(nil)

// RetentionLevel returns the org's configured retention policy, defaulting
// to "full" for an org the worker can't find (fail-open: never silently
// drop a log row for a missing org lookup).
func (a *LogAdapter) RetentionLevel(ctx context.Context, orgID string) (string, error) {
	var row Organization
	err := a.db.WithContext(ctx).Select("retention_level").Where("id = ?", orgID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "full", nil
	}
	if err != nil {
		return "", err
	}
	if row.RetentionLevel == "" {
		return "full", nil
	}
	return row.RetentionLevel, nil
}

// InsertLogs bulk-inserts a claimed batch of completed-request log rows.
func (a *LogAdapter) InsertLogs(ctx context.Context, entries []logqueue.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]Log, len(entries))
	for i, e := range entries {
		row, err := logRowFromEntry(e)
		if err != nil {
			return err
		}
		rows[i] = row
	}
	return a.db.WithContext(ctx).Create(&rows).Error
}

// DebitCredits atomically subtracts amount from an organization's credit
// balance in a single UPDATE, avoiding a read-modify-write race across
// concurrently draining workers.
func (a *LogAdapter) DebitCredits(ctx context.Context, orgID string, amount float64) error {
	return a.db.WithContext(ctx).Model(&Organization{}).
		Where("id = ?", orgID).
		UpdateColumn("credit_balance", gorm.Expr("credit_balance - ?", amount)).Error
}

func logRowFromEntry(e logqueue.Entry) (Log, error) {
	row := Log{
		RequestID:         e.RequestID,
		OrganizationID:    e.OrganizationID,
		ProjectID:         e.ProjectID,
		ApiKeyID:          e.ApiKeyID,
		Mode:              string(e.Mode),
		RequestedProvider: e.RequestedProvider,
		UsedProvider:      e.UsedProvider,
		RequestedModel:    e.RequestedModel,
		UsedModel:         e.UsedModel,
		FinishReason:      e.FinishReason,
		PromptTokens:      e.PromptTokens,
		CompletionTokens:  e.CompletionTokens,
		ReasoningTokens:   e.ReasoningTokens,
		CachedTokens:      e.CachedTokens,
		InputCost:         e.InputCost,
		OutputCost:        e.OutputCost,
		CachedInputCost:   e.CachedInputCost,
		RequestCost:       e.RequestCost,
		TotalCost:         e.TotalCost,
		EstimatedCost:     e.EstimatedCost,
		DurationMS:        e.DurationMS,
		ResponseSize:      e.ResponseSize,
		Streamed:          e.Streamed,
		Canceled:          e.Canceled,
		Cached:            e.Cached,
		HasError:          e.HasError,
		ErrorCode:         e.ErrorCode,
		ErrorMessage:      e.ErrorMessage,
		Content:           e.Content,
		CreatedAt:         e.CreatedAt,
	}
	if len(e.Messages) > 0 {
		data, err := json.Marshal(e.Messages)
		if err != nil {
			return Log{}, err
		}
		row.Messages = data
	}
	if len(e.ToolCalls) > 0 {
		data, err := json.Marshal(e.ToolCalls)
		if err != nil {
			return Log{}, err
		}
		row.ToolCalls = data
	}
	if len(e.CustomHeaders) > 0 {
		data, err := json.Marshal(e.CustomHeaders)
		if err != nil {
			return Log{}, err
		}
		row.CustomHeaders = data
	}
	return row, nil
}
