package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dban0001/llmgateway/billing"
	"github.com/dban0001/llmgateway/topup"
)

// TopUpAdapter implements topup.Store.
type TopUpAdapter struct {
	db *gorm.DB
}

var _ topup.Store = (*TopUpAdapter)(nil)

// LowBalanceOrganizations returns every organization whose credit balance
// has fallen at or below its own configured auto-topup threshold.
func (a *TopUpAdapter) LowBalanceOrganizations(ctx context.Context) ([]billing.Organization, error) {
	var rows []Organization
	err := a.db.WithContext(ctx).
		Where("auto_topup_enabled = ? AND credit_balance <= auto_topup_threshold", true).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]billing.Organization, len(rows))
	for i, row := range rows {
		out[i] = organizationFromRow(row)
	}
	return out, nil
}

// RecentTopupTransaction returns the most recent top-up transaction for
// an organization, if any.
func (a *TopUpAdapter) RecentTopupTransaction(ctx context.Context, orgID string) (billing.Transaction, bool, error) {
	var row Transaction
	err := a.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Transaction{}, false, nil
	}
	if err != nil {
		return billing.Transaction{}, false, err
	}
	return billing.Transaction{
		ID:                row.ID,
		OrganizationID:    row.OrganizationID,
		Status:            billing.TransactionStatus(row.Status),
		ProcessorIntentID: row.ProcessorIntentID,
		BaseAmount:        row.BaseAmount,
		TotalFees:         row.TotalFees,
		TotalAmount:       row.TotalAmount,
		ErrorMessage:      row.ErrorMessage,
		CreatedAt:         row.CreatedAt,
	}, true, nil
}

// PaymentMethodCountry looks up the billing country on file for a stored
// payment method.
func (a *TopUpAdapter) PaymentMethodCountry(ctx context.Context, paymentMethodID string) (string, bool, error) {
	var row PaymentMethod
	err := a.db.WithContext(ctx).Where("id = ?", paymentMethodID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Country, true, nil
}

// InsertPendingTransaction inserts a new pending top-up transaction and
// returns its generated id.
func (a *TopUpAdapter) InsertPendingTransaction(ctx context.Context, tx billing.Transaction) (string, error) {
	row := Transaction{
		ID:             uuid.NewString(),
		OrganizationID: tx.OrganizationID,
		Status:         string(tx.Status),
		BaseAmount:     tx.BaseAmount,
		TotalFees:      tx.TotalFees,
		TotalAmount:    tx.TotalAmount,
	}
	if err := a.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", err
	}
	return row.ID, nil
}

// MarkTransactionFailed flips a transaction to failed with the given
// error message.
func (a *TopUpAdapter) MarkTransactionFailed(ctx context.Context, id, message string) error {
	return a.db.WithContext(ctx).Model(&Transaction{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(billing.TransactionFailed),
			"error_message": message,
		}).Error
}

// SetProcessorIntentID records the payment processor's intent id against a
// pending transaction, so the webhook handler (outside this pipeline) can
// look the row up by intent id when the processor confirms or rejects it.
func (a *TopUpAdapter) SetProcessorIntentID(ctx context.Context, id, intentID string) error {
	return a.db.WithContext(ctx).Model(&Transaction{}).
		Where("id = ?", id).
		Update("processor_intent_id", intentID).Error
}
