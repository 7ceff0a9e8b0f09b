package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/dban0001/llmgateway/api/handlers"
	"github.com/dban0001/llmgateway/billing"
)

// ProjectAdapter implements api/handlers.ProjectStore.
type ProjectAdapter struct {
	db *gorm.DB
}

var _ handlers.ProjectStore = (*ProjectAdapter)(nil)

// Project loads the billing-relevant project row by id.
func (a *ProjectAdapter) Project(ctx context.Context, id string) (billing.Project, bool, error) {
	var row Project
	err := a.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Project{}, false, nil
	}
	if err != nil {
		return billing.Project{}, false, err
	}
	return billing.Project{
		ID:              row.ID,
		OrganizationID:  row.OrganizationID,
		Mode:            billing.Mode(row.Mode),
		CachingEnabled:  row.CachingEnabled,
		CacheTTLSeconds: row.CacheTTLSeconds,
	}, true, nil
}

// Organization loads the billing-relevant organization row by id.
func (a *ProjectAdapter) Organization(ctx context.Context, id string) (billing.Organization, bool, error) {
	var row Organization
	err := a.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Organization{}, false, nil
	}
	if err != nil {
		return billing.Organization{}, false, err
	}
	return organizationFromRow(row), true, nil
}

func organizationFromRow(row Organization) billing.Organization {
	return billing.Organization{
		ID:                         row.ID,
		CreditBalance:              row.CreditBalance,
		AutoTopUpEnabled:           row.AutoTopUpEnabled,
		AutoTopUpThreshold:         row.AutoTopUpThreshold,
		AutoTopUpAmount:            row.AutoTopUpAmount,
		DefaultPaymentMethodID:     row.DefaultPaymentMethodID,
		Plan:                       row.Plan,
		PaymentProcessorCustomerID: row.PaymentProcessorCustomerID,
	}
}
