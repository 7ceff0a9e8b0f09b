package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/dban0001/llmgateway/credentials"
	"github.com/dban0001/llmgateway/router"
)

// ProviderKeyAdapter implements credentials.KeyStore, router.OrgKeyProviders,
// and router.CustomProviderLookup, all backed by the same provider_key
// table the teacher's APIKeyPool queried via llm/apikey_pool.go's
// WithContext(ctx).Where(...).Order(...).Find(&keys) idiom.
type ProviderKeyAdapter struct {
	db *gorm.DB
}

var (
	_ credentials.KeyStore       = (*ProviderKeyAdapter)(nil)
	_ router.OrgKeyProviders     = (*ProviderKeyAdapter)(nil)
	_ router.CustomProviderLookup = (*ProviderKeyAdapter)(nil)
)

// ActiveProviderKeys returns every active stored key an organization has
// for providerID, for the resolver's selection-strategy pool to choose
// among.
func (a *ProviderKeyAdapter) ActiveProviderKeys(ctx context.Context, orgID, providerID string) ([]credentials.StoredKey, error) {
	var rows []ProviderKey
	err := a.db.WithContext(ctx).
		Where("organization_id = ? AND provider_id = ? AND active = ?", orgID, providerID, true).
		Order("priority ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]credentials.StoredKey, len(rows))
	for i, row := range rows {
		out[i] = storedKeyFromRow(row)
	}
	return out, nil
}

// ActiveCustomProviderKey resolves an org's custom-provider definition by
// its stored name.
func (a *ProviderKeyAdapter) ActiveCustomProviderKey(ctx context.Context, orgID, customName string) (credentials.StoredKey, bool, error) {
	var row ProviderKey
	err := a.db.WithContext(ctx).
		Where("organization_id = ? AND custom_name = ? AND active = ?", orgID, customName, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credentials.StoredKey{}, false, nil
	}
	if err != nil {
		return credentials.StoredKey{}, false, err
	}
	return storedKeyFromRow(row), true, nil
}

// ActiveKeyProviderIDs reports which provider ids an organization has at
// least one active stored key for (router rule: a stored key makes a
// provider eligible under api-keys/hybrid billing modes).
func (a *ProviderKeyAdapter) ActiveKeyProviderIDs(ctx context.Context, orgID string) (map[string]bool, error) {
	var providerIDs []string
	err := a.db.WithContext(ctx).Model(&ProviderKey{}).
		Where("organization_id = ? AND active = ?", orgID, true).
		Distinct().Pluck("provider_id", &providerIDs).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(providerIDs))
	for _, id := range providerIDs {
		out[id] = true
	}
	return out, nil
}

// CustomProvider resolves a stored custom-provider endpoint by its
// org-scoped name.
func (a *ProviderKeyAdapter) CustomProvider(ctx context.Context, orgID, name string) (string, bool, error) {
	var row ProviderKey
	err := a.db.WithContext(ctx).
		Where("organization_id = ? AND custom_name = ? AND active = ?", orgID, name, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.BaseURL, true, nil
}

func storedKeyFromRow(row ProviderKey) credentials.StoredKey {
	return credentials.StoredKey{
		ID:            row.ID,
		OrgID:         row.OrganizationID,
		ProviderID:    row.ProviderID,
		CustomName:    row.CustomName,
		Token:         row.Token,
		BaseURL:       row.BaseURL,
		Active:        row.Active,
		Priority:      row.Priority,
		Weight:        row.Weight,
		TotalRequests: row.TotalRequests,
	}
}
