package storage

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dban0001/llmgateway/billing"
	"github.com/dban0001/llmgateway/logqueue"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	s := &Store{db: db}
	require.NoError(t, s.Migrate())
	return s
}

func TestApiKeyAdapter_Lookup(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.db.Create(&ApiKey{ID: "key-1", ProjectID: "proj-1", TokenHash: hashToken("sk-test"), Active: true}).Error)

	rec, ok, err := s.ApiKeys().Lookup(context.Background(), "sk-test")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "key-1", rec.ID)
	assert.Equal(t, "proj-1", rec.ProjectID)
	assert.True(t, rec.Active)

	_, ok, err = s.ApiKeys().Lookup(context.Background(), "sk-wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProjectAdapter_ProjectAndOrganization(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.db.Create(&Organization{ID: "org-1", CreditBalance: 5, Plan: "pro"}).Error)
	require.NoError(t, s.db.Create(&Project{ID: "proj-1", OrganizationID: "org-1", Mode: "credits", CachingEnabled: true}).Error)

	proj, ok, err := s.Projects().Project(context.Background(), "proj-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, billing.ModeCredits, proj.Mode)
	assert.True(t, proj.CachingEnabled)

	org, ok, err := s.Projects().Organization(context.Background(), "org-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5.0, org.CreditBalance)

	_, ok, err = s.Projects().Project(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProviderKeyAdapter_SelectionAndCustomLookup(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.db.Create(&ProviderKey{ID: "pk-1", OrganizationID: "org-1", ProviderID: "openai", Token: "tok-a", Active: true, Priority: 50}).Error)
	require.NoError(t, s.db.Create(&ProviderKey{ID: "pk-2", OrganizationID: "org-1", ProviderID: "openai", Token: "tok-b", Active: true, Priority: 10}).Error)
	require.NoError(t, s.db.Create(&ProviderKey{ID: "pk-3", OrganizationID: "org-1", ProviderID: "openai", Token: "tok-c", Active: false, Priority: 1}).Error)
	// Create stores the column default (true) for a zero-valued Active, so
	// pk-3 is deactivated explicitly.
	require.NoError(t, s.db.Model(&ProviderKey{ID: "pk-3"}).Update("active", false).Error)
	require.NoError(t, s.db.Create(&ProviderKey{ID: "pk-4", OrganizationID: "org-1", ProviderID: "llmgateway", CustomName: "my-proxy", Token: "tok-d", BaseURL: "https://proxy.example.com", Active: true}).Error)

	adapter := s.ProviderKeys()

	keys, err := adapter.ActiveProviderKeys(context.Background(), "org-1", "openai")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "pk-2", keys[0].ID) // lowest priority value sorts first

	ids, err := adapter.ActiveKeyProviderIDs(context.Background(), "org-1")
	require.NoError(t, err)
	assert.True(t, ids["openai"])
	assert.True(t, ids["llmgateway"])

	endpoint, ok, err := adapter.CustomProvider(context.Background(), "org-1", "my-proxy")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://proxy.example.com", endpoint)

	custom, ok, err := adapter.ActiveCustomProviderKey(context.Background(), "org-1", "my-proxy")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-d", custom.Token)
}

func TestLogAdapter_RetentionLevelAndInsertAndDebit(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.db.Create(&Organization{ID: "org-1", CreditBalance: 100, RetentionLevel: "none"}).Error)

	level, err := s.Logs().RetentionLevel(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "none", level)

	level, err = s.Logs().RetentionLevel(context.Background(), "missing-org")
	require.NoError(t, err)
	assert.Equal(t, "full", level)

	entry := logqueue.Entry{
		RequestID:      "req-1",
		OrganizationID: "org-1",
		ProjectID:      "proj-1",
		TotalCost:      1.5,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.Logs().InsertLogs(context.Background(), []logqueue.Entry{entry}))

	var row Log
	require.NoError(t, s.db.Where("request_id = ?", "req-1").First(&row).Error)
	assert.Equal(t, 1.5, row.TotalCost)

	require.NoError(t, s.Logs().DebitCredits(context.Background(), "org-1", 10))
	var org Organization
	require.NoError(t, s.db.Where("id = ?", "org-1").First(&org).Error)
	assert.Equal(t, 90.0, org.CreditBalance)
}

func TestTopUpAdapter_Flow(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.db.Create(&Organization{
		ID: "org-1", CreditBalance: 2, AutoTopUpEnabled: true, AutoTopUpThreshold: 5, AutoTopUpAmount: 20,
	}).Error)
	require.NoError(t, s.db.Create(&PaymentMethod{ID: "pm-1", OrganizationID: "org-1", Country: "US"}).Error)

	adapter := s.TopUp()

	orgs, err := adapter.LowBalanceOrganizations(context.Background())
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "org-1", orgs[0].ID)

	country, ok, err := adapter.PaymentMethodCountry(context.Background(), "pm-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "US", country)

	txID, err := adapter.InsertPendingTransaction(context.Background(), billing.Transaction{
		OrganizationID: "org-1", Status: billing.TransactionPending, TotalAmount: 21,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, txID)

	tx, ok, err := adapter.RecentTopupTransaction(context.Background(), "org-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, billing.TransactionPending, tx.Status)

	require.NoError(t, adapter.MarkTransactionFailed(context.Background(), txID, "card declined"))
	tx, _, err = adapter.RecentTopupTransaction(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, billing.TransactionFailed, tx.Status)
	assert.Equal(t, "card declined", tx.ErrorMessage)
}

func TestLockAdapter_AcquireReleaseAndExpiry(t *testing.T) {
	s := setupTestStore(t)
	lock := s.Locks()

	ok, err := lock.TryAcquire(context.Background(), "auto_topup_check", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.TryAcquire(context.Background(), "auto_topup_check", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire should fail while the lease is live")

	require.NoError(t, lock.Release(context.Background(), "auto_topup_check"))

	ok, err = lock.TryAcquire(context.Background(), "auto_topup_check", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "acquire should succeed again after release")
}

func TestLockAdapter_ClaimsExpiredLease(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.db.Create(&Lock{Key: "auto_topup_check", ExpiresAt: time.Now().Add(-time.Minute)}).Error)

	ok, err := s.Locks().TryAcquire(context.Background(), "auto_topup_check", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "an expired lease should be claimable")
}
