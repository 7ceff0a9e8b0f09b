package topup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dban0001/llmgateway/billing"
)

type memLock struct {
	mu      sync.Mutex
	held    map[string]time.Time
	leases  map[string]time.Duration
}

func newMemLock() *memLock { return &memLock{held: make(map[string]time.Time), leases: make(map[string]time.Duration)} }

func (l *memLock) TryAcquire(_ context.Context, key string, lease time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acquiredAt, ok := l.held[key]; ok {
		if time.Since(acquiredAt) < l.leases[key] {
			return false, nil
		}
	}
	l.held[key] = time.Now()
	l.leases[key] = lease
	return true, nil
}

func (l *memLock) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

type fakeFees struct {
	breakdown FeeBreakdown
	err       error
}

func (f fakeFees) Calculate(_ context.Context, _, _ string, _ float64) (FeeBreakdown, error) {
	return f.breakdown, f.err
}

type memStore struct {
	mu              sync.Mutex
	lowBalance      []billing.Organization
	recentTx        map[string]billing.Transaction
	paymentCountry  map[string]string
	inserted        []billing.Transaction
	failed          map[string]string
	insertErr       error
}

func newMemStore() *memStore {
	return &memStore{
		recentTx:       make(map[string]billing.Transaction),
		paymentCountry: make(map[string]string),
		failed:         make(map[string]string),
	}
}

func (s *memStore) LowBalanceOrganizations(_ context.Context) ([]billing.Organization, error) {
	return s.lowBalance, nil
}

func (s *memStore) RecentTopupTransaction(_ context.Context, orgID string) (billing.Transaction, bool, error) {
	tx, ok := s.recentTx[orgID]
	return tx, ok, nil
}

func (s *memStore) PaymentMethodCountry(_ context.Context, paymentMethodID string) (string, bool, error) {
	c, ok := s.paymentCountry[paymentMethodID]
	return c, ok, nil
}

func (s *memStore) InsertPendingTransaction(_ context.Context, tx billing.Transaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return "", s.insertErr
	}
	tx.ID = "tx-1"
	s.inserted = append(s.inserted, tx)
	return tx.ID, nil
}

func (s *memStore) MarkTransactionFailed(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = message
	return nil
}

func (s *memStore) SetProcessorIntentID(_ context.Context, _, _ string) error {
	return nil
}

type fakeProcessor struct {
	result billing.PaymentIntentResult
	err    error
}

func (p fakeProcessor) CreatePaymentIntent(_ context.Context, _ billing.PaymentIntentParams) (billing.PaymentIntentResult, error) {
	return p.result, p.err
}

func TestRunner_CreatesPendingTransactionAndLeavesItPendingOnSuccess(t *testing.T) {
	store := newMemStore()
	store.lowBalance = []billing.Organization{{ID: "org-1", Plan: "pro", DefaultPaymentMethodID: "pm-1", AutoTopUpAmount: 20}}
	store.paymentCountry["pm-1"] = "US"

	r := New(store, newMemLock(), fakeFees{breakdown: FeeBreakdown{BaseAmount: 20, TotalFees: 1, TotalAmount: 21}},
		fakeProcessor{result: billing.PaymentIntentResult{IntentID: "pi_1", Status: billing.PaymentIntentSucceeded}}, 0, zap.NewNop())

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, store.inserted, 1)
	assert.Equal(t, billing.TransactionPending, store.inserted[0].Status)
	assert.Equal(t, 21.0, store.inserted[0].TotalAmount)
	assert.Empty(t, store.failed)
}

func TestRunner_SkipsOrgWithoutDefaultPaymentMethod(t *testing.T) {
	store := newMemStore()
	store.lowBalance = []billing.Organization{{ID: "org-1", AutoTopUpAmount: 20}}

	r := New(store, newMemLock(), fakeFees{}, fakeProcessor{}, 0, zap.NewNop())
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, store.inserted)
}

func TestRunner_SkipsOrgWithRecentPendingTransaction(t *testing.T) {
	store := newMemStore()
	store.lowBalance = []billing.Organization{{ID: "org-1", DefaultPaymentMethodID: "pm-1", AutoTopUpAmount: 20}}
	store.paymentCountry["pm-1"] = "US"
	store.recentTx["org-1"] = billing.Transaction{Status: billing.TransactionPending, CreatedAt: time.Now().Add(-10 * time.Minute)}

	r := New(store, newMemLock(), fakeFees{}, fakeProcessor{}, 0, zap.NewNop())
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, store.inserted)
}

func TestRunner_ProceedsWhenRecentTransactionIsOlderThanAnHour(t *testing.T) {
	store := newMemStore()
	store.lowBalance = []billing.Organization{{ID: "org-1", DefaultPaymentMethodID: "pm-1", AutoTopUpAmount: 20}}
	store.paymentCountry["pm-1"] = "US"
	store.recentTx["org-1"] = billing.Transaction{Status: billing.TransactionFailed, CreatedAt: time.Now().Add(-2 * time.Hour)}

	r := New(store, newMemLock(), fakeFees{breakdown: FeeBreakdown{TotalAmount: 20}},
		fakeProcessor{result: billing.PaymentIntentResult{Status: billing.PaymentIntentSucceeded}}, 0, zap.NewNop())
	require.NoError(t, r.Run(context.Background()))

	assert.Len(t, store.inserted, 1)
}

func TestRunner_MarksFailedOnProcessorError(t *testing.T) {
	store := newMemStore()
	store.lowBalance = []billing.Organization{{ID: "org-1", DefaultPaymentMethodID: "pm-1", AutoTopUpAmount: 20}}
	store.paymentCountry["pm-1"] = "US"

	r := New(store, newMemLock(), fakeFees{breakdown: FeeBreakdown{TotalAmount: 20}},
		fakeProcessor{err: errors.New("card declined")}, 0, zap.NewNop())
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, store.inserted, 1)
	assert.Equal(t, "card declined", store.failed["tx-1"])
}

func TestRunner_MarksFailedOnUnexpectedIntentStatus(t *testing.T) {
	store := newMemStore()
	store.lowBalance = []billing.Organization{{ID: "org-1", DefaultPaymentMethodID: "pm-1", AutoTopUpAmount: 20}}
	store.paymentCountry["pm-1"] = "US"

	r := New(store, newMemLock(), fakeFees{breakdown: FeeBreakdown{TotalAmount: 20}},
		fakeProcessor{result: billing.PaymentIntentResult{Status: "canceled"}}, 0, zap.NewNop())
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, store.inserted, 1)
	assert.Contains(t, store.failed["tx-1"], "canceled")
}

func TestRunner_SkipsEntirePassWhenLockHeld(t *testing.T) {
	store := newMemStore()
	store.lowBalance = []billing.Organization{{ID: "org-1", DefaultPaymentMethodID: "pm-1", AutoTopUpAmount: 20}}
	store.paymentCountry["pm-1"] = "US"

	lock := newMemLock()
	_, _ = lock.TryAcquire(context.Background(), lockKey, time.Hour)

	r := New(store, lock, fakeFees{breakdown: FeeBreakdown{TotalAmount: 20}},
		fakeProcessor{result: billing.PaymentIntentResult{Status: billing.PaymentIntentSucceeded}}, 0, zap.NewNop())
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, store.inserted)
}
