// Package topup implements the auto-topup loop (C11, spec §4.11): a
// periodic, lock-guarded pass over organizations whose credit balance has
// fallen below their configured threshold, creating a payment-processor
// intent for each that qualifies.
//
// Grounded on the teacher's "table-backed advisory lock guarding a
// periodic background pass" idiom (the health-check scheduling comments
// in the now-generalized router package) and, for the opaque
// payment-processor boundary, on the same narrow-interface pattern
// credentials.KeyStore and logqueue.Store already use to keep a
// datastore-shaped dependency out of the package that doesn't own it.
package topup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dban0001/llmgateway/billing"
)

const (
	lockKey          = "auto_topup_check"
	defaultLockLease = 10 * time.Minute
	dedupWindow      = time.Hour
)

// Lock is a named, leased advisory lock (spec §3's Lock entity):
// acquired by conditional insert, released by delete, with stale holders
// preempted once their lease has expired.
type Lock interface {
	TryAcquire(ctx context.Context, key string, lease time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// FeeBreakdown is the fee calculator's output for one top-up amount.
type FeeBreakdown struct {
	BaseAmount  float64
	TotalFees   float64
	TotalAmount float64
}

// FeeCalculator is the external, by-plan-and-card-country fee schedule
// (spec §4.11 step 4).
type FeeCalculator interface {
	Calculate(ctx context.Context, plan, cardCountry string, baseAmount float64) (FeeBreakdown, error)
}

// Store is the narrow persistence interface the loop needs (spec §2's
// "interfaces only" instruction: only storage package couples to a
// concrete database).
type Store interface {
	LowBalanceOrganizations(ctx context.Context) ([]billing.Organization, error)
	RecentTopupTransaction(ctx context.Context, orgID string) (billing.Transaction, bool, error)
	PaymentMethodCountry(ctx context.Context, paymentMethodID string) (country string, ok bool, err error)
	InsertPendingTransaction(ctx context.Context, tx billing.Transaction) (id string, err error)
	MarkTransactionFailed(ctx context.Context, id, errMessage string) error
	SetProcessorIntentID(ctx context.Context, id, intentID string) error
}

// Runner implements one pass of the auto-topup loop. It satisfies
// logqueue.TopUpFunc via Run.
type Runner struct {
	store     Store
	lock      Lock
	fees      FeeCalculator
	processor billing.PaymentProcessor
	lease     time.Duration
	logger    *zap.Logger
}

// New builds a Runner. lease is the advisory lock's lease duration; a
// zero value falls back to defaultLockLease.
func New(store Store, lock Lock, fees FeeCalculator, processor billing.PaymentProcessor, lease time.Duration, logger *zap.Logger) *Runner {
	if lease <= 0 {
		lease = defaultLockLease
	}
	return &Runner{
		store:     store,
		lock:      lock,
		fees:      fees,
		processor: processor,
		lease:     lease,
		logger:    logger.With(zap.String("component", "auto_topup")),
	}
}

// Run executes one pass, gated by the auto_topup_check lock (spec
// §4.11). Returns nil without doing work if the lock is already held.
func (r *Runner) Run(ctx context.Context) error {
	acquired, err := r.lock.TryAcquire(ctx, lockKey, r.lease)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := r.lock.Release(ctx, lockKey); err != nil {
			r.logger.Error("failed to release auto-topup lock", zap.Error(err))
		}
	}()

	orgs, err := r.store.LowBalanceOrganizations(ctx)
	if err != nil {
		return err
	}
	for _, org := range orgs {
		r.processOrg(ctx, org)
	}
	return nil
}

func (r *Runner) processOrg(ctx context.Context, org billing.Organization) {
	if tx, found, err := r.store.RecentTopupTransaction(ctx, org.ID); err == nil && found {
		recent := time.Since(tx.CreatedAt) < dedupWindow
		if recent && (tx.Status == billing.TransactionPending || tx.Status == billing.TransactionFailed) {
			return
		}
	}

	if org.DefaultPaymentMethodID == "" {
		return
	}

	country, ok, err := r.store.PaymentMethodCountry(ctx, org.DefaultPaymentMethodID)
	if err != nil || !ok {
		r.logger.Warn("no card country on file for default payment method",
			zap.String("organization_id", org.ID), zap.Error(err))
		return
	}

	breakdown, err := r.fees.Calculate(ctx, org.Plan, country, org.AutoTopUpAmount)
	if err != nil {
		r.logger.Error("fee calculation failed", zap.String("organization_id", org.ID), zap.Error(err))
		return
	}

	txID, err := r.store.InsertPendingTransaction(ctx, billing.Transaction{
		OrganizationID: org.ID,
		Status:         billing.TransactionPending,
		BaseAmount:     breakdown.BaseAmount,
		TotalFees:      breakdown.TotalFees,
		TotalAmount:    breakdown.TotalAmount,
	})
	if err != nil {
		r.logger.Error("failed to insert pending top-up transaction", zap.String("organization_id", org.ID), zap.Error(err))
		return
	}

	result, err := r.processor.CreatePaymentIntent(ctx, billing.PaymentIntentParams{
		CustomerID:      org.PaymentProcessorCustomerID,
		PaymentMethodID: org.DefaultPaymentMethodID,
		Amount:          breakdown.TotalAmount,
		OffSession:      true,
		Confirm:         true,
	})
	if err != nil {
		r.failTransaction(ctx, txID, err.Error())
		return
	}

	if result.IntentID != "" {
		if err := r.store.SetProcessorIntentID(ctx, txID, result.IntentID); err != nil {
			r.logger.Error("failed to persist processor intent id",
				zap.String("organization_id", org.ID),
				zap.String("transaction_id", txID),
				zap.Error(err))
		}
	}

	switch result.Status {
	case billing.PaymentIntentSucceeded, billing.PaymentIntentRequiresAction:
		// Leave the row pending; the payment-processor webhook (outside
		// this pipeline) flips it to succeeded and credits the org, keyed
		// off the processor intent id just persisted above.
	default:
		r.failTransaction(ctx, txID, "unexpected payment intent status: "+string(result.Status))
	}
}

func (r *Runner) failTransaction(ctx context.Context, txID, message string) {
	if err := r.store.MarkTransactionFailed(ctx, txID, message); err != nil {
		r.logger.Error("failed to mark top-up transaction failed", zap.String("transaction_id", txID), zap.Error(err))
	}
}
