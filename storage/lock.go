package storage

import (
	"time"

	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dban0001/llmgateway/topup"
)

// LockAdapter implements topup.Lock as a single row in the lock table:
// TryAcquire inserts the row (ON CONFLICT DO NOTHING), or, if it already
// exists, claims it with a single conditional UPDATE that only matches
// an expired lease. Both statements are single round-trips so the
// acquire stays race-safe across concurrent workers without needing a
// SELECT ... FOR UPDATE, which not every dialect in this pack's driver
// set (sqlite included) supports.
type LockAdapter struct {
	db *gorm.DB
}

var _ topup.Lock = (*LockAdapter)(nil)

// TryAcquire attempts to hold key for lease.
func (a *LockAdapter) TryAcquire(ctx context.Context, key string, lease time.Duration) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(lease)

	insert := a.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Lock{Key: key, ExpiresAt: expiresAt})
	if insert.Error != nil {
		return false, insert.Error
	}
	if insert.RowsAffected == 1 {
		return true, nil
	}

	claim := a.db.WithContext(ctx).Model(&Lock{}).
		Where("key = ? AND expires_at < ?", key, now).
		Update("expires_at", expiresAt)
	if claim.Error != nil {
		return false, claim.Error
	}
	return claim.RowsAffected == 1, nil
}

// Release frees key immediately.
func (a *LockAdapter) Release(ctx context.Context, key string) error {
	return a.db.WithContext(ctx).Where("key = ?", key).Delete(&Lock{}).Error
}
