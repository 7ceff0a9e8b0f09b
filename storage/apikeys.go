package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"gorm.io/gorm"

	"github.com/dban0001/llmgateway/api/handlers"
)

// ApiKeyAdapter implements api/handlers.ApiKeyStore. Tokens are looked up
// by their SHA-256 hash so the raw bearer value is never persisted,
// mirroring the hashed-secret convention the teacher's auth middleware
// uses for its session tokens.
type ApiKeyAdapter struct {
	db *gorm.DB
}

var _ handlers.ApiKeyStore = (*ApiKeyAdapter)(nil)

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Lookup resolves a bearer token to its owning api-key record.
func (a *ApiKeyAdapter) Lookup(ctx context.Context, token string) (handlers.ApiKeyRecord, bool, error) {
	var row ApiKey
	err := a.db.WithContext(ctx).Where("token_hash = ?", hashToken(token)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return handlers.ApiKeyRecord{}, false, nil
	}
	if err != nil {
		return handlers.ApiKeyRecord{}, false, err
	}
	return handlers.ApiKeyRecord{ID: row.ID, ProjectID: row.ProjectID, Active: row.Active}, true, nil
}
