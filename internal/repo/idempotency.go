package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-notes-backend/internal/domain"
)

// ErrDuplicate indicates a unique-constraint violation.
var ErrDuplicate = errors.New("duplicate")

// IdemKey identifies one Idempotency-Key use: the same header value under a
// different user or scope is a different key.
type IdemKey struct {
	UserID string
	Scope  string
	Key    string
}

func (k IdemKey) blank() bool {
	return strings.TrimSpace(k.UserID) == "" || strings.TrimSpace(k.Scope) == "" || strings.TrimSpace(k.Key) == ""
}

func (k IdemKey) where(db *gorm.DB) *gorm.DB {
	return db.Where("user_id = ? AND scope = ? AND key = ?", k.UserID, k.Scope, k.Key)
}

// LookupIdempotency returns the live record for k, or ErrNotFound when there
// is none or it expired at or before now.
func LookupIdempotency(ctx context.Context, db *gorm.DB, k IdemKey, now time.Time) (*domain.Idempotency, error) {
	if k.blank() {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := k.where(db.WithContext(ctx)).Where("expires_at > ?", now).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RememberIdempotency records that k produced turnID with the given status.
// An expired record for the same key is replaced; a live one yields
// ErrDuplicate and is left untouched.
func RememberIdempotency(ctx context.Context, db *gorm.DB, k IdemKey, turnID string, status int, ttl time.Duration, now time.Time) (*domain.Idempotency, error) {
	if k.blank() {
		return nil, errors.New("idempotency key, scope and user are required")
	}
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    k.UserID,
		Scope:     k.Scope,
		Key:       k.Key,
		TurnID:    turnID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := k.where(tx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes up to limit records that expired at or
// before now and reports how many went.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	ids := db.Model(&domain.Idempotency{}).
		Select("id").
		Where("expires_at <= ?", now).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "expires_at"}}).
		Limit(limit)
	res := db.WithContext(ctx).Where("id IN (?)", ids).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
