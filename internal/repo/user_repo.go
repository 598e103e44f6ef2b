package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/domain"
)

// CreateUser inserts a user for the external identity uid. Returns
// ErrDuplicate if a user with that uid already exists.
func CreateUser(ctx context.Context, db *gorm.DB, uid, email string) (*domain.User, error) {
	u := &domain.User{
		ID:        uuid.NewString(),
		UID:       uid,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by internal id.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByUID fetches a user by external identity reference.
func GetUserByUID(ctx context.Context, db *gorm.DB, uid string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("uid = ?", uid).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUserEmail changes the stored email of a user.
func UpdateUserEmail(ctx context.Context, db *gorm.DB, id, email string) error {
	res := db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Update("email", email)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// isUniqueViolation detects unique-constraint failures across drivers.
// glebarez/sqlite returns plain-text errors; postgres is translated by GORM
// when TranslateError is enabled.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
