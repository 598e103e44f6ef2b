// Package services – UserService
//
// UserService maps verified external identities to internal users. The
// conversation engine only ever sees internal user ids; this service is the
// only place that knows about external uids.
package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/domain"
	"github.com/tbourn/go-notes-backend/internal/repo"
)

// ErrEmptyUID is returned when an identity carries no uid.
var ErrEmptyUID = errors.New("identity has no uid")

// UserService resolves and registers users.
type UserService struct {
	DB *gorm.DB
	// AutoRegister creates the internal user on first resolution.
	AutoRegister bool
}

// Resolve returns the internal user for id. Unknown identities are created
// when AutoRegister is set, otherwise ErrUserNotFound is returned. A changed
// email claim is written back.
func (s *UserService) Resolve(ctx context.Context, id domain.Identity) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Resolve", trace.WithAttributes(attribute.String("identity.uid", id.UID)))
	defer span.End()

	if strings.TrimSpace(id.UID) == "" {
		return nil, ErrEmptyUID
	}

	u, err := repo.GetUserByUID(ctx, s.DB, id.UID)
	switch {
	case err == nil:
		if id.Email != "" && id.Email != u.Email {
			if err := repo.UpdateUserEmail(ctx, s.DB, u.ID, id.Email); err != nil {
				return nil, err
			}
			u.Email = id.Email
		}
		return u, nil
	case !isNotFound(err):
		return nil, err
	case !s.AutoRegister:
		return nil, ErrUserNotFound
	}

	u, err = repo.CreateUser(ctx, s.DB, id.UID, id.Email)
	if isDuplicate(err) {
		// Lost a race with a concurrent first request for the same identity.
		return repo.GetUserByUID(ctx, s.DB, id.UID)
	}
	return u, err
}

// Register explicitly creates the internal user for id. Returns
// ErrUserExists if it is already registered.
func (s *UserService) Register(ctx context.Context, id domain.Identity) (*domain.User, error) {
	if strings.TrimSpace(id.UID) == "" {
		return nil, ErrEmptyUID
	}
	u, err := repo.CreateUser(ctx, s.DB, id.UID, id.Email)
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

// Get returns a user by internal id.
func (s *UserService) Get(ctx context.Context, userID string) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// Lookup returns the user registered for an external uid.
func (s *UserService) Lookup(ctx context.Context, uid string) (*domain.User, error) {
	u, err := repo.GetUserByUID(ctx, s.DB, uid)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}
