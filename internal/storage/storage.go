package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hongminglow/solace-be/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// UserStore captures persistence operations needed by handlers and the
// reset token service. Emails are matched case-insensitively; every write
// runs models.User.Validate before touching the backend.
type UserStore interface {
	// CreateUser assigns ID and timestamps and inserts the record.
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	// FindByResetToken only matches while the token's expiry is after now.
	FindByResetToken(ctx context.Context, token string, now time.Time) (models.User, error)
	UpdateUser(ctx context.Context, user models.User) (models.User, error)
	// SetResetToken replaces any outstanding token for the user.
	SetResetToken(ctx context.Context, userID, token string, expiry time.Time) error
	// ConsumeResetToken atomically swaps in passwordHash and clears the reset
	// pair if the token is still live. ErrNotFound otherwise.
	ConsumeResetToken(ctx context.Context, token string, now time.Time, passwordHash string) (models.User, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// PrepareCreate normalizes a new record and checks it against the model
// invariants. Adapters call it before assigning identity.
func PrepareCreate(user models.User) (models.User, error) {
	user.Email = models.NormalizeEmail(user.Email)
	if err := user.Validate(); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// PrepareUpdate is PrepareCreate for existing records.
func PrepareUpdate(user models.User) (models.User, error) {
	if user.ID == "" {
		return models.User{}, ErrNotFound
	}
	return PrepareCreate(user)
}
