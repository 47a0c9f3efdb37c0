package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hongminglow/solace-be/internal/models"
	"github.com/hongminglow/solace-be/internal/storage"
)

// DefaultResetTokenTTL is how long a password reset link stays usable.
const DefaultResetTokenTTL = time.Hour

// resetTokenBytes is the entropy of a reset token before hex encoding.
const resetTokenBytes = 32

// ErrInvalidOrExpired covers every way a reset token can fail: unknown,
// expired, already used or superseded. Callers must not be able to tell
// these apart.
var ErrInvalidOrExpired = errors.New("invalid or expired reset token")

// ResetTokens issues and redeems single-use password reset tokens. Only the
// SHA-256 digest of a token is persisted; the plaintext exists in the email.
type ResetTokens struct {
	store  storage.UserStore
	hasher *Hasher
	ttl    time.Duration
	now    func() time.Time
}

// ResetOption customizes a ResetTokens.
type ResetOption func(*ResetTokens)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ResetOption {
	return func(r *ResetTokens) { r.now = now }
}

// NewResetTokens wires the service. ttl <= 0 falls back to DefaultResetTokenTTL.
func NewResetTokens(store storage.UserStore, hasher *Hasher, ttl time.Duration, opts ...ResetOption) *ResetTokens {
	if ttl <= 0 {
		ttl = DefaultResetTokenTTL
	}
	r := &ResetTokens{store: store, hasher: hasher, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL returns the lifetime given to newly issued tokens.
func (r *ResetTokens) TTL() time.Duration { return r.ttl }

// Issue creates a token for user, replacing any token still outstanding.
func (r *ResetTokens) Issue(ctx context.Context, user models.User) (string, time.Time, error) {
	token, err := generateResetToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate reset token: %w", err)
	}
	expiry := r.now().UTC().Add(r.ttl)
	if err := r.store.SetResetToken(ctx, user.ID, DigestResetToken(token), expiry); err != nil {
		return "", time.Time{}, fmt.Errorf("store reset token: %w", err)
	}
	return token, expiry, nil
}

// Consume sets newPassword for the owner of token and burns the token.
func (r *ResetTokens) Consume(ctx context.Context, token, newPassword string) (models.User, error) {
	if token == "" {
		return models.User{}, ErrInvalidOrExpired
	}
	digest := DigestResetToken(token)

	// Cheap lookup first so bogus tokens never cost a bcrypt round.
	if _, err := r.store.FindByResetToken(ctx, digest, r.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.User{}, ErrInvalidOrExpired
		}
		return models.User{}, fmt.Errorf("find reset token: %w", err)
	}

	hash, err := r.hasher.Hash(ctx, newPassword)
	if err != nil {
		return models.User{}, err
	}

	user, err := r.store.ConsumeResetToken(ctx, digest, r.now(), hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.User{}, ErrInvalidOrExpired
		}
		return models.User{}, fmt.Errorf("consume reset token: %w", err)
	}
	return user, nil
}

// DigestResetToken is the stored form of a reset token.
func DigestResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
