// Package memory keeps users in process memory. It backs the test suites
// and DATABASE_URL=memory:// for local runs; nothing survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hongminglow/solace-be/internal/models"
	"github.com/hongminglow/solace-be/internal/storage"
)

var _ storage.UserStore = (*Store)(nil)

// Store is a mutex-guarded map of users with email and token indexes.
type Store struct {
	mu      sync.RWMutex
	users   map[string]models.User
	byEmail map[string]string
	byToken map[string]string
	now     func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:   make(map[string]models.User),
		byEmail: make(map[string]string),
		byToken: make(map[string]string),
		now:     time.Now,
	}
}

// CreateUser stores a new user, rejecting an email that is already taken.
func (s *Store) CreateUser(_ context.Context, user models.User) (models.User, error) {
	user, err := storage.PrepareCreate(user)
	if err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[user.Email]; taken {
		return models.User{}, storage.ErrAlreadyExists
	}
	now := s.now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	user = clone(user)

	s.users[user.ID] = user
	s.byEmail[user.Email] = user.ID
	if user.ResetToken != nil {
		s.byToken[*user.ResetToken] = user.ID
	}
	return clone(user), nil
}

// FindByEmail fetches a user by normalized email.
func (s *Store) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return clone(s.users[id]), nil
}

// FindByResetToken fetches the owner of a reset token that is still live at now.
func (s *Store) FindByResetToken(_ context.Context, token string, now time.Time) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.liveTokenOwner(token, now)
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return clone(user), nil
}

// UpdateUser replaces the mutable fields of an existing user.
func (s *Store) UpdateUser(_ context.Context, user models.User) (models.User, error) {
	user, err := storage.PrepareUpdate(user)
	if err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[user.ID]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	if owner, taken := s.byEmail[user.Email]; taken && owner != user.ID {
		return models.User{}, storage.ErrAlreadyExists
	}
	if user.ResetToken != nil {
		if owner, taken := s.byToken[*user.ResetToken]; taken && owner != user.ID {
			return models.User{}, storage.ErrAlreadyExists
		}
	}

	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = s.now().UTC()
	s.replace(current, clone(user))
	return clone(user), nil
}

// SetResetToken stores a reset token and its expiry, replacing any previous one.
func (s *Store) SetResetToken(_ context.Context, userID, token string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	if owner, taken := s.byToken[token]; taken && owner != userID {
		return storage.ErrAlreadyExists
	}
	next := clone(current)
	exp := expiry.UTC()
	next.ResetToken = &token
	next.ResetTokenExpiry = &exp
	next.UpdatedAt = s.now().UTC()
	s.replace(current, next)
	return nil
}

// ConsumeResetToken sets a new password hash and clears the token under one lock.
func (s *Store) ConsumeResetToken(_ context.Context, token string, now time.Time, passwordHash string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.liveTokenOwner(token, now)
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	next := clone(current)
	next.PasswordHash = passwordHash
	next.ClearResetToken()
	if err := next.Validate(); err != nil {
		return models.User{}, err
	}
	next.UpdatedAt = s.now().UTC()
	s.replace(current, next)
	return clone(next), nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

// liveTokenOwner must be called with mu held.
func (s *Store) liveTokenOwner(token string, now time.Time) (models.User, bool) {
	id, ok := s.byToken[token]
	if !ok {
		return models.User{}, false
	}
	user := s.users[id]
	if user.ResetTokenExpiry == nil || !user.ResetTokenExpiry.After(now) {
		return models.User{}, false
	}
	return user, true
}

// replace swaps a record and keeps the indexes in step. mu must be held.
func (s *Store) replace(old, next models.User) {
	delete(s.byEmail, old.Email)
	if old.ResetToken != nil {
		delete(s.byToken, *old.ResetToken)
	}
	s.users[next.ID] = next
	s.byEmail[next.Email] = next.ID
	if next.ResetToken != nil {
		s.byToken[*next.ResetToken] = next.ID
	}
}

func clone(u models.User) models.User {
	if u.ResetToken != nil {
		token := *u.ResetToken
		u.ResetToken = &token
	}
	if u.ResetTokenExpiry != nil {
		expiry := *u.ResetTokenExpiry
		u.ResetTokenExpiry = &expiry
	}
	return u
}
