// Package storagetest is a conformance suite every storage.UserStore adapter
// runs from its own tests.
package storagetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hongminglow/solace-be/internal/models"
	"github.com/hongminglow/solace-be/internal/storage"
)

// Factory returns a ready store. Cleanup is the factory's business.
type Factory func(t *testing.T) storage.UserStore

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.UserStore)
	}{
		{"CreateAndFindByEmail", testCreateAndFind},
		{"DuplicateEmailIgnoresCase", testDuplicateEmail},
		{"ConcurrentCreateSameEmail", testConcurrentCreate},
		{"RejectsInvalidRecords", testRejectsInvalid},
		{"FindByResetTokenHonorsExpiry", testTokenExpiry},
		{"SetResetTokenReplacesPrevious", testTokenReplace},
		{"ConsumeResetTokenOnce", testConsumeOnce},
		{"ConcurrentConsume", testConcurrentConsume},
		{"UpdateUser", testUpdateUser},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// UniqueEmail returns an address that will not collide across runs against a
// shared database.
func UniqueEmail(prefix string) string {
	return fmt.Sprintf("%s%s@example.com", prefix, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// Hash returns a cheap bcrypt hash for fixtures.
func Hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newUser(t *testing.T, email string) models.User {
	return models.User{Username: "ann123", Email: email, PasswordHash: Hash(t, "Secret1!")}
}

func testCreateAndFind(t *testing.T, s storage.UserStore) {
	ctx := context.Background()
	email := UniqueEmail("ann")

	created, err := s.CreateUser(ctx, newUser(t, strings.ToUpper(email)))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, email, created.Email)
	assert.False(t, created.CreatedAt.IsZero())
	assert.False(t, created.UpdatedAt.IsZero())
	assert.False(t, created.HasResetToken())

	found, err := s.FindByEmail(ctx, "  "+strings.ToUpper(email))
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "ann123", found.Username)
	assert.NotEmpty(t, found.PasswordHash)

	_, err = s.FindByEmail(ctx, UniqueEmail("nobody"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDuplicateEmail(t *testing.T, s storage.UserStore) {
	ctx := context.Background()
	email := UniqueEmail("dup")

	_, err := s.CreateUser(ctx, newUser(t, email))
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, newUser(t, strings.ToUpper(email)))
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func testConcurrentCreate(t *testing.T, s storage.UserStore) {
	ctx := context.Background()
	email := UniqueEmail("race")
	user := newUser(t, email)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := user
			if i%2 == 1 {
				u.Email = strings.ToUpper(email)
			}
			_, err := s.CreateUser(ctx, u)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, storage.ErrAlreadyExists):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
}

func testRejectsInvalid(t *testing.T, s storage.UserStore) {
	ctx := context.Background()

	plaintext := newUser(t, UniqueEmail("plain"))
	plaintext.PasswordHash = "Secret1!"
	_, err := s.CreateUser(ctx, plaintext)
	assert.ErrorIs(t, err, models.ErrPasswordNotHash)

	badEmail := newUser(t, "not-an-email")
	_, err = s.CreateUser(ctx, badEmail)
	assert.ErrorIs(t, err, models.ErrInvalidEmail)

	token := "tok"
	unpaired := newUser(t, UniqueEmail("unpaired"))
	unpaired.ResetToken = &token
	_, err = s.CreateUser(ctx, unpaired)
	assert.ErrorIs(t, err, models.ErrResetTokenUnpair)
}

func testTokenExpiry(t *testing.T, s storage.UserStore) {
	ctx := context.Background()
	created, err := s.CreateUser(ctx, newUser(t, UniqueEmail("exp")))
	require.NoError(t, err)

	token := uuid.NewString()
	expiry := time.Now().Add(time.Hour)
	require.NoError(t, s.SetResetToken(ctx, created.ID, token, expiry))

	found, err := s.FindByResetToken(ctx, token, time.Now())
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	require.True(t, found.HasResetToken())
	assert.Equal(t, token, *found.ResetToken)
	assert.WithinDuration(t, expiry, *found.ResetTokenExpiry, time.Second)

	_, err = s.FindByResetToken(ctx, token, expiry.Add(time.Second))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.FindByResetToken(ctx, "wrong-"+token, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, s.SetResetToken(ctx, "ghost", token, expiry), storage.ErrNotFound)
}

func testTokenReplace(t *testing.T, s storage.UserStore) {
	ctx := context.Background()
	created, err := s.CreateUser(ctx, newUser(t, UniqueEmail("replace")))
	require.NoError(t, err)

	first, second := uuid.NewString(), uuid.NewString()
	expiry := time.Now().Add(time.Hour)
	require.NoError(t, s.SetResetToken(ctx, created.ID, first, expiry))
	require.NoError(t, s.SetResetToken(ctx, created.ID, second, expiry))

	_, err = s.FindByResetToken(ctx, first, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	found, err := s.FindByResetToken(ctx, second, time.Now())
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}

func testConsumeOnce(t *testing.T, s storage.UserStore) {
	ctx := context.Background()
	email := UniqueEmail("consume")
	created, err := s.CreateUser(ctx, newUser(t, email))
	require.NoError(t, err)

	token := uuid.NewString()
	require.NoError(t, s.SetResetToken(ctx, created.ID, token, time.Now().Add(time.Hour)))

	newHash := Hash(t, "Another1!")
	updated, err := s.ConsumeResetToken(ctx, token, time.Now(), newHash)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, newHash, updated.PasswordHash)
	assert.False(t, updated.HasResetToken())

	found, err := s.FindByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, newHash, found.PasswordHash)
	assert.False(t, found.HasResetToken())

	_, err = s.ConsumeResetToken(ctx, token, time.Now(), Hash(t, "Third333!"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	expired := uuid.NewString()
	require.NoError(t, s.SetResetToken(ctx, created.ID, expired, time.Now().Add(time.Minute)))
	_, err = s.ConsumeResetToken(ctx, expired, time.Now().Add(2*time.Minute), newHash)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testConcurrentConsume(t *testing.T, s storage.UserStore) {
	ctx := context.Background()
	created, err := s.CreateUser(ctx, newUser(t, UniqueEmail("cc")))
	require.NoError(t, err)

	token := uuid.NewString()
	require.NoError(t, s.SetResetToken(ctx, created.ID, token, time.Now().Add(time.Hour)))
	hash := Hash(t, "Another1!")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeResetToken(ctx, token, time.Now(), hash)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, storage.ErrNotFound)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func testUpdateUser(t *testing.T, s storage.UserStore) {
	ctx := context.Background()
	a, err := s.CreateUser(ctx, newUser(t, UniqueEmail("upda")))
	require.NoError(t, err)
	b, err := s.CreateUser(ctx, newUser(t, UniqueEmail("updb")))
	require.NoError(t, err)

	a.Username = "annie"
	updated, err := s.UpdateUser(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "annie", updated.Username)
	assert.False(t, updated.UpdatedAt.Before(a.UpdatedAt))

	moved := UniqueEmail("moved")
	a.Email = strings.ToUpper(moved)
	updated, err = s.UpdateUser(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, moved, updated.Email)
	found, err := s.FindByEmail(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)

	b.Email = moved
	_, err = s.UpdateUser(ctx, b)
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	ghost := newUser(t, UniqueEmail("ghost"))
	ghost.ID = "ghost"
	_, err = s.UpdateUser(ctx, ghost)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	b.Email = models.NormalizeEmail(b.Email)
	b.PasswordHash = "plaintext"
	_, err = s.UpdateUser(ctx, b)
	assert.ErrorIs(t, err, models.ErrPasswordNotHash)
}
