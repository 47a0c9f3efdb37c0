package auth

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// DefaultCost is the bcrypt work factor used unless configured otherwise.
const DefaultCost = 12

// Hasher derives and checks bcrypt password hashes. Every bcrypt call holds
// one of a fixed number of slots, so a burst of signups or logins cannot take
// every CPU away from the rest of the server.
type Hasher struct {
	cost  int
	slots *semaphore.Weighted

	// dummyHash is what VerifyAbsent compares against.
	dummyHash []byte
}

// NewHasher validates cost and sizes the worker budget. workers <= 0 means
// one slot per CPU.
func NewHasher(cost, workers int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("solace-absent-account"), cost)
	if err != nil {
		return nil, fmt.Errorf("generate absent-account hash: %w", err)
	}
	return &Hasher{cost: cost, slots: semaphore.NewWeighted(int64(workers)), dummyHash: dummy}, nil
}

// Hash returns a salted bcrypt hash of plaintext.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("wait for hash worker: %w", err)
	}
	defer h.slots.Release(1)

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches hash. A malformed hash is a
// mismatch; the only error is the context ending before a worker frees up.
func (h *Hasher) Verify(ctx context.Context, plaintext, hash string) (bool, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("wait for hash worker: %w", err)
	}
	defer h.slots.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil, nil
}

// VerifyAbsent spends the same work as Verify against a throwaway hash. Login
// calls it for unknown emails so response time does not reveal which
// addresses are registered.
func (h *Hasher) VerifyAbsent(ctx context.Context, plaintext string) error {
	_, err := h.Verify(ctx, plaintext, string(h.dummyHash))
	return err
}
