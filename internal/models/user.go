package models

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	UsernameMinLength = 3
	UsernameMaxLength = 30
	PasswordMinLength = 8
	// PasswordMaxLength is bcrypt's input limit in bytes.
	PasswordMaxLength = 72
)

var (
	ErrUsernameLength   = errors.New("username must be between 3 and 30 characters")
	ErrInvalidEmail     = errors.New("please provide a valid email address")
	ErrPasswordLength   = errors.New("password must be between 8 and 72 bytes long (accented letters and emoji count as more than one)")
	ErrPasswordNotHash  = errors.New("password hash is not a bcrypt hash")
	ErrResetTokenUnpair = errors.New("reset token and expiry must be set together")
)

var emailPattern = regexp.MustCompile(`^\w+([.-]?\w+)*@\w+([.-]?\w+)*(\.\w{2,3})+$`)

// User captures application-facing fields for an account holder.
type User struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	ResetToken       *string    `json:"-"`
	ResetTokenExpiry *time.Time `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// NormalizeEmail trims and lower-cases an address so lookups and the
// uniqueness constraint agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateUsername checks the trimmed length in characters.
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(username))
	if n < UsernameMinLength || n > UsernameMaxLength {
		return ErrUsernameLength
	}
	return nil
}

// ValidateEmail expects an already normalized address.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword applies the plaintext policy shared by signup and reset.
func ValidatePassword(password string) error {
	if len(password) < PasswordMinLength || len(password) > PasswordMaxLength || !utf8.ValidString(password) {
		return ErrPasswordLength
	}
	return nil
}

// ValidatePasswordHash rejects anything that is not a bcrypt hash, which keeps
// plaintext from ever reaching a store.
func ValidatePasswordHash(hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return ErrPasswordNotHash
	}
	return nil
}

// HasResetToken reports whether a reset request is outstanding.
func (u User) HasResetToken() bool {
	return u.ResetToken != nil && u.ResetTokenExpiry != nil
}

// ClearResetToken drops the reset pair.
func (u *User) ClearResetToken() {
	u.ResetToken = nil
	u.ResetTokenExpiry = nil
}

// Validate checks the record-level invariants every store enforces before
// persisting: field constraints, a real password hash and the reset pair.
func (u User) Validate() error {
	if err := ValidateUsername(u.Username); err != nil {
		return err
	}
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	if err := ValidatePasswordHash(u.PasswordHash); err != nil {
		return err
	}
	if (u.ResetToken == nil) != (u.ResetTokenExpiry == nil) {
		return ErrResetTokenUnpair
	}
	return nil
}
