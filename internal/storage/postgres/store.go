package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hongminglow/solace-be/internal/models"
	"github.com/hongminglow/solace-be/internal/storage"
)

// Ensure Store satisfies the storage.UserStore interface at compile time.
var _ storage.UserStore = (*Store)(nil)

const uniqueViolation = "23505"

const userColumns = `id, username, email, password_hash, reset_token, reset_token_expiry, created_at, updated_at`

// Store provides Postgres-backed persistence for users.
type Store struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new Store and runs migrations.
func NewUserStore(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases database resources.
func (s *Store) Close(context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping checks that a pooled connection can reach the server.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			email TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			reset_token TEXT,
			reset_token_expiry TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS reset_token TEXT;`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS reset_token_expiry TIMESTAMPTZ;`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW();`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_email_unique_idx ON users (lower(email));`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_reset_token_idx ON users (reset_token) WHERE reset_token IS NOT NULL;`,
		`DO $$ BEGIN
			ALTER TABLE users ADD CONSTRAINT users_reset_token_pair
				CHECK ((reset_token IS NULL) = (reset_token_expiry IS NULL));
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$;`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

// CreateUser inserts a new user row. The unique email index, not a prior
// lookup, decides which of two concurrent signups wins.
func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	user, err := storage.PrepareCreate(user)
	if err != nil {
		return models.User{}, err
	}
	query := `
		INSERT INTO users (id, username, email, password_hash, reset_token, reset_token_expiry)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query,
		uuid.NewString(), user.Username, user.Email, user.PasswordHash, user.ResetToken, user.ResetTokenExpiry)
	created, err := scanUser(row)
	if err != nil {
		return models.User{}, mapWriteError(err)
	}
	return created, nil
}

// FindByEmail fetches a user by email address.
func (s *Store) FindByEmail(ctx context.Context, email string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = $1;`
	row := s.pool.QueryRow(ctx, query, models.NormalizeEmail(email))
	return scanUser(row)
}

// FindByResetToken fetches the owner of a reset token that is still live at now.
func (s *Store) FindByResetToken(ctx context.Context, token string, now time.Time) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE reset_token = $1 AND reset_token_expiry > $2;`
	row := s.pool.QueryRow(ctx, query, token, now)
	return scanUser(row)
}

// UpdateUser rewrites the mutable columns of an existing user.
func (s *Store) UpdateUser(ctx context.Context, user models.User) (models.User, error) {
	user, err := storage.PrepareUpdate(user)
	if err != nil {
		return models.User{}, err
	}
	query := `
		UPDATE users
		SET username = $2, email = $3, password_hash = $4,
			reset_token = $5, reset_token_expiry = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query,
		user.ID, user.Username, user.Email, user.PasswordHash, user.ResetToken, user.ResetTokenExpiry)
	updated, err := scanUser(row)
	if err != nil {
		return models.User{}, mapWriteError(err)
	}
	return updated, nil
}

// SetResetToken stores a reset token and its expiry, replacing any previous one.
func (s *Store) SetResetToken(ctx context.Context, userID, token string, expiry time.Time) error {
	const query = `
		UPDATE users
		SET reset_token = $2, reset_token_expiry = $3, updated_at = NOW()
		WHERE id = $1;`
	tag, err := s.pool.Exec(ctx, query, userID, token, expiry)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ConsumeResetToken sets a new password hash and clears the token in one
// conditional statement, so only one caller can ever match a given token.
func (s *Store) ConsumeResetToken(ctx context.Context, token string, now time.Time, passwordHash string) (models.User, error) {
	if err := models.ValidatePasswordHash(passwordHash); err != nil {
		return models.User{}, err
	}
	query := `
		UPDATE users
		SET password_hash = $3, reset_token = NULL, reset_token_expiry = NULL, updated_at = NOW()
		WHERE reset_token = $1 AND reset_token_expiry > $2
		RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query, token, now, passwordHash)
	return scanUser(row)
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.ErrAlreadyExists
	}
	return err
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.ResetToken, &user.ResetTokenExpiry, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrNotFound
		}
		return models.User{}, err
	}
	return user, nil
}
