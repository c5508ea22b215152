package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrInvalidCredentials covers both unknown usernames and wrong passwords,
// so responses cannot be used to probe which usernames exist.
var ErrInvalidCredentials = errors.New("invalid credentials")

type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
}

// Authenticator validates login credentials. Implemented by UserRepo and
// MemoryUserRepo.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*User, error)
}

// UserRepo reads users from PostgreSQL.
type UserRepo struct {
	db     *DB
	hasher *Hasher
}

func NewUserRepo(db *DB, hasher *Hasher) *UserRepo {
	return &UserRepo{db: db, hasher: hasher}
}

func (r *UserRepo) Authenticate(ctx context.Context, username, password string) (*User, error) {
	var (
		user         User
		passwordHash string
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &passwordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Burn a comparison anyway to keep timing uniform.
		r.hasher.Equal("", password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !r.hasher.Equal(passwordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// CreateUser inserts a user with a hashed password. Used by seeding and
// admin tooling.
func (r *UserRepo) CreateUser(ctx context.Context, id, username, password string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (username) DO NOTHING
	`, id, username, r.hasher.Hash(password))
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}
