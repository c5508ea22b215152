package database

import (
	"context"
	"time"
)

type memoryUser struct {
	user         User
	passwordHash string
}

// MemoryUserRepo holds a fixed user set in memory. It backs demo mode, where
// no DATABASE_URL is configured.
type MemoryUserRepo struct {
	hasher *Hasher
	users  map[string]memoryUser
}

// NewMemoryUserRepo seeds the two demo accounts.
func NewMemoryUserRepo(hasher *Hasher) *MemoryUserRepo {
	repo := &MemoryUserRepo{
		hasher: hasher,
		users:  make(map[string]memoryUser),
	}
	repo.add("1", "alice", "alice-password")
	repo.add("2", "bob", "bob-password")
	return repo
}

func (r *MemoryUserRepo) add(id, username, password string) {
	r.users[username] = memoryUser{
		user:         User{ID: id, Username: username, CreatedAt: time.Now()},
		passwordHash: r.hasher.Hash(password),
	}
}

func (r *MemoryUserRepo) Authenticate(_ context.Context, username, password string) (*User, error) {
	entry, ok := r.users[username]
	if !ok {
		r.hasher.Equal("", password)
		return nil, ErrInvalidCredentials
	}
	if !r.hasher.Equal(entry.passwordHash, password) {
		return nil, ErrInvalidCredentials
	}
	user := entry.user
	return &user, nil
}
