package memory

import (
	"context"
	"sync"

	"clinichub-backend/internal/domain"
)

// UserRepository is an in-memory implementation of the user directory
// contract, mirroring the MongoDB repository for tests and local runs.
type UserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

// NewUserRepository creates an empty in-memory user directory
func NewUserRepository() *UserRepository {
	return &UserRepository{
		users: make(map[string]*domain.User),
	}
}

// FindByID returns a user by id, or nil when absent
func (r *UserRepository) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if user, ok := r.users[id]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, nil
}

// Insert stores a new user record
func (r *UserRepository) Insert(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

// UpdateVerificationStatus records the admin's decision on a doctor
// account. Returns false when no such user exists.
func (r *UserRepository) UpdateVerificationStatus(_ context.Context, id, status string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return false, nil
	}
	user.VerificationStatus = status
	return true, nil
}
