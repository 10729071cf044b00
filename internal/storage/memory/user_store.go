package memory

import (
	"context"
	"sync"
	"time"

	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage"
)

// UserStore is an in-memory implementation of storage.UserStore.
type UserStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.User
	nextID int64
}

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{
		data: make(map[string]*domain.User),
	}
}

// GetByAddress retrieves a user by address.
func (s *UserStore) GetByAddress(_ context.Context, address string) (*domain.User, error) {
	key := domain.NormalizeAddress(address)

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyUser(u), nil
}

// Create adds a new user. Returns ErrDuplicateKey if exists.
func (s *UserStore) Create(_ context.Context, user *domain.User) (*domain.User, error) {
	if user == nil || domain.NormalizeAddress(user.Address) == "" {
		return nil, storage.ErrInvalidInput
	}
	if user.Status != "" && !user.Status.Valid() {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.NormalizeAddress(user.Address)
	if _, exists := s.data[key]; exists {
		return nil, storage.ErrDuplicateKey
	}

	u := s.insertLocked(key, user)
	return copyUser(u), nil
}

// IncrementSwaps adds one swap to the user, creating it when absent.
func (s *UserStore) IncrementSwaps(_ context.Context, address string) error {
	key := domain.NormalizeAddress(address)
	if key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.data[key]; ok {
		u.Swaps++
		return nil
	}
	s.insertLocked(key, &domain.User{Swaps: 1})
	return nil
}

func (s *UserStore) insertLocked(key string, user *domain.User) *domain.User {
	s.nextID++
	u := copyUser(user)
	u.ID = s.nextID
	u.Address = key
	if u.Status == "" {
		u.Status = domain.UserStatusPending
	}
	u.CreatedAt = time.Now().UTC()
	s.data[key] = u
	return u
}

func copyUser(u *domain.User) *domain.User {
	c := *u
	if u.Name != nil {
		name := *u.Name
		c.Name = &name
	}
	if u.Email != nil {
		email := *u.Email
		c.Email = &email
	}
	return &c
}

var _ storage.UserStore = (*UserStore)(nil)
