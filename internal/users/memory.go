package users

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore はプロセス内に保持する Store 実装です。DATABASE_URL 未設定の開発時とテストで使います。
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*User
	byUsername map[string]string
}

// NewMemoryStore は空の MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*User),
		byUsername: make(map[string]string),
	}
}

func (s *MemoryStore) LookupByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *MemoryStore) LookupByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(user), nil
}

func (s *MemoryStore) Insert(ctx context.Context, user *User) (*User, error) {
	if user == nil {
		return nil, errors.New("user is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUsername[user.Username]; exists {
		return nil, ErrUsernameTaken
	}

	created := clone(user)
	created.ID = uuid.NewString()
	created.CreatedAt = time.Now().UTC()
	s.byID[created.ID] = created
	s.byUsername[created.Username] = created.ID
	return clone(created), nil
}

func (s *MemoryStore) UpdateCredential(ctx context.Context, id, hash, salt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = hash
	user.Salt = salt
	return nil
}

func clone(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
