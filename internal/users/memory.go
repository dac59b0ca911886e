package users

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore はプロセス内メモリに保存する Store 実装です（開発・テスト用）。
type MemoryStore struct {
	mu    sync.RWMutex
	users []User
}

// NewMemoryStore は空の MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert はユーザーを追加します。
func (s *MemoryStore) Insert(ctx context.Context, user User) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storeError("USER_INSERT_FAILED", err)
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, user)
	return user.ID, nil
}

// FindByEmail はメールアドレスが完全一致するユーザーを返します。
func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (Credential, bool, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, false, storeError("USER_LOOKUP_FAILED", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found Credential
		count int
	)
	for _, u := range s.users {
		if u.Email != email {
			continue
		}
		count++
		found = Credential{ID: u.ID, Name: u.Name, PasswordHash: u.PasswordHash}
	}
	switch count {
	case 0:
		return Credential{}, false, nil
	case 1:
		return found, true, nil
	default:
		return Credential{}, false, ErrAmbiguousEmail
	}
}

// All は保存済みユーザーのコピーを返します。
func (s *MemoryStore) All() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, len(s.users))
	copy(out, s.users)
	return out
}
