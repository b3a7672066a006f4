// Package memory はプロセス内メモリに保持する UserStore 実装です。
// テストと MONGO_URI 未設定時の開発用に使用します。
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/melodyverse-auth/internal/storage"
)

var _ storage.UserStore = (*Store)(nil)

// Store はメールアドレスをキーとしたインメモリのユーザーストアです。
type Store struct {
	mu    sync.RWMutex
	users map[string]storage.User
	now   func() time.Time
}

// New は空の Store を作成します。
func New() *Store {
	return &Store{
		users: make(map[string]storage.User),
		now:   time.Now,
	}
}

// FindByEmail はユーザーを取得します。
func (s *Store) FindByEmail(ctx context.Context, email string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[email]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return user, nil
}

// Create はユーザーを作成します。存在確認と挿入は同じロック内で行います。
func (s *Store) Create(ctx context.Context, user storage.User) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Email]; exists {
		return storage.User{}, storage.ErrDuplicate
	}

	now := s.now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	s.users[user.Email] = user
	return user, nil
}

// UpdatePasswordHash はパスワードハッシュを更新します。
func (s *Store) UpdatePasswordHash(ctx context.Context, email string, passwordHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[email]
	if !ok {
		return storage.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = s.now().UTC()
	s.users[email] = user
	return nil
}

// Len は保存されているユーザー数を返します。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Close は何もしません。
func (s *Store) Close(ctx context.Context) error {
	return nil
}
