// Package storage は認証情報ストア（ユーザー記録の永続化）の抽象化レイヤーを提供します。
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound は指定したメールアドレスのユーザーが存在しない場合に返されます。
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate は同じメールアドレスのユーザーが既に存在する場合に返されます。
	ErrDuplicate = errors.New("user already exists")
)

// User はストアに保存されるユーザー記録です。
// PasswordHash はソルトとコストを内包したハッシュ文字列で、平文は保持しません。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserStore はメールアドレスをキーとしたユーザー記録の永続化を表します。
// メールアドレスは完全一致（大文字小文字を区別）で扱います。
type UserStore interface {
	// FindByEmail は一致するユーザーを返します。存在しない場合は ErrNotFound。
	FindByEmail(ctx context.Context, email string) (User, error)
	// Create はユーザーを新規作成します。同じメールアドレスが存在する場合は ErrDuplicate を返し、上書きはしません。
	Create(ctx context.Context, user User) (User, error)
	// UpdatePasswordHash は既存ユーザーのパスワードハッシュを置き換えます。存在しない場合は ErrNotFound。
	UpdatePasswordHash(ctx context.Context, email string, passwordHash string) error
	// Close は接続を解放します。
	Close(ctx context.Context) error
}
