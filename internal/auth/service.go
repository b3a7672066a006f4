package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/melodyverse-auth/internal/logger"
	"github.com/yourusername/melodyverse-auth/internal/mail"
	"github.com/yourusername/melodyverse-auth/internal/storage"
)

// WelcomeNotifier はサインアップ完了の通知を受け取ります。
type WelcomeNotifier interface {
	NotifyWelcome(ctx context.Context, welcome mail.WelcomeEmail) error
}

// SignupInput はサインアップの入力です。
type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput はログインの入力です。
type LoginInput struct {
	Email    string
	Password string
}

// LoginResult はログイン成功時の結果です。
type LoginResult struct {
	Token string
	Email string
	Name  string
}

// ForgotPasswordInput はパスワード再設定の入力です。Password は新しいパスワードです。
type ForgotPasswordInput struct {
	Email    string
	Password string
}

// Service はサインアップ・ログイン・パスワード再設定のフローを実装します。
// リクエスト間で共有する状態はストアのみで、各メソッドは並行に呼び出せます。
type Service struct {
	users    storage.UserStore
	hasher   PasswordHasher
	tokens   TokenIssuer
	notifier WelcomeNotifier
	logger   *logger.Logger
}

// NewService は Service を作成します。notifier は nil でも構いません。
func NewService(users storage.UserStore, hasher PasswordHasher, tokens TokenIssuer, notifier WelcomeNotifier, log *logger.Logger) *Service {
	return &Service{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		logger:   log,
	}
}

// Signup はユーザーを新規登録します。
func (s *Service) Signup(ctx context.Context, in SignupInput) error {
	s.logger.Debug("Auth service: starting signup", "email", in.Email)

	_, err := s.users.FindByEmail(ctx, in.Email)
	switch {
	case err == nil:
		s.logger.Info("Auth service: user already exists", "email", in.Email)
		return newError(KindAlreadyExists, MsgUserExists, nil)
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Error("Auth service: failed to get user by email", "email", in.Email, "error", err.Error())
		return newError(KindInternal, MsgSignupInternal, err)
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		s.logger.Error("Auth service: failed to hash password", "email", in.Email, "error", err.Error())
		return newError(KindInternal, MsgSignupInternal, err)
	}

	user, err := s.users.Create(ctx, storage.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
	})
	if err != nil {
		// 同時サインアップで負けた側はストアの一意制約で弾かれる
		if errors.Is(err, storage.ErrDuplicate) {
			s.logger.Info("Auth service: concurrent signup lost uniqueness race", "email", in.Email)
			return newError(KindAlreadyExists, MsgUserExists, nil)
		}
		s.logger.Error("Auth service: failed to create user", "email", in.Email, "error", err.Error())
		return newError(KindInternal, MsgSignupInternal, err)
	}

	s.logger.Info("Auth service: signup completed", "email", user.Email, "user_id", user.ID)
	s.notifyWelcome(ctx, user)
	return nil
}

// Login は認証情報を照合し、成功時にトークンを発行します。
// メールアドレスが存在しない場合とパスワード不一致の場合は同じエラーを返します。
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	s.logger.Debug("Auth service: starting login", "email", in.Email)

	user, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Info("Auth service: login rejected", "email", in.Email, "reason", "unknown email")
			return LoginResult{}, newError(KindAuthenticationFailed, MsgAuthFailed, err)
		}
		s.logger.Error("Auth service: failed to get user by email", "email", in.Email, "error", err.Error())
		return LoginResult{}, newError(KindInternal, MsgInternal, err)
	}

	ok, err := s.hasher.Verify(ctx, in.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error("Auth service: failed to verify password", "email", in.Email, "error", err.Error())
		return LoginResult{}, newError(KindInternal, MsgInternal, err)
	}
	if !ok {
		s.logger.Info("Auth service: login rejected", "email", in.Email, "reason", "password mismatch")
		return LoginResult{}, newError(KindAuthenticationFailed, MsgAuthFailed, nil)
	}

	token, err := s.tokens.Issue(user.Email, user.ID)
	if err != nil {
		s.logger.Error("Auth service: failed to issue token", "email", in.Email, "error", err.Error())
		return LoginResult{}, newError(KindInternal, MsgInternal, err)
	}

	s.logger.Info("Auth service: login succeeded", "email", in.Email, "user_id", user.ID)
	return LoginResult{
		Token: token,
		Email: in.Email,
		Name:  user.Name,
	}, nil
}

// ForgotPassword は既存ユーザーのパスワードを新しいものに置き換えます。
// 存在しないメールアドレスには KindNotFound を返します（ログインと異なり列挙対策はしていません）。
func (s *Service) ForgotPassword(ctx context.Context, in ForgotPasswordInput) error {
	s.logger.Debug("Auth service: starting password reset", "email", in.Email)

	if _, err := s.users.FindByEmail(ctx, in.Email); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Info("Auth service: password reset for unknown user", "email", in.Email)
			return newError(KindNotFound, MsgUserNotFound, err)
		}
		s.logger.Error("Auth service: failed to get user by email", "email", in.Email, "error", err.Error())
		return newError(KindInternal, MsgInternal, err)
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		s.logger.Error("Auth service: failed to hash password", "email", in.Email, "error", err.Error())
		return newError(KindInternal, MsgInternal, err)
	}

	if err := s.users.UpdatePasswordHash(ctx, in.Email, hash); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return newError(KindNotFound, MsgUserNotFound, err)
		}
		s.logger.Error("Auth service: failed to update password", "email", in.Email, "error", err.Error())
		return newError(KindInternal, MsgInternal, fmt.Errorf("update password: %w", err))
	}

	s.logger.Info("Auth service: password changed", "email", in.Email)
	return nil
}

// notifyWelcome の失敗はサインアップ結果に影響させない。
func (s *Service) notifyWelcome(ctx context.Context, user storage.User) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.NotifyWelcome(ctx, mail.WelcomeEmail{Name: user.Name, Email: user.Email})
	if err != nil {
		s.logger.Warn("Auth service: failed to send welcome notification", "email", user.Email, "error", err.Error())
	}
}
