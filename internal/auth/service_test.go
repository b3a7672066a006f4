package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/melodyverse-auth/internal/logger"
	"github.com/yourusername/melodyverse-auth/internal/mail"
	"github.com/yourusername/melodyverse-auth/internal/storage"
	"github.com/yourusername/melodyverse-auth/internal/storage/memory"
)

type recordingNotifier struct {
	mu      sync.Mutex
	welcome []mail.WelcomeEmail
	err     error
}

func (n *recordingNotifier) NotifyWelcome(ctx context.Context, welcome mail.WelcomeEmail) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.welcome = append(n.welcome, welcome)
	return n.err
}

func (n *recordingNotifier) sent() []mail.WelcomeEmail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]mail.WelcomeEmail(nil), n.welcome...)
}

// brokenStore は全ての操作で失敗するストアです。
type brokenStore struct{}

var errStoreDown = errors.New("store unavailable")

func (brokenStore) FindByEmail(ctx context.Context, email string) (storage.User, error) {
	return storage.User{}, errStoreDown
}

func (brokenStore) Create(ctx context.Context, user storage.User) (storage.User, error) {
	return storage.User{}, errStoreDown
}

func (brokenStore) UpdatePasswordHash(ctx context.Context, email, hash string) error {
	return errStoreDown
}

func (brokenStore) Close(ctx context.Context) error { return nil }

// racingStore は存在確認をすり抜けた後に一意制約で弾かれる状況を再現します。
type racingStore struct {
	*memory.Store
}

func (s racingStore) FindByEmail(ctx context.Context, email string) (storage.User, error) {
	return storage.User{}, storage.ErrNotFound
}

type failingIssuer struct{}

func (failingIssuer) Issue(email, userID string) (string, error) {
	return "", errors.New("signing failed")
}

type serviceFixture struct {
	service  *Service
	store    *memory.Store
	issuer   *JWTIssuer
	notifier *recordingNotifier
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	store := memory.New()
	hasher, err := NewBcryptHasher(bcrypt.MinCost, 4)
	require.NoError(t, err)
	issuer, err := NewJWTIssuer("test-secret", 12*time.Hour)
	require.NoError(t, err)
	notifier := &recordingNotifier{}

	return serviceFixture{
		service:  NewService(store, hasher, issuer, notifier, logger.Nop()),
		store:    store,
		issuer:   issuer,
		notifier: notifier,
	}
}

func requireKind(t *testing.T, err error, kind Kind, message string) {
	t.Helper()
	require.Error(t, err)
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, kind, authErr.Kind)
	assert.Equal(t, message, authErr.Message)
}

func TestServiceSignup(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	err := f.service.Signup(ctx, SignupInput{Name: "Alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)

	user, err := f.store.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
	assert.NotEqual(t, "secret1", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret1")))

	assert.Equal(t, []mail.WelcomeEmail{{Name: "Alice", Email: "alice@example.com"}}, f.notifier.sent())
}

func TestServiceSignupDuplicate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Signup(ctx, SignupInput{Name: "Alice", Email: "alice@example.com", Password: "secret1"}))
	before, err := f.store.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)

	err = f.service.Signup(ctx, SignupInput{Name: "Mallory", Email: "alice@example.com", Password: "other-pass"})
	requireKind(t, err, KindAlreadyExists, MsgUserExists)

	after, err := f.store.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, f.notifier.sent(), 1)
}

func TestServiceSignupConcurrent(t *testing.T) {
	f := newServiceFixture(t)

	const workers = 8
	var created, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.service.Signup(context.Background(), SignupInput{Name: "Alice", Email: "race@example.com", Password: "secret1"})
			switch KindOf(err) {
			case KindAlreadyExists:
				conflicts.Add(1)
			default:
				if err == nil {
					created.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
	assert.Equal(t, 1, f.store.Len())
}

func TestServiceSignupDuplicateAtInsert(t *testing.T) {
	store := memory.New()
	_, err := store.Create(context.Background(), storage.User{Name: "Alice", Email: "alice@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	hasher, err := NewBcryptHasher(bcrypt.MinCost, 1)
	require.NoError(t, err)
	svc := NewService(racingStore{store}, hasher, failingIssuer{}, nil, logger.Nop())

	err = svc.Signup(context.Background(), SignupInput{Name: "Bob", Email: "alice@example.com", Password: "secret1"})
	requireKind(t, err, KindAlreadyExists, MsgUserExists)
}

func TestServiceSignupNotifierFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.notifier.err = errors.New("smtp down")

	err := f.service.Signup(context.Background(), SignupInput{Name: "Alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Len())
}

func TestServiceSignupStoreFailure(t *testing.T) {
	hasher, err := NewBcryptHasher(bcrypt.MinCost, 1)
	require.NoError(t, err)
	svc := NewService(brokenStore{}, hasher, failingIssuer{}, nil, logger.Nop())

	err = svc.Signup(context.Background(), SignupInput{Name: "Alice", Email: "alice@example.com", Password: "secret1"})
	requireKind(t, err, KindInternal, MsgSignupInternal)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestServiceLogin(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.Signup(ctx, SignupInput{Name: "Alice", Email: "alice@example.com", Password: "secret1"}))

	result, err := f.service.Login(ctx, LoginInput{Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", result.Email)
	assert.Equal(t, "Alice", result.Name)

	user, err := f.store.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	claims, err := f.issuer.Parse(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, user.ID, claims.UserID)
}

func TestServiceLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.Signup(ctx, SignupInput{Name: "Alice", Email: "alice@example.com", Password: "secret1"}))

	_, wrongPassword := f.service.Login(ctx, LoginInput{Email: "alice@example.com", Password: "wrong-pass"})
	_, unknownEmail := f.service.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "secret1"})
	_, wrongCase := f.service.Login(ctx, LoginInput{Email: "Alice@example.com", Password: "secret1"})

	for _, err := range []error{wrongPassword, unknownEmail, wrongCase} {
		requireKind(t, err, KindAuthenticationFailed, MsgAuthFailed)
	}
}

func TestServiceLoginInternalErrors(t *testing.T) {
	hasher, err := NewBcryptHasher(bcrypt.MinCost, 1)
	require.NoError(t, err)

	svc := NewService(brokenStore{}, hasher, failingIssuer{}, nil, logger.Nop())
	_, err = svc.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: "secret1"})
	requireKind(t, err, KindInternal, MsgInternal)

	store := memory.New()
	hash, err := hasher.Hash(context.Background(), "secret1")
	require.NoError(t, err)
	_, err = store.Create(context.Background(), storage.User{Name: "Alice", Email: "alice@example.com", PasswordHash: hash})
	require.NoError(t, err)

	svc = NewService(store, hasher, failingIssuer{}, nil, logger.Nop())
	_, err = svc.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: "secret1"})
	requireKind(t, err, KindInternal, MsgInternal)
}

func TestServiceForgotPassword(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.Signup(ctx, SignupInput{Name: "Alice", Email: "alice@example.com", Password: "secret1"}))

	require.NoError(t, f.service.ForgotPassword(ctx, ForgotPasswordInput{Email: "alice@example.com", Password: "newpass"}))

	_, err := f.service.Login(ctx, LoginInput{Email: "alice@example.com", Password: "secret1"})
	requireKind(t, err, KindAuthenticationFailed, MsgAuthFailed)

	result, err := f.service.Login(ctx, LoginInput{Email: "alice@example.com", Password: "newpass"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
}

func TestServiceForgotPasswordUnknownUser(t *testing.T) {
	f := newServiceFixture(t)

	err := f.service.ForgotPassword(context.Background(), ForgotPasswordInput{Email: "ghost@example.com", Password: "newpass"})
	requireKind(t, err, KindNotFound, MsgUserNotFound)
	assert.Equal(t, 0, f.store.Len())
}

func TestServiceForgotPasswordStoreFailure(t *testing.T) {
	hasher, err := NewBcryptHasher(bcrypt.MinCost, 1)
	require.NoError(t, err)
	svc := NewService(brokenStore{}, hasher, failingIssuer{}, nil, logger.Nop())

	err = svc.ForgotPassword(context.Background(), ForgotPasswordInput{Email: "alice@example.com", Password: "newpass"})
	requireKind(t, err, KindInternal, MsgInternal)
}

func TestServiceMultibytePassword(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	password := strings.Repeat("😀", 10)

	require.NoError(t, f.service.Signup(ctx, SignupInput{Name: "Alice", Email: "alice@example.com", Password: password}))

	result, err := f.service.Login(ctx, LoginInput{Email: "alice@example.com", Password: password})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)

	newPassword := strings.Repeat("鍵", 20)
	require.NoError(t, f.service.ForgotPassword(ctx, ForgotPasswordInput{Email: "alice@example.com", Password: newPassword}))
	_, err = f.service.Login(ctx, LoginInput{Email: "alice@example.com", Password: newPassword})
	require.NoError(t, err)
}
